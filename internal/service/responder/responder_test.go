package responder_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/zhoulihan/workdesk/backend/internal/model/workorder"
	"github.com/zhoulihan/workdesk/backend/internal/service/responder"
)

// scriptedBackend replays a fixed sequence of chunks, optionally ending with
// an error instead of a clean close.
type scriptedBackend struct {
	chunks   []string
	finalErr error
	startErr error
}

func (b *scriptedBackend) Stream(ctx context.Context, _ workorder.Ticket, _ []workorder.Message, _ string) (*schema.StreamReader[*schema.Message], error) {
	if b.startErr != nil {
		return nil, b.startErr
	}
	reader, writer := schema.Pipe[*schema.Message](len(b.chunks) + 1)
	go func() {
		defer writer.Close()
		for _, c := range b.chunks {
			if closed := writer.Send(schema.AssistantMessage(c, nil), nil); closed {
				return
			}
		}
		if b.finalErr != nil {
			writer.Send(nil, b.finalErr)
		}
	}()
	return reader, nil
}

func collect(t *testing.T, s *responder.Session) []responder.Event {
	t.Helper()
	var events []responder.Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("timed out waiting for session events")
		}
	}
}

func TestSessionDeltaOrderAndAccumulation(t *testing.T) {
	r := responder.New(&scriptedBackend{chunks: []string{"A", "B", "C"}})

	s, err := r.Start(context.Background(), workorder.Ticket{OrderID: "ord1"}, nil, "hi")
	if err != nil {
		t.Fatalf("Start err: %v", err)
	}

	events := collect(t, s)
	if len(events) != 4 {
		t.Fatalf("unexpected event count: %d", len(events))
	}
	for i, want := range []string{"A", "B", "C"} {
		if events[i].Kind != responder.EventDelta || events[i].Delta != want {
			t.Fatalf("event %d: got %+v, want delta %q", i, events[i], want)
		}
	}
	if events[3].Kind != responder.EventDone {
		t.Fatalf("expected Done terminator, got %+v", events[3])
	}
	if got := s.Accumulated(); got != "ABC" {
		t.Fatalf("unexpected accumulation: got %q want %q", got, "ABC")
	}
}

func TestSessionBackendError(t *testing.T) {
	backendErr := errors.New("upstream exploded")
	r := responder.New(&scriptedBackend{chunks: []string{"partial"}, finalErr: backendErr})

	s, err := r.Start(context.Background(), workorder.Ticket{OrderID: "ord1"}, nil, "hi")
	if err != nil {
		t.Fatalf("Start err: %v", err)
	}

	events := collect(t, s)
	last := events[len(events)-1]
	if last.Kind != responder.EventError {
		t.Fatalf("expected error terminator, got %+v", last)
	}
	if s.Accumulated() != "partial" {
		t.Fatalf("partial text lost: %q", s.Accumulated())
	}
}

func TestSessionRateLimitMidStream(t *testing.T) {
	r := responder.New(&scriptedBackend{
		chunks:   []string{"A"},
		finalErr: errors.New("429 Too Many Requests"),
	})

	s, err := r.Start(context.Background(), workorder.Ticket{OrderID: "ord1"}, nil, "hi")
	if err != nil {
		t.Fatalf("Start err: %v", err)
	}

	events := collect(t, s)
	last := events[len(events)-1]
	if last.Kind != responder.EventRateLimited {
		t.Fatalf("expected rate-limit terminator, got %+v", last)
	}
	for _, ev := range events {
		if ev.Kind == responder.EventDone {
			t.Fatal("rate-limited stream must not emit Done")
		}
	}
}

func TestStartRateLimited(t *testing.T) {
	r := responder.New(&scriptedBackend{startErr: errors.New("rate limit exceeded")})

	_, err := r.Start(context.Background(), workorder.Ticket{OrderID: "ord1"}, nil, "hi")
	if !errors.Is(err, responder.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestSessionCancel(t *testing.T) {
	// An unbuffered pipe so the producer blocks until the consumer reads.
	reader, writer := schema.Pipe[*schema.Message](0)
	backend := &pipeBackend{reader: reader}
	r := responder.New(backend)

	s, err := r.Start(context.Background(), workorder.Ticket{OrderID: "ord1"}, nil, "hi")
	if err != nil {
		t.Fatalf("Start err: %v", err)
	}

	writer.Send(schema.AssistantMessage("A", nil), nil)
	waitForDelta(t, s)

	s.Cancel()
	s.Cancel() // safe to repeat

	// The producer may still push; the session must swallow it silently.
	writer.Send(schema.AssistantMessage("B", nil), nil)
	writer.Close()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-s.Events():
			if !ok {
				if got := s.Accumulated(); got != "A" {
					t.Fatalf("buffer changed after cancel: %q", got)
				}
				return
			}
		case <-deadline:
			t.Fatal("session did not settle after cancel")
		}
	}
}

type pipeBackend struct {
	reader *schema.StreamReader[*schema.Message]
}

func (b *pipeBackend) Stream(context.Context, workorder.Ticket, []workorder.Message, string) (*schema.StreamReader[*schema.Message], error) {
	return b.reader, nil
}

func waitForDelta(t *testing.T, s *responder.Session) {
	t.Helper()
	select {
	case ev := <-s.Events():
		if ev.Kind != responder.EventDelta {
			t.Fatalf("expected delta, got %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delta")
	}
}

func TestIsRateLimited(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{responder.ErrRateLimited, true},
		{errors.New("HTTP 429"), true},
		{errors.New("Rate Limit reached"), true},
		{errors.New("too many requests"), true},
		{errors.New("connection refused"), false},
	}
	for _, tc := range cases {
		if got := responder.IsRateLimited(tc.err); got != tc.want {
			t.Errorf("IsRateLimited(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

package responder

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cloudwego/eino/schema"

	"github.com/zhoulihan/workdesk/backend/internal/model/workorder"
)

// ErrRateLimited marks backend throttling. It is not a hard failure: the
// caller escalates the work order to manual handling instead.
var ErrRateLimited = errors.New("responder backend rate limited")

// EventKind discriminates stream observations.
type EventKind int

const (
	// EventDelta carries one text chunk in generation order.
	EventDelta EventKind = iota
	// EventRateLimited ends the stream without Done; the order escalates.
	EventRateLimited
	// EventError ends the stream; the partial reply stays, the user may retry.
	EventError
	// EventDone marks normal completion.
	EventDone
)

// Event is one observation from an automated reply stream.
type Event struct {
	Kind  EventKind
	Delta string // set for EventDelta
	Err   error  // set for EventError
}

// Backend produces the raw token stream for one automated reply.
type Backend interface {
	Stream(ctx context.Context, ticket workorder.Ticket, history []workorder.Message, userMessage string) (*schema.StreamReader[*schema.Message], error)
}

// Responder turns backend token streams into cancellable reply sessions.
type Responder struct {
	backend Backend
}

// New wraps a backend.
func New(backend Backend) *Responder {
	return &Responder{backend: backend}
}

// Start opens one reply session for the given work order. The session is
// lazy, finite and non-restartable: once its event channel is drained or the
// session is cancelled, a fresh Start is required for another reply.
func (r *Responder) Start(ctx context.Context, ticket workorder.Ticket, history []workorder.Message, userMessage string) (*Session, error) {
	ctx, cancel := context.WithCancel(ctx)

	stream, err := r.backend.Stream(ctx, ticket, history, userMessage)
	if err != nil {
		cancel()
		if IsRateLimited(err) {
			return nil, ErrRateLimited
		}
		return nil, err
	}

	s := &Session{
		events: make(chan Event, 16),
		cancel: cancel,
	}
	go s.consume(stream)
	return s, nil
}

// Session is one in-flight automated reply. Events arrive in generation
// order; the accumulated buffer only ever grows.
type Session struct {
	events    chan Event
	cancel    context.CancelFunc
	cancelled atomic.Bool

	mu  sync.Mutex
	buf strings.Builder
}

// Events yields the session's observations. The channel closes when the
// stream ends for any reason.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Accumulated returns the text received so far.
func (s *Session) Accumulated() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

// Cancel stops upstream consumption. The partial buffer is frozen as-is;
// nothing is rolled back. Safe to call more than once.
func (s *Session) Cancel() {
	if s.cancelled.CompareAndSwap(false, true) {
		s.cancel()
	}
}

func (s *Session) consume(stream *schema.StreamReader[*schema.Message]) {
	defer close(s.events)
	defer stream.Close()
	defer s.cancel()

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			if !s.cancelled.Load() {
				s.events <- Event{Kind: EventDone}
			}
			return
		}
		if err != nil {
			if s.cancelled.Load() || errors.Is(err, context.Canceled) {
				return
			}
			if IsRateLimited(err) {
				s.events <- Event{Kind: EventRateLimited}
				return
			}
			s.events <- Event{Kind: EventError, Err: err}
			return
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		if s.cancelled.Load() {
			return
		}

		s.mu.Lock()
		s.buf.WriteString(chunk.Content)
		s.mu.Unlock()

		s.events <- Event{Kind: EventDelta, Delta: chunk.Content}
	}
}

// IsRateLimited reports whether the backend signalled throttling.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests")
}

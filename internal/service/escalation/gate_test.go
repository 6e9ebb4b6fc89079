package escalation_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zhoulihan/workdesk/backend/internal/model/workorder"
	"github.com/zhoulihan/workdesk/backend/internal/service/escalation"
	"github.com/zhoulihan/workdesk/backend/internal/store"
)

type countingNotifier struct {
	mu    sync.Mutex
	calls []escalation.Notification
	err   error
}

func (n *countingNotifier) Notify(_ context.Context, notification escalation.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notification)
	return n.err
}

func (n *countingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

func seedTicket(t *testing.T, s store.TicketStore, orderID string) {
	t.Helper()
	err := s.CreateTicket(context.Background(), workorder.Ticket{
		OrderID:     orderID,
		UserID:      "u1",
		Category:    "app",
		Description: "help",
		Status:      workorder.StatusProcessing,
		Tier:        "team",
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreateTicket err: %v", err)
	}
}

func TestEscalateOnce(t *testing.T) {
	s := store.NewMemoryStore()
	seedTicket(t, s, "ord1")
	notifier := &countingNotifier{}
	gate := escalation.NewGate(s, notifier, nil)
	ctx := context.Background()

	switched, err := gate.Escalate(ctx, "ord1", escalation.ReasonUserRequest)
	if err != nil {
		t.Fatalf("Escalate err: %v", err)
	}
	if !switched {
		t.Fatal("expected first escalation to switch")
	}

	got, _ := s.GetTicket(ctx, "ord1")
	if !got.ManualHandling.IsManuallyHandled || got.ManualHandling.HandlingTime == nil {
		t.Fatalf("manual handling not recorded: %+v", got.ManualHandling)
	}

	// Second trigger is a no-op: no second notification, no error.
	switched, err = gate.Escalate(ctx, "ord1", escalation.ReasonRateLimited)
	if err != nil {
		t.Fatalf("second Escalate err: %v", err)
	}
	if switched {
		t.Fatal("expected second escalation to be a no-op")
	}
	if notifier.count() != 1 {
		t.Fatalf("expected exactly one notification, got %d", notifier.count())
	}
	if notifier.calls[0].OrderID != "ord1" || !notifier.calls[0].IsEscalation {
		t.Fatalf("unexpected notification: %+v", notifier.calls[0])
	}
	if notifier.calls[0].Tier != "team" {
		t.Fatalf("tier not propagated: %+v", notifier.calls[0])
	}
}

func TestEscalateNotifyFailureStillCommits(t *testing.T) {
	s := store.NewMemoryStore()
	seedTicket(t, s, "ord1")
	notifier := &countingNotifier{err: errors.New("webhook down")}
	gate := escalation.NewGate(s, notifier, nil)
	ctx := context.Background()

	switched, err := gate.Escalate(ctx, "ord1", escalation.ReasonUserRequest)
	if !switched {
		t.Fatal("expected the switch to commit")
	}
	if err == nil {
		t.Fatal("expected notification failure to surface")
	}

	got, _ := s.GetTicket(ctx, "ord1")
	if !got.ManualHandling.IsManuallyHandled {
		t.Fatal("notification failure must not revert the switch")
	}

	// The switch already happened; no retry, no duplicate alert.
	if _, err := gate.Escalate(ctx, "ord1", escalation.ReasonUserRequest); err != nil {
		t.Fatalf("repeat Escalate err: %v", err)
	}
	if notifier.count() != 1 {
		t.Fatalf("expected exactly one delivery attempt, got %d", notifier.count())
	}
}

func TestEscalateMissingOrder(t *testing.T) {
	gate := escalation.NewGate(store.NewMemoryStore(), &countingNotifier{}, nil)

	if _, err := gate.Escalate(context.Background(), "missing", escalation.ReasonUserRequest); !errors.Is(err, workorder.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestEvaluatePolicy(t *testing.T) {
	s := store.NewMemoryStore()
	seedTicket(t, s, "ord1")
	notifier := &countingNotifier{}

	// A policy that refuses everything.
	gate := escalation.NewGate(s, notifier, func(escalation.Trigger) bool { return false })

	trigger := escalation.Trigger{
		Ticket: workorder.Ticket{OrderID: "ord1"},
		Reason: escalation.ReasonUserRequest,
	}
	switched, err := gate.Evaluate(context.Background(), trigger)
	if err != nil {
		t.Fatalf("Evaluate err: %v", err)
	}
	if switched || notifier.count() != 0 {
		t.Fatal("policy rejection must not escalate")
	}

	gate = escalation.NewGate(s, notifier, escalation.DefaultPolicy)
	switched, err = gate.Evaluate(context.Background(), trigger)
	if err != nil {
		t.Fatalf("Evaluate err: %v", err)
	}
	if !switched || notifier.count() != 1 {
		t.Fatal("default policy should escalate on user request")
	}
}

func TestEscalateNilNotifier(t *testing.T) {
	s := store.NewMemoryStore()
	seedTicket(t, s, "ord1")
	gate := escalation.NewGate(s, nil, nil)

	switched, err := gate.Escalate(context.Background(), "ord1", escalation.ReasonRateLimited)
	if err != nil {
		t.Fatalf("Escalate err: %v", err)
	}
	if !switched {
		t.Fatal("expected switch without notifier")
	}
}

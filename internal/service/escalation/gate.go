package escalation

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/zhoulihan/workdesk/backend/internal/model/workorder"
	"github.com/zhoulihan/workdesk/backend/internal/store"
)

// Reason labels why a work order left automated handling.
type Reason string

const (
	ReasonUserRequest Reason = "user_request"
	ReasonRateLimited Reason = "rate_limited"
)

// Notification is the payload handed to the notification transport.
type Notification struct {
	OrderID      string
	Category     string
	Description  string
	UserID       string
	Tier         string
	Reason       Reason
	IsEscalation bool
}

// Notifier delivers operator notifications. A failed delivery is surfaced to
// the caller once and never retried here; duplicate external alerts are worse
// than a missed one.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Trigger bundles the state a policy inspects when deciding on hand-off.
type Trigger struct {
	Ticket  workorder.Ticket
	Message *workorder.Message
	Reason  Reason
}

// TriggerPolicy decides whether a trigger warrants hand-off to a human. All
// escalation reasons funnel through one policy so new triggers do not grow
// new call sites.
type TriggerPolicy func(Trigger) bool

// DefaultPolicy escalates on explicit user requests and backend throttling.
func DefaultPolicy(t Trigger) bool {
	switch t.Reason {
	case ReasonUserRequest, ReasonRateLimited:
		return true
	}
	return false
}

// Gate owns the automated-to-escalated transition for every work order. The
// transition is one-way for the life of the order and fires the operator
// notification at most once, even when the order is later reopened.
type Gate struct {
	store    store.TicketStore
	notifier Notifier
	policy   TriggerPolicy

	mu sync.Mutex
}

// NewGate builds a gate. A nil policy selects DefaultPolicy; a nil notifier
// skips delivery but still records the transition.
func NewGate(st store.TicketStore, notifier Notifier, policy TriggerPolicy) *Gate {
	if policy == nil {
		policy = DefaultPolicy
	}
	return &Gate{store: st, notifier: notifier, policy: policy}
}

// Evaluate applies the policy and escalates when it matches. It reports
// whether this call performed the transition.
func (g *Gate) Evaluate(ctx context.Context, trigger Trigger) (bool, error) {
	if !g.policy(trigger) {
		return false, nil
	}
	return g.Escalate(ctx, trigger.Ticket.OrderID, trigger.Reason)
}

// Escalate flips the work order to manual handling and notifies the operator
// channel. Calling it again after the flip is a no-op success. A notification
// failure is returned for visibility but the flip still stands.
func (g *Gate) Escalate(ctx context.Context, orderID string, reason Reason) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, err := g.store.GetTicket(ctx, orderID)
	if err != nil {
		return false, err
	}
	if t.ManualHandling.IsManuallyHandled {
		return false, nil
	}

	now := time.Now().UTC()
	handling := workorder.ManualHandling{IsManuallyHandled: true, HandlingTime: &now}
	if err := g.store.UpdateTicket(ctx, orderID, store.TicketUpdate{ManualHandling: &handling}); err != nil {
		return false, err
	}

	log.Printf("[escalation] order=%s escalated to manual handling, reason=%s", orderID, reason)

	if g.notifier == nil {
		return true, nil
	}
	if err := g.notifier.Notify(ctx, Notification{
		OrderID:      t.OrderID,
		Category:     t.Category,
		Description:  t.Description,
		UserID:       t.UserID,
		Tier:         t.Tier,
		Reason:       reason,
		IsEscalation: true,
	}); err != nil {
		return true, fmt.Errorf("escalated but notification failed: %w", err)
	}
	return true, nil
}

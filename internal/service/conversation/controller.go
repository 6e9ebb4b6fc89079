package conversation

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhoulihan/workdesk/backend/internal/model/user"
	"github.com/zhoulihan/workdesk/backend/internal/model/workorder"
	"github.com/zhoulihan/workdesk/backend/internal/service/escalation"
	"github.com/zhoulihan/workdesk/backend/internal/service/responder"
	"github.com/zhoulihan/workdesk/backend/internal/store"
)

// botAuthorID marks dialog entries written by the automated responder.
const botAuthorID = "robot"

// Controller orchestrates dialog appends, automated reply streams and
// escalation for work orders. It is the only component that mutates a dialog
// or the gate state, and it serializes every mutation per order.
type Controller struct {
	store     store.TicketStore
	responder *responder.Responder
	gate      *escalation.Gate

	mu     sync.Mutex
	states map[string]*orderState
}

// New builds a controller. A nil responder disables automated replies.
func New(st store.TicketStore, resp *responder.Responder, gate *escalation.Gate) *Controller {
	return &Controller{
		store:     st,
		responder: resp,
		gate:      gate,
		states:    make(map[string]*orderState),
	}
}

// orderState serializes mutations for one work order and tracks its single
// in-flight reply stream.
type orderState struct {
	mu     sync.Mutex
	active *streamRun
}

// caller holds mu. After this returns the run's fence is broken: no further
// delta from it reaches the dialog.
func (st *orderState) cancelActiveLocked() {
	if st.active == nil {
		return
	}
	st.active.session.Cancel()
	st.active = nil
}

// streamRun is the fenced handle for one reply stream.
type streamRun struct {
	session *responder.Session
	msgID   string
	applied chan responder.Event
	done    chan struct{}
	err     error
}

// Receipt describes the outcome of SubmitMessage.
type Receipt struct {
	Index   int
	Message workorder.Message
	run     *streamRun
}

// Streaming reports whether an automated reply stream was started.
func (r *Receipt) Streaming() bool {
	return r.run != nil
}

// Events yields stream events after their dialog mutation committed, for
// relaying to the submitting client. Nil when no stream was started. The
// feed is best effort; the dialog log is the source of truth.
func (r *Receipt) Events() <-chan responder.Event {
	if r.run == nil {
		return nil
	}
	return r.run.applied
}

// Wait blocks until the reply stream settles. A backend error surfaces here
// as a recoverable failure; whatever text accumulated is already flushed.
func (r *Receipt) Wait() error {
	if r.run == nil {
		return nil
	}
	<-r.run.done
	return r.run.err
}

// state returns the serialization handle for one order, creating it on first
// touch. Entries are kept for the process lifetime, terminal orders included:
// evicting would let a caller blocked on the old mutex run concurrently with
// one holding a fresh entry for the same order. An entry is a mutex and a
// pointer, so retention stays cheap.
func (c *Controller) state(orderID string) *orderState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[orderID]
	if !ok {
		st = &orderState{}
		c.states[orderID] = st
	}
	return st
}

// SubmitMessage validates the write, appends the message, and when the author
// is a user on an automated order, starts the reply stream. An agent message
// never starts a stream and cancels any stream in flight: the human wins.
func (c *Controller) SubmitMessage(ctx context.Context, orderID string, claims user.Claims, content workorder.Content) (*Receipt, error) {
	st := c.state(orderID)
	st.mu.Lock()
	defer st.mu.Unlock()

	t, err := c.store.GetTicket(ctx, orderID)
	if err != nil {
		return nil, err
	}

	author := workorder.AuthorUser
	if claims.IsAdmin {
		author = workorder.AuthorAgent
	}

	switch t.Status {
	case workorder.StatusDeleted:
		return nil, workorder.ErrTicketClosed
	case workorder.StatusCompleted:
		if author != workorder.AuthorAgent {
			return nil, workorder.ErrTicketClosed
		}
		// An agent writing to a completed order reopens it.
		status := workorder.StatusProcessing
		if err := c.store.UpdateTicket(ctx, orderID, store.TicketUpdate{Status: &status}); err != nil {
			return nil, err
		}
		t.Status = status
	}

	if author == workorder.AuthorAgent {
		st.cancelActiveLocked()
	}

	msg := workorder.Message{
		ID:       uuid.NewString(),
		Time:     time.Now().UTC(),
		Author:   author,
		AuthorID: claims.UserID,
		Content:  content,
	}
	idx, err := c.store.AppendDialog(ctx, orderID, msg)
	if err != nil {
		return nil, err
	}

	receipt := &Receipt{Index: idx, Message: msg}
	if author != workorder.AuthorUser || content.Kind != workorder.ContentText {
		return receipt, nil
	}
	if c.responder == nil || t.ManualHandling.IsManuallyHandled {
		return receipt, nil
	}

	// Only one live stream per order.
	st.cancelActiveLocked()

	history, err := c.store.GetDialog(ctx, orderID)
	if err != nil {
		// The user message committed; skipping the bot reply is recoverable.
		log.Printf("[conversation] load history failed for order=%s: %v", orderID, err)
		return receipt, nil
	}

	session, err := c.responder.Start(ctx, t, history, content.Text)
	if err != nil {
		if responder.IsRateLimited(err) {
			c.escalate(ctx, t, &msg, escalation.ReasonRateLimited)
			return receipt, nil
		}
		log.Printf("[conversation] responder start failed for order=%s: %v", orderID, err)
		return receipt, nil
	}

	run := &streamRun{
		session: session,
		msgID:   uuid.NewString(),
		applied: make(chan responder.Event, 64),
		done:    make(chan struct{}),
	}
	st.active = run
	receipt.run = run

	go c.consume(ctx, st, run, orderID, t)
	return receipt, nil
}

// consume drains one reply stream, flushing each delta into the dialog as a
// single growing bot message. Every mutation is fenced: it applies only while
// the run is still the order's active stream.
func (c *Controller) consume(ctx context.Context, st *orderState, run *streamRun, orderID string, t workorder.Ticket) {
	defer close(run.done)
	defer close(run.applied)

	// Flushes must land even when the submitting request goes away.
	mctx := context.WithoutCancel(ctx)

	for ev := range run.session.Events() {
		st.mu.Lock()
		if st.active != run {
			st.mu.Unlock()
			// Cancelled; keep draining so the producer can finish, apply nothing.
			continue
		}

		switch ev.Kind {
		case responder.EventDelta:
			bot := workorder.Message{
				ID:       run.msgID,
				Time:     time.Now().UTC(),
				Author:   workorder.AuthorBot,
				AuthorID: botAuthorID,
				Content:  workorder.TextContent(run.session.Accumulated()),
			}
			isSelf := func(m workorder.Message) bool { return m.ID == run.msgID }
			if _, err := c.store.ReplaceLastDialog(mctx, orderID, isSelf, bot); err != nil {
				log.Printf("[conversation] flush delta failed for order=%s: %v", orderID, err)
			}
		case responder.EventRateLimited:
			c.escalate(mctx, t, nil, escalation.ReasonRateLimited)
		case responder.EventError:
			run.err = fmt.Errorf("automated reply failed: %w", ev.Err)
		case responder.EventDone:
			log.Printf("[conversation] reply stream completed for order=%s", orderID)
		}
		st.mu.Unlock()

		select {
		case run.applied <- ev:
		default:
		}
	}

	st.mu.Lock()
	if st.active == run {
		st.active = nil
	}
	st.mu.Unlock()
}

func (c *Controller) escalate(ctx context.Context, t workorder.Ticket, msg *workorder.Message, reason escalation.Reason) {
	if c.gate == nil {
		return
	}
	if _, err := c.gate.Evaluate(ctx, escalation.Trigger{Ticket: t, Message: msg, Reason: reason}); err != nil {
		log.Printf("[conversation] escalation for order=%s: %v", t.OrderID, err)
	}
}

// RequestManual honors an explicit switch-to-manual request. Any reply stream
// in flight is cancelled first; its partial text stays in the dialog.
func (c *Controller) RequestManual(ctx context.Context, orderID string, claims user.Claims) (bool, error) {
	st := c.state(orderID)
	st.mu.Lock()
	defer st.mu.Unlock()

	t, err := c.store.GetTicket(ctx, orderID)
	if err != nil {
		return false, err
	}
	if t.Status == workorder.StatusDeleted {
		return false, workorder.ErrTicketClosed
	}
	if t.UserID != claims.UserID && !claims.IsAdmin {
		return false, workorder.ErrForbidden
	}

	st.cancelActiveLocked()

	if c.gate == nil {
		return false, nil
	}
	return c.gate.Evaluate(ctx, escalation.Trigger{Ticket: t, Reason: escalation.ReasonUserRequest})
}

// Recall flags a dialog message as recalled. Only the author may recall their
// own message; the operation is idempotent. A deleted order is closed for
// writes, recall included.
func (c *Controller) Recall(ctx context.Context, orderID string, index int, claims user.Claims) error {
	st := c.state(orderID)
	st.mu.Lock()
	defer st.mu.Unlock()

	t, err := c.store.GetTicket(ctx, orderID)
	if err != nil {
		return err
	}
	if t.Status == workorder.StatusDeleted {
		return workorder.ErrTicketClosed
	}

	dialog := t.Dialogs
	if index < 0 || index >= len(dialog) {
		return workorder.ErrMessageNotFound
	}
	if dialog[index].AuthorID != claims.UserID {
		return workorder.ErrForbidden
	}
	return c.store.MarkRecalled(ctx, orderID, index)
}

// Transition moves the work order through its lifecycle. Leaving processing
// cancels any in-flight reply stream. Reopening never resets manual handling;
// escalation history outlives the status.
func (c *Controller) Transition(ctx context.Context, orderID string, to workorder.Status, claims user.Claims) error {
	st := c.state(orderID)
	st.mu.Lock()
	defer st.mu.Unlock()

	t, err := c.store.GetTicket(ctx, orderID)
	if err != nil {
		return err
	}
	if t.UserID != claims.UserID && !claims.IsAdmin {
		return workorder.ErrForbidden
	}
	if !workorder.CanTransition(t.Status, to, claims.IsAdmin) {
		return workorder.ErrBadTransition
	}

	st.cancelActiveLocked()

	upd := store.TicketUpdate{Status: &to}
	now := time.Now().UTC()
	switch to {
	case workorder.StatusCompleted:
		upd.CompletedAt = &now
		upd.ClosedBy = &claims.UserID
	case workorder.StatusDeleted:
		upd.DeletedBy = &claims.UserID
	}
	return c.store.UpdateTicket(ctx, orderID, upd)
}

// GetDialog returns the ordered dialog snapshot for a work order.
func (c *Controller) GetDialog(ctx context.Context, orderID string) ([]workorder.Message, error) {
	return c.store.GetDialog(ctx, orderID)
}

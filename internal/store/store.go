package store

import (
	"context"
	"errors"
	"time"

	"github.com/zhoulihan/workdesk/backend/internal/model/workorder"
)

// ErrUnavailable wraps backend failures that are not data errors. Callers
// propagate it; no retry happens at this layer.
var ErrUnavailable = errors.New("ticket store unavailable")

// TicketStore is the persistence contract the conversation engine depends on.
// Each call is atomic on its own; no cross-call transaction is assumed.
//
// Dialog entries are append-only. ReplaceLastDialog is the one sanctioned
// in-place mutation: it swaps the final entry when the predicate matches,
// which is how a streaming reply grows as a single message.
type TicketStore interface {
	CreateTicket(ctx context.Context, t workorder.Ticket) error
	GetTicket(ctx context.Context, orderID string) (workorder.Ticket, error)
	UpdateTicket(ctx context.Context, orderID string, upd TicketUpdate) error
	ListTickets(ctx context.Context, f Filter) ([]workorder.Ticket, int, error)

	AppendDialog(ctx context.Context, orderID string, msg workorder.Message) (int, error)
	ReplaceLastDialog(ctx context.Context, orderID string, pred func(workorder.Message) bool, msg workorder.Message) (int, error)
	MarkRecalled(ctx context.Context, orderID string, index int) error
	GetDialog(ctx context.Context, orderID string) ([]workorder.Message, error)
}

// TicketUpdate is a partial update; nil fields are left untouched.
type TicketUpdate struct {
	Status         *workorder.Status
	ClosedBy       *string
	DeletedBy      *string
	CompletedAt    *time.Time
	ManualHandling *workorder.ManualHandling
}

// Filter narrows and pages ListTickets results. Zero values mean "no
// constraint"; Page starts at 1.
type Filter struct {
	UserID      string
	Status      workorder.Status
	Category    string
	CreatedFrom time.Time
	CreatedTo   time.Time
	Page        int
	PageSize    int
}

// Normalize fills paging defaults.
func (f Filter) Normalize() Filter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = 20
	}
	return f
}

// Matches reports whether a ticket passes the non-paging constraints.
func (f Filter) Matches(t workorder.Ticket) bool {
	if f.UserID != "" && t.UserID != f.UserID {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Category != "" && t.Category != f.Category {
		return false
	}
	if !f.CreatedFrom.IsZero() && t.CreatedAt.Before(f.CreatedFrom) {
		return false
	}
	if !f.CreatedTo.IsZero() && t.CreatedAt.After(f.CreatedTo) {
		return false
	}
	return true
}

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/zhoulihan/workdesk/backend/internal/model/workorder"
)

// MemoryStore keeps work orders in process memory. It backs development
// setups and tests; production deployments use the sqlite store.
type MemoryStore struct {
	mu      sync.RWMutex
	tickets map[string]workorder.Ticket
	dialogs map[string][]workorder.Message
}

// NewMemoryStore returns an empty in-memory ticket store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tickets: make(map[string]workorder.Ticket),
		dialogs: make(map[string][]workorder.Message),
	}
}

// CreateTicket registers a new work order.
func (s *MemoryStore) CreateTicket(_ context.Context, t workorder.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t.Dialogs = nil
	s.tickets[t.OrderID] = t
	s.dialogs[t.OrderID] = make([]workorder.Message, 0, 16)
	return nil
}

// GetTicket returns a snapshot of the work order including its dialog.
func (s *MemoryStore) GetTicket(_ context.Context, orderID string) (workorder.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tickets[orderID]
	if !ok {
		return workorder.Ticket{}, workorder.ErrOrderNotFound
	}
	t.Dialogs = append([]workorder.Message(nil), s.dialogs[orderID]...)
	return t, nil
}

// UpdateTicket applies a partial update and bumps UpdatedAt.
func (s *MemoryStore) UpdateTicket(_ context.Context, orderID string, upd TicketUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[orderID]
	if !ok {
		return workorder.ErrOrderNotFound
	}

	if upd.Status != nil {
		t.Status = *upd.Status
	}
	if upd.ClosedBy != nil {
		t.ClosedBy = *upd.ClosedBy
	}
	if upd.DeletedBy != nil {
		t.DeletedBy = *upd.DeletedBy
	}
	if upd.CompletedAt != nil {
		completedAt := *upd.CompletedAt
		t.CompletedAt = &completedAt
	}
	if upd.ManualHandling != nil {
		t.ManualHandling = *upd.ManualHandling
	}
	t.UpdatedAt = time.Now().UTC()

	s.tickets[orderID] = t
	return nil
}

// ListTickets filters and pages work orders, newest first. The returned count
// is the total before paging.
func (s *MemoryStore) ListTickets(_ context.Context, f Filter) ([]workorder.Ticket, int, error) {
	f = f.Normalize()

	s.mu.RLock()
	matched := make([]workorder.Ticket, 0, len(s.tickets))
	for _, t := range s.tickets {
		if f.Matches(t) {
			matched = append(matched, t)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := (f.Page - 1) * f.PageSize
	if start >= total {
		return []workorder.Ticket{}, total, nil
	}
	end := start + f.PageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

// AppendDialog adds a message at the end of the order's dialog and returns
// its position.
func (s *MemoryStore) AppendDialog(_ context.Context, orderID string, msg workorder.Message) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tickets[orderID]; !ok {
		return 0, workorder.ErrOrderNotFound
	}

	s.dialogs[orderID] = append(s.dialogs[orderID], msg)
	s.touchLocked(orderID)
	return len(s.dialogs[orderID]) - 1, nil
}

// ReplaceLastDialog swaps the final message when pred matches it, otherwise
// appends. Either way the position of msg is returned.
func (s *MemoryStore) ReplaceLastDialog(_ context.Context, orderID string, pred func(workorder.Message) bool, msg workorder.Message) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dialog, ok := s.dialogs[orderID]
	if !ok {
		return 0, workorder.ErrOrderNotFound
	}

	if n := len(dialog); n > 0 && pred(dialog[n-1]) {
		dialog[n-1] = msg
		s.touchLocked(orderID)
		return n - 1, nil
	}

	s.dialogs[orderID] = append(dialog, msg)
	s.touchLocked(orderID)
	return len(s.dialogs[orderID]) - 1, nil
}

// MarkRecalled flags the message at index as recalled. Recalling twice is a
// no-op success.
func (s *MemoryStore) MarkRecalled(_ context.Context, orderID string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dialog, ok := s.dialogs[orderID]
	if !ok {
		return workorder.ErrOrderNotFound
	}
	if index < 0 || index >= len(dialog) {
		return workorder.ErrMessageNotFound
	}

	dialog[index].Recalled = true
	return nil
}

// GetDialog returns the full ordered dialog snapshot.
func (s *MemoryStore) GetDialog(_ context.Context, orderID string) ([]workorder.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dialog, ok := s.dialogs[orderID]
	if !ok {
		return nil, workorder.ErrOrderNotFound
	}
	return append([]workorder.Message(nil), dialog...), nil
}

// caller holds s.mu.
func (s *MemoryStore) touchLocked(orderID string) {
	t := s.tickets[orderID]
	t.UpdatedAt = time.Now().UTC()
	s.tickets[orderID] = t
}

package workorder

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zhoulihan/workdesk/backend/internal/config"
	"github.com/zhoulihan/workdesk/backend/internal/model/user"
	"github.com/zhoulihan/workdesk/backend/internal/model/workorder"
	"github.com/zhoulihan/workdesk/backend/internal/service/escalation"
	"github.com/zhoulihan/workdesk/backend/internal/store"
)

var (
	ErrUnknownCategory  = errors.New("unknown work order category")
	ErrEmptyDescription = errors.New("description is required")
)

// Service covers the work order CRUD surface around the conversation core.
type Service struct {
	store    store.TicketStore
	notifier escalation.Notifier
	catalog  config.Catalog
}

// NewService builds the work order service. A nil notifier skips the
// new-order announcement.
func NewService(st store.TicketStore, notifier escalation.Notifier, catalog config.Catalog) *Service {
	return &Service{store: st, notifier: notifier, catalog: catalog}
}

// Catalog exposes the category/tier options for the UI layer.
func (s *Service) Catalog() config.Catalog {
	return s.catalog
}

// Create registers a new work order and announces it on the operator
// channel. The announcement is best effort; the order stands either way.
func (s *Service) Create(ctx context.Context, claims user.Claims, category, description string) (workorder.Ticket, error) {
	if !s.catalog.ValidCategory(category) {
		return workorder.Ticket{}, ErrUnknownCategory
	}
	description = strings.TrimSpace(description)
	if description == "" {
		return workorder.Ticket{}, ErrEmptyDescription
	}

	now := time.Now().UTC()
	t := workorder.Ticket{
		OrderID:     newOrderID(),
		UserID:      claims.UserID,
		Category:    category,
		Description: description,
		Status:      workorder.StatusPending,
		Tier:        claims.Tier,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.CreateTicket(ctx, t); err != nil {
		return workorder.Ticket{}, err
	}

	if s.notifier != nil {
		err := s.notifier.Notify(ctx, escalation.Notification{
			OrderID:     t.OrderID,
			Category:    t.Category,
			Description: t.Description,
			UserID:      t.UserID,
			Tier:        t.Tier,
		})
		if err != nil {
			log.Printf("[workorder] new order notification failed for order=%s: %v", t.OrderID, err)
		}
	}

	log.Printf("[workorder] created order=%s category=%s user=%s", t.OrderID, t.Category, t.UserID)
	return t, nil
}

// Get loads one work order. Users only see their own orders; agents see all.
func (s *Service) Get(ctx context.Context, claims user.Claims, orderID string) (workorder.Ticket, error) {
	t, err := s.store.GetTicket(ctx, orderID)
	if err != nil {
		return workorder.Ticket{}, err
	}
	if t.UserID != claims.UserID && !claims.IsAdmin {
		return workorder.Ticket{}, workorder.ErrForbidden
	}
	return t, nil
}

// List filters and pages work orders. Non-agent callers are always scoped to
// their own orders regardless of the requested filter.
func (s *Service) List(ctx context.Context, claims user.Claims, f store.Filter) ([]workorder.Ticket, int, error) {
	if !claims.IsAdmin {
		f.UserID = claims.UserID
	}
	return s.store.ListTickets(ctx, f)
}

// newOrderID generates the short opaque order identifier.
func newOrderID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

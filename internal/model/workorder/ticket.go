package workorder

import "time"

// ManualHandling records the hand-off from automated to human handling. Once
// set it is never cleared, even when the order is later reopened.
type ManualHandling struct {
	IsManuallyHandled bool       `json:"isManuallyHandled"`
	HandlingTime      *time.Time `json:"handlingTime,omitempty"`
}

// Ticket is one support work order together with its dialog history.
type Ticket struct {
	OrderID        string         `json:"orderId"`
	UserID         string         `json:"userId"`
	Category       string         `json:"category"`
	Description    string         `json:"description"`
	Status         Status         `json:"status"`
	Tier           string         `json:"tier"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	CompletedAt    *time.Time     `json:"completedAt,omitempty"`
	ClosedBy       string         `json:"closedBy,omitempty"`
	DeletedBy      string         `json:"deletedBy,omitempty"`
	ManualHandling ManualHandling `json:"manualHandling"`
	Dialogs        []Message      `json:"dialogs,omitempty"`
}

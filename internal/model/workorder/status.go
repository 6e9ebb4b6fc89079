package workorder

// Status tracks where a work order sits in its lifecycle.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusDeleted    Status = "deleted"
)

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusDeleted:
		return true
	}
	return false
}

// CanTransition reports whether a work order may move from one status to
// another. Completing an order and reopening a completed or deleted one are
// agent-only actions.
func CanTransition(from, to Status, byAgent bool) bool {
	if from == to {
		return false
	}
	switch from {
	case StatusPending:
		return to == StatusProcessing || to == StatusDeleted || (to == StatusCompleted && byAgent)
	case StatusProcessing:
		return to == StatusDeleted || (to == StatusCompleted && byAgent)
	case StatusCompleted, StatusDeleted:
		// reopen
		return to == StatusProcessing && byAgent
	}
	return false
}

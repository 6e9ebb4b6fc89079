package workorder

import "errors"

var (
	ErrOrderNotFound   = errors.New("work order not found")
	ErrMessageNotFound = errors.New("dialog message not found")
	ErrTicketClosed    = errors.New("work order is closed for writes")
	ErrForbidden       = errors.New("operation not permitted")
	ErrBadTransition   = errors.New("invalid status transition")
)

package quotations

import "errors"

var (
	// ErrInvalidTransition indicates an event that has no edge from the
	// quotation's current status. The quotation is left unchanged.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInvalidStateForEdit indicates an item or total mutation outside
	// Draft.
	ErrInvalidStateForEdit = errors.New("items can only be edited in draft")
)

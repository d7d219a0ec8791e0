package booking

import "agrimarket/pkg/fault"

var (
	ErrNotFound               = fault.NotFound("booking not found")
	ErrForbidden              = fault.Forbidden("booking belongs to someone else")
	ErrInvalidTransition      = fault.Conflict("status change is not allowed from the current status")
	ErrCancellationPending    = fault.Conflict("a cancellation request is pending")
	ErrCancellationNotAllowed = fault.Conflict("booking can no longer be cancelled")
	ErrNoCancellationRequest  = fault.Conflict("there is no cancellation request to resolve")
	ErrRescheduleNotAllowed   = fault.Conflict("booking can no longer be rescheduled")
)

var transitions = map[Status]Status{
	StatusOrderPlaced:   StatusOrderAccepted,
	StatusOrderAccepted: StatusPickupStarted,
	StatusPickupStarted: StatusOrderPickedUp,
	StatusOrderPickedUp: StatusInTransit,
	StatusInTransit:     StatusDelivered,
}

// Next returns the status that follows current in the delivery sequence.
func Next(current Status) (Status, bool) {
	next, ok := transitions[current]
	return next, ok
}

// CanTransition reports whether target is exactly the next step after current.
func CanTransition(current, target Status) bool {
	next, ok := transitions[current]
	return ok && next == target
}

// CanCancel reports whether a cancellation may still be requested. Goods that left the farm cannot be recalled.
func CanCancel(s Status) bool {
	switch s {
	case StatusOrderPlaced, StatusOrderAccepted, StatusPickupStarted:
		return true
	}
	return false
}

// CanReschedule reports whether the pickup date may still move.
func CanReschedule(s Status) bool {
	return s == StatusOrderPlaced || s == StatusOrderAccepted
}

func indexOf(s Status) int {
	for i, step := range Sequence {
		if step == s {
			return i
		}
	}
	return -1
}

package booking

import "errors"

// Sentinel errors for the booking lifecycle. Handlers translate these
// to HTTP status codes; nothing below the handler layer leaks raw
// database or transport errors.
var (
	// ErrValidation covers malformed or missing input.
	ErrValidation = errors.New("booking: invalid input")

	// ErrNotFound is returned when a booking does not exist.
	ErrNotFound = errors.New("booking: not found")

	// ErrServiceInactive is returned when the requested service is
	// missing or disabled.
	ErrServiceInactive = errors.New("booking: service not found or inactive")

	// ErrPastDate is returned when the booking date lies in the past.
	ErrPastDate = errors.New("booking: date cannot be in the past")

	// ErrInvalidSlot is returned for zero/negative-duration slots or
	// slots outside the service operating window.
	ErrInvalidSlot = errors.New("booking: invalid time slot")

	// ErrSlotConflict is returned when another live booking already
	// holds the requested service/date/start combination.
	ErrSlotConflict = errors.New("booking: time slot already booked")

	// ErrInvalidTransition is returned for a status edge outside the
	// state machine.
	ErrInvalidTransition = errors.New("booking: invalid status transition")

	// ErrAlreadyFinal is returned when cancelling or rescheduling a
	// booking that reached a terminal status.
	ErrAlreadyFinal = errors.New("booking: already in a final status")

	// ErrAlreadyReviewed is returned on a second review attempt.
	ErrAlreadyReviewed = errors.New("booking: already reviewed")

	// ErrUnauthorized is returned when the actor lacks rights over the
	// booking.
	ErrUnauthorized = errors.New("booking: not authorized")
)

package store

import "errors"

var (
	// ErrConflict means the booking overlaps an active booking of one of its participants.
	ErrConflict = errors.New("participant already booked")
	ErrNotFound = errors.New("not found")
	// ErrIdempotencyConflict means a booking id derived from an idempotency key already belongs to
	// a different request.
	ErrIdempotencyConflict = errors.New("idempotency key reused for a different booking")
)

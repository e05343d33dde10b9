package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidDateRange       = errors.New("requested date is outside the bookable range")
	ErrNoAvailabilityInRange  = errors.New("no availability in range")
	ErrSourceUnavailable      = errors.New("calendar source unavailable")
	ErrSlotConflict           = errors.New("slot no longer available")
	ErrInvalidRescheduleToken = errors.New("invalid reschedule token")
	ErrDurationNotFound       = errors.New("duration not found")
	ErrEmptyGroupMembership   = errors.New("appointment group has no members")
)

// SourceUnavailableError reports which participant's calendar could not be read.
type SourceUnavailableError struct {
	ParticipantID string
	Source        string
	Err           error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("calendar source %q unavailable for participant %q: %v", e.Source, e.ParticipantID, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error {
	return e.Err
}

func (e *SourceUnavailableError) Is(target error) bool {
	return target == ErrSourceUnavailable
}

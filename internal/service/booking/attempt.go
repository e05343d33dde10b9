package booking

import (
	"log/slog"

	"slotbook/internal/domain"
)

type State string

const (
	StateRequested    State = "requested"
	StateValidating   State = "validating"
	StateRescheduling State = "rescheduling"
	StateCommitted    State = "committed"
	StateConflict     State = "conflict"
	StateFailed       State = "failed"
)

// Attempt tracks one booking request through its states.
type Attempt struct {
	Subject domain.Subject
	Slot    domain.Slot
	State   State

	log *slog.Logger
}

func newAttempt(log *slog.Logger, subject domain.Subject, slot domain.Slot) *Attempt {
	a := &Attempt{
		Subject: subject,
		Slot:    slot,
		log: log.With(
			slog.String("subject", subject.String()),
			slog.Time("start", slot.Start),
			slog.Time("end", slot.End),
		),
	}
	a.transition(StateRequested)
	return a
}

func (a *Attempt) transition(s State, attrs ...any) {
	a.State = s
	a.log.Info("booking attempt", append([]any{slog.String("state", string(s))}, attrs...)...)
}

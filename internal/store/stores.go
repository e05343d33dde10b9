package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"slotbook/internal/domain"
)

// TemplateStore is read-only to the engine; owners edit templates elsewhere.
type TemplateStore interface {
	GetTemplate(ctx context.Context, ownerID string) (domain.AvailabilityTemplate, error)
	GetDuration(ctx context.Context, id string) (domain.DurationOption, error)
	ListDurations(ctx context.Context, ownerID string) ([]domain.DurationOption, error)
}

type GroupStore interface {
	GetGroup(ctx context.Context, id string) (domain.AppointmentGroup, error)
	ListGroupIDs(ctx context.Context) ([]string, error)
}

type CalendarLinkStore interface {
	ListLinks(ctx context.Context, participantID string) ([]domain.CalendarLink, error)
	GetLink(ctx context.Context, id uuid.UUID) (domain.CalendarLink, error)
}

// BookingReader lists committed bookings that count as busy time.
type BookingReader interface {
	ListActiveBookings(ctx context.Context, participantIDs []string, windowStart, windowEnd time.Time) ([]domain.Booking, error)
}

type BookingStore interface {
	BookingReader

	GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error)

	// InParticipantsTransaction runs fn while holding the contention scope of every participant.
	// No other transaction for an overlapping participant set runs fn concurrently.
	InParticipantsTransaction(ctx context.Context, participantIDs []string, fn func(ctx context.Context, tx BookingTx) error) error
}

type BookingTx interface {
	BookingReader

	GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error)
	FindActiveByVisitor(ctx context.Context, subject domain.Subject, visitorEmail string) (domain.Booking, error)
	CreateBooking(ctx context.Context, b domain.Booking) (domain.Booking, error)
	UpdateBookingStatus(ctx context.Context, id uuid.UUID, status domain.BookingStatus, rescheduledTo *uuid.UUID) error
}

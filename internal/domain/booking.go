package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type SubjectKind string

const (
	SubjectUser  SubjectKind = "user"
	SubjectGroup SubjectKind = "group"
)

// Subject is whoever publishes availability: one user or an appointment group.
type Subject struct {
	Kind SubjectKind
	ID   string
}

func (s Subject) String() string {
	return string(s.Kind) + ":" + s.ID
}

type BookingStatus string

const (
	BookingStatusActive      BookingStatus = "active"
	BookingStatusRescheduled BookingStatus = "rescheduled"
	BookingStatusCancelled   BookingStatus = "cancelled"
)

// EventRef identifies an event written to an external calendar.
type EventRef struct {
	Provider   CalendarProvider `json:"provider"`
	CalendarID string           `json:"calendar_id"`
	EventID    string           `json:"event_id"`
	MeetLink   string           `json:"meet_link,omitempty"`
}

type Booking struct {
	bun.BaseModel `bun:"table:bookings"`

	ID                uuid.UUID       `bun:"id,pk,type:uuid"`
	SubjectKind       SubjectKind     `bun:"subject_kind,notnull"`
	SubjectID         string          `bun:"subject_id,notnull"`
	Participants      []string        `bun:"participants,array,notnull"`
	StartTime         time.Time       `bun:"start_time,notnull"`
	EndTime           time.Time       `bun:"end_time,notnull"`
	Status            BookingStatus   `bun:"status,notnull"`
	RescheduleToken   string          `bun:"reschedule_token,notnull"`
	IdempotencyKey    *string         `bun:"idempotency_key"`
	EventRefs         []EventRef      `bun:"event_refs,type:jsonb,notnull"`
	Summary           string          `bun:"summary,notnull"`
	OrganizerEmail    string          `bun:"organizer_email"`
	AttendeeEmails    []string        `bun:"attendee_emails,array"`
	MeetingProvider   MeetingProvider `bun:"meeting_provider,notnull"`
	MeetLink          string          `bun:"meet_link"`
	VisitorName       string          `bun:"visitor_name,notnull"`
	VisitorEmail      string          `bun:"visitor_email,notnull"`
	ReferenceMetadata map[string]any  `bun:"reference_metadata,type:jsonb"`
	PreviousBookingID *uuid.UUID      `bun:"previous_booking_id,type:uuid"`
	RescheduledToID   *uuid.UUID      `bun:"rescheduled_to_id,type:uuid"`
	CreatedAt         time.Time       `bun:"created_at,notnull"`
	UpdatedAt         time.Time       `bun:"updated_at,notnull"`
}

func (b *Booking) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if b.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			b.ID = id
		}
		if b.CreatedAt.IsZero() {
			b.CreatedAt = now
		}
		if b.UpdatedAt.IsZero() {
			b.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		b.UpdatedAt = now
	}
	return nil
}

func (b Booking) Subject() Subject {
	return Subject{Kind: b.SubjectKind, ID: b.SubjectID}
}

// EventUID is the iCalendar UID of the calendar event written for a booking.
func EventUID(bookingID uuid.UUID) string {
	return bookingID.String() + "@slotbook"
}

func (b Booking) EventUID() string {
	return EventUID(b.ID)
}

func (b Booking) Interval() Interval {
	return NewInterval(b.StartTime, b.EndTime)
}

func (b Booking) PrimaryEvent() (EventRef, bool) {
	if len(b.EventRefs) == 0 {
		return EventRef{}, false
	}
	return b.EventRefs[0], true
}

// BookingParticipant backs the per-participant exclusion constraint on active bookings.
type BookingParticipant struct {
	bun.BaseModel `bun:"table:booking_participants"`

	BookingID     uuid.UUID `bun:"booking_id,pk,type:uuid"`
	ParticipantID string    `bun:"participant_id,pk"`
	StartTime     time.Time `bun:"start_time,notnull"`
	EndTime       time.Time `bun:"end_time,notnull"`
	Active        bool      `bun:"active,notnull"`
}

package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type MembershipPolicy string

const (
	PolicyAllRequired MembershipPolicy = "all_required"
	PolicyAnyOne      MembershipPolicy = "any_one"
)

type MeetingProvider string

const (
	MeetingProviderNone       MeetingProvider = "none"
	MeetingProviderGoogleMeet MeetingProvider = "google_meet"
	MeetingProviderCustom     MeetingProvider = "custom"
)

type AppointmentGroup struct {
	bun.BaseModel `bun:"table:appointment_groups"`

	ID                string           `bun:"id,pk"`
	Title             string           `bun:"title,notnull"`
	Members           []string         `bun:"members,array,notnull"`
	Policy            MembershipPolicy `bun:"policy,notnull"`
	DurationID        string           `bun:"duration_id,notnull"`
	OrganizerLinkID   *uuid.UUID       `bun:"organizer_link_id,type:uuid"`
	MeetingProvider   MeetingProvider  `bun:"meeting_provider,notnull"`
	MeetingLink       string           `bun:"meeting_link"`
	WebhookURL        string           `bun:"webhook_url"`
	ScheduleOnlyOnce  bool             `bun:"schedule_only_once,notnull"`
	ReferenceMetadata map[string]any   `bun:"reference_metadata,type:jsonb"`
	CreatedAt         time.Time        `bun:"created_at,notnull"`
	UpdatedAt         time.Time        `bun:"updated_at,notnull"`
}

func (g *AppointmentGroup) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if g.CreatedAt.IsZero() {
			g.CreatedAt = now
		}
		if g.UpdatedAt.IsZero() {
			g.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		g.UpdatedAt = now
	}
	return nil
}

func (g AppointmentGroup) Validate() error {
	if len(g.Members) == 0 {
		return ErrEmptyGroupMembership
	}
	switch g.Policy {
	case PolicyAllRequired, PolicyAnyOne:
	default:
		return errors.New("unsupported membership policy")
	}
	if g.DurationID == "" {
		return ErrDurationNotFound
	}
	if g.MeetingProvider == MeetingProviderCustom && g.MeetingLink == "" {
		return errors.New("meeting_link is required for a custom meeting provider")
	}
	return nil
}

type CalendarProvider string

const (
	CalendarProviderGoogle CalendarProvider = "google"
	CalendarProviderCalDAV CalendarProvider = "caldav"
)

// CalendarLink ties a participant to one external calendar. The primary link also receives new events.
type CalendarLink struct {
	bun.BaseModel `bun:"table:calendar_links"`

	ID            uuid.UUID        `bun:"id,pk,type:uuid"`
	ParticipantID string           `bun:"participant_id,notnull"`
	Provider      CalendarProvider `bun:"provider,notnull"`
	CalendarID    string           `bun:"calendar_id,notnull"`
	Email         string           `bun:"email,notnull"`
	Primary       bool             `bun:"is_primary,notnull"`
	IgnoreAllDay  bool             `bun:"ignore_all_day,notnull"`
	CreatedAt     time.Time        `bun:"created_at,notnull"`
	UpdatedAt     time.Time        `bun:"updated_at,notnull"`

	// Zone places all-day events when the provider does not report the calendar's own zone.
	// It is set per read from the participant's template.
	Zone *time.Location `bun:"-"`
}

func (l *CalendarLink) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if l.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			l.ID = id
		}
		if l.CreatedAt.IsZero() {
			l.CreatedAt = now
		}
		if l.UpdatedAt.IsZero() {
			l.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		l.UpdatedAt = now
	}
	return nil
}

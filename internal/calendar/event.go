package calendar

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"slotbook/internal/domain"
)

type Attendee struct {
	Name  string
	Email string
}

// Event is what a booking writes to the organizer's calendar.
type Event struct {
	BookingID       uuid.UUID
	Summary         string
	Description     string
	Start           time.Time
	End             time.Time
	Organizer       string
	Attendees       []Attendee
	MeetingProvider domain.MeetingProvider
	MeetingLink     string
}

// UID is the iCalendar UID of the event, stable across retries.
func (e Event) UID() string {
	return domain.EventUID(e.BookingID)
}

// GoogleEventID derives a Google Calendar event id (base32hex, 5 to 1024 chars) from the booking id.
func (e Event) GoogleEventID() string {
	return "sb" + strings.ReplaceAll(e.BookingID.String(), "-", "")
}

// EventFromBooking rebuilds the event of a stored booking.
func EventFromBooking(b domain.Booking) Event {
	ev := Event{
		BookingID:       b.ID,
		Summary:         b.Summary,
		Start:           b.StartTime,
		End:             b.EndTime,
		Organizer:       b.OrganizerEmail,
		MeetingProvider: b.MeetingProvider,
		MeetingLink:     b.MeetLink,
	}
	for _, email := range b.AttendeeEmails {
		a := Attendee{Email: email}
		if strings.EqualFold(email, b.VisitorEmail) {
			a.Name = b.VisitorName
		}
		ev.Attendees = append(ev.Attendees, a)
	}
	if b.MeetLink != "" {
		ev.Description = fmt.Sprintf("Join: %s", b.MeetLink)
	}
	return ev
}

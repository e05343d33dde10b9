package calendar

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"slotbook/internal/domain"
)

func TestEncodeInvite(t *testing.T) {
	id := uuid.MustParse("0190d6a4-7b7a-7c1e-8a52-0e3c6f1a2b3c")
	b := domain.Booking{
		ID:              id,
		Summary:         "Meet: Ada <> Team (30 minutes)",
		StartTime:       time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC),
		EndTime:         time.Date(2026, 1, 5, 9, 30, 0, 0, time.UTC),
		OrganizerEmail:  "owner@example.com",
		AttendeeEmails:  []string{"owner@example.com", "ada@example.com"},
		VisitorName:     "Ada",
		VisitorEmail:    "ada@example.com",
		MeetingProvider: domain.MeetingProviderCustom,
		MeetLink:        "https://meet.example.com/r/1",
	}

	data, err := EncodeInvite(EventFromBooking(b), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("EncodeInvite error: %v", err)
	}
	got := string(data)

	for _, want := range []string{
		"METHOD:REQUEST",
		"UID:" + id.String() + "@slotbook",
		"DTSTART:20260105T090000Z",
		"DTEND:20260105T093000Z",
		"SUMMARY:Meet: Ada <> Team (30 minutes)",
		"ORGANIZER:mailto:owner@example.com",
		"mailto:ada@example.com",
		"CN=Ada",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("invite missing %q:\n%s", want, got)
		}
	}
}

func TestGoogleEventIDIsBase32Hex(t *testing.T) {
	ev := Event{BookingID: uuid.New()}
	id := ev.GoogleEventID()
	if len(id) < 5 {
		t.Fatalf("id %q too short", id)
	}
	for _, r := range id {
		if !(r >= '0' && r <= '9') && !(r >= 'a' && r <= 'v') {
			t.Fatalf("id %q contains %q outside base32hex", id, r)
		}
	}
}

package dav

import (
	"testing"
	"time"

	"github.com/emersion/go-ical"

	"slotbook/internal/domain"
)

func newEvent(start, end time.Time) *ical.Event {
	ev := ical.NewEvent()
	ev.Props.SetText(ical.PropUID, "uid-1")
	ev.Props.SetDateTime(ical.PropDateTimeStart, start)
	ev.Props.SetDateTime(ical.PropDateTimeEnd, end)
	return ev
}

func TestBusyFromEvent(t *testing.T) {
	day := domain.Date(2026, 1, 5)
	window := domain.NewInterval(day, day.Add(24*time.Hour))

	t.Run("timed event", func(t *testing.T) {
		ev := newEvent(day.Add(10*time.Hour), day.Add(11*time.Hour))
		got := busyFromEvent(*ev, window, time.UTC, false)
		if len(got) != 1 {
			t.Fatalf("len = %d, want 1", len(got))
		}
		if !got[0].Start.Equal(day.Add(10*time.Hour)) || !got[0].End.Equal(day.Add(11*time.Hour)) {
			t.Fatalf("interval = %v", got[0].Interval)
		}
		if got[0].Source != "caldav" {
			t.Fatalf("source = %q, want caldav", got[0].Source)
		}
		if got[0].UID != "uid-1" {
			t.Fatalf("uid = %q, want uid-1", got[0].UID)
		}
	})

	t.Run("transparent event", func(t *testing.T) {
		ev := newEvent(day.Add(10*time.Hour), day.Add(11*time.Hour))
		ev.Props.SetText(ical.PropTransparency, "TRANSPARENT")
		if got := busyFromEvent(*ev, window, time.UTC, false); len(got) != 0 {
			t.Fatalf("len = %d, want 0", len(got))
		}
	})

	t.Run("all-day event", func(t *testing.T) {
		ev := ical.NewEvent()
		ev.Props.SetText(ical.PropUID, "uid-2")
		ev.Props.SetDate(ical.PropDateTimeStart, day)
		ev.Props.SetDate(ical.PropDateTimeEnd, day.AddDate(0, 0, 1))

		if got := busyFromEvent(*ev, window, time.UTC, true); len(got) != 0 {
			t.Fatalf("ignored all-day: len = %d, want 0", len(got))
		}
		if got := busyFromEvent(*ev, window, time.UTC, false); len(got) != 1 {
			t.Fatalf("all-day: len = %d, want 1", len(got))
		}
	})

	t.Run("all-day event in a non-UTC zone", func(t *testing.T) {
		ny, err := time.LoadLocation("America/New_York")
		if err != nil {
			t.Fatalf("LoadLocation error: %v", err)
		}
		ev := ical.NewEvent()
		ev.Props.SetText(ical.PropUID, "uid-3")
		ev.Props.SetDate(ical.PropDateTimeStart, day)
		ev.Props.SetDate(ical.PropDateTimeEnd, day.AddDate(0, 0, 1))

		wide := domain.NewInterval(day, day.Add(48*time.Hour))
		got := busyFromEvent(*ev, wide, ny, false)
		if len(got) != 1 {
			t.Fatalf("len = %d, want 1", len(got))
		}
		wantStart := time.Date(2026, 1, 5, 0, 0, 0, 0, ny)
		wantEnd := time.Date(2026, 1, 6, 0, 0, 0, 0, ny)
		if !got[0].Start.Equal(wantStart) || !got[0].End.Equal(wantEnd) {
			t.Fatalf("interval = %v, want %v to %v", got[0].Interval, wantStart, wantEnd)
		}
	})

	t.Run("outside window", func(t *testing.T) {
		ev := newEvent(day.Add(-3*time.Hour), day.Add(-2*time.Hour))
		if got := busyFromEvent(*ev, window, time.UTC, false); len(got) != 0 {
			t.Fatalf("len = %d, want 0", len(got))
		}
	})
}

func TestCalendarZone(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("LoadLocation error: %v", err)
	}

	cal := ical.NewCalendar()
	if got := calendarZone(cal, nil); got != time.UTC {
		t.Fatalf("zone = %v, want UTC", got)
	}
	if got := calendarZone(cal, ny); got != ny {
		t.Fatalf("zone = %v, want fallback", got)
	}

	cal.Props.SetText("X-WR-TIMEZONE", "Europe/Berlin")
	if got := calendarZone(cal, ny); got.String() != "Europe/Berlin" {
		t.Fatalf("zone = %v, want Europe/Berlin", got)
	}
}

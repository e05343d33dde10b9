package domain

import (
	"testing"
	"time"
)

func TestAvailabilityTemplateValidate(t *testing.T) {
	base := AvailabilityTemplate{
		OwnerID:        "u1",
		Timezone:       "UTC",
		ValidStartDate: Date(2026, 1, 1),
		Windows: []WeeklyWindow{
			{Weekday: 1, StartMinute: 9 * 60, EndMinute: 12 * 60},
			{Weekday: 1, StartMinute: 13 * 60, EndMinute: 17 * 60},
		},
	}

	if err := base.Validate(); err != nil {
		t.Fatalf("Validate error: %v", err)
	}

	tests := []struct {
		name     string
		template func() AvailabilityTemplate
		wantErr  string
	}{
		{
			name: "invalid time zone",
			template: func() AvailabilityTemplate {
				tpl := base
				tpl.Timezone = "Not/AZone"
				return tpl
			},
			wantErr: "invalid time_zone",
		},
		{
			name: "invalid weekday",
			template: func() AvailabilityTemplate {
				tpl := base
				tpl.Windows = []WeeklyWindow{{Weekday: 0, StartMinute: 60, EndMinute: 120}}
				return tpl
			},
			wantErr: "invalid weekday",
		},
		{
			name: "inverted window",
			template: func() AvailabilityTemplate {
				tpl := base
				tpl.Windows = []WeeklyWindow{{Weekday: 2, StartMinute: 600, EndMinute: 540}}
				return tpl
			},
			wantErr: "window end must be after window start within one day",
		},
		{
			name: "overlapping windows",
			template: func() AvailabilityTemplate {
				tpl := base
				tpl.Windows = []WeeklyWindow{
					{Weekday: 3, StartMinute: 540, EndMinute: 720},
					{Weekday: 3, StartMinute: 700, EndMinute: 800},
				}
				return tpl
			},
			wantErr: "windows for a weekday must not overlap",
		},
		{
			name: "end before start date",
			template: func() AvailabilityTemplate {
				tpl := base
				end := Date(2025, 12, 1)
				tpl.ValidEndDate = &end
				return tpl
			},
			wantErr: "valid_end_date must not precede valid_start_date",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.template().Validate()
			if err == nil {
				t.Fatalf("expected error")
			}
			if err.Error() != tt.wantErr {
				t.Fatalf("error = %q, want %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestUTCWindows_SortsAndFiltersByWeekday(t *testing.T) {
	tpl := AvailabilityTemplate{
		Timezone: "UTC",
		Windows: []WeeklyWindow{
			{Weekday: 1, StartMinute: 13 * 60, EndMinute: 17 * 60},
			{Weekday: 2, StartMinute: 8 * 60, EndMinute: 9 * 60},
			{Weekday: 1, StartMinute: 9 * 60, EndMinute: 12 * 60},
		},
	}

	monday := Date(2026, 1, 5)
	got := tpl.UTCWindows(monday, time.UTC)
	if len(got) != 2 {
		t.Fatalf("len(windows) = %d, want 2", len(got))
	}
	if got[0].Start.Hour() != 9 || got[1].Start.Hour() != 13 {
		t.Fatalf("windows = %v, want 09:00 then 13:00", got)
	}

	if got := tpl.UTCWindows(Date(2026, 1, 7), time.UTC); len(got) != 0 {
		t.Fatalf("wednesday windows = %v, want none", got)
	}
}

func TestUTCWindows_DSTKeepsLocalHours(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("LoadLocation error: %v", err)
	}

	tpl := AvailabilityTemplate{
		Timezone: "America/New_York",
		Windows:  []WeeklyWindow{{Weekday: 7, StartMinute: 9 * 60, EndMinute: 17 * 60}},
	}

	for _, date := range []time.Time{Date(2026, 3, 1), Date(2026, 3, 8), Date(2026, 3, 15)} {
		windows := tpl.UTCWindows(date, loc)
		if len(windows) != 1 {
			t.Fatalf("%s: len(windows) = %d, want 1", FormatDate(date), len(windows))
		}
		w := windows[0]
		if w.Start.In(loc).Hour() != 9 || w.End.In(loc).Hour() != 17 {
			t.Fatalf("%s: local window = %v-%v, want 09-17", FormatDate(date), w.Start.In(loc), w.End.In(loc))
		}
		if w.Start.Location() != time.UTC {
			t.Fatalf("%s: window start not in UTC", FormatDate(date))
		}
	}
}

func TestUTCWindows_EndOfDay(t *testing.T) {
	tpl := AvailabilityTemplate{
		Timezone: "UTC",
		Windows:  []WeeklyWindow{{Weekday: 5, StartMinute: 22 * 60, EndMinute: 24 * 60}},
	}
	friday := Date(2026, 1, 9)
	got := tpl.UTCWindows(friday, time.UTC)
	if len(got) != 1 {
		t.Fatalf("len(windows) = %d, want 1", len(got))
	}
	want := Date(2026, 1, 10)
	if !got[0].End.Equal(want) {
		t.Fatalf("end = %v, want %v", got[0].End, want)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{in: 30 * time.Minute, want: "30 minutes"},
		{in: time.Hour, want: "1 hour"},
		{in: 90 * time.Minute, want: "1 hour 30 minutes"},
		{in: 121 * time.Minute, want: "2 hours 1 minute"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.in); got != tt.want {
			t.Fatalf("FormatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGroupValidate(t *testing.T) {
	g := AppointmentGroup{ID: "g1", Policy: PolicyAllRequired, DurationID: "d30"}
	if err := g.Validate(); err != ErrEmptyGroupMembership {
		t.Fatalf("error = %v, want %v", err, ErrEmptyGroupMembership)
	}

	g.Members = []string{"a"}
	g.MeetingProvider = MeetingProviderCustom
	if err := g.Validate(); err == nil {
		t.Fatalf("expected error for custom provider without link")
	}

	g.MeetingLink = "https://meet.example.com/room"
	if err := g.Validate(); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
}

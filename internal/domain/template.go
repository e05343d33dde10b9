package domain

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/uptrace/bun"
)

const minutesPerDay = 24 * 60

// WeeklyWindow is a local-time opening on one ISO weekday. Minutes count from local midnight.
type WeeklyWindow struct {
	Weekday     Weekday `json:"weekday"`
	StartMinute int     `json:"start_minute"`
	EndMinute   int     `json:"end_minute"`
}

type AvailabilityTemplate struct {
	bun.BaseModel `bun:"table:availability_templates"`

	OwnerID        string         `bun:"owner_id,pk"`
	Timezone       string         `bun:"timezone,notnull"`
	Windows        []WeeklyWindow `bun:"windows,type:jsonb,notnull"`
	ValidStartDate time.Time      `bun:"valid_start_date,type:date,notnull"`
	ValidEndDate   *time.Time     `bun:"valid_end_date,type:date"`
	CreatedAt      time.Time      `bun:"created_at,notnull"`
	UpdatedAt      time.Time      `bun:"updated_at,notnull"`
}

func (t *AvailabilityTemplate) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		if t.UpdatedAt.IsZero() {
			t.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		t.UpdatedAt = now
	}
	return nil
}

func (t AvailabilityTemplate) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		return nil, errors.New("invalid time_zone")
	}
	return loc, nil
}

func (t AvailabilityTemplate) Validate() error {
	if t.OwnerID == "" {
		return errors.New("owner_id is required")
	}
	if _, err := t.Location(); err != nil {
		return err
	}
	if t.ValidStartDate.IsZero() {
		return errors.New("valid_start_date is required")
	}
	if t.ValidEndDate != nil && t.ValidEndDate.Before(t.ValidStartDate) {
		return errors.New("valid_end_date must not precede valid_start_date")
	}

	byDay := make(map[Weekday][]WeeklyWindow, 7)
	for _, w := range t.Windows {
		if !w.Weekday.Valid() {
			return errors.New("invalid weekday")
		}
		if w.StartMinute < 0 || w.EndMinute > minutesPerDay || w.EndMinute <= w.StartMinute {
			return errors.New("window end must be after window start within one day")
		}
		byDay[w.Weekday] = append(byDay[w.Weekday], w)
	}
	for _, windows := range byDay {
		sort.Slice(windows, func(i, j int) bool { return windows[i].StartMinute < windows[j].StartMinute })
		for i := 1; i < len(windows); i++ {
			if windows[i].StartMinute < windows[i-1].EndMinute {
				return errors.New("windows for a weekday must not overlap")
			}
		}
	}
	return nil
}

// Weekdays is the set of weekdays that carry at least one window.
func (t AvailabilityTemplate) Weekdays() map[Weekday]bool {
	out := make(map[Weekday]bool, 7)
	for _, w := range t.Windows {
		out[w.Weekday] = true
	}
	return out
}

// UTCWindows converts the windows of date's weekday into UTC intervals, ordered by start.
// Wall-clock times are resolved in loc, so a DST transition shortens or lengthens the interval.
func (t AvailabilityTemplate) UTCWindows(date time.Time, loc *time.Location) []Interval {
	wd := ISOWeekday(date)
	out := make([]Interval, 0, 2)
	for _, w := range t.Windows {
		if w.Weekday != wd {
			continue
		}
		start := time.Date(date.Year(), date.Month(), date.Day(), w.StartMinute/60, w.StartMinute%60, 0, 0, loc)
		end := time.Date(date.Year(), date.Month(), date.Day(), w.EndMinute/60, w.EndMinute%60, 0, 0, loc)
		iv := NewInterval(start, end)
		if iv.IsEmpty() {
			continue
		}
		out = append(out, iv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

type DurationOption struct {
	bun.BaseModel `bun:"table:duration_options"`

	ID                     string    `bun:"id,pk"`
	OwnerID                string    `bun:"owner_id,notnull"`
	Label                  string    `bun:"label,notnull"`
	DurationMinutes        int       `bun:"duration_minutes,notnull"`
	StepMinutes            int       `bun:"step_minutes,notnull"`
	LeadTimeMinutes        int       `bun:"lead_time_minutes,notnull"`
	BufferMinutes          int       `bun:"buffer_minutes,notnull"`
	MinimumNoticeDays      int       `bun:"minimum_notice_days,notnull"`
	AvailabilityWindowDays int       `bun:"availability_window_days,notnull"`
	MaxBookingsPerDay      int       `bun:"max_bookings_per_day,notnull"`
	CreatedAt              time.Time `bun:"created_at,notnull"`
	UpdatedAt              time.Time `bun:"updated_at,notnull"`
}

func (d *DurationOption) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if d.CreatedAt.IsZero() {
			d.CreatedAt = now
		}
		if d.UpdatedAt.IsZero() {
			d.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		d.UpdatedAt = now
	}
	return nil
}

func (d DurationOption) Validate() error {
	if d.DurationMinutes <= 0 {
		return errors.New("duration must be positive")
	}
	if d.StepMinutes < 0 || d.LeadTimeMinutes < 0 || d.BufferMinutes < 0 {
		return errors.New("step, lead time and buffer must not be negative")
	}
	if d.MinimumNoticeDays < 0 || d.AvailabilityWindowDays < 0 {
		return errors.New("notice and window days must not be negative")
	}
	return nil
}

func (d DurationOption) Duration() time.Duration {
	return time.Duration(d.DurationMinutes) * time.Minute
}

// Step defaults to the duration.
func (d DurationOption) Step() time.Duration {
	if d.StepMinutes <= 0 {
		return d.Duration()
	}
	return time.Duration(d.StepMinutes) * time.Minute
}

func (d DurationOption) LeadTime() time.Duration {
	return time.Duration(d.LeadTimeMinutes) * time.Minute
}

func (d DurationOption) Buffer() time.Duration {
	return time.Duration(d.BufferMinutes) * time.Minute
}

// LimitsBookingsPerDay reports whether MaxBookingsPerDay applies. Zero or negative means unlimited.
func (d DurationOption) LimitsBookingsPerDay() bool {
	return d.MaxBookingsPerDay > 0
}

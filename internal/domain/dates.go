package domain

import (
	"errors"
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

// Date returns the civil date as UTC midnight.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DateOf returns the civil date of t in t's own location, as UTC midnight.
func DateOf(t time.Time) time.Time {
	return Date(t.Year(), t.Month(), t.Day())
}

func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, errors.New("date must be formatted as YYYY-MM-DD")
	}
	return d, nil
}

func FormatDate(d time.Time) string {
	return d.Format(DateLayout)
}

// Weekday is an ISO weekday, Monday = 1 through Sunday = 7.
type Weekday int16

func ISOWeekday(d time.Time) Weekday {
	if d.Weekday() == time.Sunday {
		return 7
	}
	return Weekday(d.Weekday())
}

func (w Weekday) Valid() bool {
	return w >= 1 && w <= 7
}

func (w Weekday) String() string {
	if !w.Valid() {
		return "invalid"
	}
	if w == 7 {
		return time.Sunday.String()
	}
	return time.Weekday(w).String()
}

// LocalMidnight returns the instant the civil date begins in loc.
func LocalMidnight(date time.Time, loc *time.Location) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)
}

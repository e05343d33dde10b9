package domain

import "time"

// Interval is a half-open UTC range [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func NewInterval(start, end time.Time) Interval {
	return Interval{Start: start.UTC(), End: end.UTC()}
}

func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

func (i Interval) IsEmpty() bool {
	return !i.End.After(i.Start)
}

func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

func (i Interval) Contains(o Interval) bool {
	return !o.Start.Before(i.Start) && !o.End.After(i.End)
}

func (i Interval) Equal(o Interval) bool {
	return i.Start.Equal(o.Start) && i.End.Equal(o.End)
}

// BusyInterval is a committed range reported by one calendar source.
type BusyInterval struct {
	Interval
	Source string `json:"source"`
	// UID is the iCalendar UID of the event behind the range, when the source reports one.
	UID string `json:"uid,omitempty"`
}

// Slot is a bookable candidate. It is derived per query and only persisted as part of a Booking.
type Slot = Interval

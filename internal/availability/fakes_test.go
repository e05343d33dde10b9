package availability

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"slotbook/internal/domain"
	"slotbook/internal/store"
)

type fakeLinks struct {
	links map[string][]domain.CalendarLink
}

func (f *fakeLinks) ListLinks(ctx context.Context, participantID string) ([]domain.CalendarLink, error) {
	return f.links[participantID], nil
}

func (f *fakeLinks) GetLink(ctx context.Context, id uuid.UUID) (domain.CalendarLink, error) {
	panic("GetLink not configured")
}

func googleLink(participantID, calendarID string) domain.CalendarLink {
	return domain.CalendarLink{ParticipantID: participantID, Provider: domain.CalendarProviderGoogle, CalendarID: calendarID}
}

type fakeSource struct {
	mu    sync.Mutex
	calls map[string]int
	fn    func(ctx context.Context, link domain.CalendarLink, window domain.Interval, call int) ([]domain.BusyInterval, error)
}

func (f *fakeSource) BusyIntervals(ctx context.Context, link domain.CalendarLink, window domain.Interval) ([]domain.BusyInterval, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[link.CalendarID]++
	call := f.calls[link.CalendarID]
	f.mu.Unlock()

	if f.fn == nil {
		return nil, nil
	}
	return f.fn(ctx, link, window, call)
}

func (f *fakeSource) callCount(calendarID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[calendarID]
}

func busyAt(iv domain.Interval) domain.BusyInterval {
	return domain.BusyInterval{Interval: iv, Source: "google"}
}

type fakeTemplates struct {
	templates map[string]domain.AvailabilityTemplate
	durations map[string]domain.DurationOption
}

func (f *fakeTemplates) GetTemplate(ctx context.Context, ownerID string) (domain.AvailabilityTemplate, error) {
	tpl, ok := f.templates[ownerID]
	if !ok {
		return domain.AvailabilityTemplate{}, store.ErrNotFound
	}
	return tpl, nil
}

func (f *fakeTemplates) GetDuration(ctx context.Context, id string) (domain.DurationOption, error) {
	d, ok := f.durations[id]
	if !ok {
		return domain.DurationOption{}, store.ErrNotFound
	}
	return d, nil
}

func (f *fakeTemplates) ListDurations(ctx context.Context, ownerID string) ([]domain.DurationOption, error) {
	var out []domain.DurationOption
	for _, d := range f.durations {
		if d.OwnerID == ownerID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type fakeGroups struct {
	groups map[string]domain.AppointmentGroup
}

func (f *fakeGroups) GetGroup(ctx context.Context, id string) (domain.AppointmentGroup, error) {
	g, ok := f.groups[id]
	if !ok {
		return domain.AppointmentGroup{}, store.ErrNotFound
	}
	return g, nil
}

func (f *fakeGroups) ListGroupIDs(ctx context.Context) ([]string, error) {
	ids := make([]string, 0, len(f.groups))
	for id := range f.groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

type fakeBookings struct {
	bookings []domain.Booking
}

func (f *fakeBookings) ListActiveBookings(ctx context.Context, participantIDs []string, windowStart, windowEnd time.Time) ([]domain.Booking, error) {
	want := make(map[string]bool, len(participantIDs))
	for _, id := range participantIDs {
		want[id] = true
	}
	var out []domain.Booking
	for _, b := range f.bookings {
		if b.Status != domain.BookingStatusActive {
			continue
		}
		if !b.StartTime.Before(windowEnd) || !b.EndTime.After(windowStart) {
			continue
		}
		for _, p := range b.Participants {
			if want[p] {
				out = append(out, b)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeBookings) GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	for _, b := range f.bookings {
		if b.ID == id {
			return b, nil
		}
	}
	return domain.Booking{}, store.ErrNotFound
}

type fakeSlotCache struct {
	days map[string]CachedDay
}

func (f *fakeSlotCache) GetSlots(ctx context.Context, groupID string, date time.Time) (CachedDay, bool, error) {
	d, ok := f.days[groupID+"/"+domain.FormatDate(date)]
	return d, ok, nil
}

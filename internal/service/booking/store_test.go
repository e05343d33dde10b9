package booking

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"slotbook/internal/domain"
	"slotbook/internal/store"
)

// memStore is an in-memory implementation of every store the service and engine read. Its
// transactions serialize per participant and buffer writes until fn returns nil.
type memStore struct {
	mu        sync.Mutex
	templates map[string]domain.AvailabilityTemplate
	durations map[string]domain.DurationOption
	groups    map[string]domain.AppointmentGroup
	links     map[string][]domain.CalendarLink
	bookings  map[uuid.UUID]domain.Booking

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	createErr error
}

func newMemStore() *memStore {
	return &memStore{
		templates: map[string]domain.AvailabilityTemplate{},
		durations: map[string]domain.DurationOption{},
		groups:    map[string]domain.AppointmentGroup{},
		links:     map[string][]domain.CalendarLink{},
		bookings:  map[uuid.UUID]domain.Booking{},
		locks:     map[string]*sync.Mutex{},
	}
}

func (m *memStore) GetTemplate(ctx context.Context, ownerID string) (domain.AvailabilityTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.templates[ownerID]
	if !ok {
		return domain.AvailabilityTemplate{}, store.ErrNotFound
	}
	return t, nil
}

func (m *memStore) GetDuration(ctx context.Context, id string) (domain.DurationOption, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.durations[id]
	if !ok {
		return domain.DurationOption{}, store.ErrNotFound
	}
	return d, nil
}

func (m *memStore) ListDurations(ctx context.Context, ownerID string) ([]domain.DurationOption, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.DurationOption
	for _, d := range m.durations {
		if d.OwnerID == ownerID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memStore) GetGroup(ctx context.Context, id string) (domain.AppointmentGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[id]
	if !ok {
		return domain.AppointmentGroup{}, store.ErrNotFound
	}
	return g, nil
}

func (m *memStore) ListGroupIDs(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.groups))
	for id := range m.groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memStore) ListLinks(ctx context.Context, participantID string) ([]domain.CalendarLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.links[participantID], nil
}

func (m *memStore) GetLink(ctx context.Context, id uuid.UUID) (domain.CalendarLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, links := range m.links {
		for _, l := range links {
			if l.ID == id {
				return l, nil
			}
		}
	}
	return domain.CalendarLink{}, store.ErrNotFound
}

func (m *memStore) ListActiveBookings(ctx context.Context, participantIDs []string, windowStart, windowEnd time.Time) ([]domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	window := domain.NewInterval(windowStart, windowEnd)
	var out []domain.Booking
	for _, b := range m.bookings {
		if b.Status != domain.BookingStatusActive || !b.Interval().Overlaps(window) {
			continue
		}
		if sharesParticipant(b.Participants, participantIDs) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memStore) GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return domain.Booking{}, store.ErrNotFound
	}
	return b, nil
}

func (m *memStore) booking(id uuid.UUID) domain.Booking {
	b, _ := m.GetBooking(context.Background(), id)
	return b
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bookings)
}

func (m *memStore) lock(id string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

func (m *memStore) InParticipantsTransaction(ctx context.Context, participantIDs []string, fn func(ctx context.Context, tx store.BookingTx) error) error {
	ids := append([]string(nil), participantIDs...)
	sort.Strings(ids)
	for _, id := range ids {
		l := m.lock(id)
		l.Lock()
		defer l.Unlock()
	}

	tx := &memTx{memStore: m}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range tx.created {
		m.bookings[b.ID] = b
	}
	for _, u := range tx.updates {
		b := m.bookings[u.id]
		b.Status = u.status
		b.RescheduledToID = u.rescheduledTo
		m.bookings[u.id] = b
	}
	return nil
}

type statusUpdate struct {
	id            uuid.UUID
	status        domain.BookingStatus
	rescheduledTo *uuid.UUID
}

type memTx struct {
	*memStore
	created []domain.Booking
	updates []statusUpdate
}

func (t *memTx) FindActiveByVisitor(ctx context.Context, subject domain.Subject, visitorEmail string) (domain.Booking, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, b := range t.bookings {
		if b.Status == domain.BookingStatusActive && b.Subject() == subject && b.VisitorEmail == visitorEmail {
			return b, nil
		}
	}
	return domain.Booking{}, store.ErrNotFound
}

func (t *memTx) CreateBooking(ctx context.Context, b domain.Booking) (domain.Booking, error) {
	if t.createErr != nil {
		return domain.Booking{}, t.createErr
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.bookings[b.ID]; ok {
		return domain.Booking{}, store.ErrIdempotencyConflict
	}
	for _, other := range t.bookings {
		if other.Status == domain.BookingStatusActive && other.Interval().Overlaps(b.Interval()) && sharesParticipant(other.Participants, b.Participants) {
			if !t.releasing(other.ID) {
				return domain.Booking{}, store.ErrConflict
			}
		}
	}
	t.created = append(t.created, b)
	return b, nil
}

func (t *memTx) releasing(id uuid.UUID) bool {
	for _, u := range t.updates {
		if u.id == id {
			return true
		}
	}
	return false
}

func (t *memTx) UpdateBookingStatus(ctx context.Context, id uuid.UUID, status domain.BookingStatus, rescheduledTo *uuid.UUID) error {
	if _, err := t.GetBooking(ctx, id); err != nil {
		return err
	}
	t.updates = append(t.updates, statusUpdate{id: id, status: status, rescheduledTo: rescheduledTo})
	return nil
}

func sharesParticipant(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

var errWriterDown = errors.New("calendar unavailable")

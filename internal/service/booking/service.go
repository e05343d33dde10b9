package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"slotbook/internal/availability"
	"slotbook/internal/calendar"
	"slotbook/internal/domain"
	"slotbook/internal/store"
)

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

type dayEngine interface {
	Plan(ctx context.Context, subject domain.Subject, durationID string) (availability.Plan, error)
	ComputeDay(ctx context.Context, plan availability.Plan, date time.Time, opts availability.DayOptions) (availability.Day, error)
	Now() time.Time
}

// EventWriter creates and cancels events on one calendar provider.
type EventWriter interface {
	CreateEvent(ctx context.Context, link domain.CalendarLink, ev calendar.Event) (domain.EventRef, error)
	CancelEvent(ctx context.Context, ref domain.EventRef) error
	// IdempotentWrites reports whether a repeated CreateEvent for the same booking cannot duplicate.
	IdempotentWrites() bool
}

type Hook interface {
	Post(ctx context.Context, url string, body any) error
}

type Notifier interface {
	SubjectChanged(ctx context.Context, subject domain.Subject)
}

type Service struct {
	engine   dayEngine
	bookings store.BookingStore
	links    store.CalendarLinkStore
	writers  map[domain.CalendarProvider]EventWriter
	hook     Hook
	notifier Notifier
	baseURL  string

	writeAttempts  int
	writeBackoff   time.Duration
	attemptTimeout time.Duration

	log    *slog.Logger
	flight singleflight.Group
}

type Option func(*Service)

func WithLogger(log *slog.Logger) Option {
	return func(s *Service) { s.log = log }
}

func WithHook(h Hook) Option {
	return func(s *Service) { s.hook = h }
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithPublicBaseURL sets the origin reschedule links point at.
func WithPublicBaseURL(u string) Option {
	return func(s *Service) { s.baseURL = strings.TrimRight(u, "/") }
}

// WithWriteRetry bounds retries of event creation for writers with idempotent writes.
func WithWriteRetry(attempts int, backoff time.Duration) Option {
	return func(s *Service) {
		if attempts > 0 {
			s.writeAttempts = attempts
		}
		s.writeBackoff = backoff
	}
}

// WithAttemptTimeout bounds a keyed attempt. It runs apart from the caller's context so callers
// sharing the key are not failed by the first one going away.
func WithAttemptTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.attemptTimeout = d
		}
	}
}

func NewService(engine dayEngine, bookings store.BookingStore, links store.CalendarLinkStore, writers map[domain.CalendarProvider]EventWriter, opts ...Option) *Service {
	s := &Service{
		engine:        engine,
		bookings:      bookings,
		links:         links,
		writers:       writers,
		writeAttempts:  3,
		writeBackoff:   200 * time.Millisecond,
		attemptTimeout: 30 * time.Second,
		log:            slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(slog.String("component", "booking"))
	return s
}

type Visitor struct {
	Name  string
	Email string
}

type BookInput struct {
	Subject    domain.Subject
	DurationID string
	// Date is the owner-local date of the slot. When zero it is derived from StartTime.
	Date              time.Time
	StartTime         time.Time
	EndTime           time.Time
	Visitor           Visitor
	ReferenceMetadata map[string]any
	RescheduleToken   string
	EventToken        string
	IdempotencyKey    string
}

type Result struct {
	Booking         domain.Booking
	EventID         string
	MeetingProvider domain.MeetingProvider
	MeetLink        string
	RescheduleURL   string
	RescheduleToken string
	StatusMessage   string
	// Replayed is set when an earlier request with the same idempotency key created the booking.
	Replayed bool
}

// HookPayload is posted to a group's webhook before the booking commits.
type HookPayload struct {
	BookingID         uuid.UUID      `json:"booking_id"`
	SubjectKind       string         `json:"subject_kind"`
	SubjectID         string         `json:"subject_id"`
	StartTime         time.Time      `json:"start_time"`
	EndTime           time.Time      `json:"end_time"`
	Participants      []string       `json:"participants"`
	VisitorName       string         `json:"visitor_name"`
	VisitorEmail      string         `json:"visitor_email"`
	ReferenceMetadata map[string]any `json:"reference_metadata,omitempty"`
	PreviousBookingID *uuid.UUID     `json:"previous_booking_id,omitempty"`
}

func normalize(in BookInput) (BookInput, error) {
	switch in.Subject.Kind {
	case domain.SubjectUser, domain.SubjectGroup:
	default:
		return in, validationError("subject_kind must be user or group")
	}
	in.Subject.ID = strings.TrimSpace(in.Subject.ID)
	if in.Subject.ID == "" {
		return in, validationError("subject_id is required")
	}
	if in.StartTime.IsZero() || in.EndTime.IsZero() {
		return in, validationError("start_time and end_time are required")
	}
	in.StartTime = in.StartTime.UTC()
	in.EndTime = in.EndTime.UTC()
	if !in.EndTime.After(in.StartTime) {
		return in, validationError("end_time must be after start_time")
	}

	in.Visitor.Email = strings.TrimSpace(in.Visitor.Email)
	in.Visitor.Name = strings.TrimSpace(in.Visitor.Name)
	if in.Visitor.Email == "" || !strings.Contains(in.Visitor.Email, "@") {
		return in, validationError("visitor email is required")
	}
	if in.Visitor.Name == "" {
		in.Visitor.Name = in.Visitor.Email
	}

	in.IdempotencyKey = strings.TrimSpace(in.IdempotencyKey)
	if len(in.IdempotencyKey) > 256 {
		return in, validationError("idempotency_key too long")
	}
	return in, nil
}

// Book validates the slot against fresh availability and commits it. Concurrent calls sharing an
// idempotency key share one attempt.
func (s *Service) Book(ctx context.Context, in BookInput) (Result, error) {
	in, err := normalize(in)
	if err != nil {
		return Result{}, err
	}
	if in.IdempotencyKey == "" {
		return s.book(ctx, in, uuid.Nil)
	}

	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte("slotbook:book:"+in.Subject.String()+":"+in.IdempotencyKey))
	ch := s.flight.DoChan(id.String(), func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.attemptTimeout)
		defer cancel()
		return s.book(ctx, in, id)
	})

	var r singleflight.Result
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case r = <-ch:
	}
	if r.Err != nil {
		return Result{}, r.Err
	}
	res := r.Val.(Result)
	if !sameRequest(res.Booking, in) {
		return Result{}, store.ErrIdempotencyConflict
	}
	return res, nil
}

// sameRequest reports whether b is what in asks for. A key reused by another visitor never
// hands back the original booking or its reschedule token.
func sameRequest(b domain.Booking, in BookInput) bool {
	return b.Subject() == in.Subject &&
		b.Interval().Equal(domain.NewInterval(in.StartTime, in.EndTime)) &&
		strings.EqualFold(b.VisitorEmail, in.Visitor.Email)
}

func (s *Service) book(ctx context.Context, in BookInput, id uuid.UUID) (Result, error) {
	slot := domain.NewInterval(in.StartTime, in.EndTime)
	attempt := newAttempt(s.log, in.Subject, slot)

	if id != uuid.Nil {
		existing, err := s.bookings.GetBooking(ctx, id)
		if err == nil {
			return s.replay(attempt, existing, in)
		}
		if !errors.Is(err, store.ErrNotFound) {
			return s.fail(attempt, err)
		}
	} else {
		var err error
		if id, err = uuid.NewV7(); err != nil {
			return s.fail(attempt, err)
		}
	}

	plan, err := s.engine.Plan(ctx, in.Subject, in.DurationID)
	if err != nil {
		return s.fail(attempt, err)
	}
	if len(plan.Members) == 0 {
		return s.fail(attempt, domain.ErrEmptyGroupMembership)
	}
	if slot.Duration() != plan.Duration.Duration() {
		return s.fail(attempt, validationError("slot length must be "+domain.FormatDuration(plan.Duration.Duration())))
	}
	date := in.Date
	if date.IsZero() {
		date = domain.DateOf(slot.Start.In(plan.Members[0].Location))
	}

	var (
		created  domain.Booking
		replayed *domain.Booking
		previous *domain.Booking
		written  []domain.EventRef
	)

	attempt.transition(StateValidating)
	err = s.bookings.InParticipantsTransaction(ctx, plan.MemberIDs(), func(ctx context.Context, tx store.BookingTx) error {
		if in.IdempotencyKey != "" {
			existing, err := tx.GetBooking(ctx, id)
			if err == nil {
				replayed = &existing
				return nil
			}
			if !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}

		opts := availability.DayOptions{Strict: true, Bookings: tx}
		if in.RescheduleToken != "" || in.EventToken != "" {
			old, err := availability.LookupRescheduleTarget(ctx, tx, in.Subject, in.RescheduleToken, in.EventToken)
			if err != nil {
				return err
			}
			previous = &old
			opts.Moving = &old
			attempt.transition(StateRescheduling, slog.String("previous_booking_id", old.ID.String()))
		}

		if plan.Group != nil && plan.Group.ScheduleOnlyOnce && previous == nil {
			_, err := tx.FindActiveByVisitor(ctx, in.Subject, in.Visitor.Email)
			if err == nil {
				return validationError("visitor already holds a booking with this group")
			}
			if !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}

		day, err := s.engine.ComputeDay(ctx, plan, date, opts)
		if err != nil {
			return err
		}
		if day.IsInvalidDate {
			return domain.ErrInvalidDateRange
		}
		if !availability.ContainsSlot(day.Slots, slot) {
			return domain.ErrSlotConflict
		}
		hosts, err := chooseHosts(plan, day, slot, previous)
		if err != nil {
			return err
		}

		b, organizer, err := s.draft(ctx, id, in, plan, hosts, previous)
		if err != nil {
			return err
		}

		if plan.Group != nil && plan.Group.WebhookURL != "" && s.hook != nil {
			if err := s.hook.Post(ctx, plan.Group.WebhookURL, hookPayload(b)); err != nil {
				return validationError(err.Error())
			}
		}

		if organizer != nil {
			ref, err := s.createEvent(ctx, *organizer, calendar.EventFromBooking(b))
			if err != nil {
				return err
			}
			written = append(written, ref)
			b.EventRefs = []domain.EventRef{ref}
			if ref.MeetLink != "" {
				b.MeetLink = ref.MeetLink
			}
		}

		// The old booking is released first so the new one may reuse its time.
		if previous != nil {
			if err := tx.UpdateBookingStatus(ctx, previous.ID, domain.BookingStatusRescheduled, &b.ID); err != nil {
				return err
			}
		}
		saved, err := tx.CreateBooking(ctx, b)
		if err != nil {
			return err
		}
		created = saved
		return nil
	})
	if err != nil {
		for _, ref := range written {
			s.cancelEvent(ctx, ref)
		}
		if errors.Is(err, store.ErrConflict) {
			err = domain.ErrSlotConflict
		}
		if errors.Is(err, domain.ErrSlotConflict) {
			attempt.transition(StateConflict)
			return Result{}, err
		}
		return s.fail(attempt, err)
	}
	if replayed != nil {
		return s.replay(attempt, *replayed, in)
	}

	if previous != nil {
		for _, ref := range previous.EventRefs {
			s.cancelEvent(ctx, ref)
		}
	}
	if s.notifier != nil {
		s.notifier.SubjectChanged(ctx, in.Subject)
	}

	attempt.transition(StateCommitted, slog.String("booking_id", created.ID.String()))
	return s.result(created, false), nil
}

func (s *Service) fail(a *Attempt, err error) (Result, error) {
	a.transition(StateFailed, slog.Any("err", err))
	return Result{}, err
}

func (s *Service) replay(a *Attempt, existing domain.Booking, in BookInput) (Result, error) {
	if !sameRequest(existing, in) {
		return s.fail(a, store.ErrIdempotencyConflict)
	}
	a.transition(StateCommitted, slog.String("booking_id", existing.ID.String()), slog.Bool("replayed", true))
	return s.result(existing, true), nil
}

// chooseHosts keeps every member for all_required. For any_one a reschedule keeps its host when
// still free; otherwise the first free member in membership order hosts.
func chooseHosts(plan availability.Plan, day availability.Day, slot domain.Slot, previous *domain.Booking) ([]string, error) {
	if plan.Policy != domain.PolicyAnyOne {
		return plan.MemberIDs(), nil
	}
	if previous != nil && len(previous.Participants) > 0 {
		keep := true
		for _, id := range previous.Participants {
			if _, ok := availability.AssignHost([]string{id}, day.Free, slot); !ok {
				keep = false
				break
			}
		}
		if keep {
			return previous.Participants, nil
		}
	}
	host, ok := availability.AssignHost(plan.MemberIDs(), day.Free, slot)
	if !ok {
		return nil, domain.ErrSlotConflict
	}
	return []string{host}, nil
}

func (s *Service) draft(ctx context.Context, id uuid.UUID, in BookInput, plan availability.Plan, hosts []string, previous *domain.Booking) (domain.Booking, *domain.CalendarLink, error) {
	organizer, err := s.organizerLink(ctx, plan, hosts)
	if err != nil {
		return domain.Booking{}, nil, err
	}
	attendees, err := s.attendeeEmails(ctx, hosts, in.Visitor.Email)
	if err != nil {
		return domain.Booking{}, nil, err
	}

	owner := in.Subject.ID
	provider := domain.MeetingProviderNone
	var base map[string]any
	b := domain.Booking{
		ID:              id,
		SubjectKind:     in.Subject.Kind,
		SubjectID:       in.Subject.ID,
		Participants:    hosts,
		StartTime:       in.StartTime,
		EndTime:         in.EndTime,
		Status:          domain.BookingStatusActive,
		RescheduleToken: uuid.NewString(),
		VisitorName:     in.Visitor.Name,
		VisitorEmail:    in.Visitor.Email,
		AttendeeEmails:  attendees,
	}
	if g := plan.Group; g != nil {
		owner = g.Title
		provider = g.MeetingProvider
		base = g.ReferenceMetadata
		if provider == domain.MeetingProviderCustom {
			b.MeetLink = g.MeetingLink
		}
	}
	if provider == "" {
		provider = domain.MeetingProviderNone
	}
	b.MeetingProvider = provider
	b.Summary = fmt.Sprintf("Meet: %s <> %s (%s)", in.Visitor.Name, owner, domain.FormatDuration(plan.Duration.Duration()))

	if previous != nil {
		base = mergeMetadata(base, previous.ReferenceMetadata)
		b.PreviousBookingID = &previous.ID
	}
	b.ReferenceMetadata = mergeMetadata(base, in.ReferenceMetadata)
	if in.IdempotencyKey != "" {
		key := in.IdempotencyKey
		b.IdempotencyKey = &key
	}
	if organizer != nil {
		b.OrganizerEmail = organizer.Email
	}
	return b, organizer, nil
}

// organizerLink is the group's configured link, else the first host's primary link. Nil means
// the booking has no external event.
func (s *Service) organizerLink(ctx context.Context, plan availability.Plan, hosts []string) (*domain.CalendarLink, error) {
	if plan.Group != nil && plan.Group.OrganizerLinkID != nil {
		link, err := s.links.GetLink(ctx, *plan.Group.OrganizerLinkID)
		if err != nil {
			return nil, fmt.Errorf("organizer link: %w", err)
		}
		return &link, nil
	}
	links, err := s.links.ListLinks(ctx, hosts[0])
	if err != nil {
		return nil, err
	}
	link, ok := primaryLink(links)
	if !ok {
		return nil, nil
	}
	return &link, nil
}

func (s *Service) attendeeEmails(ctx context.Context, hosts []string, visitorEmail string) ([]string, error) {
	seen := make(map[string]struct{}, len(hosts)+1)
	out := make([]string, 0, len(hosts)+1)
	add := func(email string) {
		key := strings.ToLower(email)
		if email == "" {
			return
		}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, email)
	}
	for _, id := range hosts {
		links, err := s.links.ListLinks(ctx, id)
		if err != nil {
			return nil, err
		}
		if link, ok := primaryLink(links); ok {
			add(link.Email)
		}
	}
	add(visitorEmail)
	return out, nil
}

func primaryLink(links []domain.CalendarLink) (domain.CalendarLink, bool) {
	for _, l := range links {
		if l.Primary {
			return l, true
		}
	}
	if len(links) > 0 {
		return links[0], true
	}
	return domain.CalendarLink{}, false
}

func mergeMetadata(base, over map[string]any) map[string]any {
	if len(base) == 0 && len(over) == 0 {
		return nil
	}
	out := make(map[string]any, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

func hookPayload(b domain.Booking) HookPayload {
	return HookPayload{
		BookingID:         b.ID,
		SubjectKind:       string(b.SubjectKind),
		SubjectID:         b.SubjectID,
		StartTime:         b.StartTime,
		EndTime:           b.EndTime,
		Participants:      b.Participants,
		VisitorName:       b.VisitorName,
		VisitorEmail:      b.VisitorEmail,
		ReferenceMetadata: b.ReferenceMetadata,
		PreviousBookingID: b.PreviousBookingID,
	}
}

func (s *Service) createEvent(ctx context.Context, link domain.CalendarLink, ev calendar.Event) (domain.EventRef, error) {
	w, ok := s.writers[link.Provider]
	if !ok {
		return domain.EventRef{}, fmt.Errorf("no event writer for provider %q", link.Provider)
	}

	attempts := 1
	if w.IdempotentWrites() {
		attempts = s.writeAttempts
	}

	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			t := time.NewTimer(s.writeBackoff << (i - 1))
			select {
			case <-ctx.Done():
				t.Stop()
				return domain.EventRef{}, errors.Join(err, ctx.Err())
			case <-t.C:
			}
		}
		var ref domain.EventRef
		ref, err = w.CreateEvent(ctx, link, ev)
		if err == nil {
			return ref, nil
		}
		s.log.Warn("event create failed", slog.Any("err", err), slog.Int("attempt", i+1), slog.String("provider", string(link.Provider)))
	}
	return domain.EventRef{}, fmt.Errorf("create event: %w", err)
}

func (s *Service) cancelEvent(ctx context.Context, ref domain.EventRef) {
	w, ok := s.writers[ref.Provider]
	if !ok {
		return
	}
	if err := w.CancelEvent(context.WithoutCancel(ctx), ref); err != nil {
		s.log.Warn("event cancel failed", slog.Any("err", err), slog.String("event_id", ref.EventID))
	}
}

func (s *Service) result(b domain.Booking, replayed bool) Result {
	msg := "booking confirmed"
	switch {
	case replayed:
		msg = "booking already exists"
	case b.PreviousBookingID != nil:
		msg = "booking rescheduled"
	}
	ref, _ := b.PrimaryEvent()
	return Result{
		Booking:         b,
		EventID:         ref.EventID,
		MeetingProvider: b.MeetingProvider,
		MeetLink:        b.MeetLink,
		RescheduleURL:   s.RescheduleURL(b),
		RescheduleToken: b.RescheduleToken,
		StatusMessage:   msg,
		Replayed:        replayed,
	}
}

// RescheduleURL points the visitor back at the booking page with both tokens.
func (s *Service) RescheduleURL(b domain.Booking) string {
	if s.baseURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/schedule/%s/%s?reschedule=1&event_token=%s&reschedule_token=%s",
		s.baseURL,
		b.SubjectKind,
		url.PathEscape(b.SubjectID),
		url.QueryEscape(b.ID.String()),
		url.QueryEscape(b.RescheduleToken),
	)
}

type CancelInput struct {
	EventToken      string
	RescheduleToken string
}

// Cancel marks a booking cancelled and removes its external event.
func (s *Service) Cancel(ctx context.Context, in CancelInput) (domain.Booking, error) {
	id, err := uuid.Parse(strings.TrimSpace(in.EventToken))
	if err != nil {
		return domain.Booking{}, domain.ErrInvalidRescheduleToken
	}
	b, err := s.bookings.GetBooking(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Booking{}, domain.ErrInvalidRescheduleToken
	}
	if err != nil {
		return domain.Booking{}, err
	}

	var cancelled domain.Booking
	err = s.bookings.InParticipantsTransaction(ctx, b.Participants, func(ctx context.Context, tx store.BookingTx) error {
		target, err := availability.LookupRescheduleTarget(ctx, tx, b.Subject(), in.RescheduleToken, in.EventToken)
		if err != nil {
			return err
		}
		if err := tx.UpdateBookingStatus(ctx, target.ID, domain.BookingStatusCancelled, nil); err != nil {
			return err
		}
		target.Status = domain.BookingStatusCancelled
		cancelled = target
		return nil
	})
	if err != nil {
		return domain.Booking{}, err
	}

	for _, ref := range cancelled.EventRefs {
		s.cancelEvent(ctx, ref)
	}
	if s.notifier != nil {
		s.notifier.SubjectChanged(ctx, cancelled.Subject())
	}
	s.log.Info("booking cancelled", slog.String("booking_id", cancelled.ID.String()), slog.String("subject", cancelled.Subject().String()))
	return cancelled, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	if id == uuid.Nil {
		return domain.Booking{}, validationError("booking_id is required")
	}
	return s.bookings.GetBooking(ctx, id)
}

// Invite renders the booking as a METHOD:REQUEST iCalendar invite.
func (s *Service) Invite(ctx context.Context, id uuid.UUID) ([]byte, error) {
	b, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return calendar.EncodeInvite(calendar.EventFromBooking(b), s.engine.Now())
}

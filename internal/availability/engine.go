package availability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"slotbook/internal/clock"
	"slotbook/internal/domain"
	"slotbook/internal/store"
)

// FallbackPolicy decides what an unreadable calendar source does to a query.
type FallbackPolicy string

const (
	FallbackFail    FallbackPolicy = "fail"
	FallbackExclude FallbackPolicy = "exclude"
)

func ParseFallbackPolicy(s string) (FallbackPolicy, error) {
	switch p := FallbackPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", FallbackFail:
		return FallbackFail, nil
	case FallbackExclude:
		return FallbackExclude, nil
	default:
		return "", fmt.Errorf("unknown source unavailable policy %q", s)
	}
}

// CachedDay is a precomputed slot list for one group and date.
type CachedDay struct {
	GroupID    string        `json:"group_id"`
	Date       time.Time     `json:"date"`
	Slots      []domain.Slot `json:"slots"`
	ComputedAt time.Time     `json:"computed_at"`
}

type SlotReader interface {
	GetSlots(ctx context.Context, groupID string, date time.Time) (CachedDay, bool, error)
}

type BookingSource interface {
	store.BookingReader
	GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error)
}

type Engine struct {
	templates store.TemplateStore
	groups    store.GroupStore
	bookings  BookingSource
	agg       *Aggregator
	clock     clock.Clock
	policy    FallbackPolicy
	cache     SlotReader
	log       *slog.Logger
}

type Option func(*Engine)

func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithFallbackPolicy(p FallbackPolicy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithSlotCache lets group queries read precomputed slots.
func WithSlotCache(c SlotReader) Option {
	return func(e *Engine) { e.cache = c }
}

func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

func NewEngine(templates store.TemplateStore, groups store.GroupStore, bookings BookingSource, agg *Aggregator, opts ...Option) *Engine {
	e := &Engine{
		templates: templates,
		groups:    groups,
		bookings:  bookings,
		agg:       agg,
		clock:     clock.NewSystem(),
		policy:    FallbackFail,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With(slog.String("component", "availability.engine"))
	return e
}

func (e *Engine) Now() time.Time {
	return e.clock.Now()
}

// Plan loads the templates and duration option behind a subject.
func (e *Engine) Plan(ctx context.Context, subject domain.Subject, durationID string) (Plan, error) {
	switch subject.Kind {
	case domain.SubjectUser:
		return e.userPlan(ctx, subject, durationID)
	case domain.SubjectGroup:
		return e.groupPlan(ctx, subject, durationID)
	default:
		return Plan{}, fmt.Errorf("unsupported subject kind %q", subject.Kind)
	}
}

func (e *Engine) userPlan(ctx context.Context, subject domain.Subject, durationID string) (Plan, error) {
	member, err := e.member(ctx, subject.ID)
	if err != nil {
		return Plan{}, err
	}

	var opt domain.DurationOption
	if durationID != "" {
		opt, err = e.templates.GetDuration(ctx, durationID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && opt.OwnerID != subject.ID) {
			return Plan{}, fmt.Errorf("%w: %q", domain.ErrDurationNotFound, durationID)
		}
		if err != nil {
			return Plan{}, err
		}
	} else {
		opts, err := e.templates.ListDurations(ctx, subject.ID)
		if err != nil {
			return Plan{}, err
		}
		switch len(opts) {
		case 0:
			return Plan{}, fmt.Errorf("%w: %s has no duration options", domain.ErrDurationNotFound, subject.ID)
		case 1:
			opt = opts[0]
		default:
			return Plan{}, fmt.Errorf("%w: duration_id is required when several durations exist", domain.ErrDurationNotFound)
		}
	}
	if err := opt.Validate(); err != nil {
		return Plan{}, fmt.Errorf("duration %q: %w", opt.ID, err)
	}

	return Plan{
		Subject:  subject,
		Members:  []Member{member},
		Policy:   domain.PolicyAllRequired,
		Duration: opt,
	}, nil
}

func (e *Engine) groupPlan(ctx context.Context, subject domain.Subject, durationID string) (Plan, error) {
	g, err := e.groups.GetGroup(ctx, subject.ID)
	if err != nil {
		return Plan{}, err
	}
	if err := g.Validate(); err != nil {
		return Plan{}, err
	}
	if durationID != "" && durationID != g.DurationID {
		return Plan{}, fmt.Errorf("%w: %q", domain.ErrDurationNotFound, durationID)
	}

	opt, err := e.templates.GetDuration(ctx, g.DurationID)
	if errors.Is(err, store.ErrNotFound) {
		return Plan{}, fmt.Errorf("%w: %q", domain.ErrDurationNotFound, g.DurationID)
	}
	if err != nil {
		return Plan{}, err
	}
	if err := opt.Validate(); err != nil {
		return Plan{}, fmt.Errorf("duration %q: %w", opt.ID, err)
	}

	members := make([]Member, 0, len(g.Members))
	for _, id := range g.Members {
		m, err := e.member(ctx, id)
		if err != nil {
			return Plan{}, err
		}
		members = append(members, m)
	}

	return Plan{
		Subject:  subject,
		Members:  members,
		Policy:   g.Policy,
		Duration: opt,
		Group:    &g,
	}, nil
}

func (e *Engine) member(ctx context.Context, participantID string) (Member, error) {
	tpl, err := e.templates.GetTemplate(ctx, participantID)
	if err != nil {
		return Member{}, fmt.Errorf("template for %q: %w", participantID, err)
	}
	if err := tpl.Validate(); err != nil {
		return Member{}, fmt.Errorf("template for %q: %w", participantID, err)
	}
	loc, err := tpl.Location()
	if err != nil {
		return Member{}, err
	}
	return Member{ID: participantID, Template: tpl, Location: loc}, nil
}

type DayOptions struct {
	// Strict fails on any unreadable source regardless of the fallback policy.
	Strict bool
	// Bookings overrides the engine's reader, e.g. with a locked transaction.
	Bookings store.BookingReader
	// Moving is the booking a reschedule replaces. Its row and its calendar event stop counting
	// as busy for its own participants. Other busy time in its interval still counts.
	Moving *domain.Booking
}

type Day struct {
	Resolution
	Slots []domain.Slot
	// Free is each contributing member's free time before slicing.
	Free map[string][]domain.Interval
	// Excluded lists members dropped because their calendars could not be read.
	Excluded []string
}

// ComputeDay resolves date and, when it is valid, computes the slots for it.
func (e *Engine) ComputeDay(ctx context.Context, plan Plan, date time.Time, opts DayOptions) (Day, error) {
	now := e.clock.Now()
	res, err := Resolve(plan, date, now)
	if err != nil {
		return Day{Resolution: res}, err
	}
	day := Day{Resolution: res, Free: make(map[string][]domain.Interval, len(res.Windows))}
	if res.IsInvalidDate || len(res.Windows) == 0 {
		return day, nil
	}

	buffer := plan.Duration.Buffer()
	fetch := make(map[string]BusyRequest, len(res.Windows))
	var all []domain.Interval
	for _, m := range plan.Members {
		windows, ok := res.Windows[m.ID]
		if !ok {
			continue
		}
		span, _ := Span(windows)
		span = domain.Interval{Start: span.Start.Add(-buffer), End: span.End.Add(buffer)}
		req := BusyRequest{Window: span, Zone: m.Location}
		if opts.Moving != nil && slices.Contains(opts.Moving.Participants, m.ID) {
			req.SkipUIDs = []string{opts.Moving.EventUID()}
		}
		fetch[m.ID] = req
		all = append(all, span)
	}
	outer, _ := Span(all)

	busy, failures := e.agg.BusyAll(ctx, fetch)
	if len(failures) > 0 {
		if opts.Strict || e.policy == FallbackFail {
			return day, firstFailure(plan, failures)
		}
		for _, id := range plan.MemberIDs() {
			if err, ok := failures[id]; ok {
				e.log.Warn("excluding participant with unreadable calendar", slog.Any("err", err), slog.String("participant_id", id), slog.String("subject", plan.Subject.String()))
				day.Excluded = append(day.Excluded, id)
			}
		}
	}

	reader := opts.Bookings
	if reader == nil {
		reader = e.bookings
	}
	booked, err := reader.ListActiveBookings(ctx, plan.MemberIDs(), outer.Start, outer.End)
	if err != nil {
		return day, fmt.Errorf("list active bookings: %w", err)
	}
	bookedBy := make(map[string][]domain.Interval)
	subjectBookings := 0
	for _, b := range booked {
		if opts.Moving != nil && b.ID == opts.Moving.ID {
			continue
		}
		for _, p := range b.Participants {
			bookedBy[p] = append(bookedBy[p], b.Interval())
		}
		if b.Subject() == plan.Subject {
			subjectBookings++
		}
	}

	var contributing []string
	var free [][]domain.Interval
	for _, m := range plan.Members {
		windows, ok := res.Windows[m.ID]
		if !ok {
			continue
		}
		if _, failed := failures[m.ID]; failed {
			continue
		}
		memberBusy := Pad(Union(busy[m.ID], bookedBy[m.ID]), buffer)
		f := Subtract(windows, memberBusy)
		day.Free[m.ID] = f
		contributing = append(contributing, m.ID)
		free = append(free, f)
	}

	if len(contributing) == 0 {
		return day, firstFailure(plan, failures)
	}

	if plan.Duration.LimitsBookingsPerDay() && subjectBookings >= plan.Duration.MaxBookingsPerDay {
		return day, nil
	}

	day.Slots = SlotsForPolicy(plan.Policy, free, plan.Duration, now)
	return day, nil
}

func firstFailure(plan Plan, failures map[string]error) error {
	for _, id := range plan.MemberIDs() {
		if err, ok := failures[id]; ok {
			return err
		}
	}
	return domain.ErrSourceUnavailable
}

type Query struct {
	Subject           domain.Subject
	DurationID        string
	Date              time.Time
	TZOffsetMinutes   int
	RescheduleToken   string
	EventToken        string
	ReferenceMetadata map[string]any
}

type Result struct {
	Subject       domain.Subject
	Duration      domain.DurationOption
	Date          time.Time
	ValidStart    time.Time
	ValidEnd      *time.Time
	AvailableDays []domain.Weekday
	IsInvalidDate bool
	NextValidDate *time.Time
	PrevValidDate *time.Time
	Slots         []domain.Slot
	ComputedAt    time.Time
	FromCache     bool
}

// Query answers a visitor's availability request for one date.
func (e *Engine) Query(ctx context.Context, q Query) (Result, error) {
	plan, err := e.Plan(ctx, q.Subject, q.DurationID)
	if err != nil {
		return Result{}, err
	}

	var opts DayOptions
	if q.RescheduleToken != "" || q.EventToken != "" {
		old, err := e.RescheduleTarget(ctx, q.Subject, q.RescheduleToken, q.EventToken)
		if err != nil {
			return Result{}, err
		}
		opts.Moving = &old
	}

	if cached, ok := e.cachedResult(ctx, plan, q, opts); ok {
		return cached, nil
	}

	day, err := e.ComputeDay(ctx, plan, q.Date, opts)
	if err != nil {
		return Result{}, err
	}
	out := resultFrom(plan, day.Resolution)
	out.Slots = day.Slots
	out.ComputedAt = e.clock.Now()
	return out, nil
}

func (e *Engine) cachedResult(ctx context.Context, plan Plan, q Query, opts DayOptions) (Result, bool) {
	if e.cache == nil || plan.Group == nil || opts.Moving != nil {
		return Result{}, false
	}
	now := e.clock.Now()
	res, err := Resolve(plan, q.Date, now)
	if err != nil || res.IsInvalidDate {
		return Result{}, false
	}

	entry, ok, err := e.cache.GetSlots(ctx, plan.Group.ID, res.Date)
	if err != nil {
		e.log.Warn("slot cache read failed", slog.Any("err", err), slog.String("group_id", plan.Group.ID))
		return Result{}, false
	}
	if !ok {
		return Result{}, false
	}

	earliest := now.Add(plan.Duration.LeadTime())
	slots := make([]domain.Slot, 0, len(entry.Slots))
	for _, s := range entry.Slots {
		if s.Start.Before(earliest) {
			continue
		}
		slots = append(slots, s)
	}

	out := resultFrom(plan, res)
	out.Slots = slots
	out.ComputedAt = entry.ComputedAt
	out.FromCache = true
	return out, true
}

// RescheduleTarget returns the active booking the tokens grant the right to move.
func (e *Engine) RescheduleTarget(ctx context.Context, subject domain.Subject, rescheduleToken, eventToken string) (domain.Booking, error) {
	return LookupRescheduleTarget(ctx, e.bookings, subject, rescheduleToken, eventToken)
}

type BookingGetter interface {
	GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error)
}

// LookupRescheduleTarget checks tokens against any booking getter, such as a locked transaction.
// The event token is the booking id.
func LookupRescheduleTarget(ctx context.Context, bookings BookingGetter, subject domain.Subject, rescheduleToken, eventToken string) (domain.Booking, error) {
	id, err := uuid.Parse(strings.TrimSpace(eventToken))
	if err != nil || rescheduleToken == "" {
		return domain.Booking{}, domain.ErrInvalidRescheduleToken
	}
	b, err := bookings.GetBooking(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Booking{}, domain.ErrInvalidRescheduleToken
	}
	if err != nil {
		return domain.Booking{}, err
	}
	if b.Status != domain.BookingStatusActive || b.RescheduleToken != rescheduleToken || b.Subject() != subject {
		return domain.Booking{}, domain.ErrInvalidRescheduleToken
	}
	return b, nil
}

func resultFrom(plan Plan, res Resolution) Result {
	return Result{
		Subject:       plan.Subject,
		Duration:      plan.Duration,
		Date:          res.Date,
		ValidStart:    res.ValidStart,
		ValidEnd:      res.ValidEnd,
		AvailableDays: res.AvailableDays,
		IsInvalidDate: res.IsInvalidDate,
		NextValidDate: res.NextValidDate,
		PrevValidDate: res.PrevValidDate,
	}
}

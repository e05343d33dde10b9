package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"slotbook/internal/availability"
	"slotbook/internal/domain"
)

type SlotWriter interface {
	PutSlots(ctx context.Context, day availability.CachedDay) error
}

type dayComputer interface {
	Plan(ctx context.Context, subject domain.Subject, durationID string) (availability.Plan, error)
	ComputeDay(ctx context.Context, plan availability.Plan, date time.Time, opts availability.DayOptions) (availability.Day, error)
	Now() time.Time
}

type groupState struct {
	running    bool
	generation uint64
	rerun      bool
}

// Refresher precomputes date to slots maps per group. At most one refresh runs per group; a run
// that was invalidated while in flight discards its results.
type Refresher struct {
	engine  dayComputer
	cache   SlotWriter
	pub     Publisher
	horizon int
	log     *slog.Logger

	mu     sync.Mutex
	groups map[string]*groupState
	wg     sync.WaitGroup
}

func NewRefresher(engine dayComputer, cache SlotWriter, pub Publisher, horizonDays int, log *slog.Logger) *Refresher {
	if log == nil {
		log = slog.Default()
	}
	if horizonDays <= 0 {
		horizonDays = 30
	}
	return &Refresher{
		engine:  engine,
		cache:   cache,
		pub:     pub,
		horizon: horizonDays,
		log:     log.With(slog.String("component", "cache.refresher")),
		groups:  make(map[string]*groupState),
	}
}

// Trigger starts a background refresh and reports false when one is already running.
func (r *Refresher) Trigger(ctx context.Context, groupID string) bool {
	gen, ok := r.begin(groupID)
	if !ok {
		r.log.Debug("refresh coalesced", slog.String("group_id", groupID))
		return false
	}
	r.spawn(context.WithoutCancel(ctx), groupID, gen)
	return true
}

// Refresh runs synchronously. It returns false without error when the call was coalesced or
// its results were discarded.
func (r *Refresher) Refresh(ctx context.Context, groupID string) (bool, error) {
	gen, ok := r.begin(groupID)
	if !ok {
		r.log.Debug("refresh coalesced", slog.String("group_id", groupID))
		return false, nil
	}
	done, err := r.run(ctx, groupID, gen)
	r.end(ctx, groupID)
	return done, err
}

// Invalidate marks any in-flight refresh of the group as superseded. One more run follows it.
func (r *Refresher) Invalidate(groupID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.state(groupID)
	st.generation++
	if st.running {
		st.rerun = true
	}
}

// SubjectChanged refreshes the cache after a booking for a group changed its availability.
func (r *Refresher) SubjectChanged(ctx context.Context, subject domain.Subject) {
	if subject.Kind != domain.SubjectGroup {
		return
	}
	r.Invalidate(subject.ID)
	r.Trigger(ctx, subject.ID)
}

// Wait blocks until background refreshes finish.
func (r *Refresher) Wait() {
	r.wg.Wait()
}

func (r *Refresher) state(groupID string) *groupState {
	st, ok := r.groups[groupID]
	if !ok {
		st = &groupState{}
		r.groups[groupID] = st
	}
	return st
}

func (r *Refresher) begin(groupID string) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.state(groupID)
	if st.running {
		return 0, false
	}
	st.running = true
	st.rerun = false
	return st.generation, true
}

func (r *Refresher) end(ctx context.Context, groupID string) {
	r.mu.Lock()
	st := r.state(groupID)
	rerun := st.rerun
	st.rerun = false
	if !rerun {
		st.running = false
		r.mu.Unlock()
		return
	}
	gen := st.generation
	r.mu.Unlock()

	r.spawn(context.WithoutCancel(ctx), groupID, gen)
}

func (r *Refresher) spawn(ctx context.Context, groupID string, gen uint64) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if _, err := r.run(ctx, groupID, gen); err != nil {
			r.log.Error("refresh failed", slog.Any("err", err), slog.String("group_id", groupID))
		}
		r.end(ctx, groupID)
	}()
}

func (r *Refresher) superseded(groupID string, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state(groupID).generation != gen
}

func (r *Refresher) run(ctx context.Context, groupID string, gen uint64) (bool, error) {
	started := time.Now()
	subject := domain.Subject{Kind: domain.SubjectGroup, ID: groupID}
	plan, err := r.engine.Plan(ctx, subject, "")
	if err != nil {
		return false, err
	}

	computedAt := r.engine.Now()
	today := domain.DateOf(computedAt)
	days := make([]availability.CachedDay, 0, r.horizon)
	for i := 0; i < r.horizon; i++ {
		date := today.AddDate(0, 0, i)
		day, err := r.engine.ComputeDay(ctx, plan, date, availability.DayOptions{})
		if errors.Is(err, domain.ErrNoAvailabilityInRange) {
			break
		}
		if err != nil {
			return false, err
		}
		if day.IsInvalidDate {
			continue
		}
		days = append(days, availability.CachedDay{GroupID: groupID, Date: date, Slots: day.Slots, ComputedAt: computedAt})
	}

	if r.superseded(groupID, gen) {
		r.log.Info("refresh superseded; results discarded", slog.String("group_id", groupID))
		return false, nil
	}

	dates := make([]string, 0, len(days))
	for _, d := range days {
		if err := r.cache.PutSlots(ctx, d); err != nil {
			return false, err
		}
		dates = append(dates, domain.FormatDate(d.Date))
	}

	if err := r.pub.Publish(ctx, Event{GroupID: groupID, Dates: dates, ComputedAt: computedAt}); err != nil {
		r.log.Warn("availability update publish failed", slog.Any("err", err), slog.String("group_id", groupID))
	}

	r.log.Info(
		"group availability refreshed",
		slog.String("group_id", groupID),
		slog.Int("dates", len(dates)),
		slog.Duration("elapsed", time.Since(started)),
	)
	return true, nil
}

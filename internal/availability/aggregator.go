package availability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"slotbook/internal/domain"
	"slotbook/internal/store"
)

// BusyIntervalSource reads committed time from one kind of external calendar.
type BusyIntervalSource interface {
	BusyIntervals(ctx context.Context, link domain.CalendarLink, window domain.Interval) ([]domain.BusyInterval, error)
}

type AggregatorConfig struct {
	SourceTimeout     time.Duration
	MaxAttempts       int
	RetryBackoff      time.Duration
	MaxConcurrency    int
	RequestsPerSecond float64
	Burst             int
}

func (c AggregatorConfig) withDefaults() AggregatorConfig {
	if c.SourceTimeout <= 0 {
		c.SourceTimeout = 5 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 200 * time.Millisecond
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 8
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	return c
}

type Aggregator struct {
	links    store.CalendarLinkStore
	sources  map[domain.CalendarProvider]BusyIntervalSource
	limiters map[domain.CalendarProvider]*rate.Limiter
	cfg      AggregatorConfig
	log      *slog.Logger
}

func NewAggregator(links store.CalendarLinkStore, sources map[domain.CalendarProvider]BusyIntervalSource, cfg AggregatorConfig, log *slog.Logger) *Aggregator {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()

	limiters := make(map[domain.CalendarProvider]*rate.Limiter, len(sources))
	for provider := range sources {
		if cfg.RequestsPerSecond > 0 {
			limiters[provider] = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
		}
	}

	return &Aggregator{
		links:    links,
		sources:  sources,
		limiters: limiters,
		cfg:      cfg,
		log:      log.With(slog.String("component", "availability.aggregator")),
	}
}

// BusyRequest is one participant's read.
type BusyRequest struct {
	Window domain.Interval
	// Zone places all-day events on calendars that do not report a zone.
	Zone *time.Location
	// SkipUIDs drops events by iCalendar UID, such as the event of a booking being moved.
	SkipUIDs []string
}

// Busy returns the merged busy set of one participant within window. Any linked calendar that
// cannot be read fails the call with a *domain.SourceUnavailableError.
func (a *Aggregator) Busy(ctx context.Context, participantID string, window domain.Interval) ([]domain.Interval, error) {
	return a.read(ctx, participantID, BusyRequest{Window: window})
}

func (a *Aggregator) read(ctx context.Context, participantID string, req BusyRequest) ([]domain.Interval, error) {
	links, err := a.links.ListLinks(ctx, participantID)
	if err != nil {
		return nil, fmt.Errorf("list calendar links: %w", err)
	}

	var raw []domain.BusyInterval
	for _, link := range links {
		link.Zone = req.Zone
		got, err := a.fetch(ctx, link, req.Window)
		if err != nil {
			return nil, &domain.SourceUnavailableError{
				ParticipantID: participantID,
				Source:        string(link.Provider) + ":" + link.CalendarID,
				Err:           err,
			}
		}
		raw = append(raw, skipEvents(got, req.SkipUIDs)...)
	}
	return MergeBusy(raw), nil
}

func skipEvents(in []domain.BusyInterval, uids []string) []domain.BusyInterval {
	if len(uids) == 0 {
		return in
	}
	out := in[:0]
	for _, b := range in {
		if b.UID != "" && slices.Contains(uids, b.UID) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// BusyAll fans out reads over participants with bounded concurrency. A failing participant does
// not cancel the others; failures are returned per participant.
func (a *Aggregator) BusyAll(ctx context.Context, reqs map[string]BusyRequest) (map[string][]domain.Interval, map[string]error) {
	var (
		mu       sync.Mutex
		busy     = make(map[string][]domain.Interval, len(reqs))
		failures = make(map[string]error)
	)

	var g errgroup.Group
	g.SetLimit(a.cfg.MaxConcurrency)
	for participantID, req := range reqs {
		g.Go(func() error {
			got, err := a.read(ctx, participantID, req)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[participantID] = err
				return nil
			}
			busy[participantID] = got
			return nil
		})
	}
	_ = g.Wait()

	return busy, failures
}

func (a *Aggregator) fetch(ctx context.Context, link domain.CalendarLink, window domain.Interval) ([]domain.BusyInterval, error) {
	src, ok := a.sources[link.Provider]
	if !ok {
		return nil, fmt.Errorf("no client for provider %q", link.Provider)
	}
	limiter := a.limiters[link.Provider]

	var lastErr error
	for attempt := 1; attempt <= a.cfg.MaxAttempts; attempt++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, a.cfg.SourceTimeout)
		got, err := src.BusyIntervals(callCtx, link, window)
		cancel()
		if err == nil {
			return normalize(got), nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, errors.Join(lastErr, ctx.Err())
		}
		if attempt == a.cfg.MaxAttempts {
			break
		}

		backoff := a.cfg.RetryBackoff << (attempt - 1)
		a.log.Warn(
			"busy read failed; retrying",
			slog.Any("err", err),
			slog.String("participant_id", link.ParticipantID),
			slog.String("provider", string(link.Provider)),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
		)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.Join(lastErr, ctx.Err())
		case <-timer.C:
		}
	}
	return nil, lastErr
}

func normalize(in []domain.BusyInterval) []domain.BusyInterval {
	out := make([]domain.BusyInterval, 0, len(in))
	for _, b := range in {
		b.Interval = domain.NewInterval(b.Start, b.End)
		if b.IsEmpty() {
			continue
		}
		out = append(out, b)
	}
	return out
}

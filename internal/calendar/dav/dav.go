package dav

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"

	"slotbook/internal/calendar"
	"slotbook/internal/domain"
)

type basicAuthTransport struct {
	username  string
	password  string
	transport http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(t.username, t.password)
	req.Header.Set("User-Agent", "slotbook/1.0")
	return t.transport.RoundTrip(req)
}

type Config struct {
	Endpoint string
	Username string
	Password string
	Timeout  time.Duration
}

// Client reads busy time from and writes bookings to CalDAV calendars. A link's CalendarID is
// the calendar collection path on the server.
type Client struct {
	caldav *caldav.Client
	webdav *webdav.Client
	log    *slog.Logger
}

func NewClient(cfg Config, log *slog.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("caldav endpoint is required")
	}
	if log == nil {
		log = slog.Default()
	}
	httpClient := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &basicAuthTransport{
			username:  cfg.Username,
			password:  cfg.Password,
			transport: http.DefaultTransport,
		},
	}

	cc, err := caldav.NewClient(httpClient, cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("create caldav client: %w", err)
	}
	wc, err := webdav.NewClient(httpClient, cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("create webdav client: %w", err)
	}
	return &Client{caldav: cc, webdav: wc, log: log.With(slog.String("component", "calendar.caldav"))}, nil
}

func (c *Client) BusyIntervals(ctx context.Context, link domain.CalendarLink, window domain.Interval) ([]domain.BusyInterval, error) {
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:  ical.CompCalendar,
			Props: []string{ical.PropVersion},
			Comps: []caldav.CalendarCompRequest{{
				Name: ical.CompEvent,
				Props: []string{
					ical.PropUID,
					ical.PropDateTimeStart,
					ical.PropDateTimeEnd,
					ical.PropDuration,
					ical.PropTransparency,
					ical.PropStatus,
					ical.PropRecurrenceRule,
				},
			}},
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: window.Start,
				End:   window.End,
			}},
		},
	}

	objects, err := c.caldav.QueryCalendar(ctx, link.CalendarID, query)
	if err != nil {
		return nil, fmt.Errorf("query calendar %s: %w", link.CalendarID, err)
	}

	var out []domain.BusyInterval
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		zone := calendarZone(obj.Data, link.Zone)
		for _, ev := range obj.Data.Events() {
			out = append(out, busyFromEvent(ev, window, zone, link.IgnoreAllDay)...)
		}
	}
	return out, nil
}

// calendarZone reads X-WR-TIMEZONE and falls back to the participant's zone. Dates and floating
// times carry no zone of their own.
func calendarZone(cal *ical.Calendar, fallback *time.Location) *time.Location {
	if name, err := cal.Props.Text("X-WR-TIMEZONE"); err == nil && name != "" {
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	if fallback != nil {
		return fallback
	}
	return time.UTC
}

// busyFromEvent expands one VEVENT into the busy intervals it contributes inside window.
func busyFromEvent(ev ical.Event, window domain.Interval, zone *time.Location, ignoreAllDay bool) []domain.BusyInterval {
	if transparent(ev) || cancelled(ev) {
		return nil
	}
	if ignoreAllDay && allDay(ev) {
		return nil
	}

	start, err := ev.DateTimeStart(zone)
	if err != nil {
		return nil
	}
	end, err := ev.DateTimeEnd(zone)
	if err != nil || !end.After(start) {
		return nil
	}
	length := end.Sub(start)

	starts := []time.Time{start}
	if set, err := ev.RecurrenceSet(zone); err == nil && set != nil {
		starts = set.Between(window.Start.Add(-length), window.End, true)
	}

	uid, _ := ev.Props.Text(ical.PropUID)
	var out []domain.BusyInterval
	for _, s := range starts {
		iv := domain.NewInterval(s, s.Add(length))
		if !iv.Overlaps(window) {
			continue
		}
		out = append(out, domain.BusyInterval{Interval: iv, Source: string(domain.CalendarProviderCalDAV), UID: uid})
	}
	return out
}

func transparent(ev ical.Event) bool {
	p := ev.Props.Get(ical.PropTransparency)
	return p != nil && strings.EqualFold(p.Value, "TRANSPARENT")
}

func cancelled(ev ical.Event) bool {
	p := ev.Props.Get(ical.PropStatus)
	return p != nil && strings.EqualFold(p.Value, "CANCELLED")
}

func allDay(ev ical.Event) bool {
	p := ev.Props.Get(ical.PropDateTimeStart)
	return p != nil && p.ValueType() == ical.ValueDate
}

func objectPath(calendarID string, ev calendar.Event) string {
	return path.Join(calendarID, ev.BookingID.String()+".ics")
}

func (c *Client) CreateEvent(ctx context.Context, link domain.CalendarLink, ev calendar.Event) (domain.EventRef, error) {
	p := objectPath(link.CalendarID, ev)
	if _, err := c.caldav.PutCalendarObject(ctx, p, calendar.NewInvite(ev, "", time.Now())); err != nil {
		return domain.EventRef{}, fmt.Errorf("put calendar object %s: %w", p, err)
	}
	c.log.Info("event created", slog.String("path", p))
	return domain.EventRef{
		Provider:   domain.CalendarProviderCalDAV,
		CalendarID: link.CalendarID,
		EventID:    p,
		MeetLink:   ev.MeetingLink,
	}, nil
}

func (c *Client) CancelEvent(ctx context.Context, ref domain.EventRef) error {
	if err := c.webdav.RemoveAll(ctx, ref.EventID); err != nil {
		return fmt.Errorf("remove calendar object %s: %w", ref.EventID, err)
	}
	return nil
}

// IdempotentWrites reports true: objects are PUT at a path derived from the booking id.
func (c *Client) IdempotentWrites() bool {
	return true
}

package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	oauthgoogle "golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	slotcal "slotbook/internal/calendar"
	"slotbook/internal/domain"
)

type Config struct {
	ClientID        string
	ClientSecret    string
	CredentialsFile string
	TokenFile       string
}

// Client reads busy time from and writes bookings to Google calendars.
type Client struct {
	service *calendar.Service
	log     *slog.Logger
}

func NewClient(ctx context.Context, cfg Config, log *slog.Logger) (*Client, error) {
	oauthCfg, err := oauthConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("google oauth config: %w", err)
	}
	token, err := tokenFromFile(cfg.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("load google token %s: %w", cfg.TokenFile, err)
	}

	svc, err := calendar.NewService(ctx, option.WithHTTPClient(oauthCfg.Client(ctx, token)))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return NewClientWithService(svc, log), nil
}

func NewClientWithService(svc *calendar.Service, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{service: svc, log: log.With(slog.String("component", "calendar.google"))}
}

func oauthConfig(cfg Config) (*oauth2.Config, error) {
	if cfg.ClientID != "" && cfg.ClientSecret != "" {
		return &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
			Scopes:       []string{calendar.CalendarScope},
			Endpoint:     oauthgoogle.Endpoint,
		}, nil
	}
	if cfg.CredentialsFile == "" {
		return nil, errors.New("client id and secret or a credentials file are required")
	}
	b, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, err
	}
	c, err := oauthgoogle.ConfigFromJSON(b, calendar.CalendarScope)
	if err != nil {
		return nil, err
	}
	c.RedirectURL = "urn:ietf:wg:oauth:2.0:oob"
	return c, nil
}

// AuthURL returns the consent page for an offline calendar token.
func AuthURL(cfg Config) (string, error) {
	oauthCfg, err := oauthConfig(cfg)
	if err != nil {
		return "", err
	}
	return oauthCfg.AuthCodeURL("slotbook", oauth2.AccessTypeOffline), nil
}

// SaveToken exchanges an authorization code and writes the token to cfg.TokenFile.
func SaveToken(ctx context.Context, cfg Config, code string) error {
	oauthCfg, err := oauthConfig(cfg)
	if err != nil {
		return err
	}
	token, err := oauthCfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange auth code: %w", err)
	}
	f, err := os.OpenFile(cfg.TokenFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create token file: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}

func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

func (c *Client) BusyIntervals(ctx context.Context, link domain.CalendarLink, window domain.Interval) ([]domain.BusyInterval, error) {
	var out []domain.BusyInterval
	err := c.service.Events.List(link.CalendarID).
		ShowDeleted(false).
		SingleEvents(true).
		TimeMin(window.Start.Format(time.RFC3339)).
		TimeMax(window.End.Format(time.RFC3339)).
		OrderBy("startTime").
		Pages(ctx, func(page *calendar.Events) error {
			zone := calendarZone(page.TimeZone, link.Zone)
			for _, item := range page.Items {
				iv, ok := busyFromEvent(item, zone, link.IgnoreAllDay)
				if ok {
					out = append(out, iv)
				}
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("list events for %s: %w", link.CalendarID, err)
	}
	return out, nil
}

// calendarZone is the zone the calendar's all-day events belong to.
func calendarZone(name string, fallback *time.Location) *time.Location {
	if name != "" {
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	if fallback != nil {
		return fallback
	}
	return time.UTC
}

func busyFromEvent(item *calendar.Event, zone *time.Location, ignoreAllDay bool) (domain.BusyInterval, bool) {
	if item == nil || item.Start == nil || item.End == nil {
		return domain.BusyInterval{}, false
	}
	if item.Status == "cancelled" || item.Transparency == "transparent" {
		return domain.BusyInterval{}, false
	}

	var start, end time.Time
	var err error
	if item.Start.DateTime == "" {
		if ignoreAllDay {
			return domain.BusyInterval{}, false
		}
		// All-day events block whole days in the calendar's zone.
		start, err = time.ParseInLocation(domain.DateLayout, item.Start.Date, zone)
		if err != nil {
			return domain.BusyInterval{}, false
		}
		end, err = time.ParseInLocation(domain.DateLayout, item.End.Date, zone)
	} else {
		start, err = time.Parse(time.RFC3339, item.Start.DateTime)
		if err != nil {
			return domain.BusyInterval{}, false
		}
		end, err = time.Parse(time.RFC3339, item.End.DateTime)
	}
	if err != nil || !end.After(start) {
		return domain.BusyInterval{}, false
	}
	return domain.BusyInterval{
		Interval: domain.NewInterval(start, end),
		Source:   string(domain.CalendarProviderGoogle),
		UID:      item.ICalUID,
	}, true
}

func (c *Client) CreateEvent(ctx context.Context, link domain.CalendarLink, ev slotcal.Event) (domain.EventRef, error) {
	id := ev.GoogleEventID()
	body := &calendar.Event{
		Id:          id,
		ICalUID:     ev.UID(),
		Summary:     ev.Summary,
		Description: ev.Description,
		Start:       &calendar.EventDateTime{DateTime: ev.Start.UTC().Format(time.RFC3339), TimeZone: "UTC"},
		End:         &calendar.EventDateTime{DateTime: ev.End.UTC().Format(time.RFC3339), TimeZone: "UTC"},
	}
	for _, a := range ev.Attendees {
		body.Attendees = append(body.Attendees, &calendar.EventAttendee{Email: a.Email, DisplayName: a.Name})
	}
	switch ev.MeetingProvider {
	case domain.MeetingProviderGoogleMeet:
		body.ConferenceData = &calendar.ConferenceData{
			CreateRequest: &calendar.CreateConferenceRequest{
				RequestId:             id,
				ConferenceSolutionKey: &calendar.ConferenceSolutionKey{Type: "hangoutsMeet"},
			},
		}
	case domain.MeetingProviderCustom:
		body.Location = ev.MeetingLink
	}

	created, err := c.service.Events.Insert(link.CalendarID, body).
		ConferenceDataVersion(1).
		SendUpdates("all").
		Context(ctx).
		Do()
	if isStatus(err, http.StatusConflict) {
		// A previous attempt already created it.
		created, err = c.service.Events.Get(link.CalendarID, id).Context(ctx).Do()
	}
	if err != nil {
		return domain.EventRef{}, fmt.Errorf("insert event into %s: %w", link.CalendarID, err)
	}

	meetLink := created.HangoutLink
	if ev.MeetingProvider == domain.MeetingProviderCustom {
		meetLink = ev.MeetingLink
	}
	c.log.Info("event created", slog.String("calendar_id", link.CalendarID), slog.String("event_id", created.Id))
	return domain.EventRef{
		Provider:   domain.CalendarProviderGoogle,
		CalendarID: link.CalendarID,
		EventID:    created.Id,
		MeetLink:   meetLink,
	}, nil
}

func (c *Client) CancelEvent(ctx context.Context, ref domain.EventRef) error {
	err := c.service.Events.Delete(ref.CalendarID, ref.EventID).SendUpdates("all").Context(ctx).Do()
	if isStatus(err, http.StatusNotFound) || isStatus(err, http.StatusGone) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete event %s: %w", ref.EventID, err)
	}
	return nil
}

// IdempotentWrites reports true: event ids derive from the booking id, so a retried insert
// conflicts instead of duplicating.
func (c *Client) IdempotentWrites() bool {
	return true
}

func isStatus(err error, code int) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == code
}

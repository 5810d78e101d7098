package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/notably/notably/internal/instrumentation"
	"github.com/notably/notably/internal/logging"
	"github.com/notably/notably/internal/notes"
)

const (
	// DefaultTimezone is used for reminder instants when the caller does
	// not configure one.
	DefaultTimezone = "America/Los_Angeles"

	// reminderDuration is the fixed event length. Reminders block an hour.
	reminderDuration = time.Hour

	// reminderLayout is the combined date+time layout notes carry.
	reminderLayout = "2006-01-02T15:04:05"
)

// Client wraps the Google Calendar service for a single access token.
type Client struct {
	svc      *calendar.EventsService
	location *time.Location
	logger   *slog.Logger
	metrics  *instrumentation.Metrics
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// Timezone names the IANA zone reminder instants are interpreted in.
	// Defaults to DefaultTimezone.
	Timezone string

	Logger  *slog.Logger
	Metrics *instrumentation.Metrics

	// Options are appended to the service options; tests use
	// option.WithEndpoint to point the client at a local server.
	Options []option.ClientOption
}

// NewClient creates a Calendar client that authenticates every call with
// the given bearer token. The token must already be validated by the
// credential manager; the client never refreshes it.
func NewClient(ctx context.Context, accessToken string, cfg ClientConfig) (*Client, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("access token is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timezone == "" {
		cfg.Timezone = DefaultTimezone
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", cfg.Timezone, err)
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	})
	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, cfg.Options...)

	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Calendar service: %w", err)
	}

	return &Client{
		svc:      svc.Events,
		location: loc,
		logger:   logging.WithService(cfg.Logger, instrumentation.ServiceCalendar),
		metrics:  cfg.Metrics,
	}, nil
}

// CreateReminderEvent inserts a one-hour reminder event on the user's
// primary calendar for the note's reminder instant.
//
// The note must carry both reminder fields (ValidationError otherwise),
// and they must combine into a real instant (InvalidDateTimeError
// otherwise). Both checks run before any network call. Provider failures
// map to PermissionDeniedError on 403 and UpstreamError otherwise.
func (c *Client) CreateReminderEvent(ctx context.Context, note notes.Note) (*EventResult, error) {
	if note.ReminderDate == "" {
		return nil, &ValidationError{Field: "reminderDate"}
	}
	if note.ReminderTime == "" {
		return nil, &ValidationError{Field: "reminderTime"}
	}

	combined := note.ReminderDate + "T" + note.ReminderTime + ":00"
	start, err := time.ParseInLocation(reminderLayout, combined, c.location)
	if err != nil {
		return nil, &InvalidDateTimeError{Value: combined, err: err}
	}
	end := start.Add(reminderDuration)

	event := &calendar.Event{
		Summary:     "Reminder: " + note.Title,
		Description: note.Content,
		Start: &calendar.EventDateTime{
			DateTime: start.Format(time.RFC3339),
			TimeZone: c.location.String(),
		},
		End: &calendar.EventDateTime{
			DateTime: end.Format(time.RFC3339),
			TimeZone: c.location.String(),
		},
		Reminders: &calendar.EventReminders{
			UseDefault:      true,
			ForceSendFields: []string{"UseDefault"},
		},
	}

	callStart := time.Now()
	created, err := c.svc.Insert("primary", event).Context(ctx).Do()
	if err != nil {
		c.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceCalendar, "insert", instrumentation.StatusError, time.Since(callStart))
		return nil, classifyError(err)
	}
	c.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceCalendar, "insert", instrumentation.StatusSuccess, time.Since(callStart))

	c.logger.Info("created reminder event",
		slog.String("event_id", created.Id),
		slog.String("start", start.Format(time.RFC3339)),
	)

	return &EventResult{
		EventID:   created.Id,
		EventLink: created.HtmlLink,
		Start:     start.Format(time.RFC3339),
		End:       end.Format(time.RFC3339),
	}, nil
}

// classifyError maps a Calendar API error onto the package taxonomy.
func classifyError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusForbidden {
			return &PermissionDeniedError{NeedsReauth: true, err: err}
		}
		return &UpstreamError{Status: apiErr.Code, Body: apiErr.Body, err: err}
	}
	return &UpstreamError{err: err}
}

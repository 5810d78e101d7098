package gmail

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/notably/notably/internal/instrumentation"
	"github.com/notably/notably/internal/logging"
)

const (
	// DefaultMaxResults bounds a list call when the caller does not.
	DefaultMaxResults = 10

	// DefaultFetchConcurrency is the number of message detail fetches
	// issued in parallel per list operation.
	DefaultFetchConcurrency = 5
)

// Client wraps the Gmail Users service for a single access token.
type Client struct {
	svc              *gmail.UsersService
	logger           *slog.Logger
	metrics          *instrumentation.Metrics
	fetchConcurrency int
}

// ClientConfig configures a Client.
type ClientConfig struct {
	Logger           *slog.Logger
	Metrics          *instrumentation.Metrics
	FetchConcurrency int

	// Options are appended to the service options; tests use
	// option.WithEndpoint to point the client at a local server.
	Options []option.ClientOption
}

// NewClient creates a Gmail client that authenticates every call with the
// given bearer token. The token must already be validated by the credential
// manager; the client never refreshes it.
func NewClient(ctx context.Context, accessToken string, cfg ClientConfig) (*Client, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("access token is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = DefaultFetchConcurrency
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	})
	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, cfg.Options...)

	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	return &Client{
		svc:              svc.Users,
		logger:           logging.WithService(cfg.Logger, instrumentation.ServiceGmail),
		metrics:          cfg.Metrics,
		fetchConcurrency: cfg.FetchConcurrency,
	}, nil
}

// ListAndFetch lists up to maxResults message IDs and fetches the full
// message for each, concurrently.
//
// The list call failing is fatal and returns a classified error. Individual
// detail fetches are not: a failing fetch drops that message and increments
// FetchResult.Failed, so one broken message cannot blank the whole inbox.
// An empty mailbox is a valid result, not an error.
func (c *Client) ListAndFetch(ctx context.Context, maxResults int64) (*FetchResult, error) {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	start := time.Now()
	list, err := c.svc.Messages.List("me").MaxResults(maxResults).Context(ctx).Do()
	if err != nil {
		c.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceGmail, "list", instrumentation.StatusError, time.Since(start))
		return nil, classifyError(err)
	}
	c.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceGmail, "list", instrumentation.StatusSuccess, time.Since(start))

	result := &FetchResult{Messages: []EmailMessage{}}
	if len(list.Messages) == 0 {
		c.logger.Debug("no messages in mailbox")
		return result, nil
	}

	// Fan out the detail fetches; each goroutine owns one slot, so no lock
	// is needed. Fetch errors are logged and counted, never propagated.
	slots := make([]*EmailMessage, len(list.Messages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.fetchConcurrency)

	for i, m := range list.Messages {
		if m == nil || m.Id == "" {
			continue
		}
		g.Go(func() error {
			msg, err := c.svc.Messages.Get("me", m.Id).Format("full").Context(gctx).Do()
			if err != nil {
				c.logger.Warn("failed to fetch message",
					slog.String("message_id", m.Id),
					logging.Err(classifyError(err)),
				)
				return nil
			}
			parsed := parseMessage(msg)
			slots[i] = &parsed
			return nil
		})
	}
	_ = g.Wait()

	for _, msg := range slots {
		if msg != nil {
			result.Messages = append(result.Messages, *msg)
		}
	}
	result.Failed = len(list.Messages) - len(result.Messages)
	c.metrics.RecordMailFetchFailures(ctx, result.Failed)

	c.logger.Debug("fetched messages",
		slog.Int("requested", len(list.Messages)),
		slog.Int("fetched", len(result.Messages)),
		slog.Int("failed", result.Failed),
	)
	return result, nil
}

// GetMessage fetches and parses a single message by ID.
func (c *Client) GetMessage(ctx context.Context, messageID string) (*EmailMessage, error) {
	if messageID == "" {
		return nil, fmt.Errorf("messageID is required")
	}

	start := time.Now()
	msg, err := c.svc.Messages.Get("me", messageID).Format("full").Context(ctx).Do()
	if err != nil {
		c.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceGmail, "get", instrumentation.StatusError, time.Since(start))
		return nil, classifyError(err)
	}
	c.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceGmail, "get", instrumentation.StatusSuccess, time.Since(start))

	parsed := parseMessage(msg)
	return &parsed, nil
}

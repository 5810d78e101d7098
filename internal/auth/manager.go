package auth

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/notably/notably/internal/google"
	"github.com/notably/notably/internal/instrumentation"
	"github.com/notably/notably/internal/logging"
)

const (
	// DefaultRefreshTimeout bounds the blocking token-endpoint call. A
	// timeout is reported the same way as a rejected refresh.
	DefaultRefreshTimeout = 10 * time.Second
)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	ClientID     string
	ClientSecret string

	// TokenURL overrides the provider token endpoint. Defaults to
	// google.TokenEndpoint; tests point it at a local server.
	TokenURL string

	// RefreshTimeout bounds each refresh call. Defaults to DefaultRefreshTimeout.
	RefreshTimeout time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    *instrumentation.Metrics
}

// Manager owns the credential refresh state machine. It is the only
// component that talks to the provider token endpoint.
//
// Concurrent EnsureValid calls for the same session key share a single
// in-flight refresh; the others block and receive its result.
type Manager struct {
	clientID       string
	clientSecret   string
	tokenURL       string
	refreshTimeout time.Duration
	httpClient     *http.Client
	logger         *slog.Logger
	metrics        *instrumentation.Metrics
	group          singleflight.Group

	// now is replaceable in tests
	now func() time.Time
}

// NewManager creates a Manager from the given configuration, filling defaults.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.TokenURL == "" {
		cfg.TokenURL = google.TokenEndpoint
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = DefaultRefreshTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.RefreshTimeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		clientID:       cfg.ClientID,
		clientSecret:   cfg.ClientSecret,
		tokenURL:       cfg.TokenURL,
		refreshTimeout: cfg.RefreshTimeout,
		httpClient:     cfg.HTTPClient,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		now:            time.Now,
	}
}

// tokenResponse is the token-endpoint response shape consumed on refresh.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// EnsureValid returns a credential that is either usable or terminally
// errored. sessionKey identifies the owning session so concurrent calls for
// the same session serialize on one refresh.
//
// An errored credential is returned unchanged: recovery requires a brand-new
// sign-in, never a silent retry. A fresh credential is returned unchanged
// without any network call. Only the expired case triggers a refresh.
func (m *Manager) EnsureValid(ctx context.Context, sessionKey string, cred Credential) Credential {
	switch cred.State(m.now()) {
	case StateErrored, StateFresh:
		return cred
	}

	v, _, _ := m.group.Do(sessionKey, func() (any, error) {
		return m.refresh(ctx, sessionKey, cred), nil
	})
	return v.(Credential)
}

// refresh performs one Expired -> Refreshing -> {Fresh, Errored} transition.
func (m *Manager) refresh(ctx context.Context, sessionKey string, cred Credential) Credential {
	logger := m.logger.With(logging.Operation("token_refresh"), logging.SessionHash(sessionKey))

	if cred.RefreshToken == "" {
		logger.Warn("no refresh token available, cannot refresh")
		m.metrics.RecordTokenRefresh(ctx, instrumentation.RefreshResultNoRefreshToken)
		cred.AccessToken = ""
		cred.LastError = RefreshTokenNotAvailable
		return cred
	}

	ctx, cancel := context.WithTimeout(ctx, m.refreshTimeout)
	defer cancel()

	form := url.Values{
		"client_id":     {m.clientID},
		"client_secret": {m.clientSecret},
		"grant_type":    {"refresh_token"},
		"refresh_token": {cred.RefreshToken},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return m.failRefresh(ctx, logger, cred, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return m.failRefresh(ctx, logger, cred, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		logger.Error("token endpoint rejected refresh",
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(body)),
		)
		m.metrics.RecordTokenRefresh(ctx, instrumentation.RefreshResultFailure)
		cred.AccessToken = ""
		cred.RefreshToken = ""
		cred.LastError = RefreshAccessTokenError
		return cred
	}

	var refreshed tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&refreshed); err != nil {
		return m.failRefresh(ctx, logger, cred, err)
	}

	cred.AccessToken = refreshed.AccessToken
	cred.ExpiresAt = m.now().Add(time.Duration(refreshed.ExpiresIn) * time.Second)
	// Adopt a rotated refresh token if the provider supplied one
	if refreshed.RefreshToken != "" {
		cred.RefreshToken = refreshed.RefreshToken
	}
	cred.LastError = RefreshErrorNone

	logger.Info("token refreshed",
		slog.Time("expires_at", cred.ExpiresAt),
		slog.String("access_token", logging.SanitizeToken(cred.AccessToken)),
	)
	m.metrics.RecordTokenRefresh(ctx, instrumentation.RefreshResultSuccess)
	return cred
}

// failRefresh handles transport-level refresh failures (including timeouts),
// which are indistinguishable from a rejected refresh for the caller.
func (m *Manager) failRefresh(ctx context.Context, logger *slog.Logger, cred Credential, err error) Credential {
	logger.Error("token refresh failed", logging.Err(err))
	m.metrics.RecordTokenRefresh(ctx, instrumentation.RefreshResultFailure)
	cred.AccessToken = ""
	cred.RefreshToken = ""
	cred.LastError = RefreshAccessTokenError
	return cred
}

package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/oauth2"

	"github.com/notably/notably/internal/auth"
	"github.com/notably/notably/internal/calendar"
	"github.com/notably/notably/internal/gmail"
	"github.com/notably/notably/internal/google"
	"github.com/notably/notably/internal/instrumentation"
	"github.com/notably/notably/internal/logging"
	"github.com/notably/notably/internal/notes"
)

// Client actions the UI can take to recover from an error response.
const (
	ActionSignin          = "signin"
	ActionReauthenticate  = "reauthenticate"
	ActionGmailPermission = "gmail-permission"
)

const (
	stateCookieName    = "notably_oauth_state"
	callbackCookieName = "notably_oauth_callback"
	stateCookieMaxAge  = 600
)

// mailService is the slice of the Gmail client the handlers use. Tests
// inject a fake through the factory.
type mailService interface {
	ListAndFetch(ctx context.Context, maxResults int64) (*gmail.FetchResult, error)
}

// calendarService is the slice of the Calendar client the handlers use.
type calendarService interface {
	CreateReminderEvent(ctx context.Context, note notes.Note) (*calendar.EventResult, error)
}

type mailClientFactory func(ctx context.Context, accessToken string) (mailService, error)

type calendarClientFactory func(ctx context.Context, accessToken string) (calendarService, error)

// errorResponse is the JSON error shape for every API handler. Action tells
// the UI which recovery flow to start; NeedsReauth marks a revoked grant.
type errorResponse struct {
	Error       string `json:"error"`
	Action      string `json:"action,omitempty"`
	NeedsReauth bool   `json:"needsReauth,omitempty"`
}

// App wires the handlers to their dependencies.
type App struct {
	manager  *auth.Manager
	sessions *SessionStore
	notes    notes.Store
	gate     Gate

	oauthConf *oauth2.Config

	newMailClient     mailClientFactory
	newCalendarClient calendarClientFactory
	maxMailResults    int64

	logger        *slog.Logger
	metrics       *instrumentation.Metrics
	secureCookies bool
}

// AppConfig configures an App.
type AppConfig struct {
	Manager   *auth.Manager
	Sessions  *SessionStore
	Notes     notes.Store
	OAuthConf *oauth2.Config

	// Timezone names the IANA zone for reminder instants.
	Timezone string

	// MaxMailResults bounds every mail list call.
	MaxMailResults int64

	Logger        *slog.Logger
	Metrics       *instrumentation.Metrics
	SecureCookies bool

	// NewMailClient and NewCalendarClient override the real Google client
	// factories in tests.
	NewMailClient     mailClientFactory
	NewCalendarClient calendarClientFactory
}

// NewApp creates the handler set, filling in the real Google client
// factories unless the config overrides them.
func NewApp(cfg AppConfig) *App {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxMailResults <= 0 {
		cfg.MaxMailResults = gmail.DefaultMaxResults
	}
	if cfg.NewMailClient == nil {
		cfg.NewMailClient = func(ctx context.Context, accessToken string) (mailService, error) {
			return gmail.NewClient(ctx, accessToken, gmail.ClientConfig{
				Logger:  cfg.Logger,
				Metrics: cfg.Metrics,
			})
		}
	}
	if cfg.NewCalendarClient == nil {
		cfg.NewCalendarClient = func(ctx context.Context, accessToken string) (calendarService, error) {
			return calendar.NewClient(ctx, accessToken, calendar.ClientConfig{
				Timezone: cfg.Timezone,
				Logger:   cfg.Logger,
				Metrics:  cfg.Metrics,
			})
		}
	}

	return &App{
		manager:           cfg.Manager,
		sessions:          cfg.Sessions,
		notes:             cfg.Notes,
		oauthConf:         cfg.OAuthConf,
		newMailClient:     cfg.NewMailClient,
		newCalendarClient: cfg.NewCalendarClient,
		maxMailResults:    cfg.MaxMailResults,
		logger:            cfg.Logger,
		metrics:           cfg.Metrics,
		secureCookies:     cfg.SecureCookies,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, resp errorResponse) {
	writeJSON(w, status, resp)
}

// currentCredential resolves the request's session and runs the credential
// through the manager, persisting any state change. ok is false when there
// is no session at all; the caller decides the response.
func (a *App) currentCredential(r *http.Request) (sessionID string, cred auth.Credential, ok bool) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return "", auth.Credential{}, false
	}

	cred, found := a.sessions.Get(cookie.Value)
	if !found {
		return "", auth.Credential{}, false
	}

	ensured := a.manager.EnsureValid(r.Context(), cookie.Value, cred)
	if ensured != cred {
		a.sessions.Update(cookie.Value, ensured)
	}
	return cookie.Value, ensured, true
}

// handleSession serves GET /api/session: the UI's read-only view of the
// current credential, recomputed on every call.
func (a *App) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	_, cred, ok := a.currentCredential(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errorResponse{Error: "no active session", Action: ActionSignin})
		return
	}

	writeJSON(w, http.StatusOK, auth.NewSessionView(cred))
}

// handleMail serves GET /api/mail: list and fetch the user's inbox.
func (a *App) handleMail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	sessionID, cred, ok := a.currentCredential(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errorResponse{Error: "no active session", Action: ActionSignin})
		return
	}

	logger := a.logger.With(logging.SessionHash(sessionID))

	if cred.LastError != auth.RefreshErrorNone {
		writeError(w, http.StatusUnauthorized, errorResponse{
			Error:  string(cred.LastError),
			Action: ActionReauthenticate,
		})
		return
	}
	if !auth.HasScope(cred.GrantedScope, google.GmailReadonlyScope) {
		writeError(w, http.StatusForbidden, errorResponse{
			Error:  "gmail access not granted",
			Action: ActionGmailPermission,
		})
		return
	}

	client, err := a.newMailClient(r.Context(), cred.AccessToken)
	if err != nil {
		logger.Error("failed to create mail client", logging.Err(err))
		writeError(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	result, err := client.ListAndFetch(r.Context(), a.mailResultLimit(r))
	if err != nil {
		a.writeMailError(w, logger, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// mailResultLimit resolves the number of messages to fetch. An explicit
// max query parameter overrides the configured default, capped at the
// default's ceiling to keep a single request from fanning out unbounded.
func (a *App) mailResultLimit(r *http.Request) int64 {
	limit := a.maxMailResults
	if raw := r.URL.Query().Get("max"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 && n < limit {
			limit = n
		}
	}
	return limit
}

// writeMailError maps the gmail error taxonomy onto HTTP responses.
func (a *App) writeMailError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var authErr *gmail.AuthError
	var permErr *gmail.PermissionError
	var protoErr *gmail.ProtocolError

	switch {
	case errors.As(err, &authErr):
		writeError(w, http.StatusUnauthorized, errorResponse{
			Error:  "mail provider rejected the access token",
			Action: ActionReauthenticate,
		})
	case errors.As(err, &permErr):
		writeError(w, http.StatusForbidden, errorResponse{
			Error:  "mail provider denied access",
			Action: ActionGmailPermission,
		})
	case errors.As(err, &protoErr):
		logger.Error("mail provider failure", logging.Err(err), slog.Int("status", protoErr.Status))
		writeError(w, http.StatusBadGateway, errorResponse{Error: "mail provider unavailable"})
	default:
		logger.Error("mail fetch failed", logging.Err(err))
		writeError(w, http.StatusBadGateway, errorResponse{Error: "mail provider unavailable"})
	}
}

// calendarRequest is the POST /api/calendar body.
type calendarRequest struct {
	NoteID string `json:"noteId"`
}

// handleCalendar serves POST /api/calendar: create a reminder event for a
// stored note.
func (a *App) handleCalendar(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	sessionID, cred, ok := a.currentCredential(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errorResponse{Error: "no active session", Action: ActionSignin})
		return
	}

	logger := a.logger.With(logging.SessionHash(sessionID))

	if cred.LastError != auth.RefreshErrorNone {
		writeError(w, http.StatusUnauthorized, errorResponse{
			Error:  string(cred.LastError),
			Action: ActionReauthenticate,
		})
		return
	}

	var req calendarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NoteID == "" {
		writeError(w, http.StatusBadRequest, errorResponse{Error: "noteId is required"})
		return
	}

	note, err := a.notes.Get(sessionID, req.NoteID)
	if err != nil {
		if errors.Is(err, notes.ErrNotFound) {
			writeError(w, http.StatusNotFound, errorResponse{Error: "note not found"})
			return
		}
		logger.Error("note lookup failed", logging.Err(err))
		writeError(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	client, err := a.newCalendarClient(r.Context(), cred.AccessToken)
	if err != nil {
		logger.Error("failed to create calendar client", logging.Err(err))
		writeError(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	result, err := client.CreateReminderEvent(r.Context(), note)
	if err != nil {
		a.writeCalendarError(w, logger, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// writeCalendarError maps the calendar error taxonomy onto HTTP responses.
// Input problems are 400s and never reach the provider; a 403 from the
// provider is reported with needsReauth so the UI can restart consent.
func (a *App) writeCalendarError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var valErr *calendar.ValidationError
	var dtErr *calendar.InvalidDateTimeError
	var permErr *calendar.PermissionDeniedError
	var upErr *calendar.UpstreamError

	switch {
	case errors.As(err, &valErr):
		writeError(w, http.StatusBadRequest, errorResponse{Error: valErr.Error()})
	case errors.As(err, &dtErr):
		writeError(w, http.StatusBadRequest, errorResponse{Error: dtErr.Error()})
	case errors.As(err, &permErr):
		writeError(w, http.StatusForbidden, errorResponse{
			Error:       "calendar provider denied access",
			NeedsReauth: permErr.NeedsReauth,
		})
	case errors.As(err, &upErr):
		logger.Error("calendar provider failure", logging.Err(err), slog.Int("status", upErr.Status))
		writeError(w, http.StatusBadGateway, errorResponse{Error: "calendar provider unavailable"})
	default:
		logger.Error("reminder creation failed", logging.Err(err))
		writeError(w, http.StatusBadGateway, errorResponse{Error: "calendar provider unavailable"})
	}
}

// handleSignin serves GET /auth/signin: start the consent flow. The
// original path the user wanted travels through a short-lived cookie so the
// callback can finish where the user started.
func (a *App) handleSignin(w http.ResponseWriter, r *http.Request) {
	state, err := randomState()
	if err != nil {
		a.logger.Error("failed to generate state", logging.Err(err))
		writeError(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	// Only relative targets are honored; anything else invites an open
	// redirect through the consent flow.
	callback := r.URL.Query().Get("callbackUrl")
	if !isLocalPath(callback) {
		callback = "/"
	}

	http.SetCookie(w, &http.Cookie{
		Name: stateCookieName, Value: state, Path: "/",
		MaxAge: stateCookieMaxAge, HttpOnly: true, Secure: a.secureCookies, SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name: callbackCookieName, Value: callback, Path: "/",
		MaxAge: stateCookieMaxAge, HttpOnly: true, Secure: a.secureCookies, SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, google.AuthCodeURL(a.oauthConf, state), http.StatusFound)
}

// handleGmailPermission serves GET /auth/gmail-permission: rerun consent to
// pick up the Gmail scope the user previously declined. The provider shows
// the full scope set again because consent is forced.
func (a *App) handleGmailPermission(w http.ResponseWriter, r *http.Request) {
	a.handleSignin(w, r)
}

// handleCallback serves GET /auth/callback: finish the consent flow.
func (a *App) handleCallback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil || stateCookie.Value == "" || r.URL.Query().Get("state") != stateCookie.Value {
		writeError(w, http.StatusBadRequest, errorResponse{Error: "state mismatch"})
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, errorResponse{Error: "missing authorization code"})
		return
	}

	token, err := google.Exchange(r.Context(), a.oauthConf, code)
	if err != nil {
		a.logger.Error("code exchange failed", logging.Err(err))
		writeError(w, http.StatusBadGateway, errorResponse{Error: "authentication failed"})
		return
	}

	cred := auth.CredentialFromToken(token)
	sessionID, err := a.sessions.Create(cred)
	if err != nil {
		a.logger.Error("failed to create session", logging.Err(err))
		writeError(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	callback := "/"
	if c, err := r.Cookie(callbackCookieName); err == nil && isLocalPath(c.Value) {
		callback = c.Value
	}

	http.SetCookie(w, sessionCookie(sessionID, a.secureCookies, a.sessions.ttl))
	http.SetCookie(w, &http.Cookie{Name: stateCookieName, Value: "", Path: "/", MaxAge: -1})
	http.SetCookie(w, &http.Cookie{Name: callbackCookieName, Value: "", Path: "/", MaxAge: -1})

	a.logger.Info("user signed in", logging.SessionHash(sessionID))
	http.Redirect(w, r, callback, http.StatusFound)
}

// handleSignout serves POST /auth/signout.
func (a *App) handleSignout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		a.sessions.Delete(cookie.Value)
	}
	http.SetCookie(w, clearedSessionCookie(a.secureCookies))
	http.Redirect(w, r, "/", http.StatusFound)
}

// isLocalPath accepts only same-origin absolute paths. "//host" is a
// protocol-relative URL and is rejected.
func isLocalPath(p string) bool {
	return len(p) > 0 && p[0] == '/' && !strings.HasPrefix(p, "//")
}

func randomState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/notably/notably/internal/auth"
	"github.com/notably/notably/internal/logging"
)

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withGate runs the access gate before the route handlers. Only mail page
// requests can be redirected; everything else passes through untouched.
func (a *App) withGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var credPtr *auth.Credential
		usable := false

		if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
			if cred, found := a.sessions.Get(cookie.Value); found {
				ensured := a.manager.EnsureValid(r.Context(), cookie.Value, cred)
				if ensured != cred {
					a.sessions.Update(cookie.Value, ensured)
				}
				credPtr = &ensured
				usable = ensured.Usable(time.Now())
			}
		}

		decision := a.gate.Decide(r.URL.Path, credPtr, usable)
		if !decision.Allow {
			a.logger.Debug("gate denied request",
				slog.String(logging.KeyPath, r.URL.Path),
				slog.String("redirect", decision.RedirectURL),
			)
			http.Redirect(w, r, decision.RedirectURL, http.StatusFound)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withMetrics records one log line and one metrics sample per request.
func (a *App) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		a.metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, rec.status, duration)
		a.logger.Debug("request handled",
			slog.String("method", r.Method),
			slog.String(logging.KeyPath, r.URL.Path),
			slog.Int(logging.KeyStatus, rec.status),
			slog.Duration(logging.KeyDuration, duration),
		)
	})
}

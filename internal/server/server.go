package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

const (
	// DefaultAddr is the default address for the application server.
	DefaultAddr = ":8080"

	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 30 * time.Second
	idleTimeout       = 120 * time.Second
)

// Server is the application HTTP server: the JSON API, the auth flow, the
// gated mail pages, and the health endpoints.
type Server struct {
	httpServer *http.Server
	app        *App
	health     *HealthChecker
	logger     *slog.Logger
	shutdown   atomic.Bool
}

// NewServer wires the app's routes into an HTTP server on addr.
func NewServer(addr string, app *App, logger *slog.Logger) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		app:    app,
		logger: logger,
	}
	s.health = NewHealthChecker(s.shutdown.Load)

	mux := http.NewServeMux()
	mux.HandleFunc("/", app.handleIndex)
	mux.HandleFunc("/mail/", app.handleMailPage)
	mux.HandleFunc("/api/session", app.handleSession)
	mux.HandleFunc("/api/mail", app.handleMail)
	mux.HandleFunc("/api/calendar", app.handleCalendar)
	mux.HandleFunc("/api/notes", app.handleNotes)
	mux.HandleFunc("/api/notes/", app.handleNoteByID)
	mux.HandleFunc(SigninPath, app.handleSignin)
	mux.HandleFunc(GmailPermissionPath, app.handleGmailPermission)
	mux.HandleFunc("/auth/callback", app.handleCallback)
	mux.HandleFunc("/auth/signout", app.handleSignout)
	s.health.RegisterHealthEndpoints(mux)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           app.withMetrics(app.withGate(mux)),
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	return s
}

// Health returns the server's health checker.
func (s *Server) Health() *HealthChecker {
	return s.health
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start runs the server and blocks until it stops. http.ErrServerClosed is
// swallowed; it is the normal shutdown signal.
func (s *Server) Start() error {
	s.logger.Info("starting server", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server. Readiness flips
// first so load balancers stop routing new traffic during the drain.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdown.Store(true)
	s.health.SetReady(false)
	s.logger.Info("shutting down server")
	return s.httpServer.Shutdown(ctx)
}

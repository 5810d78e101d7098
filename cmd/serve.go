package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/notably/notably/internal/auth"
	"github.com/notably/notably/internal/google"
	"github.com/notably/notably/internal/instrumentation"
	"github.com/notably/notably/internal/logging"
	"github.com/notably/notably/internal/notes"
	"github.com/notably/notably/internal/server"
)

// serveConfig collects everything the serve command needs to start.
type serveConfig struct {
	debugMode          bool
	httpAddr           string
	baseURL            string
	timezone           string
	maxMailResults     int64
	googleClientID     string
	googleClientSecret string
	secureCookies      bool
	metricsEnabled     bool
	metricsAddr        string
}

func newServeCmd() *cobra.Command {
	var cfg serveConfig

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the notably server",
		Long: `Run the notably HTTP server.

The server exposes the notes and mail JSON API, the Google sign-in flow,
and health endpoints. Prometheus metrics are served on a dedicated port.

Required configuration:
  --google-client-id and --google-client-secret
  OR GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET env vars

  --base-url is the public URL of this deployment; the OAuth callback
  redirect URI is derived from it. Can also use BASE_URL env var.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cfg)
		},
	}

	cmd.Flags().BoolVar(&cfg.debugMode, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&cfg.httpAddr, "http-addr", server.DefaultAddr, "Address for the HTTP server")
	cmd.Flags().StringVar(&cfg.baseURL, "base-url", "", "Public base URL of this deployment. Can also use BASE_URL env var. Example: https://notes.example.com")
	cmd.Flags().StringVar(&cfg.timezone, "timezone", "", "IANA timezone for reminder events (default America/Los_Angeles). Can also use TIMEZONE env var.")
	cmd.Flags().Int64Var(&cfg.maxMailResults, "max-mail-results", 10, "Maximum number of messages fetched per mail request")
	cmd.Flags().StringVar(&cfg.googleClientID, "google-client-id", "", "Google OAuth client ID. Can also use GOOGLE_CLIENT_ID env var.")
	cmd.Flags().StringVar(&cfg.googleClientSecret, "google-client-secret", "", "Google OAuth client secret. Can also use GOOGLE_CLIENT_SECRET env var.")
	cmd.Flags().BoolVar(&cfg.secureCookies, "secure-cookies", true, "Mark session cookies Secure (disable only for plain-HTTP development)")
	cmd.Flags().BoolVar(&cfg.metricsEnabled, "metrics-enabled", true, "Enable the metrics server on a dedicated port. Can also use METRICS_ENABLED env var.")
	cmd.Flags().StringVar(&cfg.metricsAddr, "metrics-addr", server.DefaultMetricsAddr, "Metrics server address. Can also use METRICS_ADDR env var.")

	return cmd
}

// applyEnv fills config values not set via flags from the environment.
func (cfg *serveConfig) applyEnv() {
	if cfg.googleClientID == "" {
		cfg.googleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	}
	if cfg.googleClientSecret == "" {
		cfg.googleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	}
	if cfg.baseURL == "" {
		cfg.baseURL = os.Getenv("BASE_URL")
	}
	if cfg.timezone == "" {
		cfg.timezone = os.Getenv("TIMEZONE")
	}
	if os.Getenv("METRICS_ENABLED") == "false" {
		cfg.metricsEnabled = false
	}
	if cfg.metricsAddr == "" || cfg.metricsAddr == server.DefaultMetricsAddr {
		if addr := os.Getenv("METRICS_ADDR"); addr != "" {
			cfg.metricsAddr = addr
		}
	}
}

func runServe(cfg serveConfig) error {
	shutdownCtx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg.applyEnv()

	logger := logging.Setup(cfg.debugMode)

	if cfg.googleClientID == "" || cfg.googleClientSecret == "" {
		return fmt.Errorf("google OAuth credentials are required (--google-client-id/--google-client-secret or GOOGLE_CLIENT_ID/GOOGLE_CLIENT_SECRET)")
	}
	if cfg.baseURL == "" {
		cfg.baseURL = "http://localhost" + cfg.httpAddr
		logger.Warn("no base URL configured, OAuth callbacks assume local development",
			slog.String("base_url", cfg.baseURL))
	}

	// Initialize instrumentation provider
	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version

	provider, err := instrumentation.NewProvider(shutdownCtx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Error("instrumentation shutdown failed", logging.Err(err))
		}
	}()

	// Start metrics server if enabled
	var metricsServer *server.MetricsServer
	if cfg.metricsEnabled && provider.Enabled() {
		metricsServer, err = server.NewMetricsServer(cfg.metricsAddr, provider, logger)
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}

		metricsReady := make(chan struct{})
		metricsErr := make(chan error, 1)
		go func() {
			if err := metricsServer.StartWithReadySignal(metricsReady); err != nil && err != http.ErrServerClosed {
				metricsErr <- err
			}
			close(metricsErr)
		}()

		select {
		case <-metricsReady:
			logger.Info("metrics server started", slog.String("addr", metricsServer.Addr()))
		case err := <-metricsErr:
			return fmt.Errorf("metrics server failed to start: %w", err)
		case <-time.After(5 * time.Second):
			return fmt.Errorf("metrics server startup timed out")
		}
	}

	manager := auth.NewManager(auth.ManagerConfig{
		ClientID:     cfg.googleClientID,
		ClientSecret: cfg.googleClientSecret,
		Logger:       logger,
		Metrics:      provider.Metrics(),
	})

	sessions := server.NewSessionStore(server.SessionStoreConfig{
		Logger:  logger,
		Metrics: provider.Metrics(),
	})
	defer sessions.Close()

	app := server.NewApp(server.AppConfig{
		Manager:        manager,
		Sessions:       sessions,
		Notes:          notes.NewMemoryStore(),
		OAuthConf:      google.OAuthConfig(cfg.googleClientID, cfg.googleClientSecret, cfg.baseURL+"/auth/callback"),
		Timezone:       cfg.timezone,
		MaxMailResults: cfg.maxMailResults,
		Logger:         logger,
		Metrics:        provider.Metrics(),
		SecureCookies:  cfg.secureCookies,
	})

	srv := server.NewServer(cfg.httpAddr, app, logger)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Start()
	}()

	select {
	case err := <-serveErr:
		return err
	case <-shutdownCtx.Done():
	}

	logger.Info("shutdown signal received")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
	defer drainCancel()

	if err := srv.Shutdown(drainCtx); err != nil {
		logger.Error("server shutdown failed", logging.Err(err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(drainCtx); err != nil {
			logger.Error("metrics server shutdown failed", logging.Err(err))
		}
	}

	return <-serveErr
}

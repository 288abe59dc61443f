package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	gateway "github.com/giantswarm/mcp-gateway"
	"github.com/giantswarm/mcp-gateway/instrumentation"
	"github.com/giantswarm/mcp-gateway/mcpserver"
	"github.com/giantswarm/mcp-gateway/providers"
	"github.com/giantswarm/mcp-gateway/providers/google"
	"github.com/giantswarm/mcp-gateway/security"
	"github.com/giantswarm/mcp-gateway/server"
	"github.com/giantswarm/mcp-gateway/session"
	"github.com/giantswarm/mcp-gateway/storage"
	"github.com/giantswarm/mcp-gateway/storage/memory"
	"github.com/giantswarm/mcp-gateway/storage/postgres"
)

const (
	keyPublicURL          = "public-url"
	keyTokenTTL           = "token-ttl-seconds"
	keyGoogleClientID     = "google-client-id"
	keyGoogleClientSecret = "google-client-secret"
	keySessionSecret      = "session-secret"
	keyMaxSessions        = "max-sessions"
	keyIdleTimeout        = "session-idle-timeout"
	keySweepInterval      = "session-sweep-interval"
	keyListen             = "listen"
	keyMetricsListen      = "metrics-listen"
	keyAutoMigrate        = "auto-migrate"
	keyAllowUnbound       = "allow-unbound-redirect-uris"
	keyTrustProxy         = "trust-proxy"
	keyTrustedProxyCount  = "trusted-proxy-count"
	keyRateLimit          = "rate-limit"
)

const (
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 120 * time.Second
	shutdownTimeout   = 10 * time.Second

	// storageCleanupInterval paces DeleteExpired on the postgres store
	storageCleanupInterval = time.Minute
)

// serveConfig is the resolved configuration of the serve command.
type serveConfig struct {
	PublicURL          string
	DatabaseURL        string
	TokenTTLSeconds    int64
	GoogleClientID     string
	GoogleClientSecret string
	SessionSecret      string
	Sessions           session.Config
	ListenAddr         string
	MetricsAddr        string
	AutoMigrate        bool
	AllowUnbound       bool
	TrustProxy         bool
	TrustedProxyCount  int
	RateLimit          int
}

func (c serveConfig) googleConfigured() bool {
	return c.GoogleClientID != "" || c.GoogleClientSecret != ""
}

func newServeCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(v, os.Stderr)
			if err != nil {
				return err
			}
			cfg, err := loadServeConfig(v)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, logger)
		},
	}

	flags := cmd.Flags()
	flags.String(keyPublicURL, "http://localhost:3000", "public base URL of the gateway, used as the OAuth issuer")
	flags.Int64(keyTokenTTL, 3600, "access token lifetime in seconds")
	flags.String(keyGoogleClientID, "", "Google OAuth client id")
	flags.String(keyGoogleClientSecret, "", "Google OAuth client secret")
	flags.String(keySessionSecret, "", "secret (32+ characters) for sealing browser session cookies")
	flags.Int(keyMaxSessions, session.DefaultMaxSessions, "maximum concurrent MCP sessions")
	flags.Duration(keyIdleTimeout, session.DefaultIdleTimeout, "MCP session idle timeout")
	flags.Duration(keySweepInterval, session.DefaultSweepInterval, "interval between idle session sweeps")
	flags.String(keyListen, ":3000", "HTTP listen address")
	flags.String(keyMetricsListen, "", "Prometheus metrics listen address (empty disables metrics)")
	flags.Bool(keyAutoMigrate, false, "apply database migrations on startup")
	flags.Bool(keyAllowUnbound, false, "allow clients without registered redirect URIs (development only)")
	flags.Bool(keyTrustProxy, false, "trust X-Forwarded-For from reverse proxies")
	flags.Int(keyTrustedProxyCount, 1, "number of trusted reverse proxies")
	flags.Int(keyRateLimit, 10, "per-IP requests per second on /register and /token (0 disables)")

	mustBindFlag(v, keyPublicURL, "PUBLIC_APP_URL", flags.Lookup(keyPublicURL))
	mustBindFlag(v, keyTokenTTL, "MCP_TOKEN_TTL_SECONDS", flags.Lookup(keyTokenTTL))
	mustBindFlag(v, keyGoogleClientID, "GOOGLE_CLIENT_ID", flags.Lookup(keyGoogleClientID))
	mustBindFlag(v, keyGoogleClientSecret, "GOOGLE_CLIENT_SECRET", flags.Lookup(keyGoogleClientSecret))
	mustBindFlag(v, keySessionSecret, "SESSION_SECRET", flags.Lookup(keySessionSecret))
	mustBindFlag(v, keyMaxSessions, "MCP_MAX_SESSIONS", flags.Lookup(keyMaxSessions))
	mustBindFlag(v, keyIdleTimeout, "MCP_SESSION_IDLE_TIMEOUT", flags.Lookup(keyIdleTimeout))
	mustBindFlag(v, keySweepInterval, "MCP_SESSION_SWEEP_INTERVAL", flags.Lookup(keySweepInterval))
	mustBindFlag(v, keyListen, "LISTEN_ADDR", flags.Lookup(keyListen))
	mustBindFlag(v, keyMetricsListen, "METRICS_ADDR", flags.Lookup(keyMetricsListen))
	mustBindFlag(v, keyAutoMigrate, "AUTO_MIGRATE", flags.Lookup(keyAutoMigrate))
	mustBindFlag(v, keyAllowUnbound, "ALLOW_UNBOUND_REDIRECT_URIS", flags.Lookup(keyAllowUnbound))
	mustBindFlag(v, keyTrustProxy, "TRUST_PROXY", flags.Lookup(keyTrustProxy))
	mustBindFlag(v, keyTrustedProxyCount, "TRUSTED_PROXY_COUNT", flags.Lookup(keyTrustedProxyCount))
	mustBindFlag(v, keyRateLimit, "RATE_LIMIT_RPS", flags.Lookup(keyRateLimit))

	return cmd
}

func loadServeConfig(v *viper.Viper) (serveConfig, error) {
	cfg := serveConfig{
		PublicURL:          strings.TrimRight(v.GetString(keyPublicURL), "/"),
		DatabaseURL:        v.GetString(keyDatabaseURL),
		TokenTTLSeconds:    v.GetInt64(keyTokenTTL),
		GoogleClientID:     v.GetString(keyGoogleClientID),
		GoogleClientSecret: v.GetString(keyGoogleClientSecret),
		SessionSecret:      v.GetString(keySessionSecret),
		Sessions: session.Config{
			MaxSessions:   v.GetInt(keyMaxSessions),
			IdleTimeout:   v.GetDuration(keyIdleTimeout),
			SweepInterval: v.GetDuration(keySweepInterval),
		},
		ListenAddr:        v.GetString(keyListen),
		MetricsAddr:       v.GetString(keyMetricsListen),
		AutoMigrate:       v.GetBool(keyAutoMigrate),
		AllowUnbound:      v.GetBool(keyAllowUnbound),
		TrustProxy:        v.GetBool(keyTrustProxy),
		TrustedProxyCount: v.GetInt(keyTrustedProxyCount),
		RateLimit:         v.GetInt(keyRateLimit),
	}

	if cfg.PublicURL == "" {
		return cfg, fmt.Errorf("--%s (PUBLIC_APP_URL) is required", keyPublicURL)
	}
	if cfg.TokenTTLSeconds <= 0 {
		return cfg, fmt.Errorf("--%s (MCP_TOKEN_TTL_SECONDS) must be positive", keyTokenTTL)
	}
	if cfg.googleConfigured() {
		if cfg.GoogleClientID == "" || cfg.GoogleClientSecret == "" {
			return cfg, fmt.Errorf("GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET must be set together")
		}
		if cfg.SessionSecret == "" {
			return cfg, fmt.Errorf("--%s (SESSION_SECRET) is required when Google login is configured", keySessionSecret)
		}
	}
	if cfg.AutoMigrate && cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("AUTO_MIGRATE requires DATABASE_URL")
	}
	return cfg, nil
}

// gatewayStore is what the gateway needs from a storage backend.
type gatewayStore interface {
	storage.Store
	SetLogger(*slog.Logger)
	SetInstrumentation(*instrumentation.Instrumentation)
}

func runServe(ctx context.Context, cfg serveConfig, logger *slog.Logger) (err error) {
	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName:    "mcp-gateway",
		ServiceVersion: version,
		Enabled:        cfg.MetricsAddr != "",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize instrumentation: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := inst.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Instrumentation shutdown failed", "error", err)
		}
	}()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	store.SetLogger(logger)
	store.SetInstrumentation(inst)

	auditor := security.NewAuditor(logger, true)

	srv, err := server.New(store, store, store, &server.Config{
		Issuer:                   cfg.PublicURL,
		AccessTokenTTL:           cfg.TokenTTLSeconds,
		AllowUnboundRedirectURIs: cfg.AllowUnbound,
		TrustProxy:               cfg.TrustProxy,
		TrustedProxyCount:        cfg.TrustedProxyCount,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create authorization server: %w", err)
	}
	srv.SetAuditor(auditor)
	srv.SetInstrumentation(inst)

	mcp := mcpserver.New(store, version, logger)
	var registry *session.Registry
	registry = session.NewRegistry(mcp.TransportFactory(func(id string) { registry.Remove(id) }), cfg.Sessions, logger)
	registry.SetAuditor(auditor)
	if err := registry.SetInstrumentation(inst); err != nil {
		return err
	}
	registry.Start()
	defer registry.Stop()

	sessions := session.NewHandler(registry, logger)
	sessions.SetRecorder(store)

	provider, err := newProvider(cfg)
	if err != nil {
		return err
	}
	if provider == nil {
		logger.Warn("No identity provider configured; /login is unavailable")
	}

	handler, err := gateway.NewHandler(srv, sessions, store, provider, &gateway.Config{
		SessionCookie: gateway.SessionCookieConfig{Secret: cfg.SessionSecret},
		RateLimit:     gateway.RateLimitConfig{Rate: cfg.RateLimit},
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create HTTP handler: %w", err)
	}
	defer handler.Stop()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", inst.MetricsHandler())
		metricsServer = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: readHeaderTimeout,
		}
	}

	errCh := make(chan error, 2)
	serve := func(name string, s *http.Server) {
		logger.Info("Listening", "server", name, "addr", s.Addr)
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("%s server: %w", name, err)
		}
	}
	go serve("http", httpServer)
	if metricsServer != nil {
		go serve("metrics", metricsServer)
	}

	logger.Info("mcp-gateway started",
		"version", version,
		"issuer", cfg.PublicURL,
		"storage", storageBackend(cfg),
		"max_sessions", registry.Config().MaxSessions,
		"idle_timeout", registry.Config().IdleTimeout)

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err = <-errCh:
		logger.Error("Server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Warn("HTTP shutdown incomplete", "error", shutdownErr)
	}
	if metricsServer != nil {
		if shutdownErr := metricsServer.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("Metrics shutdown incomplete", "error", shutdownErr)
		}
	}
	return err
}

func storageBackend(cfg serveConfig) string {
	if cfg.DatabaseURL == "" {
		return "memory"
	}
	return "postgres"
}

// openStore returns the memory store when no database is configured,
// otherwise a postgres store with its expiry janitor.
func openStore(ctx context.Context, cfg serveConfig, logger *slog.Logger) (gatewayStore, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set; using in-memory storage, state is lost on restart")
		store := memory.New()
		return store, store.Stop, nil
	}

	if cfg.AutoMigrate {
		if err := postgres.Migrate(ctx, cfg.DatabaseURL); err != nil {
			return nil, nil, err
		}
		logger.Info("Database migrations applied")
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	store := postgres.New(pool)

	janitorCtx, stopJanitor := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		runJanitor(janitorCtx, store, logger)
	}()

	return store, func() {
		stopJanitor()
		<-done
		pool.Close()
	}, nil
}

// expirer removes expired codes and tokens.
type expirer interface {
	DeleteExpired(ctx context.Context, now time.Time) (codes, tokens int64, err error)
}

func runJanitor(ctx context.Context, store expirer, logger *slog.Logger) {
	ticker := time.NewTicker(storageCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			codes, tokens, err := store.DeleteExpired(ctx, time.Now())
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn("Expired credential cleanup failed", "error", err)
				}
				continue
			}
			if codes > 0 || tokens > 0 {
				logger.Debug("Expired credentials removed", "codes", codes, "tokens", tokens)
			}
		}
	}
}

func newProvider(cfg serveConfig) (providers.Provider, error) {
	if !cfg.googleConfigured() {
		return nil, nil
	}
	provider, err := google.NewProvider(&google.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.PublicURL + gateway.PathLoginCallback,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Google provider: %w", err)
	}
	return provider, nil
}

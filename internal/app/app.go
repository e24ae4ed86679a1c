package app

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/foxzi/certly/internal/api"
	"github.com/foxzi/certly/internal/certificate"
	"github.com/foxzi/certly/internal/config"
	"github.com/foxzi/certly/internal/metrics"
	"github.com/foxzi/certly/internal/ratelimit"
	certlyTLS "github.com/foxzi/certly/internal/tls"
)

// App is the main application
type App struct {
	config        *config.Config
	services      *Services
	apiServer     *api.Server
	cleaner       *certificate.Cleaner
	collector     *metrics.Collector
	limiter       *ratelimit.Limiter
	acmeManager   *certlyTLS.ACMEManager
	acmeServer    *http.Server
	metricsServer *metrics.Server
	logger        *slog.Logger
}

// New creates a new application
func New(cfg *config.Config, version string) (*App, error) {
	// Setup logger
	logger := SetupLogger(cfg.Logging, os.Stdout)

	services, err := Open(cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &App{
		config:   cfg,
		services: services,
		logger:   logger,
	}

	// Metrics are global so the domain packages can count without
	// carrying a handle around
	if cfg.Metrics.Enabled {
		m := metrics.New()
		metrics.SetGlobal(m)

		store := services.Store
		stats := metrics.StoreStatsFunc(func(ctx context.Context) (*metrics.StoreStats, error) {
			templates, activities, issues, err := store.Counts(ctx)
			if err != nil {
				return nil, err
			}
			return &metrics.StoreStats{Templates: templates, Activities: activities, Issues: issues}, nil
		})

		a.collector, err = metrics.NewCollector(store.DB(), m, stats, cfg.Storage.Path, cfg.Metrics.FlushInterval)
		if err != nil {
			services.Close()
			return nil, fmt.Errorf("failed to create metrics collector: %w", err)
		}
		a.metricsServer = metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path, cfg.Metrics.AllowedIPs, logger.With("component", "metrics"))
		logger.Info("metrics enabled", "addr", cfg.Metrics.ListenAddr, "path", cfg.Metrics.Path)
	}

	a.cleaner = certificate.NewCleaner(services.Store, certificate.CleanerConfig{
		MaxAge:   cfg.Storage.Retention.EventsMaxAge,
		Interval: cfg.Storage.Retention.CleanupInterval,
	}, logger.With("component", "cleaner"))

	if rl := cfg.Verification.RateLimit; rl.Enabled() {
		a.limiter, err = ratelimit.NewLimiter(services.Store.DB(), rl)
		if err != nil {
			a.closeEarly()
			return nil, fmt.Errorf("failed to create rate limiter: %w", err)
		}
		logger.Info("verification rate limiting enabled")
	}

	a.apiServer = api.NewServer(api.Deps{
		Store:          services.Store,
		Registry:       services.Registry,
		Env:            services.Env,
		Renderer:       services.Renderer,
		Archiver:       services.Archiver,
		Issuance:       services.Issuance,
		Files:          services.Files,
		Limiter:        a.limiter,
		ArchiveMaxSize: cfg.Archive.MaxSize,
		Version:        version,
	}, &cfg.API, logger.With("component", "api"))

	tlsConfig, err := a.setupTLS(cfg.API.TLS)
	if err != nil {
		a.closeEarly()
		return nil, err
	}
	if tlsConfig != nil {
		a.apiServer.UseTLS(tlsConfig)
	}

	return a, nil
}

// setupTLS builds the API certificate config, nil when TLS is off
func (a *App) setupTLS(cfg config.TLSConfig) (*tls.Config, error) {
	if cfg.ACME.Enabled {
		a.acmeManager = certlyTLS.NewACMEManager(cfg.ACME.Email, cfg.ACME.Domains, cfg.ACME.CacheDir)
		for _, info := range a.acmeManager.CachedCertificates(context.Background()) {
			a.logger.Info("cached ACME certificate", "subject", info.Subject, "days_left", info.DaysLeft)
		}
		a.logger.Info("ACME (Let's Encrypt) enabled", "domains", cfg.ACME.Domains)
		return a.acmeManager.TLSConfig(), nil
	}

	if cfg.CertFile == "" {
		return nil, nil
	}
	tlsConfig, info, err := certlyTLS.LoadCertificate(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, err
	}
	if info.ExpiresWithin(14 * 24 * time.Hour) {
		a.logger.Warn("API certificate expires soon", "subject", info.Subject, "not_after", info.NotAfter)
	}
	a.logger.Info("TLS enabled with manual certificates", "subject", info.Subject, "days_left", info.DaysLeft)
	return tlsConfig, nil
}

// closeEarly releases what New opened before failing
func (a *App) closeEarly() {
	if a.limiter != nil {
		a.limiter.Stop()
	}
	if a.collector != nil {
		a.collector.Stop()
	}
	a.services.Close()
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting certly",
		"api_addr", a.config.API.ListenAddr,
		"storage", a.config.Storage.Path,
		"lms_driver", a.config.LMS.Driver,
	)

	// Create context that listens for signals
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if n, err := a.services.Store.UpgradePayloads(ctx); err != nil {
		a.logger.Error("failed to upgrade element payloads", "error", err)
	} else if n > 0 {
		a.logger.Info("upgraded legacy element payloads", "elements", n)
	}

	a.cleaner.Start(ctx)
	if a.collector != nil {
		a.collector.Start(ctx)
	}

	// Start ACME HTTP challenge server; other plain HTTP requests are
	// redirected to HTTPS
	if a.acmeManager != nil {
		addr := a.config.API.TLS.ACME.ChallengeAddr
		a.acmeServer = &http.Server{
			Addr:              addr,
			Handler:           a.acmeManager.HTTPHandler(nil),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			a.logger.Info("starting ACME HTTP challenge server", "addr", addr)
			if err := a.acmeServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Warn("ACME HTTP server error", "error", err)
			}
		}()
	}

	// Channel to collect errors
	errCh := make(chan error, 2)

	// Start API server
	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	// Start metrics server
	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	// Wait for shutdown signal or error
	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		a.logger.Error("server error", "error", runErr)
		cancel()
	}

	// Graceful shutdown
	if err := a.Shutdown(context.Background()); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	// Create timeout context
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}
	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	if a.acmeServer != nil {
		if err := a.acmeServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("acme server shutdown error", "error", err)
		}
	}

	a.cleaner.Stop()

	// Stop collector (persists counters)
	if a.collector != nil {
		if err := a.collector.Stop(); err != nil {
			a.logger.Error("metrics collector stop error", "error", err)
		}
	}

	if a.limiter != nil {
		if err := a.limiter.Stop(); err != nil {
			a.logger.Error("rate limiter stop error", "error", err)
		}
	}

	// Close storage
	if err := a.services.Close(); err != nil {
		a.logger.Error("storage close error", "error", err)
		return err
	}

	a.logger.Info("shutdown complete")
	return nil
}

// SetupLogger creates a logger based on configuration
func SetupLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// Sparx - content automation server
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stusseligmini/FionaSparx-sub000/internal/api"
	"github.com/stusseligmini/FionaSparx-sub000/internal/automation"
	"github.com/stusseligmini/FionaSparx-sub000/internal/config"
	"github.com/stusseligmini/FionaSparx-sub000/internal/metrics"
	"github.com/stusseligmini/FionaSparx-sub000/internal/models"
	"github.com/stusseligmini/FionaSparx-sub000/internal/notify"
	"github.com/stusseligmini/FionaSparx-sub000/internal/orchestrator"
	"github.com/stusseligmini/FionaSparx-sub000/internal/publish"
	"github.com/stusseligmini/FionaSparx-sub000/internal/storage"
	"github.com/stusseligmini/FionaSparx-sub000/internal/timing"
	"github.com/stusseligmini/FionaSparx-sub000/internal/tracing"
	"github.com/stusseligmini/FionaSparx-sub000/internal/webhook"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("Sparx %s (built %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Logging)
	logger.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("storage", cfg.Storage.Engine).
		Msg("Starting Sparx")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider, err := tracing.InitProvider(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRate:  cfg.Tracing.SampleRate,
	}, Version)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize tracing")
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	history, err := openHistory(cfg.Storage)
	if err != nil {
		logger.Fatal().Err(err).Str("data_dir", cfg.Storage.DataDir).Msg("Failed to initialize storage")
	}
	defer history.Close()

	orch := orchestrator.New(storage.NewMemoryStore(), history, logger, orchestratorConfig(cfg.Orchestrator),
		orchestrator.WithMetrics(m))

	engine := timing.NewEngine(history, logger, timingConfig(cfg.Timing),
		timing.WithMetrics(m),
		timing.WithABTestStore(history))
	if err := engine.Load(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to load engagement history")
	}

	hooks := webhook.NewRouter(logger, webhook.Config{
		Token:              cfg.Webhooks.Token,
		SignatureHeader:    cfg.Webhooks.SignatureHeader,
		DefaultRateLimit:   cfg.Webhooks.DefaultRateLimit,
		RateWindow:         cfg.Webhooks.RateWindow.Duration(),
		GrowthThreshold:    cfg.Webhooks.GrowthThreshold,
		MaxBodyBytes:       cfg.Webhooks.MaxBodyBytes,
		NominalReach:       cfg.Webhooks.NominalReach,
		DefaultContentType: models.ContentType(cfg.Webhooks.DefaultContentType),
		Secrets:            cfg.Webhooks.Secrets,
	}, webhook.WithMetrics(m))

	notifier := notify.NewHub(logger)
	for i := range cfg.Notify.Channels {
		if err := notifier.AddChannel(&cfg.Notify.Channels[i]); err != nil {
			logger.Fatal().Err(err).Str("channel", cfg.Notify.Channels[i].ID).Msg("Invalid notification channel")
		}
	}

	opts := []automation.Option{automation.WithNotifier(notifier)}
	if len(cfg.Automation.Publish.Endpoints) > 0 {
		opts = append(opts, automation.WithPublisher(newPublisher(cfg.Automation.Publish, logger)))
	}

	manager := automation.New(orch, hooks, engine, logger, automationConfig(cfg), opts...)
	if err := manager.Setup(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to register workflows")
	}
	if err := manager.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start automation")
	}

	limiter := api.NewRateLimiter(api.RateLimitConfig{
		Enabled:           cfg.API.RequestsPerSecond > 0,
		RequestsPerSecond: cfg.API.RequestsPerSecond,
		BurstSize:         cfg.API.Burst,
		CleanupInterval:   time.Minute,
	}).WithEndpointLimits([]api.EndpointRateLimitConfig{api.DefaultTriggerEndpointLimit()})
	defer limiter.Stop()

	handler := api.NewHandler(manager, orch, engine, nil, logger)
	router := api.NewRouter(handler, logger, api.RouterConfig{
		AllowedOrigins:  cfg.API.AllowedOrigins,
		Auth:            api.AuthConfig{Token: cfg.API.Token},
		RateLimiter:     limiter,
		Webhooks:        hooks,
		SignatureHeader: cfg.Webhooks.SignatureHeader,
		Metrics:         m,
		Audit:           true,
	})
	for _, w := range cfg.Warnings() {
		logger.Warn().Msg(w)
	}

	server := &http.Server{
		Addr:         cfg.Server.HTTP.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.HTTP.ReadTimeout.Duration(),
		WriteTimeout: cfg.Server.HTTP.WriteTimeout.Duration(),
	}

	go func() {
		logger.Info().Str("address", cfg.Server.HTTP.Address).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.HTTP.ShutdownTimeout.Duration())
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	manager.Stop()

	if err := provider.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Tracing shutdown failed")
	}

	logger.Info().Msg("Sparx stopped")
}

// openHistory opens the durable store for archives, engagement history and A/B tests.
func openHistory(cfg config.StorageConfig) (storage.HistoryStore, error) {
	if cfg.Engine == "memory" {
		return storage.NewMemoryStore(), nil
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return storage.NewStore(cfg.DataDir)
}

func orchestratorConfig(c config.OrchestratorConfig) *orchestrator.Config {
	out := &orchestrator.Config{
		PollInterval:    c.PollInterval.Duration(),
		Workers:         c.Workers,
		QueueSize:       c.QueueSize,
		FreshnessWindow: c.FreshnessWindow.Duration(),
		Retention:       c.Retention.Duration(),
		StatusHistory:   c.StatusHistory,
		Retry: orchestrator.RetryPolicy{
			InitialInterval: c.Retry.InitialInterval.Duration(),
			MaxInterval:     c.Retry.MaxInterval.Duration(),
			Multiplier:      c.Retry.Multiplier,
		},
	}
	if len(c.Cadence) > 0 {
		out.Cadence = make(map[models.Priority]time.Duration, len(c.Cadence))
		for name, d := range c.Cadence {
			out.Cadence[models.Priority(strings.ToLower(name))] = d.Duration()
		}
	}
	return out
}

func timingConfig(c config.TimingConfig) timing.Config {
	out := timing.DefaultConfig()
	out.MinSamples = c.MinSamples
	out.PeakWindow = c.PeakWindow
	out.PeakTriggerRate = c.PeakTriggerRate
	out.PeakMeanRate = c.PeakMeanRate
	out.PeakMinSamples = c.PeakMinSamples
	out.MinuteJitter = c.MinuteJitter
	if c.HistoryRetention > 0 {
		out.HistoryRetention = time.Duration(c.HistoryRetention) * 24 * time.Hour
	}
	return out
}

func automationConfig(cfg *config.Config) automation.Config {
	platforms := make([]models.Platform, 0, len(cfg.Automation.Platforms))
	for _, p := range cfg.Automation.Platforms {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			platforms = append(platforms, models.Platform(p))
		}
	}
	return automation.Config{
		GenerationWorkers: cfg.Automation.GenerationWorkers,
		Platforms:         platforms,
		ItemsPerRun:       cfg.Automation.ItemsPerRun,
		// Tokens and secrets stay out of exports.
		Settings: map[string]interface{}{
			"storage_engine":     cfg.Storage.Engine,
			"workers":            cfg.Orchestrator.Workers,
			"poll_interval":      cfg.Orchestrator.PollInterval.String(),
			"freshness_window":   cfg.Orchestrator.FreshnessWindow.String(),
			"platforms":          cfg.Automation.Platforms,
			"generation_workers": cfg.Automation.GenerationWorkers,
			"growth_threshold":   cfg.Webhooks.GrowthThreshold,
			"min_samples":        cfg.Timing.MinSamples,
			"tracing_enabled":    cfg.Tracing.Enabled,
		},
	}
}

func newPublisher(c config.PublishConfig, logger zerolog.Logger) *publish.HTTPPublisher {
	endpoints := make(map[models.Platform]publish.Endpoint, len(c.Endpoints))
	for name, ep := range c.Endpoints {
		endpoints[models.Platform(strings.ToLower(name))] = ep
	}
	breaker := publish.DefaultBreakerConfig()
	if c.FailureThreshold > 0 {
		breaker.FailureThreshold = c.FailureThreshold
	}
	if c.OpenTimeout > 0 {
		breaker.OpenTimeout = c.OpenTimeout.Duration()
	}
	return publish.New(publish.Config{
		Endpoints: endpoints,
		Timeout:   c.Timeout.Duration(),
		Breaker:   breaker,
	}, logger)
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	var logger zerolog.Logger
	if cfg.Format == "json" {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		logger = zerolog.New(output).With().Timestamp().Caller().Logger()
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	return logger
}

package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ngao-sh/ngao/internal/config"
	"github.com/ngao-sh/ngao/internal/engine"
	"github.com/ngao-sh/ngao/internal/gateway"
	"github.com/ngao-sh/ngao/internal/gateway/httpapi"
	"github.com/ngao-sh/ngao/internal/observability"
	"github.com/ngao-sh/ngao/internal/ratelimit"
)

var (
	serveConfigPath string
	serveListenAddr string
	serveDebug      bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP execution service",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `ngao --config path` and `ngao serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&serveListenAddr, "listen", "", "override HTTP listen address (e.g. :8080)")
		cmd.Flags().BoolVar(&serveDebug, "debug", false, "enable debug logging")
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	level := slog.LevelInfo
	if serveDebug {
		level = slog.LevelDebug
	}
	logger := newLogger(level)

	cfg, err := loadConfig(serveConfigPath, cmd.Flags().Changed("config"))
	if err != nil {
		return err
	}

	// Apply CLI overrides.
	if serveListenAddr != "" {
		cfg.Server.ListenAddr = serveListenAddr
	}

	logger.Info("starting ngao", slog.String("addr", cfg.Server.Addr()))

	// Observability (optional).
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return err
	}
	defer func() {
		if obs != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(shutdownCtx)
		}
	}()
	if obs != nil {
		logger.Debug("observability initialized",
			slog.Bool("metrics", obs.Metrics != nil),
			slog.Bool("tracing", obs.Tracer != nil),
			slog.Bool("anomaly", obs.Anomaly != nil),
		)
	}

	// Execution engine.
	eng, pol, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}

	// Readiness probes the interpreter binary and workspace root when enabled.
	if obs != nil && obs.Health != nil &&
		cfg.Observability != nil && cfg.Observability.Health != nil && cfg.Observability.Health.IncludeSandbox {
		obs.Health.AddCheck("sandbox", eng.CheckReady)
		logger.Debug("sandbox readiness check registered")
	}

	var executor engine.Executor = eng
	if obs != nil && obs.Metrics != nil {
		executor = observability.NewInstrumentedExecutor(eng, obs.Metrics, obs.TracerOrNil(), obs.Anomaly)
	}

	// Per-caller rate limiting (optional).
	var limiter *ratelimit.Limiter
	if cfg.Server.RateLimit.RequestsPerMinute > 0 {
		limiter = ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: cfg.Server.RateLimit.RequestsPerMinute,
			BurstSize:         cfg.Server.RateLimit.BurstSize,
		})
		logger.Debug("rate limiter enabled",
			slog.Int("requests_per_minute", cfg.Server.RateLimit.RequestsPerMinute),
		)
	}

	httpCfg := httpapi.Config{
		ListenAddr:     cfg.Server.Addr(),
		EnableDocs:     cfg.Server.EnableDocs,
		APIKeys:        cfg.Server.APIKeys,
		MaxRequestSize: cfg.Server.MaxRequestSize(),
		MaxTimeout:     cfg.Engine.MaxTimeout(),
		Policy:         pol,
	}
	if obs != nil {
		httpCfg.Metrics = obs.Metrics
		httpCfg.HealthChecker = obs.Health
		if obs.Metrics != nil {
			httpCfg.MetricsRegistry = obs.Metrics.Registry
		}
		if obs.Tracer != nil {
			httpCfg.Tracer = obs.Tracer.Tracer()
		}
		if cfg.Observability != nil && cfg.Observability.Metrics != nil {
			httpCfg.MetricsPath = cfg.Observability.Metrics.Path
		}
	}
	if !cfg.Server.AuthEnabled() {
		logger.Warn("api key authentication disabled; all callers accepted")
	}

	var gw gateway.Gateway = httpapi.NewGateway(httpCfg, executor, limiter, logger)

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		errs <- gw.Start(ctx)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("gateway exited with error", slog.String("error", err.Error()))
			return err
		}
		return nil
	}

	// Graceful shutdown with deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return gw.Stop(shutdownCtx)
}

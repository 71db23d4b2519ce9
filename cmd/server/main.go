// Package main provides the entry point for the form ingestion service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devrev/sheetforms/internal/captcha"
	"github.com/devrev/sheetforms/internal/config"
	apierrors "github.com/devrev/sheetforms/internal/errors"
	"github.com/devrev/sheetforms/internal/handler"
	"github.com/devrev/sheetforms/internal/health"
	"github.com/devrev/sheetforms/internal/idempotency"
	"github.com/devrev/sheetforms/internal/metrics"
	"github.com/devrev/sheetforms/internal/notify"
	"github.com/devrev/sheetforms/internal/schema"
	"github.com/devrev/sheetforms/internal/server"
	"github.com/devrev/sheetforms/internal/storage"
	"github.com/devrev/sheetforms/internal/submission"
	"github.com/devrev/sheetforms/internal/tenant"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// Parse command line flags
	configPath := pflag.String("config", "", "path to config file")
	envFile := pflag.String("env-file", ".env", "path to a dotenv file with credentials")
	pflag.Parse()

	if err := config.LoadEnvFile(*envFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg.Logging)
	defer logger.Sync()

	logger.Info("starting form service",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("notify_provider", cfg.Notify.Provider),
		zap.Bool("idempotency", cfg.Idempotency.Enabled),
	)

	ctx := context.Background()

	tenants := tenant.Load(cfg.Tenants.ProjectConfig, cfg.Tenants.Path, logger)

	opener, closeStorage, err := newOpener(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer closeStorage()

	sender, err := newSender(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize notifications", zap.Error(err))
	}

	verifier := captcha.NewTurnstileClient(cfg.Captcha.Secret, nil, cfg.Collaborators.Timeout)
	verifier.VerifyURL = cfg.Captcha.VerifyURL

	// Initialize metrics
	m := metrics.NewMetrics()

	checkers := map[string]health.Checker{"storage": opener}
	resolver := schema.NewResolver(opener, logger)
	opts := []submission.Option{
		submission.WithObserver(m),
		submission.WithSideEffectTimeout(cfg.Collaborators.Timeout),
		submission.WithDefaultFrom(cfg.Notify.From),
	}

	if cfg.Idempotency.Enabled {
		store, err := newIdempotencyStore(ctx, cfg.Idempotency, logger)
		if err != nil {
			logger.Fatal("failed to initialize idempotency store", zap.Error(err))
		}
		defer store.Close()

		svc := idempotency.NewService(store, cfg.Idempotency.TTL, logger,
			idempotency.WithPendingTTL(cfg.Idempotency.PendingTTL))
		opts = append(opts, submission.WithIdempotency(svc))
		checkers["idempotency"] = svc
	}

	pipeline := submission.NewPipeline(tenants, verifier, opener, resolver, sender, logger, opts...)

	handlers := handler.NewHandlers(tenants, resolver, pipeline, apierrors.NewHandler(logger), logger, cfg.Collaborators.Timeout)
	handlers.SetDefinitionRecorder(m)
	handlers.SetSubmissionObserver(m)

	healthCheck := health.NewHealthCheck(checkers, logger,
		health.WithInterval(cfg.Health.Interval),
		health.WithTimeout(cfg.Health.Timeout),
		health.WithReporter(m),
	)
	healthCheck.Start(ctx)
	defer healthCheck.Stop()

	// Start metrics server if enabled
	var metricsServer *metrics.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, logger)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.Error("metrics server error", zap.Error(err))
			}
		}()
		logger.Info("metrics server started",
			zap.Int("port", cfg.Metrics.Port),
			zap.String("path", cfg.Metrics.Path),
		)
	}

	// Initialize HTTP server
	httpServer := server.NewServer(cfg.Server, handlers, healthCheck, m, logger)
	httpServer.SetupRoutes()

	// Start HTTP server in goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errChan <- err
		}
	}()

	logger.Info("HTTP server started", zap.Int("port", cfg.Server.Port))

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errChan:
		logger.Error("server error", zap.Error(err))
	}

	// Graceful shutdown
	logger.Info("initiating graceful shutdown")
	healthCheck.Stop()
	healthCheck.SetReady(false)
	m.SetHealthStatus(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Shutdown HTTP server
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", zap.Error(err))
	}

	// Shutdown metrics server
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", zap.Error(err))
		}
	}

	logger.Info("form service shutdown complete")
}

// newOpener builds the configured storage backend and returns a function
// that releases its resources.
func newOpener(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Opener, func(), error) {
	switch cfg.Storage.Backend {
	case config.BackendSheets:
		opener, err := storage.NewSheetsOpener(ctx, storage.SheetsConfig{
			ServiceAccountEmail: cfg.Storage.Sheets.ServiceAccountEmail,
			PrivateKey:          cfg.Storage.Sheets.PrivateKey,
			Timeout:             cfg.Collaborators.Timeout,
			Endpoint:            cfg.Storage.Sheets.Endpoint,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return opener, func() {}, nil

	case config.BackendPostgres:
		pool, err := storage.NewPool(ctx, cfg.Storage.Postgres.DSN)
		if err != nil {
			return nil, nil, err
		}
		opener := storage.NewPostgresOpener(pool, logger)
		if cfg.Storage.Postgres.Migrate {
			if err := opener.Migrate(ctx); err != nil {
				pool.Close()
				return nil, nil, err
			}
		}
		return opener, pool.Close, nil

	case config.BackendMemory:
		opener := storage.NewMemoryOpener()
		if path := cfg.Storage.Memory.SeedPath; path != "" {
			if err := opener.LoadSeedFile(path); err != nil {
				return nil, nil, err
			}
		}
		logger.Warn("using in-memory storage, submissions are lost on restart")
		return opener, func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend: %q", cfg.Storage.Backend)
	}
}

func newSender(cfg *config.Config, logger *zap.Logger) (notify.Sender, error) {
	switch cfg.Notify.Provider {
	case config.ProviderResend:
		sender, err := notify.NewResendSender(notify.ResendConfig{
			APIKey:  cfg.Notify.APIKey,
			BaseURL: cfg.Notify.BaseURL,
			Timeout: cfg.Collaborators.Timeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		return sender, nil
	case config.ProviderLog:
		return notify.NewLogSender(logger), nil
	default:
		return nil, fmt.Errorf("unknown notify provider: %q", cfg.Notify.Provider)
	}
}

func newIdempotencyStore(ctx context.Context, cfg config.IdempotencyConfig, logger *zap.Logger) (idempotency.Store, error) {
	if cfg.Backend == config.IdempotencyMemory {
		return idempotency.NewMemoryStore(cfg.MaxEntries, time.Minute), nil
	}
	store, err := idempotency.NewRedisStore(ctx, cfg.RedisURL, logger)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// initLogger initializes the zap logger.
func initLogger(cfg config.LoggingConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zapConfig zap.Config
	if cfg.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
	}

	zapConfig.Level = zap.NewAtomicLevelAt(level)
	zapConfig.OutputPaths = []string{"stdout"}
	zapConfig.ErrorOutputPaths = []string{"stderr"}

	logger, err := zapConfig.Build()
	if err != nil {
		// Fallback to basic logger
		logger, _ = zap.NewProduction()
	}

	return logger
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"wadispatch/internal/config"
	"wadispatch/internal/constants"
	"wadispatch/internal/database"
	"wadispatch/internal/events"
	"wadispatch/internal/metrics"
	"wadispatch/internal/models"
	"wadispatch/internal/quota"
	"wadispatch/internal/retry"
	"wadispatch/internal/service"
	"wadispatch/internal/tracing"
	"wadispatch/pkg/circuitbreaker"
	"wadispatch/pkg/whatsapp"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes sensitive information)")
	configPath = flag.String("config", "", "Path to configuration file (environment only when empty)")
	envFile    = flag.String("env-file", ".env", "Optional dotenv file loaded before configuration")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("wadispatch %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	if err := loadEnvFile(*envFile); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, closeLog := newLogger(cfg.Logging, *verbose)
	defer closeLog()

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting wadispatch")

	if *verbose {
		logger.Info("Verbose logging enabled - sensitive information will be logged")
	}

	if cfg.Tracing.ServiceVersion == "" {
		cfg.Tracing.ServiceVersion = Version
	}
	tracingManager := tracing.NewTracingManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	store, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	tracker, closeQuota, err := newQuotaTracker(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer closeQuota()

	registry := metrics.NewRegistry()
	prom := metrics.NewPrometheusSink()
	deliveryStats := service.NewDeliveryStats()
	sink := service.NewMultiSink(deliveryStats, prom, tracker)

	hub := events.NewHub(constants.DefaultEventSubscriberBuffer)
	defer hub.Close()

	gatewayTimeout := time.Duration(cfg.Gateway.TimeoutSec) * time.Second
	apiClient := whatsapp.NewClient(whatsapp.ClientConfig{
		BaseURL:       cfg.Gateway.APIBaseURL,
		APIVersion:    cfg.Gateway.APIVersion,
		PhoneNumberID: cfg.Gateway.PhoneNumberID,
		AccessToken:   cfg.Gateway.AccessToken,
		Timeout:       gatewayTimeout,
	}, &http.Client{Timeout: gatewayTimeout}, logger)
	gateway := whatsapp.NewGuardedClient(apiClient,
		uint32(cfg.Gateway.BreakerMaxFailures),
		time.Duration(cfg.Gateway.BreakerResetSec)*time.Second,
		logger,
		circuitbreaker.WithStateListener(breakerGauge(registry)))

	processor := service.NewQueueProcessor(store, gateway, sink, processorConfig(cfg), logger,
		service.WithEventPublisher(hub),
		service.WithBatchObserver(prom),
		service.WithRegistry(registry),
	)
	enqueuer := service.NewEnqueuer(store, processor, cfg.Queue.MaxRetries, logger)

	monitor := service.NewHealthMonitor(gateway, tracker, service.HealthConfig{
		CheckInterval: time.Duration(cfg.Health.CheckIntervalSec) * time.Second,
		CheckTimeout:  time.Duration(cfg.Health.CheckTimeoutSec) * time.Second,
		DailyQuota:    cfg.Health.DailyQuota,
	}, registry, prom, logger)

	sweeper := service.NewStaleSweeper(store, processor,
		time.Duration(cfg.Queue.SweepIntervalSec)*time.Second,
		time.Duration(cfg.Queue.StaleProcessingSec)*time.Second,
		registry, logger)

	retention := service.NewRetentionScheduler(store, cfg.Database.RetentionDays,
		constants.DefaultRetentionIntervalHours*time.Hour, logger)

	server := NewServer(cfg, ServerDeps{
		Enqueuer:   enqueuer,
		Processor:  processor,
		Health:     monitor,
		Messages:   store,
		Stats:      deliveryStats,
		Sink:       sink,
		Events:     hub,
		Breaker:    gateway,
		Registry:   registry,
		Prometheus: prom.Handler(),
	}, logger, *verbose)

	ctxWithVerbose := context.WithValue(ctx, service.VerboseContextKey, *verbose)
	g, gctx := errgroup.WithContext(ctxWithVerbose)

	g.Go(func() error { return processor.Start(gctx) })
	g.Go(func() error { return sweeper.Start(gctx) })
	g.Go(func() error { return retention.Start(gctx) })
	g.Go(func() error { return monitor.Start(gctx) })
	g.Go(func() error { return tracker.Run(gctx) })

	if *configPath != "" && !*verbose {
		watcher := config.NewWatcher(*configPath, logger)
		watcher.OnConfigChange(config.LogLevelUpdater(logger))
		g.Go(func() error {
			if err := watcher.Start(gctx); err != nil {
				logger.WithError(err).Warn("Configuration watcher stopped")
			}
			return nil
		})
	}

	g.Go(func() error {
		if err := server.Start(); err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Received shutdown signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server gracefully: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("Server shutdown completed")
	return nil
}

// loadEnvFile applies a dotenv file when it exists. Variables already set in
// the environment win.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

// newLogger builds the process logger. When a log file is configured, output
// goes to both stderr and a size-rotated file.
func newLogger(cfg models.LoggingConfig, verbose bool) (*logrus.Logger, func()) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	closer := func() {}
	if cfg.FilePath != "" {
		maxSize := cfg.MaxSizeMB
		if maxSize <= 0 {
			maxSize = constants.DefaultLogMaxSizeMB
		}
		maxFiles := cfg.MaxFiles
		if maxFiles <= 0 {
			maxFiles = constants.DefaultLogMaxFiles
		}
		rotator := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    maxSize,
			MaxBackups: maxFiles,
			Compress:   true,
		}
		logger.SetOutput(io.MultiWriter(os.Stderr, rotator))
		closer = func() { _ = rotator.Close() }
	}

	switch {
	case verbose:
		logger.SetLevel(logrus.DebugLevel)
	case cfg.Level != "":
		level, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			logger.Warnf("Invalid log level %q, defaulting to info", cfg.Level)
			level = logrus.InfoLevel
		}
		logger.SetLevel(level)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	return logger, closer
}

// openStore connects to the configured database, retrying with exponential
// backoff while it comes up.
func openStore(ctx context.Context, cfg models.DatabaseConfig, logger *logrus.Logger) (service.Store, error) {
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: constants.DefaultBackoffInitialMs * time.Millisecond,
		MaxDelay:     constants.DefaultBackoffMaxSec * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
		Jitter:       true,
	})

	var store service.Store
	err := backoff.Retry(ctx, func() error {
		var initErr error
		switch cfg.Driver {
		case config.DriverPostgres:
			var pg *database.PostgresStore
			pg, initErr = database.NewPostgresStore(ctx, cfg.URL, cfg.MinConns, cfg.MaxConns, cfg.EncryptionSecret)
			if initErr == nil {
				store = pg
			}
		default:
			var db *database.Database
			db, initErr = database.New(cfg.Path, cfg.EncryptionSecret)
			if initErr == nil {
				store = db
			}
		}
		if initErr != nil {
			logger.Warnf("Failed to initialize database: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database after retries: %w", err)
	}

	logger.WithField("driver", driverName(cfg.Driver)).Info("Database ready")
	return store, nil
}

func driverName(d string) string {
	if d == "" {
		return config.DriverSQLite
	}
	return d
}

// newQuotaTracker counts sends against the daily quota in Redis when enabled,
// so that several dispatcher processes share one counter.
func newQuotaTracker(ctx context.Context, cfg models.RedisConfig, logger *logrus.Logger) (*quota.Tracker, func(), error) {
	if !cfg.Enabled {
		return quota.NewMemoryTracker(logger), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Address, err)
	}

	logger.WithField("address", cfg.Address).Info("Quota tracking backed by redis")
	return quota.NewRedisTracker(client, logger), func() { _ = client.Close() }, nil
}

// breakerGauge exports the gateway breaker state as 0 closed, 1 half-open,
// 2 open.
func breakerGauge(registry *metrics.Registry) func(name string, from, to circuitbreaker.State) {
	return func(name string, _, to circuitbreaker.State) {
		var v float64
		switch to {
		case circuitbreaker.StateHalfOpen:
			v = 1
		case circuitbreaker.StateOpen:
			v = 2
		}
		registry.SetGauge("gateway_breaker_state", v, map[string]string{"breaker": name}, "Gateway circuit breaker state")
	}
}

func processorConfig(cfg *models.Config) service.ProcessorConfig {
	return service.ProcessorConfig{
		BatchSize:   cfg.Queue.BatchSize,
		Interval:    time.Duration(cfg.Queue.ProcessIntervalSec) * time.Second,
		SendTimeout: time.Duration(cfg.Gateway.TimeoutSec) * time.Second,
		Policy: retry.Policy{
			Base:       time.Duration(cfg.Queue.RetryBaseMs) * time.Millisecond,
			Multiplier: cfg.Queue.RetryMultiplier,
			MaxDelay:   time.Duration(cfg.Queue.RetryMaxDelayMs) * time.Millisecond,
		},
	}
}

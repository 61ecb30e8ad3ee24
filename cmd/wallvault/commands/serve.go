package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/wallvault/wallvault/internal/logger"
	"github.com/wallvault/wallvault/internal/telemetry"
	"github.com/wallvault/wallvault/pkg/api"
	"github.com/wallvault/wallvault/pkg/api/handlers"
	"github.com/wallvault/wallvault/pkg/config"
	"github.com/wallvault/wallvault/pkg/events"
	natsevents "github.com/wallvault/wallvault/pkg/events/nats"
	"github.com/wallvault/wallvault/pkg/metrics"
	"github.com/wallvault/wallvault/pkg/ratelimit"
	"github.com/wallvault/wallvault/pkg/reconcile"
	"github.com/wallvault/wallvault/pkg/store/kv"
	"github.com/wallvault/wallvault/pkg/store/kv/redis"
	"github.com/wallvault/wallvault/pkg/store/object/s3"
	"github.com/wallvault/wallvault/pkg/store/wallpaper/postgres"
	"github.com/wallvault/wallvault/pkg/upload"
	"github.com/wallvault/wallvault/pkg/validate"
)

// consumerDurable is the durable name of the core's JetStream consumer.
// Changing it abandons the old consumer's delivery cursor.
const consumerDurable = "wallvault-core"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the upload ingestion service",
	Long: `Start the HTTP API, the event consumer and the background reconcilers.

Configuration is read from the config file (if present), WALLVAULT_*
environment variables and the short aliases used by the deployment manifests
(PORT, DATABASE_URL, S3_BUCKET, ...).

Examples:
  # Start with default config location
  wallvault serve

  # Start with custom config file
  wallvault serve --config /etc/wallvault/config.yaml

  # Start configured purely from the environment
  DATABASE_URL=postgres://... S3_BUCKET=wallpapers wallvault serve`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	// Every log line from this process carries the instance id, which is
	// what tells replicas apart in aggregated logs.
	instanceID := ulid.Make().String()
	logger.SetGlobalAttrs("instance_id", instanceID)

	// Logging settings follow config file edits at runtime; everything else
	// requires a restart.
	stopWatch, err := config.Watch(GetConfigFile(), func(next *config.Config) {
		logger.SetLevel(next.Logging.Level)
		logger.SetFormat(next.Logging.Format)
		logger.Info("Configuration reloaded, logging settings applied",
			"level", next.Logging.Level, "format", next.Logging.Format)
	})
	if err != nil {
		return fmt.Errorf("failed to watch config: %w", err)
	}
	defer stopWatch()

	// Cancelled on SIGINT/SIGTERM; everything serving requests hangs off it.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryCfg := telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	}
	telemetryShutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	profilingCfg := telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	}
	profilingShutdown, err := telemetry.InitProfiling(profilingCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", "error", err)
		}
	}()

	logger.Info("Configuration loaded",
		"source", getConfigSource(GetConfigFile()),
		"environment", cfg.Environment)
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled",
			"endpoint", cfg.Telemetry.Endpoint,
			"sample_rate", cfg.Telemetry.SampleRate)
	}

	m := metrics.New()

	// Adapters. The store runs migrations on startup when auto_migrate is
	// set; deployments that migrate separately use `wallvault migrate`.
	db, err := postgres.New(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize wallpaper store: %w", err)
	}
	defer db.Close()

	objects, err := s3.New(ctx, &cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize object store: %w", err)
	}
	objects.SetRetryHook(m.Upload.RecordStoreRetry)

	stream, err := natsevents.New(ctx, &cfg.Events)
	if err != nil {
		return fmt.Errorf("failed to initialize event stream: %w", err)
	}
	defer stream.Close()

	// The counter backend is only dialed when rate limiting is on; the
	// limiter itself fails open if the backend goes away later.
	var counter kv.Counter
	if cfg.RateLimit.Enabled {
		redisCounter, err := redis.New(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to initialize rate limit backend: %w", err)
		}
		defer func() { _ = redisCounter.Close() }()
		counter = redisCounter
	}
	limiter := ratelimit.New(counter, cfg.RateLimit)
	limiter.SetMetrics(m.RateLimit)

	engine := validate.NewEngine(validate.GlobalLimits{Set: validate.LimitSet{
		MaxFileSizeBytes: cfg.Validation.MaxFileSizeBytes,
		MinWidth:         cfg.Validation.MinWidth,
		MinHeight:        cfg.Validation.MinHeight,
		MaxWidth:         cfg.Validation.MaxWidth,
		MaxHeight:        cfg.Validation.MaxHeight,
	}})

	pub := events.NewPublisher(stream, m.Events)
	svc := upload.NewService(db, objects, pub, limiter, engine, m.Upload, cfg.Storage.Bucket)

	// Background reconcilers: the frequent cycle recovers stranded rows,
	// the hourly cycle sweeps blobs with no surviving row.
	rc := cfg.Reconcile
	reconcilers := []reconcile.Reconciler{
		reconcile.NewStuckUploads(db, objects, cfg.Storage.Bucket, rc.StuckUploadTimeout, rc.BatchSize, m.Reconcile),
		reconcile.NewMissingEvents(db, pub, rc.MissingEventTimeout, rc.BatchSize, m.Reconcile),
		reconcile.NewOrphanedIntents(db, rc.OrphanedIntentTimeout, rc.BatchSize, m.Reconcile),
	}
	cleanup := []reconcile.Reconciler{
		reconcile.NewOrphanedBlobs(db, objects, 0, m.Reconcile),
	}
	scheduler := reconcile.NewScheduler(reconcile.SchedulerConfig{
		Interval:        rc.Interval,
		CleanupInterval: rc.CleanupInterval,
	}, reconcilers, cleanup, m.Reconcile)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	// Event consumer: variant events from the processing fleet close out
	// rows (processing -> completed).
	consumer := events.NewConsumer(stream, m.Events)
	consumer.Handle(events.SubjectVariantAvailable, events.NewVariantHandler(db, m.Upload))
	stopConsumer, err := consumer.Start(ctx, consumerDurable)
	if err != nil {
		return fmt.Errorf("failed to start event consumer: %w", err)
	}
	defer stopConsumer()

	deps := api.Deps{
		Uploads: svc,
		Store:   db,
		Metrics: m.Handler(),
		HealthComponents: []handlers.Component{
			{Name: "database", Check: db.Healthcheck},
			{Name: "storage", Check: objects.Healthcheck},
			{Name: "events", Check: stream.Healthcheck},
		},
	}
	server := api.NewServer(cfg.Server, deps)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Service is running", "port", server.Port())

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		// Server drains in-flight requests first; the deferred scheduler
		// and consumer stops run after, so requests accepted during the
		// drain still publish their events.
		if err := <-serverDone; err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		logger.Info("Service stopped gracefully")
		return nil

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}

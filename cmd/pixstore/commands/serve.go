package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/pixstore/internal/logger"
	"github.com/marmos91/pixstore/internal/telemetry"
	"github.com/marmos91/pixstore/pkg/api"
	"github.com/marmos91/pixstore/pkg/api/handlers"
	"github.com/marmos91/pixstore/pkg/backoff"
	"github.com/marmos91/pixstore/pkg/blob"
	blobmem "github.com/marmos91/pixstore/pkg/blob/memory"
	blobs3 "github.com/marmos91/pixstore/pkg/blob/s3"
	"github.com/marmos91/pixstore/pkg/clock"
	"github.com/marmos91/pixstore/pkg/config"
	"github.com/marmos91/pixstore/pkg/image"
	"github.com/marmos91/pixstore/pkg/kv"
	"github.com/marmos91/pixstore/pkg/kv/badgerkv"
	kvmem "github.com/marmos91/pixstore/pkg/kv/memory"
	"github.com/marmos91/pixstore/pkg/metrics"
	"github.com/marmos91/pixstore/pkg/upload"
	"github.com/marmos91/pixstore/pkg/upload/meta"
	"github.com/marmos91/pixstore/pkg/upload/object"
	"github.com/marmos91/pixstore/pkg/upload/queue"
	"github.com/marmos91/pixstore/pkg/upload/service"
	"github.com/marmos91/pixstore/pkg/upload/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the pixstore server",
	Long: `Start the pixstore upload server with the specified configuration.

The server exposes the upload API and, unless disabled, runs the
finalization worker in the same process.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/pixstore/config.yaml.

Examples:
  # Start with default config location
  pixstore serve

  # Start with custom config file
  pixstore serve --config /etc/pixstore/config.yaml

  # Start with environment variable overrides
  PIXSTORE_LOGGING_LEVEL=DEBUG pixstore serve`,
	RunE: runServe,
}

var serveDev bool

func init() {
	serveCmd.Flags().BoolVar(&serveDev, "dev", false, "Run with in-memory stores and default settings (no config file required)")
}

func runServe(cmd *cobra.Command, args []string) error {
	var cfg *config.Config
	if serveDev {
		cfg = config.GetDefaultConfig()
		cfg.Storage.Backend = "memory"
		cfg.KV.Backend = "memory"
		cfg.KV.Path = ""
	} else {
		loaded, err := config.MustLoad(GetConfigFile())
		if err != nil {
			return err
		}
		cfg = loaded
	}

	// Initialize the structured logger
	if err := InitLogger(cfg); err != nil {
		return err
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry (if enabled)
	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "pixstore",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", logger.Err(err))
		}
	}()

	// Initialize Pyroscope profiling (if enabled)
	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "pixstore",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.Err(err))
		}
	}()

	fmt.Println("Pixstore - Image upload ingestion service")
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	} else {
		logger.Info("Telemetry disabled")
	}

	// Initialize metrics FIRST (before creating collectors that check
	// metrics.IsEnabled())
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		logger.Info("Metrics collection enabled")
	} else {
		logger.Info("Metrics collection disabled")
	}

	var readinessChecks []handlers.ReadinessCheck

	// Key-value backend for upload records and finalize jobs
	var (
		records  kv.Full[upload.Record]
		jobs     kv.Full[upload.Job]
		jobIndex kv.Full[queue.Index]
	)
	switch cfg.KV.Backend {
	case "badger":
		db, err := badgerkv.Open(ctx, badgerkv.Config{
			Path:       cfg.KV.Path,
			SyncWrites: cfg.KV.SyncWrites,
		})
		if err != nil {
			return fmt.Errorf("failed to open badger database: %w", err)
		}
		defer func() {
			if err := db.Close(); err != nil {
				logger.Error("badger close error", logger.Err(err))
			}
		}()

		records = badgerkv.NewStore[upload.Record](db, "upload")
		jobs = badgerkv.NewStore[upload.Job](db, "job")
		jobIndex = badgerkv.NewStore[queue.Index](db, "jobindex")
		readinessChecks = append(readinessChecks, handlers.ReadinessCheck{
			Name:  "badger",
			Check: db.Healthcheck,
		})
		logger.Info("KV store opened", "backend", "badger", "path", cfg.KV.Path)

	case "memory":
		records = kvmem.New[upload.Record]()
		jobs = kvmem.New[upload.Job]()
		jobIndex = kvmem.New[queue.Index]()
		logger.Warn("Using in-memory KV store; uploads and jobs will not survive a restart")

	default:
		return fmt.Errorf("unknown kv backend: %s", cfg.KV.Backend)
	}

	// Blob backend for staging and final objects
	var blobs blob.Store
	switch cfg.Storage.Backend {
	case "s3":
		store, err := blobs3.NewFromConfig(ctx, blobs3.Config{
			Region:         cfg.Storage.Region,
			Endpoint:       cfg.Storage.Endpoint,
			ForcePathStyle: cfg.Storage.ForcePathStyle,
			PresignExpiry:  cfg.Storage.PresignExpiry,
		})
		if err != nil {
			return fmt.Errorf("failed to create S3 blob store: %w", err)
		}
		defer func() { _ = store.Close() }()

		blobs = store
		readinessChecks = append(readinessChecks, handlers.ReadinessCheck{
			Name: "s3",
			Check: func(ctx context.Context) error {
				return store.HealthCheck(ctx, cfg.Storage.Bucket)
			},
		})
		logger.Info("Blob store configured", "backend", "s3",
			"bucket", cfg.Storage.Bucket, "region", cfg.Storage.Region)

	case "memory":
		blobs = blobmem.New()
		logger.Warn("Using in-memory blob store; uploaded objects will not survive a restart")

	default:
		return fmt.Errorf("unknown storage backend: %s", cfg.Storage.Backend)
	}

	objects := object.New(blobs, object.Config{
		Bucket:        cfg.Storage.Bucket,
		StagingPrefix: cfg.Storage.StagingPrefix,
		FinalPrefix:   cfg.Storage.FinalPrefix,
		PresignExpiry: cfg.Storage.PresignExpiry,
	})
	metaStore := meta.New(records)
	jobStore := queue.New(jobs, jobIndex, queue.Config{
		LeaseDuration: cfg.Worker.LeaseDuration,
	})

	orchestrator := service.New(metaStore, jobStore, objects, image.NewPassthrough(), clock.NewSystem())

	// Finalization worker (if enabled - defaults to true)
	if cfg.Worker.IsEnabled() {
		w := worker.New(jobStore, orchestrator, clock.NewSystem(), metrics.NewWorkerMetrics(), worker.Config{
			Concurrency: cfg.Worker.Concurrency,
			PollLimit:   cfg.Worker.PollLimit,
			IdleBackoff: backoff.Clamp(
				backoff.Exponential(cfg.Worker.IdleBackoffMin, 2),
				cfg.Worker.IdleBackoffMin,
				cfg.Worker.IdleBackoffMax,
			),
			JobRetryDelay: backoff.Clamp(
				backoff.Exponential(cfg.Worker.RetryDelayBase, 2),
				cfg.Worker.RetryDelayBase,
				cfg.Worker.RetryDelayMax,
			),
			MaxJobAttempts: cfg.Worker.MaxJobAttempts,
		})
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("failed to start worker: %w", err)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer stopCancel()
			if err := w.Stop(stopCtx); err != nil {
				logger.Error("worker shutdown error", logger.Err(err))
			}
		}()
		logger.Info("Finalization worker started",
			"concurrency", cfg.Worker.Concurrency,
			"max_job_attempts", cfg.Worker.MaxJobAttempts)
	} else {
		logger.Info("Finalization worker disabled")
	}

	// API server (if enabled - defaults to true)
	var serverDone chan error
	if cfg.API.IsEnabled() {
		apiServer := api.NewServer(cfg.API, api.RouterDeps{
			Orchestrator:    orchestrator,
			ReadinessChecks: readinessChecks,
			HTTPMetrics:     metrics.NewHTTPMetrics(),
			RequestTimeout:  cfg.API.RequestTimeout,
			MaxUploadSize:   cfg.Storage.MaxUploadSize.Int64(),
		})
		logger.Info("API server enabled", "port", apiServer.Port())

		serverDone = make(chan error, 1)
		go func() {
			serverDone <- apiServer.Start(ctx)
		}()
	} else {
		logger.Info("API server disabled")
	}

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		if serverDone != nil {
			if err := <-serverDone; err != nil {
				logger.Error("API server shutdown error", logger.Err(err))
				return err
			}
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("API server error", logger.Err(err))
			return err
		}
		logger.Info("Server stopped")
	}

	return nil
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}

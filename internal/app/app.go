// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the CLI.
package app

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hiber-niu/heritrix-mongodb-writer/internal/checkpoint"
	gcscheckpoint "github.com/hiber-niu/heritrix-mongodb-writer/internal/checkpoint/gcs"
	localcheckpoint "github.com/hiber-niu/heritrix-mongodb-writer/internal/checkpoint/local"
	memorycheckpoint "github.com/hiber-niu/heritrix-mongodb-writer/internal/checkpoint/memory"
	"github.com/hiber-niu/heritrix-mongodb-writer/internal/config"
	collyfetcher "github.com/hiber-niu/heritrix-mongodb-writer/internal/fetcher/colly"
	"github.com/hiber-niu/heritrix-mongodb-writer/internal/logging"
	"github.com/hiber-niu/heritrix-mongodb-writer/internal/metrics"
	"github.com/hiber-niu/heritrix-mongodb-writer/internal/mongodb"
	"github.com/hiber-niu/heritrix-mongodb-writer/internal/processor"
)

// App holds the shared services of one crawl run.
type App struct {
	Config      config.Config
	Logger      *zap.Logger
	RunID       string
	Metrics     *metrics.Collectors
	Host        *collyfetcher.Host
	Processor   *processor.Processor
	Checkpoints checkpoint.Store

	closers []func() error
}

// Option customizes NewApp, mainly for tests.
type Option func(*options)

type options struct {
	logger      *zap.Logger
	connector   mongodb.Connector
	checkpoints checkpoint.Store
	registry    *prometheus.Registry
}

// WithLogger replaces the configured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithConnector replaces the MongoDB driver connector.
func WithConnector(connector mongodb.Connector) Option {
	return func(o *options) { o.connector = connector }
}

// WithCheckpointStore replaces the configured checkpoint backend.
func WithCheckpointStore(store checkpoint.Store) Option {
	return func(o *options) { o.checkpoints = store }
}

// WithRegistry registers metrics on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// NewApp wires the processor and its dependencies from cfg, resumes counters
// from the last checkpoint and builds the writer pool.
func NewApp(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg}
	if o.logger != nil {
		a.Logger = o.logger
	} else {
		logger, err := logging.New(cfg.Logging)
		if err != nil {
			return nil, err
		}
		a.Logger = logger
		a.closers = append(a.closers, func() error {
			_ = logger.Sync() //nolint:errcheck // stderr sync fails on some platforms
			return nil
		})
	}

	runID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	a.RunID = runID.String()
	a.Logger = logging.WithRun(a.Logger, a.RunID)
	a.Logger.Info("initializing application services")

	a.Metrics = metrics.New(o.registry)

	params, err := mongodb.ParametersFromConfig(cfg.Mongo)
	if err != nil {
		return nil, fmt.Errorf("mongodb parameters: %w", err)
	}
	connector := o.connector
	if connector == nil {
		connector = mongodb.MongoConnector{ConnectTimeout: cfg.Mongo.ConnectTimeout}
	}

	a.Host = collyfetcher.NewHost(cfg.Crawl.SkipWriteDomains, cfg.Crawl.DedupCapacity)
	a.Processor, err = processor.New(params, processor.Config{
		PoolMaxActive:    cfg.Pool.MaxActive,
		MaxWaitForIdle:   cfg.Pool.MaxWait,
		MaxFileSizeBytes: cfg.MaxFileSizeBytes(),
	}, a.Host, connector, a.Metrics, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("create processor: %w", err)
	}

	a.Checkpoints = o.checkpoints
	if a.Checkpoints == nil {
		a.Checkpoints, err = a.openCheckpoints(ctx, cfg.Checkpoint)
		if err != nil {
			return nil, err
		}
	}
	if _, err := a.Processor.Resume(ctx, a.Checkpoints, cfg.Checkpoint.Name); err != nil {
		return nil, fmt.Errorf("resume processor: %w", err)
	}
	if err := a.Processor.SetupPool(nil); err != nil {
		return nil, fmt.Errorf("set up writer pool: %w", err)
	}

	a.Logger.Info("application services initialized",
		zap.Int("pool_max_active", cfg.Pool.MaxActive),
		zap.String("checkpoint_backend", cfg.Checkpoint.Backend),
	)
	return a, nil
}

func (a *App) openCheckpoints(ctx context.Context, cfg config.CheckpointConfig) (checkpoint.Store, error) {
	switch cfg.Backend {
	case config.CheckpointGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		store, err := gcscheckpoint.New(client, gcscheckpoint.Config{Bucket: cfg.Bucket, Prefix: cfg.Prefix})
		if err != nil {
			return nil, fmt.Errorf("gcs checkpoint store: %w", err)
		}
		return store, nil
	case config.CheckpointMemory:
		return memorycheckpoint.New(), nil
	default:
		store, err := localcheckpoint.New(localcheckpoint.Config{BaseDir: cfg.Dir})
		if err != nil {
			return nil, fmt.Errorf("local checkpoint store: %w", err)
		}
		return store, nil
	}
}

// Checkpoint persists the processor counters under the configured name.
func (a *App) Checkpoint(ctx context.Context) error {
	if err := a.Processor.Checkpoint(ctx, a.Checkpoints, a.Config.Checkpoint.Name); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}

// Close checkpoints the counters, tears down the writer pool and releases
// every other service. It keeps going past failures and joins them.
func (a *App) Close(ctx context.Context) error {
	a.Logger.Info("shutting down application services",
		zap.Int64("urls_written", a.Processor.URLsWritten()),
		zap.Int64("bytes_written", a.Processor.TotalBytesWritten()),
	)
	var errs []error
	if err := a.Checkpoint(ctx); err != nil {
		a.Logger.Warn("final checkpoint failed", zap.Error(err))
		errs = append(errs, err)
	}
	if err := a.Processor.Close(); err != nil {
		a.Logger.Warn("closing processor failed", zap.Error(err))
		errs = append(errs, err)
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

package server

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Sanidhya1398/uw-decision-support/internal/backend"
	"github.com/Sanidhya1398/uw-decision-support/internal/cache"
	"github.com/Sanidhya1398/uw-decision-support/internal/config"
	"github.com/Sanidhya1398/uw-decision-support/internal/database"
	"github.com/Sanidhya1398/uw-decision-support/internal/events"
	"github.com/Sanidhya1398/uw-decision-support/internal/features"
	"github.com/Sanidhya1398/uw-decision-support/internal/monitoring"
	"github.com/Sanidhya1398/uw-decision-support/internal/registry"
	"github.com/Sanidhya1398/uw-decision-support/internal/scheduler"
	"github.com/Sanidhya1398/uw-decision-support/internal/service"
	"github.com/Sanidhya1398/uw-decision-support/internal/store"
	"github.com/Sanidhya1398/uw-decision-support/internal/training"
)

// restoredJobs bounds how many persisted jobs are reloaded on startup
const restoredJobs = 100

// Components holds the wired service graph shared by the server and the CLI
type Components struct {
	Config    *config.Config
	Metrics   *monitoring.Metrics
	Blobs     store.BlobStore
	Publisher events.Publisher
	Cache     cache.PredictionCache
	DB        *database.Database
	Manager   *registry.Manager
	Trainer   *training.Trainer
	Engine    *training.Engine
	Overrides *training.OverrideLearningService
	Retrainer *scheduler.Retrainer
	Service   *service.InferenceService
}

// NewComponents builds every component from configuration. Nothing is started
// and no models are loaded.
func NewComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{
		Config:  cfg,
		Metrics: monitoring.NewMetrics(),
	}

	keywords := features.DefaultKeywords()
	if cfg.ML.KeywordsFile != "" {
		kw, err := features.LoadKeywords(cfg.ML.KeywordsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load keywords: %w", err)
		}
		keywords = kw
	}
	engineer := features.NewEngineer(keywords)

	blobs, err := store.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create model store: %w", err)
	}
	c.Blobs = blobs

	c.Publisher = events.New(cfg.Kafka, logger)
	c.Cache = cache.New(cfg.Redis, logger)

	c.Manager = registry.NewManager(cfg, blobs, logger,
		registry.WithPublisher(c.Publisher),
		registry.WithMetrics(c.Metrics))

	client := backend.NewClient(cfg.Backend, logger)
	loader := training.NewDataLoader(cfg, engineer, logger)
	c.Overrides = training.NewOverrideLearningService(cfg, client, loader, c.Metrics, logger)
	c.Trainer = training.NewTrainer(cfg, client, loader, c.Manager, blobs, logger,
		training.WithTrainerMetrics(c.Metrics))

	engineOpts := []training.EngineOption{
		training.WithJobPublisher(c.Publisher),
		training.WithEngineMetrics(c.Metrics),
	}
	if cfg.Database.Enabled {
		db, err := database.NewDatabase(cfg.Database, logger)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := db.AutoMigrate(); err != nil {
			_ = db.Close()
			c.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		c.DB = db
		engineOpts = append(engineOpts, training.WithJobStore(database.NewTrainingJobRepository(db)))
	}
	c.Engine = training.NewEngine(cfg, c.Trainer, logger, engineOpts...)

	if cfg.Scheduler.Enabled {
		retrainer, err := scheduler.NewRetrainer(cfg.Scheduler, c.Engine, logger)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.Retrainer = retrainer
	}

	c.Service = service.NewInferenceService(cfg, engineer, c.Manager, c.Engine, c.Overrides, logger,
		service.WithCache(c.Cache),
		service.WithMetrics(c.Metrics))

	return c, nil
}

// CheckConnections pings optional backing services. Failures are logged so the
// service can still start in a degraded mode.
func (c *Components) CheckConnections(ctx context.Context, logger *zap.Logger) {
	if rc, ok := c.Cache.(*cache.RedisCache); ok {
		if err := rc.Ping(ctx); err != nil {
			logger.Warn("Prediction cache unavailable", zap.Error(err))
		}
	}
	if c.DB != nil {
		if err := c.DB.Health(ctx); err != nil {
			logger.Warn("Database unavailable", zap.Error(err))
		}
	}
}

// Close releases connections held by the components
func (c *Components) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.Publisher != nil {
		keep(c.Publisher.Close())
	}
	if c.Cache != nil {
		keep(c.Cache.Close())
	}
	if c.DB != nil {
		keep(c.DB.Close())
	}
	return firstErr
}

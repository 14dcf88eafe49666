// Package database mirrors training jobs to a relational store.
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/Sanidhya1398/uw-decision-support/internal/config"
	"github.com/Sanidhya1398/uw-decision-support/internal/models"
)

// ErrNotFound is returned when a job is not stored
var ErrNotFound = errors.New("record not found")

// Database wraps the GORM database connection
type Database struct {
	*gorm.DB
}

// NewDatabase opens the configured driver
func NewDatabase(cfg config.DatabaseConfig, log *zap.Logger) (*Database, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "", "postgres":
		dialector = postgres.Open(cfg.PostgresDSN())
	case "sqlite":
		dialector = sqlite.Open(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	logLevel := logger.Silent
	if cfg.SSLMode == "disable" {
		logLevel = logger.Warn
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	if cfg.MaxConnections > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxConnections)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	log.Info("Connected to database", zap.String("driver", dialector.Name()))
	return &Database{DB: db}, nil
}

// AutoMigrate creates or updates the job table
func (db *Database) AutoMigrate() error {
	return db.DB.AutoMigrate(&models.TrainingJob{})
}

// Close closes the database connection
func (db *Database) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health checks the database connection
func (db *Database) Health(ctx context.Context) error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// TrainingJobRepository provides database operations for training jobs
type TrainingJobRepository struct {
	db *Database
}

// NewTrainingJobRepository creates a new training job repository
func NewTrainingJobRepository(db *Database) *TrainingJobRepository {
	return &TrainingJobRepository{db: db}
}

// SaveJob inserts or replaces a job row
func (r *TrainingJobRepository) SaveJob(ctx context.Context, job *models.TrainingJob) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(job).Error
	if err != nil {
		return fmt.Errorf("failed to save training job %s: %w", job.ID, err)
	}
	return nil
}

// GetByID retrieves a job by id
func (r *TrainingJobRepository) GetByID(ctx context.Context, id string) (*models.TrainingJob, error) {
	var job models.TrainingJob
	err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get training job: %w", err)
	}
	return &job, nil
}

// RecentJobs returns up to limit jobs, newest first
func (r *TrainingJobRepository) RecentJobs(ctx context.Context, limit int) ([]*models.TrainingJob, error) {
	var jobs []*models.TrainingJob
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list training jobs: %w", err)
	}
	return jobs, nil
}

// GetRunningJobs returns jobs that have not reached a terminal state
func (r *TrainingJobRepository) GetRunningJobs(ctx context.Context) ([]*models.TrainingJob, error) {
	var jobs []*models.TrainingJob
	err := r.db.WithContext(ctx).
		Where("status IN ?", []models.TrainingStatus{models.TrainingStatusPending, models.TrainingStatusRunning}).
		Order("created_at ASC").
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list running jobs: %w", err)
	}
	return jobs, nil
}

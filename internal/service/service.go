// Package service exposes predictions, model management and training control
// to the transport layers.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Sanidhya1398/uw-decision-support/internal/cache"
	"github.com/Sanidhya1398/uw-decision-support/internal/config"
	"github.com/Sanidhya1398/uw-decision-support/internal/features"
	"github.com/Sanidhya1398/uw-decision-support/internal/inference"
	"github.com/Sanidhya1398/uw-decision-support/internal/models"
	"github.com/Sanidhya1398/uw-decision-support/internal/monitoring"
	"github.com/Sanidhya1398/uw-decision-support/internal/registry"
	"github.com/Sanidhya1398/uw-decision-support/internal/training"
)

// Build information, overridden with -ldflags
var (
	Name    = "UW ML Service"
	Version = "1.0.0"
)

// ComplexityRequest asks for the complexity tier of a case
type ComplexityRequest struct {
	CaseID      string              `json:"case_id" binding:"required"`
	Applicant   models.Applicant    `json:"applicant"`
	SumAssured  float64             `json:"sum_assured" binding:"gte=0"`
	Disclosures []models.Disclosure `json:"medical_disclosures" binding:"dive"`
	// Accepted from callers but not part of the feature set.
	ExistingRiskFactors []map[string]interface{} `json:"existing_risk_factors,omitempty"`
}

// TestYieldRequest asks for the diagnostic yield of one test
type TestYieldRequest struct {
	CaseID      string              `json:"case_id" binding:"required"`
	TestCode    string              `json:"test_code" binding:"required"`
	Applicant   models.Applicant    `json:"applicant"`
	SumAssured  float64             `json:"sum_assured" binding:"gte=0"`
	Disclosures []models.Disclosure `json:"medical_disclosures" binding:"dive"`
}

// Health reports service status
type Health struct {
	Status        string          `json:"status"`
	Version       string          `json:"version"`
	ModelsLoaded  map[string]bool `json:"models_loaded"`
	UptimeSeconds float64         `json:"uptime_seconds"`
}

// JobQueue runs training jobs in the background. *training.Engine implements it.
type JobQueue interface {
	Submit(ctx context.Context, modelType models.ModelType, force bool) (*models.TrainingJob, error)
	Get(id uuid.UUID) (*models.TrainingJob, error)
	List() []*models.TrainingJob
}

// OverrideReporter summarizes underwriter overrides
type OverrideReporter interface {
	Report(ctx context.Context) map[string]training.LearningMetrics
}

// InferenceService is the entry point for every API operation
type InferenceService struct {
	engineer  *features.Engineer
	manager   *registry.Manager
	jobs      JobQueue
	overrides OverrideReporter
	cache     cache.PredictionCache
	metrics   *monitoring.Metrics
	logger    *zap.Logger
	startedAt time.Time
}

// Option configures an InferenceService
type Option func(*InferenceService)

// WithCache serves repeated predictions from a cache
func WithCache(c cache.PredictionCache) Option {
	return func(s *InferenceService) { s.cache = c }
}

// WithMetrics records prediction metrics
func WithMetrics(m *monitoring.Metrics) Option {
	return func(s *InferenceService) { s.metrics = m }
}

// NewInferenceService creates the service
func NewInferenceService(
	cfg *config.Config,
	engineer *features.Engineer,
	manager *registry.Manager,
	jobs JobQueue,
	overrides OverrideReporter,
	logger *zap.Logger,
	opts ...Option,
) *InferenceService {
	s := &InferenceService{
		engineer:  engineer,
		manager:   manager,
		jobs:      jobs,
		overrides: overrides,
		cache:     cache.Nop{},
		logger:    logger.With(zap.String("component", "inference_service"), zap.String("environment", cfg.Environment)),
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Health reports uptime and which models are fitted
func (s *InferenceService) Health() Health {
	return Health{
		Status:        "healthy",
		Version:       Version,
		ModelsLoaded:  s.manager.LoadedModels(),
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
	}
}

// PredictComplexity classifies a case. It always returns a complete prediction.
func (s *InferenceService) PredictComplexity(ctx context.Context, req ComplexityRequest) models.ComplexityPrediction {
	start := time.Now()
	model := s.manager.Snapshot().Complexity

	set := s.engineer.Extract(features.Input{
		Applicant:   req.Applicant,
		SumAssured:  req.SumAssured,
		Disclosures: req.Disclosures,
	})

	// Rule-based predictions are never cached.
	var key string
	if model.Fitted() {
		key = cache.Key(string(models.ModelTypeComplexity), model.Version(), set, model.Features())
		var cached models.ComplexityPrediction
		if s.lookup(ctx, key, &cached) {
			s.record(string(models.ModelTypeComplexity), cached.ModelVersion, start)
			return cached
		}
	}

	pred := model.Predict(set)
	if key != "" && pred.ModelVersion != inference.RuleBasedVersion {
		s.store(ctx, key, pred)
	}

	s.record(string(models.ModelTypeComplexity), pred.ModelVersion, start)
	s.logger.Debug("Complexity classified",
		zap.String("case_id", req.CaseID),
		zap.String("tier", string(pred.Tier)),
		zap.Float64("confidence", pred.Confidence),
		zap.String("model_version", pred.ModelVersion))
	return pred
}

// PredictTestYield estimates the yield of one test. Unsupported test codes
// return *inference.UnsupportedTestError.
func (s *InferenceService) PredictTestYield(ctx context.Context, req TestYieldRequest) (models.TestYieldPrediction, error) {
	start := time.Now()
	code, ok := models.ParseTestCode(req.TestCode)
	if !ok {
		return models.TestYieldPrediction{}, &inference.UnsupportedTestError{Code: req.TestCode}
	}
	bank := s.manager.Snapshot().TestYield
	name := "test_yield_" + code.Key()

	set := s.engineer.Extract(features.Input{
		Applicant:   req.Applicant,
		SumAssured:  req.SumAssured,
		Disclosures: req.Disclosures,
		TestCode:    code,
	})

	var key string
	if bank.Fitted(code) {
		info, err := bank.Info(code)
		if err != nil {
			return models.TestYieldPrediction{}, err
		}
		key = cache.Key(name, info.Version, set, info.Features)
		var cached models.TestYieldPrediction
		if s.lookup(ctx, key, &cached) {
			s.record(name, cached.ModelVersion, start)
			return cached, nil
		}
	}

	pred, err := bank.Predict(code, set)
	if err != nil {
		return models.TestYieldPrediction{}, fmt.Errorf("failed to predict %s yield: %w", code, err)
	}
	if key != "" && pred.ModelVersion != inference.RuleBasedVersion {
		s.store(ctx, key, pred)
	}

	s.record(name, pred.ModelVersion, start)
	s.logger.Debug("Test yield predicted",
		zap.String("case_id", req.CaseID),
		zap.String("test_code", string(code)),
		zap.Float64("predicted_yield", pred.PredictedYield),
		zap.String("recommendation", pred.Recommendation))
	return pred, nil
}

func (s *InferenceService) lookup(ctx context.Context, key string, dst interface{}) bool {
	hit, err := s.cache.Get(ctx, key, dst)
	if err != nil {
		s.logger.Warn("Prediction cache read failed", zap.Error(err))
		return false
	}
	return hit
}

func (s *InferenceService) store(ctx context.Context, key string, value interface{}) {
	if err := s.cache.Set(ctx, key, value); err != nil {
		s.logger.Warn("Prediction cache write failed", zap.Error(err))
	}
}

func (s *InferenceService) record(model, version string, start time.Time) {
	s.metrics.RecordPrediction(model, version, version == inference.RuleBasedVersion, time.Since(start))
}

// TriggerTraining queues a training job and returns it in the pending state
func (s *InferenceService) TriggerTraining(ctx context.Context, modelType string, force bool) (*models.TrainingJob, error) {
	return s.jobs.Submit(ctx, models.ModelType(modelType), force)
}

// TrainingStatus returns a job by id. Malformed ids are reported as not found.
func (s *InferenceService) TrainingStatus(id string) (*models.TrainingJob, error) {
	jobID, err := uuid.Parse(id)
	if err != nil {
		return nil, training.ErrJobNotFound
	}
	return s.jobs.Get(jobID)
}

// ListJobs returns every known job, newest first
func (s *InferenceService) ListJobs() []*models.TrainingJob {
	return s.jobs.List()
}

// LoadedModels reports which models have a fitted predictor
func (s *InferenceService) LoadedModels() map[string]bool {
	return s.manager.LoadedModels()
}

// ModelInfo describes every serving model
func (s *InferenceService) ModelInfo() map[string]models.ModelInfo {
	return s.manager.ModelInfo()
}

// AvailableVersions lists stored model versions, newest first
func (s *InferenceService) AvailableVersions(ctx context.Context) ([]string, error) {
	return s.manager.AvailableVersions(ctx)
}

// Reload swaps in the models stored under version
func (s *InferenceService) Reload(ctx context.Context, version string) (map[string]bool, error) {
	loaded, err := s.manager.Reload(ctx, version)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Models reloaded", zap.String("version", version), zap.Any("loaded", loaded))
	return loaded, nil
}

// OverrideMetrics summarizes recent overrides by type
func (s *InferenceService) OverrideMetrics(ctx context.Context) map[string]training.LearningMetrics {
	return s.overrides.Report(ctx)
}

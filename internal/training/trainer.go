// Package training assembles datasets from the case-management backend, fits
// new model versions and deploys them into the serving registry.
package training

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Sanidhya1398/uw-decision-support/internal/backend"
	"github.com/Sanidhya1398/uw-decision-support/internal/config"
	"github.com/Sanidhya1398/uw-decision-support/internal/inference"
	"github.com/Sanidhya1398/uw-decision-support/internal/models"
	"github.com/Sanidhya1398/uw-decision-support/internal/monitoring"
	"github.com/Sanidhya1398/uw-decision-support/internal/registry"
	"github.com/Sanidhya1398/uw-decision-support/internal/store"
)

// VersionLayout formats version tags after the "v" prefix
const VersionLayout = "20060102_150405"

// ErrNoModelsTrained is returned when a test yield run trains no test at all
var ErrNoModelsTrained = errors.New("no test yield models trained")

// InsufficientDataError is returned when a run has too few samples to fit
type InsufficientDataError struct {
	ModelType models.ModelType
	Samples   int
	Required  int
}

func (e *InsufficientDataError) Error() string {
	if e.Samples == 0 {
		return fmt.Sprintf("insufficient data for %s: no training samples", e.ModelType)
	}
	return fmt.Sprintf("insufficient data for %s: %d samples, %d required", e.ModelType, e.Samples, e.Required)
}

// Trainer runs one training pass for a model family end to end
type Trainer struct {
	cfg     *config.Config
	source  Source
	loader  *DataLoader
	manager *registry.Manager
	blobs   store.BlobStore
	metrics *monitoring.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// TrainerOption configures a Trainer
type TrainerOption func(*Trainer)

// WithTrainerClock sets the clock used for version tags
func WithTrainerClock(now func() time.Time) TrainerOption {
	return func(t *Trainer) { t.now = now }
}

// WithTrainerMetrics exports sample counts
func WithTrainerMetrics(m *monitoring.Metrics) TrainerOption {
	return func(t *Trainer) { t.metrics = m }
}

// NewTrainer creates a trainer deploying into manager
func NewTrainer(cfg *config.Config, source Source, loader *DataLoader, manager *registry.Manager, blobs store.BlobStore, logger *zap.Logger, opts ...TrainerOption) *Trainer {
	t := &Trainer{
		cfg:     cfg,
		source:  source,
		loader:  loader,
		manager: manager,
		blobs:   blobs,
		logger:  logger.With(zap.String("component", "trainer")),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewVersion returns a fresh version tag
func (t *Trainer) NewVersion() string {
	return "v" + t.now().UTC().Format(VersionLayout)
}

// Train fits and deploys one model family. force bypasses the minimum sample
// threshold but never an empty dataset. A test yield run that trains nothing
// returns ErrNoModelsTrained along with the per-test outcomes.
func (t *Trainer) Train(ctx context.Context, modelType models.ModelType, force bool) (*models.TrainingResult, error) {
	switch modelType {
	case models.ModelTypeComplexity:
		return t.trainComplexity(ctx, force)
	case models.ModelTypeTestYield:
		return t.trainTestYield(ctx, force)
	default:
		return nil, fmt.Errorf("unknown model type: %s", modelType)
	}
}

func (t *Trainer) trainComplexity(ctx context.Context, force bool) (*models.TrainingResult, error) {
	started := time.Now().UTC()
	logger := t.logger.With(zap.String("model_type", string(models.ModelTypeComplexity)))

	tc := t.cfg.ML.Training
	cases := t.source.CasesForTraining(ctx, tc.CaseLimit)
	overrides := t.source.OverridesForTraining(ctx, backend.OverrideComplexityTier, tc.OverrideLookbackDays, false)
	ds := t.loader.ComplexityDataset(cases, overrides)

	required := t.cfg.ML.MinTrainingSamples
	if ds.Len() == 0 || (ds.Len() < required && !force) {
		return nil, &InsufficientDataError{ModelType: models.ModelTypeComplexity, Samples: ds.Len(), Required: required}
	}

	logger.Info("Training complexity model",
		zap.Int("cases", len(cases)),
		zap.Int("overrides", len(overrides)),
		zap.Bool("force", force))

	model := inference.NewComplexityModel(t.cfg, t.logger)
	metrics, err := model.Fit(ds.X, ds.Classes(), ds.W)
	if err != nil {
		return nil, fmt.Errorf("failed to fit complexity model: %w", err)
	}

	version := t.NewVersion()
	path, err := model.Save(ctx, t.blobs, version)
	if err != nil {
		return nil, fmt.Errorf("failed to save complexity model: %w", err)
	}
	t.manager.UpdateComplexityModel(ctx, model)
	t.metrics.SetTrainingSamples(string(models.ModelTypeComplexity), ds.Len())

	logger.Info("Complexity model deployed", zap.String("version", version), zap.Int("samples", ds.Len()))
	return &models.TrainingResult{
		ModelType:   models.ModelTypeComplexity,
		Status:      models.TrainingStatusCompleted,
		StartedAt:   started,
		CompletedAt: time.Now().UTC(),
		SamplesUsed: ds.Len(),
		Metrics:     metrics,
		Version:     version,
		ModelPath:   path,
	}, nil
}

// trainTestYield trains every supported test independently into one version.
// A test without data is skipped and a failing test does not stop the others.
func (t *Trainer) trainTestYield(ctx context.Context, force bool) (*models.TrainingResult, error) {
	started := time.Now().UTC()
	logger := t.logger.With(zap.String("model_type", string(models.ModelTypeTestYield)))

	tc := t.cfg.ML.Training
	cases := t.source.CasesForTraining(ctx, tc.CaseLimit)
	overrides := t.source.OverridesForTraining(ctx, backend.OverrideTestRecommendation, tc.OverrideLookbackDays, false)

	version := t.NewVersion()
	bank := t.manager.Snapshot().TestYield.Clone()
	required := t.cfg.ML.MinTestSamples

	result := &models.TrainingResult{
		ModelType: models.ModelTypeTestYield,
		StartedAt: started,
		Version:   version,
		Models:    make(map[models.TestCode]*models.TestRunResult, len(models.SupportedTests)),
	}

	completed := 0
	for _, code := range models.SupportedTests {
		ds := t.loader.TestYieldDataset(code, cases, overrides)
		run := &models.TestRunResult{TestCode: code, SamplesUsed: ds.Len()}
		result.Models[code] = run

		switch {
		case ds.Len() == 0:
			run.Status = models.TrainingStatusSkipped
			run.Reason = "no training data"
			continue
		case ds.Len() < required && !force:
			run.Status = models.TrainingStatusSkipped
			run.Reason = fmt.Sprintf("insufficient data: %d samples, %d required", ds.Len(), required)
			continue
		}

		// Fit into a scratch bank so a failed save leaves no unsaved entry behind.
		trial := bank.Clone()
		metrics, err := trial.Fit(code, ds.X, ds.Y, ds.W)
		if err == nil {
			run.ModelPath, err = trial.SaveTest(ctx, t.blobs, code, version)
		}
		if err != nil {
			run.Status = models.TrainingStatusFailed
			run.Error = err.Error()
			logger.Warn("Test yield model failed", zap.String("test_code", string(code)), zap.Error(err))
			continue
		}

		bank = trial
		run.Status = models.TrainingStatusCompleted
		run.Metrics = metrics
		result.SamplesUsed += ds.Len()
		completed++
		t.metrics.SetTrainingSamples("test_yield_"+code.Key(), ds.Len())
	}

	if completed == 0 {
		logger.Warn("No test yield models trained", zap.String("version", version))
		result.Status = models.TrainingStatusFailed
		result.CompletedAt = time.Now().UTC()
		return result, ErrNoModelsTrained
	}

	// Carry models from earlier versions into this one so the version is complete.
	if _, err := bank.Save(ctx, t.blobs, version); err != nil {
		logger.Warn("Failed to carry earlier test models into version", zap.String("version", version), zap.Error(err))
	}
	t.manager.UpdateTestYieldModel(ctx, bank)

	result.Status = models.TrainingStatusCompleted
	result.CompletedAt = time.Now().UTC()
	logger.Info("Test yield models deployed",
		zap.String("version", version),
		zap.Int("completed", completed),
		zap.Int("total", len(models.SupportedTests)))
	return result, nil
}

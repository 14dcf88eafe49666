package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Sanidhya1398/uw-decision-support/internal/config"
	"github.com/Sanidhya1398/uw-decision-support/internal/features"
	"github.com/Sanidhya1398/uw-decision-support/internal/inference"
	"github.com/Sanidhya1398/uw-decision-support/internal/models"
	"github.com/Sanidhya1398/uw-decision-support/internal/monitoring"
	"github.com/Sanidhya1398/uw-decision-support/internal/registry"
	"github.com/Sanidhya1398/uw-decision-support/internal/store"
	"github.com/Sanidhya1398/uw-decision-support/internal/training"
)

type memoryCache struct {
	mu     sync.Mutex
	items  map[string][]byte
	hits   int
	writes int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{items: make(map[string][]byte)}
}

func (c *memoryCache) Get(_ context.Context, key string, dst interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.items[key]
	if !ok {
		return false, nil
	}
	c.hits++
	return true, json.Unmarshal(data, dst)
}

func (c *memoryCache) Set(_ context.Context, key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.items[key] = data
	c.writes++
	return nil
}

func (c *memoryCache) Close() error { return nil }

type brokenCache struct{}

func (brokenCache) Get(context.Context, string, interface{}) (bool, error) {
	return false, errors.New("connection refused")
}

func (brokenCache) Set(context.Context, string, interface{}) error {
	return errors.New("connection refused")
}

func (brokenCache) Close() error { return nil }

type fakeJobs struct {
	jobs map[uuid.UUID]*models.TrainingJob
}

func (f *fakeJobs) Submit(_ context.Context, modelType models.ModelType, force bool) (*models.TrainingJob, error) {
	if !modelType.Valid() {
		return nil, training.ErrInvalidModelType
	}
	job := &models.TrainingJob{ID: uuid.New(), ModelType: modelType, Force: force, Status: models.TrainingStatusPending}
	f.jobs[job.ID] = job
	return job.Clone(), nil
}

func (f *fakeJobs) Get(id uuid.UUID) (*models.TrainingJob, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, training.ErrJobNotFound
	}
	return job.Clone(), nil
}

func (f *fakeJobs) List() []*models.TrainingJob {
	out := make([]*models.TrainingJob, 0, len(f.jobs))
	for _, job := range f.jobs {
		out = append(out, job.Clone())
	}
	return out
}

type fakeReporter struct{}

func (fakeReporter) Report(context.Context) map[string]training.LearningMetrics {
	return map[string]training.LearningMetrics{"combined": {TotalOverrides: 4, ValidatedCount: 3, ValidationRate: 0.75}}
}

type fixture struct {
	cfg     *config.Config
	blobs   store.BlobStore
	manager *registry.Manager
	jobs    *fakeJobs
	svc     *InferenceService
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.ML.ModelDir = t.TempDir()
	cfg.ML.Training.Complexity.NEstimators = 5
	cfg.ML.Training.Complexity.MinChildSamples = 5
	cfg.ML.Training.CalibrationFolds = 2
	cfg.ML.Training.TestYield.NEstimators = 5

	blobs, err := store.NewFilesystem(cfg.ML.ModelDir, zap.NewNop())
	require.NoError(t, err)
	manager := registry.NewManager(cfg, blobs, zap.NewNop())
	jobs := &fakeJobs{jobs: make(map[uuid.UUID]*models.TrainingJob)}
	engineer := features.NewEngineer(features.DefaultKeywords())

	return &fixture{
		cfg:     cfg,
		blobs:   blobs,
		manager: manager,
		jobs:    jobs,
		svc:     NewInferenceService(cfg, engineer, manager, jobs, fakeReporter{}, zap.NewNop(), opts...),
	}
}

// deployComplexity fits, saves and swaps in a complexity model under version.
func (f *fixture) deployComplexity(t *testing.T, version string) {
	t.Helper()
	width := len(f.cfg.ML.ComplexityFeatures)
	X := make([][]float64, 60)
	y := make([]int, 60)
	for i := range X {
		X[i] = make([]float64, width)
		X[i][0] = float64(20 + i)
		y[i] = i / 20
	}
	m := inference.NewComplexityModel(f.cfg, zap.NewNop())
	_, err := m.Fit(X, y, nil)
	require.NoError(t, err)
	_, err = m.Save(context.Background(), f.blobs, version)
	require.NoError(t, err)
	f.manager.UpdateComplexityModel(context.Background(), m)
}

func (f *fixture) deployTest(t *testing.T, version string, code models.TestCode) {
	t.Helper()
	width := len(f.cfg.ML.TestYieldFeatures)
	X := make([][]float64, 30)
	y := make([]float64, 30)
	for i := range X {
		X[i] = make([]float64, width)
		X[i][0] = float64(30 + i)
		y[i] = float64(i%2) * 0.8
	}
	bank := f.manager.Snapshot().TestYield.Clone()
	_, err := bank.Fit(code, X, y, nil)
	require.NoError(t, err)
	_, err = bank.SaveTest(context.Background(), f.blobs, code, version)
	require.NoError(t, err)
	f.manager.UpdateTestYieldModel(context.Background(), bank)
}

func intPtr(n int) *int { return &n }

func complexityRequest(age int) ComplexityRequest {
	return ComplexityRequest{
		CaseID:     "case-1",
		Applicant:  models.Applicant{Age: intPtr(age), SmokingStatus: models.SmokingCurrent},
		SumAssured: 12_000_000,
		Disclosures: []models.Disclosure{
			{Type: models.DisclosureCondition, ConditionName: "Type 2 Diabetes"},
			{Type: models.DisclosureMedication, MedicationName: "Metformin"},
		},
	}
}

func TestPredictComplexity(t *testing.T) {
	ctx := context.Background()

	t.Run("Rule Based Without A Model", func(t *testing.T) {
		c := newMemoryCache()
		f := newFixture(t, WithCache(c), WithMetrics(monitoring.NewMetrics()))

		pred := f.svc.PredictComplexity(ctx, complexityRequest(58))
		assert.Equal(t, inference.RuleBasedVersion, pred.ModelVersion)
		assert.Equal(t, models.TierComplex, pred.Tier)
		assert.Equal(t, 0.7, pred.Confidence)
		assert.InDelta(t, 1.0, pred.Probabilities["ROUTINE"]+pred.Probabilities["MODERATE"]+pred.Probabilities["COMPLEX"], 1e-9)
		assert.Zero(t, c.writes)
	})

	t.Run("Fitted Model Is Cached", func(t *testing.T) {
		c := newMemoryCache()
		f := newFixture(t, WithCache(c))
		f.deployComplexity(t, "v20240315_103000")

		first := f.svc.PredictComplexity(ctx, complexityRequest(45))
		assert.Equal(t, "v20240315_103000", first.ModelVersion)
		assert.Equal(t, 1, c.writes)
		assert.Zero(t, c.hits)

		second := f.svc.PredictComplexity(ctx, complexityRequest(45))
		assert.Equal(t, 1, c.hits)
		assert.Equal(t, first.Tier, second.Tier)
		assert.InDelta(t, first.Confidence, second.Confidence, 1e-12)

		f.svc.PredictComplexity(ctx, complexityRequest(46))
		assert.Equal(t, 2, c.writes)
	})

	t.Run("New Version Misses The Cache", func(t *testing.T) {
		c := newMemoryCache()
		f := newFixture(t, WithCache(c))
		f.deployComplexity(t, "v20240315_103000")
		f.svc.PredictComplexity(ctx, complexityRequest(45))

		f.deployComplexity(t, "v20240316_103000")
		pred := f.svc.PredictComplexity(ctx, complexityRequest(45))
		assert.Equal(t, "v20240316_103000", pred.ModelVersion)
		assert.Zero(t, c.hits)
		assert.Equal(t, 2, c.writes)
	})

	t.Run("Cache Errors Are Ignored", func(t *testing.T) {
		f := newFixture(t, WithCache(brokenCache{}))
		f.deployComplexity(t, "v20240315_103000")

		pred := f.svc.PredictComplexity(ctx, complexityRequest(45))
		assert.Equal(t, "v20240315_103000", pred.ModelVersion)
	})

	t.Run("Deterministic", func(t *testing.T) {
		f := newFixture(t)
		a := f.svc.PredictComplexity(ctx, complexityRequest(52))
		b := f.svc.PredictComplexity(ctx, complexityRequest(52))
		assert.Equal(t, a, b)
	})
}

func TestPredictTestYield(t *testing.T) {
	ctx := context.Background()

	t.Run("Unsupported Test", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.PredictTestYield(ctx, TestYieldRequest{CaseID: "case-1", TestCode: "XRAY"})
		var unsupported *inference.UnsupportedTestError
		require.ErrorAs(t, err, &unsupported)
		assert.Equal(t, "XRAY", unsupported.Code)
	})

	t.Run("Code Is Normalized", func(t *testing.T) {
		f := newFixture(t)
		pred, err := f.svc.PredictTestYield(ctx, TestYieldRequest{
			CaseID:    "case-1",
			TestCode:  " hba1c ",
			Applicant: models.Applicant{Age: intPtr(50)},
			Disclosures: []models.Disclosure{
				{Type: models.DisclosureCondition, ConditionName: "Diabetes mellitus"},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, models.TestHBA1C, pred.TestCode)
		assert.Equal(t, inference.RuleBasedVersion, pred.ModelVersion)
		assert.Equal(t, inference.Recommend(pred.PredictedYield), pred.Recommendation)
	})

	t.Run("Fitted Test Is Cached Per Code", func(t *testing.T) {
		c := newMemoryCache()
		f := newFixture(t, WithCache(c))
		f.deployTest(t, "v20240315_103000", models.TestECG)

		req := TestYieldRequest{CaseID: "case-1", TestCode: "ECG", Applicant: models.Applicant{Age: intPtr(44)}}
		first, err := f.svc.PredictTestYield(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, "v20240315_103000", first.ModelVersion)
		assert.GreaterOrEqual(t, first.PredictedYield, 0.0)
		assert.LessOrEqual(t, first.PredictedYield, 1.0)

		second, err := f.svc.PredictTestYield(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, 1, c.hits)
		assert.InDelta(t, first.PredictedYield, second.PredictedYield, 1e-12)

		// Other tests still use the rule-based path and are not cached.
		req.TestCode = "CBC"
		other, err := f.svc.PredictTestYield(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, inference.RuleBasedVersion, other.ModelVersion)
		assert.Equal(t, 1, c.writes)
	})
}

func TestTrainingControl(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	t.Run("Trigger And Status", func(t *testing.T) {
		job, err := f.svc.TriggerTraining(ctx, "complexity", true)
		require.NoError(t, err)
		assert.Equal(t, models.TrainingStatusPending, job.Status)
		assert.True(t, job.Force)

		got, err := f.svc.TrainingStatus(job.ID.String())
		require.NoError(t, err)
		assert.Equal(t, job.ID, got.ID)
		assert.Len(t, f.svc.ListJobs(), 1)
	})

	t.Run("Invalid Model Type", func(t *testing.T) {
		_, err := f.svc.TriggerTraining(ctx, "risk", false)
		assert.ErrorIs(t, err, training.ErrInvalidModelType)
	})

	t.Run("Unknown And Malformed Ids", func(t *testing.T) {
		_, err := f.svc.TrainingStatus(uuid.New().String())
		assert.ErrorIs(t, err, training.ErrJobNotFound)
		_, err = f.svc.TrainingStatus("not-a-uuid")
		assert.ErrorIs(t, err, training.ErrJobNotFound)
	})
}

func TestModelManagement(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	t.Run("Health", func(t *testing.T) {
		h := f.svc.Health()
		assert.Equal(t, "healthy", h.Status)
		assert.Equal(t, Version, h.Version)
		assert.Len(t, h.ModelsLoaded, 1+len(models.SupportedTests))
		assert.GreaterOrEqual(t, h.UptimeSeconds, 0.0)
	})

	t.Run("Reload Version", func(t *testing.T) {
		f.deployComplexity(t, "v20240101_000000")
		manager := registry.NewManager(f.cfg, f.blobs, zap.NewNop())
		svc := NewInferenceService(f.cfg, features.NewEngineer(features.DefaultKeywords()), manager, f.jobs, fakeReporter{}, zap.NewNop())
		assert.False(t, svc.LoadedModels()["complexity"])

		versions, err := svc.AvailableVersions(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"v20240101_000000"}, versions)

		loaded, err := svc.Reload(ctx, "v20240101_000000")
		require.NoError(t, err)
		assert.True(t, loaded["complexity"])
		assert.True(t, svc.LoadedModels()["complexity"])
		assert.Equal(t, "v20240101_000000", svc.ModelInfo()["complexity"].Version)
	})

	t.Run("Override Metrics", func(t *testing.T) {
		report := f.svc.OverrideMetrics(ctx)
		assert.Equal(t, 4, report["combined"].TotalOverrides)
	})
}

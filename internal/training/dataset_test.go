package training

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Sanidhya1398/uw-decision-support/internal/backend"
	"github.com/Sanidhya1398/uw-decision-support/internal/config"
	"github.com/Sanidhya1398/uw-decision-support/internal/features"
	"github.com/Sanidhya1398/uw-decision-support/internal/models"
)

type fakeSource struct {
	cases     []backend.Case
	overrides map[string][]backend.Override
	requests  []string
}

func (s *fakeSource) CasesForTraining(_ context.Context, limit int) []backend.Case {
	s.requests = append(s.requests, fmt.Sprintf("cases limit=%d", limit))
	return s.cases
}

func (s *fakeSource) OverridesForTraining(_ context.Context, overrideType string, days int, validatedOnly bool) []backend.Override {
	s.requests = append(s.requests, fmt.Sprintf("overrides type=%s days=%d validated=%t", overrideType, days, validatedOnly))
	return s.overrides[overrideType]
}

func intPtr(n int) *int { return &n }

func floatPtr(f float64) *float64 { return &f }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.ML.ModelDir = t.TempDir()
	cfg.ML.Training.Complexity.NEstimators = 5
	cfg.ML.Training.Complexity.MinChildSamples = 5
	cfg.ML.Training.CalibrationFolds = 2
	cfg.ML.Training.TestYield.NEstimators = 5
	cfg.ML.Training.TestYield.MinChildSamples = 5
	return cfg
}

func newLoader(cfg *config.Config) *DataLoader {
	return NewDataLoader(cfg, features.NewEngineer(features.DefaultKeywords()), zap.NewNop())
}

func diabeticCase(age int, tier models.Tier, results ...backend.TestResult) backend.Case {
	return backend.Case{
		Applicant:      models.Applicant{Age: intPtr(age), BMI: floatPtr(31), SmokingStatus: models.SmokingFormer},
		Disclosures:    []models.Disclosure{{Type: models.DisclosureCondition, ConditionName: "Type 2 Diabetes"}},
		SumAssured:     6_000_000,
		ComplexityTier: tier,
		TestResults:    results,
	}
}

func TestOverrideWeight(t *testing.T) {
	tests := []struct {
		name     string
		override backend.Override
		want     float64
	}{
		{"Unvalidated", backend.Override{}, 1.0},
		{"Validated", backend.Override{Validated: true}, 1.5},
		{"Chief Validated", backend.Override{Validated: true, ValidatedByChief: true}, 2.0},
		{"Mid Career", backend.Override{ExperienceYears: 5}, 1.1},
		{"Senior Validated", backend.Override{Validated: true, ExperienceYears: 12}, 1.5 * 1.3},
		{"Senior Chief Validated", backend.Override{ValidatedByChief: true, ExperienceYears: 10}, 2.0 * 1.3},
		{"Junior", backend.Override{Validated: true, ExperienceYears: 4.9}, 1.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, OverrideWeight(tt.override), 1e-9)
		})
	}
}

func TestSoftLabel(t *testing.T) {
	assert.Equal(t, 0.8, SoftLabel(backend.DirectionAdd))
	assert.Equal(t, 0.2, SoftLabel(backend.DirectionRemove))
	assert.Equal(t, 0.5, SoftLabel("SUBSTITUTE"))
	assert.Equal(t, 0.5, SoftLabel(""))
}

func TestDataLoader(t *testing.T) {
	cfg := testConfig(t)
	loader := newLoader(cfg)
	engineer := features.NewEngineer(features.DefaultKeywords())

	cases := []backend.Case{
		diabeticCase(58, models.TierComplex,
			backend.TestResult{TestCode: models.TestHBA1C, ResultStatus: "abnormal"},
			backend.TestResult{TestCode: models.TestECG, ResultStatus: "normal"}),
		diabeticCase(33, models.TierRoutine,
			backend.TestResult{TestCode: models.TestHBA1C, ResultStatus: "normal", InfluencedDecision: true}),
		{Applicant: models.Applicant{}, SumAssured: backend.DefaultSumAssured, ComplexityTier: models.TierModerate},
	}
	overrides := []backend.Override{
		{
			UnderwriterChoice: "COMPLEX",
			Direction:         backend.DirectionAdd,
			Validated:         true,
			TestCode:          models.TestHBA1C,
			Applicant:         models.Applicant{Age: intPtr(47)},
			SumAssured:        2_000_000,
		},
		{
			UnderwriterChoice: "ROUTINE",
			Direction:         backend.DirectionRemove,
			TestCode:          models.TestECG,
			SumAssured:        backend.DefaultSumAssured,
		},
	}

	t.Run("Complexity Dataset", func(t *testing.T) {
		ds := loader.ComplexityDataset(cases, overrides)
		require.Equal(t, 5, ds.Len())
		assert.Equal(t, []int{2, 0, 1, 2, 0}, ds.Classes())
		assert.Equal(t, []float64{1, 1, 1, 1.5, 1}, ds.W)
		for _, row := range ds.X {
			assert.Len(t, row, len(cfg.ML.ComplexityFeatures))
		}
	})

	t.Run("Rows Match Serving Extraction", func(t *testing.T) {
		ds := loader.ComplexityDataset(cases[:1], nil)
		want := engineer.Extract(features.Input{
			Applicant:   cases[0].Applicant,
			SumAssured:  cases[0].SumAssured,
			Disclosures: cases[0].Disclosures,
		}).Vector(cfg.ML.ComplexityFeatures)
		assert.Equal(t, want, ds.X[0])

		yield := loader.TestYieldDataset(models.TestHBA1C, cases[:1], nil)
		wantYield := engineer.Extract(features.Input{
			Applicant:   cases[0].Applicant,
			SumAssured:  cases[0].SumAssured,
			Disclosures: cases[0].Disclosures,
			TestCode:    models.TestHBA1C,
		}).Vector(cfg.ML.TestYieldFeatures)
		assert.Equal(t, wantYield, yield.X[0])
	})

	t.Run("Test Yield Dataset", func(t *testing.T) {
		ds := loader.TestYieldDataset(models.TestHBA1C, cases, overrides)
		require.Equal(t, 3, ds.Len())
		assert.Equal(t, []float64{1, 1, 0.8}, ds.Y)
		assert.Equal(t, []float64{1, 1, 1.5}, ds.W)

		related := indexOf(cfg.ML.TestYieldFeatures, "has_condition_related")
		require.GreaterOrEqual(t, related, 0)
		assert.Equal(t, 1.0, ds.X[0][related])
		assert.Equal(t, 0.0, ds.X[2][related])
	})

	t.Run("Uninformative Result", func(t *testing.T) {
		ds := loader.TestYieldDataset(models.TestECG, cases, overrides)
		require.Equal(t, 2, ds.Len())
		assert.Equal(t, []float64{0, 0.2}, ds.Y)
	})

	t.Run("Test Without Data", func(t *testing.T) {
		ds := loader.TestYieldDataset(models.TestTMT, cases, overrides)
		assert.Zero(t, ds.Len())
	})
}

func TestOverrideLearningService(t *testing.T) {
	cfg := testConfig(t)
	cfg.ML.Training.OverrideLookbackDays = 30

	t.Run("Learning Metrics", func(t *testing.T) {
		svc := NewOverrideLearningService(cfg, &fakeSource{}, newLoader(cfg), nil, zap.NewNop())
		overrides := []backend.Override{
			{Direction: "UPGRADE", Validated: true, ReasoningTags: []string{"cardiac", "family"}},
			{Direction: "UPGRADE", ReasoningTags: []string{"cardiac"}},
			{Direction: "DOWNGRADE", Validated: true},
			{},
		}
		m := svc.LearningMetrics(overrides)
		assert.Equal(t, 4, m.TotalOverrides)
		assert.Equal(t, 2, m.ValidatedCount)
		assert.Equal(t, 0.5, m.ValidationRate)
		assert.Equal(t, map[string]int{"UPGRADE": 2, "DOWNGRADE": 1, "UNKNOWN": 1}, m.DirectionDistribution)
		assert.Equal(t, map[string]int{"cardiac": 2, "family": 1}, m.CommonReasoningTags)
	})

	t.Run("Top Ten Tags", func(t *testing.T) {
		svc := NewOverrideLearningService(cfg, &fakeSource{}, newLoader(cfg), nil, zap.NewNop())
		var overrides []backend.Override
		for i := 0; i < 12; i++ {
			tags := []string{fmt.Sprintf("tag_%02d", i)}
			for j := 0; j <= i; j++ {
				overrides = append(overrides, backend.Override{ReasoningTags: tags})
			}
		}
		m := svc.LearningMetrics(overrides)
		require.Len(t, m.CommonReasoningTags, 10)
		assert.Equal(t, 12, m.CommonReasoningTags["tag_11"])
		assert.NotContains(t, m.CommonReasoningTags, "tag_00")
		assert.NotContains(t, m.CommonReasoningTags, "tag_01")
	})

	t.Run("Empty", func(t *testing.T) {
		svc := NewOverrideLearningService(cfg, &fakeSource{}, newLoader(cfg), nil, zap.NewNop())
		m := svc.LearningMetrics(nil)
		assert.Zero(t, m.TotalOverrides)
		assert.Zero(t, m.ValidationRate)
		assert.Empty(t, m.DirectionDistribution)
	})

	t.Run("Fetches Validated Overrides", func(t *testing.T) {
		src := &fakeSource{overrides: map[string][]backend.Override{
			backend.OverrideTestRecommendation: {{TestCode: models.TestECG, Direction: backend.DirectionAdd}},
		}}
		svc := NewOverrideLearningService(cfg, src, newLoader(cfg), nil, zap.NewNop())

		assert.Empty(t, svc.ComplexityOverrides(context.Background()))
		tests := svc.TestOverrides(context.Background())
		require.Len(t, tests, 1)
		assert.Equal(t, []string{
			"overrides type=COMPLEXITY_TIER days=30 validated=true",
			"overrides type=TEST_RECOMMENDATION days=30 validated=true",
		}, src.requests)

		ds := svc.TestYieldTrainingData(models.TestECG, tests)
		assert.Equal(t, []float64{0.8}, ds.Y)
		assert.Zero(t, svc.TestYieldTrainingData(models.TestLipid, tests).Len())
		assert.Zero(t, svc.ComplexityTrainingData(nil).Len())
	})

	t.Run("Report", func(t *testing.T) {
		src := &fakeSource{overrides: map[string][]backend.Override{
			backend.OverrideComplexityTier:     {{Validated: true}, {}},
			backend.OverrideTestRecommendation: {{Validated: true}},
		}}
		svc := NewOverrideLearningService(cfg, src, newLoader(cfg), nil, zap.NewNop())
		report := svc.Report(context.Background())
		assert.Equal(t, 2, report[backend.OverrideComplexityTier].TotalOverrides)
		assert.Equal(t, 1, report[backend.OverrideTestRecommendation].TotalOverrides)
		assert.Equal(t, 3, report["combined"].TotalOverrides)
		assert.InDelta(t, 2.0/3.0, report["combined"].ValidationRate, 1e-9)
	})
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

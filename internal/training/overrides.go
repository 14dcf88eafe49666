package training

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/Sanidhya1398/uw-decision-support/internal/backend"
	"github.com/Sanidhya1398/uw-decision-support/internal/config"
	"github.com/Sanidhya1398/uw-decision-support/internal/models"
	"github.com/Sanidhya1398/uw-decision-support/internal/monitoring"
)

const topReasoningTags = 10

// Source provides training records. *backend.Client implements it.
type Source interface {
	CasesForTraining(ctx context.Context, limit int) []backend.Case
	OverridesForTraining(ctx context.Context, overrideType string, days int, validatedOnly bool) []backend.Override
}

// LearningMetrics summarizes override patterns
type LearningMetrics struct {
	TotalOverrides        int            `json:"total_overrides"`
	ValidatedCount        int            `json:"validated_count"`
	ValidationRate        float64        `json:"validation_rate"`
	DirectionDistribution map[string]int `json:"direction_distribution"`
	CommonReasoningTags   map[string]int `json:"common_reasoning_tags"`
}

// OverrideLearningService turns underwriter overrides into training signal
// and learning metrics.
type OverrideLearningService struct {
	source  Source
	loader  *DataLoader
	days    int
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

// NewOverrideLearningService creates an override learning service
func NewOverrideLearningService(cfg *config.Config, source Source, loader *DataLoader, metrics *monitoring.Metrics, logger *zap.Logger) *OverrideLearningService {
	return &OverrideLearningService{
		source:  source,
		loader:  loader,
		days:    cfg.ML.Training.OverrideLookbackDays,
		metrics: metrics,
		logger:  logger.With(zap.String("component", "override_learning")),
	}
}

// ComplexityOverrides fetches validated complexity tier overrides
func (s *OverrideLearningService) ComplexityOverrides(ctx context.Context) []backend.Override {
	return s.source.OverridesForTraining(ctx, backend.OverrideComplexityTier, s.days, true)
}

// TestOverrides fetches validated test recommendation overrides
func (s *OverrideLearningService) TestOverrides(ctx context.Context) []backend.Override {
	return s.source.OverridesForTraining(ctx, backend.OverrideTestRecommendation, s.days, true)
}

// ComplexityTrainingData builds a complexity dataset from overrides alone
func (s *OverrideLearningService) ComplexityTrainingData(overrides []backend.Override) Dataset {
	return s.loader.ComplexityDataset(nil, overrides)
}

// TestYieldTrainingData builds a yield dataset for one test from overrides alone
func (s *OverrideLearningService) TestYieldTrainingData(code models.TestCode, overrides []backend.Override) Dataset {
	return s.loader.TestYieldDataset(code, nil, overrides)
}

// LearningMetrics computes override statistics. Reasoning tags are limited to
// the ten most common.
func (s *OverrideLearningService) LearningMetrics(overrides []backend.Override) LearningMetrics {
	m := LearningMetrics{
		TotalOverrides:        len(overrides),
		DirectionDistribution: make(map[string]int),
		CommonReasoningTags:   make(map[string]int),
	}
	if len(overrides) == 0 {
		return m
	}

	tags := make(map[string]int)
	for _, o := range overrides {
		direction := o.Direction
		if direction == "" {
			direction = "UNKNOWN"
		}
		m.DirectionDistribution[direction]++
		for _, tag := range o.ReasoningTags {
			tags[tag]++
		}
		if o.Validated {
			m.ValidatedCount++
		}
	}
	m.ValidationRate = float64(m.ValidatedCount) / float64(len(overrides))

	names := make([]string, 0, len(tags))
	for tag := range tags {
		names = append(names, tag)
	}
	sort.Slice(names, func(i, j int) bool {
		if tags[names[i]] != tags[names[j]] {
			return tags[names[i]] > tags[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) > topReasoningTags {
		names = names[:topReasoningTags]
	}
	for _, tag := range names {
		m.CommonReasoningTags[tag] = tags[tag]
	}
	return m
}

// Report fetches both override types and returns metrics per type. The
// combined totals are exported as gauges.
func (s *OverrideLearningService) Report(ctx context.Context) map[string]LearningMetrics {
	complexity := s.source.OverridesForTraining(ctx, backend.OverrideComplexityTier, s.days, false)
	tests := s.source.OverridesForTraining(ctx, backend.OverrideTestRecommendation, s.days, false)

	all := make([]backend.Override, 0, len(complexity)+len(tests))
	all = append(all, complexity...)
	all = append(all, tests...)
	combined := s.LearningMetrics(all)
	s.metrics.SetOverrideMetrics(combined.TotalOverrides, combined.ValidationRate)

	s.logger.Info("Override metrics computed",
		zap.Int("total", combined.TotalOverrides),
		zap.Float64("validation_rate", combined.ValidationRate))

	return map[string]LearningMetrics{
		backend.OverrideComplexityTier:     s.LearningMetrics(complexity),
		backend.OverrideTestRecommendation: s.LearningMetrics(tests),
		"combined":                         combined,
	}
}

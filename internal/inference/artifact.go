package inference

import (
	"fmt"
	"strings"
	"time"

	"github.com/Sanidhya1398/uw-decision-support/internal/learn"
	"github.com/Sanidhya1398/uw-decision-support/internal/models"
	"github.com/Sanidhya1398/uw-decision-support/internal/store"
)

// RuleBasedVersion tags predictions made without a fitted model.
const RuleBasedVersion = "rule_based"

// unsavedVersion tags predictions from a model fitted in memory but not yet persisted.
const unsavedVersion = "unsaved"

const complexityArtifact = "complexity_model.json"

// ComplexityKey returns the blob key of the complexity artifact in a version
func ComplexityKey(version string) string {
	return store.Key(version, complexityArtifact)
}

// TestYieldKey returns the blob key of one test's artifact in a version
func TestYieldKey(version string, code models.TestCode) string {
	return store.Key(version, "test_yield_"+code.Key()+".json")
}

// complexityFile is the persisted form of a fitted complexity model
type complexityFile struct {
	ModelType      string                      `json:"model_type"`
	Version        string                      `json:"version"`
	FeatureNames   []string                    `json:"feature_names"`
	Metrics        map[string]float64          `json:"metrics"`
	TrainedAt      *time.Time                  `json:"trained_at,omitempty"`
	SamplesTrained int                         `json:"samples_trained"`
	Classes        []models.Tier               `json:"classes"`
	Predictor      *learn.CalibratedClassifier `json:"predictor"`
}

func (f *complexityFile) validate() error {
	if f.Predictor == nil || len(f.Predictor.Members) == 0 {
		return fmt.Errorf("artifact has no fitted predictor")
	}
	if len(f.FeatureNames) == 0 {
		return fmt.Errorf("artifact has no feature schema")
	}
	if f.Predictor.NClasses != len(models.Tiers) {
		return fmt.Errorf("artifact predicts %d classes, expected %d", f.Predictor.NClasses, len(models.Tiers))
	}
	for _, m := range f.Predictor.Members {
		if m.Base == nil || m.Base.NFeatures != len(f.FeatureNames) {
			return fmt.Errorf("%w: predictor width does not match feature schema", learn.ErrShapeMismatch)
		}
	}
	return nil
}

// testYieldFile is the persisted form of one fitted test yield regressor
type testYieldFile struct {
	ModelType      string              `json:"model_type"`
	TestCode       models.TestCode     `json:"test_code"`
	Version        string              `json:"version"`
	FeatureNames   []string            `json:"feature_names"`
	Metrics        map[string]float64  `json:"metrics"`
	TrainedAt      *time.Time          `json:"trained_at,omitempty"`
	SamplesTrained int                 `json:"samples_trained"`
	Predictor      *learn.GBMRegressor `json:"predictor"`
}

func (f *testYieldFile) validate(code models.TestCode) error {
	if f.Predictor == nil {
		return fmt.Errorf("artifact has no fitted predictor")
	}
	if !strings.EqualFold(string(f.TestCode), string(code)) {
		return fmt.Errorf("artifact is for test %s, expected %s", f.TestCode, code)
	}
	if f.Predictor.NFeatures != len(f.FeatureNames) {
		return fmt.Errorf("%w: predictor width does not match feature schema", learn.ErrShapeMismatch)
	}
	return nil
}

func copyMetrics(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

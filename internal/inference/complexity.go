package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/Sanidhya1398/uw-decision-support/internal/config"
	"github.com/Sanidhya1398/uw-decision-support/internal/features"
	"github.com/Sanidhya1398/uw-decision-support/internal/learn"
	"github.com/Sanidhya1398/uw-decision-support/internal/models"
	"github.com/Sanidhya1398/uw-decision-support/internal/store"
)

// ComplexityModel classifies cases into ROUTINE, MODERATE or COMPLEX tiers.
// An unfitted model is valid and predicts with the rule-based strategy.
//
// Fit, Load and Save mutate the model and must not run concurrently with Predict.
// Callers fit a fresh instance and publish it through the registry.
type ComplexityModel struct {
	schema     []string
	params     learn.BoostParams
	folds      int
	classifier *learn.CalibratedClassifier
	version    string
	metrics    map[string]float64
	trainedAt  *time.Time
	samples    int
	logger     *zap.Logger
}

// NewComplexityModel creates an unfitted complexity model
func NewComplexityModel(cfg *config.Config, logger *zap.Logger) *ComplexityModel {
	p := cfg.ML.Training.Complexity
	return &ComplexityModel{
		schema: append([]string(nil), cfg.ML.ComplexityFeatures...),
		params: learn.BoostParams{
			NEstimators:     p.NEstimators,
			MaxDepth:        p.MaxDepth,
			NumLeaves:       p.NumLeaves,
			LearningRate:    p.LearningRate,
			MinChildSamples: p.MinChildSamples,
			Lambda:          p.Lambda,
			BalancedClasses: true,
		},
		folds:   cfg.ML.Training.CalibrationFolds,
		metrics: map[string]float64{},
		logger:  logger.With(zap.String("component", "complexity_model")),
	}
}

// complexityStrategy produces a complexity prediction from a feature set
type complexityStrategy interface {
	predict(set features.Set) (models.ComplexityPrediction, error)
}

func (m *ComplexityModel) strategy() complexityStrategy {
	if m.classifier == nil {
		return ruleBasedComplexity{}
	}
	return fittedComplexity{classifier: m.classifier, schema: m.schema, version: m.Version()}
}

// Fitted reports whether a trained classifier is present
func (m *ComplexityModel) Fitted() bool {
	return m.classifier != nil
}

// Version returns the version tag attached to predictions
func (m *ComplexityModel) Version() string {
	switch {
	case m.classifier == nil:
		return RuleBasedVersion
	case m.version == "":
		return unsavedVersion
	default:
		return m.version
	}
}

// Features returns the feature schema
func (m *ComplexityModel) Features() []string {
	return append([]string(nil), m.schema...)
}

// Info describes the model
func (m *ComplexityModel) Info() models.ModelInfo {
	return models.ModelInfo{
		ModelType:      string(models.ModelTypeComplexity),
		Version:        m.Version(),
		Fitted:         m.Fitted(),
		TrainedAt:      m.trainedAt,
		SamplesTrained: m.samples,
		Metrics:        copyMetrics(m.metrics),
		Features:       m.Features(),
	}
}

// Fit trains a calibrated classifier on labels 0..2 (tier indices)
func (m *ComplexityModel) Fit(X [][]float64, y []int, w []float64) (map[string]float64, error) {
	matrix, err := learn.NewMatrix(X, len(m.schema))
	if err != nil {
		return nil, fmt.Errorf("failed to build training matrix: %w", err)
	}

	clf := learn.NewCalibratedClassifier(len(models.Tiers), m.folds, m.params)
	if err := clf.Fit(matrix, y, w); err != nil {
		return nil, fmt.Errorf("failed to fit complexity classifier: %w", err)
	}

	preds := make([]int, len(X))
	proba := make([][]float64, len(X))
	for i, row := range X {
		p, err := clf.PredictProba(row)
		if err != nil {
			return nil, fmt.Errorf("failed to score training set: %w", err)
		}
		proba[i] = p
		preds[i] = floats.MaxIdx(p)
	}

	now := time.Now().UTC()
	m.classifier = clf
	m.version = ""
	m.trainedAt = &now
	m.samples = len(X)
	m.metrics = map[string]float64{
		"accuracy": learn.Accuracy(y, preds),
		"f1_macro": learn.F1Macro(y, preds, len(models.Tiers)),
		"log_loss": learn.LogLoss(y, proba),
	}

	m.logger.Info("Complexity model fitted",
		zap.Int("samples", len(X)),
		zap.Float64("accuracy", m.metrics["accuracy"]),
		zap.Float64("f1_macro", m.metrics["f1_macro"]))

	return copyMetrics(m.metrics), nil
}

// Predict classifies one feature set. A fitted classifier that fails falls back
// to the rule-based strategy, so a complete prediction is always returned.
func (m *ComplexityModel) Predict(set features.Set) models.ComplexityPrediction {
	pred, err := m.strategy().predict(set)
	if err != nil {
		m.logger.Warn("Fitted complexity prediction failed, using rule-based fallback", zap.Error(err))
		pred, _ = ruleBasedComplexity{}.predict(set)
	}
	return pred
}

// Save writes the fitted model into the version namespace and returns its location
func (m *ComplexityModel) Save(ctx context.Context, blobs store.BlobStore, version string) (string, error) {
	if m.classifier == nil {
		return "", fmt.Errorf("complexity model is not fitted")
	}
	data, err := json.Marshal(&complexityFile{
		ModelType:      string(models.ModelTypeComplexity),
		Version:        version,
		FeatureNames:   m.schema,
		Metrics:        m.metrics,
		TrainedAt:      m.trainedAt,
		SamplesTrained: m.samples,
		Classes:        models.Tiers,
		Predictor:      m.classifier,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode complexity model: %w", err)
	}

	key := ComplexityKey(version)
	if err := blobs.Put(ctx, key, data); err != nil {
		return "", fmt.Errorf("failed to save complexity model: %w", err)
	}
	m.version = version

	m.logger.Info("Complexity model saved", zap.String("version", version), zap.String("location", blobs.Location(key)))
	return blobs.Location(key), nil
}

// Load populates the model from a version namespace. A missing artifact leaves
// the model untouched and reports false.
func (m *ComplexityModel) Load(ctx context.Context, blobs store.BlobStore, version string) (bool, error) {
	key := ComplexityKey(version)
	exists, err := blobs.Exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to check complexity model: %w", err)
	}
	if !exists {
		return false, nil
	}

	data, err := blobs.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to read complexity model: %w", err)
	}
	var file complexityFile
	if err := json.Unmarshal(data, &file); err != nil {
		return false, fmt.Errorf("failed to decode complexity model: %w", err)
	}
	if err := file.validate(); err != nil {
		return false, fmt.Errorf("invalid complexity model %s: %w", version, err)
	}

	m.schema = file.FeatureNames
	m.classifier = file.Predictor
	m.version = version
	m.metrics = file.Metrics
	if m.metrics == nil {
		m.metrics = map[string]float64{}
	}
	m.trainedAt = file.TrainedAt
	m.samples = file.SamplesTrained

	m.logger.Info("Complexity model loaded", zap.String("version", version))
	return true, nil
}

type fittedComplexity struct {
	classifier *learn.CalibratedClassifier
	schema     []string
	version    string
}

func (f fittedComplexity) predict(set features.Set) (models.ComplexityPrediction, error) {
	proba, err := f.classifier.PredictProba(set.Vector(f.schema))
	if err != nil {
		return models.ComplexityPrediction{}, err
	}

	probs := make(map[string]float64, len(models.Tiers))
	for i, tier := range models.Tiers {
		probs[string(tier)] = proba[i]
	}
	best := floats.MaxIdx(proba)

	return models.ComplexityPrediction{
		Tier:          models.Tiers[best],
		Confidence:    proba[best],
		Probabilities: probs,
		Contributions: complexityContributions(f.schema, set),
		ModelVersion:  f.version,
	}, nil
}

// ruleBasedComplexity scores the case additively. The score is not capped at 1;
// only the 0.3 and 0.6 cut points matter.
type ruleBasedComplexity struct{}

func (ruleBasedComplexity) predict(set features.Set) (models.ComplexityPrediction, error) {
	var fired []models.Contribution
	add := func(feature string, value interface{}, points float64) {
		fired = append(fired, models.Contribution{
			Feature:      feature,
			Value:        value,
			Contribution: points,
			Direction:    models.DirectionIncreases,
		})
	}

	age := set.Get("age")
	switch {
	case age >= 65:
		add("age", age, 0.4)
	case age >= 55:
		add("age", age, 0.2)
	}

	bmi := set.Get("bmi")
	switch {
	case bmi >= 35:
		add("bmi", bmi, 0.35)
	case bmi >= 30:
		add("bmi", bmi, 0.2)
	}

	if set.Smoking == models.SmokingCurrent {
		add("smoking_status", string(set.Smoking), 0.3)
	}
	if set.Flag("has_cardiac") {
		add("has_cardiac", true, 0.5)
	}
	if set.Flag("has_diabetes") {
		add("has_diabetes", true, 0.25)
	}
	if set.Flag("has_renal") {
		add("has_renal", true, 0.4)
	}
	if set.SumAssured >= features.TierThreshold3 {
		add("sum_assured", set.SumAssured, 0.1)
	}

	var score float64
	for _, c := range fired {
		score += c.Contribution
	}

	tier, probs := ruleTier(score)
	contributions := rank(fired)
	if len(contributions) == 0 {
		contributions = []models.Contribution{{
			Feature:      RuleBasedVersion,
			Value:        score,
			Contribution: score,
			Direction:    models.DirectionNeutral,
		}}
	}

	return models.ComplexityPrediction{
		Tier:          tier,
		Confidence:    probs[string(tier)],
		Probabilities: probs,
		Contributions: contributions,
		ModelVersion:  RuleBasedVersion,
	}, nil
}

func ruleTier(score float64) (models.Tier, map[string]float64) {
	switch {
	case score >= 0.6:
		return models.TierComplex, map[string]float64{"ROUTINE": 0.1, "MODERATE": 0.2, "COMPLEX": 0.7}
	case score >= 0.3:
		return models.TierModerate, map[string]float64{"ROUTINE": 0.2, "MODERATE": 0.6, "COMPLEX": 0.2}
	default:
		return models.TierRoutine, map[string]float64{"ROUTINE": 0.7, "MODERATE": 0.2, "COMPLEX": 0.1}
	}
}

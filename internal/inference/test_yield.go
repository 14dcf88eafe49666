package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/Sanidhya1398/uw-decision-support/internal/config"
	"github.com/Sanidhya1398/uw-decision-support/internal/features"
	"github.com/Sanidhya1398/uw-decision-support/internal/learn"
	"github.com/Sanidhya1398/uw-decision-support/internal/models"
	"github.com/Sanidhya1398/uw-decision-support/internal/store"
)

// UnsupportedTestError is returned for a test code outside the supported set
type UnsupportedTestError struct {
	Code string
}

func (e *UnsupportedTestError) Error() string {
	return fmt.Sprintf("unsupported test code: %s", e.Code)
}

// yieldEntry is one fitted regressor. Entries are never mutated after they are
// placed in a bank; updates replace the pointer.
type yieldEntry struct {
	regressor *learn.GBMRegressor
	schema    []string
	version   string
	metrics   map[string]float64
	trainedAt *time.Time
	samples   int
}

// TestYieldModel is a bank of per-test yield regressors. Tests without a
// fitted entry predict with the rule-based fallback.
type TestYieldModel struct {
	schema  []string
	params  learn.BoostParams
	entries map[models.TestCode]*yieldEntry
	logger  *zap.Logger
}

// NewTestYieldModel creates a bank with every test unfitted
func NewTestYieldModel(cfg *config.Config, logger *zap.Logger) *TestYieldModel {
	p := cfg.ML.Training.TestYield
	return &TestYieldModel{
		schema: append([]string(nil), cfg.ML.TestYieldFeatures...),
		params: learn.BoostParams{
			NEstimators:     p.NEstimators,
			MaxDepth:        p.MaxDepth,
			NumLeaves:       p.NumLeaves,
			LearningRate:    p.LearningRate,
			MinChildSamples: p.MinChildSamples,
			Lambda:          p.Lambda,
		},
		entries: make(map[models.TestCode]*yieldEntry),
		logger:  logger.With(zap.String("component", "test_yield_model")),
	}
}

// Clone returns a bank sharing the current entries. Fitting or saving the clone
// never affects the receiver.
func (b *TestYieldModel) Clone() *TestYieldModel {
	entries := make(map[models.TestCode]*yieldEntry, len(b.entries))
	for code, e := range b.entries {
		entries[code] = e
	}
	return &TestYieldModel{
		schema:  b.schema,
		params:  b.params,
		entries: entries,
		logger:  b.logger,
	}
}

func checkTest(code models.TestCode) (models.TestCode, error) {
	parsed, ok := models.ParseTestCode(string(code))
	if !ok {
		return "", &UnsupportedTestError{Code: string(code)}
	}
	return parsed, nil
}

// Fitted reports whether a test has a trained regressor
func (b *TestYieldModel) Fitted(code models.TestCode) bool {
	code, err := checkTest(code)
	if err != nil {
		return false
	}
	return b.entries[code] != nil
}

// Version returns the version tag attached to a test's predictions
func (b *TestYieldModel) Version(code models.TestCode) (string, error) {
	code, err := checkTest(code)
	if err != nil {
		return "", err
	}
	return b.version(code), nil
}

func (b *TestYieldModel) version(code models.TestCode) string {
	e := b.entries[code]
	switch {
	case e == nil:
		return RuleBasedVersion
	case e.version == "":
		return unsavedVersion
	default:
		return e.version
	}
}

// Info describes one test's model
func (b *TestYieldModel) Info(code models.TestCode) (models.ModelInfo, error) {
	code, err := checkTest(code)
	if err != nil {
		return models.ModelInfo{}, err
	}
	info := models.ModelInfo{
		ModelType: "test_yield_" + code.Key(),
		Version:   b.version(code),
		Metrics:   map[string]float64{},
		Features:  append([]string(nil), b.schema...),
	}
	if e := b.entries[code]; e != nil {
		info.Fitted = true
		info.TrainedAt = e.trainedAt
		info.SamplesTrained = e.samples
		info.Metrics = copyMetrics(e.metrics)
		info.Features = append([]string(nil), e.schema...)
	}
	return info, nil
}

// Fit trains the regressor for one test on yields in [0,1]
func (b *TestYieldModel) Fit(code models.TestCode, X [][]float64, y []float64, w []float64) (map[string]float64, error) {
	code, err := checkTest(code)
	if err != nil {
		return nil, err
	}
	matrix, err := learn.NewMatrix(X, len(b.schema))
	if err != nil {
		return nil, fmt.Errorf("failed to build training matrix: %w", err)
	}

	reg := learn.NewGBMRegressor(b.params)
	if err := reg.Fit(matrix, y, w); err != nil {
		return nil, fmt.Errorf("failed to fit %s regressor: %w", code, err)
	}

	preds := make([]float64, len(X))
	for i, row := range X {
		if preds[i], err = reg.Predict(row); err != nil {
			return nil, fmt.Errorf("failed to score training set: %w", err)
		}
	}

	now := time.Now().UTC()
	entry := &yieldEntry{
		regressor: reg,
		schema:    append([]string(nil), b.schema...),
		trainedAt: &now,
		samples:   len(X),
		metrics: map[string]float64{
			"mse": learn.MSE(y, preds),
			"mae": learn.MAE(y, preds),
			"r2":  learn.R2(y, preds),
		},
	}
	b.entries[code] = entry

	b.logger.Info("Test yield model fitted",
		zap.String("test_code", string(code)),
		zap.Int("samples", len(X)),
		zap.Float64("mse", entry.metrics["mse"]))

	return copyMetrics(entry.metrics), nil
}

// Predict estimates the diagnostic yield of one test
func (b *TestYieldModel) Predict(code models.TestCode, set features.Set) (models.TestYieldPrediction, error) {
	code, err := checkTest(code)
	if err != nil {
		return models.TestYieldPrediction{}, err
	}
	related := features.HasRelatedCondition(code, set)

	if e := b.entries[code]; e != nil {
		pred, err := e.predict(code, set, related, b.version(code))
		if err == nil {
			return pred, nil
		}
		b.logger.Warn("Fitted yield prediction failed, using rule-based fallback",
			zap.String("test_code", string(code)), zap.Error(err))
	}
	return fallbackYield(code, set, related), nil
}

func (e *yieldEntry) predict(code models.TestCode, set features.Set, related bool, version string) (models.TestYieldPrediction, error) {
	x := set.Vector(e.schema)
	for i, name := range e.schema {
		if name == "has_condition_related" {
			x[i] = 0
			if related {
				x[i] = 1
			}
		}
	}

	raw, err := e.regressor.Predict(x)
	if err != nil {
		return models.TestYieldPrediction{}, err
	}
	yield := math.Max(0, math.Min(1, raw))

	return models.TestYieldPrediction{
		TestCode:       code,
		PredictedYield: yield,
		Confidence:     completeness(set),
		Recommendation: Recommend(yield),
		Contributions:  yieldContributions(code, set, related),
		ModelVersion:   version,
	}, nil
}

// completeness scores how adequate the inputs are, independent of the prediction.
func completeness(set features.Set) float64 {
	score := 0.5
	for _, name := range []string{"age", "bmi"} {
		if set.Provided(name) {
			score += 0.15
		}
	}
	for _, name := range []string{"smoking_status", "has_diabetes", "has_cardiac"} {
		if set.Provided(name) {
			score += 0.05
		}
	}
	return math.Min(0.95, score)
}

func yieldContributions(code models.TestCode, set features.Set, related bool) []models.Contribution {
	out := []models.Contribution{}
	if related {
		out = append(out, models.Contribution{
			Feature: "related_condition", Value: true, Contribution: 0.3, Direction: models.DirectionIncreases,
		})
	}
	if age := set.Get("age"); age >= 45 {
		out = append(out, models.Contribution{
			Feature: "age", Value: age, Contribution: 0.1 * (age - 35) / 30, Direction: models.DirectionIncreases,
		})
	}
	if bmi := set.Get("bmi"); bmi >= 30 && inTests(code, models.TestLipid, models.TestHBA1C, models.TestECG) {
		out = append(out, models.Contribution{
			Feature: "bmi", Value: bmi, Contribution: 0.15, Direction: models.DirectionIncreases,
		})
	}
	if set.Smoking == models.SmokingCurrent && inTests(code, models.TestECG, models.TestLipid, models.TestLFT) {
		out = append(out, models.Contribution{
			Feature: "smoking_status", Value: string(set.Smoking), Contribution: 0.12, Direction: models.DirectionIncreases,
		})
	}
	return rank(out)
}

// fallbackYield is the rule-based yield estimate used when no regressor is fitted.
func fallbackYield(code models.TestCode, set features.Set, related bool) models.TestYieldPrediction {
	fired := []models.Contribution{{
		Feature: "base_rate", Value: 0.3, Contribution: 0.3, Direction: models.DirectionNeutral,
	}}
	add := func(feature string, value interface{}, points float64) {
		fired = append(fired, models.Contribution{
			Feature: feature, Value: value, Contribution: points, Direction: models.DirectionIncreases,
		})
	}

	if related {
		add("related_condition", true, 0.35)
	}
	age := set.Get("age")
	switch {
	case age >= 55:
		add("age", age, 0.15)
	case age >= 45:
		add("age", age, 0.08)
	}
	if bmi := set.Get("bmi"); bmi >= 30 && inTests(code, models.TestHBA1C, models.TestLipid) {
		add("bmi", bmi, 0.12)
	}
	if set.Smoking == models.SmokingCurrent && inTests(code, models.TestECG, models.TestLipid, models.TestLFT) {
		add("smoking_status", string(set.Smoking), 0.1)
	}

	var yield float64
	for _, c := range fired {
		yield += c.Contribution
	}
	yield = math.Min(0.95, yield)

	return models.TestYieldPrediction{
		TestCode:       code,
		PredictedYield: yield,
		Confidence:     0.7,
		Recommendation: Recommend(yield),
		Contributions:  rank(fired),
		ModelVersion:   RuleBasedVersion,
	}
}

func inTests(code models.TestCode, codes ...models.TestCode) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

// SaveTest writes one fitted test into the version namespace and returns its location
func (b *TestYieldModel) SaveTest(ctx context.Context, blobs store.BlobStore, code models.TestCode, version string) (string, error) {
	code, err := checkTest(code)
	if err != nil {
		return "", err
	}
	e := b.entries[code]
	if e == nil {
		return "", fmt.Errorf("test yield model %s is not fitted", code)
	}

	data, err := json.Marshal(&testYieldFile{
		ModelType:      string(models.ModelTypeTestYield),
		TestCode:       code,
		Version:        version,
		FeatureNames:   e.schema,
		Metrics:        e.metrics,
		TrainedAt:      e.trainedAt,
		SamplesTrained: e.samples,
		Predictor:      e.regressor,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode %s model: %w", code, err)
	}

	key := TestYieldKey(version, code)
	if err := blobs.Put(ctx, key, data); err != nil {
		return "", fmt.Errorf("failed to save %s model: %w", code, err)
	}

	saved := *e
	saved.version = version
	b.entries[code] = &saved

	return blobs.Location(key), nil
}

// Save writes every fitted test not yet stored under version. Tests saved
// individually with SaveTest are skipped.
func (b *TestYieldModel) Save(ctx context.Context, blobs store.BlobStore, version string) (map[models.TestCode]string, error) {
	paths := make(map[models.TestCode]string)
	for _, code := range models.SupportedTests {
		e := b.entries[code]
		if e == nil || e.version == version {
			continue
		}
		path, err := b.SaveTest(ctx, blobs, code, version)
		if err != nil {
			return paths, err
		}
		paths[code] = path
	}
	return paths, nil
}

// LoadTest populates one test from a version namespace. A missing artifact
// leaves the test as it was and reports false.
func (b *TestYieldModel) LoadTest(ctx context.Context, blobs store.BlobStore, code models.TestCode, version string) (bool, error) {
	code, err := checkTest(code)
	if err != nil {
		return false, err
	}
	key := TestYieldKey(version, code)
	exists, err := blobs.Exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to check %s model: %w", code, err)
	}
	if !exists {
		return false, nil
	}

	data, err := blobs.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to read %s model: %w", code, err)
	}
	var file testYieldFile
	if err := json.Unmarshal(data, &file); err != nil {
		return false, fmt.Errorf("failed to decode %s model: %w", code, err)
	}
	if err := file.validate(code); err != nil {
		return false, fmt.Errorf("invalid %s model %s: %w", code, version, err)
	}

	metrics := file.Metrics
	if metrics == nil {
		metrics = map[string]float64{}
	}
	b.entries[code] = &yieldEntry{
		regressor: file.Predictor,
		schema:    file.FeatureNames,
		version:   version,
		metrics:   metrics,
		trainedAt: file.TrainedAt,
		samples:   file.SamplesTrained,
	}

	b.logger.Info("Test yield model loaded", zap.String("test_code", string(code)), zap.String("version", version))
	return true, nil
}

// Load populates every supported test from one version. Tests without an
// artifact stay as they were; per-test failures are joined into the error.
func (b *TestYieldModel) Load(ctx context.Context, blobs store.BlobStore, version string) (map[models.TestCode]bool, error) {
	loaded := make(map[models.TestCode]bool, len(models.SupportedTests))
	var errs []error
	for _, code := range models.SupportedTests {
		ok, err := b.LoadTest(ctx, blobs, code, version)
		if err != nil {
			errs = append(errs, err)
		}
		loaded[code] = ok
	}
	return loaded, errors.Join(errs...)
}

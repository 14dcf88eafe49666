package training

import (
	"go.uber.org/zap"

	"github.com/Sanidhya1398/uw-decision-support/internal/backend"
	"github.com/Sanidhya1398/uw-decision-support/internal/config"
	"github.com/Sanidhya1398/uw-decision-support/internal/features"
	"github.com/Sanidhya1398/uw-decision-support/internal/models"
)

// Soft labels for test recommendation overrides
const (
	SoftLabelAdd    = 0.8
	SoftLabelRemove = 0.2
	SoftLabelOther  = 0.5
)

// Dataset is a weighted training matrix
type Dataset struct {
	X [][]float64
	Y []float64
	W []float64
}

// Len returns the number of rows
func (d Dataset) Len() int {
	return len(d.X)
}

// Classes returns the labels as class indices
func (d Dataset) Classes() []int {
	out := make([]int, len(d.Y))
	for i, y := range d.Y {
		out[i] = int(y)
	}
	return out
}

func (d *Dataset) add(row []float64, y, w float64) {
	d.X = append(d.X, row)
	d.Y = append(d.Y, y)
	d.W = append(d.W, w)
}

// OverrideWeight scores how much an override should count against a case row.
// Chief-validated overrides weigh 2.0, validated 1.5, others 1.0; senior
// underwriters get a further ×1.3 (10+ years) or ×1.1 (5+ years).
func OverrideWeight(o backend.Override) float64 {
	w := 1.0
	switch {
	case o.ValidatedByChief:
		w = 2.0
	case o.Validated:
		w = 1.5
	}
	switch {
	case o.ExperienceYears >= 10:
		w *= 1.3
	case o.ExperienceYears >= 5:
		w *= 1.1
	}
	return w
}

// SoftLabel maps an override direction to an expected yield
func SoftLabel(direction string) float64 {
	switch direction {
	case backend.DirectionAdd:
		return SoftLabelAdd
	case backend.DirectionRemove:
		return SoftLabelRemove
	default:
		return SoftLabelOther
	}
}

// DataLoader assembles training matrices from backend records. Every row goes
// through the same Engineer used for serving.
type DataLoader struct {
	engineer         *features.Engineer
	complexitySchema []string
	yieldSchema      []string
	logger           *zap.Logger
}

// NewDataLoader creates a data loader over the configured feature schemas
func NewDataLoader(cfg *config.Config, engineer *features.Engineer, logger *zap.Logger) *DataLoader {
	return &DataLoader{
		engineer:         engineer,
		complexitySchema: cfg.ML.ComplexityFeatures,
		yieldSchema:      cfg.ML.TestYieldFeatures,
		logger:           logger.With(zap.String("component", "data_loader")),
	}
}

// ComplexityDataset labels cases by their final tier and overrides by the
// underwriter's choice.
func (l *DataLoader) ComplexityDataset(cases []backend.Case, overrides []backend.Override) Dataset {
	var ds Dataset
	for _, c := range cases {
		set := l.engineer.Extract(features.Input{
			Applicant:   c.Applicant,
			SumAssured:  c.SumAssured,
			Disclosures: c.Disclosures,
		})
		ds.add(set.Vector(l.complexitySchema), float64(models.TierIndex(string(c.ComplexityTier))), 1.0)
	}
	for _, o := range overrides {
		set := l.engineer.Extract(features.Input{
			Applicant:   o.Applicant,
			SumAssured:  o.SumAssured,
			Disclosures: o.Disclosures,
		})
		ds.add(set.Vector(l.complexitySchema), float64(models.TierIndex(o.UnderwriterChoice)), OverrideWeight(o))
	}

	l.logger.Debug("Complexity dataset assembled",
		zap.Int("cases", len(cases)),
		zap.Int("overrides", len(overrides)),
		zap.Int("rows", ds.Len()))
	return ds
}

// TestYieldDataset labels cases that ordered the test by whether the result
// was informative, and overrides for the test by their direction.
func (l *DataLoader) TestYieldDataset(code models.TestCode, cases []backend.Case, overrides []backend.Override) Dataset {
	var ds Dataset
	fromCases := 0
	for _, c := range cases {
		result, ok := c.Result(code)
		if !ok {
			continue
		}
		set := l.engineer.Extract(features.Input{
			Applicant:   c.Applicant,
			SumAssured:  c.SumAssured,
			Disclosures: c.Disclosures,
			TestCode:    code,
		})
		y := 0.0
		if result.Informative() {
			y = 1.0
		}
		ds.add(set.Vector(l.yieldSchema), y, 1.0)
		fromCases++
	}
	for _, o := range overrides {
		if o.TestCode != code {
			continue
		}
		set := l.engineer.Extract(features.Input{
			Applicant:   o.Applicant,
			SumAssured:  o.SumAssured,
			Disclosures: o.Disclosures,
			TestCode:    code,
		})
		ds.add(set.Vector(l.yieldSchema), SoftLabel(o.Direction), OverrideWeight(o))
	}

	l.logger.Debug("Test yield dataset assembled",
		zap.String("test_code", string(code)),
		zap.Int("from_cases", fromCases),
		zap.Int("rows", ds.Len()))
	return ds
}

package features

import (
	"math"
	"strings"
	"time"

	"github.com/Sanidhya1398/uw-decision-support/internal/models"
)

// Defaults substituted for missing applicant fields
const (
	DefaultAge = 35
	DefaultBMI = 24.0
)

// Sum assured tier thresholds
const (
	TierThreshold3 = 10_000_000
	TierThreshold2 = 5_000_000
	TierThreshold1 = 2_500_000
)

// Input is the raw material for one feature extraction
type Input struct {
	Applicant   models.Applicant
	SumAssured  float64
	Disclosures []models.Disclosure
	TestCode    models.TestCode
}

// Engineer turns raw applicant and disclosure records into feature sets.
// It holds no mutable state; the same instance serves training and inference.
type Engineer struct {
	keywords Keywords
	now      func() time.Time
}

// Option configures an Engineer
type Option func(*Engineer)

// WithClock sets the clock used to derive age from a date of birth.
func WithClock(now func() time.Time) Option {
	return func(e *Engineer) { e.now = now }
}

// NewEngineer creates a feature engineer over the given keyword table
func NewEngineer(kw Keywords, opts ...Option) *Engineer {
	e := &Engineer{keywords: kw, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Keywords returns the keyword table in use
func (e *Engineer) Keywords() Keywords {
	return e.keywords
}

// Extract builds the merged flag/count/scalar map for one applicant.
func (e *Engineer) Extract(in Input) Set {
	set := newSet()

	age := in.Applicant.Age
	if age == nil && in.Applicant.DateOfBirth != "" {
		age = AgeFromDOB(in.Applicant.DateOfBirth, e.now())
	}
	if age != nil {
		set.put("age", float64(*age))
	} else {
		set.putDefault("age", DefaultAge)
	}

	bmi := in.Applicant.BMI
	if bmi == nil {
		bmi = CalculateBMI(in.Applicant.HeightCM, in.Applicant.WeightKG)
	}
	if bmi != nil {
		set.put("bmi", *bmi)
	} else {
		set.putDefault("bmi", DefaultBMI)
	}

	set.Smoking = normalizeSmoking(in.Applicant.SmokingStatus)
	if in.Applicant.SmokingStatus == "" {
		set.putDefault("smoking_status", 0)
	} else {
		set.put("smoking_status", EncodeSmoking(set.Smoking))
	}

	set.SumAssured = in.SumAssured
	set.put("sum_assured", in.SumAssured/1_000_000)
	set.put("sum_assured_tier", float64(SumAssuredTier(in.SumAssured)))

	for name, count := range CountDisclosures(in.Disclosures) {
		set.put(name, float64(count))
	}
	for name, flag := range e.keywords.ConditionFlags(in.Disclosures) {
		set.put(name, boolValue(flag))
	}
	for name, flag := range e.keywords.FamilyHistoryFlags(in.Disclosures) {
		set.put(name, boolValue(flag))
	}

	if in.TestCode != "" {
		set.TestCode = in.TestCode
		set.put("has_condition_related", boolValue(HasRelatedCondition(in.TestCode, set)))
	}

	return set
}

// HasRelatedCondition reports whether the feature set carries any condition category
// relevant to the test. Categories without an extracted flag, such as hepatic,
// never match.
func HasRelatedCondition(code models.TestCode, set Set) bool {
	bmi := set.Get("bmi")
	for _, category := range models.TestConditions[code] {
		switch category {
		case models.CategoryCardiac, models.CategoryDiabetes, models.CategoryRenal, models.CategoryHypertension:
			if set.Flag("has_" + category) {
				return true
			}
		case models.CategoryObesity:
			if bmi >= 30 {
				return true
			}
		case models.CategoryMetabolic:
			if set.Flag("has_diabetes") || bmi >= 30 {
				return true
			}
		}
	}
	return false
}

// CalculateBMI computes weight/height² rounded to one decimal. Nil when either input is missing.
func CalculateBMI(heightCM, weightKG *float64) *float64 {
	if heightCM == nil || weightKG == nil || *heightCM <= 0 || *weightKG <= 0 {
		return nil
	}
	heightM := *heightCM / 100
	bmi := math.Round(*weightKG/(heightM*heightM)*10) / 10
	return &bmi
}

// AgeFromDOB returns the whole-year age at now. Nil when dob does not parse.
func AgeFromDOB(dob string, now time.Time) *int {
	var born time.Time
	var err error
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if born, err = time.Parse(layout, strings.TrimSpace(dob)); err == nil {
			break
		}
	}
	if err != nil {
		return nil
	}

	age := now.Year() - born.Year()
	if now.Month() < born.Month() || (now.Month() == born.Month() && now.Day() < born.Day()) {
		age--
	}
	return &age
}

// EncodeSmoking maps a smoking status onto its ordinal severity.
func EncodeSmoking(status models.SmokingStatus) float64 {
	switch normalizeSmoking(status) {
	case models.SmokingCurrent:
		return 2
	case models.SmokingFormer:
		return 1
	default:
		return 0
	}
}

// SumAssuredTier buckets a sum assured into tiers 0-3.
func SumAssuredTier(amount float64) int {
	switch {
	case amount >= TierThreshold3:
		return 3
	case amount >= TierThreshold2:
		return 2
	case amount >= TierThreshold1:
		return 1
	default:
		return 0
	}
}

// CountDisclosures counts disclosures per variant.
func CountDisclosures(disclosures []models.Disclosure) map[string]int {
	counts := map[string]int{
		"condition_count":      0,
		"medication_count":     0,
		"family_history_count": 0,
		"surgery_count":        0,
	}
	for _, d := range disclosures {
		switch d.Type {
		case models.DisclosureCondition:
			counts["condition_count"]++
		case models.DisclosureMedication:
			counts["medication_count"]++
		case models.DisclosureFamilyHistory:
			counts["family_history_count"]++
		case models.DisclosureSurgery:
			counts["surgery_count"]++
		}
	}
	return counts
}

func normalizeSmoking(status models.SmokingStatus) models.SmokingStatus {
	switch models.SmokingStatus(strings.ToLower(strings.TrimSpace(string(status)))) {
	case models.SmokingCurrent:
		return models.SmokingCurrent
	case models.SmokingFormer:
		return models.SmokingFormer
	default:
		return models.SmokingNever
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

package backend

import (
	"strings"

	"github.com/spf13/cast"

	"github.com/Sanidhya1398/uw-decision-support/internal/models"
)

// DefaultSumAssured is assumed for records that carry no sum assured
const DefaultSumAssured = 5_000_000

// Override type tags accepted by the overrides endpoint
const (
	OverrideComplexityTier     = "COMPLEXITY_TIER"
	OverrideTestRecommendation = "TEST_RECOMMENDATION"
)

// Override directions
const (
	DirectionAdd    = "ADD"
	DirectionRemove = "REMOVE"
)

// Case is a completed underwriting case with its recorded outcome
type Case struct {
	ID          string
	Applicant   models.Applicant
	Disclosures []models.Disclosure
	SumAssured  float64
	// ComplexityTier is the final tier, MODERATE when the case recorded none.
	ComplexityTier models.Tier
	TestResults    []TestResult
}

// TestResult is the outcome of one ordered medical test
type TestResult struct {
	TestCode           models.TestCode
	ResultStatus       string
	LedToAction        bool
	InfluencedDecision bool
}

// Informative reports whether the test result changed the case outcome.
func (r TestResult) Informative() bool {
	switch strings.ToLower(r.ResultStatus) {
	case "abnormal", "borderline":
		return true
	}
	return r.LedToAction || r.InfluencedDecision
}

// Result returns the case's result for a test code
func (c Case) Result(code models.TestCode) (TestResult, bool) {
	for _, r := range c.TestResults {
		if r.TestCode == code {
			return r, true
		}
	}
	return TestResult{}, false
}

// Override is an underwriter's change to a system suggestion, with the case
// context captured at decision time.
type Override struct {
	ID                string
	Type              string
	Direction         string
	UnderwriterChoice string
	Validated         bool
	ValidatedByChief  bool
	ExperienceYears   float64
	ReasoningTags     []string
	TestCode          models.TestCode

	Applicant   models.Applicant
	Disclosures []models.Disclosure
	SumAssured  float64
}

type record map[string]interface{}

// get returns the first present key. Both camelCase and snake_case spellings are
// looked up by callers.
func (r record) get(keys ...string) (interface{}, bool) {
	for _, k := range keys {
		if v, ok := r[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func (r record) str(keys ...string) string {
	v, _ := r.get(keys...)
	return strings.TrimSpace(cast.ToString(v))
}

func (r record) boolean(keys ...string) bool {
	v, _ := r.get(keys...)
	return cast.ToBool(v)
}

func (r record) float(keys ...string) (float64, bool) {
	v, ok := r.get(keys...)
	if !ok {
		return 0, false
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, false
	}
	return f, true
}

func (r record) child(keys ...string) record {
	v, _ := r.get(keys...)
	return toRecord(v)
}

func (r record) list(keys ...string) []record {
	v, _ := r.get(keys...)
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	return toRecords(items)
}

func toRecords(items []interface{}) []record {
	out := make([]record, 0, len(items))
	for _, item := range items {
		if rec := toRecord(item); rec != nil {
			out = append(out, rec)
		}
	}
	return out
}

func toRecord(v interface{}) record {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	return record(m)
}

func parseCase(r record) Case {
	c := Case{
		ID:          r.str("id", "caseId", "case_id"),
		Applicant:   parseApplicant(r.child("applicant")),
		Disclosures: parseDisclosures(r.list("medicalDisclosures", "medical_disclosures", "disclosures")),
		SumAssured:  DefaultSumAssured,
	}
	if sa, ok := r.float("sumAssured", "sum_assured"); ok {
		c.SumAssured = sa
	}

	tier := r.str("complexityTier", "complexity_tier")
	if tier == "" {
		tier = r.str("assignedComplexity", "assigned_complexity")
	}
	c.ComplexityTier = models.Tiers[models.TierIndex(tier)]

	for _, t := range r.list("testResults", "test_results") {
		code, ok := models.ParseTestCode(t.str("testCode", "test_code"))
		if !ok {
			continue
		}
		c.TestResults = append(c.TestResults, TestResult{
			TestCode:           code,
			ResultStatus:       t.str("resultStatus", "result_status"),
			LedToAction:        t.boolean("ledToAction", "led_to_action"),
			InfluencedDecision: t.boolean("influencedDecision", "influenced_decision"),
		})
	}
	return c
}

func parseOverride(r record) Override {
	o := Override{
		ID:                r.str("id", "overrideId", "override_id"),
		Type:              strings.ToUpper(r.str("overrideType", "override_type", "type")),
		Direction:         strings.ToUpper(r.str("direction")),
		UnderwriterChoice: strings.ToUpper(r.str("underwriterChoice", "underwriter_choice")),
		Validated:         r.boolean("validated"),
		ValidatedByChief:  r.boolean("validatedByChief", "validated_by_chief"),
		SumAssured:        DefaultSumAssured,
	}
	if years, ok := r.float("underwriterExperienceYears", "underwriter_experience_years"); ok {
		o.ExperienceYears = years
	}
	if raw, ok := r.get("reasoningTags", "reasoning_tags"); ok {
		o.ReasoningTags = cast.ToStringSlice(raw)
	}
	if code, ok := models.ParseTestCode(r.child("details").str("testCode", "test_code")); ok {
		o.TestCode = code
	}

	snapshot := r.child("contextSnapshot", "context_snapshot")
	o.Applicant = parseApplicant(snapshot.child("applicant"))
	o.Disclosures = parseDisclosures(snapshot.list("disclosures", "medicalDisclosures"))
	if sa, ok := snapshot.float("sumAssured", "sum_assured"); ok {
		o.SumAssured = sa
	} else if sa, ok := snapshot.child("case").float("sumAssured", "sum_assured"); ok {
		o.SumAssured = sa
	}
	return o
}

func parseApplicant(r record) models.Applicant {
	var a models.Applicant
	if r == nil {
		return a
	}
	if age, ok := r.float("age"); ok {
		n := int(age)
		a.Age = &n
	}
	if bmi, ok := r.float("bmi"); ok && bmi > 0 {
		a.BMI = &bmi
	}
	if h, ok := r.float("heightCm", "height_cm"); ok {
		a.HeightCM = &h
	}
	if w, ok := r.float("weightKg", "weight_kg"); ok {
		a.WeightKG = &w
	}
	a.SmokingStatus = models.SmokingStatus(strings.ToLower(r.str("smokingStatus", "smoking_status")))
	a.DateOfBirth = r.str("dateOfBirth", "date_of_birth")
	return a
}

func parseDisclosures(items []record) []models.Disclosure {
	out := make([]models.Disclosure, 0, len(items))
	for _, r := range items {
		out = append(out, models.Disclosure{
			Type:               models.DisclosureType(strings.ToLower(r.str("disclosureType", "disclosure_type"))),
			ConditionName:      r.str("conditionName", "condition_name"),
			ConditionStatus:    r.str("conditionStatus", "condition_status"),
			MedicationName:     r.str("medicationName", "medication_name"),
			FamilyCondition:    r.str("familyCondition", "family_condition"),
			FamilyRelationship: r.str("familyRelationship", "family_relationship"),
			SurgeryName:        r.str("surgeryName", "surgery_name"),
		})
	}
	return out
}

package models

import (
	"encoding/json"
	"strings"
	"time"
)

// SmokingStatus represents an applicant's declared smoking habit
type SmokingStatus string

const (
	SmokingNever   SmokingStatus = "never"
	SmokingFormer  SmokingStatus = "former"
	SmokingCurrent SmokingStatus = "current"
)

// DisclosureType tags the variant of a medical disclosure
type DisclosureType string

const (
	DisclosureCondition     DisclosureType = "condition"
	DisclosureMedication    DisclosureType = "medication"
	DisclosureFamilyHistory DisclosureType = "family_history"
	DisclosureSurgery       DisclosureType = "surgery"
)

// Tier represents a case complexity classification
type Tier string

const (
	TierRoutine  Tier = "ROUTINE"
	TierModerate Tier = "MODERATE"
	TierComplex  Tier = "COMPLEX"
)

// Tiers lists the classifier output classes in index order.
var Tiers = []Tier{TierRoutine, TierModerate, TierComplex}

// TierIndex returns the class index of a tier label. Unknown labels map to MODERATE.
func TierIndex(label string) int {
	switch Tier(strings.ToUpper(strings.TrimSpace(label))) {
	case TierRoutine:
		return 0
	case TierComplex:
		return 2
	default:
		return 1
	}
}

// Applicant holds the applicant profile used for feature extraction
type Applicant struct {
	Age           *int          `json:"age,omitempty" binding:"omitempty,gte=0,lte=120"`
	BMI           *float64      `json:"bmi,omitempty" binding:"omitempty,gte=10,lte=80"`
	SmokingStatus SmokingStatus `json:"smoking_status,omitempty" binding:"omitempty,oneof=never former current"`
	HeightCM      *float64      `json:"height_cm,omitempty"`
	WeightKG      *float64      `json:"weight_kg,omitempty"`
	DateOfBirth   string        `json:"date_of_birth,omitempty"`
}

// Disclosure is a single medical disclosure. Type selects which text field is meaningful.
type Disclosure struct {
	Type               DisclosureType `json:"disclosure_type" binding:"required,oneof=condition medication family_history surgery"`
	ConditionName      string         `json:"condition_name,omitempty"`
	ConditionStatus    string         `json:"condition_status,omitempty"`
	MedicationName     string         `json:"medication_name,omitempty"`
	FamilyCondition    string         `json:"family_condition,omitempty"`
	FamilyRelationship string         `json:"family_relationship,omitempty"`
	SurgeryName        string         `json:"surgery_name,omitempty"`
}

// UnmarshalJSON folds the type to its canonical lower-case form.
func (t *DisclosureType) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*t = DisclosureType(strings.ToLower(strings.TrimSpace(raw)))
	return nil
}

// Text returns the free-text name carried by the disclosure's variant.
func (d Disclosure) Text() string {
	switch d.Type {
	case DisclosureCondition:
		return d.ConditionName
	case DisclosureMedication:
		return d.MedicationName
	case DisclosureFamilyHistory:
		return d.FamilyCondition
	case DisclosureSurgery:
		return d.SurgeryName
	default:
		return ""
	}
}

// Direction tags how a feature moved a prediction
type Direction string

const (
	DirectionIncreases Direction = "increases"
	DirectionDecreases Direction = "decreases"
	DirectionNeutral   Direction = "neutral"
)

// Contribution is one entry of a prediction explanation
type Contribution struct {
	Feature      string      `json:"feature"`
	Value        interface{} `json:"value"`
	Contribution float64     `json:"contribution"`
	Direction    Direction   `json:"direction"`
}

// ComplexityPrediction is the result of a complexity classification
type ComplexityPrediction struct {
	Tier          Tier               `json:"tier"`
	Confidence    float64            `json:"confidence"`
	Probabilities map[string]float64 `json:"probabilities"`
	Contributions []Contribution     `json:"feature_contributions"`
	ModelVersion  string             `json:"model_version"`
}

// Recommendation values for test yield predictions
const (
	RecommendationRecommended = "recommended"
	RecommendationOptional    = "optional"
	RecommendationLowYield    = "low_yield"
)

// TestYieldPrediction is the result of a diagnostic yield prediction
type TestYieldPrediction struct {
	TestCode       TestCode       `json:"test_code"`
	PredictedYield float64        `json:"predicted_yield"`
	Confidence     float64        `json:"confidence"`
	Recommendation string         `json:"recommendation"`
	Contributions  []Contribution `json:"feature_contributions"`
	ModelVersion   string         `json:"model_version"`
}

// ModelInfo describes a loaded model
type ModelInfo struct {
	ModelType      string             `json:"model_type"`
	Version        string             `json:"version"`
	Fitted         bool               `json:"fitted"`
	TrainedAt      *time.Time         `json:"trained_at,omitempty"`
	SamplesTrained int                `json:"samples_trained,omitempty"`
	Metrics        map[string]float64 `json:"metrics"`
	Features       []string           `json:"features"`
}

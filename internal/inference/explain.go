package inference

import (
	"math"
	"sort"
	"strings"

	"github.com/Sanidhya1398/uw-decision-support/internal/features"
	"github.com/Sanidhya1398/uw-decision-support/internal/models"
)

// maxContributions bounds every explanation list.
const maxContributions = 8

// complexityWeights approximate how much each feature moves the complexity tier.
// Features missing from the table use defaultComplexityWeight.
var complexityWeights = map[string]float64{
	"age":                    0.15,
	"bmi":                    0.10,
	"sum_assured":            0.08,
	"smoking_status":         0.12,
	"condition_count":        0.10,
	"has_cardiac":            0.15,
	"has_diabetes":           0.10,
	"has_hypertension":       0.08,
	"has_renal":              0.08,
	"family_history_cardiac": 0.04,
}

const defaultComplexityWeight = 0.05

// Recommend maps a yield score to its recommendation label. Fitted and fallback
// predictions share it.
func Recommend(yield float64) string {
	switch {
	case yield >= 0.6:
		return models.RecommendationRecommended
	case yield >= 0.3:
		return models.RecommendationOptional
	default:
		return models.RecommendationLowYield
	}
}

// complexityContributions scores each schema feature with the weight table.
func complexityContributions(schema []string, set features.Set) []models.Contribution {
	out := make([]models.Contribution, 0, len(schema))
	for _, name := range schema {
		v := set.Get(name)
		weight, ok := complexityWeights[name]
		if !ok {
			weight = defaultComplexityWeight
		}

		var c float64
		increasing := v > 0
		switch name {
		case "age":
			c = weight * (v - 35) / 30
			increasing = v > 45
		case "bmi":
			c = weight * (v - 24) / 10
			increasing = v > 30
		case "has_cardiac", "has_diabetes", "has_renal":
			c = weight * v
		case "smoking_status":
			c = weight * v / 2
		default:
			c = weight * v * 0.1
		}

		out = append(out, models.Contribution{
			Feature:      name,
			Value:        displayValue(name, v, set),
			Contribution: c,
			Direction:    direction(c, increasing),
		})
	}
	return rank(out)
}

func direction(c float64, increasing bool) models.Direction {
	switch {
	case c < 0:
		return models.DirectionDecreases
	case increasing:
		return models.DirectionIncreases
	default:
		return models.DirectionNeutral
	}
}

// displayValue reports a feature in the caller's terms rather than its encoding.
func displayValue(name string, v float64, set features.Set) interface{} {
	switch {
	case name == "smoking_status":
		return string(set.Smoking)
	case name == "sum_assured":
		return set.SumAssured
	case strings.HasPrefix(name, "has_"), strings.HasPrefix(name, "family_history_"):
		return v > 0
	default:
		return v
	}
}

// rank sorts by descending absolute contribution and keeps the top entries.
func rank(cs []models.Contribution) []models.Contribution {
	sort.SliceStable(cs, func(i, j int) bool {
		return math.Abs(cs[i].Contribution) > math.Abs(cs[j].Contribution)
	})
	if len(cs) > maxContributions {
		cs = cs[:maxContributions]
	}
	return cs
}

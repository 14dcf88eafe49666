package features

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/Sanidhya1398/uw-decision-support/internal/models"
)

//go:embed keywords.yaml
var defaultKeywordsYAML []byte

// Keywords holds the keyword lists per condition category
type Keywords struct {
	Conditions    map[string][]string `yaml:"conditions"`
	FamilyHistory map[string][]string `yaml:"family_history"`
}

// DefaultKeywords returns the built-in keyword table.
func DefaultKeywords() Keywords {
	kw, err := ParseKeywords(defaultKeywordsYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded keywords.yaml is invalid: %v", err))
	}
	return kw
}

// LoadKeywords reads a keyword table from a YAML file. An empty path yields the defaults.
func LoadKeywords(path string) (Keywords, error) {
	if path == "" {
		return DefaultKeywords(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Keywords{}, fmt.Errorf("failed to read keywords file: %w", err)
	}
	return ParseKeywords(data)
}

// ParseKeywords decodes and normalizes a YAML keyword table.
func ParseKeywords(data []byte) (Keywords, error) {
	var kw Keywords
	if err := yaml.Unmarshal(data, &kw); err != nil {
		return Keywords{}, fmt.Errorf("failed to parse keywords: %w", err)
	}
	if len(kw.Conditions) == 0 {
		return Keywords{}, fmt.Errorf("keywords: no condition categories defined")
	}
	kw.Conditions = normalizeTable(kw.Conditions)
	kw.FamilyHistory = normalizeTable(kw.FamilyHistory)
	return kw, nil
}

func normalizeTable(table map[string][]string) map[string][]string {
	out := make(map[string][]string, len(table))
	for category, words := range table {
		category = strings.ToLower(strings.TrimSpace(category))
		for _, w := range words {
			// leading and trailing spaces are significant
			if w = strings.ToLower(w); strings.TrimSpace(w) != "" {
				out[category] = append(out[category], w)
			}
		}
		if _, ok := out[category]; !ok {
			out[category] = nil
		}
	}
	return out
}

// ConditionFlags derives has_<category> flags from condition disclosures.
func (k Keywords) ConditionFlags(disclosures []models.Disclosure) map[string]bool {
	text := joinText(disclosures, models.DisclosureCondition)
	flags := make(map[string]bool, len(k.Conditions))
	for category, words := range k.Conditions {
		flags["has_"+category] = containsAny(text, words)
	}
	return flags
}

// FamilyHistoryFlags derives family_history_<category> flags from family history disclosures.
func (k Keywords) FamilyHistoryFlags(disclosures []models.Disclosure) map[string]bool {
	text := joinText(disclosures, models.DisclosureFamilyHistory)
	flags := make(map[string]bool, len(k.FamilyHistory))
	for category, words := range k.FamilyHistory {
		flags["family_history_"+category] = containsAny(text, words)
	}
	return flags
}

func joinText(disclosures []models.Disclosure, kind models.DisclosureType) string {
	parts := make([]string, 0, len(disclosures))
	for _, d := range disclosures {
		if d.Type == kind {
			parts = append(parts, normalizeText(d.Text()))
		}
	}
	return " " + strings.Join(parts, " ") + " "
}

// normalizeText lowercases and folds punctuation to spaces so padded tokens like " mi "
// also match "MI," or "(MI)".
func normalizeText(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

package features

import "github.com/Sanidhya1398/uw-decision-support/internal/models"

// Set is the merged map of named feature values for one applicant
type Set struct {
	Values map[string]float64
	// Defaulted marks names whose value was substituted because the input was missing.
	Defaulted map[string]bool

	Smoking    models.SmokingStatus
	SumAssured float64
	TestCode   models.TestCode
}

func newSet() Set {
	return Set{
		Values:    make(map[string]float64),
		Defaulted: make(map[string]bool),
		Smoking:   models.SmokingNever,
	}
}

func (s Set) put(name string, v float64) {
	s.Values[name] = v
}

func (s Set) putDefault(name string, v float64) {
	s.Values[name] = v
	s.Defaulted[name] = true
}

// Get returns the named value, or 0 when the name is unknown.
func (s Set) Get(name string) float64 {
	return s.Values[name]
}

// Flag reports whether a boolean feature is set.
func (s Set) Flag(name string) bool {
	return s.Values[name] > 0
}

// Provided reports whether the named feature came from the input rather than a default.
func (s Set) Provided(name string) bool {
	_, ok := s.Values[name]
	return ok && !s.Defaulted[name]
}

// Vector lays the set out in schema order. Names the set does not know resolve to 0.
func (s Set) Vector(schema []string) []float64 {
	out := make([]float64, len(schema))
	for i, name := range schema {
		out[i] = s.Values[name]
	}
	return out
}

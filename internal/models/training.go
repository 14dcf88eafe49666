package models

import (
	"time"

	"github.com/google/uuid"
)

// ModelType represents a model family
type ModelType string

const (
	ModelTypeComplexity ModelType = "complexity"
	ModelTypeTestYield  ModelType = "test_yield"
)

// Valid reports whether the model type is a known family.
func (t ModelType) Valid() bool {
	return t == ModelTypeComplexity || t == ModelTypeTestYield
}

// TrainingStatus represents the status of a training job or per-test run
type TrainingStatus string

const (
	TrainingStatusPending   TrainingStatus = "pending"
	TrainingStatusRunning   TrainingStatus = "running"
	TrainingStatusCompleted TrainingStatus = "completed"
	TrainingStatusFailed    TrainingStatus = "failed"
	TrainingStatusSkipped   TrainingStatus = "skipped"
)

// Terminal reports whether no further transition is allowed.
func (s TrainingStatus) Terminal() bool {
	return s == TrainingStatusCompleted || s == TrainingStatusFailed || s == TrainingStatusSkipped
}

// CanTransition reports whether a job may move from s to next.
func (s TrainingStatus) CanTransition(next TrainingStatus) bool {
	switch s {
	case TrainingStatusPending:
		return next == TrainingStatusRunning || next == TrainingStatusFailed
	case TrainingStatusRunning:
		return next == TrainingStatusCompleted || next == TrainingStatusFailed
	default:
		return false
	}
}

// TestRunResult records the outcome of training one test code inside a run
type TestRunResult struct {
	TestCode    TestCode           `json:"test_code"`
	Status      TrainingStatus     `json:"status"`
	SamplesUsed int                `json:"samples_used,omitempty"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	ModelPath   string             `json:"model_path,omitempty"`
	Reason      string             `json:"reason,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// TrainingResult is the report produced by one training run
type TrainingResult struct {
	ModelType   ModelType                   `json:"model_type"`
	Status      TrainingStatus              `json:"status"`
	StartedAt   time.Time                   `json:"started_at"`
	CompletedAt time.Time                   `json:"completed_at"`
	SamplesUsed int                         `json:"samples_used,omitempty"`
	Metrics     map[string]float64          `json:"metrics,omitempty"`
	Version     string                      `json:"version,omitempty"`
	ModelPath   string                      `json:"model_path,omitempty"`
	Models      map[TestCode]*TestRunResult `json:"models,omitempty"`
}

// TrainingJob represents a background training job
type TrainingJob struct {
	ID          uuid.UUID                   `gorm:"type:uuid;primaryKey" json:"job_id"`
	ModelType   ModelType                   `gorm:"not null;index" json:"model_type"`
	Status      TrainingStatus              `gorm:"not null;index" json:"status"`
	Force       bool                        `json:"force"`
	CreatedAt   time.Time                   `json:"created_at"`
	UpdatedAt   time.Time                   `json:"updated_at"`
	StartedAt   *time.Time                  `json:"started_at,omitempty"`
	CompletedAt *time.Time                  `json:"completed_at,omitempty"`
	SamplesUsed *int                        `json:"samples_used,omitempty"`
	Metrics     map[string]float64          `gorm:"serializer:json" json:"metrics,omitempty"`
	Version     string                      `json:"version,omitempty"`
	Models      map[TestCode]*TestRunResult `gorm:"serializer:json" json:"models,omitempty"`
	Error       string                      `json:"error,omitempty"`
}

// TableName overrides the default table name
func (TrainingJob) TableName() string {
	return "training_jobs"
}

// Clone returns a deep copy safe to hand to readers.
func (j *TrainingJob) Clone() *TrainingJob {
	if j == nil {
		return nil
	}
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	if j.SamplesUsed != nil {
		n := *j.SamplesUsed
		c.SamplesUsed = &n
	}
	c.Metrics = copyMetrics(j.Metrics)
	if j.Models != nil {
		c.Models = make(map[TestCode]*TestRunResult, len(j.Models))
		for k, v := range j.Models {
			if v == nil {
				c.Models[k] = nil
				continue
			}
			r := *v
			r.Metrics = copyMetrics(v.Metrics)
			c.Models[k] = &r
		}
	}
	return &c
}

func copyMetrics(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

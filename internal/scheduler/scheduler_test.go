package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Sanidhya1398/uw-decision-support/internal/config"
	"github.com/Sanidhya1398/uw-decision-support/internal/models"
)

type recordingSubmitter struct {
	mu        sync.Mutex
	submitted []models.ModelType
	fail      models.ModelType
}

func (s *recordingSubmitter) Submit(_ context.Context, modelType models.ModelType, force bool) (*models.TrainingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted = append(s.submitted, modelType)
	if modelType == s.fail {
		return nil, errors.New("training queue is full")
	}
	return &models.TrainingJob{ID: uuid.New(), ModelType: modelType, Force: force, Status: models.TrainingStatusPending}, nil
}

func (s *recordingSubmitter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.submitted)
}

func TestRetrainer(t *testing.T) {
	ctx := context.Background()

	t.Run("Invalid Schedule", func(t *testing.T) {
		_, err := NewRetrainer(config.SchedulerConfig{RetrainSchedule: "every tuesday"}, &recordingSubmitter{}, zap.NewNop())
		assert.ErrorContains(t, err, "invalid retrain schedule")
	})

	t.Run("Run Now Submits Both Families", func(t *testing.T) {
		sub := &recordingSubmitter{}
		r, err := NewRetrainer(config.SchedulerConfig{RetrainSchedule: "@every 24h"}, sub, zap.NewNop())
		require.NoError(t, err)

		jobs := r.RunNow(ctx)
		require.Len(t, jobs, 2)
		assert.Equal(t, []models.ModelType{models.ModelTypeComplexity, models.ModelTypeTestYield}, sub.submitted)
		for _, job := range jobs {
			assert.False(t, job.Force)
		}
	})

	t.Run("Submit Failure Does Not Stop Others", func(t *testing.T) {
		sub := &recordingSubmitter{fail: models.ModelTypeComplexity}
		r, err := NewRetrainer(config.SchedulerConfig{RetrainSchedule: "@every 24h"}, sub, zap.NewNop())
		require.NoError(t, err)

		jobs := r.RunNow(ctx)
		require.Len(t, jobs, 1)
		assert.Equal(t, models.ModelTypeTestYield, jobs[0].ModelType)
	})

	t.Run("Fires On Schedule", func(t *testing.T) {
		sub := &recordingSubmitter{}
		r, err := NewRetrainer(config.SchedulerConfig{RetrainSchedule: "@every 1s"}, sub, zap.NewNop())
		require.NoError(t, err)

		r.Start()
		defer r.Stop()
		assert.False(t, r.NextRun().IsZero())
		assert.Eventually(t, func() bool { return sub.count() >= 2 }, 3*time.Second, 20*time.Millisecond)
	})
}

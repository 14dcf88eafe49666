// Package scheduler triggers periodic retraining of both model families.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/Sanidhya1398/uw-decision-support/internal/config"
	"github.com/Sanidhya1398/uw-decision-support/internal/models"
)

// Submitter queues training jobs. *training.Engine implements it.
type Submitter interface {
	Submit(ctx context.Context, modelType models.ModelType, force bool) (*models.TrainingJob, error)
}

// Retrainer submits a training job per model family on a cron schedule
type Retrainer struct {
	schedule  string
	submitter Submitter
	cron      *cron.Cron
	entryID   cron.EntryID
	logger    *zap.Logger
}

// NewRetrainer validates the schedule and creates a retrainer
func NewRetrainer(cfg config.SchedulerConfig, submitter Submitter, logger *zap.Logger) (*Retrainer, error) {
	r := &Retrainer{
		schedule:  cfg.RetrainSchedule,
		submitter: submitter,
		cron:      cron.New(cron.WithLocation(time.UTC)),
		logger:    logger.With(zap.String("component", "retrainer")),
	}
	id, err := r.cron.AddFunc(cfg.RetrainSchedule, func() { r.RunNow(context.Background()) })
	if err != nil {
		return nil, fmt.Errorf("invalid retrain schedule %q: %w", cfg.RetrainSchedule, err)
	}
	r.entryID = id
	return r, nil
}

// Start starts the cron scheduler
func (r *Retrainer) Start() {
	r.cron.Start()
	r.logger.Info("Retrain scheduler started",
		zap.String("schedule", r.schedule),
		zap.Time("next_run", r.NextRun()))
}

// Stop stops scheduling and waits for a running trigger to return
func (r *Retrainer) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("Retrain scheduler stopped")
}

// NextRun returns the next scheduled trigger time
func (r *Retrainer) NextRun() time.Time {
	return r.cron.Entry(r.entryID).Next
}

// RunNow submits one unforced job per model family and returns the accepted jobs.
func (r *Retrainer) RunNow(ctx context.Context) []*models.TrainingJob {
	var jobs []*models.TrainingJob
	for _, modelType := range []models.ModelType{models.ModelTypeComplexity, models.ModelTypeTestYield} {
		job, err := r.submitter.Submit(ctx, modelType, false)
		if err != nil {
			r.logger.Error("Failed to submit scheduled training",
				zap.String("model_type", string(modelType)),
				zap.Error(err))
			continue
		}
		r.logger.Info("Scheduled training submitted",
			zap.String("model_type", string(modelType)),
			zap.String("job_id", job.ID.String()))
		jobs = append(jobs, job)
	}
	return jobs
}

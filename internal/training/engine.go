package training

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Sanidhya1398/uw-decision-support/internal/config"
	"github.com/Sanidhya1398/uw-decision-support/internal/events"
	"github.com/Sanidhya1398/uw-decision-support/internal/models"
	"github.com/Sanidhya1398/uw-decision-support/internal/monitoring"
)

var (
	// ErrJobNotFound is returned for unknown job ids
	ErrJobNotFound = errors.New("training job not found")
	// ErrQueueFull is returned when the job queue has no room
	ErrQueueFull = errors.New("training queue is full")
	// ErrEngineStopped is returned for submissions after Shutdown
	ErrEngineStopped = errors.New("training engine is stopped")
	// ErrInvalidModelType is returned for unknown model families
	ErrInvalidModelType = errors.New("invalid model type")
)

// Runner executes one training run. *Trainer implements it.
type Runner interface {
	Train(ctx context.Context, modelType models.ModelType, force bool) (*models.TrainingResult, error)
}

// JobStore mirrors jobs to durable storage
type JobStore interface {
	SaveJob(ctx context.Context, job *models.TrainingJob) error
	RecentJobs(ctx context.Context, limit int) ([]*models.TrainingJob, error)
}

// Engine runs training jobs in the background on a fixed pool of workers.
// The in-memory job map is authoritative; the store is a mirror.
type Engine struct {
	runner    Runner
	publisher events.Publisher
	store     JobStore
	metrics   *monitoring.Metrics
	logger    *zap.Logger

	mu      sync.RWMutex
	jobs    map[uuid.UUID]*models.TrainingJob
	queue   chan uuid.UUID
	workers int
	stop    chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithJobPublisher publishes job state changes
func WithJobPublisher(p events.Publisher) EngineOption {
	return func(e *Engine) { e.publisher = p }
}

// WithJobStore mirrors jobs to a store
func WithJobStore(s JobStore) EngineOption {
	return func(e *Engine) { e.store = s }
}

// WithEngineMetrics records job counters
func WithEngineMetrics(m *monitoring.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates a training engine. Call Start to launch the workers.
func NewEngine(cfg *config.Config, runner Runner, logger *zap.Logger, opts ...EngineOption) *Engine {
	workers := cfg.ML.Training.MaxConcurrentJobs
	if workers <= 0 {
		workers = 1
	}
	queueSize := cfg.ML.Training.QueueSize
	if queueSize <= 0 {
		queueSize = 16
	}
	e := &Engine{
		runner:    runner,
		publisher: events.Nop{},
		logger:    logger.With(zap.String("component", "training_engine")),
		jobs:      make(map[uuid.UUID]*models.TrainingJob),
		queue:     make(chan uuid.UUID, queueSize),
		workers:   workers,
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start launches the worker goroutines
func (e *Engine) Start() {
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.work(i)
	}
	e.logger.Info("Started training workers", zap.Int("worker_count", e.workers))
}

// Restore loads recent jobs from the store. Jobs that were still pending or
// running when the process stopped are marked failed.
func (e *Engine) Restore(ctx context.Context, limit int) error {
	if e.store == nil {
		return nil
	}
	jobs, err := e.store.RecentJobs(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to restore training jobs: %w", err)
	}

	e.mu.Lock()
	var interrupted []*models.TrainingJob
	for _, job := range jobs {
		if !job.Status.Terminal() {
			now := time.Now().UTC()
			job.Status = models.TrainingStatusFailed
			job.Error = "interrupted by service restart"
			job.CompletedAt = &now
			interrupted = append(interrupted, job.Clone())
		}
		e.jobs[job.ID] = job
	}
	e.mu.Unlock()

	for _, job := range interrupted {
		e.mirror(ctx, job)
	}
	e.logger.Info("Restored training jobs", zap.Int("count", len(jobs)), zap.Int("interrupted", len(interrupted)))
	return nil
}

// Submit registers a pending job and queues it. The job is visible to Get
// before any worker picks it up.
func (e *Engine) Submit(ctx context.Context, modelType models.ModelType, force bool) (*models.TrainingJob, error) {
	if !modelType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidModelType, modelType)
	}

	now := time.Now().UTC()
	job := &models.TrainingJob{
		ID:        uuid.New(),
		ModelType: modelType,
		Status:    models.TrainingStatusPending,
		Force:     force,
		CreatedAt: now,
		UpdatedAt: now,
	}

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil, ErrEngineStopped
	}
	e.jobs[job.ID] = job
	snapshot := job.Clone()
	e.mu.Unlock()

	// Mirror before queueing so the pending state is never recorded after running.
	e.mirror(ctx, snapshot)

	select {
	case e.queue <- job.ID:
	default:
		e.transition(ctx, job.ID, models.TrainingStatusFailed, func(j *models.TrainingJob) {
			now := time.Now().UTC()
			j.CompletedAt = &now
			j.Error = ErrQueueFull.Error()
		})
		return nil, ErrQueueFull
	}

	e.logger.Info("Training job submitted",
		zap.String("job_id", job.ID.String()),
		zap.String("model_type", string(modelType)),
		zap.Bool("force", force))
	return snapshot, nil
}

// Get returns a copy of a job
func (e *Engine) Get(id uuid.UUID) (*models.TrainingJob, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	job, ok := e.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

// List returns copies of every job, newest first
func (e *Engine) List() []*models.TrainingJob {
	e.mu.RLock()
	out := make([]*models.TrainingJob, 0, len(e.jobs))
	for _, job := range e.jobs {
		out = append(out, job.Clone())
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// QueuedJobs returns the number of jobs waiting for a worker
func (e *Engine) QueuedJobs() int {
	return len(e.queue)
}

// Shutdown stops accepting jobs and waits for running jobs to finish. Jobs
// still queued stay pending.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.logger.Info("Shutting down training engine")

	e.mu.Lock()
	if !e.stopped {
		e.stopped = true
		close(e.stop)
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	e.logger.Info("Training engine shutdown complete", zap.Int("queued", len(e.queue)))
	return nil
}

func (e *Engine) work(id int) {
	defer e.wg.Done()
	logger := e.logger.With(zap.Int("worker_id", id))
	logger.Debug("Training worker started")

	for {
		select {
		case <-e.stop:
			logger.Debug("Training worker stopped")
			return
		case jobID := <-e.queue:
			e.process(jobID)
		}
	}
}

// process runs one job. Training is detached from the submitting request.
func (e *Engine) process(id uuid.UUID) {
	ctx := context.Background()
	logger := e.logger.With(zap.String("job_id", id.String()))

	job, ok := e.transition(ctx, id, models.TrainingStatusRunning, func(j *models.TrainingJob) {
		now := time.Now().UTC()
		j.StartedAt = &now
	})
	if !ok {
		return
	}
	logger.Info("Processing training job", zap.String("model_type", string(job.ModelType)))
	e.metrics.JobStarted()
	start := time.Now()

	result, err := e.runner.Train(ctx, job.ModelType, job.Force)
	if err != nil {
		e.transition(ctx, id, models.TrainingStatusFailed, func(j *models.TrainingJob) {
			now := time.Now().UTC()
			j.CompletedAt = &now
			j.Error = err.Error()
			if result != nil {
				j.Models = result.Models
				j.Version = result.Version
			}
		})
		e.metrics.JobFinished(string(job.ModelType), string(models.TrainingStatusFailed), time.Since(start))
		logger.Error("Training job failed", zap.Error(err))
		return
	}

	e.transition(ctx, id, models.TrainingStatusCompleted, func(j *models.TrainingJob) {
		now := time.Now().UTC()
		samples := result.SamplesUsed
		j.CompletedAt = &now
		j.SamplesUsed = &samples
		j.Metrics = result.Metrics
		j.Version = result.Version
		j.Models = result.Models
	})
	e.metrics.JobFinished(string(job.ModelType), string(models.TrainingStatusCompleted), time.Since(start))
	logger.Info("Training job completed",
		zap.String("version", result.Version),
		zap.Int("samples", result.SamplesUsed),
		zap.Duration("duration", time.Since(start)))
}

// transition moves a job to next if allowed and mirrors the change. Terminal
// jobs never move again.
func (e *Engine) transition(ctx context.Context, id uuid.UUID, next models.TrainingStatus, mutate func(*models.TrainingJob)) (*models.TrainingJob, bool) {
	e.mu.Lock()
	job, ok := e.jobs[id]
	if !ok {
		e.mu.Unlock()
		return nil, false
	}
	if from := job.Status; !from.CanTransition(next) {
		e.mu.Unlock()
		e.logger.Warn("Rejected job transition",
			zap.String("job_id", id.String()),
			zap.String("from", string(from)),
			zap.String("to", string(next)))
		return nil, false
	}
	job.Status = next
	job.UpdatedAt = time.Now().UTC()
	if mutate != nil {
		mutate(job)
	}
	snapshot := job.Clone()
	e.mu.Unlock()

	e.mirror(ctx, snapshot)
	return snapshot, true
}

// mirror persists and publishes a job snapshot. Failures are logged only.
func (e *Engine) mirror(ctx context.Context, job *models.TrainingJob) {
	if e.store != nil {
		if err := e.store.SaveJob(ctx, job); err != nil {
			e.logger.Warn("Failed to persist training job", zap.String("job_id", job.ID.String()), zap.Error(err))
		}
	}
	if err := e.publisher.JobChanged(ctx, job); err != nil {
		e.logger.Warn("Failed to publish training job", zap.String("job_id", job.ID.String()), zap.Error(err))
	}
}

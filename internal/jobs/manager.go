package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"docgen-service/internal/cache"
	"docgen-service/internal/dispatch"
	"docgen-service/internal/entity"
	"docgen-service/internal/repository/postgresql"
)

const (
	// The pipeline stages: parse, generate, format/store, score, finalize.
	totalPipelineSteps = 5

	// Coarse default before queue-aware estimation kicks in.
	initialEstimate = 5 * time.Minute
)

// Manager owns job creation, status propagation from workers, cancellation
// and cache-expiry sweeps. All collaborators are injected.
type Manager struct {
	store      JobStore
	cache      JobCache
	dispatcher TaskDispatcher
	logger     *logrus.Logger
}

func NewManager(store JobStore, jobCache JobCache, dispatcher TaskDispatcher, logger *logrus.Logger) *Manager {
	return &Manager{
		store:      store,
		cache:      jobCache,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Submit creates a job and dispatches its pipeline. The durable write happens
// first and is the only fatal one: if it fails nothing is queued. Cache writes
// are best-effort; the read path degrades but the job still runs.
func (m *Manager) Submit(ctx context.Context, req *entity.SubmitRequest) (*entity.Job, error) {
	now := time.Now().UTC()
	job := &entity.Job{
		ID:          uuid.New(),
		TeamID:      req.TeamID,
		ServiceName: req.ServiceName,
		SpecFormat:  req.SpecFormat,
		Status:      entity.StatusQueued,
		CreatedAt:   now,
	}

	if err := m.store.Insert(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to insert job record: %w", err)
	}

	meta := &cache.Metadata{
		JobID:         job.ID,
		TeamID:        req.TeamID,
		ServiceName:   req.ServiceName,
		SpecFormat:    req.SpecFormat,
		OutputFormats: req.OutputFormats,
		Status:        entity.StatusQueued,
		CreatedAt:     now,
	}
	if err := m.cache.SetMetadata(ctx, meta); err != nil {
		m.logger.WithField("job_id", job.ID).WithError(err).Warn("failed to cache job metadata")
	}

	eta := now.Add(initialEstimate)
	progress := &entity.Progress{
		CurrentStep:         "Queued for processing",
		TotalSteps:          totalPipelineSteps,
		CompletedSteps:      0,
		EstimatedCompletion: &eta,
	}
	if err := m.cache.SetProgress(ctx, job.ID, progress); err != nil {
		m.logger.WithField("job_id", job.ID).WithError(err).Warn("failed to cache initial progress")
	}

	taskID, err := m.dispatcher.Enqueue(ctx, dispatch.TaskGenerateDocs, &dispatch.GenerationPayload{
		JobID:   job.ID,
		Request: *req,
	})
	if err != nil {
		// The durable record exists but no worker will ever pick it up. Mark it
		// failed so it does not sit in the queue forever, then surface the error.
		msg := fmt.Sprintf("failed to dispatch pipeline: %v", err)
		if termErr := m.store.MarkTerminal(ctx, job.ID, entity.StatusFailed, &msg, time.Now().UTC()); termErr != nil {
			m.logger.WithField("job_id", job.ID).WithError(termErr).Error("failed to mark undispatched job failed")
		}
		_ = m.cache.SetStatus(ctx, job.ID, entity.StatusFailed, nil)
		return nil, fmt.Errorf("failed to dispatch job %s: %w", job.ID, err)
	}
	if err := m.cache.SetTaskID(ctx, job.ID, taskID); err != nil {
		m.logger.WithField("job_id", job.ID).WithError(err).Warn("failed to record task handle")
	}

	m.logger.WithFields(logrus.Fields{
		"job_id":       job.ID,
		"team_id":      req.TeamID,
		"service_name": req.ServiceName,
		"spec_format":  req.SpecFormat,
		"task_id":      taskID,
	}).Info("job submitted")

	job.Progress = progress
	return job, nil
}

// BeginProcessing moves a job out of queued exactly once. It reports false
// when the job has been cancelled (or otherwise terminated) so the pipeline
// aborts before touching anything.
func (m *Manager) BeginProcessing(ctx context.Context, jobID uuid.UUID) (bool, error) {
	moved, err := m.store.MarkProcessing(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("failed to mark job %s processing: %w", jobID, err)
	}
	if moved {
		if err := m.cache.SetStatus(ctx, jobID, entity.StatusProcessing, nil); err != nil {
			m.logger.WithField("job_id", jobID).WithError(err).Warn("failed to cache processing status")
		}
		return true, nil
	}
	job, err := m.store.Get(ctx, jobID)
	if err != nil {
		return false, err
	}
	// Already processing: a re-delivered task may resume. Terminal: abort.
	return job.Status == entity.StatusProcessing, nil
}

// UpdateProgress overwrites the cache progress entry. Progress is ephemeral,
// so failures are logged and swallowed.
func (m *Manager) UpdateProgress(ctx context.Context, jobID uuid.UUID, p *entity.Progress) {
	if err := m.cache.SetProgress(ctx, jobID, p); err != nil {
		m.logger.WithFields(logrus.Fields{
			"job_id": jobID,
			"step":   p.CurrentStep,
		}).WithError(err).Warn("failed to update progress")
	}
}

// IsCancelled checks the durable record before a stage boundary.
func (m *Manager) IsCancelled(ctx context.Context, jobID uuid.UUID) (bool, error) {
	job, err := m.store.Get(ctx, jobID)
	if err != nil {
		return false, err
	}
	return job.Status == entity.StatusCancelled, nil
}

// Complete records the result payload and moves the job to completed. The
// guarded durable write decides the race against cancellation: if the job was
// cancelled meanwhile, nothing is overwritten and ErrInvalidTransition comes
// back so the caller can abort quietly.
func (m *Manager) Complete(ctx context.Context, jobID uuid.UUID, results json.RawMessage) error {
	completedAt := time.Now().UTC()
	if err := m.store.MarkTerminal(ctx, jobID, entity.StatusCompleted, nil, completedAt); err != nil {
		return err
	}
	if err := m.cache.SetResult(ctx, jobID, results); err != nil {
		m.logger.WithField("job_id", jobID).WithError(err).Warn("failed to cache job result")
	}
	if err := m.cache.SetStatus(ctx, jobID, entity.StatusCompleted, &completedAt); err != nil {
		m.logger.WithField("job_id", jobID).WithError(err).Warn("failed to cache completed status")
	}
	m.UpdateProgress(ctx, jobID, &entity.Progress{
		CurrentStep:         "Completed",
		TotalSteps:          totalPipelineSteps,
		CompletedSteps:      totalPipelineSteps,
		EstimatedCompletion: &completedAt,
	})
	m.logger.WithField("job_id", jobID).Info("job completed")
	return nil
}

// Fail records a pipeline failure on the job. Losing the race against
// cancellation is fine; the cancelled status stands.
func (m *Manager) Fail(ctx context.Context, jobID uuid.UUID, message string) error {
	completedAt := time.Now().UTC()
	err := m.store.MarkTerminal(ctx, jobID, entity.StatusFailed, &message, completedAt)
	if errors.Is(err, postgresql.ErrInvalidTransition) {
		m.logger.WithField("job_id", jobID).Info("job already terminal, failure not recorded")
		return nil
	}
	if err != nil {
		return err
	}
	if err := m.cache.SetStatus(ctx, jobID, entity.StatusFailed, &completedAt); err != nil {
		m.logger.WithField("job_id", jobID).WithError(err).Warn("failed to cache failed status")
	}
	m.logger.WithFields(logrus.Fields{
		"job_id": jobID,
		"error":  message,
	}).Warn("job failed")
	return nil
}

// Cancel revokes the dispatched task and moves an active job to cancelled.
// Cancelling a terminal job is an expected caller mistake: it reports false,
// mutates nothing and raises nothing.
func (m *Manager) Cancel(ctx context.Context, jobID uuid.UUID) (bool, error) {
	job, err := m.store.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, postgresql.ErrNotFound) {
			return false, postgresql.ErrNotFound
		}
		return false, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if job.Status.IsTerminal() {
		return false, nil
	}

	// Best-effort interrupt. Actual task termination is asynchronous; the
	// pipeline re-checks cancellation at every stage boundary.
	if meta, err := m.cache.GetMetadata(ctx, jobID); err == nil && meta != nil && meta.TaskID != "" {
		if err := m.dispatcher.Revoke(ctx, meta.TaskID); err != nil {
			m.logger.WithFields(logrus.Fields{
				"job_id":  jobID,
				"task_id": meta.TaskID,
			}).WithError(err).Warn("failed to revoke task")
		}
	}

	completedAt := time.Now().UTC()
	err = m.store.MarkTerminal(ctx, jobID, entity.StatusCancelled, nil, completedAt)
	if errors.Is(err, postgresql.ErrInvalidTransition) {
		// Raced to terminal between the read and the write.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := m.cache.SetStatus(ctx, jobID, entity.StatusCancelled, &completedAt); err != nil {
		m.logger.WithField("job_id", jobID).WithError(err).Warn("failed to cache cancelled status")
	}
	m.logger.WithField("job_id", jobID).Info("job cancelled")
	return true, nil
}

// CleanupExpired deletes cache entries older than maxAge: metadata, progress
// and result keys. Durable records are never touched. Matching is purely by
// age, so the sweep is idempotent and safe next to live traffic.
func (m *Manager) CleanupExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	cleaned := 0
	err := m.cache.ForEachMetadata(ctx, func(meta *cache.Metadata) error {
		if !meta.CreatedAt.Before(cutoff) {
			return nil
		}
		if err := m.cache.Delete(ctx, meta.JobID); err != nil {
			m.logger.WithField("job_id", meta.JobID).WithError(err).Warn("failed to delete expired entry")
			return nil
		}
		cleaned++
		return nil
	})
	if err != nil {
		return cleaned, fmt.Errorf("cleanup sweep failed: %w", err)
	}
	if cleaned > 0 {
		m.logger.WithField("cleaned", cleaned).Info("expired job cache entries removed")
	}
	return cleaned, nil
}

package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"docgen-service/internal/cache"
	"docgen-service/internal/entity"
	"docgen-service/internal/repository/postgresql"
)

const (
	estimationWindow    = 7 * 24 * time.Hour
	estimationSample    = 50
	defaultMeanDuration = 300 * time.Second
)

// Tracker is the read side: it reconciles cache and durable store into one
// view, estimates completion times and aggregates queue statistics.
type Tracker struct {
	store         JobStore
	cache         JobCache
	maxConcurrent int
	logger        *logrus.Logger
}

func NewTracker(store JobStore, jobCache JobCache, maxConcurrent int, logger *logrus.Logger) *Tracker {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Tracker{
		store:         store,
		cache:         jobCache,
		maxConcurrent: maxConcurrent,
		logger:        logger,
	}
}

// GetStatus returns the current view of one job, or nil if no record exists
// anywhere. The cache is consulted first; on a miss (expired or degraded) the
// durable record is returned without progress detail, which only ever lives
// in the cache.
func (t *Tracker) GetStatus(ctx context.Context, jobID uuid.UUID) (*entity.Job, error) {
	meta, err := t.cache.GetMetadata(ctx, jobID)
	if err != nil {
		t.logger.WithField("job_id", jobID).WithError(err).Warn("cache read failed, falling back to store")
		meta = nil
	}
	if meta == nil {
		job, err := t.store.Get(ctx, jobID)
		if errors.Is(err, postgresql.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
		}
		return job, nil
	}

	job := jobFromMetadata(meta)

	if progress, err := t.cache.GetProgress(ctx, jobID); err == nil {
		job.Progress = progress
	} else {
		t.logger.WithField("job_id", jobID).WithError(err).Warn("failed to read progress")
	}

	switch job.Status {
	case entity.StatusCompleted:
		if results, err := t.cache.GetResult(ctx, jobID); err == nil {
			job.Results = results
		} else {
			t.logger.WithField("job_id", jobID).WithError(err).Warn("failed to read result payload")
		}
	case entity.StatusFailed:
		// The error message lives on the durable record only.
		if stored, err := t.store.Get(ctx, jobID); err == nil {
			job.ErrorMessage = stored.ErrorMessage
			job.CompletedAt = stored.CompletedAt
		}
	}
	return job, nil
}

// GetHistory lists jobs newest first from the durable store, joined with
// whatever progress and result data the cache still holds.
func (t *Tracker) GetHistory(ctx context.Context, filter entity.HistoryFilter, limit int) ([]*entity.Job, error) {
	listed, err := t.store.ListByOwner(ctx, filter, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list job history: %w", err)
	}
	for _, job := range listed {
		t.attachCached(ctx, job)
	}
	return listed, nil
}

// GetActiveJobs returns queued and processing jobs oldest first.
func (t *Tracker) GetActiveJobs(ctx context.Context) ([]*entity.Job, error) {
	active, err := t.store.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active jobs: %w", err)
	}
	for _, job := range active {
		if progress, err := t.cache.GetProgress(ctx, job.ID); err == nil {
			job.Progress = progress
		}
	}
	return active, nil
}

// EstimateCompletion is advisory. Terminal jobs report their actual
// completion time; a processing job reports the worker's own estimate; a
// queued job is modeled against a shared-capacity pool fed oldest first.
func (t *Tracker) EstimateCompletion(ctx context.Context, jobID uuid.UUID) (*time.Time, error) {
	job, err := t.store.Get(ctx, jobID)
	if errors.Is(err, postgresql.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}

	switch job.Status {
	case entity.StatusCompleted, entity.StatusFailed, entity.StatusCancelled:
		return job.CompletedAt, nil

	case entity.StatusProcessing:
		// The worker has first-hand knowledge of its own pace.
		progress, err := t.cache.GetProgress(ctx, jobID)
		if err == nil && progress != nil && progress.EstimatedCompletion != nil {
			return progress.EstimatedCompletion, nil
		}
		return nil, nil

	case entity.StatusQueued:
		ahead, err := t.store.CountActiveBefore(ctx, job.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to count queue position: %w", err)
		}
		mean := t.meanProcessingTime(ctx)
		wait := time.Duration(ahead) * mean / time.Duration(t.maxConcurrent)
		estimate := time.Now().UTC().Add(wait + mean)
		return &estimate, nil
	}
	return nil, nil
}

// GetQueueStatus aggregates the active set into the operator-facing
// backpressure signal.
func (t *Tracker) GetQueueStatus(ctx context.Context) (*entity.QueueStatus, error) {
	active, err := t.store.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active jobs: %w", err)
	}

	status := &entity.QueueStatus{MaxConcurrentJobs: t.maxConcurrent}
	var oldestQueued *entity.Job
	for _, job := range active {
		switch job.Status {
		case entity.StatusQueued:
			status.QueuedCount++
			if oldestQueued == nil {
				oldestQueued = job // active set is ordered oldest first
			}
		case entity.StatusProcessing:
			status.ProcessingCount++
		}
	}
	status.LoadPercentage = float64(status.ProcessingCount) / float64(t.maxConcurrent) * 100
	if oldestQueued != nil {
		age := time.Since(oldestQueued.CreatedAt).Seconds()
		status.OldestQueuedSecs = &age
	}
	mean := t.meanProcessingTime(ctx)
	status.EstimatedWaitSecs = (time.Duration(status.QueuedCount) * mean / time.Duration(t.maxConcurrent)).Seconds()
	return status, nil
}

// GetStatistics aggregates job outcomes over the trailing window.
func (t *Tracker) GetStatistics(ctx context.Context, teamID string, days int) (*entity.Statistics, error) {
	if days <= 0 {
		days = 7
	}
	since := time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	listed, err := t.store.ListCreatedSince(ctx, since, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs for statistics: %w", err)
	}

	stats := &entity.Statistics{PeriodDays: days, TotalJobs: len(listed)}
	var durations []float64
	for _, job := range listed {
		switch job.Status {
		case entity.StatusCompleted:
			stats.CompletedJobs++
			if job.CompletedAt != nil {
				durations = append(durations, job.CompletedAt.Sub(job.CreatedAt).Seconds())
			}
		case entity.StatusFailed:
			stats.FailedJobs++
		case entity.StatusCancelled:
			stats.CancelledJobs++
		case entity.StatusProcessing:
			stats.ProcessingJobs++
		case entity.StatusQueued:
			stats.QueuedJobs++
		}
	}
	if stats.TotalJobs > 0 {
		stats.SuccessRate = float64(stats.CompletedJobs) / float64(stats.TotalJobs) * 100
	}
	if len(durations) > 0 {
		var sum float64
		for _, d := range durations {
			sum += d
		}
		avg := sum / float64(len(durations))
		stats.AvgProcessingSecs = &avg
	}
	return stats, nil
}

// meanProcessingTime samples recent completed jobs; without history it falls
// back to a fixed default rather than guessing from nothing.
func (t *Tracker) meanProcessingTime(ctx context.Context) time.Duration {
	recent, err := t.store.ListCompletedSince(ctx, time.Now().UTC().Add(-estimationWindow), estimationSample)
	if err != nil {
		t.logger.WithError(err).Warn("failed to sample completed jobs for estimation")
		return defaultMeanDuration
	}
	var sum time.Duration
	var n int
	for _, job := range recent {
		if job.CompletedAt == nil {
			continue
		}
		sum += job.CompletedAt.Sub(job.CreatedAt)
		n++
	}
	if n == 0 {
		return defaultMeanDuration
	}
	return sum / time.Duration(n)
}

func (t *Tracker) attachCached(ctx context.Context, job *entity.Job) {
	if progress, err := t.cache.GetProgress(ctx, job.ID); err == nil && progress != nil {
		job.Progress = progress
	}
	if job.Status == entity.StatusCompleted {
		if results, err := t.cache.GetResult(ctx, job.ID); err == nil && results != nil {
			job.Results = results
		}
	}
}

func jobFromMetadata(meta *cache.Metadata) *entity.Job {
	return &entity.Job{
		ID:          meta.JobID,
		TeamID:      meta.TeamID,
		ServiceName: meta.ServiceName,
		SpecFormat:  meta.SpecFormat,
		Status:      meta.Status,
		CreatedAt:   meta.CreatedAt,
		CompletedAt: meta.CompletedAt,
	}
}

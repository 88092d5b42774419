package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"docgen-service/internal/entity"
	"docgen-service/internal/repository/postgresql"
)

var (
	ErrJobNotFound      = errors.New("job not found")
	ErrInvalidRequest   = errors.New("invalid job request")
	ErrSubmissionFailed = errors.New("job submission failed")
)

// Manager is the write side of the job engine (implemented by jobs.Manager).
type Manager interface {
	Submit(ctx context.Context, req *entity.SubmitRequest) (*entity.Job, error)
	Cancel(ctx context.Context, jobID uuid.UUID) (bool, error)
	CleanupExpired(ctx context.Context, maxAge time.Duration) (int, error)
}

// Tracker is the read side (implemented by jobs.Tracker).
type Tracker interface {
	GetStatus(ctx context.Context, jobID uuid.UUID) (*entity.Job, error)
	GetHistory(ctx context.Context, filter entity.HistoryFilter, limit int) ([]*entity.Job, error)
	GetActiveJobs(ctx context.Context) ([]*entity.Job, error)
	EstimateCompletion(ctx context.Context, jobID uuid.UUID) (*time.Time, error)
	GetQueueStatus(ctx context.Context) (*entity.QueueStatus, error)
	GetStatistics(ctx context.Context, teamID string, days int) (*entity.Statistics, error)
}

// JobService is the single contract the API layer consumes: Manager and
// Tracker behind one façade, with request validation and error translation.
type JobService struct {
	manager Manager
	tracker Tracker
	logger  *logrus.Logger
}

func NewJobService(manager Manager, tracker Tracker, logger *logrus.Logger) *JobService {
	return &JobService{manager: manager, tracker: tracker, logger: logger}
}

// Submit validates and submits a documentation-generation job. The returned
// job carries a queue-aware completion estimate when one is available.
func (s *JobService) Submit(ctx context.Context, req *entity.SubmitRequest) (*entity.Job, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	job, err := s.manager.Submit(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSubmissionFailed, err)
	}

	s.refreshEstimate(ctx, job)
	return job, nil
}

// GetStatus returns the job or nil when no record exists anywhere. Absence is
// an expected answer, not an error.
func (s *JobService) GetStatus(ctx context.Context, jobID uuid.UUID) (*entity.Job, error) {
	job, err := s.tracker.GetStatus(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get job status: %w", err)
	}
	if job == nil {
		return nil, nil
	}
	if !job.Status.IsTerminal() {
		s.refreshEstimate(ctx, job)
	}
	return job, nil
}

// Cancel reports false when the job is already terminal and ErrJobNotFound
// when it never existed; both are caller mistakes, not system faults.
func (s *JobService) Cancel(ctx context.Context, jobID uuid.UUID) (bool, error) {
	ok, err := s.manager.Cancel(ctx, jobID)
	if errors.Is(err, postgresql.ErrNotFound) {
		return false, ErrJobNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to cancel job: %w", err)
	}
	return ok, nil
}

func (s *JobService) GetHistory(ctx context.Context, filter entity.HistoryFilter, limit int) ([]*entity.Job, error) {
	return s.tracker.GetHistory(ctx, filter, limit)
}

func (s *JobService) GetActiveJobs(ctx context.Context) ([]*entity.Job, error) {
	return s.tracker.GetActiveJobs(ctx)
}

func (s *JobService) GetQueueStatus(ctx context.Context) (*entity.QueueStatus, error) {
	return s.tracker.GetQueueStatus(ctx)
}

func (s *JobService) GetStatistics(ctx context.Context, teamID string, days int) (*entity.Statistics, error) {
	return s.tracker.GetStatistics(ctx, teamID, days)
}

func (s *JobService) CleanupExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	return s.manager.CleanupExpired(ctx, maxAge)
}

// refreshEstimate is best-effort: estimation is advisory and never fails a
// read or a submission.
func (s *JobService) refreshEstimate(ctx context.Context, job *entity.Job) {
	estimate, err := s.tracker.EstimateCompletion(ctx, job.ID)
	if err != nil {
		s.logger.WithField("job_id", job.ID).WithError(err).Warn("failed to estimate completion")
		return
	}
	if estimate != nil && job.Progress != nil {
		job.Progress.EstimatedCompletion = estimate
	}
}

func validateRequest(req *entity.SubmitRequest) error {
	if req == nil {
		return fmt.Errorf("%w: request is nil", ErrInvalidRequest)
	}
	if len(req.Specification) == 0 {
		return fmt.Errorf("%w: specification is required", ErrInvalidRequest)
	}
	if !req.SpecFormat.Valid() {
		return fmt.Errorf("%w: unknown spec format %q", ErrInvalidRequest, req.SpecFormat)
	}
	if len(req.OutputFormats) == 0 {
		return fmt.Errorf("%w: at least one output format is required", ErrInvalidRequest)
	}
	for _, f := range req.OutputFormats {
		if !f.Valid() {
			return fmt.Errorf("%w: unknown output format %q", ErrInvalidRequest, f)
		}
	}
	if req.TeamID == "" {
		return fmt.Errorf("%w: team_id is required", ErrInvalidRequest)
	}
	if req.ServiceName == "" {
		return fmt.Errorf("%w: service_name is required", ErrInvalidRequest)
	}
	return nil
}

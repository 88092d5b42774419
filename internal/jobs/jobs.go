// Package jobs owns the lifecycle of documentation-generation jobs: submission,
// pipeline execution, status tracking, cancellation and cache expiry.
//
// Jobs move forward only: queued -> processing -> completed | failed, with
// cancellation legal from either active status. The durable store is the
// source of truth; the cache is the fast read path and the progress channel
// from workers back to the API tier.
package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"docgen-service/internal/cache"
	"docgen-service/internal/entity"
)

// JobStore is the durable record of jobs. Implemented by
// postgresql.JobRepository; assumed to retry transient failures internally.
type JobStore interface {
	Insert(ctx context.Context, job *entity.Job) error
	Get(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error)
	MarkTerminal(ctx context.Context, id uuid.UUID, status entity.JobStatus, errMsg *string, completedAt time.Time) error
	ListByOwner(ctx context.Context, filter entity.HistoryFilter, limit int) ([]*entity.Job, error)
	ListActive(ctx context.Context) ([]*entity.Job, error)
	CountActiveBefore(ctx context.Context, createdAt time.Time) (int, error)
	ListCompletedSince(ctx context.Context, since time.Time, limit int) ([]*entity.Job, error)
	ListCreatedSince(ctx context.Context, since time.Time, teamID string) ([]*entity.Job, error)
}

// JobCache is the ephemeral TTL store. Reads return nil for absent entries;
// an empty cache is never an error.
type JobCache interface {
	SetMetadata(ctx context.Context, meta *cache.Metadata) error
	GetMetadata(ctx context.Context, jobID uuid.UUID) (*cache.Metadata, error)
	SetStatus(ctx context.Context, jobID uuid.UUID, status entity.JobStatus, completedAt *time.Time) error
	SetTaskID(ctx context.Context, jobID uuid.UUID, taskID string) error
	SetProgress(ctx context.Context, jobID uuid.UUID, p *entity.Progress) error
	GetProgress(ctx context.Context, jobID uuid.UUID) (*entity.Progress, error)
	SetResult(ctx context.Context, jobID uuid.UUID, result json.RawMessage) error
	GetResult(ctx context.Context, jobID uuid.UUID) (json.RawMessage, error)
	Delete(ctx context.Context, jobID uuid.UUID) error
	ForEachMetadata(ctx context.Context, fn func(*cache.Metadata) error) error
}

// TaskDispatcher hands pipeline runs to worker processes.
type TaskDispatcher interface {
	Enqueue(ctx context.Context, taskType string, payload any) (string, error)
	Revoke(ctx context.Context, taskID string) error
}

package postgresql

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"docgen-service/internal/entity"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition means the guarded update matched no row because the
	// job is already in a terminal status. The state machine is enforced in SQL:
	// terminal writes only ever apply to active rows, so a job can never move
	// backward no matter how the callers race.
	ErrInvalidTransition = errors.New("invalid status transition")
)

const maxHistoryLimit = 100

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

func (r *JobRepository) Insert(ctx context.Context, job *entity.Job) error {
	const q = `
INSERT INTO documentation_jobs (id, team_id, service_name, spec_format, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6);
`
	_, err := r.pool.Exec(ctx, q,
		job.ID, job.TeamID, job.ServiceName, string(job.SpecFormat), string(job.Status), job.CreatedAt)
	return err
}

func (r *JobRepository) Get(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	const q = `
SELECT id, team_id, service_name, spec_format, status, error_message, created_at, completed_at
FROM documentation_jobs
WHERE id = $1;
`
	job, err := scanJob(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// MarkProcessing performs the one legal forward transition out of queued.
// It reports false without error when the job is no longer queued, which the
// pipeline treats as "check current status before touching anything".
func (r *JobRepository) MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	const q = `UPDATE documentation_jobs SET status='processing' WHERE id=$1 AND status='queued';`

	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkTerminal moves an active job into a terminal status and stamps
// completed_at in the same statement. Rows already terminal are left untouched.
func (r *JobRepository) MarkTerminal(ctx context.Context, id uuid.UUID, status entity.JobStatus, errMsg *string, completedAt time.Time) error {
	if !status.IsTerminal() {
		return ErrInvalidTransition
	}
	const q = `
UPDATE documentation_jobs
SET status=$2, error_message=$3, completed_at=$4
WHERE id=$1 AND status IN ('queued', 'processing');
`
	tag, err := r.pool.Exec(ctx, q, id, string(status), errMsg, completedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.Get(ctx, id); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrInvalidTransition
	}
	return nil
}

// ListByOwner returns jobs newest first, optionally filtered by team and
// service. The limit is capped server-side.
func (r *JobRepository) ListByOwner(ctx context.Context, filter entity.HistoryFilter, limit int) ([]*entity.Job, error) {
	if limit <= 0 || limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	const q = `
SELECT id, team_id, service_name, spec_format, status, error_message, created_at, completed_at
FROM documentation_jobs
WHERE ($1 = '' OR team_id = $1)
  AND ($2 = '' OR service_name = $2)
ORDER BY created_at DESC
LIMIT $3;
`
	rows, err := r.pool.Query(ctx, q, filter.TeamID, filter.ServiceName, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

// ListActive returns queued and processing jobs oldest first. This ordering is
// the basis for queue-position estimation.
func (r *JobRepository) ListActive(ctx context.Context) ([]*entity.Job, error) {
	const q = `
SELECT id, team_id, service_name, spec_format, status, error_message, created_at, completed_at
FROM documentation_jobs
WHERE status IN ('queued', 'processing')
ORDER BY created_at ASC;
`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

// CountActiveBefore counts active jobs created strictly earlier than the given
// time, i.e. the queue position of a job created at that instant.
func (r *JobRepository) CountActiveBefore(ctx context.Context, createdAt time.Time) (int, error) {
	const q = `
SELECT COUNT(*)
FROM documentation_jobs
WHERE status IN ('queued', 'processing') AND created_at < $1;
`
	var n int
	if err := r.pool.QueryRow(ctx, q, createdAt).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// ListCompletedSince returns up to limit completed jobs finished after the
// cutoff, used as the throughput sample for wait estimation.
func (r *JobRepository) ListCompletedSince(ctx context.Context, since time.Time, limit int) ([]*entity.Job, error) {
	const q = `
SELECT id, team_id, service_name, spec_format, status, error_message, created_at, completed_at
FROM documentation_jobs
WHERE status = 'completed' AND completed_at >= $1
ORDER BY completed_at DESC
LIMIT $2;
`
	rows, err := r.pool.Query(ctx, q, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

// ListCreatedSince returns all jobs created after the cutoff, optionally
// filtered by team, for statistics aggregation.
func (r *JobRepository) ListCreatedSince(ctx context.Context, since time.Time, teamID string) ([]*entity.Job, error) {
	const q = `
SELECT id, team_id, service_name, spec_format, status, error_message, created_at, completed_at
FROM documentation_jobs
WHERE created_at >= $1 AND ($2 = '' OR team_id = $2)
ORDER BY created_at DESC;
`
	rows, err := r.pool.Query(ctx, q, since, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

func scanJob(row pgx.Row) (*entity.Job, error) {
	var (
		job         entity.Job
		format      string
		statusText  string
		errText     *string
		completedAt *time.Time
	)
	if err := row.Scan(
		&job.ID,
		&job.TeamID,
		&job.ServiceName,
		&format,
		&statusText,
		&errText,
		&job.CreatedAt,
		&completedAt,
	); err != nil {
		return nil, err
	}
	job.SpecFormat = entity.SpecFormat(format)
	job.Status = entity.JobStatus(statusText)
	job.ErrorMessage = errText
	job.CompletedAt = completedAt
	return &job, nil
}

func scanJobs(rows pgx.Rows) ([]*entity.Job, error) {
	var jobs []*entity.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

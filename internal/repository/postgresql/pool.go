package postgresql

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS documentation_jobs (
	id            UUID PRIMARY KEY,
	team_id       TEXT NOT NULL,
	service_name  TEXT NOT NULL,
	spec_format   TEXT NOT NULL,
	status        TEXT NOT NULL,
	error_message TEXT,
	created_at    TIMESTAMPTZ NOT NULL,
	completed_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_jobs_team_created ON documentation_jobs (team_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON documentation_jobs (status, created_at);
`

func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return pool, nil
}

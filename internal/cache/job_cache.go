package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"docgen-service/internal/entity"
)

const (
	metaKeyPrefix     = "job:meta:"
	progressKeyPrefix = "job:progress:"
	resultKeyPrefix   = "job:result:"

	scanBatch = 100
)

// Metadata is the cached, fast-read-path view of a job. It mirrors the durable
// record plus the dispatcher task handle needed for revocation. Hash
// serialization is confined to this package; callers only see the struct.
type Metadata struct {
	JobID         uuid.UUID
	TeamID        string
	ServiceName   string
	SpecFormat    entity.SpecFormat
	OutputFormats []entity.OutputFormat
	Status        entity.JobStatus
	TaskID        string
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

// JobCache stores per-job metadata, progress and results in Redis with a TTL.
// Every read treats an absent key as a nil result, never an error: keys can
// expire at any moment.
type JobCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(rdb *redis.Client, ttl time.Duration) *JobCache {
	return &JobCache{rdb: rdb, ttl: ttl}
}

func (c *JobCache) SetMetadata(ctx context.Context, meta *Metadata) error {
	formats := make([]string, 0, len(meta.OutputFormats))
	for _, f := range meta.OutputFormats {
		formats = append(formats, string(f))
	}
	fields := map[string]string{
		"job_id":         meta.JobID.String(),
		"team_id":        meta.TeamID,
		"service_name":   meta.ServiceName,
		"spec_format":    string(meta.SpecFormat),
		"output_formats": strings.Join(formats, ","),
		"status":         string(meta.Status),
		"created_at":     meta.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if meta.TaskID != "" {
		fields["task_id"] = meta.TaskID
	}
	if meta.CompletedAt != nil {
		fields["completed_at"] = meta.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	key := metaKeyPrefix + meta.JobID.String()
	if err := c.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return err
	}
	return c.rdb.Expire(ctx, key, c.ttl).Err()
}

func (c *JobCache) GetMetadata(ctx context.Context, jobID uuid.UUID) (*Metadata, error) {
	data, err := c.rdb.HGetAll(ctx, metaKeyPrefix+jobID.String()).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	return parseMetadata(data)
}

// SetStatus updates only the lifecycle fields of an existing metadata entry.
// Missing entries are ignored: the durable store already holds the truth.
func (c *JobCache) SetStatus(ctx context.Context, jobID uuid.UUID, status entity.JobStatus, completedAt *time.Time) error {
	key := metaKeyPrefix + jobID.String()
	n, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	fields := map[string]string{"status": string(status)}
	if completedAt != nil {
		fields["completed_at"] = completedAt.UTC().Format(time.RFC3339Nano)
	}
	return c.rdb.HSet(ctx, key, fields).Err()
}

// SetTaskID records the dispatcher handle so cancellation can revoke the task.
func (c *JobCache) SetTaskID(ctx context.Context, jobID uuid.UUID, taskID string) error {
	return c.rdb.HSet(ctx, metaKeyPrefix+jobID.String(), "task_id", taskID).Err()
}

func (c *JobCache) SetProgress(ctx context.Context, jobID uuid.UUID, p *entity.Progress) error {
	fields := map[string]string{
		"current_step":    p.CurrentStep,
		"total_steps":     strconv.Itoa(p.TotalSteps),
		"completed_steps": strconv.Itoa(p.CompletedSteps),
	}
	if p.EstimatedCompletion != nil {
		fields["estimated_completion"] = p.EstimatedCompletion.UTC().Format(time.RFC3339Nano)
	}
	key := progressKeyPrefix + jobID.String()
	if err := c.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return err
	}
	return c.rdb.Expire(ctx, key, c.ttl).Err()
}

func (c *JobCache) GetProgress(ctx context.Context, jobID uuid.UUID) (*entity.Progress, error) {
	data, err := c.rdb.HGetAll(ctx, progressKeyPrefix+jobID.String()).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	total, err := strconv.Atoi(data["total_steps"])
	if err != nil {
		return nil, fmt.Errorf("bad progress entry for %s: %w", jobID, err)
	}
	completed, err := strconv.Atoi(data["completed_steps"])
	if err != nil {
		return nil, fmt.Errorf("bad progress entry for %s: %w", jobID, err)
	}
	p := &entity.Progress{
		CurrentStep:    data["current_step"],
		TotalSteps:     total,
		CompletedSteps: completed,
	}
	if v, ok := data["estimated_completion"]; ok && v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("bad progress entry for %s: %w", jobID, err)
		}
		p.EstimatedCompletion = &t
	}
	return p, nil
}

func (c *JobCache) SetResult(ctx context.Context, jobID uuid.UUID, result json.RawMessage) error {
	return c.rdb.Set(ctx, resultKeyPrefix+jobID.String(), []byte(result), c.ttl).Err()
}

func (c *JobCache) GetResult(ctx context.Context, jobID uuid.UUID) (json.RawMessage, error) {
	data, err := c.rdb.Get(ctx, resultKeyPrefix+jobID.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return json.RawMessage(data), nil
}

// Delete removes the metadata, progress and result keys for one job.
func (c *JobCache) Delete(ctx context.Context, jobID uuid.UUID) error {
	id := jobID.String()
	return c.rdb.Del(ctx, metaKeyPrefix+id, progressKeyPrefix+id, resultKeyPrefix+id).Err()
}

// ForEachMetadata walks all cached metadata entries with SCAN. Entries that
// fail to parse are skipped; the sweep should not stop on one bad key.
func (c *JobCache) ForEachMetadata(ctx context.Context, fn func(*Metadata) error) error {
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, metaKeyPrefix+"*", scanBatch).Result()
		if err != nil {
			return err
		}
		for _, key := range keys {
			data, err := c.rdb.HGetAll(ctx, key).Result()
			if err != nil {
				return err
			}
			if len(data) == 0 {
				continue
			}
			meta, err := parseMetadata(data)
			if err != nil {
				continue
			}
			if err := fn(meta); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (c *JobCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func parseMetadata(data map[string]string) (*Metadata, error) {
	id, err := uuid.Parse(data["job_id"])
	if err != nil {
		return nil, fmt.Errorf("bad metadata entry: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, data["created_at"])
	if err != nil {
		return nil, fmt.Errorf("bad metadata entry for %s: %w", id, err)
	}
	meta := &Metadata{
		JobID:       id,
		TeamID:      data["team_id"],
		ServiceName: data["service_name"],
		SpecFormat:  entity.SpecFormat(data["spec_format"]),
		Status:      entity.JobStatus(data["status"]),
		TaskID:      data["task_id"],
		CreatedAt:   createdAt,
	}
	if v := data["output_formats"]; v != "" {
		for _, f := range strings.Split(v, ",") {
			meta.OutputFormats = append(meta.OutputFormats, entity.OutputFormat(f))
		}
	}
	if v := data["completed_at"]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("bad metadata entry for %s: %w", id, err)
		}
		meta.CompletedAt = &t
	}
	return meta, nil
}

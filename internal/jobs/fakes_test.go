package jobs_test

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"docgen-service/internal/cache"
	"docgen-service/internal/entity"
	"docgen-service/internal/repository/postgresql"
)

// fakeStore mimics the repository's guarded transitions in memory.
type fakeStore struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]*entity.Job
	insertErr error
	getErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: map[uuid.UUID]*entity.Job{}}
}

func (s *fakeStore) put(job *entity.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.ID] = &cp
}

func (s *fakeStore) Insert(ctx context.Context, job *entity.Job) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.put(job)
	return nil
}

func (s *fakeStore) Get(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, postgresql.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *fakeStore) MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != entity.StatusQueued {
		return false, nil
	}
	job.Status = entity.StatusProcessing
	return true, nil
}

func (s *fakeStore) MarkTerminal(ctx context.Context, id uuid.UUID, status entity.JobStatus, errMsg *string, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return postgresql.ErrNotFound
	}
	if job.Status.IsTerminal() {
		return postgresql.ErrInvalidTransition
	}
	job.Status = status
	job.ErrorMessage = errMsg
	job.CompletedAt = &completedAt
	return nil
}

func (s *fakeStore) ListByOwner(ctx context.Context, filter entity.HistoryFilter, limit int) ([]*entity.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var listed []*entity.Job
	for _, job := range s.jobs {
		if filter.TeamID != "" && job.TeamID != filter.TeamID {
			continue
		}
		if filter.ServiceName != "" && job.ServiceName != filter.ServiceName {
			continue
		}
		cp := *job
		listed = append(listed, &cp)
	}
	sort.Slice(listed, func(i, j int) bool { return listed[i].CreatedAt.After(listed[j].CreatedAt) })
	if limit > 0 && len(listed) > limit {
		listed = listed[:limit]
	}
	return listed, nil
}

func (s *fakeStore) ListActive(ctx context.Context) ([]*entity.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var active []*entity.Job
	for _, job := range s.jobs {
		if job.Status == entity.StatusQueued || job.Status == entity.StatusProcessing {
			cp := *job
			active = append(active, &cp)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].CreatedAt.Before(active[j].CreatedAt) })
	return active, nil
}

func (s *fakeStore) CountActiveBefore(ctx context.Context, createdAt time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, job := range s.jobs {
		if (job.Status == entity.StatusQueued || job.Status == entity.StatusProcessing) && job.CreatedAt.Before(createdAt) {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) ListCompletedSince(ctx context.Context, since time.Time, limit int) ([]*entity.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var listed []*entity.Job
	for _, job := range s.jobs {
		if job.Status == entity.StatusCompleted && job.CompletedAt != nil && !job.CompletedAt.Before(since) {
			cp := *job
			listed = append(listed, &cp)
		}
	}
	if limit > 0 && len(listed) > limit {
		listed = listed[:limit]
	}
	return listed, nil
}

func (s *fakeStore) ListCreatedSince(ctx context.Context, since time.Time, teamID string) ([]*entity.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var listed []*entity.Job
	for _, job := range s.jobs {
		if job.CreatedAt.Before(since) {
			continue
		}
		if teamID != "" && job.TeamID != teamID {
			continue
		}
		cp := *job
		listed = append(listed, &cp)
	}
	return listed, nil
}

// fakeCache is an in-memory stand-in for the Redis cache.
type fakeCache struct {
	mu       sync.Mutex
	meta     map[uuid.UUID]*cache.Metadata
	progress map[uuid.UUID]*entity.Progress
	results  map[uuid.UUID]json.RawMessage

	metaErr     error
	progressErr error
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		meta:     map[uuid.UUID]*cache.Metadata{},
		progress: map[uuid.UUID]*entity.Progress{},
		results:  map[uuid.UUID]json.RawMessage{},
	}
}

func (c *fakeCache) SetMetadata(ctx context.Context, meta *cache.Metadata) error {
	if c.metaErr != nil {
		return c.metaErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *meta
	c.meta[meta.JobID] = &cp
	return nil
}

func (c *fakeCache) GetMetadata(ctx context.Context, jobID uuid.UUID) (*cache.Metadata, error) {
	if c.metaErr != nil {
		return nil, c.metaErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	meta, ok := c.meta[jobID]
	if !ok {
		return nil, nil
	}
	cp := *meta
	return &cp, nil
}

func (c *fakeCache) SetStatus(ctx context.Context, jobID uuid.UUID, status entity.JobStatus, completedAt *time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if meta, ok := c.meta[jobID]; ok {
		meta.Status = status
		if completedAt != nil {
			meta.CompletedAt = completedAt
		}
	}
	return nil
}

func (c *fakeCache) SetTaskID(ctx context.Context, jobID uuid.UUID, taskID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if meta, ok := c.meta[jobID]; ok {
		meta.TaskID = taskID
	}
	return nil
}

func (c *fakeCache) SetProgress(ctx context.Context, jobID uuid.UUID, p *entity.Progress) error {
	if c.progressErr != nil {
		return c.progressErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *p
	c.progress[jobID] = &cp
	return nil
}

func (c *fakeCache) GetProgress(ctx context.Context, jobID uuid.UUID) (*entity.Progress, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.progress[jobID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (c *fakeCache) SetResult(ctx context.Context, jobID uuid.UUID, result json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[jobID] = result
	return nil
}

func (c *fakeCache) GetResult(ctx context.Context, jobID uuid.UUID) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.results[jobID], nil
}

func (c *fakeCache) Delete(ctx context.Context, jobID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.meta, jobID)
	delete(c.progress, jobID)
	delete(c.results, jobID)
	return nil
}

func (c *fakeCache) ForEachMetadata(ctx context.Context, fn func(*cache.Metadata) error) error {
	c.mu.Lock()
	snapshot := make([]*cache.Metadata, 0, len(c.meta))
	for _, meta := range c.meta {
		cp := *meta
		snapshot = append(snapshot, &cp)
	}
	c.mu.Unlock()
	for _, meta := range snapshot {
		if err := fn(meta); err != nil {
			return err
		}
	}
	return nil
}

// fakeDispatcher records enqueued tasks and revocations.
type fakeDispatcher struct {
	mu         sync.Mutex
	enqueued   []fakeTask
	revoked    []string
	enqueueErr error
}

type fakeTask struct {
	taskType string
	payload  any
}

func (d *fakeDispatcher) Enqueue(ctx context.Context, taskType string, payload any) (string, error) {
	if d.enqueueErr != nil {
		return "", d.enqueueErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enqueued = append(d.enqueued, fakeTask{taskType: taskType, payload: payload})
	return uuid.NewString(), nil
}

func (d *fakeDispatcher) Revoke(ctx context.Context, taskID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.revoked = append(d.revoked, taskID)
	return nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(discardWriter{})
	return logger
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

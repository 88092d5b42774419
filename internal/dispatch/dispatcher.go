// Package dispatch wraps the asynq task queue behind the small surface the
// job engine needs: enqueue a task, revoke a task, run the worker server.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

const (
	// TaskGenerateDocs runs the five-stage generation pipeline for one job.
	TaskGenerateDocs = "docs:generate"
	// TaskScoreQuality computes a quality score, dispatched fire-and-forget.
	TaskScoreQuality = "docs:score"
)

type Dispatcher struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	queue     string
}

func NewDispatcher(redisAddr, queue string) *Dispatcher {
	opt := asynq.RedisClientOpt{Addr: redisAddr}
	return &Dispatcher{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		queue:     queue,
	}
}

// Enqueue serializes the payload and hands it to the queue. The returned
// handle identifies the task for later revocation. Pipeline runs are not
// retried end-to-end; a failed run is recorded on the job instead.
func (d *Dispatcher) Enqueue(ctx context.Context, taskType string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s payload: %w", taskType, err)
	}
	task := asynq.NewTask(taskType, body)
	info, err := d.client.EnqueueContext(ctx, task, asynq.Queue(d.queue), asynq.MaxRetry(0))
	if err != nil {
		return "", fmt.Errorf("failed to enqueue %s: %w", taskType, err)
	}
	return info.ID, nil
}

// Revoke is a best-effort interrupt: it deletes the task if still pending and
// signals cancellation if already running. A task past its last checkpoint may
// still finish its current stage; the stage writes guard against that.
func (d *Dispatcher) Revoke(ctx context.Context, taskID string) error {
	delErr := d.inspector.DeleteTask(d.queue, taskID)
	if delErr == nil || errors.Is(delErr, asynq.ErrTaskNotFound) {
		cancelErr := d.inspector.CancelProcessing(taskID)
		if cancelErr != nil && !errors.Is(cancelErr, asynq.ErrTaskNotFound) {
			return cancelErr
		}
		return nil
	}
	return delErr
}

func (d *Dispatcher) Close() error {
	return d.client.Close()
}

// Server runs task handlers on a worker process.
type Server struct {
	srv *asynq.Server
	mux *asynq.ServeMux
}

func NewServer(redisAddr, queue string, concurrency int, logger *logrus.Logger) *Server {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: redisAddr},
		asynq.Config{
			Concurrency: concurrency,
			Queues:      map[string]int{queue: 1},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.WithFields(logrus.Fields{
					"task_type": task.Type(),
				}).WithError(err).Error("task handler returned error")
			}),
		},
	)
	return &Server{srv: srv, mux: asynq.NewServeMux()}
}

func (s *Server) Handle(taskType string, handler asynq.HandlerFunc) {
	s.mux.HandleFunc(taskType, handler)
}

func (s *Server) Run() error {
	if err := s.srv.Run(s.mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown() {
	s.srv.Shutdown()
}

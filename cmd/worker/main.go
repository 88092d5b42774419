package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"docgen-service/internal/cache"
	"docgen-service/internal/config"
	"docgen-service/internal/dispatch"
	"docgen-service/internal/docgen"
	"docgen-service/internal/jobs"
	"docgen-service/internal/repository/postgresql"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := postgresql.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to postgres")
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.WithError(err).Fatal("failed to connect to redis")
	}
	defer rdb.Close()

	repo := postgresql.NewJobRepository(pool)
	jobCache := cache.New(rdb, cfg.CacheTTL)
	dispatcher := dispatch.NewDispatcher(cfg.RedisAddr, cfg.QueueName)
	defer dispatcher.Close()

	manager := jobs.NewManager(repo, jobCache, dispatcher, logger)
	pipeline := jobs.NewPipeline(
		manager,
		docgen.NewParser(),
		docgen.NewGenerator(),
		docgen.NewFileStore(cfg.ArtifactDir, cfg.ArtifactBaseURL),
		dispatcher,
		logger,
	)
	scorer := docgen.NewScorer()

	srv := dispatch.NewServer(cfg.RedisAddr, cfg.QueueName, cfg.WorkerConcurrency, logger)
	srv.Handle(dispatch.TaskGenerateDocs, func(ctx context.Context, task *asynq.Task) error {
		var payload dispatch.GenerationPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("bad generation payload: %w", err)
		}
		return pipeline.Run(ctx, &payload)
	})
	srv.Handle(dispatch.TaskScoreQuality, func(ctx context.Context, task *asynq.Task) error {
		var payload dispatch.ScoringPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("bad scoring payload: %w", err)
		}
		metrics := scorer.Score(payload.Documents)
		logger.WithFields(logrus.Fields{
			"job_id":        payload.JobID,
			"team_id":       payload.TeamID,
			"service_name":  payload.ServiceName,
			"overall_score": metrics.OverallScore,
			"completeness":  metrics.Completeness,
			"clarity":       metrics.Clarity,
			"accuracy":      metrics.Accuracy,
		}).Info("quality score computed")
		return nil
	})

	// Hourly sweep reclaiming expired cache entries. Durable records stay.
	go func() {
		ticker := time.NewTicker(cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := manager.CleanupExpired(ctx, cfg.CleanupMaxAge)
				if err != nil {
					logger.WithError(err).Error("cleanup sweep failed")
					continue
				}
				logger.WithField("cleaned", n).Info("cleanup sweep finished")
			}
		}
	}()

	go func() {
		<-ctx.Done()
		srv.Shutdown()
	}()

	logger.WithFields(logrus.Fields{
		"queue":       cfg.QueueName,
		"concurrency": cfg.WorkerConcurrency,
	}).Info("worker started")

	if err := srv.Run(); err != nil {
		logger.WithError(err).Fatal("worker server stopped")
	}
	logger.Info("worker stopped")
}

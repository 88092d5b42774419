package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"docgen-service/internal/cache"
	"docgen-service/internal/config"
	"docgen-service/internal/dispatch"
	"docgen-service/internal/jobs"
	"docgen-service/internal/repository/postgresql"
	"docgen-service/internal/service"
	httptransport "docgen-service/internal/transport/http"
)

// @title Documentation Generation API
// @version 1.0
// @description Submits and tracks asynchronous documentation-generation jobs.
// @BasePath /
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
	tracker := jobs.NewTracker(repo, jobCache, cfg.MaxConcurrentJobs, logger)
	jobSvc := service.NewJobService(manager, tracker, logger)

	handler := httptransport.NewHandler(jobSvc,
		func(ctx context.Context) error { return pool.Ping(ctx) },
		func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: httptransport.Routes(handler, logger),
	}

	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("api server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("http server stopped")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
	}
	logger.Info("api server stopped")
}

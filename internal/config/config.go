package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every runtime knob for the API and worker processes.
// Values come from the environment; a local .env file is loaded if present.
type Config struct {
	HTTPAddr    string
	PostgresDSN string
	RedisAddr   string

	QueueName         string
	MaxConcurrentJobs int
	WorkerConcurrency int

	CacheTTL        time.Duration
	CleanupInterval time.Duration
	CleanupMaxAge   time.Duration

	ArtifactDir     string
	ArtifactBaseURL string
}

func Load() (*Config, error) {
	// Missing .env is fine; real deployments use plain env vars.
	_ = godotenv.Load()

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		return nil, fmt.Errorf("missing env: POSTGRES_DSN")
	}
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		return nil, fmt.Errorf("missing env: REDIS_ADDR")
	}

	return &Config{
		HTTPAddr:          envOr("HTTP_ADDR", ":8080"),
		PostgresDSN:       dsn,
		RedisAddr:         redisAddr,
		QueueName:         envOr("QUEUE_NAME", "documentation"),
		MaxConcurrentJobs: envIntOr("MAX_CONCURRENT_JOBS", 4),
		WorkerConcurrency: envIntOr("WORKER_CONCURRENCY", 4),
		CacheTTL:          envDurationOr("JOB_CACHE_TTL", 24*time.Hour),
		CleanupInterval:   envDurationOr("CLEANUP_INTERVAL", time.Hour),
		CleanupMaxAge:     envDurationOr("CLEANUP_MAX_AGE", 24*time.Hour),
		ArtifactDir:       envOr("ARTIFACT_DIR", "./artifacts"),
		ArtifactBaseURL:   envOr("ARTIFACT_BASE_URL", "/api/v1/downloads"),
	}, nil
}

func envOr(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func envDurationOr(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

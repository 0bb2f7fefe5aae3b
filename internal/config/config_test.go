package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "")
	t.Setenv("KAFKA_BROKERS", "")

	cfg, err := fromViper(newViper())
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddress)
	require.Equal(t, BackendMemory, cfg.StorageBackend)
	require.Equal(t, "static", cfg.StaticDir)
	require.Equal(t, 2*time.Second, cfg.OutboxPollInterval)
	require.Equal(t, 25, cfg.OutboxBatchSize)
	require.True(t, cfg.RunMigrations)
	require.False(t, cfg.EventsEnabled())
	require.Equal(t, 5, cfg.DLQMaxRetries)
	require.Equal(t, time.Minute, cfg.DLQBaseDelay)
	require.Zero(t, cfg.RateLimitRPS)
	require.Equal(t, ":9102", cfg.ConsumerMetrics)
	require.Equal(t, ":9103", cfg.DLQMetrics)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("HTTP_ADDRESS", ":9090")
	t.Setenv("STORAGE_BACKEND", "Postgres")
	t.Setenv("POSTGRES_URL", "postgres://u:p@db:5432/signup")
	t.Setenv("RUN_MIGRATIONS", "false")
	t.Setenv("KAFKA_BROKERS", " kafka-1:9092, ,kafka-2:9092 ")
	t.Setenv("OUTBOX_POLL_INTERVAL", "500ms")
	t.Setenv("OUTBOX_BATCH_SIZE", "100")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("DLQ_MAX_RETRIES", "2")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.HTTPAddress)
	require.Equal(t, BackendPostgres, cfg.StorageBackend)
	require.False(t, cfg.RunMigrations)
	require.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	require.True(t, cfg.EventsEnabled())
	require.Equal(t, 500*time.Millisecond, cfg.OutboxPollInterval)
	require.Equal(t, 100, cfg.OutboxBatchSize)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, 2, cfg.DLQMaxRetries)
}

func TestLoadRedisBackend(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "redis")
	t.Setenv("REDIS_ADDRESS", "cache:6379")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("RATE_LIMIT_RPS", "2.5")

	cfg, err := fromViper(newViper())
	require.NoError(t, err)
	require.Equal(t, BackendRedis, cfg.StorageBackend)
	require.Equal(t, "cache:6379", cfg.RedisAddress)
	require.Equal(t, 3, cfg.RedisDB)
	require.Equal(t, "signup:", cfg.RedisKeyPrefix)
	require.Equal(t, 2.5, cfg.RateLimitRPS)
	require.Equal(t, 10, cfg.RateLimitBurst)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "cassandra")

	_, err := fromViper(newViper())
	require.ErrorContains(t, err, "STORAGE_BACKEND")
}

func TestLoadRejectsBadBatchSize(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "memory")
	t.Setenv("OUTBOX_BATCH_SIZE", "0")

	_, err := fromViper(newViper())
	require.ErrorContains(t, err, "OUTBOX_BATCH_SIZE")
}

func TestLoadRejectsSharedMetricsAddress(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "memory")
	t.Setenv("CONSUMER_METRICS_ADDRESS", ":9200")
	t.Setenv("DLQ_METRICS_ADDRESS", ":9200")

	_, err := fromViper(newViper())
	require.ErrorContains(t, err, "DLQ_METRICS_ADDRESS")
}

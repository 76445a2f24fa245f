package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- DefaultConfig aggregate ---

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.NotEqual(t, SchedulerConfig{}, cfg.Scheduler)
	assert.NotEqual(t, TrainerConfig{}, cfg.Trainer)
	assert.NotEqual(t, ServerConfig{}, cfg.Server)
	assert.NotEqual(t, MetricsConfig{}, cfg.Metrics)
	assert.NotEqual(t, RedisConfig{}, cfg.Redis)
	assert.NotEqual(t, DatabaseConfig{}, cfg.Database)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
	assert.NotEmpty(t, cfg.Log.Level)
}

func TestDefaultConfig_IsValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

// --- Individual Default*Config functions ---

func TestDefaultSchedulerConfig(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	assert.Equal(t, 0, cfg.WorkerCount, "0 resolves to NumCPU-1")
	assert.Equal(t, 8, cfg.Fanout)
	assert.Equal(t, 4, cfg.MaxHierarchyDepth)
	assert.Equal(t, 64, cfg.QueueCapacity)
	assert.InDelta(t, 1.0, cfg.MaxGradNorm, 1e-12)
	assert.InDelta(t, 0.05, cfg.LearningRate, 1e-12)
	assert.Equal(t, 0, cfg.ChunkSize)
	assert.False(t, cfg.LockOSThreads)
	assert.Equal(t, 50*time.Microsecond, cfg.ParkInterval)
}

func TestDefaultTrainerConfig(t *testing.T) {
	cfg := DefaultTrainerConfig()
	assert.Equal(t, 20, cfg.Epochs)
	assert.Equal(t, 2, cfg.WarmupEpochs)
	assert.Equal(t, 5, cfg.CheckpointEvery)
	assert.Equal(t, 3, cfg.MaxConsecutiveFailures)
	assert.Equal(t, 0, cfg.EarlyStopPatience)
	assert.Equal(t, 16, cfg.Dataset.Features)
	assert.Equal(t, 4096, cfg.Dataset.Examples)
	assert.Equal(t, 64, cfg.Dataset.BatchSize)
}

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 9091, cfg.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 100, cfg.RateLimitRPS)
	assert.Equal(t, 200, cfg.RateLimitBurst)
	assert.Empty(t, cfg.JWTSecret)
	assert.Empty(t, cfg.APIKeys)
}

func TestDefaultRedisConfig(t *testing.T) {
	cfg := DefaultRedisConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:6379", cfg.Addr)
	assert.Equal(t, 10, cfg.PoolSize)
	assert.Equal(t, "hivetrain:snapshots", cfg.Channel)
	assert.Equal(t, "hivetrain:snapshot:latest", cfg.SnapshotKey)
}

func TestDefaultDatabaseConfig(t *testing.T) {
	cfg := DefaultDatabaseConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "sqlite", cfg.Driver)
	assert.Equal(t, "hivetrain.db", cfg.Name)
	assert.Equal(t, "hivetrain.db", cfg.DSN())
	assert.Equal(t, time.Hour, cfg.ConnMaxLifetime)
}

func TestDefaultLogConfig(t *testing.T) {
	cfg := DefaultLogConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, []string{"stdout"}, cfg.OutputPaths)
	assert.True(t, cfg.EnableCaller)
}

func TestDefaultTelemetryConfig(t *testing.T) {
	cfg := DefaultTelemetryConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	assert.Equal(t, "hivetrain", cfg.ServiceName)
	assert.InDelta(t, 0.1, cfg.SampleRate, 0.001)
}

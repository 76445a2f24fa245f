// =============================================================================
// 📦 hivetrain 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Scheduler: DefaultSchedulerConfig(),
		Trainer:   DefaultTrainerConfig(),
		Server:    DefaultServerConfig(),
		Metrics:   DefaultMetricsConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultSchedulerConfig 返回默认调度配置
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		WorkerCount:       0,
		Fanout:            8,
		MaxHierarchyDepth: 4,
		QueueCapacity:     64,
		MaxGradNorm:       1.0,
		LearningRate:      0.05,
		ChunkSize:         0,
		LockOSThreads:     false,
		SpinIterations:    64,
		ParkInterval:      50 * time.Microsecond,
	}
}

// DefaultTrainerConfig 返回默认训练配置
func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		Epochs:                 20,
		WarmupEpochs:           2,
		MinLearningRate:        0.001,
		CheckpointEvery:        5,
		KeepCheckpoints:        3,
		MaxConsecutiveFailures: 3,
		EarlyStopPatience:      0,
		EarlyStopMinDelta:      1e-6,
		EpochTimeout:           5 * time.Minute,
		Dataset: DatasetConfig{
			Features:  16,
			Examples:  4096,
			BatchSize: 64,
			Noise:     0.01,
			Seed:      42,
		},
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:         8080,
		MetricsPort:      9091,
		ReadTimeout:      30 * time.Second,
		WriteTimeout:     30 * time.Second,
		ShutdownTimeout:  15 * time.Second,
		RateLimitRPS:     100,
		RateLimitBurst:   200,
		JWTIssuer:        "hivetrain",
		SnapshotInterval: time.Second,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "hivetrain",
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:      false,
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		Channel:      "hivetrain:snapshots",
		SnapshotKey:  "hivetrain:snapshot:latest",
		PublishRate:  4,
		SnapshotTTL:  time.Hour,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Enabled:         false,
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "hivetrain",
		Password:        "",
		Name:            "hivetrain.db",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "hivetrain",
		SampleRate:   0.1,
	}
}

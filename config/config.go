package config

import (
	"errors"
	"fmt"
	"math"
	"net"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Config 是 hivetrain 的完整配置结构
type Config struct {
	// Scheduler 调度核心配置
	Scheduler SchedulerConfig `yaml:"scheduler" env:"SCHEDULER"`

	// Trainer 训练循环配置
	Trainer TrainerConfig `yaml:"trainer" env:"TRAINER"`

	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Metrics 指标配置
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`

	// Redis 快照发布配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 检查点数据库配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// SchedulerConfig 调度核心配置
type SchedulerConfig struct {
	// 叶子 worker 数量，0 表示 NumCPU-1（至少 1）
	WorkerCount int `yaml:"worker_count" env:"WORKER_COUNT"`
	// 每个控制节点的最大子节点数
	Fanout int `yaml:"fanout" env:"FANOUT"`
	// 最大控制层数
	MaxHierarchyDepth int `yaml:"max_hierarchy_depth" env:"MAX_HIERARCHY_DEPTH"`
	// 每层工作队列容量
	QueueCapacity int `yaml:"queue_capacity" env:"QUEUE_CAPACITY"`
	// 梯度裁剪阈值，0 关闭裁剪
	MaxGradNorm float64 `yaml:"max_grad_norm" env:"MAX_GRAD_NORM"`
	// 学习率
	LearningRate float64 `yaml:"learning_rate" env:"LEARNING_RATE"`
	// 分支每轮最多处理的批次数，0 表示不限
	ChunkSize int `yaml:"chunk_size" env:"CHUNK_SIZE"`
	// 每个节点协程绑定 OS 线程
	LockOSThreads bool `yaml:"lock_os_threads" env:"LOCK_OS_THREADS"`
	// 空队列自旋次数
	SpinIterations int `yaml:"spin_iterations" env:"SPIN_ITERATIONS"`
	// 空队列初始休眠间隔
	ParkInterval time.Duration `yaml:"park_interval" env:"PARK_INTERVAL"`
}

// TrainerConfig 训练循环配置
type TrainerConfig struct {
	// 训练 epoch 数
	Epochs int `yaml:"epochs" env:"EPOCHS"`
	// 学习率线性预热的 epoch 数
	WarmupEpochs int `yaml:"warmup_epochs" env:"WARMUP_EPOCHS"`
	// 余弦衰减的最低学习率
	MinLearningRate float64 `yaml:"min_learning_rate" env:"MIN_LEARNING_RATE"`
	// 每隔多少 epoch 保存检查点，0 关闭
	CheckpointEvery int `yaml:"checkpoint_every" env:"CHECKPOINT_EVERY"`
	// 每个运行保留的检查点数，0 表示全部保留
	KeepCheckpoints int `yaml:"keep_checkpoints" env:"KEEP_CHECKPOINTS"`
	// 连续数值失败上限
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures" env:"MAX_CONSECUTIVE_FAILURES"`
	// 早停耐心值，0 关闭
	EarlyStopPatience int `yaml:"early_stop_patience" env:"EARLY_STOP_PATIENCE"`
	// 早停最小改善量
	EarlyStopMinDelta float64 `yaml:"early_stop_min_delta" env:"EARLY_STOP_MIN_DELTA"`
	// 单个 epoch 超时
	EpochTimeout time.Duration `yaml:"epoch_timeout" env:"EPOCH_TIMEOUT"`
	// 演示数据集
	Dataset DatasetConfig `yaml:"dataset" env:"DATASET"`
}

// DatasetConfig 合成线性回归数据集配置
type DatasetConfig struct {
	// 特征维度
	Features int `yaml:"features" env:"FEATURES"`
	// 样本数
	Examples int `yaml:"examples" env:"EXAMPLES"`
	// 每批样本数
	BatchSize int `yaml:"batch_size" env:"BATCH_SIZE"`
	// 噪声标准差
	Noise float64 `yaml:"noise" env:"NOISE"`
	// 随机种子
	Seed int64 `yaml:"seed" env:"SEED"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每秒请求数
	RateLimitRPS int `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 突发请求数
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// 管理接口 API Key，逗号分隔
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
	// 允许的跨域来源，为空时拒绝跨域请求
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	// 管理接口 JWT HMAC 密钥，为空时只接受 API Key
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	// JWT 签发者
	JWTIssuer string `yaml:"jwt_issuer" env:"JWT_ISSUER"`
	// 快照 WebSocket 推送间隔
	SnapshotInterval time.Duration `yaml:"snapshot_interval" env:"SNAPSHOT_INTERVAL"`
	// TLS 证书与私钥，均非空时以 HTTPS 提供服务
	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" env:"TLS_KEY_FILE"`
}

// MetricsConfig Prometheus 指标配置
type MetricsConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 指标命名空间
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 是否启用快照发布
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// 发布频道
	Channel string `yaml:"channel" env:"CHANNEL"`
	// 最新快照的键
	SnapshotKey string `yaml:"snapshot_key" env:"SNAPSHOT_KEY"`
	// 每秒最多发布次数
	PublishRate float64 `yaml:"publish_rate" env:"PUBLISH_RATE"`
	// 最新快照键的过期时间，0 表示不过期
	SnapshotTTL time.Duration `yaml:"snapshot_ttl" env:"SNAPSHOT_TTL"`
	// 启用 TLS 连接
	TLS bool `yaml:"tls" env:"TLS"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 是否启用检查点存储
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名（sqlite 为文件路径）
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// ✅ 校验
// =============================================================================

// Validate 检查整份配置，所有问题合并为一个错误返回
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	sc := c.Scheduler
	if sc.WorkerCount < 0 {
		bad("scheduler.worker_count must not be negative, got %d", sc.WorkerCount)
	}
	switch {
	case sc.Fanout < 1:
		bad("scheduler.fanout must be at least 1, got %d", sc.Fanout)
	case sc.Fanout == 1 && sc.WorkerCount != 1:
		// 扇出为 1 的树永远无法覆盖多个 worker
		bad("scheduler.fanout 1 only supports a single worker, got %d workers", sc.WorkerCount)
	}
	if sc.MaxHierarchyDepth < 1 {
		bad("scheduler.max_hierarchy_depth must be at least 1, got %d", sc.MaxHierarchyDepth)
	}
	if sc.QueueCapacity < 1 {
		bad("scheduler.queue_capacity must be at least 1, got %d", sc.QueueCapacity)
	}
	for _, err := range []error{ValidateLearningRate(sc.LearningRate), ValidateMaxGradNorm(sc.MaxGradNorm)} {
		if err != nil {
			bad("scheduler.%w", err)
		}
	}
	if sc.ChunkSize < 0 {
		bad("scheduler.chunk_size must not be negative, got %d", sc.ChunkSize)
	}
	if sc.SpinIterations < 0 || sc.ParkInterval < 0 {
		bad("scheduler.spin_iterations and scheduler.park_interval must not be negative")
	}

	tc := c.Trainer
	if tc.Epochs < 1 {
		bad("trainer.epochs must be positive, got %d", tc.Epochs)
	}
	for name, v := range map[string]int{
		"warmup_epochs":       tc.WarmupEpochs,
		"checkpoint_every":    tc.CheckpointEvery,
		"keep_checkpoints":    tc.KeepCheckpoints,
		"early_stop_patience": tc.EarlyStopPatience,
	} {
		if v < 0 {
			bad("trainer.%s must not be negative, got %d", name, v)
		}
	}
	if tc.MinLearningRate < 0 || tc.MinLearningRate > sc.LearningRate {
		bad("trainer.min_learning_rate must be within [0, %v], got %v", sc.LearningRate, tc.MinLearningRate)
	}
	if tc.MaxConsecutiveFailures < 1 {
		bad("trainer.max_consecutive_failures must be positive, got %d", tc.MaxConsecutiveFailures)
	}
	if ds := tc.Dataset; ds.Features < 1 || ds.Examples < 1 || ds.BatchSize < 1 {
		bad("trainer.dataset features, examples and batch_size must be positive")
	}

	if !validPort(c.Server.HTTPPort) {
		bad("invalid HTTP port %d", c.Server.HTTPPort)
	}
	if c.Metrics.Enabled && !validPort(c.Server.MetricsPort) {
		bad("invalid metrics port %d", c.Server.MetricsPort)
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		bad("server.tls_cert_file and server.tls_key_file must be set together")
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			bad("redis.addr is required when redis is enabled")
		}
		if c.Redis.PublishRate < 0 {
			bad("redis.publish_rate must not be negative")
		}
	}

	if c.Database.Enabled && !supportedDrivers[c.Database.Driver] {
		bad("unsupported database driver %q", c.Database.Driver)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("config validation errors: %w", errors.Join(errs...))
}

var supportedDrivers = map[string]bool{"postgres": true, "mysql": true, "sqlite": true}

// validPort 0 表示由系统分配临时端口
func validPort(p int) bool { return p >= 0 && p <= 65535 }

// ValidateLearningRate 学习率必须为有限正数
func ValidateLearningRate(lr float64) error {
	if math.IsNaN(lr) || math.IsInf(lr, 0) || lr <= 0 {
		return fmt.Errorf("learning_rate must be a positive finite number, got %v", lr)
	}
	return nil
}

// ValidateMaxGradNorm 裁剪阈值必须为有限非负数
func ValidateMaxGradNorm(n float64) error {
	if math.IsNaN(n) || math.IsInf(n, 0) || n < 0 {
		return fmt.Errorf("max_grad_norm must be a non-negative finite number, got %v", n)
	}
	return nil
}

// ResolveWorkerCount 把 0 解析为 NumCPU-1（至少 1）
func ResolveWorkerCount(n int) int {
	if n > 0 {
		return n
	}
	return max(runtime.NumCPU()-1, 1)
}

// DSN 返回对应驱动的连接串；sqlite 直接使用文件路径
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		kv := []string{
			"host=" + d.Host,
			"port=" + strconv.Itoa(d.Port),
			"user=" + d.User,
			"password=" + d.Password,
			"dbname=" + d.Name,
			"sslmode=" + d.SSLMode,
		}
		return strings.Join(kv, " ")
	case "mysql":
		mc := mysql.NewConfig()
		mc.User = d.User
		mc.Passwd = d.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
		mc.DBName = d.Name
		mc.ParseTime = true
		return mc.FormatDSN()
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/hivetrain"
	"github.com/BaSui01/hivetrain/api/handlers"
	"github.com/BaSui01/hivetrain/checkpoint"
	"github.com/BaSui01/hivetrain/config"
	"github.com/BaSui01/hivetrain/internal/database"
	"github.com/BaSui01/hivetrain/internal/metrics"
	"github.com/BaSui01/hivetrain/internal/migration"
	"github.com/BaSui01/hivetrain/internal/monitor"
	"github.com/BaSui01/hivetrain/internal/server"
	"github.com/BaSui01/hivetrain/internal/telemetry"
	"github.com/BaSui01/hivetrain/models/linreg"
	"github.com/BaSui01/hivetrain/scheduler"
	"github.com/BaSui01/hivetrain/trainer"
)

const instrumentationName = "github.com/BaSui01/hivetrain"

// errTrainingDone 在 --exit 模式下结束 errgroup
var errTrainingDone = errors.New("training finished")

// =============================================================================
// 🖥️ Server
// =============================================================================

// Server 持有训练进程的全部组件：调度器、训练循环、存储、发布、HTTP 与热更新
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	level      zap.AtomicLevel

	resumeID     string
	exitWhenDone bool
	autoMigrate  bool

	// 观测
	collector *metrics.Collector
	otel      *telemetry.Providers

	// 存储与发布（可选）
	db        *database.PoolManager
	store     *checkpoint.Store
	redis     *monitor.Client
	publisher *monitor.RedisPublisher

	// 训练
	sched   *scheduler.Scheduler
	trainer *trainer.Trainer

	// Handlers
	healthHandler   *handlers.HealthHandler
	trainingHandler *handlers.TrainingHandler
	runsHandler     *handlers.RunsHandler

	// 热更新
	hotReloadManager *config.HotReloadManager
	configAPIHandler *config.ConfigAPIHandler

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	rateLimiterCancel context.CancelFunc
}

// NewServer 创建服务器实例，组件在 Init 中构建
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, level zap.AtomicLevel) *Server {
	return &Server{
		cfg:         cfg,
		configPath:  configPath,
		logger:      logger,
		level:       level,
		autoMigrate: true,
	}
}

// =============================================================================
// 🚀 初始化
// =============================================================================

// Init 按依赖顺序构建所有组件。失败时已构建的部分由 Shutdown 释放。
func (s *Server) Init(ctx context.Context) error {
	s.initMetrics()

	if err := s.initTelemetry(); err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}
	if err := s.initStorage(ctx); err != nil {
		return fmt.Errorf("failed to init storage: %w", err)
	}
	if err := s.initMonitor(); err != nil {
		return fmt.Errorf("failed to init redis monitor: %w", err)
	}
	if err := s.initTraining(); err != nil {
		return fmt.Errorf("failed to init training: %w", err)
	}
	s.initHandlers()
	if err := s.initHotReloadManager(ctx); err != nil {
		return fmt.Errorf("failed to init hot reload manager: %w", err)
	}
	s.initHTTPServer()
	s.initMetricsServer()

	s.logger.Info("hivetrain initialized",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Bool("metrics_enabled", s.cfg.Metrics.Enabled),
		zap.Bool("database_enabled", s.store != nil),
		zap.Bool("redis_enabled", s.publisher != nil),
		zap.Bool("hot_reload_enabled", s.configPath != ""),
	)
	return nil
}

func (s *Server) initMetrics() {
	namespace := s.cfg.Metrics.Namespace
	if namespace == "" {
		namespace = "hivetrain"
	}
	// 关闭指标时仍然收集，只是不暴露
	var reg prometheus.Registerer = prometheus.DefaultRegisterer
	if !s.cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
	}
	s.collector = metrics.NewCollector(namespace, reg, s.logger)
}

func (s *Server) initTelemetry() error {
	sc := s.cfg.Scheduler
	providers, err := telemetry.Init(s.cfg.Telemetry, s.logger,
		telemetry.WithTopology(config.ResolveWorkerCount(sc.WorkerCount), sc.Fanout, sc.MaxHierarchyDepth))
	if err != nil {
		return err
	}
	s.otel = providers
	return nil
}

// initStorage 迁移并打开检查点数据库
func (s *Server) initStorage(ctx context.Context) error {
	if !s.cfg.Database.Enabled {
		s.logger.Info("database disabled, runs and checkpoints are kept in memory only")
		return nil
	}

	if s.autoMigrate {
		migrator, err := migration.NewMigratorFromDatabaseConfig(s.cfg.Database, migration.WithLogger(s.logger))
		if err != nil {
			return err
		}
		err = migrator.Up(ctx)
		_ = migrator.Close()
		if err != nil {
			return err
		}
	}

	db, err := database.Open(s.cfg.Database, s.logger, s.collector)
	if err != nil {
		return err
	}
	s.db = db
	s.store = checkpoint.NewStore(db, s.logger, checkpoint.WithQueryRecorder(s.collector))
	return nil
}

func (s *Server) initMonitor() error {
	if !s.cfg.Redis.Enabled {
		return nil
	}
	client, err := monitor.NewClient(s.cfg.Redis, s.logger)
	if err != nil {
		return err
	}
	s.redis = client
	s.publisher = monitor.NewRedisPublisher(client, monitor.WithPublishRecorder(s.collector))
	return nil
}

// initTraining 用合成线性回归数据构建调度器与训练循环
func (s *Server) initTraining() error {
	dc := s.cfg.Trainer.Dataset
	ds, err := linreg.NewDataset(linreg.DatasetConfig{
		Features: dc.Features,
		Examples: dc.Examples,
		Noise:    dc.Noise,
		Seed:     dc.Seed,
	})
	if err != nil {
		return err
	}
	source, err := linreg.NewSyntheticSource(ds, dc.BatchSize, dc.Seed)
	if err != nil {
		return err
	}

	s.sched, err = hivetrain.New(s.cfg.Scheduler, linreg.NewModel(ds), source, make([]float64, ds.ParamCount()),
		scheduler.WithLogger(s.logger),
		scheduler.WithRecorder(s.collector),
		scheduler.WithTracer(s.otel.Tracer(instrumentationName+"/scheduler")),
	)
	if err != nil {
		return err
	}

	opts := []trainer.Option{
		trainer.WithLogger(s.logger),
		trainer.WithMeter(s.otel.Meter(instrumentationName + "/trainer")),
		trainer.WithCheckpointRecorder(s.collector),
	}
	if s.store != nil {
		opts = append(opts, trainer.WithStore(s.store))
	}
	if s.publisher != nil {
		opts = append(opts, trainer.WithPublisher(s.publisher))
	}
	if s.resumeID != "" {
		opts = append(opts, trainer.WithResume(s.resumeID))
	}
	s.trainer, err = hivetrain.NewTrainer(s.sched, s.cfg, opts...)
	return err
}

func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.healthHandler.RegisterCheck(handlers.NewSchedulerCheck(s.sched))
	if s.db != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("database", s.db.Ping))
	}
	if s.redis != nil {
		s.healthHandler.RegisterOptionalCheck(handlers.NewPingCheck("redis", s.redis.Ping))
	}

	s.trainingHandler = handlers.NewTrainingHandler(s.trainer, s.cfg.Server.SnapshotInterval, s.logger)
	if s.store != nil {
		s.runsHandler = handlers.NewRunsHandler(s.store, s.logger)
	}
}

// initHotReloadManager 启动热更新并把变更应用到运行中的组件
func (s *Server) initHotReloadManager(ctx context.Context) error {
	opts := []config.HotReloadOption{config.WithHotReloadLogger(s.logger)}
	if s.configPath != "" {
		opts = append(opts, config.WithConfigPath(s.configPath))
	}
	s.hotReloadManager = config.NewHotReloadManager(s.cfg, opts...)

	s.hotReloadManager.OnApply(s.applyConfig)
	s.hotReloadManager.OnChange(func(change config.ConfigChange) {
		if change.RequiresRestart {
			s.logger.Warn("configuration change requires restart", zap.String("path", change.Path))
		}
	})
	s.hotReloadManager.OnReload(func(_, newConfig *config.Config) {
		s.logger.Info("configuration reloaded", zap.String("log_level", newConfig.Log.Level))
	})

	if err := s.hotReloadManager.Start(ctx); err != nil {
		return err
	}

	s.configAPIHandler = config.NewConfigAPIHandler(s.hotReloadManager)
	return nil
}

// applyConfig 把热更新字段推给训练循环、日志与发布器。
// 返回错误时 HotReloadManager 回滚整次变更。
func (s *Server) applyConfig(oldCfg, newCfg *config.Config) error {
	var lr, norm *float64
	if newCfg.Scheduler.LearningRate != oldCfg.Scheduler.LearningRate {
		lr = &newCfg.Scheduler.LearningRate
	}
	if newCfg.Scheduler.MaxGradNorm != oldCfg.Scheduler.MaxGradNorm {
		norm = &newCfg.Scheduler.MaxGradNorm
	}
	if lr != nil || norm != nil {
		if err := s.trainer.UpdateHyperParams(lr, norm); err != nil {
			return err
		}
	}

	if policy, changed := policyDiff(oldCfg.Trainer, newCfg.Trainer); changed {
		if err := s.trainer.UpdatePolicy(policy); err != nil {
			return err
		}
	}

	if newCfg.Log.Level != oldCfg.Log.Level {
		s.level.SetLevel(parseLevel(newCfg.Log.Level))
	}
	if s.publisher != nil && newCfg.Redis.PublishRate != oldCfg.Redis.PublishRate {
		s.publisher.SetRate(newCfg.Redis.PublishRate)
	}
	return nil
}

func policyDiff(oldCfg, newCfg config.TrainerConfig) (trainer.PolicyUpdate, bool) {
	var p trainer.PolicyUpdate
	changed := false
	if newCfg.Epochs != oldCfg.Epochs {
		p.Epochs = &newCfg.Epochs
		changed = true
	}
	if newCfg.MinLearningRate != oldCfg.MinLearningRate {
		p.MinLearningRate = &newCfg.MinLearningRate
		changed = true
	}
	if newCfg.CheckpointEvery != oldCfg.CheckpointEvery {
		p.CheckpointEvery = &newCfg.CheckpointEvery
		changed = true
	}
	if newCfg.KeepCheckpoints != oldCfg.KeepCheckpoints {
		p.KeepCheckpoints = &newCfg.KeepCheckpoints
		changed = true
	}
	if newCfg.EarlyStopPatience != oldCfg.EarlyStopPatience {
		p.EarlyStopPatience = &newCfg.EarlyStopPatience
		changed = true
	}
	return p, changed
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// routes 注册所有 API 路由，返回未加全局中间件的 mux
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// 健康检查
	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// 训练观测
	th := s.trainingHandler
	mux.HandleFunc("GET /v1/snapshot", th.HandleSnapshot)
	mux.HandleFunc("GET /v1/snapshot/ws", th.HandleSnapshotWS)
	mux.HandleFunc("GET /v1/training", th.HandleStatus)
	mux.HandleFunc("GET /v1/history", th.HandleHistory)

	// 管理接口
	admin := AdminAuth(AuthConfig{
		APIKeys:   s.cfg.Server.APIKeys,
		JWTSecret: s.cfg.Server.JWTSecret,
		JWTIssuer: s.cfg.Server.JWTIssuer,
	}, s.logger)
	mux.Handle("POST /v1/training/hyperparams", admin(http.HandlerFunc(th.HandleHyperParams)))
	mux.Handle("POST /v1/training/stop", admin(http.HandlerFunc(th.HandleStop)))

	if s.runsHandler != nil {
		rh := s.runsHandler
		mux.HandleFunc("GET /v1/runs", rh.HandleListRuns)
		mux.HandleFunc("GET /v1/runs/{id}", rh.HandleGetRun)
		mux.HandleFunc("GET /v1/runs/{id}/history", rh.HandleRunHistory)
		mux.HandleFunc("GET /v1/runs/{id}/checkpoint", rh.HandleLatestCheckpoint)
	}

	if s.configAPIHandler != nil {
		s.configAPIHandler.RegisterRoutes(mux, admin)
	}
	return mux
}

// handler 组装全局中间件链
func (s *Server) handler(ctx context.Context) http.Handler {
	sc := s.cfg.Server
	chain := []Middleware{
		Recovery(s.logger),
		RequestID(),
	}
	if s.cfg.Telemetry.Enabled {
		chain = append(chain, OTelTracing())
	}
	chain = append(chain,
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		CORS(sc.CORSAllowedOrigins),
	)
	if sc.RateLimitRPS > 0 {
		chain = append(chain, RateLimiter(ctx, float64(sc.RateLimitRPS), sc.RateLimitBurst, s.logger))
	}
	return Chain(s.routes(), chain...)
}

func (s *Server) initHTTPServer() {
	rlCtx, cancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = cancel

	sc := s.cfg.Server
	if !(AuthConfig{APIKeys: sc.APIKeys, JWTSecret: sc.JWTSecret}).Enabled() {
		s.logger.Warn("no api keys or jwt secret configured, admin endpoints are unauthenticated")
	}

	s.httpManager = server.NewManager(s.handler(rlCtx), server.Config{
		Name:            "api",
		Addr:            fmt.Sprintf(":%d", sc.HTTPPort),
		ReadTimeout:     sc.ReadTimeout,
		WriteTimeout:    sc.WriteTimeout,
		IdleTimeout:     2 * sc.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: sc.ShutdownTimeout,
		TLSCertFile:     sc.TLSCertFile,
		TLSKeyFile:      sc.TLSKeyFile,
	}, s.logger)
}

func (s *Server) initMetricsServer() {
	if !s.cfg.Metrics.Enabled {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	sc := s.cfg.Server
	s.metricsManager = server.NewManager(mux, server.Config{
		Name:            "metrics",
		Addr:            fmt.Sprintf(":%d", sc.MetricsPort),
		ReadTimeout:     sc.ReadTimeout,
		WriteTimeout:    sc.WriteTimeout,
		ShutdownTimeout: sc.ShutdownTimeout,
	}, s.logger)
}

// =============================================================================
// ▶️ 运行
// =============================================================================

// Run 启动 HTTP 服务与训练循环，直到 ctx 结束或某个服务失败。
// 训练结束后服务继续运行以便查询，--exit 时随训练一起退出。
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.httpManager.Run(gctx) })
	if s.metricsManager != nil {
		g.Go(func() error { return s.metricsManager.Run(gctx) })
	}
	g.Go(func() error { return s.train(gctx) })

	err := g.Wait()
	if errors.Is(err, errTrainingDone) {
		return nil
	}
	return err
}

func (s *Server) train(ctx context.Context) error {
	status, err := s.trainer.Run(ctx, s.cfg.Trainer.Epochs)
	fields := []zap.Field{
		zap.String("run_id", status.RunID),
		zap.String("state", string(status.State)),
		zap.Int("epochs_done", status.EpochsDone),
		zap.String("reason", status.StopReason),
	}
	if status.BestLoss != nil {
		fields = append(fields, zap.Float64("best_loss", *status.BestLoss))
	}

	if err != nil {
		s.logger.Error("training run failed", append(fields, zap.Error(err))...)
		if s.exitWhenDone {
			return err
		}
		return nil
	}
	s.logger.Info("training run ended", fields...)
	if s.exitWhenDone {
		return errTrainingDone
	}
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// Shutdown 逆序释放组件；可在 Init 失败后调用
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	if s.hotReloadManager != nil {
		if err := s.hotReloadManager.Stop(); err != nil {
			s.logger.Error("Hot reload manager shutdown error", zap.Error(err))
		}
	}
	for _, m := range []*server.Manager{s.httpManager, s.metricsManager} {
		if m == nil {
			continue
		}
		if err := m.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.trainer != nil {
		s.trainer.Stop(trainer.ReasonCancelled)
	}
	if s.sched != nil {
		if err := s.sched.Shutdown(ctx); err != nil && !errors.Is(err, scheduler.ErrShutdown) {
			s.logger.Error("Scheduler shutdown error", zap.Error(err))
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("Redis close error", zap.Error(err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Database close error", zap.Error(err))
		}
	}
	if s.otel != nil {
		if err := s.otel.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}

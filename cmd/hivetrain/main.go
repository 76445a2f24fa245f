// =============================================================================
// hivetrain 主入口
// =============================================================================
// 训练服务入口点：层级调度器 + 训练循环 + HTTP 监控/控制接口 + Prometheus 指标
//
// 使用方法:
//
//	hivetrain train                       # 启动训练并提供 HTTP 接口
//	hivetrain train --config config.yaml  # 指定配置文件
//	hivetrain train --resume <run-id>     # 从最新检查点继续
//	hivetrain version                     # 显示版本信息
//	hivetrain health                      # 健康检查
//	hivetrain migrate up                  # 运行数据库迁移
//	hivetrain migrate status              # 查看迁移状态
// =============================================================================

// @title hivetrain API
// @version 1.0.0
// @description hivetrain runs data-parallel training epochs over a hierarchy of worker goroutines.
// @description
// @description ## Features
// @description - Live scheduler snapshots (JSON and WebSocket)
// @description - Run control: stop, hyper-parameter updates
// @description - Run history and checkpoints from the database
// @description - Runtime config management API (hot reload, history, rollback)

// @contact.name hivetrain Team
// @contact.url https://github.com/BaSui01/hivetrain

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /
// @schemes http https

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
// @description API key for admin endpoints

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/hivetrain/config"
	"github.com/BaSui01/hivetrain/internal/tlsutil"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "train", "serve":
		os.Exit(runTrain(os.Args[2:]))
	case "migrate":
		runMigrate(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 🏋️ train 命令
// =============================================================================

func runTrain(args []string) int {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	resume := fs.String("resume", "", "Resume the given run from its latest checkpoint")
	exitWhenDone := fs.Bool("exit", false, "Exit once training finishes instead of keeping the API up")
	autoMigrate := fs.Bool("migrate", true, "Apply pending database migrations on start")
	_ = fs.Parse(args)

	loader := config.NewLoader().WithStrict(true)
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		return 1
	}

	logger, level := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting hivetrain",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)
	if env := loader.Overrides(); len(env) > 0 {
		logger.Info("config overridden from environment", zap.Strings("vars", env))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := NewServer(cfg, *configPath, logger, level)
	srv.resumeID = *resume
	srv.exitWhenDone = *exitWhenDone
	srv.autoMigrate = *autoMigrate

	if err := srv.Init(ctx); err != nil {
		logger.Error("Failed to initialize", zap.Error(err))
		srv.Shutdown()
		return 1
	}

	err = srv.Run(ctx)
	srv.Shutdown()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("hivetrain stopped with error", zap.Error(err))
		return 1
	}
	logger.Info("hivetrain stopped")
	return 0
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	path := fs.String("path", "/ready", "Probe path (/health, /ready)")
	_ = fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	if strings.HasPrefix(*addr, "https://") {
		client = tlsutil.SecureHTTPClient(5 * time.Second)
	}
	resp, err := client.Get(strings.TrimSuffix(*addr, "/") + *path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("OK")
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("hivetrain %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`hivetrain - hierarchical parallel-batch training scheduler

Usage:
  hivetrain <command> [options]

Commands:
  train     Run training and serve the HTTP API (alias: serve)
  migrate   Database migration commands
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'train':
  --config <path>   Path to configuration file (YAML)
  --resume <run-id> Continue a stored run from its latest checkpoint
  --exit            Exit when training finishes
  --migrate         Apply pending migrations on start (default true)

Migration subcommands:
  migrate up          Apply all pending migrations
  migrate down        Rollback the last migration
  migrate status      Show migration status
  migrate version     Show current migration version
  migrate force <v>   Force set migration version

Examples:
  hivetrain train
  hivetrain train --config /etc/hivetrain/config.yaml --exit
  hivetrain migrate up --config /etc/hivetrain/config.yaml
  hivetrain health --addr https://localhost:8443
  hivetrain version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

// initLogger 返回 logger 与其 AtomicLevel，后者供 Log.Level 热更新使用
func initLogger(cfg config.LogConfig) (*zap.Logger, zap.AtomicLevel) {
	level := zap.NewAtomicLevelAt(parseLevel(cfg.Level))

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             level,
		Development:       cfg.Format == "console",
		Encoding:          "json",
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}
	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger, level
}

func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

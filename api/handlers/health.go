package handlers

import (
	"context"
	"net/http"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/hivetrain/scheduler"
)

// =============================================================================
// 🏥 存活与就绪探针
// =============================================================================

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"

	defaultCheckTimeout = 3 * time.Second
)

// HealthCheck 一个依赖的就绪检查
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthStatus 探针响应
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单个依赖的检查结果
type CheckResult struct {
	Status   string `json:"status"` // pass, warn, fail
	Optional bool   `json:"optional,omitempty"`
	Message  string `json:"message,omitempty"`
	Latency  string `json:"latency"`
}

// VersionInfo /version 响应
type VersionInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
	GoVersion string `json:"go_version"`
}

type registeredCheck struct {
	check    HealthCheck
	optional bool
}

// HealthHandler 提供 /healthz（存活）与 /ready（就绪）。
// 必需依赖失败时返回 503；可选依赖（如快照发布用的 Redis）失败只降级为 degraded。
type HealthHandler struct {
	logger       *zap.Logger
	started      time.Time
	checkTimeout time.Duration

	mu     sync.RWMutex
	checks []registeredCheck
}

// NewHealthHandler 创建探针处理器
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		logger:       logger.With(zap.String("component", "health")),
		started:      time.Now(),
		checkTimeout: defaultCheckTimeout,
	}
}

// SetCheckTimeout 设置单个检查的超时
func (h *HealthHandler) SetCheckTimeout(d time.Duration) {
	if d > 0 {
		h.checkTimeout = d
	}
}

// RegisterCheck 注册必需依赖
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.register(check, false)
}

// RegisterOptionalCheck 注册可选依赖，失败时服务仍然就绪
func (h *HealthHandler) RegisterOptionalCheck(check HealthCheck) {
	h.register(check, true)
}

func (h *HealthHandler) register(check HealthCheck, optional bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, registeredCheck{check: check, optional: optional})
}

// HandleHealth 存活探针：进程能响应即为健康，不访问任何依赖
// @Summary Liveness probe
// @Tags health
// @Produce json
// @Success 200 {object} HealthStatus "Alive"
// @Router /healthz [get]
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Uptime:    time.Since(h.started).Truncate(time.Second).String(),
	})
}

// HandleHealthz 与 HandleHealth 相同，供 Kubernetes 风格路径使用
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	h.HandleHealth(w, r)
}

// HandleReady 就绪探针：并发执行全部检查
// @Summary Readiness probe
// @Tags health
// @Produce json
// @Success 200 {object} HealthStatus "Ready (possibly degraded)"
// @Failure 503 {object} HealthStatus "A required dependency is down"
// @Router /ready [get]
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	checks := append([]registeredCheck(nil), h.checks...)
	h.mu.RUnlock()

	results := make([]CheckResult, len(checks))
	var g errgroup.Group
	for i, rc := range checks {
		g.Go(func() error {
			results[i] = h.runCheck(r.Context(), rc)
			return nil
		})
	}
	_ = g.Wait()

	status := HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Uptime:    time.Since(h.started).Truncate(time.Second).String(),
		Checks:    make(map[string]CheckResult, len(checks)),
	}
	for i, rc := range checks {
		res := results[i]
		status.Checks[rc.check.Name()] = res
		switch {
		case res.Status == "fail":
			status.Status = StatusUnhealthy
		case res.Status == "warn" && status.Status == StatusHealthy:
			status.Status = StatusDegraded
		}
	}

	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, status)
}

func (h *HealthHandler) runCheck(parent context.Context, rc registeredCheck) CheckResult {
	ctx, cancel := context.WithTimeout(parent, h.checkTimeout)
	defer cancel()

	start := time.Now()
	err := rc.check.Check(ctx)
	latency := time.Since(start)

	res := CheckResult{Status: "pass", Optional: rc.optional, Latency: latency.String()}
	if err == nil {
		return res
	}
	res.Message = err.Error()
	res.Status = "fail"
	if rc.optional {
		res.Status = "warn"
	}
	h.logger.Warn("readiness check failed",
		zap.String("check", rc.check.Name()),
		zap.Bool("optional", rc.optional),
		zap.Duration("latency", latency),
		zap.Error(err))
	return res
}

// HandleVersion 返回构建信息
// @Summary Build information
// @Tags health
// @Produce json
// @Success 200 {object} Response{data=VersionInfo} "Version"
// @Router /version [get]
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	info := VersionInfo{
		Version:   version,
		BuildTime: buildTime,
		GitCommit: gitCommit,
		GoVersion: runtime.Version(),
	}
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, info)
	}
}

// =============================================================================
// 🔧 检查实现
// =============================================================================

// PingCheck 以 ping 函数实现的依赖检查（数据库、Redis）
type PingCheck struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingCheck 创建依赖检查
func NewPingCheck(name string, ping func(ctx context.Context) error) *PingCheck {
	return &PingCheck{name: name, ping: ping}
}

func (c *PingCheck) Name() string { return c.name }

func (c *PingCheck) Check(ctx context.Context) error { return c.ping(ctx) }

// SchedulerCheck 调度器已启动且未关闭
type SchedulerCheck struct {
	sched *scheduler.Scheduler
}

// NewSchedulerCheck 创建调度器检查
func NewSchedulerCheck(s *scheduler.Scheduler) *SchedulerCheck {
	return &SchedulerCheck{sched: s}
}

func (c *SchedulerCheck) Name() string { return "scheduler" }

func (c *SchedulerCheck) Check(ctx context.Context) error {
	select {
	case <-c.sched.Done():
		return scheduler.ErrShutdown
	default:
	}
	if !c.sched.Snapshot().Running {
		return scheduler.ErrNotStarted
	}
	return nil
}

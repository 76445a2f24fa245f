// 配置热重载管理器实现。
//
// 只有超参数和日志级别等字段可以在运行中生效；结构性字段
// （worker 数、扇出、层数、队列容量）的变更会被记录并标记为需要重启。
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"maps"
	"reflect"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// --- 热重载类型定义 ---

// HotReloadManager 管理配置热重载
type HotReloadManager struct {
	mu sync.RWMutex

	config     *Config
	configPath string

	// 回滚支持
	previousConfig *Config
	configHistory  []ConfigSnapshot
	maxHistorySize int
	validateFunc   ValidateFunc

	watcher *FileWatcher

	// 回调
	changeCallbacks   []ChangeCallback
	reloadCallbacks   []ReloadCallback
	applyFuncs        []ApplyFunc
	rollbackCallbacks []RollbackCallback

	changeLog []ConfigChange

	logger *zap.Logger

	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// ChangeCallback 每个字段变更调用一次
type ChangeCallback func(change ConfigChange)

// ReloadCallback 新配置生效后调用
type ReloadCallback func(oldConfig, newConfig *Config)

// ApplyFunc 把新配置推送到运行中的组件；返回错误会触发自动回滚
type ApplyFunc func(oldConfig, newConfig *Config) error

// ErrRolledBack 新配置被某个 ApplyFunc 拒绝，已恢复旧配置
var ErrRolledBack = errors.New("config rolled back")

// ConfigChange 一次字段变更
type ConfigChange struct {
	Timestamp time.Time `json:"timestamp"`
	// 来源：file、api、rollback
	Source string `json:"source"`
	// 字段路径，例如 "Scheduler.LearningRate"
	Path            string `json:"path"`
	OldValue        any    `json:"old_value,omitempty"`
	NewValue        any    `json:"new_value,omitempty"`
	RequiresRestart bool   `json:"requires_restart"`
	Applied         bool   `json:"applied"`
	Error           string `json:"error,omitempty"`
}

// ConfigSnapshot 配置快照（用于历史记录和回滚）
type ConfigSnapshot struct {
	Config    *Config   `json:"config"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Version   int       `json:"version"`
	Checksum  string    `json:"checksum"`
}

// ValidateFunc 配置验证钩子，在 Config.Validate 之后执行
type ValidateFunc func(newConfig *Config) error

// RollbackCallback 回滚事件回调
type RollbackCallback func(event RollbackEvent)

// RollbackEvent 回滚事件
type RollbackEvent struct {
	Timestamp      time.Time `json:"timestamp"`
	Reason         string    `json:"reason"`
	FailedConfig   *Config   `json:"failed_config"`
	RestoredConfig *Config   `json:"restored_config"`
	Version        int       `json:"version"`
	Error          error     `json:"error,omitempty"`
}

// HotReloadableField 描述一个可通过 API 或文件修改的字段
type HotReloadableField struct {
	Path            string
	Description     string
	RequiresRestart bool
	Sensitive       bool
	Validator       func(value any) error
}

// --- 可热重载字段注册表 ---

func floatValidator(check func(float64) error) func(any) error {
	return func(value any) error {
		f, ok := toFloat(value)
		if !ok {
			return fmt.Errorf("expected a number, got %T", value)
		}
		return check(f)
	}
}

func nonNegativeInt(value any) error {
	f, ok := toFloat(value)
	if !ok || f != float64(int64(f)) || f < 0 {
		return fmt.Errorf("expected a non-negative integer, got %v", value)
	}
	return nil
}

func oneOf(allowed ...string) func(any) error {
	return func(value any) error {
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected a string, got %T", value)
		}
		for _, a := range allowed {
			if s == a {
				return nil
			}
		}
		return fmt.Errorf("%q is not one of %s", s, strings.Join(allowed, ", "))
	}
}

func restartField(path, desc string, sensitive bool) HotReloadableField {
	return HotReloadableField{Path: path, Description: desc, RequiresRestart: true, Sensitive: sensitive}
}

// hotReloadableFields 已登记字段；未登记字段的变更一律视为需要重启
var hotReloadableFields = map[string]HotReloadableField{
	// 超参数：下一个 epoch 生效
	"Scheduler.LearningRate": {
		Path:        "Scheduler.LearningRate",
		Description: "Learning rate handed to ApplyGradients",
		Validator:   floatValidator(ValidateLearningRate),
	},
	"Scheduler.MaxGradNorm": {
		Path:        "Scheduler.MaxGradNorm",
		Description: "Global gradient clipping threshold (0 disables)",
		Validator:   floatValidator(ValidateMaxGradNorm),
	},

	// 训练循环
	"Trainer.Epochs": {
		Path:        "Trainer.Epochs",
		Description: "Total epochs to run",
		Validator:   nonNegativeInt,
	},
	"Trainer.CheckpointEvery": {
		Path:        "Trainer.CheckpointEvery",
		Description: "Checkpoint interval in epochs (0 disables)",
		Validator:   nonNegativeInt,
	},
	"Trainer.KeepCheckpoints": {
		Path:        "Trainer.KeepCheckpoints",
		Description: "Checkpoints retained per run (0 keeps all)",
		Validator:   nonNegativeInt,
	},
	"Trainer.EarlyStopPatience": {
		Path:        "Trainer.EarlyStopPatience",
		Description: "Epochs without improvement before stopping (0 disables)",
		Validator:   nonNegativeInt,
	},
	"Trainer.MinLearningRate": {
		Path:        "Trainer.MinLearningRate",
		Description: "Floor of the cosine learning rate schedule",
		Validator: floatValidator(func(f float64) error {
			if f < 0 {
				return fmt.Errorf("min_learning_rate must not be negative, got %v", f)
			}
			return nil
		}),
	},

	// 日志
	"Log.Level": {
		Path:        "Log.Level",
		Description: "Log level (debug, info, warn, error)",
		Validator:   oneOf("debug", "info", "warn", "error"),
	},
	"Redis.PublishRate": {
		Path:        "Redis.PublishRate",
		Description: "Snapshot publishes per second",
	},

	// 层次结构：需要重启调度器
	"Scheduler.WorkerCount":       restartField("Scheduler.WorkerCount", "Leaf worker count", false),
	"Scheduler.Fanout":            restartField("Scheduler.Fanout", "Children per control node", false),
	"Scheduler.MaxHierarchyDepth": restartField("Scheduler.MaxHierarchyDepth", "Maximum control levels", false),
	"Scheduler.QueueCapacity":     restartField("Scheduler.QueueCapacity", "Work queue capacity per level", false),
	"Scheduler.ChunkSize":         restartField("Scheduler.ChunkSize", "Batches per branch round", false),
	"Scheduler.LockOSThreads":     restartField("Scheduler.LockOSThreads", "Pin node goroutines to OS threads", false),

	// 遥测
	"Telemetry.SampleRate": restartField("Telemetry.SampleRate", "Trace sample rate", false),

	// 服务器
	"Server.HTTPPort":    restartField("Server.HTTPPort", "HTTP server port", false),
	"Server.MetricsPort": restartField("Server.MetricsPort", "Metrics server port", false),
	"Server.JWTSecret":   restartField("Server.JWTSecret", "Admin JWT signing key", true),
	"Server.APIKeys":     restartField("Server.APIKeys", "Admin API keys", true),
	"Server.TLSCertFile": restartField("Server.TLSCertFile", "HTTPS certificate file", false),
	"Server.TLSKeyFile":  restartField("Server.TLSKeyFile", "HTTPS private key file", true),

	// 存储
	"Database.Driver":   restartField("Database.Driver", "Checkpoint database driver", false),
	"Database.Host":     restartField("Database.Host", "Database host", false),
	"Database.Password": restartField("Database.Password", "Database password", true),
	"Redis.Addr":        restartField("Redis.Addr", "Redis address", false),
	"Redis.Password":    restartField("Redis.Password", "Redis password", true),
}

// --- 热重载管理器选项 ---

// HotReloadOption 配置 HotReloadManager
type HotReloadOption func(*HotReloadManager)

// WithHotReloadLogger 设置记录器
func WithHotReloadLogger(logger *zap.Logger) HotReloadOption {
	return func(m *HotReloadManager) {
		m.logger = logger
	}
}

// WithConfigPath 设置需要监视的配置文件
func WithConfigPath(path string) HotReloadOption {
	return func(m *HotReloadManager) {
		m.configPath = path
	}
}

// WithMaxHistorySize 设置配置历史最大记录数
func WithMaxHistorySize(size int) HotReloadOption {
	return func(m *HotReloadManager) {
		if size > 0 {
			m.maxHistorySize = size
		}
	}
}

// WithValidateFunc 设置配置验证钩子
func WithValidateFunc(fn ValidateFunc) HotReloadOption {
	return func(m *HotReloadManager) {
		m.validateFunc = fn
	}
}

// --- 热重载管理器实现 ---

// NewHotReloadManager 创建热重载管理器，初始配置记为版本 1
func NewHotReloadManager(config *Config, opts ...HotReloadOption) *HotReloadManager {
	m := &HotReloadManager{
		config:         deepCopyConfig(config),
		configHistory:  make([]ConfigSnapshot, 0, 10),
		maxHistorySize: 10,
		changeLog:      make([]ConfigChange, 0, 100),
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("component", "config_reload"))
	m.pushHistory(m.config, "init")
	return m
}

func (m *HotReloadManager) pushHistory(config *Config, source string) {
	version := 1
	if n := len(m.configHistory); n > 0 {
		version = m.configHistory[n-1].Version + 1
	}
	m.configHistory = append(m.configHistory, ConfigSnapshot{
		Config:    deepCopyConfig(config),
		Timestamp: time.Now(),
		Source:    source,
		Version:   version,
		Checksum:  computeConfigChecksum(config),
	})
	if len(m.configHistory) > m.maxHistorySize {
		m.configHistory = m.configHistory[len(m.configHistory)-m.maxHistorySize:]
	}
}

// deepCopyConfig 通过 JSON 往返深拷贝
func deepCopyConfig(config *Config) *Config {
	data, err := json.Marshal(config)
	if err != nil {
		return config
	}
	var copied Config
	if err := json.Unmarshal(data, &copied); err != nil {
		return config
	}
	return &copied
}

// computeConfigChecksum 序列化结果的 FNV-1a 64
func computeConfigChecksum(config *Config) string {
	h := fnv.New64a()
	if err := json.NewEncoder(h).Encode(config); err != nil {
		return ""
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// Start 启动热重载管理器；设置了配置路径时同时启动文件监视
func (m *HotReloadManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("hot reload manager already running")
	}
	m.ctx, m.cancel = context.WithCancel(ctx)

	if m.configPath != "" {
		watcher, err := NewFileWatcher(
			[]string{m.configPath},
			WithWatcherLogger(m.logger),
			WithDebounceDelay(500*time.Millisecond),
		)
		if err != nil {
			m.cancel()
			return fmt.Errorf("failed to create file watcher: %w", err)
		}
		watcher.OnChange(m.handleFileChange)
		if err := watcher.Start(m.ctx); err != nil {
			m.cancel()
			return fmt.Errorf("failed to start file watcher: %w", err)
		}
		m.watcher = watcher
	}

	m.running = true
	m.logger.Info("hot reload manager started", zap.String("config_path", m.configPath))
	return nil
}

// Stop 停止热重载管理器
func (m *HotReloadManager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.cancel()
	if m.watcher != nil {
		if err := m.watcher.Stop(); err != nil {
			m.logger.Error("failed to stop file watcher", zap.Error(err))
		}
		m.watcher = nil
	}
	m.running = false
	m.logger.Info("hot reload manager stopped")
	return nil
}

func (m *HotReloadManager) handleFileChange(event FileEvent) {
	m.logger.Info("configuration file changed",
		zap.String("path", event.Path),
		zap.String("op", event.Op.String()))

	if event.Op == FileOpWrite || event.Op == FileOpCreate {
		if err := m.ReloadFromFile(); err != nil {
			m.logger.Error("failed to reload configuration", zap.Error(err))
		}
	}
}

// ReloadFromFile 从文件重新加载；失败时保留当前配置
func (m *HotReloadManager) ReloadFromFile() error {
	if m.configPath == "" {
		return fmt.Errorf("no config path set")
	}
	newConfig, err := NewLoader().WithConfigPath(m.configPath).WithStrict(true).Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	return m.ApplyConfig(newConfig, "file")
}

// ApplyConfig 校验并应用新配置。
// 校验、替换、历史和变更日志在同一把锁内完成；回调在锁外执行，
// 任一 ApplyFunc 失败或回调 panic 时回滚到旧配置。
func (m *HotReloadManager) ApplyConfig(newConfig *Config, source string) error {
	if err := newConfig.Validate(); err != nil {
		m.recordRejected(source, "(validate)", err)
		return fmt.Errorf("invalid config: %w", err)
	}

	m.mu.Lock()
	oldConfig := m.config

	if m.validateFunc != nil {
		if err := m.validateFunc(newConfig); err != nil {
			m.appendChangeLocked(ConfigChange{
				Timestamp: time.Now(),
				Source:    source,
				Path:      "(validation_hook)",
				Error:     fmt.Sprintf("validation hook failed: %v", err),
			})
			m.mu.Unlock()
			return fmt.Errorf("config validation failed: %w", err)
		}
	}

	changes := detectChanges(oldConfig, newConfig)
	for _, change := range changes {
		if field, ok := hotReloadableFields[change.Path]; ok && field.Validator != nil {
			if err := field.Validator(change.NewValue); err != nil {
				m.mu.Unlock()
				m.recordRejected(source, change.Path, err)
				return fmt.Errorf("validation failed for %s: %w", change.Path, err)
			}
		}
	}

	var requiresRestart bool
	now := time.Now()
	for i := range changes {
		c := &changes[i]
		c.Source = source
		c.Timestamp = now
		c.Applied = true
		field, known := hotReloadableFields[c.Path]
		c.RequiresRestart = !known || field.RequiresRestart
		if known && field.Sensitive {
			c.OldValue = redacted
			c.NewValue = redacted
		}
		requiresRestart = requiresRestart || c.RequiresRestart
		m.logChange(*c)
	}

	m.previousConfig = oldConfig
	m.config = deepCopyConfig(newConfig)
	m.pushHistory(m.config, source)
	m.appendChangeLocked(changes...)

	applied := m.config
	changeCallbacks := append([]ChangeCallback(nil), m.changeCallbacks...)
	reloadCallbacks := append([]ReloadCallback(nil), m.reloadCallbacks...)
	applyFuncs := append([]ApplyFunc(nil), m.applyFuncs...)
	m.mu.Unlock()

	if err := m.notify(applyFuncs, changeCallbacks, reloadCallbacks, oldConfig, applied, changes); err != nil {
		m.mu.Lock()
		if m.config == applied {
			m.rollbackLocked(oldConfig, fmt.Sprintf("apply error: %v", err), err)
		} else {
			m.logger.Warn("apply failed but config changed concurrently, skip rollback", zap.Error(err))
		}
		m.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrRolledBack, err)
	}

	if requiresRestart {
		m.logger.Warn("some configuration changes require a restart to take effect")
	}
	m.logger.Info("configuration reloaded",
		zap.Int("changes", len(changes)),
		zap.Bool("requires_restart", requiresRestart))
	return nil
}

const redacted = "[REDACTED]"

func (m *HotReloadManager) recordRejected(source, path string, err error) {
	m.logger.Warn("configuration rejected", zap.String("source", source), zap.String("path", path), zap.Error(err))
	m.mu.Lock()
	m.appendChangeLocked(ConfigChange{
		Timestamp: time.Now(),
		Source:    source,
		Path:      path,
		Error:     err.Error(),
	})
	m.mu.Unlock()
}

func (m *HotReloadManager) appendChangeLocked(changes ...ConfigChange) {
	m.changeLog = append(m.changeLog, changes...)
	if len(m.changeLog) > 1000 {
		m.changeLog = m.changeLog[len(m.changeLog)-1000:]
	}
}

// notify 先执行 ApplyFunc，再通知观察者；panic 转为错误
func (m *HotReloadManager) notify(applyFuncs []ApplyFunc, changeCallbacks []ChangeCallback, reloadCallbacks []ReloadCallback, oldConfig, newConfig *Config, changes []ConfigChange) (retErr error) {
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("callback panicked: %v", r)
		}
	}()
	for _, fn := range applyFuncs {
		if err := fn(oldConfig, newConfig); err != nil {
			return err
		}
	}
	for _, cb := range changeCallbacks {
		for _, change := range changes {
			cb(change)
		}
	}
	for _, cb := range reloadCallbacks {
		cb(oldConfig, newConfig)
	}
	return nil
}

// detectChanges 逐字段比较新旧配置
func detectChanges(oldConfig, newConfig *Config) []ConfigChange {
	var changes []ConfigChange
	compareStructs("", reflect.ValueOf(oldConfig).Elem(), reflect.ValueOf(newConfig).Elem(), &changes)
	return changes
}

func compareStructs(prefix string, oldVal, newVal reflect.Value, changes *[]ConfigChange) {
	t := oldVal.Type()
	for i := 0; i < oldVal.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		path := field.Name
		if prefix != "" {
			path = prefix + "." + field.Name
		}
		oldField, newField := oldVal.Field(i), newVal.Field(i)
		if oldField.Kind() == reflect.Struct {
			compareStructs(path, oldField, newField, changes)
			continue
		}
		if !reflect.DeepEqual(oldField.Interface(), newField.Interface()) {
			*changes = append(*changes, ConfigChange{
				Path:     path,
				OldValue: oldField.Interface(),
				NewValue: newField.Interface(),
			})
		}
	}
}

func (m *HotReloadManager) logChange(change ConfigChange) {
	fields := []zap.Field{
		zap.String("path", change.Path),
		zap.String("source", change.Source),
		zap.Bool("requires_restart", change.RequiresRestart),
	}
	if field, known := hotReloadableFields[change.Path]; !known || !field.Sensitive {
		fields = append(fields,
			zap.Any("old_value", change.OldValue),
			zap.Any("new_value", change.NewValue),
		)
	}
	m.logger.Info("configuration changed", fields...)
}

// OnChange 注册字段变更回调
func (m *HotReloadManager) OnChange(callback ChangeCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changeCallbacks = append(m.changeCallbacks, callback)
}

// OnReload 注册配置重新加载回调
func (m *HotReloadManager) OnReload(callback ReloadCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloadCallbacks = append(m.reloadCallbacks, callback)
}

// OnApply 注册把配置推送到运行组件的函数
func (m *HotReloadManager) OnApply(fn ApplyFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyFuncs = append(m.applyFuncs, fn)
}

// OnRollback 注册回滚事件回调
func (m *HotReloadManager) OnRollback(callback RollbackCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollbackCallbacks = append(m.rollbackCallbacks, callback)
}

// Rollback 重新应用上一个配置。与普通变更一样经过校验和 ApplyFunc，
// 运行中的组件因此和配置保持一致。
func (m *HotReloadManager) Rollback() error {
	m.mu.RLock()
	prev := m.previousConfig
	m.mu.RUnlock()
	if prev == nil {
		return fmt.Errorf("no previous config available for rollback")
	}
	return m.ApplyConfig(deepCopyConfig(prev), "rollback")
}

// RollbackToVersion 重新应用历史中的指定版本
func (m *HotReloadManager) RollbackToVersion(version int) error {
	m.mu.RLock()
	var target *Config
	for _, snapshot := range m.configHistory {
		if snapshot.Version == version {
			target = deepCopyConfig(snapshot.Config)
			break
		}
	}
	m.mu.RUnlock()
	if target == nil {
		return fmt.Errorf("config version %d not found in history", version)
	}
	return m.ApplyConfig(target, "rollback")
}

// rollbackLocked 调用方必须持有写锁
func (m *HotReloadManager) rollbackLocked(target *Config, reason string, cause error) {
	failed := m.config
	restored := deepCopyConfig(target)
	m.config = restored

	version := 0
	checksum := computeConfigChecksum(target)
	for _, snapshot := range m.configHistory {
		if snapshot.Checksum == checksum {
			version = snapshot.Version
			break
		}
	}

	m.appendChangeLocked(ConfigChange{
		Timestamp: time.Now(),
		Source:    "rollback",
		Path:      "(rollback)",
		Applied:   true,
		Error:     reason,
	})

	event := RollbackEvent{
		Timestamp:      time.Now(),
		Reason:         reason,
		FailedConfig:   failed,
		RestoredConfig: restored,
		Version:        version,
		Error:          cause,
	}
	for _, cb := range m.rollbackCallbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("rollback callback panicked", zap.Any("panic", r))
				}
			}()
			cb(event)
		}()
	}

	m.logger.Warn("configuration rolled back",
		zap.String("reason", reason),
		zap.Int("restored_version", version))
}

// GetConfigHistory 返回配置历史副本
func (m *HotReloadManager) GetConfigHistory() []ConfigSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ConfigSnapshot, len(m.configHistory))
	copy(out, m.configHistory)
	return out
}

// GetCurrentVersion 返回最新的历史版本号
func (m *HotReloadManager) GetCurrentVersion() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.configHistory) == 0 {
		return 0
	}
	return m.configHistory[len(m.configHistory)-1].Version
}

// GetConfig 返回当前配置的深拷贝
func (m *HotReloadManager) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return deepCopyConfig(m.config)
}

// GetChangeLog 返回最近 limit 条变更，limit<=0 返回全部
func (m *HotReloadManager) GetChangeLog(limit int) []ConfigChange {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.changeLog) {
		limit = len(m.changeLog)
	}
	out := make([]ConfigChange, limit)
	copy(out, m.changeLog[len(m.changeLog)-limit:])
	return out
}

// UpdateField 修改单个已登记字段，例如 UpdateField("Scheduler.LearningRate", 0.01)
func (m *HotReloadManager) UpdateField(path string, value any) error {
	return m.UpdateFields(map[string]any{path: value})
}

// UpdateFields 把多个字段作为一次变更应用：任一字段无法设置时什么都不改，
// ApplyFunc 也只看到一次完整的新旧配置。
func (m *HotReloadManager) UpdateFields(updates map[string]any) error {
	if len(updates) == 0 {
		return fmt.Errorf("no updates provided")
	}
	paths := make([]string, 0, len(updates))
	for path := range updates {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	next := m.GetConfig()
	var errs []error
	for _, path := range paths {
		if _, known := hotReloadableFields[path]; !known {
			errs = append(errs, fmt.Errorf("unknown configuration field: %s", path))
			continue
		}
		if err := setNestedField(reflect.ValueOf(next).Elem(), path, updates[path]); err != nil {
			errs = append(errs, fmt.Errorf("failed to set %s: %w", path, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return m.ApplyConfig(next, "api")
}

// getFieldValue 读取当前配置中的字段值
func (m *HotReloadManager) getFieldValue(path string) (any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return getNestedField(reflect.ValueOf(m.config).Elem(), path)
}

// GetHotReloadableFields 返回已登记字段的副本
func GetHotReloadableFields() map[string]HotReloadableField {
	return maps.Clone(hotReloadableFields)
}

// IsHotReloadable 字段是否可以不重启生效
func IsHotReloadable(path string) bool {
	field, known := hotReloadableFields[path]
	return known && !field.RequiresRestart
}

// --- API 脱敏配置视图 ---

// SanitizedConfig 返回敏感字段已脱敏的配置
func (m *HotReloadManager) SanitizedConfig() map[string]any {
	m.mu.RLock()
	data, err := json.Marshal(m.config)
	m.mu.RUnlock()
	if err != nil {
		return nil
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	redactSensitiveFields(result)
	return result
}

var sensitiveKeys = []string{"password", "apikey", "api_key", "secret", "token", "credential"}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	return slices.ContainsFunc(sensitiveKeys, func(s string) bool { return strings.Contains(lower, s) })
}

// redactSensitiveFields 原地脱敏；空值保持原样，便于看出字段未配置
func redactSensitiveFields(data map[string]any) {
	for key, value := range data {
		if nested, ok := value.(map[string]any); ok {
			redactSensitiveFields(nested)
			continue
		}
		if !isSensitiveKey(key) {
			continue
		}
		switch v := value.(type) {
		case string:
			if v != "" {
				data[key] = redacted
			}
		case []any:
			if len(v) > 0 {
				data[key] = redacted
			}
		}
	}
}

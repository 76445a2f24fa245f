// 配置文件变更监听器实现。
//
// 轮询文件的修改时间与内容摘要，去抖后触发回调。
package config

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

// --- 文件监听器类型定义 ---

// FileWatcher 轮询监视配置文件
type FileWatcher struct {
	mu sync.RWMutex

	paths         []string
	debounceDelay time.Duration
	pollInterval  time.Duration

	running  bool
	stopChan chan struct{}
	events   chan FileEvent

	callbacks []func(event FileEvent)

	logger *zap.Logger

	// 每个路径最后一次观察到的状态
	seen map[string]fileState
}

type fileState struct {
	modTime time.Time
	digest  [sha256.Size]byte
}

// FileEvent 一次文件变更
type FileEvent struct {
	Path      string    `json:"path"`
	Op        FileOp    `json:"op"`
	Timestamp time.Time `json:"timestamp"`
	Error     error     `json:"error,omitempty"`
}

// FileOp 文件操作类型
type FileOp int

const (
	FileOpCreate FileOp = iota
	FileOpWrite
	FileOpRemove
)

func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "CREATE"
	case FileOpWrite:
		return "WRITE"
	case FileOpRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

// --- 文件监听器选项 ---

// WatcherOption 配置 FileWatcher
type WatcherOption func(*FileWatcher)

// WithDebounceDelay 同一路径在该时间内的多次变更合并为一次回调
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		w.debounceDelay = d
	}
}

// WithPollInterval 设置轮询间隔
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithWatcherLogger 设置记录器
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *FileWatcher) {
		w.logger = logger
	}
}

// --- 文件监听器实现 ---

// NewFileWatcher 创建监听器；不存在的路径会在创建时触发 CREATE
func NewFileWatcher(paths []string, opts ...WatcherOption) (*FileWatcher, error) {
	w := &FileWatcher{
		debounceDelay: 100 * time.Millisecond,
		pollInterval:  time.Second,
		stopChan:      make(chan struct{}),
		events:        make(chan FileEvent, 64),
		seen:          make(map[string]fileState),
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}

	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve path %s: %w", path, err)
		}
		if _, err := os.Stat(abs); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to stat path %s: %w", abs, err)
			}
			w.logger.Warn("config file does not exist, will watch for creation", zap.String("path", abs))
		}
		w.paths = append(w.paths, abs)
	}
	return w, nil
}

// OnChange 注册回调
func (w *FileWatcher) OnChange(callback func(FileEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start 开始轮询，直到 ctx 取消或 Stop
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	for _, path := range w.paths {
		if st, ok := readState(path); ok {
			w.seen[path] = st
		}
	}
	w.mu.Unlock()

	go w.pollLoop(ctx)
	go w.dispatchLoop(ctx)

	w.logger.Info("file watcher started",
		zap.Strings("paths", w.paths),
		zap.Duration("poll_interval", w.pollInterval),
		zap.Duration("debounce_delay", w.debounceDelay))
	return nil
}

// Stop 停止监听。幂等。
func (w *FileWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return nil
	}
	close(w.stopChan)
	w.running = false
	w.logger.Info("file watcher stopped")
	return nil
}

func (w *FileWatcher) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			for _, evt := range w.checkFiles() {
				select {
				case w.events <- evt:
				default:
					w.logger.Warn("file event dropped, dispatcher busy", zap.String("path", evt.Path))
				}
			}
		}
	}
}

func readState(path string) (fileState, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return fileState{}, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fileState{}, false
	}
	return fileState{modTime: info.ModTime(), digest: sha256.Sum256(data)}, true
}

// checkFiles 比较每个路径的当前状态。
// 只改 mtime 不改内容（touch）不产生事件。
func (w *FileWatcher) checkFiles() []FileEvent {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out []FileEvent
	now := time.Now()
	for _, path := range w.paths {
		cur, exists := readState(path)
		prev, tracked := w.seen[path]
		switch {
		case !exists && tracked:
			delete(w.seen, path)
			out = append(out, FileEvent{Path: path, Op: FileOpRemove, Timestamp: now})
		case exists && !tracked:
			w.seen[path] = cur
			out = append(out, FileEvent{Path: path, Op: FileOpCreate, Timestamp: now})
		case exists && cur.digest != prev.digest:
			w.seen[path] = cur
			out = append(out, FileEvent{Path: path, Op: FileOpWrite, Timestamp: now})
		case exists:
			w.seen[path] = cur
		}
	}
	return out
}

// dispatchLoop 合并去抖窗口内的事件，每个路径只保留最后一个
func (w *FileWatcher) dispatchLoop(ctx context.Context) {
	pending := make(map[string]FileEvent)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case evt := <-w.events:
			pending[evt.Path] = evt
			timer.Reset(w.debounceDelay)
		case <-timer.C:
			w.mu.RLock()
			callbacks := slices.Clone(w.callbacks)
			w.mu.RUnlock()
			for _, evt := range pending {
				w.logger.Debug("dispatching file event",
					zap.String("path", evt.Path),
					zap.String("op", evt.Op.String()))
				for _, cb := range callbacks {
					cb(evt)
				}
			}
			clear(pending)
		}
	}
}

// AddPath 增加监视路径
func (w *FileWatcher) AddPath(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, p := range w.paths {
		if p == abs {
			return nil
		}
	}
	w.paths = append(w.paths, abs)
	if st, ok := readState(abs); ok {
		w.seen[abs] = st
	}
	return nil
}

// RemovePath 移除监视路径
func (w *FileWatcher) RemovePath(path string) error {
	abs, _ := filepath.Abs(path)
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, p := range w.paths {
		if p == abs {
			w.paths = append(w.paths[:i], w.paths[i+1:]...)
			delete(w.seen, abs)
			return nil
		}
	}
	return fmt.Errorf("path not found: %s", path)
}

// Paths 返回监视中的绝对路径
func (w *FileWatcher) Paths() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]string(nil), w.paths...)
}

// IsRunning 是否在运行
func (w *FileWatcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

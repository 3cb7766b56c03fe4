// 配置与数据夹具文件的变更监听。
//
// 基于轮询修改时间触发回调，多次连续变更在防抖窗口内合并为一次。
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// --- 文件监听器类型定义 ---

// FileOp 文件操作类型
type FileOp int

const (
	// FileOpCreate 文件被创建
	FileOpCreate FileOp = iota
	// FileOpWrite 文件被修改
	FileOpWrite
	// FileOpRemove 文件被删除
	FileOpRemove
)

// String returns the string representation of FileOp
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

// FileEvent 一次文件变更
type FileEvent struct {
	Path      string    `json:"path"`
	Op        FileOp    `json:"op"`
	Timestamp time.Time `json:"timestamp"`
}

// FileWatcher 监听一组文件（目录按其中文件的最新修改时间计）
type FileWatcher struct {
	mu        sync.Mutex
	paths     []string
	modTimes  map[string]time.Time
	callbacks []func(events []FileEvent)

	pollInterval  time.Duration
	debounceDelay time.Duration
	logger        *zap.Logger
}

// --- 文件监听器选项 ---

// WatcherOption configures the FileWatcher
type WatcherOption func(*FileWatcher)

// WithPollInterval 设置轮询间隔，默认 1s
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithDebounceDelay 设置防抖窗口，默认 200ms
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *FileWatcher) { w.debounceDelay = d }
}

// WithWatcherLogger sets the logger for the watcher
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *FileWatcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// --- 文件监听器实现 ---

// NewFileWatcher 创建监听器。不存在的路径会被记录，出现时触发 CREATE。
func NewFileWatcher(paths []string, opts ...WatcherOption) (*FileWatcher, error) {
	w := &FileWatcher{
		modTimes:      make(map[string]time.Time),
		pollInterval:  time.Second,
		debounceDelay: 200 * time.Millisecond,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "file_watcher"))

	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolve watch path %s: %w", p, err)
		}
		if seen[abs] {
			continue
		}
		seen[abs] = true
		w.paths = append(w.paths, abs)

		mt, err := modTime(abs)
		switch {
		case err == nil:
			w.modTimes[abs] = mt
		case os.IsNotExist(err):
			w.logger.Warn("watched path does not exist, waiting for creation", zap.String("path", abs))
		default:
			return nil, fmt.Errorf("stat watch path %s: %w", abs, err)
		}
	}
	return w, nil
}

// OnChange 注册回调；同一防抖窗口内的事件一次性交付，按路径排序
func (w *FileWatcher) OnChange(cb func(events []FileEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// Paths returns the watched absolute paths.
func (w *FileWatcher) Paths() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.paths...)
}

// Run 轮询直到 ctx 结束，回调在本 goroutine 中执行
func (w *FileWatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.Info("file watcher started",
		zap.Strings("paths", w.Paths()),
		zap.Duration("poll_interval", w.pollInterval))

	pending := make(map[string]FileEvent)
	var deadline time.Time

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("file watcher stopped")
			return ctx.Err()
		case now := <-ticker.C:
			for _, evt := range w.Check() {
				pending[evt.Path] = evt
				deadline = now.Add(w.debounceDelay)
			}
			if len(pending) > 0 && !now.Before(deadline) {
				w.dispatch(pending)
				pending = make(map[string]FileEvent)
			}
		}
	}
}

// Check 比较一次修改时间并返回变更事件，不触发回调
func (w *FileWatcher) Check() []FileEvent {
	w.mu.Lock()
	defer w.mu.Unlock()

	var events []FileEvent
	now := time.Now()
	for _, path := range w.paths {
		mt, err := modTime(path)
		last, tracked := w.modTimes[path]
		switch {
		case err != nil:
			if tracked && os.IsNotExist(err) {
				delete(w.modTimes, path)
				events = append(events, FileEvent{Path: path, Op: FileOpRemove, Timestamp: now})
			}
		case !tracked:
			w.modTimes[path] = mt
			events = append(events, FileEvent{Path: path, Op: FileOpCreate, Timestamp: now})
		case mt.After(last):
			w.modTimes[path] = mt
			events = append(events, FileEvent{Path: path, Op: FileOpWrite, Timestamp: now})
		}
	}
	return events
}

func (w *FileWatcher) dispatch(pending map[string]FileEvent) {
	events := make([]FileEvent, 0, len(pending))
	for _, evt := range pending {
		events = append(events, evt)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })

	w.mu.Lock()
	callbacks := append([]func([]FileEvent){}, w.callbacks...)
	w.mu.Unlock()

	for _, evt := range events {
		w.logger.Debug("file changed", zap.String("path", evt.Path), zap.Stringer("op", evt.Op))
	}
	for _, cb := range callbacks {
		cb(events)
	}
}

// modTime 返回文件的修改时间；目录取其直接子文件中的最新值
func modTime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	if !info.IsDir() {
		return info.ModTime(), nil
	}
	latest := info.ModTime()
	entries, err := os.ReadDir(path)
	if err != nil {
		return time.Time{}, err
	}
	for _, e := range entries {
		fi, err := e.Info()
		if err != nil {
			continue
		}
		if fi.ModTime().After(latest) {
			latest = fi.ModTime()
		}
	}
	return latest, nil
}

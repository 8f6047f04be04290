package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/insights"
	"github.com/Kocoro-lab/Shannon/go/research/internal/scoring"
)

// ReloadHandler receives the freshly loaded configuration.
type ReloadHandler func(cfg *Config) error

// Watcher reloads the config file (and any extra files, such as insight
// rules) when they change on disk.
type Watcher struct {
	path     string
	files    map[string]struct{}
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	handlers []ReloadHandler
}

// NewWatcher watches the directories holding path and extra. Editors often
// replace files by rename, so directories are watched rather than files.
func NewWatcher(path string, logger *zap.Logger, extra ...string) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	w := &Watcher{
		path:     ResolvePath(path),
		files:    make(map[string]struct{}),
		watcher:  fw,
		debounce: 200 * time.Millisecond,
		logger:   logger,
	}
	dirs := make(map[string]struct{})
	for _, f := range append([]string{w.path}, extra...) {
		if f == "" {
			continue
		}
		abs, err := filepath.Abs(f)
		if err != nil {
			_ = fw.Close()
			return nil, fmt.Errorf("resolve %s: %w", f, err)
		}
		w.files[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			_ = fw.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}
	return w, nil
}

// OnReload registers a handler.
func (w *Watcher) OnReload(h ReloadHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Run processes events until ctx is done, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("Config file event",
				zap.String("file", event.Name),
				zap.String("op", event.Op.String()),
			)
			timer.Reset(w.debounce)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", zap.Error(err))
		case <-timer.C:
			w.reload()
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	_, ok := w.files[abs]
	return ok
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("Config reload failed, keeping previous settings", zap.Error(err))
		return
	}

	w.mu.Lock()
	handlers := make([]ReloadHandler, len(w.handlers))
	copy(handlers, w.handlers)
	w.mu.Unlock()

	for _, h := range handlers {
		if err := h(cfg); err != nil {
			w.logger.Error("Config reload handler failed", zap.Error(err))
		}
	}
	w.logger.Info("Configuration reloaded", zap.String("path", w.path))
}

// ScoringAndInsights returns a handler that pushes the reloaded scoring
// constants and insight rules into live components.
func ScoringAndInsights(scorer *scoring.Calculator, extractor *insights.Extractor) ReloadHandler {
	return func(cfg *Config) error {
		if err := extractor.Reload(cfg.Insights); err != nil {
			return fmt.Errorf("reload insights: %w", err)
		}
		scorer.Update(cfg.Scoring)
		return nil
	}
}

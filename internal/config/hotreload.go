package config

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeHandler receives the previous and the newly loaded config.
type ChangeHandler func(prev, next *Config)

// Watcher reloads the config file when it changes on disk. The parent
// directory is watched so editors that replace the file on save are seen.
// Bursts of events are debounced.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	debounce time.Duration
	stopChan chan struct{}
	done     chan struct{}

	mu       sync.Mutex
	current  *Config
	handlers []ChangeHandler
}

// NewWatcher creates a watcher seeded with the config currently in effect.
func NewWatcher(configPath string, current *Config) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		path:     filepath.Clean(configPath),
		watcher:  w,
		debounce: 300 * time.Millisecond,
		current:  current,
	}, nil
}

// OnChange registers a handler called after each successful reload.
func (cw *Watcher) OnChange(handler ChangeHandler) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.handlers = append(cw.handlers, handler)
}

// Current returns the most recently loaded config.
func (cw *Watcher) Current() *Config {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return cw.current
}

func (cw *Watcher) Start() error {
	if err := cw.watcher.Add(filepath.Dir(cw.path)); err != nil {
		return err
	}
	cw.stopChan = make(chan struct{})
	cw.done = make(chan struct{})
	go cw.watchLoop()

	slog.Info("config.watcher_started", "path", cw.path)
	return nil
}

func (cw *Watcher) Stop() {
	if cw.stopChan != nil {
		close(cw.stopChan)
		<-cw.done
	}
	cw.watcher.Close()
}

func (cw *Watcher) watchLoop() {
	defer close(cw.done)
	var debounceTimer *time.Timer

	for {
		select {
		case <-cw.stopChan:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != cw.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(cw.debounce, cw.reload)

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("config.watcher_error", "error", err)
		}
	}
}

func (cw *Watcher) reload() {
	next, err := Load(cw.path)
	if err != nil {
		slog.Error("config.reload_failed", "path", cw.path, "error", err)
		return
	}

	cw.mu.Lock()
	prev := cw.current
	cw.current = next
	handlers := make([]ChangeHandler, len(cw.handlers))
	copy(handlers, cw.handlers)
	cw.mu.Unlock()

	for _, h := range handlers {
		h(prev, next)
	}
	slog.Info("config.reloaded", "path", cw.path)
}

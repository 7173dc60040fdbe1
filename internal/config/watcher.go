package config

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a config file for changes, reloads it, and exposes the
// latest snapshot through Retention and Config. Nothing in this repository
// constructs a Watcher or hands it to the scheduler, which keeps the
// retention values it was built with until the process restarts.
type Watcher struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	current *Config

	watcher *fsnotify.Watcher
	stop    chan struct{}
	done    chan struct{}
}

// NewWatcher creates a Watcher seeded with the already-loaded config.
func NewWatcher(path string, initial *Config, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}

	return &Watcher{
		path:    path,
		logger:  logger,
		current: initial,
		watcher: fw,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Retention returns the most recently loaded retention configuration.
func (w *Watcher) Retention() RetentionConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current.Retention
}

// Config returns the most recently loaded configuration snapshot.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	cfg := *w.current
	return &cfg
}

// Run starts watching for file-change events; call Stop to terminate.
func (w *Watcher) Run() {
	go w.loop()
}

// Stop closes the underlying fsnotify watcher and waits for the loop to
// exit.
func (w *Watcher) Stop() {
	close(w.stop)
	<-w.done
	w.watcher.Close()
}

// loop debounces rapid-fire write events (editors often emit several
// per save) before reloading, matching the teacher's fsnotify usage
// pattern of a short settle delay between event and reload.
func (w *Watcher) loop() {
	defer close(w.done)

	const debounce = 250 * time.Millisecond
	var timer *time.Timer

	for {
		select {
		case <-w.stop:
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer == nil {
				timer = time.AfterFunc(debounce, w.reload)
			} else {
				timer.Reset(debounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	next, err := Load(w.path)
	if err != nil {
		w.logger.Error("config reload failed, keeping previous configuration", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	prev := w.current
	w.current = next
	w.mu.Unlock()

	if prev.Retention != next.Retention {
		w.logger.Info("retention configuration reloaded",
			"day_shards", next.Retention.DayShards,
			"month_shards", next.Retention.MonthShards,
			"year_shards", next.Retention.YearShards)
	}
}

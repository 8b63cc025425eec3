package config

import (
	"os"
	"sync"
	"time"
)

// Watcher polls a config file and invokes a callback with the freshly
// parsed, validated config whenever the file changes. Changes are
// debounced so an editor writing the file in several syscalls triggers a
// single reload.
type Watcher struct {
	path     string
	interval time.Duration
	debounce time.Duration
	onChange func(old, new *Config)

	mu      sync.Mutex
	current *Config
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// WatcherConfig holds config watcher configuration.
type WatcherConfig struct {
	FilePath     string
	PollInterval time.Duration // Default: 100ms
	Debounce     time.Duration // Default: 200ms
	OnChange     func(old, new *Config)
}

// NewWatcher creates a watcher for the given file. The file must exist
// and parse cleanly at construction time; the resulting config becomes
// the watcher's baseline.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.FilePath == "" {
		return nil, ErrMissingConfigFile
	}
	if cfg.OnChange == nil {
		return nil, ErrMissingOnChange
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 200 * time.Millisecond
	}

	initial, err := LoadConfig(cfg.FilePath)
	if err != nil {
		return nil, err
	}

	return &Watcher{
		path:     cfg.FilePath,
		interval: cfg.PollInterval,
		debounce: cfg.Debounce,
		onChange: cfg.OnChange,
		current:  initial,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start launches the polling goroutine. Starting an already-running
// watcher has no effect.
func (w *Watcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	go w.loop()
}

// Stop halts the polling goroutine and waits for it to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stop)
	<-w.done
}

// IsRunning reports whether the polling goroutine is active.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Current returns the most recently loaded config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

func (w *Watcher) loop() {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	lastMod, lastSize := w.statFile()
	var changedAt time.Time

	for {
		select {
		case <-w.stop:
			return
		case now := <-ticker.C:
			mod, size := w.statFile()
			if mod != lastMod || size != lastSize {
				lastMod, lastSize = mod, size
				changedAt = now
				continue
			}
			// Reload only once the file has been quiet for the debounce
			// window.
			if !changedAt.IsZero() && now.Sub(changedAt) >= w.debounce {
				changedAt = time.Time{}
				w.reload()
			}
		}
	}
}

func (w *Watcher) statFile() (time.Time, int64) {
	info, err := os.Stat(w.path)
	if err != nil {
		return time.Time{}, -1
	}
	return info.ModTime(), info.Size()
}

func (w *Watcher) reload() {
	next, err := LoadConfig(w.path)
	if err != nil {
		return
	}
	if errs := ValidateConfig(next); len(errs) > 0 {
		return
	}

	w.mu.Lock()
	prev := w.current
	w.current = next
	w.mu.Unlock()

	w.onChange(prev, next)
}

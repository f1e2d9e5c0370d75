package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

const defaultWatchInterval = 5 * time.Second

// fileState identifies one version of the watched file.
type fileState struct {
	mtime time.Time
	sum   [sha256.Size]byte
}

// Watcher polls a config file and hands every valid new version to
// onChange. An invalid edit is logged once and the previous config stays
// current until the file is fixed.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu       sync.Mutex
	current  *Config
	applied  fileState
	rejected fileState

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and polls it in the background until
// [Watcher.Stop]. onChange may be nil.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: defaultWatchInterval, onChange: onChange, done: make(chan struct{})}
	for _, o := range opts {
		o(w)
	}

	cfg, st, err := readConfig(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current, w.applied = cfg, st

	go w.loop()
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) loop() {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-t.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config file unavailable", "path", w.path, "err", err)
		return
	}
	w.mu.Lock()
	seen := info.ModTime().Equal(w.applied.mtime) || info.ModTime().Equal(w.rejected.mtime)
	w.mu.Unlock()
	if seen {
		return
	}

	cfg, st, err := readConfig(w.path)

	w.mu.Lock()
	switch {
	case err != nil:
		repeat := st.sum == w.rejected.sum
		w.rejected = st
		w.mu.Unlock()
		if !repeat {
			slog.Warn("config edit rejected, keeping previous settings", "path", w.path, "err", err)
		}
		return
	case st.sum == w.applied.sum:
		// Touched or reverted to the applied content.
		w.applied = st
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current, w.applied, w.rejected = cfg, st, fileState{}
	w.mu.Unlock()

	slog.Info("config file changed", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

// readConfig loads and validates path. The returned state is filled in
// whenever the file could be read, even if it is invalid.
func readConfig(path string) (*Config, fileState, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fileState{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fileState{}, err
	}
	st := fileState{mtime: info.ModTime(), sum: sha256.Sum256(data)}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	return cfg, st, err
}

package config

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] stats the config file.
const DefaultWatchInterval = 5 * time.Second

// fingerprint identifies one version of the config file.
type fingerprint struct {
	modTime time.Time
	size    int64
	sum     [sha256.Size]byte
}

// Watcher reloads a config file when it changes and reports the new
// configuration to a callback. Environment overrides are applied on every
// load, so a reload never loses them.
//
// The file is polled: a stat per interval, and a read only when the
// modification time or size moved. Edits that leave the effective
// configuration unchanged (comments, reordering) do not reach the callback.
// An invalid file is reported and the last valid configuration stays in
// effect.
type Watcher struct {
	path     string
	interval time.Duration
	lookup   LookupFunc
	onChange func(old, new *Config)
	onError  func(error)

	// reloadMu serialises reloads from the poll loop and from Reload.
	reloadMu sync.Mutex
	last     fingerprint

	mu      sync.Mutex
	current *Config

	stop     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default: [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithEnv sets the environment applied on every load. Default: [os.LookupEnv].
func WithEnv(lookup LookupFunc) WatcherOption {
	return func(w *Watcher) { w.lookup = lookup }
}

// WithErrorHandler receives reload failures. Default: a warning log.
func WithErrorHandler(fn func(error)) WatcherOption {
	return func(w *Watcher) { w.onError = fn }
}

// NewWatcher loads path and starts watching it. onChange is called from the
// watcher goroutine, outside any lock, with the previous and the new config.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		lookup:   os.LookupEnv,
		onChange: onChange,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	w.onError = func(err error) {
		slog.Warn("config watcher: keeping previous configuration", "path", w.path, "err", err)
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, fp, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.last = fp

	go w.loop()
	return w, nil
}

// Current returns the configuration in effect.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Reload re-reads the file now, regardless of its modification time, and
// reports whether the effective configuration changed. Use it to reload on
// SIGHUP.
func (w *Watcher) Reload() (bool, error) {
	return w.reload(true)
}

// Stop ends polling and waits for the watcher goroutine to exit. It is safe
// to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.stopped
}

func (w *Watcher) loop() {
	defer close(w.stopped)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			if _, err := w.reload(false); err != nil {
				w.onError(err)
			}
		}
	}
}

// reload loads the file when forced or when its stat changed, and swaps in
// the result when it differs from the current configuration.
func (w *Watcher) reload(force bool) (bool, error) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	if !force {
		info, err := os.Stat(w.path)
		if err != nil {
			return false, fmt.Errorf("stat %s: %w", w.path, err)
		}
		if info.ModTime().Equal(w.last.modTime) && info.Size() == w.last.size {
			return false, nil
		}
		// A broken file is reported once, not on every tick.
		w.last.modTime, w.last.size = info.ModTime(), info.Size()
	}

	cfg, fp, err := w.load()
	if err != nil {
		return false, err
	}
	sameBytes := fp.sum == w.last.sum
	w.last = fp
	if sameBytes && !force {
		return false, nil
	}

	w.mu.Lock()
	old := w.current
	if !Diff(old, cfg).Changed() {
		w.mu.Unlock()
		return false, nil
	}
	w.current = cfg
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
	return true, nil
}

// load reads and validates the file.
func (w *Watcher) load() (*Config, fingerprint, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fingerprint{}, errors.New("config file is empty")
	}
	cfg, err := LoadFromReaderWithEnv(bytes.NewReader(data), w.lookup)
	if err != nil {
		return nil, fingerprint{}, err
	}
	return cfg, fingerprint{modTime: info.ModTime(), size: info.Size(), sum: sha256.Sum256(data)}, nil
}

package config

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Watcher polls the config file's modification time and, when it moves,
// reloads the file and hands the new config plus its diff to the apply
// callback. Polling keeps the daemon dependency-free on platform notify APIs.
type Watcher struct {
	path     string
	interval time.Duration
	logger   *slog.Logger
	apply    func(*Config, ReloadResult)
	current  *Config
	lastMod  time.Time
}

// NewWatcher creates a watcher over the given path. current is the config the
// daemon booted with; diffs are computed against the last applied config.
func NewWatcher(path string, current *Config, interval time.Duration, logger *slog.Logger, apply func(*Config, ReloadResult)) *Watcher {
	return &Watcher{
		path:     path,
		interval: interval,
		logger:   logger.With("component", "configwatcher"),
		apply:    apply,
		current:  current,
	}
}

// Run polls until the context is cancelled
func (w *Watcher) Run(ctx context.Context) error {
	if info, err := os.Stat(w.path); err == nil {
		w.lastMod = info.ModTime()
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("config watcher started", "path", w.path, "interval", w.interval)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("config watcher stopped")
			return ctx.Err()
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.logger.Warn("cannot stat config file", "path", w.path, "error", err)
		return
	}

	modTime := info.ModTime()
	if !modTime.After(w.lastMod) {
		return
	}
	w.lastMod = modTime

	next, err := Load(w.path)
	if err != nil {
		w.logger.Error("config changed but failed to load, keeping previous", "error", err)
		return
	}

	res := Diff(w.current, next)
	if len(res.Changed) == 0 {
		return
	}

	w.logger.Info("config file changed",
		"changed", res.Changed, "applied", res.Applied, "restart_needed", res.Skipped)
	if w.apply != nil {
		w.apply(next, res)
	}
	w.current = next
}

package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeTestConfig(t *testing.T, path string, cfg *Config) {
	t.Helper()
	if err := cfg.Save(path); err != nil {
		t.Fatalf("failed to save config: %v", err)
	}
}

func TestWatcherAppliesChange(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	cfg := DefaultConfig()
	cfg.Server.DataDir = filepath.Join(tmpDir, "data")
	writeTestConfig(t, path, cfg)

	applied := make(chan ReloadResult, 1)
	w := NewWatcher(path, cfg, 10*time.Millisecond, testLogger(), func(next *Config, res ReloadResult) {
		applied <- res
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Give the watcher a tick to record the initial mod time
	time.Sleep(50 * time.Millisecond)

	next := DefaultConfig()
	next.Server.DataDir = cfg.Server.DataDir
	next.Evolution.MutationRate = 0.42
	writeTestConfig(t, path, next)
	// Force a visibly newer mod time for coarse-grained filesystems
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("failed to bump mod time: %v", err)
	}

	select {
	case res := <-applied:
		if len(res.Changed) != 1 || res.Changed[0] != "Evolution" {
			t.Errorf("expected Evolution change, got %v", res.Changed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not report the change in time")
	}
}

func TestWatcherIgnoresBrokenFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	cfg := DefaultConfig()
	cfg.Server.DataDir = filepath.Join(tmpDir, "data")
	writeTestConfig(t, path, cfg)

	applied := make(chan ReloadResult, 1)
	w := NewWatcher(path, cfg, 10*time.Millisecond, testLogger(), func(next *Config, res ReloadResult) {
		applied <- res
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	time.Sleep(50 * time.Millisecond)

	if err := os.WriteFile(path, []byte("{not json"), 0640); err != nil {
		t.Fatalf("failed to write broken config: %v", err)
	}
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("failed to bump mod time: %v", err)
	}

	select {
	case res := <-applied:
		t.Errorf("expected broken config to be ignored, got %v", res.Changed)
	case <-time.After(300 * time.Millisecond):
		// No apply call is the expected outcome
	}
}

func TestWatcherStopsOnCancel(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	cfg := DefaultConfig()
	cfg.Server.DataDir = filepath.Join(tmpDir, "data")
	writeTestConfig(t, path, cfg)

	w := NewWatcher(path, cfg, 10*time.Millisecond, testLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	cancel()

	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop on cancel")
	}
}

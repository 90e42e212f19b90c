package main

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"
)

func signalSelf(t *testing.T, sig os.Signal, after time.Duration) {
	t.Helper()
	go func() {
		time.Sleep(after)
		p, _ := os.FindProcess(os.Getpid())
		_ = p.Signal(sig)
	}()
}

func TestWatchSignals_Shutdown(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := saveTestConfig(t, tmpDir, nil)

	app, err := setup(configPath)
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	defer app.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalSelf(t, syscall.SIGINT, 100*time.Millisecond)

	if err := watchSignals(ctx, app, cancel); err != nil {
		t.Errorf("watchSignals returned error: %v", err)
	}

	select {
	case <-ctx.Done():
	default:
		t.Error("expected context cancelled after shutdown signal")
	}
}

func TestWatchSignals_SIGHUPContinues(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := saveTestConfig(t, tmpDir, nil)

	app, err := setup(configPath)
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	defer app.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SIGHUP reloads and keeps watching; SIGINT then shuts down.
	signalSelf(t, syscall.SIGHUP, 100*time.Millisecond)
	signalSelf(t, syscall.SIGINT, 250*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- watchSignals(ctx, app, cancel) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("watchSignals returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watchSignals did not return after SIGINT")
	}
}

func TestWatchSignals_ContextCancelled(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := saveTestConfig(t, tmpDir, nil)

	app, err := setup(configPath)
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	defer app.Close()

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- watchSignals(ctx, app, cancel) }()

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("watchSignals returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watchSignals did not return after context cancel")
	}
}

//go:build !windows

package main

import (
	"os"
	"syscall"
)

// shutdownSignals returns the signals to listen for on Unix systems
func shutdownSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1}
}

// handlePlatformSignal handles platform-specific signals, returns true if should continue loop
func handlePlatformSignal(sig os.Signal, app *App) bool {
	switch sig {
	case syscall.SIGHUP:
		app.Logger.Info("reload signal received")
		app.ReloadConfig()
		return true
	case syscall.SIGUSR1:
		stats := app.Orchestrator.Stats()
		app.Logger.Info("status signal received",
			"agents", stats.TotalAgents,
			"active", stats.ActiveAgents,
			"tasks", stats.TotalTasks,
			"uptime_seconds", stats.UptimeSeconds,
		)
		return true
	}
	return false
}

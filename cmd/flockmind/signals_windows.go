//go:build windows

package main

import (
	"os"
	"syscall"
)

// shutdownSignals returns the signals to listen for on Windows.
func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM}
}

// handlePlatformSignal is a no-op on Windows; every delivered signal
// shuts the daemon down.
func handlePlatformSignal(sig os.Signal, app *App) bool {
	return false
}

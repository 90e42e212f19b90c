// Package hooks is the boundary a host agent runtime calls into at
// lifecycle points. Hooks never fail the host: registration problems
// are logged and swallowed, and unmatched loop ends are ignored.
package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flockmind/flockmind/internal/orchestrator"
)

// Hooks tracks in-flight loops per agent and feeds their outcomes into
// the orchestrator's metrics.
type Hooks struct {
	orch   *orchestrator.Orchestrator
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	starts map[string]time.Time
}

// New binds hooks to an orchestrator.
func New(orch *orchestrator.Orchestrator, logger *slog.Logger) *Hooks {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hooks{
		orch:   orch,
		logger: logger.With("component", "hooks"),
		now:    time.Now,
		starts: make(map[string]time.Time),
	}
}

// AgentCreated registers a newly created host agent under a stable id
// derived from its number and session. The returned id is empty when
// registration fails; the host keeps running either way.
func (h *Hooks) AgentCreated(ctx context.Context, handle any, number int, sessionID string) string {
	id := fmt.Sprintf("agent_%d_%s", number, sessionID)
	assigned, err := h.orch.RegisterAgent(ctx, handle, id)
	if err != nil {
		h.logger.Warn("agent registration failed", "agent_id", id, "error", err)
		return ""
	}
	return assigned
}

// LoopStarted marks the beginning of a message loop for a registered
// agent. Unregistered ids are ignored. A second start before the loop
// ends restarts the clock.
func (h *Hooks) LoopStarted(agentID string) {
	if agentID == "" {
		return
	}
	if _, ok := h.orch.Agent(agentID); !ok {
		return
	}
	h.mu.Lock()
	h.starts[agentID] = h.now()
	h.mu.Unlock()
}

// LoopEnded closes out a loop opened by LoopStarted, recording the
// elapsed time as one task outcome. Each start is consumed by at most
// one end; an end with no matching start reports false and records
// nothing.
func (h *Hooks) LoopEnded(ctx context.Context, agentID string, success bool) bool {
	h.mu.Lock()
	start, ok := h.starts[agentID]
	if ok {
		delete(h.starts, agentID)
	}
	h.mu.Unlock()
	if !ok {
		return false
	}

	elapsed := h.now().Sub(start).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	return h.orch.RecordOutcome(ctx, agentID, success, elapsed)
}

// InFlight reports how many loops are currently open.
func (h *Hooks) InFlight() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.starts)
}

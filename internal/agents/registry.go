package agents

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrDuplicateID is returned when registering an id that is already live.
var ErrDuplicateID = errors.New("agent id already registered")

// State identifies where an agent is in its lifecycle
type State string

const (
	StateInitializing State = "initializing"
	StateActive       State = "active"
	StateIdle         State = "idle"
	StateLearning     State = "learning"
	StateEvolving     State = "evolving"
	StateTerminated   State = "terminated"
)

// Metrics tracks an agent's observed task outcomes
type Metrics struct {
	AgentID         string     `json:"agent_id"`
	TasksCompleted  int64      `json:"tasks_completed"`
	TasksFailed     int64      `json:"tasks_failed"`
	AvgResponseTime float64    `json:"avg_response_time"` // seconds
	SuccessRate     float64    `json:"success_rate"`
	LastActivity    *time.Time `json:"last_activity,omitempty"`
}

// TotalTasks returns the number of outcomes observed for the agent
func (m Metrics) TotalTasks() int64 {
	return m.TasksCompleted + m.TasksFailed
}

// Record is a point-in-time snapshot of a registered agent. The handle is the
// host's opaque reference to the underlying agent implementation; the registry
// holds it for identity only and never inspects or calls into it.
type Record struct {
	ID        string    `json:"id"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	Metrics   Metrics   `json:"metrics"`
	Handle    any       `json:"-"`
}

type agent struct {
	id        string
	state     State
	createdAt time.Time
	handle    any
	metrics   Metrics
	mu        sync.RWMutex
}

func (a *agent) snapshot() Record {
	a.mu.RLock()
	defer a.mu.RUnlock()

	m := a.metrics
	if a.metrics.LastActivity != nil {
		t := *a.metrics.LastActivity
		m.LastActivity = &t
	}
	return Record{
		ID:        a.id,
		State:     a.state,
		CreatedAt: a.createdAt,
		Metrics:   m,
		Handle:    a.handle,
	}
}

// Registry manages the live agent population and its metrics
type Registry struct {
	agents map[string]*agent
	logger *slog.Logger
	mu     sync.RWMutex
}

// NewRegistry creates an empty agent registry
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		agents: make(map[string]*agent),
		logger: logger.With("component", "registry"),
	}
}

// Register adds an agent under the given id, generating one when id is empty.
// The returned id is the one the agent is registered under. Registering an id
// that is already live fails with ErrDuplicateID.
func (r *Registry) Register(handle any, id string) (string, error) {
	if id == "" {
		id = NewAgentID()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[id]; exists {
		return "", fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}

	r.agents[id] = &agent{
		id:        id,
		state:     StateActive,
		createdAt: time.Now(),
		handle:    handle,
		metrics:   Metrics{AgentID: id},
	}

	r.logger.Info("agent registered", "id", id, "total", len(r.agents))
	return id, nil
}

// Unregister terminates an agent and removes it from the live set. Absent ids
// are a no-op. The agent's graph node, owned elsewhere, is untouched.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return false
	}

	a.mu.Lock()
	a.state = StateTerminated
	a.mu.Unlock()
	delete(r.agents, id)

	r.logger.Info("agent unregistered", "id", id, "total", len(r.agents))
	return true
}

// Get returns a snapshot of the agent, if live
func (r *Registry) Get(id string) (Record, bool) {
	r.mu.RLock()
	a, ok := r.agents[id]
	r.mu.RUnlock()

	if !ok {
		return Record{}, false
	}
	return a.snapshot(), true
}

// List returns snapshots of all live agents
func (r *Registry) List() []Record {
	r.mu.RLock()
	agents := make([]*agent, 0, len(r.agents))
	for _, a := range r.agents {
		agents = append(agents, a)
	}
	r.mu.RUnlock()

	out := make([]Record, 0, len(agents))
	for _, a := range agents {
		out = append(out, a.snapshot())
	}
	return out
}

// ListActive returns snapshots of agents in the active state
func (r *Registry) ListActive() []Record {
	var out []Record
	for _, rec := range r.List() {
		if rec.State == StateActive {
			out = append(out, rec)
		}
	}
	return out
}

// Count returns the number of live agents
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// SetState updates an agent's lifecycle state. Absent ids are a no-op.
func (r *Registry) SetState(id string, state State) bool {
	r.mu.RLock()
	a, ok := r.agents[id]
	r.mu.RUnlock()

	if !ok {
		return false
	}

	a.mu.Lock()
	a.state = state
	a.mu.Unlock()

	r.logger.Debug("agent state changed", "id", id, "state", state)
	return true
}

// RecordOutcome applies one observed task outcome to an agent's metrics:
// counters, cumulative mean response time, success rate, last activity.
// Unknown ids are a no-op so the host's task loop never aborts on a stale id.
// Callers report each outcome at most once; double-counting is theirs to avoid.
func (r *Registry) RecordOutcome(id string, success bool, responseSeconds float64) bool {
	r.mu.RLock()
	a, ok := r.agents[id]
	r.mu.RUnlock()

	if !ok {
		r.logger.Debug("outcome for unknown agent dropped", "id", id)
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if success {
		a.metrics.TasksCompleted++
	} else {
		a.metrics.TasksFailed++
	}

	// Running average over all observed outcomes; n >= 1 here
	n := float64(a.metrics.TasksCompleted + a.metrics.TasksFailed)
	a.metrics.AvgResponseTime = a.metrics.AvgResponseTime*(n-1)/n + responseSeconds/n
	a.metrics.SuccessRate = float64(a.metrics.TasksCompleted) / n
	now := time.Now()
	a.metrics.LastActivity = &now

	return true
}

// Reset drops all agents, for test isolation and teardown
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.agents = make(map[string]*agent)
	r.logger.Debug("registry reset")
}

// NewAgentID generates a fresh agent id
func NewAgentID() string {
	return fmt.Sprintf("agent_%s", uuid.NewString()[:8])
}

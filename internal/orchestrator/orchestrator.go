// Package orchestrator wires the agent registry, the relationship graph
// and the evolutionary controller into a single coordination surface.
//
// The orchestrator is the only place where side effects happen: journal
// writes and event publication are performed here, never inside the
// subsystems. Operations take at most one subsystem lock at a time, so
// there is no lock ordering to get wrong.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/flockmind/flockmind/internal/agents"
	"github.com/flockmind/flockmind/internal/config"
	"github.com/flockmind/flockmind/internal/events"
	"github.com/flockmind/flockmind/internal/evolution"
	"github.com/flockmind/flockmind/internal/fitness"
	"github.com/flockmind/flockmind/internal/graph"
	"github.com/flockmind/flockmind/internal/journal"
)

// Coordination outcome statuses.
const (
	StatusCoordinated = "coordinated"
	StatusFailed      = "failed"
)

// ReasonNoActiveAgents is the failure reason when coordination is
// requested against an empty or fully idle population.
const ReasonNoActiveAgents = "no active agents"

// CoordinationResult reports the outcome of a single Coordinate call.
type CoordinationResult struct {
	Status     string   `json:"status"`
	Reason     string   `json:"reason,omitempty"`
	TaskID     string   `json:"task_id,omitempty"`
	AgentIDs   []string `json:"agents,omitempty"`
	AgentCount int      `json:"agent_count"`
}

// Stats is a point-in-time snapshot of the whole system.
type Stats struct {
	OrchestratorID string  `json:"orchestrator_id"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
	TotalAgents    int     `json:"total_agents"`
	ActiveAgents   int     `json:"active_agents"`
	TotalTasks     int64   `json:"total_tasks"`
	AvgSuccessRate float64 `json:"avg_success_rate"`
	GraphNodes     int     `json:"graph_nodes"`
	GraphEdges     int     `json:"graph_edges"`
}

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

// WithJournal attaches a persistent event journal. Without it events
// are still published but not recorded.
func WithJournal(rec journal.Recorder) Option {
	return func(o *Orchestrator) {
		if rec != nil {
			o.journal = rec
		}
	}
}

// WithBus attaches an event bus for live subscribers.
func WithBus(bus *events.Bus) Option {
	return func(o *Orchestrator) { o.bus = bus }
}

// WithClock overrides the time source. Tests use this to pin uptime.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// Orchestrator owns the agent population and coordinates work across it.
type Orchestrator struct {
	id        string
	startedAt time.Time
	now       func() time.Time

	registry   *agents.Registry
	graph      *graph.Graph
	controller *evolution.Controller

	journal journal.Recorder
	bus     *events.Bus

	defaultTeam int
	logger      *slog.Logger
}

// New builds an orchestrator from cfg. The registry, graph and
// controller start empty; use options to attach a journal or bus.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	teamSize := cfg.Coordination.DefaultTeamSize
	if teamSize <= 0 {
		teamSize = 3
	}
	o := &Orchestrator{
		id:          fmt.Sprintf("orch_%s", uuid.NewString()[:8]),
		now:         time.Now,
		registry:    agents.NewRegistry(logger),
		graph:       graph.New(),
		journal:     journal.Nop{},
		defaultTeam: teamSize,
		logger:      logger.With("component", "orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.startedAt = o.now()
	o.controller = evolution.NewController(cfg.Evolution, o, logger)
	o.logger.Info("orchestrator initialized", "id", o.id, "default_team_size", o.defaultTeam)
	return o
}

// ID returns the orchestrator's instance id.
func (o *Orchestrator) ID() string { return o.id }

// Graph exposes the relationship graph for read-side queries.
func (o *Orchestrator) Graph() *graph.Graph { return o.graph }

// Controller exposes the evolutionary controller. Callers that mutate
// population state should prefer the orchestrator wrappers so that
// events are recorded.
func (o *Orchestrator) Controller() *evolution.Controller { return o.controller }

// RegisterAgent adds an agent to the population and records it as a
// node in the relationship graph. An empty id asks the registry to
// generate one. Registration fails only on a duplicate id.
func (o *Orchestrator) RegisterAgent(ctx context.Context, handle any, id string) (string, error) {
	assigned, err := o.registry.Register(handle, id)
	if err != nil {
		return "", err
	}
	o.graph.AddNode(assigned, "agent", map[string]any{
		"state":      string(agents.StateActive),
		"created_at": o.now().UTC().Format(time.RFC3339),
	})
	o.emit(ctx, events.TypeAgentRegistered, map[string]any{
		"agent_id": assigned,
	})
	return assigned, nil
}

// UnregisterAgent removes the agent from the registry. Its graph node
// is kept so past coordination history stays queryable.
func (o *Orchestrator) UnregisterAgent(ctx context.Context, id string) bool {
	if !o.registry.Unregister(id) {
		return false
	}
	o.emit(ctx, events.TypeAgentUnregistered, map[string]any{
		"agent_id": id,
	})
	return true
}

// Agent returns a snapshot of one agent.
func (o *Orchestrator) Agent(id string) (agents.Record, bool) {
	return o.registry.Get(id)
}

// Agents returns snapshots of every registered agent.
func (o *Orchestrator) Agents() []agents.Record {
	return o.registry.List()
}

// ActiveAgents returns snapshots of agents currently in the active state.
func (o *Orchestrator) ActiveAgents() []agents.Record {
	return o.registry.ListActive()
}

// SetAgentState moves an agent through its lifecycle.
func (o *Orchestrator) SetAgentState(id string, state agents.State) bool {
	return o.registry.SetState(id, state)
}

// RecordOutcome feeds one task result into the agent's metrics.
func (o *Orchestrator) RecordOutcome(ctx context.Context, id string, success bool, responseSeconds float64) bool {
	return o.registry.RecordOutcome(id, success, responseSeconds)
}

// Fitness scores one agent from its current metrics. Unknown agents
// score zero.
func (o *Orchestrator) Fitness(id string) float64 {
	rec, ok := o.registry.Get(id)
	if !ok {
		return 0
	}
	return fitness.FromMetrics(rec.Metrics)
}

// Members implements evolution.Population over the live registry.
func (o *Orchestrator) Members() []evolution.Member {
	recs := o.registry.List()
	members := make([]evolution.Member, 0, len(recs))
	for _, rec := range recs {
		members = append(members, evolution.Member{
			ID:      rec.ID,
			Fitness: fitness.FromMetrics(rec.Metrics),
		})
	}
	return members
}

// Coordinate assigns a task to the fittest active agents. The requested
// team size is reduced to the number of active agents when the
// population is smaller; with no active agents at all the call fails.
// Successful coordination records a task node and one assignment edge
// per selected agent.
func (o *Orchestrator) Coordinate(ctx context.Context, description string, numAgents int) CoordinationResult {
	if numAgents <= 0 {
		numAgents = o.defaultTeam
	}
	active := o.registry.ListActive()
	if len(active) == 0 {
		o.logger.Warn("coordination failed", "reason", ReasonNoActiveAgents, "task", description)
		return CoordinationResult{Status: StatusFailed, Reason: ReasonNoActiveAgents}
	}

	members := make([]evolution.Member, 0, len(active))
	for _, rec := range active {
		members = append(members, evolution.Member{
			ID:      rec.ID,
			Fitness: fitness.FromMetrics(rec.Metrics),
		})
	}
	ranked := evolution.Rank(members)
	if numAgents > len(ranked) {
		numAgents = len(ranked)
	}
	selected := make([]string, 0, numAgents)
	for _, m := range ranked[:numAgents] {
		selected = append(selected, m.ID)
	}

	taskID := fmt.Sprintf("task_%s", uuid.NewString()[:8])
	o.graph.AddNode(taskID, "task", map[string]any{
		"description": description,
		"num_agents":  numAgents,
		"started_at":  o.now().UTC().Format(time.RFC3339),
	})
	for _, agentID := range selected {
		o.graph.AddEdge(agentID, taskID, "assigned_to", nil)
	}

	o.emit(ctx, events.TypeTaskCoordinated, map[string]any{
		"task_id":     taskID,
		"description": description,
		"agents":      selected,
	})
	o.logger.Info("task coordinated",
		"task_id", taskID,
		"agents", numAgents,
		"description", description)

	return CoordinationResult{
		Status:     StatusCoordinated,
		TaskID:     taskID,
		AgentIDs:   selected,
		AgentCount: numAgents,
	}
}

// Stats summarizes the population, task throughput and graph size.
func (o *Orchestrator) Stats() Stats {
	recs := o.registry.List()
	stats := Stats{
		OrchestratorID: o.id,
		UptimeSeconds:  o.now().Sub(o.startedAt).Seconds(),
		TotalAgents:    len(recs),
		GraphNodes:     o.graph.NodeCount(),
		GraphEdges:     o.graph.EdgeCount(),
	}
	var rateSum float64
	for _, rec := range recs {
		if rec.State == agents.StateActive {
			stats.ActiveAgents++
		}
		stats.TotalTasks += rec.Metrics.TotalTasks()
		rateSum += rec.Metrics.SuccessRate
	}
	if len(recs) > 0 {
		stats.AvgSuccessRate = rateSum / float64(len(recs))
	}
	return stats
}

// EvolveGeneration runs one evolutionary pass over the population and
// records the result when a generation actually completes.
func (o *Orchestrator) EvolveGeneration(ctx context.Context) evolution.GenerationResult {
	res := o.controller.EvolveGeneration()
	if res.Status == evolution.StatusCompleted {
		o.emit(ctx, events.TypeGenerationCompleted, map[string]any{
			"generation":  res.Generation,
			"avg_fitness": res.AvgFitness,
			"max_fitness": res.MaxFitness,
			"top_agents":  res.TopAgents,
		})
	}
	return res
}

// UpdateEnvironment feeds host-reported task telemetry into the
// homeostatic environment model.
func (o *Orchestrator) UpdateEnvironment(ctx context.Context, f evolution.Feedback) evolution.Environment {
	env := o.controller.UpdateEnvironment(f)
	o.emit(ctx, events.TypeEnvironmentUpdated, map[string]any{
		"complexity":     env.Complexity,
		"volatility":     env.Volatility,
		"task_diversity": env.TaskDiversity,
	})
	return env
}

// AdaptToEnvironment triggers a generation only when trailing fitness
// has fallen below the adaptation threshold.
func (o *Orchestrator) AdaptToEnvironment(ctx context.Context) (evolution.GenerationResult, bool) {
	res, ran := o.controller.AdaptToEnvironment()
	if ran && res.Status == evolution.StatusCompleted {
		o.emit(ctx, events.TypeGenerationCompleted, map[string]any{
			"generation":  res.Generation,
			"avg_fitness": res.AvgFitness,
			"max_fitness": res.MaxFitness,
			"top_agents":  res.TopAgents,
			"trigger":     "adaptation",
		})
	}
	return res, ran
}

// CheckAdaptationNeeded reports whether trailing fitness is below the
// adaptation threshold.
func (o *Orchestrator) CheckAdaptationNeeded() bool {
	return o.controller.CheckAdaptationNeeded()
}

// EvolutionStats returns the controller's summary view.
func (o *Orchestrator) EvolutionStats() evolution.Stats {
	return o.controller.Stats()
}

// Environment returns the current environment snapshot.
func (o *Orchestrator) Environment() evolution.Environment {
	return o.controller.Environment()
}

// Reset clears the registry, the graph and all evolutionary state.
// The orchestrator id and start time are kept.
func (o *Orchestrator) Reset() {
	o.registry.Reset()
	o.graph.Reset()
	o.controller.Reset()
	o.logger.Info("orchestrator reset")
}

// emit journals and publishes one event. Journal failures are logged
// and do not affect the calling operation.
func (o *Orchestrator) emit(ctx context.Context, eventType string, payload map[string]any) {
	evt := events.New(eventType, payload)
	if err := o.journal.Record(ctx, evt); err != nil {
		o.logger.Warn("journal write failed", "type", eventType, "error", err)
	}
	if o.bus != nil {
		o.bus.Publish(evt)
	}
}

// Package command exposes the orchestrator as a text command surface.
// Hosts embed it where an agent or operator issues free-form actions;
// every dispatch returns human-readable text, never an error.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/flockmind/flockmind/internal/evolution"
	"github.com/flockmind/flockmind/internal/orchestrator"
)

// knowledgeNodeLimit caps how many graph nodes one knowledge query prints.
const knowledgeNodeLimit = 10

// Actions understood by Dispatch.
const (
	ActionStatus      = "status"
	ActionCoordinate  = "coordinate"
	ActionQueryAgents = "query_agents"
	ActionKnowledge   = "knowledge"
	ActionFitness     = "fitness"
	ActionEvolve      = "evolve"
	ActionAdapt       = "adapt"
	ActionEnvironment = "environment"
)

var actionList = strings.Join([]string{
	ActionStatus, ActionCoordinate, ActionQueryAgents, ActionKnowledge,
	ActionFitness, ActionEvolve, ActionAdapt, ActionEnvironment,
}, ", ")

// Request is one command invocation.
type Request struct {
	Action string            `json:"action"`
	Params map[string]string `json:"params,omitempty"`
}

func (r Request) param(key string) string {
	if r.Params == nil {
		return ""
	}
	return r.Params[key]
}

// Dispatcher routes command requests to the orchestrator.
type Dispatcher struct {
	orch   *orchestrator.Orchestrator
	logger *slog.Logger
}

// NewDispatcher builds a command dispatcher over orch.
func NewDispatcher(orch *orchestrator.Orchestrator, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		orch:   orch,
		logger: logger.With("component", "command"),
	}
}

// Dispatch executes one action and returns its textual result. Unknown
// actions and missing parameters come back as explanatory text.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) string {
	action := strings.ToLower(strings.TrimSpace(req.Action))
	d.logger.Debug("dispatching command", "action", action)

	switch action {
	case ActionStatus:
		return d.status()
	case ActionCoordinate:
		return d.coordinate(ctx, req)
	case ActionQueryAgents:
		return d.queryAgents()
	case ActionKnowledge:
		return d.knowledge(req.param("node_type"))
	case ActionFitness:
		return d.fitness(req.param("agent_id"))
	case ActionEvolve:
		return d.evolve(ctx)
	case ActionAdapt:
		return d.adapt(ctx)
	case ActionEnvironment:
		return d.environment()
	default:
		return fmt.Sprintf("Unknown action: %s. Available actions: %s", action, actionList)
	}
}

func (d *Dispatcher) status() string {
	stats := d.orch.Stats()
	var b strings.Builder
	b.WriteString("Orchestrator Status:\n\n")
	fmt.Fprintf(&b, "Orchestrator ID: %s\n", stats.OrchestratorID)
	fmt.Fprintf(&b, "Uptime: %.2f seconds\n", stats.UptimeSeconds)
	fmt.Fprintf(&b, "Total Agents: %d\n", stats.TotalAgents)
	fmt.Fprintf(&b, "Active Agents: %d\n", stats.ActiveAgents)
	fmt.Fprintf(&b, "Total Tasks Processed: %d\n", stats.TotalTasks)
	fmt.Fprintf(&b, "Average Success Rate: %s\n", percent(stats.AvgSuccessRate))
	fmt.Fprintf(&b, "Graph Nodes: %d\n", stats.GraphNodes)
	fmt.Fprintf(&b, "Graph Edges: %d\n", stats.GraphEdges)
	return b.String()
}

func (d *Dispatcher) coordinate(ctx context.Context, req Request) string {
	description := strings.TrimSpace(req.param("task_description"))
	if description == "" {
		return "Error: task_description is required for coordination"
	}
	numAgents := 0
	if raw := req.param("num_agents"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Sprintf("Error: invalid num_agents %q", raw)
		}
		numAgents = n
	}

	res := d.orch.Coordinate(ctx, description, numAgents)
	if res.Status == orchestrator.StatusFailed {
		return fmt.Sprintf("Coordination failed: %s", res.Reason)
	}

	var b strings.Builder
	b.WriteString("Agents Coordinated Successfully:\n\n")
	fmt.Fprintf(&b, "Task ID: %s\n", res.TaskID)
	fmt.Fprintf(&b, "Agents Assigned: %d\n", res.AgentCount)
	fmt.Fprintf(&b, "Agent IDs: %s\n", strings.Join(res.AgentIDs, ", "))
	return b.String()
}

func (d *Dispatcher) queryAgents() string {
	recs := d.orch.Agents()
	if len(recs) == 0 {
		return "No agents registered in the orchestrator."
	}

	var b strings.Builder
	b.WriteString("Registered Agents:\n\n")
	for _, rec := range recs {
		fmt.Fprintf(&b, "Agent: %s\n", rec.ID)
		fmt.Fprintf(&b, "  State: %s\n", rec.State)
		fmt.Fprintf(&b, "  Tasks Completed: %d\n", rec.Metrics.TasksCompleted)
		fmt.Fprintf(&b, "  Tasks Failed: %d\n", rec.Metrics.TasksFailed)
		fmt.Fprintf(&b, "  Success Rate: %s\n", percent(rec.Metrics.SuccessRate))
		fmt.Fprintf(&b, "  Avg Response Time: %.2fs\n", rec.Metrics.AvgResponseTime)
		fmt.Fprintf(&b, "  Fitness Score: %.3f\n\n", d.orch.Fitness(rec.ID))
	}
	return b.String()
}

func (d *Dispatcher) knowledge(nodeType string) string {
	nodes := d.orch.Graph().Query("", nodeType)
	if len(nodes) == 0 {
		if nodeType != "" {
			return fmt.Sprintf("No graph nodes found of type '%s'", nodeType)
		}
		return "No graph nodes found"
	}

	var b strings.Builder
	b.WriteString("Graph Nodes")
	if nodeType != "" {
		fmt.Fprintf(&b, " (type: %s)", nodeType)
	}
	fmt.Fprintf(&b, ":\n\nFound %d node(s):\n\n", len(nodes))

	shown := nodes
	if len(shown) > knowledgeNodeLimit {
		shown = shown[:knowledgeNodeLimit]
	}
	for _, node := range shown {
		fmt.Fprintf(&b, "ID: %s\n", node.ID)
		fmt.Fprintf(&b, "Type: %s\n", node.Type)
		props, err := json.MarshalIndent(node.Properties, "", "  ")
		if err != nil {
			props = []byte("{}")
		}
		fmt.Fprintf(&b, "Properties: %s\n\n", props)
	}
	if len(nodes) > knowledgeNodeLimit {
		fmt.Fprintf(&b, "... and %d more nodes\n", len(nodes)-knowledgeNodeLimit)
	}
	return b.String()
}

func (d *Dispatcher) fitness(agentID string) string {
	if agentID == "" {
		return "Error: agent_id is required"
	}
	rec, ok := d.orch.Agent(agentID)
	if !ok {
		return fmt.Sprintf("Agent '%s' not found in orchestrator", agentID)
	}

	var b strings.Builder
	b.WriteString("Agent Fitness Evaluation:\n\n")
	fmt.Fprintf(&b, "Agent ID: %s\n", rec.ID)
	fmt.Fprintf(&b, "State: %s\n", rec.State)
	fmt.Fprintf(&b, "Fitness Score: %.3f\n\n", d.orch.Fitness(rec.ID))
	b.WriteString("Metrics:\n")
	fmt.Fprintf(&b, "  Tasks Completed: %d\n", rec.Metrics.TasksCompleted)
	fmt.Fprintf(&b, "  Tasks Failed: %d\n", rec.Metrics.TasksFailed)
	fmt.Fprintf(&b, "  Success Rate: %s\n", percent(rec.Metrics.SuccessRate))
	fmt.Fprintf(&b, "  Avg Response Time: %.2fs\n", rec.Metrics.AvgResponseTime)
	b.WriteString("\nFitness weighs success rate (50%), response speed (30%) and task volume (20%).\n")
	return b.String()
}

func (d *Dispatcher) evolve(ctx context.Context) string {
	res := d.orch.EvolveGeneration(ctx)
	if res.Status == evolution.StatusSkipped {
		return fmt.Sprintf("Evolution skipped: %s", res.Reason)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Evolution Generation %d Completed:\n\n", res.Generation)
	fmt.Fprintf(&b, "Average Fitness: %.3f\n", res.AvgFitness)
	fmt.Fprintf(&b, "Maximum Fitness: %.3f\n", res.MaxFitness)
	fmt.Fprintf(&b, "Top Agents: %s\n", strings.Join(res.TopAgents, ", "))
	return b.String()
}

func (d *Dispatcher) adapt(ctx context.Context) string {
	stats := d.orch.Stats()
	d.orch.UpdateEnvironment(ctx, evolution.Feedback{
		SuccessRate:     stats.AvgSuccessRate,
		AvgResponseTime: 1.0,
		TaskVariety:     0.5,
	})
	d.orch.AdaptToEnvironment(ctx)

	evoStats := d.orch.EvolutionStats()
	var b strings.Builder
	b.WriteString("Adaptation Cycle Completed:\n\n")
	fmt.Fprintf(&b, "Generation: %d\n", evoStats.Generation)
	fmt.Fprintf(&b, "Fitness Trend: %s\n", evoStats.Trend)
	fmt.Fprintf(&b, "Average Fitness: %.3f\n\n", evoStats.AvgFitness)
	b.WriteString("Environment State:\n")
	fmt.Fprintf(&b, "  Complexity: %.2f\n", evoStats.Environment.Complexity)
	fmt.Fprintf(&b, "  Volatility: %.2f\n", evoStats.Environment.Volatility)
	fmt.Fprintf(&b, "  Resource Availability: %.2f\n", evoStats.Environment.ResourceAvailability)
	fmt.Fprintf(&b, "  Task Diversity: %.2f\n", evoStats.Environment.TaskDiversity)
	return b.String()
}

func (d *Dispatcher) environment() string {
	env := d.orch.Environment()
	evoStats := d.orch.EvolutionStats()

	var b strings.Builder
	b.WriteString("Environment State:\n\n")
	fmt.Fprintf(&b, "  Complexity: %.2f\n", env.Complexity)
	fmt.Fprintf(&b, "  Volatility: %.2f\n", env.Volatility)
	fmt.Fprintf(&b, "  Resource Availability: %.2f\n", env.ResourceAvailability)
	fmt.Fprintf(&b, "  Task Diversity: %.2f\n", env.TaskDiversity)
	fmt.Fprintf(&b, "  Last Updated: %s\n\n", env.UpdatedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	b.WriteString("Evolution Statistics:\n")
	fmt.Fprintf(&b, "  Generation: %d\n", evoStats.Generation)
	fmt.Fprintf(&b, "  Fitness Trend: %s\n", evoStats.Trend)
	fmt.Fprintf(&b, "  Average Fitness: %.3f\n", evoStats.AvgFitness)
	fmt.Fprintf(&b, "  History Length: %d generations\n", evoStats.HistoryLength)
	return b.String()
}

func percent(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}

package command

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/flockmind/flockmind/internal/config"
	"github.com/flockmind/flockmind/internal/orchestrator"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *orchestrator.Orchestrator) {
	t.Helper()
	orch := orchestrator.New(config.DefaultConfig(), testLogger())
	return NewDispatcher(orch, testLogger()), orch
}

func register(t *testing.T, orch *orchestrator.Orchestrator, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if _, err := orch.RegisterAgent(context.Background(), nil, id); err != nil {
			t.Fatalf("failed to register %s: %v", id, err)
		}
	}
}

func TestDispatchUnknownAction(t *testing.T) {
	d, _ := newTestDispatcher(t)

	out := d.Dispatch(context.Background(), Request{Action: "bogus"})
	if !strings.Contains(out, "Unknown action: bogus") {
		t.Errorf("expected unknown action message, got %q", out)
	}
	if !strings.Contains(out, "Available actions: status, coordinate") {
		t.Errorf("expected action list in message, got %q", out)
	}
}

func TestDispatchNormalizesAction(t *testing.T) {
	d, _ := newTestDispatcher(t)

	out := d.Dispatch(context.Background(), Request{Action: "  STATUS  "})
	if !strings.Contains(out, "Orchestrator Status:") {
		t.Errorf("expected status output for mixed-case action, got %q", out)
	}
}

func TestStatusAction(t *testing.T) {
	d, orch := newTestDispatcher(t)
	register(t, orch, "a", "b")

	out := d.Dispatch(context.Background(), Request{Action: ActionStatus})
	if !strings.Contains(out, fmt.Sprintf("Orchestrator ID: %s", orch.ID())) {
		t.Errorf("expected orchestrator id in status, got %q", out)
	}
	if !strings.Contains(out, "Total Agents: 2") {
		t.Errorf("expected agent total in status, got %q", out)
	}
	if !strings.Contains(out, "Active Agents: 2") {
		t.Errorf("expected active count in status, got %q", out)
	}
}

func TestCoordinateRequiresDescription(t *testing.T) {
	d, _ := newTestDispatcher(t)

	out := d.Dispatch(context.Background(), Request{Action: ActionCoordinate})
	if !strings.Contains(out, "task_description is required") {
		t.Errorf("expected missing description error, got %q", out)
	}
}

func TestCoordinateRejectsBadCount(t *testing.T) {
	d, orch := newTestDispatcher(t)
	register(t, orch, "a")

	out := d.Dispatch(context.Background(), Request{
		Action: ActionCoordinate,
		Params: map[string]string{"task_description": "x", "num_agents": "many"},
	})
	if !strings.Contains(out, `invalid num_agents "many"`) {
		t.Errorf("expected invalid count error, got %q", out)
	}
}

func TestCoordinateSuccess(t *testing.T) {
	d, orch := newTestDispatcher(t)
	register(t, orch, "a", "b")

	out := d.Dispatch(context.Background(), Request{
		Action: ActionCoordinate,
		Params: map[string]string{"task_description": "index corpus", "num_agents": "2"},
	})
	if !strings.Contains(out, "Agents Coordinated Successfully") {
		t.Errorf("expected success message, got %q", out)
	}
	if !strings.Contains(out, "Task ID: task_") {
		t.Errorf("expected task id in output, got %q", out)
	}
	if !strings.Contains(out, "Agents Assigned: 2") {
		t.Errorf("expected assignment count, got %q", out)
	}
}

func TestCoordinateFailure(t *testing.T) {
	d, _ := newTestDispatcher(t)

	out := d.Dispatch(context.Background(), Request{
		Action: ActionCoordinate,
		Params: map[string]string{"task_description": "x"},
	})
	if !strings.Contains(out, "Coordination failed: no active agents") {
		t.Errorf("expected failure reason, got %q", out)
	}
}

func TestQueryAgentsEmpty(t *testing.T) {
	d, _ := newTestDispatcher(t)

	out := d.Dispatch(context.Background(), Request{Action: ActionQueryAgents})
	if !strings.Contains(out, "No agents registered") {
		t.Errorf("expected empty registry message, got %q", out)
	}
}

func TestQueryAgentsListsMetrics(t *testing.T) {
	d, orch := newTestDispatcher(t)
	register(t, orch, "worker")
	orch.RecordOutcome(context.Background(), "worker", true, 1.0)

	out := d.Dispatch(context.Background(), Request{Action: ActionQueryAgents})
	if !strings.Contains(out, "Agent: worker") {
		t.Errorf("expected agent entry, got %q", out)
	}
	if !strings.Contains(out, "Tasks Completed: 1") {
		t.Errorf("expected task counter, got %q", out)
	}
	if !strings.Contains(out, "Success Rate: 100.00%") {
		t.Errorf("expected success rate, got %q", out)
	}
	if !strings.Contains(out, "Fitness Score: 0.") {
		t.Errorf("expected fitness line, got %q", out)
	}
}

func TestKnowledgeEmpty(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()

	out := d.Dispatch(ctx, Request{Action: ActionKnowledge})
	if !strings.Contains(out, "No graph nodes found") {
		t.Errorf("expected empty graph message, got %q", out)
	}

	out = d.Dispatch(ctx, Request{
		Action: ActionKnowledge,
		Params: map[string]string{"node_type": "task"},
	})
	if !strings.Contains(out, "No graph nodes found of type 'task'") {
		t.Errorf("expected typed empty message, got %q", out)
	}
}

func TestKnowledgeCapsOutput(t *testing.T) {
	d, orch := newTestDispatcher(t)
	for i := 0; i < 12; i++ {
		register(t, orch, fmt.Sprintf("agent%02d", i))
	}

	out := d.Dispatch(context.Background(), Request{
		Action: ActionKnowledge,
		Params: map[string]string{"node_type": "agent"},
	})
	if !strings.Contains(out, "Found 12 node(s)") {
		t.Errorf("expected total node count, got %q", out)
	}
	if !strings.Contains(out, "... and 2 more nodes") {
		t.Errorf("expected truncation notice, got %q", out)
	}
	if got := strings.Count(out, "ID: agent"); got != knowledgeNodeLimit {
		t.Errorf("expected %d printed nodes, got %d", knowledgeNodeLimit, got)
	}
}

func TestFitnessRequiresAgentID(t *testing.T) {
	d, _ := newTestDispatcher(t)

	out := d.Dispatch(context.Background(), Request{Action: ActionFitness})
	if !strings.Contains(out, "agent_id is required") {
		t.Errorf("expected missing id error, got %q", out)
	}
}

func TestFitnessUnknownAgent(t *testing.T) {
	d, _ := newTestDispatcher(t)

	out := d.Dispatch(context.Background(), Request{
		Action: ActionFitness,
		Params: map[string]string{"agent_id": "ghost"},
	})
	if !strings.Contains(out, "Agent 'ghost' not found") {
		t.Errorf("expected not-found message, got %q", out)
	}
}

func TestFitnessReportsMetrics(t *testing.T) {
	d, orch := newTestDispatcher(t)
	register(t, orch, "worker")
	ctx := context.Background()
	orch.RecordOutcome(ctx, "worker", true, 1.0)
	orch.RecordOutcome(ctx, "worker", false, 1.0)

	out := d.Dispatch(ctx, Request{
		Action: ActionFitness,
		Params: map[string]string{"agent_id": "worker"},
	})
	if !strings.Contains(out, "Agent ID: worker") {
		t.Errorf("expected agent id, got %q", out)
	}
	if !strings.Contains(out, "Success Rate: 50.00%") {
		t.Errorf("expected success rate, got %q", out)
	}
	if !strings.Contains(out, "Avg Response Time: 1.00s") {
		t.Errorf("expected response time, got %q", out)
	}
}

func TestEvolveSkipped(t *testing.T) {
	d, _ := newTestDispatcher(t)

	out := d.Dispatch(context.Background(), Request{Action: ActionEvolve})
	if !strings.Contains(out, "Evolution skipped:") {
		t.Errorf("expected skip message, got %q", out)
	}
}

func TestEvolveCompleted(t *testing.T) {
	d, orch := newTestDispatcher(t)
	register(t, orch, "a", "b")

	out := d.Dispatch(context.Background(), Request{Action: ActionEvolve})
	if !strings.Contains(out, "Evolution Generation 1 Completed") {
		t.Errorf("expected completion message, got %q", out)
	}
	if !strings.Contains(out, "Top Agents: a, b") {
		t.Errorf("expected top agents, got %q", out)
	}
}

func TestAdaptCycle(t *testing.T) {
	d, orch := newTestDispatcher(t)
	register(t, orch, "a", "b")
	ctx := context.Background()
	orch.RecordOutcome(ctx, "a", false, 2.0)
	orch.RecordOutcome(ctx, "b", false, 2.0)
	orch.EvolveGeneration(ctx)

	out := d.Dispatch(ctx, Request{Action: ActionAdapt})
	if !strings.Contains(out, "Adaptation Cycle Completed") {
		t.Errorf("expected adaptation header, got %q", out)
	}
	if !strings.Contains(out, "Complexity:") || !strings.Contains(out, "Task Diversity:") {
		t.Errorf("expected environment block, got %q", out)
	}
	if !strings.Contains(out, "Generation: 2") {
		t.Errorf("expected adaptation to advance the generation, got %q", out)
	}
}

func TestEnvironmentReport(t *testing.T) {
	d, _ := newTestDispatcher(t)

	out := d.Dispatch(context.Background(), Request{Action: ActionEnvironment})
	if !strings.Contains(out, "Environment State:") {
		t.Errorf("expected environment header, got %q", out)
	}
	if !strings.Contains(out, "Complexity: 0.50") {
		t.Errorf("expected default complexity, got %q", out)
	}
	if !strings.Contains(out, "History Length: 0 generations") {
		t.Errorf("expected history length, got %q", out)
	}
}

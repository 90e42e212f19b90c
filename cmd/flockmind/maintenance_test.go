package main

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/flockmind/flockmind/internal/config"
	"github.com/flockmind/flockmind/internal/orchestrator"
)

func newTestOrchestrator(t *testing.T) *orchestrator.Orchestrator {
	t.Helper()
	return orchestrator.New(config.DefaultConfig(), testLogger())
}

func seedAgents(t *testing.T, orch *orchestrator.Orchestrator, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("agent-%d", i)
		if _, err := orch.RegisterAgent(ctx, nil, id); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
		orch.RecordOutcome(ctx, id, i%2 == 0, 1.5)
		orch.RecordOutcome(ctx, id, true, 0.8)
	}
}

func TestMaintenanceEvolve(t *testing.T) {
	orch := newTestOrchestrator(t)
	seedAgents(t, orch, 4)
	m := newMaintenance(orch, testLogger())

	if err := m.Evolve(context.Background()); err != nil {
		t.Fatalf("Evolve failed: %v", err)
	}
	if orch.EvolutionStats().Generation != 1 {
		t.Errorf("expected generation 1, got %d", orch.EvolutionStats().Generation)
	}
}

func TestMaintenanceEvolve_TooFewAgents(t *testing.T) {
	orch := newTestOrchestrator(t)
	m := newMaintenance(orch, testLogger())

	err := m.Evolve(context.Background())
	if err == nil {
		t.Fatal("expected error with empty population")
	}
	if !strings.Contains(err.Error(), "evolution skipped") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestMaintenanceAdapt(t *testing.T) {
	orch := newTestOrchestrator(t)
	seedAgents(t, orch, 4)
	m := newMaintenance(orch, testLogger())

	// Whether an adaptation cycle runs depends on population health;
	// either way the call must succeed.
	if err := m.Adapt(context.Background()); err != nil {
		t.Fatalf("Adapt failed: %v", err)
	}
}

func TestMaintenanceAdapt_NoHistory(t *testing.T) {
	orch := newTestOrchestrator(t)
	m := newMaintenance(orch, testLogger())

	// Before any generation has run there is no fitness history, so
	// there is nothing to adapt from.
	if err := m.Adapt(context.Background()); err != nil {
		t.Fatalf("Adapt failed: %v", err)
	}
	if orch.EvolutionStats().Generation != 0 {
		t.Errorf("expected no generation, got %d", orch.EvolutionStats().Generation)
	}
}

func TestMaintenanceAdapt_SkipsWhenPopulationShrinks(t *testing.T) {
	orch := newTestOrchestrator(t)
	ctx := context.Background()

	// Two agents that only fail, so trailing fitness lands well below
	// the adaptation threshold.
	for _, id := range []string{"weak-1", "weak-2"} {
		if _, err := orch.RegisterAgent(ctx, nil, id); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
		orch.RecordOutcome(ctx, id, false, 2.0)
	}
	orch.EvolveGeneration(ctx)

	// Shrink the population below the evolvable minimum.
	orch.UnregisterAgent(ctx, "weak-2")

	m := newMaintenance(orch, testLogger())
	err := m.Adapt(ctx)
	if err == nil {
		t.Fatal("expected error when adaptation cannot run")
	}
	if !strings.Contains(err.Error(), "adaptation skipped") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestMaintenanceReport(t *testing.T) {
	orch := newTestOrchestrator(t)
	seedAgents(t, orch, 2)
	m := newMaintenance(orch, testLogger())

	if err := m.Report(context.Background()); err != nil {
		t.Fatalf("Report failed: %v", err)
	}
}

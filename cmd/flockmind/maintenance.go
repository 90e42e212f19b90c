package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flockmind/flockmind/internal/evolution"
	"github.com/flockmind/flockmind/internal/orchestrator"
)

// maintenance executes scheduled jobs against the orchestrator.
type maintenance struct {
	orch   *orchestrator.Orchestrator
	logger *slog.Logger
}

func newMaintenance(orch *orchestrator.Orchestrator, logger *slog.Logger) *maintenance {
	if logger == nil {
		logger = slog.Default()
	}
	return &maintenance{orch: orch, logger: logger.With("component", "maintenance")}
}

func (m *maintenance) Evolve(ctx context.Context) error {
	res := m.orch.EvolveGeneration(ctx)
	if res.Status == evolution.StatusSkipped {
		return fmt.Errorf("evolution skipped: %s", res.Reason)
	}
	m.logger.Info("scheduled generation completed",
		"generation", res.Generation,
		"avg_fitness", res.AvgFitness,
		"max_fitness", res.MaxFitness,
	)
	return nil
}

// Adapt feeds current population health back into the environment and
// runs an adaptation cycle when the controller decides one is due.
// Response time and variety use neutral values here; live feedback
// arrives through the ingest bridge and simulator instead.
func (m *maintenance) Adapt(ctx context.Context) error {
	stats := m.orch.Stats()
	m.orch.UpdateEnvironment(ctx, evolution.Feedback{
		SuccessRate:     stats.AvgSuccessRate,
		AvgResponseTime: 1.0,
		TaskVariety:     0.5,
	})

	res, ran := m.orch.AdaptToEnvironment(ctx)
	if !ran {
		m.logger.Debug("population healthy, no adaptation needed")
		return nil
	}
	if res.Status == evolution.StatusSkipped {
		return fmt.Errorf("adaptation skipped: %s", res.Reason)
	}
	m.logger.Info("scheduled adaptation completed", "generation", res.Generation)
	return nil
}

func (m *maintenance) Report(ctx context.Context) error {
	core := m.orch.Stats()
	evo := m.orch.EvolutionStats()
	m.logger.Info("population report",
		"agents", core.TotalAgents,
		"active", core.ActiveAgents,
		"tasks", core.TotalTasks,
		"success_rate", core.AvgSuccessRate,
		"generation", evo.Generation,
		"avg_fitness", evo.AvgFitness,
		"trend", evo.Trend,
	)
	return nil
}

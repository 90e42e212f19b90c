package sim

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"

	"github.com/flockmind/flockmind/internal/command"
	"github.com/flockmind/flockmind/internal/evolution"
	"github.com/flockmind/flockmind/internal/hooks"
	"github.com/flockmind/flockmind/internal/orchestrator"
)

const sessionID = "sim"

// Simulator runs a scripted scenario against an orchestrator with
// synthetic agents. The same seed over the same scenario and
// archetypes produces the same run.
type Simulator struct {
	orch   *orchestrator.Orchestrator
	hooks  *hooks.Hooks
	disp   *command.Dispatcher
	rng    *rand.Rand
	out    io.Writer
	logger *slog.Logger
}

type simAgent struct {
	id        string
	archetype Archetype
}

// New creates a simulator writing its report to out.
func New(orch *orchestrator.Orchestrator, seed int64, out io.Writer, logger *slog.Logger) *Simulator {
	return &Simulator{
		orch:   orch,
		hooks:  hooks.New(orch, logger),
		disp:   command.NewDispatcher(orch, logger),
		rng:    rand.New(rand.NewSource(seed)),
		out:    out,
		logger: logger.With("component", "sim"),
	}
}

// Run registers the archetype populations and plays the scenario
// phases, then closes with a generation, an adaptation check and a
// status report.
func (s *Simulator) Run(ctx context.Context, scenario *Scenario, archetypes []Archetype) error {
	if err := scenario.Validate(); err != nil {
		return err
	}
	for i := range archetypes {
		if err := archetypes[i].Validate(); err != nil {
			return err
		}
	}

	agents, err := s.spawn(ctx, archetypes)
	if err != nil {
		return err
	}

	fmt.Fprintf(s.out, "Scenario %q: %d agents across %d archetypes\n",
		scenario.Name, len(agents), len(archetypes))
	if scenario.Description != "" {
		fmt.Fprintln(s.out, scenario.Description)
	}

	for _, phase := range scenario.Phases {
		s.runPhase(ctx, phase, agents)
	}

	s.finish(ctx)
	return nil
}

// spawn registers every archetype's agents through the hook boundary,
// the same path a live host uses.
func (s *Simulator) spawn(ctx context.Context, archetypes []Archetype) ([]simAgent, error) {
	var agents []simAgent
	number := 0
	for _, a := range archetypes {
		for i := 0; i < a.Count; i++ {
			number++
			id := s.hooks.AgentCreated(ctx, a.Name, number, sessionID)
			if id == "" {
				return nil, fmt.Errorf("failed to register agent %d for archetype %s", number, a.Name)
			}
			agents = append(agents, simAgent{id: id, archetype: a})
		}
	}
	return agents, nil
}

func (s *Simulator) runPhase(ctx context.Context, phase Phase, agents []simAgent) {
	fmt.Fprintf(s.out, "\n--- Phase %s (%d ticks) ---\n", phase.Name, phase.Ticks)

	for tick := 1; tick <= phase.Ticks; tick++ {
		for _, ag := range agents {
			success, responseSeconds := s.outcome(ag.archetype)
			s.orch.RecordOutcome(ctx, ag.id, success, responseSeconds)
		}

		if phase.CoordinateEvery > 0 && tick%phase.CoordinateEvery == 0 {
			task := phase.Task
			if task == "" {
				task = fmt.Sprintf("%s work", phase.Name)
			}
			res := s.orch.Coordinate(ctx, fmt.Sprintf("%s (tick %d)", task, tick), 0)
			fmt.Fprintf(s.out, "tick %2d: coordinated %d agent(s) [%s]\n",
				tick, res.AgentCount, res.Status)
		}

		if phase.FeedbackEvery > 0 && tick%phase.FeedbackEvery == 0 {
			env := s.orch.UpdateEnvironment(ctx, s.feedback())
			fmt.Fprintf(s.out, "tick %2d: environment complexity=%.3f volatility=%.3f\n",
				tick, env.Complexity, env.Volatility)
		}
	}
}

// outcome draws one synthetic loop result from the archetype's
// behavior profile.
func (s *Simulator) outcome(a Archetype) (bool, float64) {
	success := s.rng.Float64() < a.SuccessRate
	responseSeconds := a.ResponseTime.Min + s.rng.Float64()*(a.ResponseTime.Max-a.ResponseTime.Min)
	return success, responseSeconds
}

// feedback derives environment feedback from the live population.
func (s *Simulator) feedback() evolution.Feedback {
	records := s.orch.Agents()

	var rateSum, rtSum float64
	counted := 0
	for _, r := range records {
		if r.Metrics.TotalTasks() == 0 {
			continue
		}
		rateSum += r.Metrics.SuccessRate
		rtSum += r.Metrics.AvgResponseTime
		counted++
	}

	f := evolution.Feedback{TaskVariety: s.taskVariety()}
	if counted > 0 {
		f.SuccessRate = rateSum / float64(counted)
		f.AvgResponseTime = rtSum / float64(counted)
	}
	return f
}

// taskVariety maps the number of coordinated tasks so far onto [0,1].
func (s *Simulator) taskVariety() float64 {
	tasks := len(s.orch.Graph().Query("", "task"))
	return math.Min(1.0, float64(tasks)/20.0)
}

func (s *Simulator) finish(ctx context.Context) {
	fmt.Fprintln(s.out, "\n--- Final generation ---")

	res := s.orch.EvolveGeneration(ctx)
	if res.Status == evolution.StatusCompleted {
		fmt.Fprintf(s.out, "generation %d: avg fitness %.3f, max %.3f\n",
			res.Generation, res.AvgFitness, res.MaxFitness)
	} else {
		fmt.Fprintf(s.out, "evolution skipped: %s\n", res.Reason)
	}

	if s.orch.CheckAdaptationNeeded() {
		if adapted, ran := s.orch.AdaptToEnvironment(ctx); ran {
			fmt.Fprintf(s.out, "adaptation ran: generation %d\n", adapted.Generation)
		}
	} else {
		fmt.Fprintln(s.out, "population healthy, no adaptation needed")
	}

	for _, action := range []string{command.ActionStatus, command.ActionQueryAgents, command.ActionEnvironment} {
		fmt.Fprintf(s.out, "\n%s\n", s.disp.Dispatch(ctx, command.Request{Action: action}))
	}
}

package evolution

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/flockmind/flockmind/internal/config"
)

// Generation pass outcomes.
const (
	StatusCompleted = "completed"
	StatusSkipped   = "skipped"
)

// Trend classifications over the fitness history.
const (
	TrendImproving = "improving"
	TrendDeclining = "declining"
	TrendStable    = "stable"
	TrendUnknown   = "unknown"
)

const (
	// trendWindow bounds the trailing slice of history used for averages
	trendWindow = 5
	// topAgentCount is how many leaders a generation result names
	topAgentCount = 3
	// deadBand is the tolerance around the homeostasis target within which
	// complexity is left alone
	deadBand = 0.1
	// complexityStep is the nudge applied outside the dead band
	complexityStep = 0.05
)

// Member pairs an agent id with its fitness at observation time
type Member struct {
	ID      string  `json:"id"`
	Fitness float64 `json:"fitness"`
}

// Population is the controller's view of the live agent set. The orchestrator
// implements it over the registry and fitness evaluator.
type Population interface {
	Members() []Member
}

// GenerationResult reports one evolutionary ranking pass
type GenerationResult struct {
	Generation     int      `json:"generation"`
	Status         string   `json:"status"`
	Reason         string   `json:"reason,omitempty"`
	AvgFitness     float64  `json:"avg_fitness"`
	MaxFitness     float64  `json:"max_fitness"`
	PopulationSize int      `json:"population_size"`
	TopAgents      []string `json:"top_agents,omitempty"`
}

// HistoryEntry is an immutable snapshot of one completed generation
type HistoryEntry struct {
	Generation     int       `json:"generation"`
	Timestamp      time.Time `json:"timestamp"`
	AvgFitness     float64   `json:"avg_fitness"`
	MaxFitness     float64   `json:"max_fitness"`
	PopulationSize int       `json:"population_size"`
	Complexity     float64   `json:"complexity"`
	Volatility     float64   `json:"volatility"`
}

// Feedback is one observation window reported by the host
type Feedback struct {
	SuccessRate     float64 `json:"success_rate"`
	AvgResponseTime float64 `json:"avg_response_time"`
	TaskVariety     float64 `json:"task_variety"`
}

// Stats summarizes controller state for reporting surfaces
type Stats struct {
	Generation    int         `json:"generation"`
	HistoryLength int         `json:"history_length"`
	AvgFitness    float64     `json:"avg_fitness"`
	Trend         string      `json:"trend"`
	Environment   Environment `json:"environment"`
}

// Controller runs discrete evolutionary generations over the population and a
// homeostatic feedback loop over the environment. Generations rank and report;
// they never mutate live agents. The genetic operators in genetic.go are an
// extension point reachable through SelectParents and SpawnOffspring.
type Controller struct {
	cfg      config.EvolutionConfig
	pop      Population
	env      Environment
	history  []HistoryEntry
	feedback []float64

	generation int
	rng        *rand.Rand
	logger     *slog.Logger
	mu         sync.RWMutex
}

// NewController creates a controller over the given population view
func NewController(cfg config.EvolutionConfig, pop Population, logger *slog.Logger) *Controller {
	cfg = normalizeConfig(cfg)

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Controller{
		cfg:    cfg,
		pop:    pop,
		env:    DefaultEnvironment(),
		rng:    rand.New(rand.NewSource(seed)),
		logger: logger.With("component", "evolution"),
	}
}

func normalizeConfig(cfg config.EvolutionConfig) config.EvolutionConfig {
	if cfg.PopulationSize <= 0 {
		cfg.PopulationSize = 10
	}
	if cfg.EliteSize <= 0 {
		cfg.EliteSize = 2
	}
	if cfg.TournamentSize <= 0 {
		cfg.TournamentSize = 3
	}
	if cfg.FeedbackWindow <= 0 {
		cfg.FeedbackWindow = 10
	}
	return cfg
}

// Config returns the controller's effective configuration
func (c *Controller) Config() config.EvolutionConfig {
	return c.cfg
}

// Generation returns the number of completed generations
func (c *Controller) Generation() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// Environment returns a snapshot of the current dials
func (c *Controller) Environment() Environment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.env
}

// History returns a copy of the generation history in append order
func (c *Controller) History() []HistoryEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]HistoryEntry, len(c.history))
	copy(out, c.history)
	return out
}

// EvolveGeneration runs one ranking pass over the full population. With fewer
// than 2 agents the pass is skipped, the counter stays put, and the result
// says why; the first completed pass is generation 1.
func (c *Controller) EvolveGeneration() GenerationResult {
	members := c.pop.Members()

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(members) < 2 {
		c.logger.Info("generation skipped", "population", len(members))
		return GenerationResult{
			Generation:     c.generation,
			Status:         StatusSkipped,
			Reason:         "at least 2 agents required",
			PopulationSize: len(members),
		}
	}

	c.generation++

	ranked := Rank(members)
	var sum float64
	for _, m := range ranked {
		sum += m.Fitness
	}
	avg := sum / float64(len(ranked))
	maxFit := ranked[0].Fitness

	c.history = append(c.history, HistoryEntry{
		Generation:     c.generation,
		Timestamp:      time.Now(),
		AvgFitness:     avg,
		MaxFitness:     maxFit,
		PopulationSize: len(ranked),
		Complexity:     c.env.Complexity,
		Volatility:     c.env.Volatility,
	})

	top := make([]string, 0, topAgentCount)
	for i := 0; i < len(ranked) && i < topAgentCount; i++ {
		top = append(top, ranked[i].ID)
	}

	c.logger.Info("generation completed",
		"generation", c.generation,
		"population", len(ranked),
		"avg_fitness", avg,
		"max_fitness", maxFit)

	return GenerationResult{
		Generation:     c.generation,
		Status:         StatusCompleted,
		AvgFitness:     avg,
		MaxFitness:     maxFit,
		PopulationSize: len(ranked),
		TopAgents:      top,
	}
}

// UpdateEnvironment feeds one observation into the homeostatic loop. The
// success rate enters a fixed-size trailing buffer; when its average leaves
// the dead band around the target, complexity is nudged one step back toward
// it. Diversity and volatility track the feedback directly, independent of
// the dead band. Returns the environment after the update.
func (c *Controller) UpdateEnvironment(f Feedback) Environment {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.feedback = append(c.feedback, f.SuccessRate)
	if len(c.feedback) > c.cfg.FeedbackWindow {
		c.feedback = c.feedback[1:]
	}

	var sum float64
	for _, v := range c.feedback {
		sum += v
	}
	avgRecent := sum / float64(len(c.feedback))

	switch {
	case avgRecent > c.cfg.HomeostasisTarget+deadBand:
		c.env.Complexity = clamp01(c.env.Complexity + complexityStep)
		c.logger.Info("complexity raised", "avg_success", avgRecent, "complexity", c.env.Complexity)
	case avgRecent < c.cfg.HomeostasisTarget-deadBand:
		c.env.Complexity = clamp01(c.env.Complexity - complexityStep)
		c.logger.Info("complexity lowered", "avg_success", avgRecent, "complexity", c.env.Complexity)
	}

	c.env.TaskDiversity = clamp01(f.TaskVariety)
	if f.AvgResponseTime > 0 {
		c.env.Volatility = clamp01(1 / (1 + f.AvgResponseTime))
	} else {
		c.env.Volatility = 0.5
	}
	c.env.UpdatedAt = time.Now()

	return c.env
}

// CheckAdaptationNeeded reports whether recent generations average below the
// adaptation threshold. An empty history never needs adaptation.
func (c *Controller) CheckAdaptationNeeded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.history) == 0 {
		return false
	}
	return c.trailingAvgFitness() < c.cfg.AdaptationThreshold
}

// AdaptToEnvironment runs a generation pass only when the fitness history says
// one is warranted. The bool reports whether a pass ran.
func (c *Controller) AdaptToEnvironment() (GenerationResult, bool) {
	if !c.CheckAdaptationNeeded() {
		c.logger.Debug("adaptation not needed")
		return GenerationResult{}, false
	}

	c.logger.Info("adaptation triggered", "threshold", c.cfg.AdaptationThreshold)
	return c.EvolveGeneration(), true
}

// Stats summarizes the controller: trailing average fitness and a trend read
// off the last two generations.
func (c *Controller) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Stats{
		Generation:    c.generation,
		HistoryLength: len(c.history),
		Trend:         TrendUnknown,
		Environment:   c.env,
	}
	if len(c.history) == 0 {
		return s
	}

	s.AvgFitness = c.trailingAvgFitness()

	if len(c.history) >= 2 {
		last := c.history[len(c.history)-1].AvgFitness
		prev := c.history[len(c.history)-2].AvgFitness
		switch {
		case last > prev:
			s.Trend = TrendImproving
		case last < prev:
			s.Trend = TrendDeclining
		default:
			s.Trend = TrendStable
		}
	}
	return s
}

// trailingAvgFitness averages avgFitness over the last trendWindow entries.
// Callers hold at least a read lock and guarantee a non-empty history.
func (c *Controller) trailingAvgFitness() float64 {
	window := min(trendWindow, len(c.history))
	var sum float64
	for _, e := range c.history[len(c.history)-window:] {
		sum += e.AvgFitness
	}
	return sum / float64(window)
}

// Elites returns the ids of the top eliteSize agents by current fitness
func (c *Controller) Elites() []string {
	ranked := Rank(c.pop.Members())

	c.mu.RLock()
	n := min(c.cfg.EliteSize, len(ranked))
	c.mu.RUnlock()

	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, ranked[i].ID)
	}
	return out
}

// SelectParents runs tournament selection over the current population using
// the configured tournament size. Purely advisory; live agents are untouched.
func (c *Controller) SelectParents(count int) []string {
	ranked := Rank(c.pop.Members())

	c.mu.Lock()
	defer c.mu.Unlock()
	return TournamentSelect(c.rng, ranked, count, c.cfg.TournamentSize)
}

// SpawnOffspring derives a child parameter set from two parents using the
// configured crossover and mutation rates. Purely advisory; callers decide
// what, if anything, to do with the result.
func (c *Controller) SpawnOffspring(a, b Params) Params {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Offspring(c.rng, c.cfg.CrossoverRate, c.cfg.MutationRate, a, b)
}

// Reset clears generations, history, feedback, and the environment, for test
// isolation and teardown
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation = 0
	c.history = nil
	c.feedback = nil
	c.env = DefaultEnvironment()
	c.logger.Debug("controller reset")
}

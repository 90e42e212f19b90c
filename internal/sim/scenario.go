package sim

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario scripts a simulation run as a sequence of phases.
type Scenario struct {
	Name        string  `yaml:"name"`
	Description string  `yaml:"description,omitempty"`
	Phases      []Phase `yaml:"phases"`
}

// Phase is one stretch of ticks with fixed cadences. A zero cadence
// disables that activity for the phase.
type Phase struct {
	Name            string `yaml:"name"`
	Ticks           int    `yaml:"ticks"`
	CoordinateEvery int    `yaml:"coordinate_every,omitempty"`
	FeedbackEvery   int    `yaml:"feedback_every,omitempty"`
	Task            string `yaml:"task,omitempty"`
}

// Validate checks the scenario is runnable.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("scenario name required")
	}
	if len(s.Phases) == 0 {
		return fmt.Errorf("scenario %s: at least one phase required", s.Name)
	}
	for i, p := range s.Phases {
		if p.Name == "" {
			return fmt.Errorf("scenario %s: phase %d has no name", s.Name, i)
		}
		if p.Ticks < 1 {
			return fmt.Errorf("scenario %s: phase %s must have at least 1 tick", s.Name, p.Name)
		}
		if p.CoordinateEvery < 0 || p.FeedbackEvery < 0 {
			return fmt.Errorf("scenario %s: phase %s has negative cadence", s.Name, p.Name)
		}
	}
	return nil
}

// LoadScenario reads a scenario script from a YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// DefaultScenario returns the built-in script used when no scenario
// file is given: a warmup stretch, a coordination burst, then a
// feedback-heavy cooldown.
func DefaultScenario() *Scenario {
	return &Scenario{
		Name:        "baseline",
		Description: "Warm up metrics, coordinate under load, then adapt.",
		Phases: []Phase{
			{
				Name:  "warmup",
				Ticks: 5,
			},
			{
				Name:            "load",
				Ticks:           10,
				CoordinateEvery: 2,
				FeedbackEvery:   5,
				Task:            "Process incoming work batch",
			},
			{
				Name:            "cooldown",
				Ticks:           5,
				CoordinateEvery: 5,
				FeedbackEvery:   2,
				Task:            "Drain remaining queue",
			},
		},
	}
}

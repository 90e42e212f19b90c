// Package sim drives the full coordination and evolution loop with
// synthetic agents, for demos and reproducible experiments.
package sim

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Archetype describes one simulated agent population: how many agents
// to spawn and how they behave.
type Archetype struct {
	Name         string            `toml:"name"`
	Count        int               `toml:"count"`
	SuccessRate  float64           `toml:"success_rate"`
	ResponseTime ResponseRange     `toml:"response_time"`
	Params       map[string]string `toml:"params"`
}

// ResponseRange bounds the simulated response time in seconds.
type ResponseRange struct {
	Min float64 `toml:"min"`
	Max float64 `toml:"max"`
}

// Validate checks the archetype is usable.
func (a *Archetype) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("archetype name required")
	}
	if a.Count < 1 {
		return fmt.Errorf("archetype %s: count must be at least 1", a.Name)
	}
	if a.SuccessRate < 0 || a.SuccessRate > 1 {
		return fmt.Errorf("archetype %s: success_rate must be in [0,1]", a.Name)
	}
	if a.ResponseTime.Min < 0 {
		return fmt.Errorf("archetype %s: response_time.min must be non-negative", a.Name)
	}
	if a.ResponseTime.Max < a.ResponseTime.Min {
		return fmt.Errorf("archetype %s: response_time.max must be >= min", a.Name)
	}
	return nil
}

// LoadArchetypes reads every *.toml file in dir. Files that fail to
// parse or validate are skipped with a warning so one bad manifest
// cannot block a demo run.
func LoadArchetypes(dir string, logger *slog.Logger) ([]Archetype, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read archetypes dir: %w", err)
	}

	var archetypes []Archetype
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		a, err := loadArchetype(path)
		if err != nil {
			logger.Warn("skipping archetype", "file", path, "error", err)
			continue
		}
		archetypes = append(archetypes, a)
		logger.Info("loaded archetype", "name", a.Name, "count", a.Count)
	}
	if len(archetypes) == 0 {
		return nil, fmt.Errorf("no usable archetypes in %s", dir)
	}
	return archetypes, nil
}

func loadArchetype(path string) (Archetype, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Archetype{}, fmt.Errorf("read archetype: %w", err)
	}

	var a Archetype
	if err := toml.Unmarshal(data, &a); err != nil {
		return Archetype{}, fmt.Errorf("parse archetype: %w", err)
	}
	if err := a.Validate(); err != nil {
		return Archetype{}, err
	}
	return a, nil
}

// DefaultArchetypes returns the built-in populations used when no
// archetype directory is given.
func DefaultArchetypes() []Archetype {
	return []Archetype{
		{
			Name:         "scout",
			Count:        3,
			SuccessRate:  0.9,
			ResponseTime: ResponseRange{Min: 0.2, Max: 0.8},
			Params:       map[string]string{"role": "exploration"},
		},
		{
			Name:         "worker",
			Count:        4,
			SuccessRate:  0.7,
			ResponseTime: ResponseRange{Min: 0.5, Max: 2.0},
			Params:       map[string]string{"role": "general"},
		},
		{
			Name:         "specialist",
			Count:        2,
			SuccessRate:  0.55,
			ResponseTime: ResponseRange{Min: 2.0, Max: 6.0},
			Params:       map[string]string{"role": "deep-work"},
		},
	}
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config is the full daemon configuration
type Config struct {
	Server       ServerConfig       `json:"server"`
	Coordination CoordinationConfig `json:"coordination"`
	Evolution    EvolutionConfig    `json:"evolution"`
	Journal      JournalConfig      `json:"journal"`
	Security     SecurityConfig     `json:"security"`
	Ingest       IngestConfig       `json:"ingest"`
	Scheduler    SchedulerConfig    `json:"scheduler,omitempty"`
}

// ServerConfig holds HTTP server and process settings
type ServerConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	LogLevel string `json:"logLevel"` // "debug", "info", "warn", "error"
	DataDir  string `json:"dataDir"`
}

// CoordinationConfig tunes task coordination
type CoordinationConfig struct {
	DefaultTeamSize int `json:"defaultTeamSize"`
}

// EvolutionConfig tunes the evolutionary controller
type EvolutionConfig struct {
	PopulationSize      int     `json:"populationSize"`
	MutationRate        float64 `json:"mutationRate"`
	CrossoverRate       float64 `json:"crossoverRate"`
	EliteSize           int     `json:"eliteSize"`
	TournamentSize      int     `json:"tournamentSize"`
	AdaptationThreshold float64 `json:"adaptationThreshold"`
	HomeostasisTarget   float64 `json:"homeostasisTarget"`
	FeedbackWindow      int     `json:"feedbackWindow"`
	Seed                int64   `json:"seed,omitempty"` // 0 = time-seeded
}

// JournalConfig controls the append-only event journal
type JournalConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"` // relative paths resolve under dataDir
}

// SecurityConfig controls API authentication. An empty secret disables auth;
// the FLOCKMIND_JWT_SECRET environment variable overrides the file value.
type SecurityConfig struct {
	JWTSecret     string `json:"jwtSecret,omitempty"`
	TokenTTLHours int    `json:"tokenTtlHours"`
}

// IngestConfig controls the optional MQTT outcome bridge
type IngestConfig struct {
	Enabled     bool   `json:"enabled"`
	Broker      string `json:"broker"`
	Port        int    `json:"port"`
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
	TopicPrefix string `json:"topicPrefix"`
}

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	Enabled bool                 `json:"enabled"`
	Jobs    []SchedulerJobConfig `json:"jobs"`
}

// SchedulerJobConfig defines a scheduled job
type SchedulerJobConfig struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Schedule ScheduleConfig `json:"schedule"`
	Action   ActionConfig   `json:"action"`
	Enabled  bool           `json:"enabled"`
}

// ScheduleConfig defines when a job runs
type ScheduleConfig struct {
	Kind       string `json:"kind"` // "interval", "cron", "at"
	IntervalMs int64  `json:"intervalMs,omitempty"`
	Expr       string `json:"expr,omitempty"` // cron expression
	Time       string `json:"time,omitempty"` // "HH:MM" for daily
	Timezone   string `json:"timezone,omitempty"`
}

// ActionConfig defines what a job does
type ActionConfig struct {
	Kind string `json:"kind"` // "evolve", "adapt", "report"
}

// DefaultConfig returns the configuration used when no file exists
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "127.0.0.1",
			Port:     8787,
			LogLevel: "info",
			DataDir:  defaultDataDir(),
		},
		Coordination: CoordinationConfig{
			DefaultTeamSize: 3,
		},
		Evolution: EvolutionConfig{
			PopulationSize:      10,
			MutationRate:        0.1,
			CrossoverRate:       0.7,
			EliteSize:           2,
			TournamentSize:      3,
			AdaptationThreshold: 0.5,
			HomeostasisTarget:   0.7,
			FeedbackWindow:      10,
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    "journal.db",
		},
		Security: SecurityConfig{
			TokenTTLHours: 24,
		},
		Ingest: IngestConfig{
			Enabled:     false,
			Broker:      "localhost",
			Port:        1883,
			TopicPrefix: "flockmind",
		},
		Scheduler: SchedulerConfig{
			Enabled: true,
			Jobs: []SchedulerJobConfig{
				{
					ID:       "trend-report",
					Name:     "Population trend report",
					Schedule: ScheduleConfig{Kind: "interval", IntervalMs: 15 * 60 * 1000},
					Action:   ActionConfig{Kind: "report"},
					Enabled:  true,
				},
				{
					ID:       "nightly-adapt",
					Name:     "Nightly adaptation check",
					Schedule: ScheduleConfig{Kind: "at", Time: "03:00"},
					Action:   ActionConfig{Kind: "adapt"},
					Enabled:  true,
				},
			},
		},
	}
}

// Load reads config from a JSON file, layered over defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := os.MkdirAll(cfg.Server.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	return cfg, nil
}

// Save writes config to a JSON file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0640)
}

// JournalPath resolves the journal location against the data directory
func (c *Config) JournalPath() string {
	if c.Journal.Path == "" || filepath.IsAbs(c.Journal.Path) {
		return c.Journal.Path
	}
	return filepath.Join(c.Server.DataDir, c.Journal.Path)
}

// JWTSecret returns the effective API secret, preferring the environment
func (c *Config) JWTSecret() string {
	if s := os.Getenv("FLOCKMIND_JWT_SECRET"); s != "" {
		return s
	}
	return c.Security.JWTSecret
}

// DefaultConfigPath returns ~/.flockmind/config.json
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".flockmind", "config.json")
	}
	return filepath.Join(home, ".flockmind", "config.json")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".flockmind")
	}
	return filepath.Join(home, ".flockmind")
}

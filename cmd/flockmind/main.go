package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flockmind/flockmind/internal/api"
	"github.com/flockmind/flockmind/internal/command"
	"github.com/flockmind/flockmind/internal/config"
	"github.com/flockmind/flockmind/internal/events"
	"github.com/flockmind/flockmind/internal/ingest"
	"github.com/flockmind/flockmind/internal/journal"
	"github.com/flockmind/flockmind/internal/orchestrator"
	"github.com/flockmind/flockmind/internal/scheduler"
	"github.com/flockmind/flockmind/internal/security"
	"github.com/flockmind/flockmind/internal/sim"
)

var (
	version   = "0.1.0"
	buildTime = "dev"
)

// App holds the runtime components of the serve command.
type App struct {
	Config     *config.Config
	ConfigPath string
	Logger     *slog.Logger
	LogLevel   *slog.LevelVar

	Orchestrator *orchestrator.Orchestrator
	Bus          *events.Bus
	Journal      *journal.SQLite
	Scheduler    *scheduler.Scheduler
	Bridge       *ingest.Bridge
	API          *api.Server
}

func main() {
	os.Exit(run())
}

func run() int {
	args := os.Args[1:]

	if len(args) > 0 && (args[0] == "--version" || args[0] == "-version") {
		printVersion()
		return 0
	}

	cmd := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd = args[0]
		args = args[1:]
	}

	switch cmd {
	case "serve", "start":
		return runServe(args)
	case "demo":
		return runDemo(args)
	case "do":
		return runDo(args)
	case "token":
		return runToken(args)
	case "version":
		printVersion()
		return 0
	case "help":
		usage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		return 1
	}
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultConfigPath(), "Path to config file")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	app, err := setup(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Setup failed: %v\n", err)
		return 1
	}
	defer app.Close()

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, ctx := errgroup.WithContext(rootCtx)

	g.Go(func() error {
		return app.API.Start(ctx)
	})

	if app.Config.Scheduler.Enabled {
		if err := app.Scheduler.Start(ctx); err != nil {
			app.Logger.Error("failed to start scheduler", "error", err)
			cancel()
			_ = g.Wait()
			return 1
		}
	}

	// A broker outage must not take the daemon down; everything else
	// keeps working without ingest.
	if app.Bridge != nil {
		if err := app.Bridge.Start(ctx); err != nil {
			app.Logger.Warn("ingest bridge unavailable", "error", err)
			app.Bridge = nil
		}
	}

	g.Go(func() error {
		return watchSignals(ctx, app, cancel)
	})

	watcher := config.NewWatcher(app.ConfigPath, app.Config, 30*time.Second, app.Logger, app.applyConfig)
	g.Go(func() error {
		return watcher.Run(ctx)
	})

	printBanner(app)

	err = g.Wait()

	if app.Config.Scheduler.Enabled {
		app.Scheduler.Stop()
	}
	if app.Bridge != nil {
		_ = app.Bridge.Stop()
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		app.Logger.Error("shutdown error", "error", err)
		return 1
	}
	app.Logger.Info("flockmind stopped")
	return 0
}

// setup builds every component of the daemon from config.
func setup(configPath string) (*App, error) {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	logger.Info("starting flockmind", "version", version, "config", configPath)

	cfg, err := loadConfig(configPath, logger)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	level.Set(parseLogLevel(cfg.Server.LogLevel))

	app := &App{
		Config:     cfg,
		ConfigPath: configPath,
		Logger:     logger,
		LogLevel:   level,
	}

	app.Bus = events.NewBus(logger)

	var recorder journal.Recorder = journal.Nop{}
	var reader journal.Reader
	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.JournalPath(), logger)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		app.Journal = j
		recorder = j
		reader = j
	}

	app.Orchestrator = orchestrator.New(cfg, logger,
		orchestrator.WithJournal(recorder),
		orchestrator.WithBus(app.Bus),
	)

	app.Scheduler = scheduler.NewScheduler(newMaintenance(app.Orchestrator, logger), logger)
	app.Scheduler.LoadJobs(cfg.Scheduler.Jobs)

	if cfg.Ingest.Enabled {
		app.Bridge = ingest.New(cfg.Ingest, app.Orchestrator, logger)
	}

	app.API = api.NewServer(cfg, app.Orchestrator, app.Bus, reader, logger)

	return app, nil
}

// Close releases resources owned by the app. Called after all
// services have stopped.
func (a *App) Close() {
	if a.Journal != nil {
		if err := a.Journal.Close(); err != nil {
			a.Logger.Error("failed to close journal", "error", err)
		}
	}
}

// ReloadConfig re-reads the config file and applies what can change on
// a running daemon: the log level and the scheduler job table. Other
// settings require a restart.
func (a *App) ReloadConfig() {
	cfg, err := config.Load(a.ConfigPath)
	if err != nil {
		a.Logger.Error("config reload failed", "error", err)
		return
	}
	a.LogLevel.Set(parseLogLevel(cfg.Server.LogLevel))
	if a.Config.Scheduler.Enabled && cfg.Scheduler.Enabled {
		a.Scheduler.ReloadJobs(cfg.Scheduler.Jobs)
	}
	a.Logger.Info("config reloaded", "logLevel", cfg.Server.LogLevel)
}

// applyConfig is the file-watcher callback. It receives the already
// diffed sections; the watcher logs the ones that need a restart.
func (a *App) applyConfig(next *config.Config, res config.ReloadResult) {
	for _, section := range res.Applied {
		switch section {
		case "Server":
			a.LogLevel.Set(parseLogLevel(next.Server.LogLevel))
			a.Logger.Info("log level updated", "logLevel", next.Server.LogLevel)
		case "Scheduler":
			if a.Config.Scheduler.Enabled && next.Scheduler.Enabled {
				a.Scheduler.ReloadJobs(next.Scheduler.Jobs)
			} else {
				a.Logger.Warn("scheduler enable flag changed, restart required")
			}
		}
	}
}

// loadConfig loads configuration from file or creates the default.
func loadConfig(path string, logger *slog.Logger) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("no config found, creating default", "path", path)
			cfg = config.DefaultConfig()
			if err := cfg.Save(path); err != nil {
				return nil, fmt.Errorf("save default config: %w", err)
			}
			return cfg, nil
		}
		return nil, err
	}
	return cfg, nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// watchSignals blocks until a shutdown signal arrives or the group
// context ends. Platform-specific signals (SIGHUP reload) are handled
// in the signals_* files.
func watchSignals(ctx context.Context, app *App, cancel context.CancelFunc) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, shutdownSignals()...)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-sigCh:
			if handlePlatformSignal(sig, app) {
				continue
			}
			app.Logger.Info("shutdown signal received", "signal", sig.String())
			cancel()
			return nil
		}
	}
}

func printBanner(app *App) {
	journalLine := "disabled"
	if app.Journal != nil {
		journalLine = app.Config.JournalPath()
	}

	fmt.Println()
	fmt.Printf("  flockmind v%s\n", version)
	fmt.Println("  Evolutionary coordination for agent swarms")
	fmt.Println()
	fmt.Printf("  API:      http://%s:%d\n", app.Config.Server.Host, app.Config.Server.Port)
	fmt.Printf("  Jobs:     %d scheduled\n", len(app.Scheduler.ListJobs()))
	fmt.Printf("  Journal:  %s\n", journalLine)
	fmt.Println()
}

func runDemo(args []string) int {
	fs := flag.NewFlagSet("demo", flag.ExitOnError)
	scenarioPath := fs.String("scenario", "", "Scenario YAML file (built-in when empty)")
	archetypesDir := fs.String("archetypes", "", "Archetype TOML directory (built-in when empty)")
	seed := fs.Int64("seed", 1, "Random seed")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	scenario := sim.DefaultScenario()
	if *scenarioPath != "" {
		var err error
		scenario, err = sim.LoadScenario(*scenarioPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}

	archetypes := sim.DefaultArchetypes()
	if *archetypesDir != "" {
		var err error
		archetypes, err = sim.LoadArchetypes(*archetypesDir, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}

	cfg := config.DefaultConfig()
	cfg.Evolution.Seed = *seed
	orch := orchestrator.New(cfg, logger)

	s := sim.New(orch, *seed, os.Stdout, logger)
	if err := s.Run(context.Background(), scenario, archetypes); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func runDo(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: flockmind do <action> [key=value ...]")
		return 1
	}

	action := args[0]
	params := make(map[string]string)
	for _, kv := range args[1:] {
		key, value, found := strings.Cut(kv, "=")
		if !found || key == "" {
			fmt.Fprintf(os.Stderr, "Error: argument %q is not key=value\n", kv)
			return 1
		}
		params[key] = value
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	orch := orchestrator.New(config.DefaultConfig(), logger)
	disp := command.NewDispatcher(orch, logger)

	fmt.Println(disp.Dispatch(context.Background(), command.Request{Action: action, Params: params}))
	return 0
}

func runToken(args []string) int {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	subject := fs.String("subject", "", "Token subject (required)")
	role := fs.String("role", security.RoleAdmin, "Token role (admin or viewer)")
	ttl := fs.Duration("ttl", 0, "Token lifetime (config default when zero)")
	configPath := fs.String("config", config.DefaultConfigPath(), "Path to config file")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *subject == "" {
		fmt.Fprintln(os.Stderr, "Error: --subject is required")
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		// The secret may come from the environment; a missing config
		// file alone is not fatal.
		cfg = config.DefaultConfig()
	}

	secret := cfg.JWTSecret()
	if secret == "" {
		fmt.Fprintln(os.Stderr, "Error: no JWT secret configured (set FLOCKMIND_JWT_SECRET or security.jwtSecret)")
		return 1
	}

	expiry := *ttl
	if expiry == 0 {
		expiry = time.Duration(cfg.Security.TokenTTLHours) * time.Hour
	}

	token, err := security.GenerateToken(*subject, *role, []byte(secret), expiry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Println(token)
	return 0
}

func printVersion() {
	fmt.Printf("flockmind v%s (built %s)\n", version, buildTime)
	fmt.Println("Evolutionary coordination core for agent swarms")
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: flockmind <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  serve    Run the orchestration daemon (default)")
	fmt.Fprintln(os.Stderr, "  demo     Run a seeded simulation against an in-memory core")
	fmt.Fprintln(os.Stderr, "  do       Dispatch one command action against a fresh core")
	fmt.Fprintln(os.Stderr, "  token    Mint an API access token")
	fmt.Fprintln(os.Stderr, "  version  Print version information")
}

package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sunward/taskpilot/internal/config"
	"github.com/sunward/taskpilot/internal/db"
	"github.com/sunward/taskpilot/internal/engine"
	"github.com/sunward/taskpilot/internal/handlers"
	"github.com/sunward/taskpilot/internal/learning"
	"github.com/sunward/taskpilot/internal/logging"
	"github.com/sunward/taskpilot/internal/task"
)

// app bundles everything a command needs after startup.
type app struct {
	cfg       *config.Config
	db        *db.DB
	tasks     task.Store
	learnings learning.Store
	engine    *engine.Engine
}

// openApp loads config, initializes logging, opens the database, and wires
// the engine with the built-in handlers. Callers must Close.
func openApp() (*app, error) {
	cfg, err := config.LoadFrom(configPathFlag)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if err := logging.Init(logging.Config{
		Level:         cfg.Log.Level,
		Path:          cfg.Log.Path,
		Format:        cfg.Log.Format,
		RetentionDays: cfg.Log.RetentionDays,
	}); err != nil {
		return nil, fmt.Errorf("initializing logging: %w", err)
	}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening db: %w", err)
	}

	registry := engine.NewRegistry()
	if err := handlers.RegisterAll(registry); err != nil {
		_ = database.Close()
		return nil, err
	}

	tasks := task.NewSQLiteStore(database)
	learnings := learning.NewSQLiteStore(database)

	eng := engine.New(tasks, learnings, registry, engine.WithConfig(engine.Config{
		SuccessThreshold:   cfg.Engine.SuccessThreshold,
		AutoApplyThreshold: cfg.Engine.AutoApplyThreshold,
		FailurePenalty:     cfg.Engine.FailurePenalty,
		MaxRetries:         cfg.Engine.DefaultMaxRetries,
		Priority:           cfg.Engine.DefaultPriority,
	}))

	return &app{
		cfg:       cfg,
		db:        database,
		tasks:     tasks,
		learnings: learnings,
		engine:    eng,
	}, nil
}

// Close releases the app's resources.
func (a *app) Close() {
	if a.db != nil {
		_ = a.db.Close()
	}
}

// parseInputJSON reads a task input map from an inline JSON string or a file
// ("@path" syntax, "@-" for stdin).
func parseInputJSON(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, errors.New("input required (JSON object)")
	}

	data := []byte(raw)
	if raw[0] == '@' {
		path := raw[1:]
		var err error
		if path == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(path)
		}
		if err != nil {
			return nil, fmt.Errorf("reading input: %w", err)
		}
	}

	var input map[string]any
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("parsing input JSON: %w", err)
	}
	return input, nil
}

// printJSON renders v as indented JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// exitCodeForError maps engine errors to distinct exit codes so scripts can
// branch on the failure class.
func exitCodeForError(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, engine.ErrInvalidArgument):
		return 2
	case errors.Is(err, engine.ErrNotFound):
		return 3
	case errors.Is(err, engine.ErrFailedPrecondition):
		return 4
	case errors.Is(err, engine.ErrConflict):
		return 5
	default:
		return 1
	}
}

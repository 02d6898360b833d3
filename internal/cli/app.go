package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"rocket-import/internal/config"
	"rocket-import/internal/engine"
	"rocket-import/internal/logging"
	"rocket-import/internal/metadata"
	"rocket-import/internal/store"
)

// App is what a command needs to talk to the catalog database.
type App struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Store    *store.Store
	Registry *metadata.Registry
	Runner   *engine.ImportRunner
}

func (a *App) Close() {
	if a.Store != nil {
		a.Store.Close()
		a.Store = nil
	}
}

type runFunc func(ctx context.Context, app *App, cmd *cobra.Command, args []string) error

// withApp loads config, opens and bootstraps the database and loads the
// catalog before fn runs. The database is closed when fn returns.
func withApp(fn runFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := logging.NewWithWriter(cfg.Logging, cmd.ErrOrStderr())

		s, err := store.New(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		app := &App{Config: cfg, Logger: logger, Store: s}
		defer app.Close()

		if err := s.Bootstrap(ctx); err != nil {
			return fmt.Errorf("bootstrap system tables: %w", err)
		}
		app.Registry = metadata.NewRegistry()
		if err := metadata.LoadAll(ctx, s.DB, app.Registry, logger); err != nil {
			return fmt.Errorf("load catalog: %w", err)
		}
		app.Runner = engine.NewImportRunner(s, app.Registry, cfg.Import, logger)

		return fn(ctx, app, cmd, args)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

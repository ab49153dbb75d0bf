package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"quizdesk/internal/auth"
	"quizdesk/internal/config"
	"quizdesk/internal/platform/database"
	"quizdesk/internal/platform/logging"
)

// backend opens the stores commands operate on. Tests replace it.
type backend struct {
	openDB       func(ctx context.Context, databaseURL string) (*sqlx.DB, error)
	openProfiles func(ctx context.Context, cfg config.Config) (auth.ProfileRepository, func(), error)
	loadConfig   func(overrides config.Overrides) (config.Config, error)
}

func defaultBackend() *backend {
	b := &backend{
		openDB: func(ctx context.Context, databaseURL string) (*sqlx.DB, error) {
			return database.NewPostgres(ctx, databaseURL, database.ToolPool)
		},
		loadConfig: config.LoadWith,
	}
	b.openProfiles = func(ctx context.Context, cfg config.Config) (auth.ProfileRepository, func(), error) {
		switch cfg.DataStore {
		case "postgres":
			db, err := b.openDB(ctx, cfg.DatabaseURL)
			if err != nil {
				return nil, nil, err
			}
			return auth.NewPostgresRepository(db), func() { _ = db.Close() }, nil
		case "supabase":
			client := &http.Client{Timeout: 12 * time.Second}
			return auth.NewPostgrestRepository(cfg.SupabaseURL, cfg.SupabaseServiceKey, client), func() {}, nil
		default:
			return nil, nil, fmt.Errorf("DATA_STORE %q has no persistent profiles; use postgres or supabase", cfg.DataStore)
		}
	}
	return b
}

type rootOptions struct {
	databaseURL string
	jsonOutput  bool
}

func newRootCmd(b *backend) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "quizctl",
		Short: "Administer quizdesk profiles and migrations",
		Long: `quizctl manages the quizdesk profile store.

It reads the same environment as the API server (DATA_STORE, DATABASE_URL,
SUPABASE_URL, SUPABASE_SERVICE_KEY, ...), including a .env file when present.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.databaseURL, "database-url", "", "Postgres URL (overrides DATABASE_URL)")
	root.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "Output JSON instead of a table")

	root.AddCommand(newMigrateCmd(b, opts))
	root.AddCommand(newProfilesCmd(b, opts))
	return root
}

// config loads the environment with the command line flags applied before
// validation, so --database-url satisfies DATA_STORE=postgres on its own.
func (o *rootOptions) config(b *backend) (config.Config, error) {
	return b.loadConfig(config.Overrides{DatabaseURL: o.databaseURL})
}

func commandLogger(w io.Writer, cfg config.Config) *slog.Logger {
	return logging.NewWithWriter(w, cfg.LogLevel, cfg.LogFormat)
}

var errMissingDatabaseURL = errors.New("DATABASE_URL is not set")

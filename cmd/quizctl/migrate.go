package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"quizdesk/internal/platform/migrate"
)

func newMigrateCmd(b *backend, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.config(b)
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errMissingDatabaseURL
			}

			ctx := cmd.Context()
			db, err := b.openDB(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer func() {
				_ = db.Close()
			}()

			if err := migrate.Apply(ctx, db, commandLogger(cmd.ErrOrStderr(), cfg)); err != nil {
				return err
			}
			version, err := migrate.Status(ctx, db)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "database at migration version %d\n", version)
			return nil
		},
	}
}

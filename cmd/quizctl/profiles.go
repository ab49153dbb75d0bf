package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"quizdesk/internal/auth"
	"quizdesk/internal/roster"
)

func newProfilesCmd(b *backend, opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "List, inspect and change user profiles",
	}

	// withProfiles opens the profile store for the duration of fn.
	withProfiles := func(cmd *cobra.Command, fn func(ctx context.Context, repo auth.ProfileRepository) error) error {
		cfg, err := opts.config(b)
		if err != nil {
			return err
		}
		repo, closeRepo, err := b.openProfiles(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer closeRepo()
		return fn(cmd.Context(), repo)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withProfiles(cmd, func(ctx context.Context, repo auth.ProfileRepository) error {
				profiles, err := repo.ListProfiles(ctx)
				if err != nil {
					return err
				}
				return printProfiles(cmd.OutOrStdout(), profiles, opts.jsonOutput)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get <id|email>",
		Short: "Show one profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProfiles(cmd, func(ctx context.Context, repo auth.ProfileRepository) error {
				profile, err := findProfile(ctx, repo, args[0])
				if err != nil {
					return err
				}
				return printProfiles(cmd.OutOrStdout(), []auth.Profile{*profile}, opts.jsonOutput)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set-role <id|email> <user|admin>",
		Short: "Change the role of a profile",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := auth.ParseRole(args[1])
			if err != nil {
				return err
			}
			return withProfiles(cmd, func(ctx context.Context, repo auth.ProfileRepository) error {
				profile, err := findProfile(ctx, repo, args[0])
				if err != nil {
					return err
				}
				updated, err := repo.UpdateRole(ctx, profile.ID, role)
				if err != nil {
					return fmt.Errorf("update role: %w", err)
				}
				return printProfiles(cmd.OutOrStdout(), []auth.Profile{updated}, opts.jsonOutput)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "export",
		Short: "Write every profile as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withProfiles(cmd, func(ctx context.Context, repo auth.ProfileRepository) error {
				profiles, err := repo.ListProfiles(ctx)
				if err != nil {
					return err
				}
				return roster.NewCSVExporter().Export(cmd.OutOrStdout(), profiles)
			})
		},
	})

	var dryRun bool
	importCmd := &cobra.Command{
		Use:   "import <file|->",
		Short: "Apply role assignments from a CSV file with id or email and role columns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			return withProfiles(cmd, func(ctx context.Context, repo auth.ProfileRepository) error {
				summary, err := roster.NewCSVImporter(repo).Import(ctx, in, dryRun)
				if err != nil {
					return err
				}
				return printImportSummary(cmd.OutOrStdout(), summary, opts.jsonOutput)
			})
		},
	}
	importCmd.Flags().BoolVar(&dryRun, "dry-run", false, "report changes without writing them")
	cmd.AddCommand(importCmd)

	return cmd
}

func printImportSummary(w io.Writer, summary roster.Summary, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	verb := "updated"
	if summary.DryRun {
		verb = "would update"
	}
	fmt.Fprintf(w, "%d rows: %s %d, unchanged %d, failed %d\n",
		summary.TotalRows, verb, summary.Updated, len(summary.Unchanged), len(summary.Failed))
	for _, failed := range summary.Failed {
		fmt.Fprintf(w, "  row %d %s: %s\n", failed.Row, failed.Identifier, failed.Error)
	}
	if summary.TruncatedRecords {
		fmt.Fprintln(w, "  (further rows omitted)")
	}
	return nil
}

// findProfile resolves a profile by UUID or, failing that, by email.
func findProfile(ctx context.Context, repo auth.ProfileRepository, ref string) (*auth.Profile, error) {
	var (
		profile *auth.Profile
		err     error
	)
	if id, parseErr := uuid.Parse(ref); parseErr == nil {
		profile, err = repo.FindProfile(ctx, id)
	} else {
		profile, err = repo.FindProfileByEmail(ctx, ref)
	}
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, fmt.Errorf("%q: %w", ref, auth.ErrProfileNotFound)
	}
	return profile, nil
}

func printProfiles(w io.Writer, profiles []auth.Profile, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(profiles)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tEMAIL\tROLE\tCREATED")
	for _, p := range profiles {
		email := p.Email
		if email == "" {
			email = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ID, email, p.Role, p.CreatedAt.UTC().Format(time.RFC3339))
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("write profiles: %w", err)
	}
	return nil
}

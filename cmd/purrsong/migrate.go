package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerrad567/purrsong-bridge/internal/infrastructure/database"
	"github.com/nerrad567/purrsong-bridge/migrations"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	var schemaOnly bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and upgrade legacy accounts",
		Long: `Migrate applies pending schema migrations, then upgrades version 1 and 2
accounts to the current version. Each legacy account is validated against the
PurrSong cloud first; accounts that fail validation are left untouched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := opts.openEnv(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer env.Close() //nolint:errcheck // CLI exit

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "schema up to date")
			if schemaOnly {
				return nil
			}

			entries, err := env.repo.List(cmd.Context())
			if err != nil {
				return err
			}
			var migrated, failed int
			for i := range entries {
				e := &entries[i]
				from := e.Version
				ok, err := env.flow.Migrate(cmd.Context(), e)
				switch {
				case err != nil:
					failed++
					fmt.Fprintf(out, "account %s: migration from v%d failed: %v\n", e.ID, from, err)
				case ok:
					migrated++
					fmt.Fprintf(out, "account %s: migrated v%d -> v%d\n", e.ID, from, e.Version)
				}
			}
			fmt.Fprintf(out, "%d migrated, %d failed\n", migrated, failed)
			if failed > 0 {
				return fmt.Errorf("%d account(s) could not be migrated", failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&schemaOnly, "schema-only", false, "Only apply schema migrations")
	cmd.AddCommand(newMigrateDownCmd(opts))
	return cmd
}

func newMigrateDownCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recently applied schema migration",
		Long: `Down runs the down script of the latest applied schema migration. It is a
development aid: rolling back the accounts table discards every stored account.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			db, err := database.Open(cmd.Context(), database.FromConfig(cfg.Database, migrations.FS))
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer db.Close() //nolint:errcheck // CLI exit

			applied, _, err := db.GetMigrationStatus(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(applied) == 0 {
				fmt.Fprintln(out, "nothing to roll back")
				return nil
			}
			if err := db.MigrateDown(cmd.Context()); err != nil {
				return fmt.Errorf("rolling back migration: %w", err)
			}
			fmt.Fprintf(out, "rolled back %s\n", applied[len(applied)-1].Version)
			return nil
		},
	}
}

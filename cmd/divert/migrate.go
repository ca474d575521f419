package main

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newMigrateCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runMigrate(cmd.Context(), resolveConfigPath(*configPath), "up", cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runMigrate(cmd.Context(), resolveConfigPath(*configPath), "down", cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runMigrate(cmd.Context(), resolveConfigPath(*configPath), "status", cmd.OutOrStdout())
			},
		},
	)
	return cmd
}

// runMigrate opens the database without applying migrations and runs one
// migrate action against it.
func runMigrate(ctx context.Context, configPath, action string, out io.Writer) error {
	cfg, log, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Status and down must see the schema as it is, so the database is
	// opened without the automatic Migrate that openDatabase performs.
	db, err := openRaw(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	switch action {
	case "up":
		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		log.Info("database migrations complete")
	case "down":
		if err := db.MigrateDown(ctx); err != nil {
			return fmt.Errorf("rolling back migration: %w", err)
		}
		log.Info("rolled back one migration")
	case "status":
		applied, pending, err := db.GetMigrationStatus(ctx)
		if err != nil {
			return fmt.Errorf("reading migration status: %w", err)
		}
		green := color.New(color.FgGreen)
		yellow := color.New(color.FgYellow)
		for _, m := range applied {
			green.Fprintf(out, "applied  %s  %s\n", m.Version, m.AppliedAt.Format("2006-01-02 15:04:05"))
		}
		for _, m := range pending {
			yellow.Fprintf(out, "pending  %s  %s\n", m.Version, m.Name)
		}
		fmt.Fprintf(out, "%d applied, %d pending\n", len(applied), len(pending))
	default:
		return fmt.Errorf("unknown migrate action %q", action)
	}
	return nil
}

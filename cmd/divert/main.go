// Divert Core - automation catalog backend
//
// This is the main entry point for the Divert Core service. It serves the
// catalog of agent teams and workflows, manages user subscriptions and
// credentials, and runs automations on the local agent runtime or the
// remote workflow engine.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	_ "github.com/nerrad567/divert-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCommand builds the command tree. serve is the default action.
func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "divert",
		Short:         "Divert Core automation catalog service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath))
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to config.yaml (default $DIVERT_CONFIG or "+defaultConfigPath+")")

	root.AddCommand(
		newServeCommand(&configPath),
		newSyncCommand(&configPath),
		newMigrateCommand(&configPath),
		newVersionCommand(),
	)
	return root
}

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, catalog sync and event export",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), resolveConfigPath(*configPath))
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "divert %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

// resolveConfigPath returns the configuration file path: the --config flag,
// then DIVERT_CONFIG, then the default.
func resolveConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if path := os.Getenv("DIVERT_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

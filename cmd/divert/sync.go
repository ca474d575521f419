package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nerrad567/divert-core/internal/audit"
	"github.com/nerrad567/divert-core/internal/discovery"
	"github.com/nerrad567/divert-core/internal/registry"
)

func newSyncCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Scan the catalogs once and reconcile the registry",
		Long: "Scan the agent-team and workflow catalogs and apply them to the registry.\n" +
			"Partial failures are printed; the command still exits 0.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd.Context(), resolveConfigPath(*configPath), cmd.OutOrStdout())
		},
	}
}

// runSync performs one discovery pass and prints its summary.
func runSync(ctx context.Context, configPath string, out io.Writer) error {
	c, err := openCore(ctx, configPath)
	if err != nil {
		return err
	}
	defer c.close()

	summary := c.coordinator.Sync(ctx, audit.SourceCLI)
	printSummary(out, summary)
	return nil
}

// printSummary writes a coloured, human-readable sync summary.
func printSummary(out io.Writer, s discovery.Summary) {
	header := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)
	yellow := color.New(color.FgYellow)

	header.Fprintf(out, "Catalog sync (%s)\n", s.Duration.Round(time.Millisecond))
	printStage(out, "teams", s.Teams)
	printStage(out, "workflows", s.Workflows)

	for _, w := range s.Warnings {
		yellow.Fprintf(out, "  warning: %s\n", w)
	}
	for _, e := range s.Errors {
		red.Fprintf(out, "  error: %s\n", e)
	}

	if s.OK() {
		green.Fprintln(out, "✓ sync complete")
	} else {
		red.Fprintf(out, "✗ sync finished with %d error(s)\n", len(s.Errors))
	}
}

func printStage(out io.Writer, name string, r registry.Result) {
	fmt.Fprintf(out, "  %-10s %3d total  %3d added  %3d updated\n", name, r.Total, r.Added, r.Updated)
}

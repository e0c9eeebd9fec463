package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dcsingest",
		Short: "Data Conservancy deposit ingest service",
		Long: `dcsingest accepts packaged deposits, extracts them and runs them through
configured ingest phases.

Each phase runs a list of services (checksums, format characterization,
business object building, policy checks, Starlark scripts) against the
deposit state. A phase may pause the deposit for review before the next
phase runs.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "dcsingest.cue", "config file path (.cue, .yaml, .json or a CUE directory)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newServeCommand(version))
	rootCmd.AddCommand(newDepositCommand(version))
	rootCmd.AddCommand(newConfigCommand())
	rootCmd.AddCommand(newArchiveCommand())

	return rootCmd
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

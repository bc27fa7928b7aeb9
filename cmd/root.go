// Package cmd implements the blinko-index CLI commands.
package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"
)

var (
	flagVerbose  bool
	flagJSONLogs bool
)

var rootCmd = &cobra.Command{
	Use:   "blinko-index",
	Short: "Embedding index pipeline for the blinko note corpus",
	Long: `blinko-index maintains the vector embedding index behind AI-assisted
note search: chunking note content, embedding it through the configured
provider, and serving similarity retrieval over the indexed corpus.`,
	SilenceUsage: true,
}

// Execute runs the root command under ctx. Cancellation aborts in-flight
// database and provider calls.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&flagJSONLogs, "json-logs", false, "write logs as JSON")
}

func logLevel() slog.Level {
	if flagVerbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qaz741wsd856/blinko/internal/rebuild"
)

var flagForce bool

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Re-index the entire note corpus",
	Long: `Re-embeds every note and attachment into the vector collection,
streaming per-item progress. Only one rebuild runs at a time; --force
wipes the collection first and supersedes any rebuild in flight.`,
	RunE: runRebuild,
}

func init() {
	rebuildCmd.Flags().BoolVarP(&flagForce, "force", "f", false, "wipe the collection and restart any running rebuild")
	rootCmd.AddCommand(rebuildCmd)
}

func runRebuild(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	stream, started := a.rebuild.Start(ctx, flagForce)
	if !started {
		return fmt.Errorf("a rebuild is already running; use --force to restart it")
	}

	var failures int
	for {
		ev, ok := stream.Next()
		if !ok {
			break
		}
		if ev.Type == rebuild.EventError {
			failures++
		}
		if ev.Total > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "[%d/%d] %-7s %s\n", ev.Current, ev.Total, ev.Type, ev.Message)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "%-7s %s\n", ev.Type, ev.Message)
		}
	}

	p := a.rebuild.Progress()
	fmt.Fprintf(cmd.OutOrStdout(), "done: %d/%d items (%.0f%%), %d failures\n",
		p.Current, p.Total, p.Percentage(), failures)

	if failures > 0 {
		return fmt.Errorf("rebuild finished with %d failed items", failures)
	}
	return nil
}

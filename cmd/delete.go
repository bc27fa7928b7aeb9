package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <note-id>...",
	Short: "Remove notes from the vector index",
	Long: `Deletes every vector record belonging to the given notes. The notes
themselves are untouched; deleting an unindexed note is a no-op.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	ids, err := parseNoteIDs(args)
	if err != nil {
		return err
	}

	for _, id := range ids {
		if err := a.indexer.DeleteIndex(ctx, id); err != nil {
			return fmt.Errorf("deleting index for note %d: %w", id, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "note %d: index records removed\n", id)
	}
	return nil
}

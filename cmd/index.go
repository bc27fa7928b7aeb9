package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qaz741wsd856/blinko/internal/indexer"
	"github.com/qaz741wsd856/blinko/internal/note"
)

var indexCmd = &cobra.Command{
	Use:   "index <note-id>...",
	Short: "Index or re-index individual notes",
	Long: `Embeds the given notes (and their attachments) into the vector
collection. Existing records for each note are replaced.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
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

	var failed int
	for _, id := range ids {
		n, err := a.store.GetNote(ctx, id)
		if err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "note %d: %v\n", id, err)
			failed++
			continue
		}

		res := a.indexer.IndexNote(ctx, indexer.NoteRequest{
			SourceID:  n.ID,
			Content:   n.Content,
			Mode:      indexer.ModeUpdate,
			CreatedAt: n.CreatedAt,
			UpdatedAt: n.UpdatedAt,
		})
		switch res.Status {
		case indexer.StatusIndexed:
			fmt.Fprintf(cmd.OutOrStdout(), "note %d: indexed (%d chunks)\n", id, res.Chunks)
		case indexer.StatusSkipped:
			fmt.Fprintf(cmd.OutOrStdout(), "note %d: skipped by exclusion policy\n", id)
		default:
			fmt.Fprintf(cmd.OutOrStdout(), "note %d: failed: %v\n", id, res.Err)
			failed++
			continue
		}

		if err := indexNoteAttachments(cmd, a, n); err != nil {
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d notes failed", failed, len(ids))
	}
	return nil
}

func indexNoteAttachments(cmd *cobra.Command, a *app, n note.Note) error {
	ctx := cmd.Context()

	attachments, err := a.store.ListAttachments(ctx)
	if err != nil {
		return fmt.Errorf("listing attachments: %w", err)
	}

	var firstErr error
	for _, att := range attachments {
		if att.NoteID != n.ID {
			continue
		}
		res := a.indexer.IndexAttachment(ctx, indexer.AttachmentRequest{
			SourceID:  att.NoteID,
			FilePath:  att.Path,
			UpdatedAt: att.UpdatedAt,
		})
		switch res.Status {
		case indexer.StatusIndexed:
			fmt.Fprintf(cmd.OutOrStdout(), "  attachment %s: indexed (%d chunks)\n", att.Name, res.Chunks)
		case indexer.StatusSkipped:
			fmt.Fprintf(cmd.OutOrStdout(), "  attachment %s: skipped\n", att.Name)
		default:
			fmt.Fprintf(cmd.OutOrStdout(), "  attachment %s: failed: %v\n", att.Name, res.Err)
			if firstErr == nil {
				firstErr = res.Err
			}
		}
	}
	return firstErr
}

func parseNoteIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		var id int64
		if _, err := fmt.Sscanf(arg, "%d", &id); err != nil || id < 1 {
			return nil, fmt.Errorf("invalid note id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

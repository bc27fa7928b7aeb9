package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var flagAccountID int64

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find notes relevant to a question",
	Long: `Embeds the question and retrieves the most relevant notes from the
vector index, best match first. Results are scoped to one account.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().Int64Var(&flagAccountID, "account", 0, "account id owning the notes (required)")
	_ = searchCmd.MarkFlagRequired("account")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	query := strings.Join(args, " ")

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	notes, err := a.engine.Retrieve(ctx, query, flagAccountID)
	if err != nil {
		return fmt.Errorf("retrieving notes: %w", err)
	}

	if len(notes) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no relevant notes found")
		return nil
	}

	for i, n := range notes {
		fmt.Fprintf(cmd.OutOrStdout(), "%d. note %d (updated %s)\n%s\n\n",
			i+1, n.ID, n.UpdatedAt.Format("2006-01-02"), preview(n.Content, 200))
	}
	return nil
}

// preview truncates content to at most max runes for terminal display.
func preview(content string, max int) string {
	content = strings.TrimSpace(content)
	runes := []rune(content)
	if len(runes) <= max {
		return content
	}
	return string(runes[:max]) + "…"
}

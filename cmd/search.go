package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/crawlsearch/internal/search"
)

func newSearchCmd() *cobra.Command {
	var page, limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Searches indexed pages and prints one page of results as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			q := search.Query{Text: strings.Join(args, " "), Page: page, PageSize: limit}
			result, err := appInstance.Search(cmd.Context(), q)
			if err != nil {
				return fmt.Errorf("search %q: %w", q.Text, err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "1-based result page")
	cmd.Flags().IntVar(&limit, "limit", 10, "results per page")
	return cmd
}

package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type indexOutput struct {
	URL      string `json:"url"`
	Outcome  string `json:"outcome"`
	PageID   int64  `json:"pageId,omitempty"`
	Title    string `json:"title,omitempty"`
	Images   int    `json:"images"`
	Enqueued int    `json:"enqueued"`
}

func newIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index <url>",
		Short: "Renders and indexes one URL, then prints what was stored",
		Args:  cobra.ExactArgs(1),
		RunE:  runIndexCommand,
	}
}

func runIndexCommand(cmd *cobra.Command, args []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	result, err := appInstance.IndexURL(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("index %s: %w", args[0], err)
	}
	appInstance.Logger().Info("index command finished",
		zap.String("url", args[0]),
		zap.String("outcome", string(result.Outcome)))

	out := indexOutput{
		URL:      args[0],
		Outcome:  string(result.Outcome),
		PageID:   result.Page.ID,
		Title:    result.Page.Title,
		Images:   len(result.Page.ImageURLs),
		Enqueued: result.Enqueued,
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// newCrawlCmd runs one crawl of a stored target in the foreground and prints
// the persisted result.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl <target-id>",
		Short: "Crawls one target now",
		Long: `Runs a single crawl of the target, with the same retries, snapshot
archiving and catalog reconciliation as a scheduled crawl, and prints the
crawl result as JSON. A failed crawl still prints its result.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			result, crawlErr := appInstance.Crawl(cmd.Context(), args[0])
			if result.ID != "" {
				if err := printJSON(cmd, result); err != nil {
					return err
				}
			}
			if crawlErr != nil {
				return fmt.Errorf("crawl %s: %w", args[0], crawlErr)
			}
			return nil
		},
	}
}

func newTargetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "targets",
		Short: "Lists crawl targets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			targets, err := appInstance.Targets(cmd.Context())
			if err != nil {
				return fmt.Errorf("list targets: %w", err)
			}
			return printJSON(cmd, targets)
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

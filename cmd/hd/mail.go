package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/daviddao/helpdesk/internal/display"
	"github.com/daviddao/helpdesk/internal/types"
)

var mailMax int64

var mailCmd = &cobra.Command{
	Use:   "mail",
	Short: "Inspect the support mailbox (search, read)",
}

var mailSearchCmd = &cobra.Command{
	Use:   "search [QUERY]",
	Short: "List threads matching a Gmail query",
	Long: `List threads matching a Gmail search query. Without a query, shows what
the intake query (gmail.query) currently matches.`,
	Example: `  hd mail search
  hd mail search "from:jane@example.com newer_than:7d" -n 20`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := cfg.Gmail.Query
		if len(args) == 1 {
			query = args[0]
		}
		mb, _, err := newMailbox(cmd.Context())
		if err != nil {
			return err
		}
		threads, err := mb.ListNewThreads(cmd.Context(), query, mailMax)
		if err != nil {
			return err
		}

		if jsonOutput {
			if threads == nil {
				threads = []types.ThreadSummary{}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(threads)
		}
		if len(threads) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No threads found matching: %s\n", query)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Found %d thread(s) matching: %s\n\n", len(threads), query)
		for _, th := range threads {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s  %s\n", th.ID, display.Dim.Render(display.Truncate(th.Snippet, 80)))
		}
		return nil
	},
}

var mailReadCmd = &cobra.Command{
	Use:   "read THREAD_ID",
	Short: "Print every message of a thread",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mb, _, err := newMailbox(cmd.Context())
		if err != nil {
			return err
		}
		msgs, err := mb.FetchThread(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if jsonOutput {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(msgs)
		}
		for i := range msgs {
			if i > 0 {
				fmt.Println(display.Muted.Render("────"))
			}
			printMessage(&msgs[i])
		}
		return nil
	},
}

func init() {
	mailSearchCmd.Flags().Int64VarP(&mailMax, "max-results", "n", 10, "Maximum threads to list")
	mailCmd.AddCommand(mailSearchCmd, mailReadCmd)
	rootCmd.AddCommand(mailCmd)
}

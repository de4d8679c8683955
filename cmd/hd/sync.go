package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/daviddao/helpdesk/internal/display"
)

var syncMax int64

type syncOutput struct {
	Found    int      `json:"found"`
	Started  int      `json:"started"`
	Skipped  int      `json:"skipped"`
	Rejected int      `json:"rejected"`
	Errors   int      `json:"errors"`
	Threads  []string `json:"threads"`
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Open conversations for new support threads once",
	Long: `Search the mailbox with gmail.query and open a conversation for every
new thread from an allowed sender. Conversations are only started; use
'hd process' or 'hd run' to drive them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		lock, err := lockState(cfg)
		if err != nil {
			return err
		}
		defer lock.Unlock()

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		if syncMax > 0 {
			a.intake.SetMax(syncMax)
		}

		if !quietFlag && !jsonOutput {
			fmt.Printf("Searching %s for %q...\n", a.self, cfg.Gmail.Query)
		}
		started, res, err := a.intake.PollResult(cmd.Context())
		if err != nil {
			return err
		}

		if jsonOutput {
			if started == nil {
				started = []string{}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(syncOutput{
				Found:    res.Found,
				Started:  res.Started,
				Skipped:  res.Skipped,
				Rejected: res.Rejected,
				Errors:   res.Errors,
				Threads:  started,
			})
		}

		if !quietFlag {
			for _, id := range started {
				fmt.Printf("  %s %s\n", display.Success.Render("+"), id)
			}
			display.SuccessMsg("%d new conversations (%d found, %d skipped, %d rejected, %d errors)",
				res.Started, res.Found, res.Skipped, res.Rejected, res.Errors)
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().Int64Var(&syncMax, "max", 0, "Maximum threads to list")
	rootCmd.AddCommand(syncCmd)
}

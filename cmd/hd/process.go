package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/daviddao/helpdesk/internal/db"
	"github.com/daviddao/helpdesk/internal/display"
	"github.com/daviddao/helpdesk/internal/followup"
	"github.com/daviddao/helpdesk/internal/types"
	"github.com/daviddao/helpdesk/internal/workflow"
)

var (
	processWait   bool
	watchTimeout  time.Duration
	watchInterval time.Duration
	watchLastSeen string
)

var processCmd = &cobra.Command{
	Use:   "process THREAD_ID",
	Short: "Advance one conversation",
	Long: `Start a conversation for THREAD_ID if needed and run it until it has to
wait for the requester or finishes. With --wait, keep polling until the
conversation reaches a final state. Refuses to start while 'hd run' is
driving conversations from the same .helpdesk/ directory.

Examples:
  hd process 18c2f0a9d1e4b7a3
  hd process 18c2f0a9d1e4b7a3 --wait
  hd process 18c2f0a9d1e4b7a3 --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		lock, err := lockState(cfg)
		if err != nil {
			return err
		}
		defer lock.Unlock()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}

		var out workflow.Outcome
		for {
			out, err = a.ctl.Step(ctx, args[0])
			if err != nil && !errors.Is(err, workflow.ErrBusy) {
				if !processWait {
					return err
				}
				display.ErrorMsg("%v (retrying)", err)
			}
			if !processWait || out.Terminal {
				break
			}
			if !quietFlag && !jsonOutput && out.State != "" {
				fmt.Printf("  %s %s\n", display.Dim.Render("…"), out.State)
			}
			wait := cfg.Workflow.PollInterval
			if out.NextPollAt != nil {
				if d := time.Until(*out.NextPollAt); d > 0 {
					wait = d
				}
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		if jsonOutput {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}
		if quietFlag {
			return nil
		}
		switch {
		case out.TicketID != "" && out.State == workflow.Done:
			display.SuccessMsg("%s: ticket %s", out.ThreadID, out.TicketID)
		case out.State == workflow.Escalated:
			display.ErrorMsg("%s: escalated (ticket %s)", out.ThreadID, out.TicketID)
		case out.State == workflow.Failed:
			display.ErrorMsg("%s: failed", out.ThreadID)
		case out.Waiting:
			next := ""
			if out.NextPollAt != nil {
				next = ", next poll " + out.NextPollAt.Local().Format("15:04:05")
			}
			fmt.Printf("%s: %s%s\n", out.ThreadID, out.State, next)
		default:
			display.SuccessMsg("%s: %s", out.ThreadID, out.State)
		}
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch THREAD_ID",
	Short: "Block until a new reply arrives on a thread",
	Long: `Poll a thread until someone other than the helpdesk replies, then print
the reply. Uses its own watermark, so it never hides a reply from a
running daemon.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		loop := followup.New(a.mail, db.NewMemoryStore(), a.self, logger.Named("watch"))

		if !quietFlag && !jsonOutput {
			fmt.Printf("Waiting up to %s for a reply on %s...\n", watchTimeout, args[0])
		}
		r, err := loop.AwaitReply(ctx, args[0], watchLastSeen, watchInterval, watchTimeout)
		if errors.Is(err, followup.ErrTimeout) {
			display.ErrorMsg("No reply within %s", watchTimeout)
			return err
		}
		if err != nil {
			return err
		}

		if jsonOutput {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(r.Latest)
		}
		printMessage(r.Latest)
		return nil
	},
}

func printMessage(m *types.Message) {
	fmt.Printf("%s %s\n", display.Bold.Render(m.From), display.Dim.Render(display.TimeAgo(m.Date)))
	fmt.Printf("%s\n\n", m.Subject)
	fmt.Println(m.Body)
}

func init() {
	processCmd.Flags().BoolVar(&processWait, "wait", false, "Keep polling until the conversation finishes")
	watchCmd.Flags().DurationVar(&watchTimeout, "timeout", 30*time.Minute, "Give up after this long")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 15*time.Second, "Poll interval")
	watchCmd.Flags().StringVar(&watchLastSeen, "after", "", "Message id to treat as already seen")
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(watchCmd)
}

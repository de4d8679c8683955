package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/daviddao/helpdesk/internal/db"
	"github.com/daviddao/helpdesk/internal/display"
	"github.com/daviddao/helpdesk/internal/types"
)

type statusOutput struct {
	Conversations map[string]int  `json:"conversations"`
	Tickets       statusTickets   `json:"tickets"`
	Waiting       []statusWaiting `json:"waiting"`
}

type statusTickets struct {
	Total    int            `json:"total"`
	Critical int            `json:"critical"`
	Elevated int            `json:"elevated"`
	ByStatus map[string]int `json:"by_status"`
}

type statusWaiting struct {
	ThreadID string `json:"thread_id"`
	State    string `json:"state"`
	Since    string `json:"since,omitempty"`
	Deadline string `json:"deadline,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:     "status",
	Aliases: []string{"st"},
	Short:   "Show active conversations and ticket counts",
	Long: `Show a quick snapshot of the helpdesk: conversations in progress by
state, conversations waiting on the requester, and final tickets by
priority and status.

Examples:
  hd status
  hd status --json
  hd st`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		convs, err := store.ActiveConversations(ctx)
		if err != nil {
			return err
		}
		tickets, err := store.List(ctx, db.TicketFilter{})
		if err != nil {
			return err
		}

		out := statusOutput{
			Conversations: make(map[string]int),
			Tickets:       statusTickets{ByStatus: make(map[string]int)},
			Waiting:       []statusWaiting{},
		}
		for _, c := range convs {
			out.Conversations[c.State]++
			if c.PendingQuestion == nil {
				continue
			}
			w := statusWaiting{ThreadID: c.ThreadID, State: c.State}
			if c.WaitingSince != nil {
				w.Since = c.WaitingSince.Format("2006-01-02T15:04:05Z07:00")
			}
			if c.Deadline != nil {
				w.Deadline = c.Deadline.Format("2006-01-02T15:04:05Z07:00")
			}
			out.Waiting = append(out.Waiting, w)
		}
		for _, t := range tickets {
			out.Tickets.Total++
			out.Tickets.ByStatus[t.Status]++
			switch t.Priority {
			case types.TierCritical:
				out.Tickets.Critical++
			case types.TierElevated:
				out.Tickets.Elevated++
			}
		}

		if jsonOutput {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}

		display.Header("Conversations")
		if len(convs) == 0 {
			fmt.Println("  none in progress")
		}
		states := make([]string, 0, len(out.Conversations))
		for s := range out.Conversations {
			states = append(states, s)
		}
		sort.Strings(states)
		for _, s := range states {
			fmt.Printf("  %-26s %d\n", s, out.Conversations[s])
		}
		if len(out.Waiting) > 0 {
			fmt.Println()
			display.SubHeader("Waiting on requester")
			for _, c := range convs {
				if c.PendingQuestion == nil {
					continue
				}
				since := ""
				if c.WaitingSince != nil {
					since = display.TimeAgo(*c.WaitingSince)
				}
				fmt.Printf("  %s %-26s %s\n", c.ThreadID, c.State, display.Dim.Render(since))
			}
		}

		fmt.Println()
		display.Header("Tickets")
		fmt.Printf("  %s critical  %d\n", display.PriorityDot(types.TierCritical), out.Tickets.Critical)
		fmt.Printf("  %s elevated  %d\n", display.PriorityDot(types.TierElevated), out.Tickets.Elevated)
		for _, s := range types.ValidStatuses {
			if n := out.Tickets.ByStatus[s]; n > 0 {
				fmt.Printf("  %s %d\n", display.StatusLabel(s), n)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

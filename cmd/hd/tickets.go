package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/daviddao/helpdesk/internal/db"
	"github.com/daviddao/helpdesk/internal/display"
	"github.com/daviddao/helpdesk/internal/types"
)

var (
	listStatus   string
	listPriority string
	listThread   string
	listAll      bool
	listLimit    int
)

var ticketsCmd = &cobra.Command{
	Use:     "tickets",
	Aliases: []string{"t"},
	Short:   "List and maintain tickets",
}

var ticketsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tickets, newest first",
	Long: `List final tickets. --all also shows the staged (temporary) tickets of
conversations still in progress.

Examples:
  hd tickets list
  hd tickets list --priority critical --status open
  hd tickets list --thread 18c2f0a9d1e4b7a3 --all
  hd tickets list --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := db.TicketFilter{
			Status:           listStatus,
			ThreadID:         listThread,
			IncludeTemporary: listAll,
			Limit:            listLimit,
		}
		if listPriority != "" {
			f.Priority = types.ParseTier(listPriority)
			if f.Priority == types.TierUnresolved {
				return fmt.Errorf("unknown priority %q (critical or elevated)", listPriority)
			}
		}
		tickets, err := store.List(cmd.Context(), f)
		if err != nil {
			return err
		}

		if jsonOutput {
			if tickets == nil {
				tickets = []*types.Ticket{}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(tickets)
		}
		if len(tickets) == 0 {
			if !quietFlag {
				fmt.Println("No tickets.")
			}
			return nil
		}
		display.TicketList(cmd.OutOrStdout(), tickets)
		return nil
	},
}

var ticketsShowCmd = &cobra.Command{
	Use:   "show ID|THREAD_ID",
	Short: "Show a ticket with its notes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := lookupTicket(cmd, args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(t)
		}
		display.TicketDetail(cmd.OutOrStdout(), t)
		return nil
	},
}

var ticketsStatusCmd = &cobra.Command{
	Use:   "status ID STATUS",
	Short: "Change the status of a final ticket",
	Long: `Change the status of a final ticket. STATUS is one of open, in_progress,
on_hold, resolved or closed. Resolved and closed tickets get a resolved date.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, status := args[0], strings.ToLower(args[1])
		if !types.IsValidStatus(status) {
			return fmt.Errorf("invalid status %q (valid: %s)", status, strings.Join(types.ValidStatuses, ", "))
		}
		ctx := cmd.Context()
		if err := store.UpdateStatus(ctx, id, status); err != nil {
			return err
		}
		if err := store.AddNote(ctx, id, types.Note{Reason: types.ReasonStatusChanged, Text: status}); err != nil {
			return err
		}
		if !quietFlag {
			display.SuccessMsg("%s → %s", id, status)
		}
		return nil
	},
}

var ticketsNoteCmd = &cobra.Command{
	Use:   "note ID TEXT...",
	Short: "Add a note to a ticket",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args[1:], " ")
		if err := store.AddNote(cmd.Context(), args[0], types.Note{Reason: types.ReasonOperatorNote, Text: text}); err != nil {
			return err
		}
		if !quietFlag {
			display.SuccessMsg("Note added to %s", args[0])
		}
		return nil
	},
}

// lookupTicket finds a ticket by id, falling back to the thread's final
// ticket and then its latest staged one. FindByThread orders them that way.
func lookupTicket(cmd *cobra.Command, ref string) (*types.Ticket, error) {
	ctx := cmd.Context()
	t, err := store.Get(ctx, ref)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}
	byThread, err := store.FindByThread(ctx, ref, true)
	if err != nil {
		return nil, err
	}
	if len(byThread) == 0 {
		return nil, fmt.Errorf("no ticket with id or thread %q", ref)
	}
	return byThread[0], nil
}

func init() {
	ticketsListCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status")
	ticketsListCmd.Flags().StringVar(&listPriority, "priority", "", "Filter by priority (critical, elevated)")
	ticketsListCmd.Flags().StringVar(&listThread, "thread", "", "Filter by thread id")
	ticketsListCmd.Flags().BoolVar(&listAll, "all", false, "Include staged tickets")
	ticketsListCmd.Flags().IntVarP(&listLimit, "limit", "n", 50, "Maximum tickets to show")

	ticketsCmd.AddCommand(ticketsListCmd, ticketsShowCmd, ticketsStatusCmd, ticketsNoteCmd)
	rootCmd.AddCommand(ticketsCmd)
}

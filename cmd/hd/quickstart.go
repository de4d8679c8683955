package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/daviddao/helpdesk/internal/display"
)

var quickstartCmd = &cobra.Command{
	Use:   "quickstart",
	Short: "Quick start guide for hd",
	Run: func(cmd *cobra.Command, args []string) {
		b := display.Bold.Render
		a := display.Success.Render
		d := display.Dim.Render

		fmt.Printf("\n%s\n\n", b("hd - Email Helpdesk"))
		fmt.Println("Turn support threads into tickets, asking requesters for what is missing.")
		fmt.Println()

		fmt.Println(b("GETTING STARTED"))
		fmt.Printf("  %s           Create .helpdesk/config.yaml and the database\n", a("hd init"))
		fmt.Printf("  %s\n", d("  Put credentials.json, token.json and rules.yaml next to .helpdesk/"))
		fmt.Printf("  %s      Check the catalog loaded from rules.path\n", a("hd rules"))
		fmt.Printf("  %s    Preview what the intake query matches\n\n", a("hd mail search"))

		fmt.Println(b("RUNNING"))
		fmt.Printf("  %s            Poll the mailbox and drive every conversation\n", a("hd run"))
		fmt.Printf("  %s           Open conversations for new threads once\n", a("hd sync"))
		fmt.Printf("  %s  Advance one conversation until it waits\n", a("hd process THREAD_ID"))
		fmt.Printf("  %s   Block until the requester replies\n\n", a("hd watch THREAD_ID"))

		fmt.Println(b("TICKETS"))
		fmt.Printf("  %s                Final tickets, newest first\n", a("hd tickets list"))
		fmt.Printf("  %s          Include staged tickets\n", a("hd tickets list --all"))
		fmt.Printf("  %s             Ticket with its reason-coded notes\n", a("hd tickets show ID"))
		fmt.Printf("  %s  open, in_progress, on_hold, resolved, closed\n", a("hd tickets status ID STATUS"))
		fmt.Printf("  %s        Add an operator note\n\n", a("hd tickets note ID TEXT"))

		fmt.Println(b("PRIORITY"))
		fmt.Printf("  %s Matched a critical rule, or escalated\n", display.CriticalStyle.Render("critical"))
		fmt.Printf("  %s Matched an elevated rule, or no rule applied\n\n", display.ElevatedStyle.Render("elevated"))

		fmt.Println(b("JSON OUTPUT"))
		fmt.Printf("  Commands support %s for machine-readable output:\n", a("--json"))
		fmt.Printf("  %s\n", a("hd status --json"))
		fmt.Printf("  %s\n\n", a("hd tickets list --json"))

		fmt.Printf("%s Run %s to start the daemon.\n\n", display.Success.Render("Ready!"), a("hd run"))
	},
}

func init() {
	rootCmd.AddCommand(quickstartCmd)
}

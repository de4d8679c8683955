// Package display provides terminal formatting for helpdesk output.
package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/daviddao/helpdesk/internal/types"
)

var (
	Muted    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6b7280"))
	Dim      = lipgloss.NewStyle().Foreground(lipgloss.Color("#9ca3af"))
	Bold     = lipgloss.NewStyle().Bold(true)
	Success  = lipgloss.NewStyle().Foreground(lipgloss.Color("#16a34a"))
	ErrStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#dc2626"))

	CriticalStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#dc2626"))
	ElevatedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#d97706"))
	StagedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#9ca3af")).Italic(true)
)

// PriorityDot returns a colored dot for a tier.
func PriorityDot(tier types.Tier) string {
	switch tier {
	case types.TierCritical:
		return CriticalStyle.Render("●")
	case types.TierElevated:
		return ElevatedStyle.Render("○")
	default:
		return Dim.Render("·")
	}
}

// PriorityLabel returns a fixed-width styled tier label.
func PriorityLabel(tier types.Tier) string {
	label := strings.ToUpper(string(tier))
	if label == "" {
		label = "-"
	}
	padded := fmt.Sprintf("%-8s", label)
	switch tier {
	case types.TierCritical:
		return CriticalStyle.Render(padded)
	case types.TierElevated:
		return ElevatedStyle.Render(padded)
	default:
		return Dim.Render(padded)
	}
}

// StatusLabel styles a ticket status.
func StatusLabel(status string) string {
	padded := fmt.Sprintf("%-11s", status)
	switch status {
	case types.StatusStaged:
		return StagedStyle.Render(padded)
	case types.StatusResolved, types.StatusClosed:
		return Success.Render(padded)
	case types.StatusOnHold:
		return Dim.Render(padded)
	default:
		return padded
	}
}

// TimeAgo formats t relative to now.
func TimeAgo(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return t.Format("Jan 2")
	}
}

// Truncate shortens a string to maxLen runes, adding ellipsis if needed.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// SuccessMsg prints a green checkmark + message.
func SuccessMsg(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Println(Success.Render("✓") + " " + msg)
}

// ErrorMsg prints a red X + message to stderr.
func ErrorMsg(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, ErrStyle.Render("✗")+" "+msg)
}

// Header prints a section header.
func Header(title string) {
	fmt.Println(Bold.Render(title))
}

// SubHeader prints a dim subsection label.
func SubHeader(title string) {
	fmt.Println(Muted.Render(title))
}

// TicketRow renders one line of a ticket list.
func TicketRow(t *types.Ticket) string {
	subject := t.ResolvedSubcategory
	if subject == "" {
		subject = "?"
	}
	desc := Truncate(strings.Join(strings.Fields(t.Description), " "), 48)
	id := t.ID
	if t.IsTemporary {
		id = StagedStyle.Render(id)
	}
	return fmt.Sprintf("%s %s %s %s %-14s %s  %s",
		PriorityDot(t.Priority), id, PriorityLabel(t.Priority), StatusLabel(t.Status),
		Truncate(subject, 14), desc, Dim.Render(TimeAgo(t.CreatedAt)))
}

// TicketList prints tickets, one per line.
func TicketList(w io.Writer, tickets []*types.Ticket) {
	for _, t := range tickets {
		fmt.Fprintln(w, TicketRow(t))
	}
}

// TicketDetail prints every field of a ticket, notes in tree form.
func TicketDetail(w io.Writer, t *types.Ticket) {
	fmt.Fprintf(w, "%s %s\n", PriorityDot(t.Priority), Bold.Render(t.ID))
	field := func(name, value string) {
		if value == "" {
			return
		}
		fmt.Fprintf(w, "  %s %s\n", Muted.Render(fmt.Sprintf("%-12s", name)), value)
	}
	field("Thread", t.ThreadID)
	if t.IsTemporary {
		field("Stage", StagedStyle.Render(t.StageLabel))
	}
	field("Status", t.Status)
	field("Priority", PriorityLabel(t.Priority))
	field("Category", string(t.Category))
	field("Subcategory", t.ResolvedSubcategory)
	field("Team", t.ResponsibleTeam)
	requester := t.Requester.Name
	if t.Requester.Email != "" {
		requester = strings.TrimSpace(fmt.Sprintf("%s <%s>", t.Requester.Name, t.Requester.Email))
	}
	field("Requester", requester)
	field("Location", t.Requester.Location)
	field("Created", t.CreatedAt.Local().Format("2006-01-02 15:04"))
	if t.ResolvedAt != nil {
		field("Resolved", t.ResolvedAt.Local().Format("2006-01-02 15:04"))
	}
	if len(t.Candidates) > 1 {
		labels := make([]string, len(t.Candidates))
		for i, c := range t.Candidates {
			labels[i] = fmt.Sprintf("%s (%.2f)", c.Label, c.Confidence)
		}
		field("Candidates", strings.Join(labels, ", "))
	}
	if t.Description != "" {
		fmt.Fprintln(w)
		for _, line := range strings.Split(strings.TrimSpace(t.Description), "\n") {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
	if len(t.Notes) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s\n", Muted.Render("Notes"))
	for i, n := range t.Notes {
		connector := "├─"
		if i == len(t.Notes)-1 {
			connector = "└─"
		}
		line := n.Reason
		if n.Text != "" {
			line += ": " + n.Text
		}
		fmt.Fprintf(w, "  %s %s  %s\n", Muted.Render(connector), line, Dim.Render(TimeAgo(n.At)))
	}
}

package followup

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/daviddao/helpdesk/internal/types"
)

// Notifier tells a supervisor about an escalated conversation.
type Notifier interface {
	Notify(ctx context.Context, c *types.Conversation, e types.Escalation) error
}

// MailNotifier emails the supervisor. With no supervisor configured it
// only logs.
type MailNotifier struct {
	mail       Mailbox
	supervisor string
	logger     *zap.Logger
}

func NewMailNotifier(mail Mailbox, supervisor string, logger *zap.Logger) *MailNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MailNotifier{mail: mail, supervisor: supervisor, logger: logger}
}

func (n *MailNotifier) Notify(ctx context.Context, c *types.Conversation, e types.Escalation) error {
	if n.supervisor == "" {
		n.logger.Warn("Escalation without supervisor address",
			zap.String("thread_id", c.ThreadID),
			zap.String("reason", e.Reason))
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Conversation %s was escalated (%s).\n\n", c.ThreadID, e.Reason)
	fmt.Fprintf(&b, "Requester: %s <%s>", c.Requester.Name, c.Requester.Email)
	if c.Requester.Location != "" {
		fmt.Fprintf(&b, ", %s", c.Requester.Location)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Stuck in: %s\n", c.State)
	if c.ResolvedSubcategory != "" {
		fmt.Fprintf(&b, "Subcategory: %s\n", c.ResolvedSubcategory)
	} else if len(c.Candidates) > 0 {
		labels := make([]string, len(c.Candidates))
		for i, cand := range c.Candidates {
			labels[i] = fmt.Sprintf("%s (%.2f)", cand.Label, cand.Confidence)
		}
		fmt.Fprintf(&b, "Candidates: %s\n", strings.Join(labels, ", "))
	}
	if c.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", c.Description)
	}
	if c.TicketID != "" {
		fmt.Fprintf(&b, "\nStaged ticket: %s\n", c.TicketID)
	}

	subject := "[ESCALATED] "
	if first := c.FirstMessage(); first != nil {
		subject += first.Subject
	} else {
		subject += c.ThreadID
	}
	if _, err := n.mail.Send(ctx, types.Outgoing{To: n.supervisor, Subject: subject, Body: b.String()}); err != nil {
		return fmt.Errorf("notify supervisor: %w", err)
	}
	n.logger.Info("Supervisor notified",
		zap.String("thread_id", c.ThreadID),
		zap.String("escalation_id", e.ID))
	return nil
}

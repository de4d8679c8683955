// Package followup sends clarification emails on a thread and watches the
// thread for the requester's reply.
//
// The loop only talks to the mailbox and the watermark store. It never
// classifies, resolves or touches tickets.
package followup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/daviddao/helpdesk/internal/db"
	"github.com/daviddao/helpdesk/internal/types"
)

// ErrTimeout is returned by AwaitReply when the deadline passes first.
var ErrTimeout = errors.New("no reply before deadline")

// Mailbox is the subset of the mail client the loop needs.
type Mailbox interface {
	FetchThread(ctx context.Context, threadID string) ([]types.Message, error)
	Send(ctx context.Context, out types.Outgoing) (types.MessageRef, error)
}

// Thread addresses a reply on an existing conversation.
type Thread struct {
	ID        string
	To        string
	Subject   string
	InReplyTo string
}

// ThreadOf derives the reply address of a conversation: the requester's
// email (or the first sender), the opening subject, the latest message id.
func ThreadOf(c *types.Conversation) Thread {
	t := Thread{ID: c.ThreadID, To: c.Requester.Email}
	if first := c.FirstMessage(); first != nil {
		t.Subject = first.Subject
		if t.To == "" {
			t.To = first.From
		}
	}
	if last := c.LatestMessage(); last != nil {
		t.InReplyTo = last.MessageID
	}
	return t
}

// Reply is the result of one poll.
type Reply struct {
	// New is true when messages arrived after the watermark.
	New bool
	// Baseline is true when this poll only captured the watermark.
	Baseline bool
	// Messages is the whole thread, oldest first.
	Messages []types.Message
	// Latest is the newest incoming message when New is true.
	Latest *types.Message
}

// Loop sends clarifications and detects replies.
type Loop struct {
	mail   Mailbox
	marks  db.WatermarkStore
	self   string
	logger *zap.Logger
}

// New creates a Loop. self is the helpdesk's own address; messages from it
// never count as replies.
func New(mail Mailbox, marks db.WatermarkStore, self string, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{mail: mail, marks: marks, self: strings.ToLower(self), logger: logger}
}

// SendClarification sends the question set as a reply on the thread and
// moves the watermark to the sent message, so only later messages count
// as the answer. When the newest message on the thread is already this
// question set from us, nothing is sent and that message is returned.
func (l *Loop) SendClarification(ctx context.Context, th Thread, qs QuestionSet) (types.MessageRef, error) {
	body := qs.Render()
	if ref, ok := l.alreadyAsked(ctx, th.ID, body); ok {
		return ref, nil
	}
	return l.send(ctx, th, body)
}

// alreadyAsked reports whether the thread ends with body sent by us. A
// step that sent a question but failed to save its state asks again on
// the next pass; this keeps the requester from getting it twice.
func (l *Loop) alreadyAsked(ctx context.Context, threadID, body string) (types.MessageRef, bool) {
	if threadID == "" || l.self == "" {
		return types.MessageRef{}, false
	}
	msgs, err := l.mail.FetchThread(ctx, threadID)
	if err != nil || len(msgs) == 0 {
		return types.MessageRef{}, false
	}
	last := msgs[len(msgs)-1]
	if !l.FromSelf(last) || strings.TrimSpace(last.Body) != strings.TrimSpace(body) {
		return types.MessageRef{}, false
	}
	if err := l.marks.SetWatermark(ctx, threadID, last.ID); err != nil {
		l.logger.Warn("Failed to record watermark", zap.String("thread_id", threadID), zap.Error(err))
	}
	l.logger.Info("Clarification already on thread, not resending",
		zap.String("thread_id", threadID),
		zap.String("message_id", last.ID))
	return types.MessageRef{ID: last.ID, ThreadID: threadID}, true
}

// Acknowledge replies on the thread without asking anything.
func (l *Loop) Acknowledge(ctx context.Context, th Thread, body string) (types.MessageRef, error) {
	return l.send(ctx, th, body)
}

func (l *Loop) send(ctx context.Context, th Thread, body string) (types.MessageRef, error) {
	if th.ID == "" {
		return types.MessageRef{}, fmt.Errorf("send clarification: empty thread id")
	}
	if th.To == "" {
		return types.MessageRef{}, fmt.Errorf("send clarification: no recipient for thread %s", th.ID)
	}
	ref, err := l.mail.Send(ctx, types.Outgoing{
		To:        th.To,
		Subject:   replySubject(th.Subject),
		Body:      body,
		ThreadID:  th.ID,
		InReplyTo: th.InReplyTo,
	})
	if err != nil {
		return types.MessageRef{}, fmt.Errorf("send clarification: %w", err)
	}
	if ref.ID != "" {
		if err := l.marks.SetWatermark(ctx, th.ID, ref.ID); err != nil {
			// The first Check will capture a baseline instead.
			l.logger.Warn("Failed to record watermark after send",
				zap.String("thread_id", th.ID), zap.Error(err))
		}
	}
	l.logger.Info("Sent clarification",
		zap.String("thread_id", th.ID),
		zap.String("message_id", ref.ID))
	return ref, nil
}

func replySubject(subject string) string {
	if subject == "" {
		return "Re: your support request"
	}
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}

// Check polls the thread once. Without a stored watermark the newest
// message becomes the baseline and no reply is reported. Otherwise any
// incoming message after the watermark is a reply; the watermark advances
// to the newest message and the whole thread is returned.
func (l *Loop) Check(ctx context.Context, threadID string) (Reply, error) {
	if threadID == "" {
		return Reply{}, fmt.Errorf("check reply: empty thread id")
	}
	msgs, err := l.mail.FetchThread(ctx, threadID)
	if err != nil {
		return Reply{}, fmt.Errorf("check reply: %w", err)
	}
	if len(msgs) == 0 {
		return Reply{Messages: msgs}, nil
	}
	newest := msgs[len(msgs)-1]

	mark, err := l.marks.Watermark(ctx, threadID)
	if err != nil {
		return Reply{}, fmt.Errorf("check reply: %w", err)
	}
	if mark == "" {
		if err := l.marks.SetWatermark(ctx, threadID, newest.ID); err != nil {
			return Reply{}, fmt.Errorf("check reply: %w", err)
		}
		l.logger.Debug("Captured baseline", zap.String("thread_id", threadID), zap.String("message_id", newest.ID))
		return Reply{Baseline: true, Messages: msgs}, nil
	}
	if newest.ID == mark {
		return Reply{Messages: msgs}, nil
	}

	idx := -1
	for i, m := range msgs {
		if m.ID == mark {
			idx = i
			break
		}
	}
	var latest *types.Message
	if idx >= 0 {
		for i := len(msgs) - 1; i > idx; i-- {
			if !l.FromSelf(msgs[i]) {
				latest = &msgs[i]
				break
			}
		}
	}
	if err := l.marks.SetWatermark(ctx, threadID, newest.ID); err != nil {
		return Reply{}, fmt.Errorf("check reply: %w", err)
	}
	if idx < 0 {
		// The watermarked message is gone; start over from the newest one.
		l.logger.Warn("Watermark not found in thread, rebasing",
			zap.String("thread_id", threadID), zap.String("watermark", mark))
		return Reply{Baseline: true, Messages: msgs}, nil
	}
	if latest == nil {
		return Reply{Messages: msgs}, nil
	}
	l.logger.Info("Reply detected",
		zap.String("thread_id", threadID),
		zap.String("message_id", latest.ID))
	return Reply{New: true, Messages: msgs, Latest: latest}, nil
}

// FromSelf reports whether m was sent by the helpdesk itself.
func (l *Loop) FromSelf(m types.Message) bool {
	return l.self != "" && strings.Contains(strings.ToLower(m.From), l.self)
}

// RequesterText renders the thread like types.ThreadText, keeping only the
// messages the requester sent, with quoted text stripped from each body.
// Our own questions list rule descriptions and labels that must not count
// as the requester's words.
func (l *Loop) RequesterText(msgs []types.Message) string {
	kept := make([]types.Message, 0, len(msgs))
	for _, m := range msgs {
		if l.FromSelf(m) {
			continue
		}
		m.Body = StripQuoted(m.Body)
		kept = append(kept, m)
	}
	return types.ThreadText(kept)
}

// StripQuoted drops the quoted part of a reply: lines starting with ">"
// and everything from an attribution line ("On ... wrote:") or an
// "Original Message" separator onward.
func StripQuoted(body string) string {
	lines := strings.Split(body, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		t := strings.TrimSpace(line)
		if quoteHeader(t) {
			break
		}
		if strings.HasPrefix(t, ">") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func quoteHeader(line string) bool {
	lower := strings.ToLower(line)
	switch {
	case strings.HasPrefix(lower, "on ") && strings.HasSuffix(lower, "wrote:"):
		return true
	case strings.HasPrefix(lower, "le ") && (strings.HasSuffix(lower, "a écrit :") || strings.HasSuffix(lower, "a écrit:")):
		return true
	case strings.Contains(lower, "original message") && strings.HasPrefix(lower, "---"):
		return true
	}
	return false
}

// AwaitReply polls every interval until a reply arrives, the timeout
// elapses (ErrTimeout) or ctx is cancelled. A non-empty lastSeen seeds
// the watermark.
func (l *Loop) AwaitReply(ctx context.Context, threadID, lastSeen string, interval, timeout time.Duration) (Reply, error) {
	if lastSeen != "" {
		if err := l.marks.SetWatermark(ctx, threadID, lastSeen); err != nil {
			return Reply{}, fmt.Errorf("await reply: %w", err)
		}
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		r, err := l.Check(ctx, threadID)
		if err != nil {
			l.logger.Warn("Poll failed", zap.String("thread_id", threadID), zap.Error(err))
		} else if r.New {
			return r, nil
		}

		select {
		case <-ctx.Done():
			return Reply{}, ctx.Err()
		case <-deadline.C:
			return Reply{}, ErrTimeout
		case <-ticker.C:
		}
	}
}

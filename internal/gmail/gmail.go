// Package gmail is the helpdesk mailbox client over the Gmail API.
//
// It fetches whole threads, sends threaded replies and lists threads
// matching the intake query.
package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	gm "google.golang.org/api/gmail/v1"

	"github.com/daviddao/helpdesk/internal/types"
)

const user = "me"

// Mailbox implements the helpdesk mailbox operations on one Gmail account.
type Mailbox struct {
	svc    *gm.Service
	from   string
	logger *zap.Logger
}

// New wraps an authenticated Gmail service. from is the address used in
// the From header of outgoing mail; empty lets Gmail fill it in.
func New(svc *gm.Service, from string, logger *zap.Logger) *Mailbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mailbox{svc: svc, from: from, logger: logger}
}

// FetchThread returns every message of a thread, oldest first.
func (m *Mailbox) FetchThread(ctx context.Context, threadID string) ([]types.Message, error) {
	if threadID == "" {
		return nil, fmt.Errorf("fetch thread: empty thread id")
	}
	th, err := m.svc.Users.Threads.Get(user, threadID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get thread %s: %w", threadID, err)
	}

	msgs := make([]types.Message, 0, len(th.Messages))
	for _, msg := range th.Messages {
		msgs = append(msgs, toMessage(msg))
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Date.Before(msgs[j].Date) })
	return msgs, nil
}

// Send delivers a message. Replies carry the thread id and In-Reply-To so
// they stay in the requester's conversation.
func (m *Mailbox) Send(ctx context.Context, out types.Outgoing) (types.MessageRef, error) {
	raw := buildRaw(m.from, out)
	msg := &gm.Message{
		Raw:      base64.URLEncoding.EncodeToString([]byte(raw)),
		ThreadId: out.ThreadID,
	}
	sent, err := m.svc.Users.Messages.Send(user, msg).Context(ctx).Do()
	if err != nil {
		return types.MessageRef{}, fmt.Errorf("send message: %w", err)
	}
	m.logger.Debug("Sent message",
		zap.String("message_id", sent.Id),
		zap.String("thread_id", sent.ThreadId),
		zap.String("to", out.To))
	return types.MessageRef{ID: sent.Id, ThreadID: sent.ThreadId}, nil
}

// ListNewThreads returns threads matching a Gmail search query.
func (m *Mailbox) ListNewThreads(ctx context.Context, query string, max int64) ([]types.ThreadSummary, error) {
	call := m.svc.Users.Threads.List(user).Q(query).Context(ctx)
	if max > 0 {
		call = call.MaxResults(max)
	}
	resp, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	out := make([]types.ThreadSummary, 0, len(resp.Threads))
	for _, th := range resp.Threads {
		out = append(out, types.ThreadSummary{ID: th.Id, Snippet: th.Snippet})
	}
	return out, nil
}

// MarkRead removes the UNREAD label from a thread so intake skips it.
func (m *Mailbox) MarkRead(ctx context.Context, threadID string) error {
	_, err := m.svc.Users.Threads.Modify(user, threadID, &gm.ModifyThreadRequest{
		RemoveLabelIds: []string{"UNREAD"},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("mark thread %s read: %w", threadID, err)
	}
	return nil
}

// Address returns the email address of the authenticated account.
func (m *Mailbox) Address(ctx context.Context) (string, error) {
	p, err := m.svc.Users.GetProfile(user).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("get profile: %w", err)
	}
	return p.EmailAddress, nil
}

// SetFrom sets the From header used on outgoing mail.
func (m *Mailbox) SetFrom(from string) {
	m.from = from
}

func toMessage(msg *gm.Message) types.Message {
	var headers map[string]string
	var body string
	if msg.Payload != nil {
		headers = headerMap(msg.Payload.Headers)
		body = extractBody(msg.Payload)
	}
	return types.Message{
		ID:        msg.Id,
		ThreadID:  msg.ThreadId,
		MessageID: headers["message-id"],
		From:      headers["from"],
		To:        headers["to"],
		Subject:   defaultStr(headers["subject"], "(no subject)"),
		Body:      strings.TrimSpace(body),
		Date:      time.UnixMilli(msg.InternalDate).UTC(),
	}
}

// buildRaw renders an RFC 822 message.
func buildRaw(from string, out types.Outgoing) string {
	var b strings.Builder
	if from != "" {
		fmt.Fprintf(&b, "From: %s\r\n", from)
	}
	fmt.Fprintf(&b, "To: %s\r\n", out.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", out.Subject)
	if out.InReplyTo != "" {
		fmt.Fprintf(&b, "In-Reply-To: %s\r\n", out.InReplyTo)
		fmt.Fprintf(&b, "References: %s\r\n", out.InReplyTo)
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(out.Body)
	return b.String()
}

// extractBody gets the plain text body from a message payload.
// Handles multipart messages recursively, preferring text/plain over text/html.
func extractBody(payload *gm.MessagePart) string {
	if payload.Body != nil && payload.Body.Data != "" && len(payload.Parts) == 0 {
		if decoded, err := decodeBase64URL(payload.Body.Data); err == nil {
			return decoded
		}
	}

	for _, part := range payload.Parts {
		if part.MimeType == "text/plain" && part.Body != nil && part.Body.Data != "" {
			if decoded, err := decodeBase64URL(part.Body.Data); err == nil {
				return decoded
			}
		}
		if len(part.Parts) > 0 {
			if body := extractBody(part); body != "" {
				return body
			}
		}
	}

	for _, part := range payload.Parts {
		if part.MimeType == "text/html" && part.Body != nil && part.Body.Data != "" {
			if decoded, err := decodeBase64URL(part.Body.Data); err == nil {
				return decoded
			}
		}
	}
	return ""
}

// headerMap converts Gmail API headers into a map keyed by lower-cased name.
func headerMap(headers []*gm.MessagePartHeader) map[string]string {
	m := make(map[string]string, len(headers))
	for _, h := range headers {
		m[strings.ToLower(h.Name)] = h.Value
	}
	return m
}

// decodeBase64URL decodes Gmail's base64url content, padded or not.
func decodeBase64URL(data string) (string, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

func defaultStr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

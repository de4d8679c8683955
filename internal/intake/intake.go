// Package intake discovers new support threads in the mailbox and opens a
// conversation for each of them.
package intake

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/daviddao/helpdesk/internal/db"
	"github.com/daviddao/helpdesk/internal/types"
)

// Mailbox is the part of the mail client intake needs.
type Mailbox interface {
	ListNewThreads(ctx context.Context, query string, max int64) ([]types.ThreadSummary, error)
	FetchThread(ctx context.Context, threadID string) ([]types.Message, error)
	MarkRead(ctx context.Context, threadID string) error
}

// Starter opens a conversation for a thread.
type Starter interface {
	Start(ctx context.Context, threadID string) (*types.Conversation, error)
}

// Config controls which threads are accepted.
type Config struct {
	Query string
	// Max caps the threads listed per poll; 0 leaves it to the provider.
	Max int64
	// AllowedSenders are addresses or "@domain" suffixes. Empty accepts all.
	AllowedSenders []string
	// Self is the helpdesk's own address; threads it opened are ignored.
	Self string
}

// Result counts what one poll did.
type Result struct {
	Found    int
	Started  int
	Skipped  int
	Rejected int
	Errors   int
}

// Intake polls the mailbox for threads without a conversation.
type Intake struct {
	mail    Mailbox
	starter Starter
	convs   db.ConversationStore
	cfg     Config
	allowed map[string]bool
	logger  *zap.Logger

	mu       sync.Mutex
	rejected map[string]bool
}

func New(mail Mailbox, starter Starter, convs db.ConversationStore, cfg Config, logger *zap.Logger) *Intake {
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed := make(map[string]bool, len(cfg.AllowedSenders))
	for _, s := range cfg.AllowedSenders {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			allowed[s] = true
		}
	}
	cfg.Self = strings.ToLower(strings.TrimSpace(cfg.Self))
	return &Intake{
		mail:     mail,
		starter:  starter,
		convs:    convs,
		cfg:      cfg,
		allowed:  allowed,
		logger:   logger,
		rejected: make(map[string]bool),
	}
}

// SetMax caps the threads listed per poll.
func (in *Intake) SetMax(max int64) {
	in.cfg.Max = max
}

// Poll starts a conversation for every new accepted thread and returns
// their ids.
func (in *Intake) Poll(ctx context.Context) ([]string, error) {
	started, _, err := in.PollResult(ctx)
	return started, err
}

// PollResult is Poll with counters.
func (in *Intake) PollResult(ctx context.Context) ([]string, Result, error) {
	var res Result
	threads, err := in.mail.ListNewThreads(ctx, in.cfg.Query, in.cfg.Max)
	if err != nil {
		return nil, res, fmt.Errorf("intake: %w", err)
	}
	res.Found = len(threads)

	var started []string
	for _, th := range threads {
		if ctx.Err() != nil {
			return started, res, ctx.Err()
		}
		if th.ID == "" {
			in.logger.Warn("Listed thread without id, skipping")
			res.Skipped++
			continue
		}
		if in.wasRejected(th.ID) {
			res.Rejected++
			continue
		}
		_, err := in.convs.LoadConversation(ctx, th.ID)
		if err == nil {
			res.Skipped++
			continue
		}
		if !errors.Is(err, db.ErrNotFound) {
			in.logger.Warn("Conversation lookup failed", zap.String("thread_id", th.ID), zap.Error(err))
			res.Errors++
			continue
		}

		msgs, err := in.mail.FetchThread(ctx, th.ID)
		if err != nil {
			in.logger.Warn("Failed to fetch thread", zap.String("thread_id", th.ID), zap.Error(err))
			res.Errors++
			continue
		}
		if len(msgs) == 0 {
			res.Skipped++
			continue
		}
		sender := address(msgs[0].From)
		if in.cfg.Self != "" && sender == in.cfg.Self {
			res.Skipped++
			continue
		}
		if !in.Allowed(sender) {
			in.logger.Info("Sender not allowed, ignoring thread",
				zap.String("thread_id", th.ID), zap.String("from", sender))
			in.reject(th.ID)
			res.Rejected++
			continue
		}

		if _, err := in.starter.Start(ctx, th.ID); err != nil {
			in.logger.Warn("Failed to start conversation", zap.String("thread_id", th.ID), zap.Error(err))
			res.Errors++
			continue
		}
		if err := in.mail.MarkRead(ctx, th.ID); err != nil {
			in.logger.Warn("Failed to mark thread read", zap.String("thread_id", th.ID), zap.Error(err))
		}
		started = append(started, th.ID)
		res.Started++
	}

	if res.Found > 0 {
		in.logger.Info("Intake poll",
			zap.Int("found", res.Found),
			zap.Int("started", res.Started),
			zap.Int("skipped", res.Skipped),
			zap.Int("rejected", res.Rejected),
			zap.Int("errors", res.Errors))
	}
	return started, res, nil
}

// Allowed reports whether sender may open a conversation.
func (in *Intake) Allowed(sender string) bool {
	if len(in.allowed) == 0 {
		return true
	}
	sender = address(sender)
	if in.allowed[sender] {
		return true
	}
	if i := strings.LastIndex(sender, "@"); i >= 0 && in.allowed[sender[i:]] {
		return true
	}
	return false
}

func (in *Intake) wasRejected(threadID string) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.rejected[threadID]
}

func (in *Intake) reject(threadID string) {
	in.mu.Lock()
	in.rejected[threadID] = true
	in.mu.Unlock()
}

// address extracts the lower-cased email address from a From header.
func address(from string) string {
	if a, err := mail.ParseAddress(from); err == nil {
		return strings.ToLower(a.Address)
	}
	from = strings.TrimSpace(from)
	if i := strings.Index(from, "<"); i >= 0 {
		from = strings.Trim(from[i:], "<> ")
	}
	return strings.ToLower(from)
}

package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/daviddao/helpdesk/internal/analyzer"
	"github.com/daviddao/helpdesk/internal/config"
	"github.com/daviddao/helpdesk/internal/db"
	"github.com/daviddao/helpdesk/internal/followup"
	"github.com/daviddao/helpdesk/internal/lifecycle"
	"github.com/daviddao/helpdesk/internal/rules"
	"github.com/daviddao/helpdesk/internal/types"
)

// maxIterations bounds the stages run by a single Step.
const maxIterations = 32

// Options holds the policy knobs of the controller.
type Options struct {
	ConfidenceGap     float64
	MaxQuestions      int
	MinRuleConfidence float64
	// NoRules is config.NoRulesElevated or config.NoRulesAsk.
	NoRules      string
	PollInterval time.Duration
	AwaitTimeout time.Duration
	MaxReentries int
	MaxAttempts  int
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		ConfidenceGap:     0.2,
		MaxQuestions:      3,
		MinRuleConfidence: 0.5,
		NoRules:           config.NoRulesElevated,
		PollInterval:      10 * time.Second,
		AwaitTimeout:      48 * time.Hour,
		MaxReentries:      3,
		MaxAttempts:       5,
	}
}

// OptionsFrom builds Options from loaded configuration.
func OptionsFrom(cfg *config.Config) Options {
	return Options{
		ConfidenceGap:     cfg.Policy.ConfidenceGap,
		MaxQuestions:      cfg.Policy.MaxQuestions,
		MinRuleConfidence: cfg.Policy.MinRuleConfidence,
		NoRules:           cfg.Policy.NoRules,
		PollInterval:      cfg.Workflow.PollInterval,
		AwaitTimeout:      cfg.Workflow.AwaitTimeout,
		MaxReentries:      cfg.Workflow.MaxReentries,
		MaxAttempts:       cfg.Workflow.MaxAttempts,
	}
}

// Deps are the collaborators of the controller.
type Deps struct {
	Store    db.Store
	Mail     followup.Mailbox
	Analyzer analyzer.Analyzer
	Catalog  *rules.Catalog
	// Notifier is told about escalations; nil only logs.
	Notifier followup.Notifier
	// Self is the helpdesk's own address.
	Self string
}

// Outcome summarizes a conversation after a Step.
type Outcome struct {
	ThreadID   string     `json:"thread_id"`
	State      State      `json:"state"`
	Terminal   bool       `json:"terminal"`
	Waiting    bool       `json:"waiting"`
	NextPollAt *time.Time `json:"next_poll_at,omitempty"`
	TicketID   string     `json:"ticket_id,omitempty"`
}

type stageFunc func(ctx context.Context, c *types.Conversation) (Key, error)

// Controller runs conversations through the transition table. Steps for
// one thread never overlap; distinct threads may be stepped concurrently.
type Controller struct {
	store    db.Store
	mail     followup.Mailbox
	loop     *followup.Loop
	tickets  *lifecycle.Manager
	an       analyzer.Analyzer
	catalog  *rules.Catalog
	notifier followup.Notifier
	opts     Options
	logger   *zap.Logger
	stages   map[State]stageFunc

	mu      sync.Mutex
	running map[string]bool
}

func New(deps Deps, opts Options, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Catalog == nil {
		deps.Catalog = &rules.Catalog{}
	}
	def := DefaultOptions()
	if opts.MaxQuestions < 1 {
		opts.MaxQuestions = def.MaxQuestions
	}
	if opts.NoRules == "" {
		opts.NoRules = def.NoRules
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.AwaitTimeout <= 0 {
		opts.AwaitTimeout = def.AwaitTimeout
	}
	if opts.MaxReentries < 1 {
		opts.MaxReentries = def.MaxReentries
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Controller{
		store:    deps.Store,
		mail:     deps.Mail,
		loop:     followup.New(deps.Mail, deps.Store, deps.Self, logger.Named("followup")),
		tickets:  lifecycle.New(deps.Store, logger.Named("lifecycle")),
		an:       deps.Analyzer,
		catalog:  deps.Catalog,
		notifier: deps.Notifier,
		opts:     opts,
		logger:   logger,
		running:  make(map[string]bool),
	}
	c.stages = map[State]stageFunc{
		Classifying:              c.classify,
		FieldExtracting:          c.extractFields,
		AwaitingFields:           c.await,
		SubcategoryResolving:     c.resolveSubcategory,
		AwaitingSubcategoryInput: c.await,
		PriorityResolving:        c.resolvePriority,
		AwaitingPriorityInput:    c.await,
		TicketCreating:           c.createTicket,
	}
	return c
}

// Tickets exposes the lifecycle manager used by the controller.
func (c *Controller) Tickets() *lifecycle.Manager {
	return c.tickets
}

func (c *Controller) now() time.Time {
	return c.opts.Now().UTC()
}

func (c *Controller) acquire(threadID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running[threadID] {
		return false
	}
	c.running[threadID] = true
	return true
}

func (c *Controller) release(threadID string) {
	c.mu.Lock()
	delete(c.running, threadID)
	c.mu.Unlock()
}

// Start creates the conversation for a thread in Classifying. It is a
// no-op returning the stored conversation when one already exists.
func (c *Controller) Start(ctx context.Context, threadID string) (*types.Conversation, error) {
	if threadID == "" {
		return nil, ErrMissingThread
	}
	if !c.acquire(threadID) {
		return nil, ErrBusy
	}
	defer c.release(threadID)

	conv, err := c.store.LoadConversation(ctx, threadID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("start %s: %w", threadID, err)
	}
	return c.start(ctx, threadID)
}

func (c *Controller) start(ctx context.Context, threadID string) (*types.Conversation, error) {
	msgs, err := c.mail.FetchThread(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", threadID, err)
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("start %s: thread has no messages", threadID)
	}
	now := c.now()
	conv := &types.Conversation{
		ThreadID:  threadID,
		State:     string(Classifying),
		Requester: analyzer.RequesterFromHeader(msgs[0].From),
		Messages:  msgs,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.store.SaveConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("start %s: %w", threadID, err)
	}
	c.logger.Info("Conversation started",
		zap.String("thread_id", threadID),
		zap.Int("messages", len(msgs)))
	return conv, nil
}

// Step advances a conversation until it suspends on a reply or reaches a
// terminal state. A thread without a conversation is started first. Every
// transition is persisted before the next stage runs.
//
// A failing stage leaves the conversation in its last good state and the
// error is returned; the conversation is retried on the next poll. A
// Permanent error, or MaxAttempts consecutive failures, moves it to Failed.
func (c *Controller) Step(ctx context.Context, threadID string) (Outcome, error) {
	if threadID == "" {
		return Outcome{}, ErrMissingThread
	}
	if !c.acquire(threadID) {
		return Outcome{ThreadID: threadID}, ErrBusy
	}
	defer c.release(threadID)

	conv, err := c.store.LoadConversation(ctx, threadID)
	if errors.Is(err, db.ErrNotFound) {
		conv, err = c.start(ctx, threadID)
	}
	if err != nil {
		return Outcome{ThreadID: threadID}, fmt.Errorf("step %s: %w", threadID, err)
	}

	for i := 0; i < maxIterations; i++ {
		state := State(conv.State)
		if state.Terminal() {
			return outcomeOf(conv), nil
		}
		if err := ctx.Err(); err != nil {
			return outcomeOf(conv), err
		}
		stage, ok := c.stages[state]
		if !ok {
			return c.stageFailed(ctx, conv, state, Permanent(fmt.Errorf("unknown state %q", state)))
		}

		snapshot, err := json.Marshal(conv)
		if err != nil {
			return outcomeOf(conv), fmt.Errorf("step %s: snapshot: %w", threadID, err)
		}
		restore := func() *types.Conversation {
			var prev types.Conversation
			if err := json.Unmarshal(snapshot, &prev); err != nil {
				return conv
			}
			return &prev
		}

		key, err := stage(ctx, conv)
		if err != nil {
			return c.stageFailed(ctx, restore(), state, err)
		}
		next, err := c.advance(ctx, conv, state, key)
		if err != nil {
			return c.stageFailed(ctx, restore(), state, err)
		}
		if err := c.store.SaveConversation(ctx, conv); err != nil {
			return outcomeOf(restore()), fmt.Errorf("step %s: %w", threadID, err)
		}
		if next != state {
			c.logger.Info("Conversation advanced",
				zap.String("thread_id", threadID),
				zap.String("from", string(state)),
				zap.String("to", string(next)),
				zap.String("key", string(key)))
		}
		if next.Awaiting() {
			return outcomeOf(conv), nil
		}
	}
	c.logger.Warn("Step iteration limit reached", zap.String("thread_id", threadID), zap.String("state", conv.State))
	return outcomeOf(conv), nil
}

// advance applies the transition for key, enforces the re-entry ceiling and
// runs the entry action of the new state.
func (c *Controller) advance(ctx context.Context, conv *types.Conversation, from State, key Key) (State, error) {
	next, ok := Next(from, key)
	if !ok {
		return "", Permanent(fmt.Errorf("no transition from %s on %q", from, key))
	}
	reason := ""
	if key == KeyTimeout {
		reason = types.ReasonEscalatedTimeout
	}
	if next != from && !next.Terminal() {
		if conv.Reentries == nil {
			conv.Reentries = make(map[string]int)
		}
		conv.Reentries[string(next)]++
		if n := conv.Reentries[string(next)]; n > c.opts.MaxReentries {
			c.logger.Warn("Re-entry limit reached",
				zap.String("thread_id", conv.ThreadID),
				zap.String("state", string(next)),
				zap.Int("entries", n))
			next, _ = Next(from, KeyReentryLimit)
			reason = types.ReasonEscalatedReentry
		}
	}

	switch next {
	case ServiceRequestHandling:
		if err := c.acknowledge(ctx, conv); err != nil {
			return "", err
		}
	case Escalated:
		if err := c.escalate(ctx, conv, reason); err != nil {
			return "", err
		}
	}

	now := c.now()
	conv.State = string(next)
	conv.Terminal = next.Terminal()
	conv.Attempts = 0
	conv.LastError = ""
	conv.UpdatedAt = now
	conv.NextPollAt = nil
	if next.Awaiting() {
		poll := now.Add(c.opts.PollInterval)
		if conv.Deadline != nil && conv.Deadline.Before(poll) {
			poll = *conv.Deadline
		}
		conv.NextPollAt = &poll
	}
	return next, nil
}

func (c *Controller) stageFailed(ctx context.Context, conv *types.Conversation, state State, err error) (Outcome, error) {
	now := c.now()
	conv.Attempts++
	conv.LastError = fmt.Sprintf("%s: %v", state, err)
	conv.UpdatedAt = now

	if IsPermanent(err) || conv.Attempts >= c.opts.MaxAttempts {
		c.logger.Error("Conversation failed",
			zap.String("thread_id", conv.ThreadID),
			zap.String("state", string(state)),
			zap.Int("attempts", conv.Attempts),
			zap.Error(err))
		conv.State = string(Failed)
		conv.Terminal = true
		conv.NextPollAt = nil
		if serr := c.store.SaveConversation(ctx, conv); serr != nil {
			return outcomeOf(conv), fmt.Errorf("step %s: save failed conversation: %w", conv.ThreadID, serr)
		}
		return outcomeOf(conv), nil
	}

	c.logger.Warn("Stage failed, will retry",
		zap.String("thread_id", conv.ThreadID),
		zap.String("state", string(state)),
		zap.Int("attempts", conv.Attempts),
		zap.Error(err))
	retry := now.Add(c.opts.PollInterval)
	conv.NextPollAt = &retry
	if serr := c.store.SaveConversation(ctx, conv); serr != nil {
		c.logger.Error("Failed to record stage failure", zap.String("thread_id", conv.ThreadID), zap.Error(serr))
	}
	return outcomeOf(conv), fmt.Errorf("step %s in %s: %w", conv.ThreadID, state, err)
}

func outcomeOf(conv *types.Conversation) Outcome {
	s := State(conv.State)
	return Outcome{
		ThreadID:   conv.ThreadID,
		State:      s,
		Terminal:   s.Terminal(),
		Waiting:    s.Awaiting(),
		NextPollAt: conv.NextPollAt,
		TicketID:   conv.TicketID,
	}
}

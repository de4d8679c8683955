package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/daviddao/helpdesk/internal/db"
	"github.com/daviddao/helpdesk/internal/workflow"
)

// Stepper advances one conversation.
type Stepper interface {
	Step(ctx context.Context, threadID string) (workflow.Outcome, error)
}

// Poller discovers threads that need a conversation.
type Poller interface {
	Poll(ctx context.Context) ([]string, error)
}

// Config tunes the runner.
type Config struct {
	Interval time.Duration
	Workers  int
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// Runner drives every active conversation from a single tick.
type Runner struct {
	steps    Stepper
	intake   Poller
	convs    db.ConversationStore
	queue    *Queue
	interval time.Duration
	workers  int
	now      func() time.Time
	logger   *zap.Logger

	mu       sync.Mutex
	inFlight map[string]bool
}

// New creates a Runner. intake may be nil when threads are only started
// by hand.
func New(steps Stepper, convs db.ConversationStore, intake Poller, cfg Config, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Runner{
		steps:    steps,
		intake:   intake,
		convs:    convs,
		queue:    NewQueue(),
		interval: cfg.Interval,
		workers:  cfg.Workers,
		now:      cfg.Now,
		logger:   logger,
		inFlight: make(map[string]bool),
	}
}

// Queue exposes the pending schedule.
func (r *Runner) Queue() *Queue {
	return r.queue
}

// Load schedules every non-terminal conversation found in the store, at
// its recorded next poll time or immediately.
func (r *Runner) Load(ctx context.Context) (int, error) {
	convs, err := r.convs.ActiveConversations(ctx)
	if err != nil {
		return 0, fmt.Errorf("load conversations: %w", err)
	}
	now := r.now()
	for _, c := range convs {
		due := now
		if c.NextPollAt != nil {
			due = *c.NextPollAt
		}
		r.queue.Schedule(c.ThreadID, due)
	}
	r.logger.Info("Loaded active conversations", zap.Int("count", len(convs)))
	return len(convs), nil
}

// Tick polls intake for new threads, then steps every due conversation on
// the worker pool and reschedules the ones still waiting. It returns the
// number of conversations stepped.
func (r *Runner) Tick(ctx context.Context) (int, error) {
	now := r.now()
	if r.intake != nil {
		started, err := r.intake.Poll(ctx)
		if err != nil {
			r.logger.Warn("Intake poll failed", zap.Error(err))
		}
		for _, id := range started {
			r.queue.Schedule(id, now)
		}
	}

	due := r.queue.PopDue(now)
	if len(due) == 0 {
		return 0, nil
	}

	p := pool.New().WithMaxGoroutines(r.workers)
	var (
		mu      sync.Mutex
		stepped int
	)
	for _, threadID := range due {
		threadID := threadID
		if !r.claim(threadID) {
			// Still running from an earlier tick; check again next interval.
			r.queue.Schedule(threadID, now.Add(r.interval))
			continue
		}
		p.Go(func() {
			defer r.unclaim(threadID)
			if r.step(ctx, threadID) {
				mu.Lock()
				stepped++
				mu.Unlock()
			}
		})
	}
	p.Wait()
	return stepped, ctx.Err()
}

func (r *Runner) step(ctx context.Context, threadID string) bool {
	out, err := r.steps.Step(ctx, threadID)
	switch {
	case errors.Is(err, workflow.ErrBusy):
		r.queue.Schedule(threadID, r.now().Add(r.interval))
		return false
	case errors.Is(err, workflow.ErrMissingThread):
		r.logger.Warn("Dropping conversation without thread id")
		return false
	case errors.Is(err, context.Canceled):
		return false
	case err != nil:
		r.logger.Warn("Step failed",
			zap.String("thread_id", threadID),
			zap.String("state", string(out.State)),
			zap.Error(err))
	}

	if out.Terminal {
		r.logger.Info("Conversation finished",
			zap.String("thread_id", threadID),
			zap.String("state", string(out.State)),
			zap.String("ticket_id", out.TicketID))
		return true
	}
	next := r.now().Add(r.interval)
	if out.NextPollAt != nil {
		next = *out.NextPollAt
	}
	r.queue.Schedule(threadID, next)
	return true
}

func (r *Runner) claim(threadID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inFlight[threadID] {
		return false
	}
	r.inFlight[threadID] = true
	return true
}

func (r *Runner) unclaim(threadID string) {
	r.mu.Lock()
	delete(r.inFlight, threadID)
	r.mu.Unlock()
}

// Run loads active conversations and ticks every interval until ctx is
// cancelled. Overlapping ticks are skipped.
func (r *Runner) Run(ctx context.Context) error {
	if _, err := r.Load(ctx); err != nil {
		return err
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	spec := "@every " + r.interval.String()
	if _, err := c.AddFunc(spec, func() {
		if _, err := r.Tick(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("Tick failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("scheduler: invalid interval %q: %w", spec, err)
	}

	// First tick immediately rather than one interval from now.
	if _, err := r.Tick(ctx); err != nil && ctx.Err() == nil {
		r.logger.Warn("Tick failed", zap.Error(err))
	}

	c.Start()
	r.logger.Info("Scheduler started", zap.Duration("interval", r.interval), zap.Int("workers", r.workers))
	<-ctx.Done()
	<-c.Stop().Done()
	r.logger.Info("Scheduler stopped")
	return nil
}

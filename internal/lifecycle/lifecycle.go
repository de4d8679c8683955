// Package lifecycle owns ticket identity, staging and finalization. A thread
// has at most one temporary ticket at a time and at most one final ticket
// ever.
package lifecycle

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"github.com/daviddao/helpdesk/internal/db"
	"github.com/daviddao/helpdesk/internal/types"
)

// Stage labels for temporary tickets.
const (
	StageFields      = "FIELDS"
	StageSubcategory = "SUBCATEGORY"
	StagePriority    = "PRIORITY"
	StageEscalated   = "ESCALATED"
)

// Fallback returns the label of a stage staged from a fallback path.
func Fallback(stage string) string {
	return stage + "_FALLBACK"
}

// Manager stages and finalizes tickets.
type Manager struct {
	store  db.TicketStore
	locks  *keyedMutex
	logger *zap.Logger
}

func New(store db.TicketStore, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, locks: newKeyedMutex(), logger: logger}
}

// ThreadHash is the short digest of a thread id used in ticket ids.
func ThreadHash(threadID string) string {
	sum := blake3.Sum256([]byte(threadID))
	return hex.EncodeToString(sum[:4])
}

// TicketID formats a ticket id. An empty stage yields a final id:
//
//	TKT-20260301-1a2b3c4d-000042
//	TEMP-FIELDS-20260301-1a2b3c4d-000042
func TicketID(stage string, seq types.ThreadSequence) string {
	date := seq.AssignedAt.UTC().Format("20060102")
	tail := fmt.Sprintf("%s-%s-%06d", date, ThreadHash(seq.ThreadID), seq.Sequence)
	if stage == "" {
		return "TKT-" + tail
	}
	return "TEMP-" + strings.ToUpper(stage) + "-" + tail
}

// StageTicket replaces the thread's temporary ticket with a snapshot of c.
func (m *Manager) StageTicket(ctx context.Context, threadID, stage string, c *types.Conversation) (*types.Ticket, error) {
	if threadID == "" {
		return nil, fmt.Errorf("stage ticket: empty thread id")
	}
	unlock := m.locks.Lock(threadID)
	defer unlock()

	seq, err := m.store.Sequence(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("stage ticket: %w", err)
	}
	t := fromConversation(threadID, c)
	t.ID = TicketID(stage, seq)
	t.Sequence = seq.Sequence
	t.IsTemporary = true
	t.StageLabel = strings.ToUpper(stage)
	t.Status = types.StatusStaged
	t.CreatedAt = time.Now().UTC()

	if err := m.store.ReplaceTemporary(ctx, t); err != nil {
		return nil, fmt.Errorf("stage ticket: %w", err)
	}
	m.logger.Info("Staged ticket",
		zap.String("thread_id", threadID),
		zap.String("ticket_id", t.ID),
		zap.String("stage", t.StageLabel))
	return t, nil
}

// Finalize creates the thread's final ticket, promoting the temporary one
// when it exists, and removes every temporary ticket. Calling it again
// returns the existing final ticket. A nil conversation promotes the
// temporary ticket as is.
func (m *Manager) Finalize(ctx context.Context, threadID string, c *types.Conversation) (*types.Ticket, error) {
	if threadID == "" {
		return nil, fmt.Errorf("finalize: empty thread id")
	}
	unlock := m.locks.Lock(threadID)
	defer unlock()

	existing, err := m.store.FindByThread(ctx, threadID, true)
	if err != nil {
		return nil, fmt.Errorf("finalize: %w", err)
	}
	var temp *types.Ticket
	for _, t := range existing {
		if !t.IsTemporary {
			m.logger.Debug("Thread already finalized",
				zap.String("thread_id", threadID), zap.String("ticket_id", t.ID))
			return t, nil
		}
		if temp == nil {
			temp = t
		}
	}

	seq, err := m.store.Sequence(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("finalize: %w", err)
	}

	var final *types.Ticket
	switch {
	case temp != nil && c == nil:
		final = temp
	case temp != nil:
		final = fromConversation(threadID, c)
		final.CreatedAt = temp.CreatedAt
		if len(final.Notes) == 0 {
			final.Notes = temp.Notes
		}
	case c != nil:
		final = fromConversation(threadID, c)
	default:
		final = &types.Ticket{ThreadID: threadID}
	}
	if temp == nil {
		final.Notes = append(final.Notes, types.Note{Reason: types.ReasonFinalizedDirect, At: time.Now().UTC()})
	}
	final.ID = TicketID("", seq)
	final.Sequence = seq.Sequence
	final.IsTemporary = false
	final.StageLabel = ""
	final.Status = types.StatusOpen
	if final.CreatedAt.IsZero() {
		final.CreatedAt = time.Now().UTC()
	}

	got, created, err := m.store.PromoteFinal(ctx, final)
	if err != nil {
		return nil, fmt.Errorf("finalize: %w", err)
	}
	if created {
		m.logger.Info("Finalized ticket",
			zap.String("thread_id", threadID),
			zap.String("ticket_id", got.ID),
			zap.String("priority", string(got.Priority)),
			zap.Bool("promoted", temp != nil))
	}
	return got, nil
}

// GetByThread returns the thread's final ticket first, then any temporary one.
func (m *Manager) GetByThread(ctx context.Context, threadID string, includeTemporary bool) ([]*types.Ticket, error) {
	tickets, err := m.store.FindByThread(ctx, threadID, includeTemporary)
	if err != nil {
		return nil, fmt.Errorf("get by thread: %w", err)
	}
	return tickets, nil
}

// Final returns the thread's final ticket or db.ErrNotFound.
func (m *Manager) Final(ctx context.Context, threadID string) (*types.Ticket, error) {
	tickets, err := m.GetByThread(ctx, threadID, false)
	if err != nil {
		return nil, err
	}
	if len(tickets) == 0 {
		return nil, fmt.Errorf("final ticket for %q: %w", threadID, db.ErrNotFound)
	}
	return tickets[0], nil
}

func fromConversation(threadID string, c *types.Conversation) *types.Ticket {
	t := &types.Ticket{ThreadID: threadID}
	if c == nil {
		return t
	}
	t.Requester = c.Requester
	t.Category = c.Category
	t.Description = c.Description
	t.Candidates = append([]types.Candidate(nil), c.Candidates...)
	t.ResolvedSubcategory = c.ResolvedSubcategory
	t.Priority = c.Priority
	t.ResponsibleTeam = c.ResponsibleTeam
	t.Notes = append([]types.Note(nil), c.Notes...)
	return t
}

package db

import (
	"context"
	"errors"

	"github.com/daviddao/helpdesk/internal/types"
)

// ErrFinalized is returned when a temporary ticket is staged for a thread
// that already has its final ticket.
var ErrFinalized = errors.New("thread already finalized")

// TicketFilter narrows List results.
type TicketFilter struct {
	Status           string
	Priority         types.Tier
	ThreadID         string
	IncludeTemporary bool
	Limit            int
}

// TicketStore persists staged and final tickets.
type TicketStore interface {
	Put(ctx context.Context, t *types.Ticket) error
	Get(ctx context.Context, id string) (*types.Ticket, error)
	FindByThread(ctx context.Context, threadID string, includeTemporary bool) ([]*types.Ticket, error)
	Delete(ctx context.Context, id string) error

	// ReplaceTemporary deletes every temporary ticket of t.ThreadID and
	// writes t in the same transaction.
	ReplaceTemporary(ctx context.Context, t *types.Ticket) error
	// PromoteFinal writes t as the thread's final ticket and deletes its
	// temporary tickets. If a final ticket already exists it is returned
	// unchanged with created == false.
	PromoteFinal(ctx context.Context, t *types.Ticket) (final *types.Ticket, created bool, err error)

	List(ctx context.Context, f TicketFilter) ([]*types.Ticket, error)
	UpdateStatus(ctx context.Context, id, status string) error
	AddNote(ctx context.Context, id string, note types.Note) error

	// Sequence returns the thread's sequence number, assigning the next
	// one on first use.
	Sequence(ctx context.Context, threadID string) (types.ThreadSequence, error)
}

// ConversationStore persists resumable conversation state.
type ConversationStore interface {
	SaveConversation(ctx context.Context, c *types.Conversation) error
	LoadConversation(ctx context.Context, threadID string) (*types.Conversation, error)
	ActiveConversations(ctx context.Context) ([]*types.Conversation, error)
}

// WatermarkStore remembers the last message seen on each thread.
// Watermark returns "" when no baseline has been captured.
type WatermarkStore interface {
	Watermark(ctx context.Context, threadID string) (string, error)
	SetWatermark(ctx context.Context, threadID, messageID string) error
}

// EscalationStore records escalations once per thread.
type EscalationStore interface {
	// MarkEscalated returns false if the thread was already escalated.
	MarkEscalated(ctx context.Context, e types.Escalation) (bool, error)
}

// Store is the full persistence surface used by the daemon.
type Store interface {
	TicketStore
	ConversationStore
	WatermarkStore
	EscalationStore
	Close() error
}

var (
	_ Store = (*DB)(nil)
	_ Store = (*MemoryStore)(nil)
)

package db

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/daviddao/helpdesk/internal/types"
)

// MemoryStore is an in-process Store. Tickets and conversations are copied
// on the way in and out so callers never share state with the store.
type MemoryStore struct {
	mu            sync.RWMutex
	tickets       map[string]*types.Ticket
	sequences     map[string]types.ThreadSequence
	counter       int64
	conversations map[string][]byte
	watermarks    map[string]string
	escalations   map[string]types.Escalation
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tickets:       make(map[string]*types.Ticket),
		sequences:     make(map[string]types.ThreadSequence),
		conversations: make(map[string][]byte),
		watermarks:    make(map[string]string),
		escalations:   make(map[string]types.Escalation),
	}
}

func cloneTicket(t *types.Ticket) *types.Ticket {
	c := *t
	c.Candidates = append([]types.Candidate(nil), t.Candidates...)
	c.Notes = append([]types.Note(nil), t.Notes...)
	if t.ResolvedAt != nil {
		ts := *t.ResolvedAt
		c.ResolvedAt = &ts
	}
	return &c
}

// Ticket methods
func (s *MemoryStore) Put(ctx context.Context, t *types.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(t)
	return nil
}

func (s *MemoryStore) put(t *types.Ticket) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	s.tickets[t.ID] = cloneTicket(t)
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*types.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, fmt.Errorf("ticket %q: %w", id, ErrNotFound)
	}
	return cloneTicket(t), nil
}

func (s *MemoryStore) FindByThread(ctx context.Context, threadID string, includeTemporary bool) ([]*types.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findByThread(threadID, includeTemporary), nil
}

func (s *MemoryStore) findByThread(threadID string, includeTemporary bool) []*types.Ticket {
	var out []*types.Ticket
	for _, t := range s.tickets {
		if t.ThreadID != threadID || (t.IsTemporary && !includeTemporary) {
			continue
		}
		out = append(out, cloneTicket(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsTemporary != out[j].IsTemporary {
			return !out[i].IsTemporary
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[id]; !ok {
		return fmt.Errorf("ticket %q: %w", id, ErrNotFound)
	}
	delete(s.tickets, id)
	return nil
}

func (s *MemoryStore) deleteTemporary(threadID string) {
	for id, t := range s.tickets {
		if t.ThreadID == threadID && t.IsTemporary {
			delete(s.tickets, id)
		}
	}
}

func (s *MemoryStore) ReplaceTemporary(ctx context.Context, t *types.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.findByThread(t.ThreadID, false)) > 0 {
		return fmt.Errorf("ticket store: replace temporary: %w", ErrFinalized)
	}
	s.deleteTemporary(t.ThreadID)
	s.put(t)
	return nil
}

func (s *MemoryStore) PromoteFinal(ctx context.Context, t *types.Ticket) (*types.Ticket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.deleteTemporary(t.ThreadID)

	if existing := s.findByThread(t.ThreadID, false); len(existing) > 0 {
		return existing[0], false, nil
	}
	s.put(t)
	return cloneTicket(t), true, nil
}

func (s *MemoryStore) List(ctx context.Context, f TicketFilter) ([]*types.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.Ticket
	for _, t := range s.tickets {
		switch {
		case t.IsTemporary && !f.IncludeTemporary:
		case f.Status != "" && t.Status != f.Status:
		case f.Priority != types.TierUnresolved && t.Priority != f.Priority:
		case f.ThreadID != "" && t.ThreadID != f.ThreadID:
		default:
			out = append(out, cloneTicket(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id, status string) error {
	if !types.IsValidStatus(status) {
		return fmt.Errorf("invalid status %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok || t.IsTemporary {
		return fmt.Errorf("ticket %q: %w", id, ErrNotFound)
	}
	t.Status = status
	if status == types.StatusResolved || status == types.StatusClosed {
		now := time.Now().UTC()
		t.ResolvedAt = &now
	}
	return nil
}

func (s *MemoryStore) AddNote(ctx context.Context, id string, note types.Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return fmt.Errorf("ticket %q: %w", id, ErrNotFound)
	}
	if note.At.IsZero() {
		note.At = time.Now().UTC()
	}
	t.Notes = append(t.Notes, note)
	return nil
}

func (s *MemoryStore) Sequence(ctx context.Context, threadID string) (types.ThreadSequence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq, ok := s.sequences[threadID]; ok {
		return seq, nil
	}
	s.counter++
	seq := types.ThreadSequence{ThreadID: threadID, Sequence: s.counter, AssignedAt: time.Now().UTC()}
	s.sequences[threadID] = seq
	return seq, nil
}

// Conversation methods
func (s *MemoryStore) SaveConversation(ctx context.Context, c *types.Conversation) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("conversation store: encode: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ThreadID] = data
	return nil
}

func (s *MemoryStore) LoadConversation(ctx context.Context, threadID string) (*types.Conversation, error) {
	s.mu.RLock()
	data, ok := s.conversations[threadID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("conversation %q: %w", threadID, ErrNotFound)
	}
	return decodeConversation(string(data))
}

func (s *MemoryStore) ActiveConversations(ctx context.Context) ([]*types.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Conversation
	for _, data := range s.conversations {
		c, err := decodeConversation(string(data))
		if err != nil {
			return nil, err
		}
		if !c.Terminal {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ThreadID < out[j].ThreadID })
	return out, nil
}

// Watermark methods
func (s *MemoryStore) Watermark(ctx context.Context, threadID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.watermarks[threadID], nil
}

func (s *MemoryStore) SetWatermark(ctx context.Context, threadID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watermarks[threadID] = messageID
	return nil
}

// MarkEscalated records the escalation unless the thread already has one.
func (s *MemoryStore) MarkEscalated(ctx context.Context, e types.Escalation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.escalations[e.ThreadID]; ok {
		return false, nil
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	s.escalations[e.ThreadID] = e
	return true, nil
}

// Escalations returns every recorded escalation.
func (s *MemoryStore) Escalations() []types.Escalation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Escalation, 0, len(s.escalations))
	for _, e := range s.escalations {
		out = append(out, e)
	}
	return out
}

func (s *MemoryStore) Close() error { return nil }

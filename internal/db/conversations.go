package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/daviddao/helpdesk/internal/types"
)

// SaveConversation upserts the conversation state.
func (d *DB) SaveConversation(ctx context.Context, c *types.Conversation) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("conversation store: encode: %w", err)
	}
	var nextPoll any
	if c.NextPollAt != nil {
		nextPoll = formatTime(*c.NextPollAt)
	}

	_, err = d.conn.ExecContext(ctx, d.q(`
		INSERT INTO conversations (thread_id, state, terminal, data, next_poll_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (thread_id) DO UPDATE SET
			state = excluded.state,
			terminal = excluded.terminal,
			data = excluded.data,
			next_poll_at = excluded.next_poll_at,
			updated_at = excluded.updated_at`),
		c.ThreadID, c.State, boolInt(c.Terminal), string(data), nextPoll,
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("conversation store: save: %w", err)
	}
	return nil
}

// LoadConversation returns the stored conversation for a thread.
func (d *DB) LoadConversation(ctx context.Context, threadID string) (*types.Conversation, error) {
	var data string
	err := d.conn.QueryRowContext(ctx, d.q(`SELECT data FROM conversations WHERE thread_id = ?`), threadID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %q: %w", threadID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("conversation store: load: %w", err)
	}
	return decodeConversation(data)
}

// ActiveConversations returns every non-terminal conversation, soonest poll first.
func (d *DB) ActiveConversations(ctx context.Context) ([]*types.Conversation, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT data FROM conversations WHERE terminal = 0 ORDER BY next_poll_at, created_at`)
	if err != nil {
		return nil, fmt.Errorf("conversation store: active: %w", err)
	}
	defer rows.Close()

	var out []*types.Conversation
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("conversation store: active scan: %w", err)
		}
		c, err := decodeConversation(data)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func decodeConversation(data string) (*types.Conversation, error) {
	var c types.Conversation
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, fmt.Errorf("conversation store: decode: %w", err)
	}
	return &c, nil
}

// Watermark returns the last message id seen on a thread, or "".
func (d *DB) Watermark(ctx context.Context, threadID string) (string, error) {
	var id string
	err := d.conn.QueryRowContext(ctx, d.q(`SELECT message_id FROM watermarks WHERE thread_id = ?`), threadID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("watermark store: get: %w", err)
	}
	return id, nil
}

// SetWatermark records the last message id seen on a thread.
func (d *DB) SetWatermark(ctx context.Context, threadID, messageID string) error {
	_, err := d.conn.ExecContext(ctx, d.q(`
		INSERT INTO watermarks (thread_id, message_id, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (thread_id) DO UPDATE SET message_id = excluded.message_id, updated_at = excluded.updated_at`),
		threadID, messageID, Now())
	if err != nil {
		return fmt.Errorf("watermark store: set: %w", err)
	}
	return nil
}

// MarkEscalated records the escalation unless the thread already has one.
func (d *DB) MarkEscalated(ctx context.Context, e types.Escalation) (bool, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	res, err := d.conn.ExecContext(ctx, d.q(`
		INSERT INTO escalations (thread_id, id, reason, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (thread_id) DO NOTHING`),
		e.ThreadID, e.ID, e.Reason, formatTime(e.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("escalation store: mark: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("escalation store: mark: %w", err)
	}
	return n > 0, nil
}

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

const ticketColumns = `id, thread_id, sequence, is_temporary, stage_label,
	requester_name, requester_email, requester_location, category, description,
	candidates, resolved_subcategory, priority, responsible_team, status,
	created_at, resolved_at, notes`

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Put inserts or replaces a ticket.
func (d *DB) Put(ctx context.Context, t *types.Ticket) error {
	if err := d.putTicket(ctx, d.conn, t); err != nil {
		return fmt.Errorf("ticket store: put: %w", err)
	}
	return nil
}

func (d *DB) putTicket(ctx context.Context, x execer, t *types.Ticket) error {
	candidates, err := json.Marshal(t.Candidates)
	if err != nil {
		return err
	}
	notes, err := json.Marshal(t.Notes)
	if err != nil {
		return err
	}
	var resolvedAt any
	if t.ResolvedAt != nil {
		resolvedAt = formatTime(*t.ResolvedAt)
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	_, err = x.ExecContext(ctx, d.q(`
		INSERT INTO tickets (`+ticketColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			stage_label = excluded.stage_label,
			requester_name = excluded.requester_name,
			requester_email = excluded.requester_email,
			requester_location = excluded.requester_location,
			category = excluded.category,
			description = excluded.description,
			candidates = excluded.candidates,
			resolved_subcategory = excluded.resolved_subcategory,
			priority = excluded.priority,
			responsible_team = excluded.responsible_team,
			status = excluded.status,
			resolved_at = excluded.resolved_at,
			notes = excluded.notes`),
		t.ID, t.ThreadID, t.Sequence, boolInt(t.IsTemporary), nullStr(t.StageLabel),
		nullStr(t.Requester.Name), nullStr(t.Requester.Email), nullStr(t.Requester.Location),
		nullStr(string(t.Category)), nullStr(t.Description),
		string(candidates), nullStr(t.ResolvedSubcategory), nullStr(string(t.Priority)),
		nullStr(t.ResponsibleTeam), t.Status, formatTime(t.CreatedAt), resolvedAt, string(notes))
	return err
}

// Get returns a ticket by id.
func (d *DB) Get(ctx context.Context, id string) (*types.Ticket, error) {
	row := d.conn.QueryRowContext(ctx, d.q(`SELECT `+ticketColumns+` FROM tickets WHERE id = ?`), id)
	t, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ticket %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("ticket store: get: %w", err)
	}
	return t, nil
}

// FindByThread returns the tickets of a thread, final ticket first.
func (d *DB) FindByThread(ctx context.Context, threadID string, includeTemporary bool) ([]*types.Ticket, error) {
	tickets, err := d.findByThread(ctx, d.conn, threadID, includeTemporary)
	if err != nil {
		return nil, fmt.Errorf("ticket store: find by thread: %w", err)
	}
	return tickets, nil
}

func (d *DB) findByThread(ctx context.Context, x execer, threadID string, includeTemporary bool) ([]*types.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE thread_id = ?`
	if !includeTemporary {
		query += ` AND is_temporary = 0`
	}
	query += ` ORDER BY is_temporary, created_at DESC`

	rows, err := x.QueryContext(ctx, d.q(query), threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

// Delete removes a ticket.
func (d *DB) Delete(ctx context.Context, id string) error {
	res, err := d.conn.ExecContext(ctx, d.q(`DELETE FROM tickets WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("ticket store: delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("ticket %q: %w", id, ErrNotFound)
	}
	return nil
}

// ReplaceTemporary swaps the thread's temporary ticket for t atomically.
func (d *DB) ReplaceTemporary(ctx context.Context, t *types.Ticket) error {
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, d.q(`SELECT COUNT(*) FROM tickets WHERE thread_id = ? AND is_temporary = 0`),
			t.ThreadID).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return ErrFinalized
		}
		if _, err := tx.ExecContext(ctx, d.q(`DELETE FROM tickets WHERE thread_id = ? AND is_temporary = 1`),
			t.ThreadID); err != nil {
			return err
		}
		return d.putTicket(ctx, tx, t)
	})
	if err != nil {
		return fmt.Errorf("ticket store: replace temporary: %w", err)
	}
	return nil
}

// PromoteFinal writes the thread's final ticket unless one exists already.
func (d *DB) PromoteFinal(ctx context.Context, t *types.Ticket) (*types.Ticket, bool, error) {
	var (
		final   *types.Ticket
		created bool
	)
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := d.findByThread(ctx, tx, t.ThreadID, false)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			final = existing[0]
		} else {
			if err := d.putTicket(ctx, tx, t); err != nil {
				return err
			}
			final, created = t, true
		}
		_, err = tx.ExecContext(ctx, d.q(`DELETE FROM tickets WHERE thread_id = ? AND is_temporary = 1`), t.ThreadID)
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("ticket store: promote final: %w", err)
	}
	return final, created, nil
}

// List returns tickets matching the filter, newest first.
func (d *DB) List(ctx context.Context, f TicketFilter) ([]*types.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE 1=1`
	var args []any

	if !f.IncludeTemporary {
		query += ` AND is_temporary = 0`
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.Priority != types.TierUnresolved {
		query += ` AND priority = ?`
		args = append(args, string(f.Priority))
	}
	if f.ThreadID != "" {
		query += ` AND thread_id = ?`
		args = append(args, f.ThreadID)
	}
	query += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, f.Limit)
	}

	rows, err := d.conn.QueryContext(ctx, d.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("ticket store: list: %w", err)
	}
	defer rows.Close()
	tickets, err := scanTickets(rows)
	if err != nil {
		return nil, fmt.Errorf("ticket store: list scan: %w", err)
	}
	return tickets, nil
}

// UpdateStatus changes the status of a final ticket. Resolved and closed
// tickets get a resolved_at timestamp.
func (d *DB) UpdateStatus(ctx context.Context, id, status string) error {
	if !types.IsValidStatus(status) {
		return fmt.Errorf("invalid status %q", status)
	}
	var resolvedAt any
	if status == types.StatusResolved || status == types.StatusClosed {
		resolvedAt = Now()
	}
	res, err := d.conn.ExecContext(ctx,
		d.q(`UPDATE tickets SET status = ?, resolved_at = COALESCE(?, resolved_at) WHERE id = ? AND is_temporary = 0`),
		status, resolvedAt, id)
	if err != nil {
		return fmt.Errorf("ticket store: update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("ticket %q: %w", id, ErrNotFound)
	}
	return nil
}

// AddNote appends a note to a ticket.
func (d *DB) AddNote(ctx context.Context, id string, note types.Note) error {
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		var raw sql.NullString
		err := tx.QueryRowContext(ctx, d.q(`SELECT notes FROM tickets WHERE id = ?`), id).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("ticket %q: %w", id, ErrNotFound)
		}
		if err != nil {
			return err
		}
		var notes []types.Note
		if raw.Valid && raw.String != "" {
			json.Unmarshal([]byte(raw.String), &notes)
		}
		if note.At.IsZero() {
			note.At = time.Now().UTC()
		}
		notes = append(notes, note)
		data, err := json.Marshal(notes)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, d.q(`UPDATE tickets SET notes = ? WHERE id = ?`), string(data), id)
		return err
	})
	if err != nil {
		return fmt.Errorf("ticket store: add note: %w", err)
	}
	return nil
}

// Sequence returns the thread's sequence number, allocating one from the
// ticket counter if the thread has none yet.
func (d *DB) Sequence(ctx context.Context, threadID string) (types.ThreadSequence, error) {
	var seq types.ThreadSequence
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		found, err := d.selectSequence(ctx, tx, threadID, &seq)
		if err != nil || found {
			return err
		}

		var next int64
		if err := tx.QueryRowContext(ctx,
			`UPDATE counters SET value = value + 1 WHERE name = 'ticket' RETURNING value`).Scan(&next); err != nil {
			return fmt.Errorf("advance counter: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			d.q(`INSERT INTO thread_sequences (thread_id, sequence, assigned_at) VALUES (?, ?, ?)
				ON CONFLICT (thread_id) DO NOTHING`),
			threadID, next, Now()); err != nil {
			return err
		}
		found, err = d.selectSequence(ctx, tx, threadID, &seq)
		if err == nil && !found {
			err = fmt.Errorf("sequence for %q vanished", threadID)
		}
		return err
	})
	if err != nil {
		return types.ThreadSequence{}, fmt.Errorf("ticket store: sequence: %w", err)
	}
	return seq, nil
}

func (d *DB) selectSequence(ctx context.Context, x execer, threadID string, seq *types.ThreadSequence) (bool, error) {
	var assignedAt string
	err := x.QueryRowContext(ctx, d.q(`SELECT sequence, assigned_at FROM thread_sequences WHERE thread_id = ?`),
		threadID).Scan(&seq.Sequence, &assignedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	seq.ThreadID = threadID
	seq.AssignedAt = parseTime(assignedAt)
	return true, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTicket(s scannable) (*types.Ticket, error) {
	var t types.Ticket
	var isTemp int
	var stageLabel, name, email, location, category, description sql.NullString
	var candidates, resolvedSub, priority, team, resolvedAt, notes sql.NullString
	var createdAt string

	err := s.Scan(&t.ID, &t.ThreadID, &t.Sequence, &isTemp, &stageLabel,
		&name, &email, &location, &category, &description,
		&candidates, &resolvedSub, &priority, &team, &t.Status,
		&createdAt, &resolvedAt, &notes)
	if err != nil {
		return nil, err
	}

	t.IsTemporary = isTemp != 0
	t.StageLabel = stageLabel.String
	t.Requester = types.Requester{Name: name.String, Email: email.String, Location: location.String}
	t.Category = types.Category(category.String)
	t.Description = description.String
	t.ResolvedSubcategory = resolvedSub.String
	t.Priority = types.Tier(priority.String)
	t.ResponsibleTeam = team.String
	t.CreatedAt = parseTime(createdAt)
	if resolvedAt.Valid {
		ts := parseTime(resolvedAt.String)
		t.ResolvedAt = &ts
	}
	if candidates.Valid {
		json.Unmarshal([]byte(candidates.String), &t.Candidates)
	}
	if notes.Valid {
		json.Unmarshal([]byte(notes.String), &t.Notes)
	}
	return &t, nil
}

func scanTickets(rows *sql.Rows) ([]*types.Ticket, error) {
	var tickets []*types.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tandemsync/tandem/internal/types"
)

// DefaultMaxAttempts is the retry budget applied when an event is
// enqueued without one.
const DefaultMaxAttempts = 5

// EnqueueEvent inserts a pending outbox event in its own transaction.
//
// Prefer CreateTaskWithEvents / UpdateTaskStatusWithEvent: an event must
// commit atomically with the data it depends on, otherwise a crash between
// the two writes leaves a dangling task or an orphaned event. This
// standalone form exists for events whose referenced rows are already
// durable (operator-triggered conversions, re-sync commands).
func (db *DB) EnqueueEvent(ctx context.Context, ev *types.OutboxEvent) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		return enqueueEventTx(tx, ev)
	})
}

func enqueueEventTx(tx *sql.Tx, ev *types.OutboxEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Status == "" {
		ev.Status = types.OutboxPending
	}
	if ev.MaxAttempts <= 0 {
		ev.MaxAttempts = DefaultMaxAttempts
	}
	if ev.Type == "" {
		return &types.ValidationError{Field: "event_type", Reason: "is required"}
	}
	now := time.Now().UTC()
	ev.CreatedAt = now
	ev.UpdatedAt = now

	_, err := tx.Exec(`
	INSERT INTO outbox (
		id, event_type, payload, status, attempts, max_attempts,
		last_error, created_at, updated_at
	) VALUES (?, ?, ?, ?, 0, ?, '', ?, ?)`,
		ev.ID, string(ev.Type), string(ev.Payload), string(ev.Status),
		ev.MaxAttempts, now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue %s event: %w", ev.Type, err)
	}
	return nil
}

const outboxColumns = `id, event_type, payload, status, attempts,
	max_attempts, last_error, created_at, updated_at`

// GetPendingEvents returns up to limit strictly-pending events, oldest
// first. FIFO: within one task, a create enqueued before an update is
// always returned before it.
func (db *DB) GetPendingEvents(ctx context.Context, limit int) ([]*types.OutboxEvent, error) {
	rows, err := db.conn.QueryContext(ctx, `
	SELECT `+outboxColumns+`
	FROM outbox
	WHERE status = 'pending'
	ORDER BY created_at ASC, id ASC
	LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// GetEvent retrieves a single outbox event by ID.
func (db *DB) GetEvent(ctx context.Context, id string) (*types.OutboxEvent, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+outboxColumns+` FROM outbox WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("event %s: %w", id, types.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get event %s: %w", id, err)
	}
	return ev, nil
}

// MarkProcessing transitions a pending event to processing.
//
// The conditional update doubles as a lightweight lease: with concurrent
// batch runners, the first writer to flip the row wins and the second
// sees claimed=false and skips the event.
func (db *DB) MarkProcessing(ctx context.Context, id string) (claimed bool, err error) {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE outbox SET status = 'processing', updated_at = ? WHERE id = ? AND status = 'pending'`,
		nowString(), id)
	if err != nil {
		return false, fmt.Errorf("failed to mark event %s processing: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkSent transitions a processing event to its terminal success state.
func (db *DB) MarkSent(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE outbox SET status = 'sent', last_error = '', updated_at = ? WHERE id = ? AND status = 'processing'`,
		nowString(), id)
	if err != nil {
		return fmt.Errorf("failed to mark event %s sent: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("event %s not in processing state: %w", id, types.ErrNotFound)
	}
	return nil
}

// MarkFailed increments the attempt counter, records the error and puts
// the event back in failed state (retryable).
func (db *DB) MarkFailed(ctx context.Context, id string, cause error) error {
	return db.markAttemptResult(ctx, id, types.OutboxFailed, cause)
}

// MarkDead increments the attempt counter and dead-letters the event.
// Terminal: a dead event is never resurrected.
func (db *DB) MarkDead(ctx context.Context, id string, cause error) error {
	return db.markAttemptResult(ctx, id, types.OutboxDead, cause)
}

func (db *DB) markAttemptResult(ctx context.Context, id string, s types.OutboxStatus, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	res, err := db.conn.ExecContext(ctx, `
	UPDATE outbox
	SET status = ?, attempts = attempts + 1, last_error = ?, updated_at = ?
	WHERE id = ? AND status = 'processing'`,
		string(s), msg, nowString(), id)
	if err != nil {
		return fmt.Errorf("failed to mark event %s %s: %w", id, s, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("event %s not in processing state: %w", id, types.ErrNotFound)
	}
	return nil
}

// RetryFailed transitions up to limit failed events that still have
// retry budget back to pending and returns them. Dead events are never
// touched. This is operator-triggered, not automatic: the core retries
// only when the next batch runs or when an operator asks.
func (db *DB) RetryFailed(ctx context.Context, limit int) ([]*types.OutboxEvent, error) {
	var events []*types.OutboxEvent
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.Query(`
		SELECT `+outboxColumns+`
		FROM outbox
		WHERE status = 'failed' AND attempts < max_attempts
		ORDER BY created_at ASC, id ASC
		LIMIT ?`, limit)
		if err != nil {
			return fmt.Errorf("failed to query failed events: %w", err)
		}
		events, err = scanEvents(rows)
		rows.Close()
		if err != nil {
			return err
		}

		for _, ev := range events {
			if _, err := tx.Exec(
				`UPDATE outbox SET status = 'pending', updated_at = ? WHERE id = ?`,
				nowString(), ev.ID); err != nil {
				return fmt.Errorf("failed to retry event %s: %w", ev.ID, err)
			}
			ev.Status = types.OutboxPending
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// ResetStaleProcessing flips processing events older than maxAge back to
// pending without consuming retry budget, and returns how many rows were
// reset. A crashed batch leaves its in-flight event processing forever;
// the daemon runs this sweep at startup and on every drain tick. The age
// threshold keeps a second live process from stealing rows another batch
// is legitimately working on.
func (db *DB) ResetStaleProcessing(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge).Format(time.RFC3339)
	res, err := db.conn.ExecContext(ctx, `
	UPDATE outbox
	SET status = 'pending', updated_at = ?
	WHERE status = 'processing' AND updated_at < ?`,
		nowString(), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to reset stale processing events: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CountEventsByStatus returns the number of outbox events per status.
func (db *DB) CountEventsByStatus(ctx context.Context) (map[types.OutboxStatus]int, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM outbox GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	counts := map[types.OutboxStatus]int{}
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, fmt.Errorf("failed to scan event count: %w", err)
		}
		counts[types.OutboxStatus(s)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event counts: %w", err)
	}
	return counts, nil
}

func scanEvents(rows *sql.Rows) ([]*types.OutboxEvent, error) {
	var events []*types.OutboxEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

func scanEvent(row scanner) (*types.OutboxEvent, error) {
	var ev types.OutboxEvent
	var eventType, payload, status, createdAt, updatedAt string

	err := row.Scan(
		&ev.ID, &eventType, &payload, &status, &ev.Attempts,
		&ev.MaxAttempts, &ev.LastError, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	ev.Type = types.EventType(eventType)
	ev.Payload = []byte(payload)
	ev.Status = types.OutboxStatus(status)
	ev.CreatedAt = parseTime(createdAt)
	ev.UpdatedAt = parseTime(updatedAt)
	return &ev, nil
}

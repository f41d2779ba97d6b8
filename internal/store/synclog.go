package store

import (
	"context"
	"fmt"
	"time"

	"github.com/tandemsync/tandem/internal/types"
)

// AppendSyncLog writes one audit record. The log is append-only from the
// core's perspective; operators read it, nothing in the core mutates it.
func (db *DB) AppendSyncLog(ctx context.Context, e *types.SyncLogEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	res, err := db.conn.ExecContext(ctx, `
	INSERT INTO sync_log (direction, subject, subject_id, status, message, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`,
		e.Direction, e.Subject, e.SubjectID, e.Status, e.Message,
		e.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to append sync log: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

// RecentSyncLog returns the newest limit entries, newest first.
func (db *DB) RecentSyncLog(ctx context.Context, limit int) ([]*types.SyncLogEntry, error) {
	rows, err := db.conn.QueryContext(ctx, `
	SELECT id, direction, subject, subject_id, status, message, created_at
	FROM sync_log
	ORDER BY id DESC
	LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync log: %w", err)
	}
	defer rows.Close()

	var entries []*types.SyncLogEntry
	for rows.Next() {
		var e types.SyncLogEntry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Direction, &e.Subject, &e.SubjectID,
			&e.Status, &e.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan sync log entry: %w", err)
		}
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync log: %w", err)
	}
	return entries, nil
}

// SyncStats summarizes queue and task state for status displays.
type SyncStats struct {
	Tasks    int                        `json:"tasks"`
	Mappings int                        `json:"mappings"`
	Outbox   map[types.OutboxStatus]int `json:"outbox"`
	ByStatus map[types.Status]int       `json:"tasks_by_status"`
}

// GetSyncStats gathers counts across all four tables.
func (db *DB) GetSyncStats(ctx context.Context) (*SyncStats, error) {
	stats := &SyncStats{
		Outbox:   map[types.OutboxStatus]int{},
		ByStatus: map[types.Status]int{},
	}

	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&stats.Tasks); err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM mappings`).Scan(&stats.Mappings); err != nil {
		return nil, fmt.Errorf("failed to count mappings: %w", err)
	}

	counts, err := db.CountEventsByStatus(ctx)
	if err != nil {
		return nil, err
	}
	stats.Outbox = counts

	rows, err := db.conn.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, fmt.Errorf("failed to scan task count: %w", err)
		}
		stats.ByStatus[types.Status(s)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task counts: %w", err)
	}
	return stats, nil
}

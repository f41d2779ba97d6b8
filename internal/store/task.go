package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tandemsync/tandem/internal/types"
)

// CreateTask inserts a new task. Timestamps are filled in when zero.
func (db *DB) CreateTask(ctx context.Context, t *types.Task) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		return insertTaskTx(tx, t)
	})
}

// CreateTaskWithEvents inserts a task and enqueues its outbox events in a
// single transaction, so a crash can never leave a task without its
// intended side effects or an event referencing a task that was never
// written.
func (db *DB) CreateTaskWithEvents(ctx context.Context, t *types.Task, events []*types.OutboxEvent) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertTaskTx(tx, t); err != nil {
			return err
		}
		for _, ev := range events {
			if err := enqueueEventTx(tx, ev); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertTaskTx(tx *sql.Tx, t *types.Task) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	query := `
	INSERT INTO tasks (
		id, title, body, status, priority, source, assignee,
		due_at, progress, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := tx.Exec(query,
		t.ID,
		t.Title,
		t.Body,
		string(t.Status),
		t.Priority,
		t.Source,
		t.Assignee,
		timeToNullString(t.DueAt),
		t.Progress,
		t.CreatedAt.Format(time.RFC3339),
		t.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert task %s: %w", t.ID, err)
	}
	return nil
}

// GetTask retrieves a single task by ID.
// Returns types.ErrNotFound if the task does not exist.
func (db *DB) GetTask(ctx context.Context, id string) (*types.Task, error) {
	query := `
	SELECT id, title, body, status, priority, source, assignee,
	       due_at, progress, created_at, updated_at
	FROM tasks
	WHERE id = ?
	`
	t, err := scanTask(db.conn.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task %s: %w", id, types.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get task %s: %w", id, err)
	}
	return t, nil
}

// UpdateTask persists all mutable fields of a task and bumps updated_at.
func (db *DB) UpdateTask(ctx context.Context, t *types.Task) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}
	t.UpdatedAt = time.Now().UTC()

	query := `
	UPDATE tasks SET
		title = ?, body = ?, status = ?, priority = ?, source = ?,
		assignee = ?, due_at = ?, progress = ?, updated_at = ?
	WHERE id = ?
	`

	res, err := db.conn.ExecContext(ctx, query,
		t.Title, t.Body, string(t.Status), t.Priority, t.Source,
		t.Assignee, timeToNullString(t.DueAt), t.Progress,
		t.UpdatedAt.Format(time.RFC3339), t.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", t.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: %w", t.ID, types.ErrNotFound)
	}
	return nil
}

// UpdateTaskStatus sets only the status of a task.
func (db *DB) UpdateTaskStatus(ctx context.Context, id string, s types.Status) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		return updateTaskStatusTx(tx, id, s)
	})
}

// UpdateTaskStatusWithEvent sets a task's status and enqueues a
// propagation event in the same transaction. This is the change
// detector's reconciliation write.
func (db *DB) UpdateTaskStatusWithEvent(ctx context.Context, id string, s types.Status, ev *types.OutboxEvent) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := updateTaskStatusTx(tx, id, s); err != nil {
			return err
		}
		return enqueueEventTx(tx, ev)
	})
}

func updateTaskStatusTx(tx *sql.Tx, id string, s types.Status) error {
	if !s.Valid() {
		return &types.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", s)}
	}
	res, err := tx.Exec(
		`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
		string(s), nowString(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update status of task %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: %w", id, types.ErrNotFound)
	}
	return nil
}

// TaskFilter configures the ListTasks query.
type TaskFilter struct {
	// Status filters by canonical status (empty = all)
	Status types.Status
	// Assignee filters by assignee (empty = all)
	Assignee string
	// Limit restricts the number of results (0 = no limit)
	Limit int
}

// ListTasks retrieves tasks matching the filter, ordered by priority ASC
// (P0 first), then created_at ASC.
func (db *DB) ListTasks(ctx context.Context, filter TaskFilter) ([]*types.Task, error) {
	var conditions []string
	var args []interface{}

	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Assignee != "" {
		conditions = append(conditions, "assignee = ?")
		args = append(args, filter.Assignee)
	}

	query := `
	SELECT id, title, body, status, priority, source, assignee,
	       due_at, progress, created_at, updated_at
	FROM tasks
	`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY priority ASC, created_at ASC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*types.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

// scanner matches both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row scanner) (*types.Task, error) {
	var t types.Task
	var status, createdAt, updatedAt string
	var dueAt sql.NullString

	err := row.Scan(
		&t.ID, &t.Title, &t.Body, &status, &t.Priority, &t.Source,
		&t.Assignee, &dueAt, &t.Progress, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Status = types.Status(status)
	t.DueAt = nullStringToTime(dueAt)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}

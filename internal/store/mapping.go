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

// UpsertMapping creates or merges the mapping row for a task.
//
// At most one mapping exists per task: if a row already exists, non-zero
// fields of m overwrite it and zero fields preserve the stored values.
// This merge is the system's core idempotency guarantee — a handler that
// writes the same remote id twice, or two handlers that each link one
// remote side, always converge on a single row.
//
// The merged mapping is returned.
func (db *DB) UpsertMapping(ctx context.Context, m *types.Mapping) (*types.Mapping, error) {
	var out *types.Mapping
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := getMappingTx(tx, m.TaskID)
		if err != nil && !errors.Is(err, types.ErrNotFound) {
			return err
		}

		now := time.Now().UTC()

		if existing == nil {
			row := *m
			if row.ID == "" {
				row.ID = uuid.NewString()
			}
			if row.SyncState == "" {
				row.SyncState = types.SyncStatePending
			}
			row.CreatedAt = now
			row.UpdatedAt = now

			_, err := tx.Exec(`
			INSERT INTO mappings (
				id, task_id, issue_number, issue_repo, record_id,
				app_token, table_id, sync_state, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				row.ID, row.TaskID, row.IssueNumber, row.IssueRepo, row.RecordID,
				row.AppToken, row.TableID, string(row.SyncState),
				now.Format(time.RFC3339), now.Format(time.RFC3339),
			)
			if err != nil {
				return fmt.Errorf("failed to insert mapping for task %s: %w", row.TaskID, err)
			}
			out = &row
			return nil
		}

		merged := *existing
		if m.IssueNumber != 0 {
			merged.IssueNumber = m.IssueNumber
		}
		if m.IssueRepo != "" {
			merged.IssueRepo = m.IssueRepo
		}
		if m.RecordID != "" {
			merged.RecordID = m.RecordID
		}
		if m.AppToken != "" {
			merged.AppToken = m.AppToken
		}
		if m.TableID != "" {
			merged.TableID = m.TableID
		}
		if m.SyncState != "" {
			merged.SyncState = m.SyncState
		}
		merged.UpdatedAt = now

		_, err = tx.Exec(`
		UPDATE mappings SET
			issue_number = ?, issue_repo = ?, record_id = ?,
			app_token = ?, table_id = ?, sync_state = ?, updated_at = ?
		WHERE task_id = ?`,
			merged.IssueNumber, merged.IssueRepo, merged.RecordID,
			merged.AppToken, merged.TableID, string(merged.SyncState),
			now.Format(time.RFC3339), merged.TaskID,
		)
		if err != nil {
			return fmt.Errorf("failed to merge mapping for task %s: %w", merged.TaskID, err)
		}
		out = &merged
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

const mappingColumns = `id, task_id, issue_number, issue_repo, record_id,
	app_token, table_id, sync_state, created_at, updated_at`

// GetMapping retrieves the mapping for a task.
// Returns types.ErrNotFound if the task has no remote links yet.
func (db *DB) GetMapping(ctx context.Context, taskID string) (*types.Mapping, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+mappingColumns+` FROM mappings WHERE task_id = ?`, taskID)
	return scanMappingRow(row, "task "+taskID)
}

// GetMappingByIssue looks up the mapping that carries the given issue link.
func (db *DB) GetMappingByIssue(ctx context.Context, repo string, number int) (*types.Mapping, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+mappingColumns+` FROM mappings WHERE issue_repo = ? AND issue_number = ?`,
		repo, number)
	return scanMappingRow(row, fmt.Sprintf("issue %s#%d", repo, number))
}

// GetMappingByRecord looks up the mapping that carries the given record link.
func (db *DB) GetMappingByRecord(ctx context.Context, recordID string) (*types.Mapping, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+mappingColumns+` FROM mappings WHERE record_id = ?`, recordID)
	return scanMappingRow(row, "record "+recordID)
}

// ListMappings returns all mapping rows, oldest first.
func (db *DB) ListMappings(ctx context.Context) ([]*types.Mapping, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+mappingColumns+` FROM mappings ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list mappings: %w", err)
	}
	defer rows.Close()

	var mappings []*types.Mapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mapping: %w", err)
		}
		mappings = append(mappings, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mappings: %w", err)
	}
	return mappings, nil
}

// SetSyncState updates only the sync_state column of a task's mapping.
func (db *DB) SetSyncState(ctx context.Context, taskID string, s types.SyncState) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE mappings SET sync_state = ?, updated_at = ? WHERE task_id = ?`,
		string(s), nowString(), taskID)
	if err != nil {
		return fmt.Errorf("failed to set sync state for task %s: %w", taskID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mapping for task %s: %w", taskID, types.ErrNotFound)
	}
	return nil
}

func getMappingTx(tx *sql.Tx, taskID string) (*types.Mapping, error) {
	row := tx.QueryRow(`SELECT `+mappingColumns+` FROM mappings WHERE task_id = ?`, taskID)
	return scanMappingRow(row, "task "+taskID)
}

func scanMappingRow(row scanner, subject string) (*types.Mapping, error) {
	m, err := scanMapping(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("mapping for %s: %w", subject, types.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get mapping for %s: %w", subject, err)
	}
	return m, nil
}

func scanMapping(row scanner) (*types.Mapping, error) {
	var m types.Mapping
	var syncState, createdAt, updatedAt string

	err := row.Scan(
		&m.ID, &m.TaskID, &m.IssueNumber, &m.IssueRepo, &m.RecordID,
		&m.AppToken, &m.TableID, &syncState, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.SyncState = types.SyncState(syncState)
	m.CreatedAt = parseTime(createdAt)
	m.UpdatedAt = parseTime(updatedAt)
	return &m, nil
}

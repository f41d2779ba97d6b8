// Package types defines the core data model shared by the stores, the sync
// engine and the change detector: tasks, remote mappings, outbox events and
// sync log entries.
package types

import (
	"fmt"
	"time"
)

// Status is the canonical task status. Every free-form status coming from a
// remote system is normalized into one of these three values before it is
// persisted; no other value ever reaches the tasks table.
type Status string

const (
	StatusToDo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

// Valid reports whether s is one of the three canonical statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusToDo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// EventType identifies the remote side effect an outbox event represents.
// The set is closed: the engine dispatches over it with an exhaustive
// switch, and an unknown value is a programming error, not a retryable
// failure.
type EventType string

const (
	EventGitHubCreate         EventType = "github_create"
	EventGitHubUpdate         EventType = "github_update"
	EventGitHubClose          EventType = "github_close"
	EventBitableCreate        EventType = "bitable_create"
	EventBitableUpdate        EventType = "bitable_update"
	EventConvertIssueToRecord EventType = "convert_issue_to_record"
	EventConvertRecordToIssue EventType = "convert_record_to_issue"
)

// OutboxStatus is the queue state of an outbox event.
//
// Transitions are monotonic: pending→processing→sent on success, or
// pending→processing→failed→pending→…→dead after exhausting attempts.
// A sent or dead event is never resurrected.
type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "pending"
	OutboxProcessing OutboxStatus = "processing"
	OutboxSent       OutboxStatus = "sent"
	OutboxFailed     OutboxStatus = "failed"
	OutboxDead       OutboxStatus = "dead"
)

// IsTerminal returns true if no further state transitions are possible.
func (s OutboxStatus) IsTerminal() bool {
	return s == OutboxSent || s == OutboxDead
}

// SyncState is the per-mapping synchronization state.
type SyncState string

const (
	SyncStateSynced   SyncState = "synced"
	SyncStatePending  SyncState = "pending"
	SyncStateConflict SyncState = "conflict"
	SyncStateError    SyncState = "error"
)

// Task is the local canonical work item, the unit of synchronization.
type Task struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Body      string     `json:"body,omitempty"`
	Status    Status     `json:"status"`
	Priority  int        `json:"priority"` // 0-4 (P0=critical, P4=backlog)
	Source    string     `json:"source,omitempty"`
	Assignee  string     `json:"assignee,omitempty"`
	DueAt     *time.Time `json:"due_at,omitempty"`
	Progress  int        `json:"progress"` // 0-100
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Validate checks the Task invariants before it touches a store.
func (t *Task) Validate() error {
	if t.ID == "" {
		return &ValidationError{Field: "id", Reason: "is required"}
	}
	if t.Title == "" {
		return &ValidationError{Field: "title", Reason: "is required"}
	}
	if !t.Status.Valid() {
		return &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", t.Status)}
	}
	if t.Priority < 0 || t.Priority > 4 {
		return &ValidationError{Field: "priority", Reason: fmt.Sprintf("must be between 0 and 4 (got %d)", t.Priority)}
	}
	if t.Progress < 0 || t.Progress > 100 {
		return &ValidationError{Field: "progress", Reason: fmt.Sprintf("must be between 0 and 100 (got %d)", t.Progress)}
	}
	return nil
}

// Mapping links one Task to its identifiers in each remote system.
// At most one row exists per task; a second remote link for the same task
// merges into the existing row instead of inserting a duplicate.
type Mapping struct {
	ID          string    `json:"id"`
	TaskID      string    `json:"task_id"`
	IssueNumber int       `json:"issue_number,omitempty"` // 0 = no issue link
	IssueRepo   string    `json:"issue_repo,omitempty"`   // owner/repo
	RecordID    string    `json:"record_id,omitempty"`
	AppToken    string    `json:"app_token,omitempty"`
	TableID     string    `json:"table_id,omitempty"`
	SyncState   SyncState `json:"sync_state"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasIssue reports whether the mapping carries an issue-tracker link.
func (m *Mapping) HasIssue() bool { return m.IssueNumber > 0 }

// HasRecord reports whether the mapping carries a tabular-workspace link.
func (m *Mapping) HasRecord() bool { return m.RecordID != "" }

// OutboxEvent is a durable, at-least-once record of an intended remote
// side effect, created in the same transaction as the data it depends on.
type OutboxEvent struct {
	ID          string       `json:"id"`
	Type        EventType    `json:"type"`
	Payload     []byte       `json:"payload"` // JSON, see Payload in internal/engine
	Status      OutboxStatus `json:"status"`
	Attempts    int          `json:"attempts"`
	MaxAttempts int          `json:"max_attempts"`
	LastError   string       `json:"last_error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// SyncLogEntry is an append-only audit record of one sync engine or
// change detector action.
type SyncLogEntry struct {
	ID        int64     `json:"id"`
	Direction string    `json:"direction"` // e.g. "local->github", "bitable->local"
	Subject   string    `json:"subject"`   // "task", "issue", "record"
	SubjectID string    `json:"subject_id"`
	Status    string    `json:"status"` // "ok" or "error"
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

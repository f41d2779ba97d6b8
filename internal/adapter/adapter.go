// Package adapter defines the contracts the sync engine and change detector
// use to talk to the two remote systems. The core depends only on these
// interfaces; concrete HTTP clients live in the subpackages.
package adapter

import (
	"context"
	"time"
)

// Issue is the issue tracker's view of a work item.
type Issue struct {
	Number      int       `json:"number"`
	Title       string    `json:"title"`
	Body        string    `json:"body,omitempty"`
	State       string    `json:"state"` // open | closed
	StateReason string    `json:"state_reason,omitempty"`
	URL         string    `json:"html_url,omitempty"`
	Labels      []string  `json:"labels,omitempty"`
	Assignees   []string  `json:"assignees,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// IssueUpdate carries the optional fields of an issue update.
// Nil pointers mean "leave unchanged".
type IssueUpdate struct {
	Title       *string
	Body        *string
	State       *string
	StateReason *string
	Labels      []string
	Assignees   []string
}

// IssueTracker is the issue-tracker side of the sync.
// All calls are synchronous; the caller controls timeouts via ctx.
type IssueTracker interface {
	CreateIssue(ctx context.Context, title, body string, labels, assignees []string) (*Issue, error)
	UpdateIssue(ctx context.Context, number int, upd IssueUpdate) (*Issue, error)
	CloseIssue(ctx context.Context, number int) error
	GetIssue(ctx context.Context, number int) (*Issue, error)
	ListIssues(ctx context.Context, state string, labels []string) ([]*Issue, error)
}

// Record is one row in the tabular workspace.
type Record struct {
	ID     string         `json:"record_id"`
	Fields map[string]any `json:"fields"`
}

// Table describes one table in a tabular workspace app.
type Table struct {
	ID   string `json:"table_id"`
	Name string `json:"name"`
}

// TabularWorkspace is the tabular side of the sync.
type TabularWorkspace interface {
	CreateRecord(ctx context.Context, appToken, tableID string, fields map[string]any) (*Record, error)
	UpdateRecord(ctx context.Context, appToken, tableID, recordID string, fields map[string]any) (*Record, error)
	GetRecord(ctx context.Context, appToken, tableID, recordID string) (*Record, error)
	SearchRecords(ctx context.Context, appToken, tableID string, filter map[string]any) ([]*Record, error)
	ListTables(ctx context.Context, appToken string) ([]*Table, error)
}

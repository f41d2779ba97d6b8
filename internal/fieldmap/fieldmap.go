// Package fieldmap translates task fields into the field-name/value shape
// each remote system expects, and back. The remote table schema is
// configurable through FieldNames so different workspaces can be supported
// without code changes. All functions are pure: no network, no store access.
package fieldmap

import (
	"fmt"
	"strings"

	"github.com/tandemsync/tandem/internal/adapter"
	"github.com/tandemsync/tandem/internal/status"
	"github.com/tandemsync/tandem/internal/types"
)

// FieldNames maps logical task fields to the column names of the remote
// table. Empty names drop the field from the output.
type FieldNames struct {
	Title     string `mapstructure:"title"`
	Status    string `mapstructure:"status"`
	Assignee  string `mapstructure:"assignee"`
	Notes     string `mapstructure:"notes"`
	IssueLink string `mapstructure:"issue_link"`
	Progress  string `mapstructure:"progress"`
}

// DefaultFieldNames returns the column names used when no mapping is
// configured.
func DefaultFieldNames() FieldNames {
	return FieldNames{
		Title:     "Title",
		Status:    "Status",
		Assignee:  "Assignee",
		Notes:     "Notes",
		IssueLink: "GitHub Issue",
		Progress:  "Progress",
	}
}

// statusLabels are the display values written to the remote status column.
var statusLabels = map[types.Status]string{
	types.StatusToDo:       "To Do",
	types.StatusInProgress: "In Progress",
	types.StatusDone:       "Done",
}

// StatusLabel returns the human-readable label for a canonical status.
func StatusLabel(s types.Status) string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return statusLabels[types.StatusToDo]
}

// TaskToRecordFields builds the field map for creating or updating the
// tabular record that mirrors a task. issueURL, when non-empty, is written
// to the issue-link column so the record points back at the tracker.
func TaskToRecordFields(t *types.Task, n FieldNames, issueURL string) map[string]any {
	fields := map[string]any{}
	put(fields, n.Title, t.Title)
	put(fields, n.Status, StatusLabel(t.Status))
	if t.Assignee != "" {
		put(fields, n.Assignee, t.Assignee)
	}
	if t.Body != "" {
		put(fields, n.Notes, t.Body)
	}
	if issueURL != "" {
		put(fields, n.IssueLink, issueURL)
	}
	if t.Progress > 0 {
		put(fields, n.Progress, t.Progress)
	}
	return fields
}

// IssueToRecordFields builds the field map for a record created from an
// issue (the convert-issue-to-record path). Internal title prefixes are
// stripped before writing the remote title.
func IssueToRecordFields(iss *adapter.Issue, n FieldNames) map[string]any {
	fields := map[string]any{}
	put(fields, n.Title, StripTitlePrefix(iss.Title))
	put(fields, n.Status, StatusLabel(status.FromIssueState(iss.State, types.StatusToDo)))
	if len(iss.Assignees) > 0 {
		put(fields, n.Assignee, iss.Assignees[0])
	}
	if iss.Body != "" {
		put(fields, n.Notes, iss.Body)
	}
	if iss.URL != "" {
		put(fields, n.IssueLink, iss.URL)
	}
	return fields
}

// IssueFields is the result of translating a record into issue shape,
// used by the convert-record-to-issue path.
type IssueFields struct {
	Title       string
	Body        string
	State       string
	StateReason string
}

// RecordToIssueFields translates a tabular record into the fields of the
// issue that should mirror it. A record with no title produces a
// placeholder title so the remote create does not fail validation.
func RecordToIssueFields(rec *adapter.Record, n FieldNames) IssueFields {
	title := stringField(rec, n.Title)
	if title == "" {
		title = fmt.Sprintf("Untitled record %s", rec.ID)
	}

	st := status.Normalize(stringField(rec, n.Status))
	state, reason := status.ToIssueState(st)

	return IssueFields{
		Title:       title,
		Body:        stringField(rec, n.Notes),
		State:       state,
		StateReason: reason,
	}
}

// RecordStatus returns the raw value of a record's status column, for
// callers that normalize it themselves.
func RecordStatus(rec *adapter.Record, n FieldNames) string {
	return stringField(rec, n.Status)
}

// titlePrefixes are markers this system plants on titles it writes to a
// remote; they are stripped before the title crosses to the other remote.
var titlePrefixes = []string{"[tandem]", "[sync]"}

// StripTitlePrefix removes internal title prefixes like "[tandem] ".
func StripTitlePrefix(title string) string {
	out := strings.TrimSpace(title)
	for changed := true; changed; {
		changed = false
		for _, p := range titlePrefixes {
			if strings.HasPrefix(out, p) {
				out = strings.TrimSpace(strings.TrimPrefix(out, p))
				changed = true
			}
		}
	}
	return out
}

// put assigns value under name, skipping fields with no configured column.
func put(fields map[string]any, name string, value any) {
	if name != "" {
		fields[name] = value
	}
}

// stringField reads a string-valued column from a record, tolerating both
// plain strings and the rich-text []any shape some tabular APIs return.
func stringField(rec *adapter.Record, name string) string {
	if name == "" || rec == nil {
		return ""
	}
	switch v := rec.Fields[name].(type) {
	case string:
		return strings.TrimSpace(v)
	case []any:
		var b strings.Builder
		for _, part := range v {
			if m, ok := part.(map[string]any); ok {
				if s, ok := m["text"].(string); ok {
					b.WriteString(s)
				}
			} else if s, ok := part.(string); ok {
				b.WriteString(s)
			}
		}
		return strings.TrimSpace(b.String())
	default:
		return ""
	}
}

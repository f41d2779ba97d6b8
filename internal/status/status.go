// Package status canonicalizes free-form remote status strings into the
// three internal task statuses and converts between the internal vocabulary
// and each remote system's vocabulary. All functions are pure.
package status

import (
	"strings"

	"github.com/tandemsync/tandem/internal/types"
)

// Issue tracker states and state reasons (GitHub vocabulary).
const (
	IssueStateOpen   = "open"
	IssueStateClosed = "closed"

	ReasonCompleted = "completed"
	ReasonReopened  = "reopened"
)

var synonyms = map[string]types.Status{
	"todo":       types.StatusToDo,
	"new":        types.StatusToDo,
	"open":       types.StatusToDo,
	"pending":    types.StatusToDo,
	"inprogress": types.StatusInProgress,
	"doing":      types.StatusInProgress,
	"wip":        types.StatusInProgress,
	"working":    types.StatusInProgress,
	"done":       types.StatusDone,
	"completed":  types.StatusDone,
	"closed":     types.StatusDone,
	"finished":   types.StatusDone,
}

// Normalize maps a free-form status string to a canonical status.
// Matching is case-insensitive and ignores whitespace, hyphens and
// underscores, so "In-Progress", "in progress" and "WIP" all normalize to
// StatusInProgress. Unrecognized input defaults to StatusToDo.
func Normalize(raw string) types.Status {
	key := strings.ToLower(raw)
	key = strings.NewReplacer(" ", "", "-", "", "_", "", "\t", "").Replace(key)
	if s, ok := synonyms[key]; ok {
		return s
	}
	return types.StatusToDo
}

// ToIssueState converts a canonical status to the issue tracker's
// two-state vocabulary. The returned reason is empty for open issues.
func ToIssueState(s types.Status) (state, reason string) {
	if s == types.StatusDone {
		return IssueStateClosed, ReasonCompleted
	}
	return IssueStateOpen, ""
}

// FromIssueState converts an issue tracker state back to a canonical
// status. The tracker has only two states while the canonical model has
// three, so an open issue preserves InProgress when that was already the
// current local status; without this rule every poll would regress
// in-progress tasks back to todo.
func FromIssueState(state string, current types.Status) types.Status {
	if state == IssueStateClosed {
		return types.StatusDone
	}
	if current == types.StatusInProgress {
		return types.StatusInProgress
	}
	return types.StatusToDo
}

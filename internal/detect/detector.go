// Package detect closes the bidirectional loop: it polls both remote
// systems, compares each remote item's status to the locally mapped
// task's status, and reconciles divergence by updating the task and
// enqueueing an outbox event that propagates the new status to the other
// side.
//
// This is the only path by which a remote-originated change becomes a
// local task mutation. It is a poll, not a push - there is no webhook
// listener; callers invoke the checks on a schedule or on demand.
package detect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/tandemsync/tandem/internal/adapter"
	"github.com/tandemsync/tandem/internal/fieldmap"
	"github.com/tandemsync/tandem/internal/status"
	"github.com/tandemsync/tandem/internal/store"
	"github.com/tandemsync/tandem/internal/types"
)

// Change records one reconciled divergence for the caller to inspect.
type Change struct {
	TaskID string       `json:"task_id"`
	Source string       `json:"source"` // "github" or "bitable"
	Old    types.Status `json:"old"`
	New    types.Status `json:"new"`
}

// Options configures a Detector.
type Options struct {
	// Repo is the issue tracker repository the mappings refer to.
	Repo string
	// TrackingLabels filter the issue list to items this system manages.
	TrackingLabels []string
	// AppToken and TableID identify the tabular workspace table to scan.
	AppToken string
	TableID  string
	// Fields maps logical task fields to remote column names.
	Fields fieldmap.FieldNames
	// Logger for detector activity. Defaults to stderr.
	Logger *log.Logger
}

// Detector polls the remotes and reconciles status divergence.
type Detector struct {
	db      *store.DB
	tracker adapter.IssueTracker
	tabular adapter.TabularWorkspace
	opts    Options
}

// New creates a Detector over the given store and adapters.
func New(db *store.DB, tracker adapter.IssueTracker, tabular adapter.TabularWorkspace, opts Options) *Detector {
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[detect] ", log.LstdFlags)
	}
	if opts.Fields == (fieldmap.FieldNames{}) {
		opts.Fields = fieldmap.DefaultFieldNames()
	}
	return &Detector{db: db, tracker: tracker, tabular: tabular, opts: opts}
}

// CheckGitHubChanges lists tracked issues, reconciles any whose state
// diverged from the mapped task, and enqueues propagation to the tabular
// side. Unmapped issues are skipped; individual reconciliation failures
// are logged and do not stop the scan.
func (d *Detector) CheckGitHubChanges(ctx context.Context) ([]Change, error) {
	issues, err := d.tracker.ListIssues(ctx, "all", d.opts.TrackingLabels)
	if err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}

	var changes []Change
	for _, iss := range issues {
		m, err := d.db.GetMappingByIssue(ctx, d.opts.Repo, iss.Number)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				continue
			}
			return changes, err
		}

		task, err := d.db.GetTask(ctx, m.TaskID)
		if err != nil {
			d.opts.Logger.Printf("Warning: mapping %s points at missing task %s: %v", m.ID, m.TaskID, err)
			continue
		}

		remote := status.FromIssueState(iss.State, task.Status)
		if remote == task.Status {
			continue
		}

		ch := Change{TaskID: task.ID, Source: "github", Old: task.Status, New: remote}
		if err := d.reconcile(ctx, m, ch, types.EventBitableUpdate, m.HasRecord()); err != nil {
			d.opts.Logger.Printf("Warning: failed to reconcile task %s from issue #%d: %v", task.ID, iss.Number, err)
			continue
		}
		changes = append(changes, ch)
	}

	return changes, nil
}

// CheckBitableChanges is the tabular-side counterpart of
// CheckGitHubChanges: divergent records update the task and propagate to
// the issue tracker.
func (d *Detector) CheckBitableChanges(ctx context.Context) ([]Change, error) {
	records, err := d.tabular.SearchRecords(ctx, d.opts.AppToken, d.opts.TableID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to search records: %w", err)
	}

	var changes []Change
	for _, rec := range records {
		m, err := d.db.GetMappingByRecord(ctx, rec.ID)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				continue
			}
			return changes, err
		}

		task, err := d.db.GetTask(ctx, m.TaskID)
		if err != nil {
			d.opts.Logger.Printf("Warning: mapping %s points at missing task %s: %v", m.ID, m.TaskID, err)
			continue
		}

		raw := fieldmap.RecordStatus(rec, d.opts.Fields)
		if raw == "" {
			// No status column on this record; nothing to compare.
			continue
		}
		// The tabular status column carries the full three-state
		// vocabulary, so it normalizes directly - no preserve rule needed.
		remote := status.Normalize(raw)
		if remote == task.Status {
			continue
		}

		ch := Change{TaskID: task.ID, Source: "bitable", Old: task.Status, New: remote}
		if err := d.reconcile(ctx, m, ch, types.EventGitHubUpdate, m.HasIssue()); err != nil {
			d.opts.Logger.Printf("Warning: failed to reconcile task %s from record %s: %v", task.ID, rec.ID, err)
			continue
		}
		changes = append(changes, ch)
	}

	return changes, nil
}

// reconcile applies one detected change: the task status update and the
// propagation event commit in a single transaction. When the task has no
// link on the other side, only the status is updated.
func (d *Detector) reconcile(ctx context.Context, m *types.Mapping, ch Change, propagate types.EventType, hasTarget bool) error {
	if !hasTarget {
		if err := d.db.UpdateTaskStatus(ctx, ch.TaskID, ch.New); err != nil {
			return err
		}
	} else {
		payload, err := json.Marshal(map[string]string{"task_id": ch.TaskID})
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		ev := &types.OutboxEvent{Type: propagate, Payload: payload}
		if err := d.db.UpdateTaskStatusWithEvent(ctx, ch.TaskID, ch.New, ev); err != nil {
			return err
		}
	}

	entry := &types.SyncLogEntry{
		Direction: ch.Source + "->local",
		Subject:   "task",
		SubjectID: ch.TaskID,
		Status:    "ok",
		Message:   fmt.Sprintf("status %s -> %s", ch.Old, ch.New),
	}
	if err := d.db.AppendSyncLog(ctx, entry); err != nil {
		d.opts.Logger.Printf("Warning: failed to append sync log for task %s: %v", ch.TaskID, err)
	}

	d.opts.Logger.Printf("Reconciled task %s: %s -> %s (from %s)", ch.TaskID, ch.Old, ch.New, ch.Source)
	return nil
}

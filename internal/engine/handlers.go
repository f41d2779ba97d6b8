package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tandemsync/tandem/internal/adapter"
	"github.com/tandemsync/tandem/internal/fieldmap"
	"github.com/tandemsync/tandem/internal/status"
	"github.com/tandemsync/tandem/internal/types"
)

// Handlers are idempotent with respect to the mapping row: the mapping
// upsert merges duplicate remote-id writes into the single row per task,
// so re-running a handler after a crash between the remote call and the
// local commit converges instead of duplicating state.

func (e *Engine) decodePayload(ev *types.OutboxEvent) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return nil, fmt.Errorf("malformed payload for event %s: %w", ev.ID, err)
	}
	if p.TaskID == "" && ev.Type != types.EventConvertIssueToRecord && ev.Type != types.EventConvertRecordToIssue {
		return nil, &types.ValidationError{Field: "task_id", Reason: "is required"}
	}
	return &p, nil
}

func (e *Engine) handleGitHubCreate(ctx context.Context, ev *types.OutboxEvent) error {
	p, err := e.decodePayload(ev)
	if err != nil {
		return err
	}
	task, err := e.db.GetTask(ctx, p.TaskID)
	if err != nil {
		return err
	}

	labels := append(append([]string{}, e.opts.Labels...), p.Labels...)
	var assignees []string
	if task.Assignee != "" {
		assignees = []string{task.Assignee}
	}

	iss, err := e.tracker.CreateIssue(ctx, task.Title, task.Body, labels, assignees)
	if err != nil {
		return fmt.Errorf("failed to create issue for task %s: %w", task.ID, err)
	}

	_, err = e.db.UpsertMapping(ctx, &types.Mapping{
		TaskID:      task.ID,
		IssueNumber: iss.Number,
		IssueRepo:   e.opts.Repo,
		SyncState:   types.SyncStateSynced,
	})
	if err != nil {
		return err
	}

	// The issue tracker has only open/closed; a task created as done
	// needs an immediate close to match.
	if task.Status == types.StatusDone && iss.State == status.IssueStateOpen {
		if err := e.tracker.CloseIssue(ctx, iss.Number); err != nil {
			return fmt.Errorf("failed to close issue #%d for done task %s: %w", iss.Number, task.ID, err)
		}
	}

	e.opts.Logger.Printf("Created issue #%d for task %s", iss.Number, task.ID)
	return nil
}

func (e *Engine) handleGitHubUpdate(ctx context.Context, ev *types.OutboxEvent) error {
	p, err := e.decodePayload(ev)
	if err != nil {
		return err
	}
	task, err := e.db.GetTask(ctx, p.TaskID)
	if err != nil {
		return err
	}
	m, err := e.db.GetMapping(ctx, p.TaskID)
	if err != nil || !m.HasIssue() {
		return &types.MissingMappingError{TaskID: p.TaskID, Remote: "github"}
	}

	state, reason := status.ToIssueState(task.Status)
	upd := adapter.IssueUpdate{
		Title: &task.Title,
		Body:  &task.Body,
		State: &state,
	}
	if reason != "" {
		upd.StateReason = &reason
	}
	if task.Assignee != "" {
		upd.Assignees = []string{task.Assignee}
	}

	if _, err := e.tracker.UpdateIssue(ctx, m.IssueNumber, upd); err != nil {
		return fmt.Errorf("failed to update issue #%d for task %s: %w", m.IssueNumber, task.ID, err)
	}

	if err := e.db.SetSyncState(ctx, task.ID, types.SyncStateSynced); err != nil {
		return err
	}

	e.opts.Logger.Printf("Updated issue #%d for task %s", m.IssueNumber, task.ID)
	return nil
}

func (e *Engine) handleGitHubClose(ctx context.Context, ev *types.OutboxEvent) error {
	p, err := e.decodePayload(ev)
	if err != nil {
		return err
	}
	m, err := e.db.GetMapping(ctx, p.TaskID)
	if err != nil || !m.HasIssue() {
		return &types.MissingMappingError{TaskID: p.TaskID, Remote: "github"}
	}

	if err := e.tracker.CloseIssue(ctx, m.IssueNumber); err != nil {
		return fmt.Errorf("failed to close issue #%d for task %s: %w", m.IssueNumber, p.TaskID, err)
	}

	if err := e.db.SetSyncState(ctx, p.TaskID, types.SyncStateSynced); err != nil {
		return err
	}

	e.opts.Logger.Printf("Closed issue #%d for task %s", m.IssueNumber, p.TaskID)
	return nil
}

func (e *Engine) handleBitableCreate(ctx context.Context, ev *types.OutboxEvent) error {
	p, err := e.decodePayload(ev)
	if err != nil {
		return err
	}
	task, err := e.db.GetTask(ctx, p.TaskID)
	if err != nil {
		return err
	}

	appToken, tableID := e.tabularTarget(p)

	// Link back to the issue if the task already has one.
	issueURL := ""
	if m, err := e.db.GetMapping(ctx, task.ID); err == nil && m.HasIssue() {
		issueURL = issueHTMLURL(m.IssueRepo, m.IssueNumber)
	}

	fields := fieldmap.TaskToRecordFields(task, e.opts.Fields, issueURL)
	rec, err := e.tabular.CreateRecord(ctx, appToken, tableID, fields)
	if err != nil {
		return fmt.Errorf("failed to create record for task %s: %w", task.ID, err)
	}

	_, err = e.db.UpsertMapping(ctx, &types.Mapping{
		TaskID:    task.ID,
		RecordID:  rec.ID,
		AppToken:  appToken,
		TableID:   tableID,
		SyncState: types.SyncStateSynced,
	})
	if err != nil {
		return err
	}

	e.opts.Logger.Printf("Created record %s for task %s", rec.ID, task.ID)
	return nil
}

func (e *Engine) handleBitableUpdate(ctx context.Context, ev *types.OutboxEvent) error {
	p, err := e.decodePayload(ev)
	if err != nil {
		return err
	}
	task, err := e.db.GetTask(ctx, p.TaskID)
	if err != nil {
		return err
	}
	m, err := e.db.GetMapping(ctx, p.TaskID)
	if err != nil || !m.HasRecord() {
		return &types.MissingMappingError{TaskID: p.TaskID, Remote: "bitable"}
	}

	issueURL := ""
	if m.HasIssue() {
		issueURL = issueHTMLURL(m.IssueRepo, m.IssueNumber)
	}

	fields := fieldmap.TaskToRecordFields(task, e.opts.Fields, issueURL)
	if _, err := e.tabular.UpdateRecord(ctx, m.AppToken, m.TableID, m.RecordID, fields); err != nil {
		return fmt.Errorf("failed to update record %s for task %s: %w", m.RecordID, task.ID, err)
	}

	if err := e.db.SetSyncState(ctx, task.ID, types.SyncStateSynced); err != nil {
		return err
	}

	e.opts.Logger.Printf("Updated record %s for task %s", m.RecordID, task.ID)
	return nil
}

// handleConvertIssueToRecord mirrors an existing tracker issue into the
// tabular workspace and links both remote ids on the task's mapping.
func (e *Engine) handleConvertIssueToRecord(ctx context.Context, ev *types.OutboxEvent) error {
	p, err := e.decodePayload(ev)
	if err != nil {
		return err
	}
	if p.IssueNumber == 0 {
		return &types.ValidationError{Field: "issue_number", Reason: "is required"}
	}

	iss, err := e.tracker.GetIssue(ctx, p.IssueNumber)
	if err != nil {
		return fmt.Errorf("failed to fetch issue #%d: %w", p.IssueNumber, err)
	}

	appToken, tableID := e.tabularTarget(p)
	fields := fieldmap.IssueToRecordFields(iss, e.opts.Fields)
	rec, err := e.tabular.CreateRecord(ctx, appToken, tableID, fields)
	if err != nil {
		return fmt.Errorf("failed to create record from issue #%d: %w", p.IssueNumber, err)
	}

	if p.TaskID != "" {
		_, err = e.db.UpsertMapping(ctx, &types.Mapping{
			TaskID:      p.TaskID,
			IssueNumber: p.IssueNumber,
			IssueRepo:   e.opts.Repo,
			RecordID:    rec.ID,
			AppToken:    appToken,
			TableID:     tableID,
			SyncState:   types.SyncStateSynced,
		})
		if err != nil {
			return err
		}
	}

	e.opts.Logger.Printf("Converted issue #%d to record %s", p.IssueNumber, rec.ID)
	return nil
}

// handleConvertRecordToIssue mirrors an existing tabular record into the
// issue tracker.
func (e *Engine) handleConvertRecordToIssue(ctx context.Context, ev *types.OutboxEvent) error {
	p, err := e.decodePayload(ev)
	if err != nil {
		return err
	}
	if p.RecordID == "" {
		return &types.ValidationError{Field: "record_id", Reason: "is required"}
	}

	appToken, tableID := e.tabularTarget(p)
	rec, err := e.tabular.GetRecord(ctx, appToken, tableID, p.RecordID)
	if err != nil {
		return fmt.Errorf("failed to fetch record %s: %w", p.RecordID, err)
	}

	f := fieldmap.RecordToIssueFields(rec, e.opts.Fields)
	iss, err := e.tracker.CreateIssue(ctx, f.Title, f.Body, append([]string{}, e.opts.Labels...), nil)
	if err != nil {
		return fmt.Errorf("failed to create issue from record %s: %w", p.RecordID, err)
	}
	if f.State == status.IssueStateClosed {
		if err := e.tracker.CloseIssue(ctx, iss.Number); err != nil {
			return fmt.Errorf("failed to close issue #%d from record %s: %w", iss.Number, p.RecordID, err)
		}
	}

	if p.TaskID != "" {
		_, err = e.db.UpsertMapping(ctx, &types.Mapping{
			TaskID:      p.TaskID,
			IssueNumber: iss.Number,
			IssueRepo:   e.opts.Repo,
			RecordID:    p.RecordID,
			AppToken:    appToken,
			TableID:     tableID,
			SyncState:   types.SyncStateSynced,
		})
		if err != nil {
			return err
		}
	}

	e.opts.Logger.Printf("Converted record %s to issue #%d", p.RecordID, iss.Number)
	return nil
}

// tabularTarget resolves the workspace table an event writes to: payload
// overrides first, engine defaults otherwise.
func (e *Engine) tabularTarget(p *Payload) (appToken, tableID string) {
	appToken = p.AppToken
	if appToken == "" {
		appToken = e.opts.AppToken
	}
	tableID = p.TableID
	if tableID == "" {
		tableID = p.TargetTable
	}
	if tableID == "" {
		tableID = e.opts.TableID
	}
	return appToken, tableID
}

func issueHTMLURL(repo string, number int) string {
	if repo == "" || number == 0 {
		return ""
	}
	return fmt.Sprintf("https://github.com/%s/issues/%d", repo, number)
}

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tandemsync/tandem/internal/adapter"
	"github.com/tandemsync/tandem/internal/store"
	"github.com/tandemsync/tandem/internal/types"
)

// fakeTracker is an in-memory IssueTracker. Setting failWith makes every
// call fail, simulating a remote outage.
type fakeTracker struct {
	nextNumber int
	issues     map[int]*adapter.Issue
	failWith   error
	creates    int
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{nextNumber: 1, issues: map[int]*adapter.Issue{}}
}

func (f *fakeTracker) CreateIssue(_ context.Context, title, body string, labels, assignees []string) (*adapter.Issue, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.creates++
	iss := &adapter.Issue{
		Number:    f.nextNumber,
		Title:     title,
		Body:      body,
		State:     "open",
		Labels:    labels,
		Assignees: assignees,
		URL:       fmt.Sprintf("https://github.com/o/r/issues/%d", f.nextNumber),
	}
	f.issues[f.nextNumber] = iss
	f.nextNumber++
	return iss, nil
}

func (f *fakeTracker) UpdateIssue(_ context.Context, number int, upd adapter.IssueUpdate) (*adapter.Issue, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	iss, ok := f.issues[number]
	if !ok {
		return nil, fmt.Errorf("issue #%d not found", number)
	}
	if upd.Title != nil {
		iss.Title = *upd.Title
	}
	if upd.Body != nil {
		iss.Body = *upd.Body
	}
	if upd.State != nil {
		iss.State = *upd.State
	}
	if upd.StateReason != nil {
		iss.StateReason = *upd.StateReason
	}
	return iss, nil
}

func (f *fakeTracker) CloseIssue(_ context.Context, number int) error {
	if f.failWith != nil {
		return f.failWith
	}
	iss, ok := f.issues[number]
	if !ok {
		return fmt.Errorf("issue #%d not found", number)
	}
	iss.State = "closed"
	iss.StateReason = "completed"
	return nil
}

func (f *fakeTracker) GetIssue(_ context.Context, number int) (*adapter.Issue, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	iss, ok := f.issues[number]
	if !ok {
		return nil, fmt.Errorf("issue #%d not found", number)
	}
	return iss, nil
}

func (f *fakeTracker) ListIssues(_ context.Context, _ string, _ []string) ([]*adapter.Issue, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	var out []*adapter.Issue
	for _, iss := range f.issues {
		out = append(out, iss)
	}
	return out, nil
}

// fakeTabular is an in-memory TabularWorkspace.
type fakeTabular struct {
	nextID   int
	records  map[string]*adapter.Record
	failWith error
}

func newFakeTabular() *fakeTabular {
	return &fakeTabular{nextID: 1, records: map[string]*adapter.Record{}}
}

func (f *fakeTabular) CreateRecord(_ context.Context, _, _ string, fields map[string]any) (*adapter.Record, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	rec := &adapter.Record{ID: fmt.Sprintf("rec%d", f.nextID), Fields: fields}
	f.nextID++
	f.records[rec.ID] = rec
	return rec, nil
}

func (f *fakeTabular) UpdateRecord(_ context.Context, _, _, recordID string, fields map[string]any) (*adapter.Record, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	rec, ok := f.records[recordID]
	if !ok {
		return nil, fmt.Errorf("record %s not found", recordID)
	}
	for k, v := range fields {
		rec.Fields[k] = v
	}
	return rec, nil
}

func (f *fakeTabular) GetRecord(_ context.Context, _, _, recordID string) (*adapter.Record, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	rec, ok := f.records[recordID]
	if !ok {
		return nil, fmt.Errorf("record %s not found", recordID)
	}
	return rec, nil
}

func (f *fakeTabular) SearchRecords(_ context.Context, _, _ string, _ map[string]any) ([]*adapter.Record, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	var out []*adapter.Record
	for _, rec := range f.records {
		out = append(out, rec)
	}
	return out, nil
}

func (f *fakeTabular) ListTables(_ context.Context, _ string) ([]*adapter.Table, error) {
	return []*adapter.Table{{ID: "tbl1", Name: "Tasks"}}, nil
}

// fixture wires a fresh store, fakes and engine.
type fixture struct {
	db      *store.DB
	tracker *fakeTracker
	tabular *fakeTabular
	engine  *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.InitSchema(context.Background()))

	tracker := newFakeTracker()
	tabular := newFakeTabular()
	eng := New(db, tracker, tabular, Options{
		Repo:     "o/r",
		Labels:   []string{"tandem"},
		AppToken: "app",
		TableID:  "tbl1",
	})
	return &fixture{db: db, tracker: tracker, tabular: tabular, engine: eng}
}

func (fx *fixture) createTask(t *testing.T, title string, events ...types.EventType) *types.Task {
	t.Helper()
	task := &types.Task{ID: uuid.NewString(), Title: title, Status: types.StatusToDo, Priority: 2}
	var evs []*types.OutboxEvent
	for _, typ := range events {
		payload, err := json.Marshal(Payload{TaskID: task.ID})
		require.NoError(t, err)
		evs = append(evs, &types.OutboxEvent{Type: typ, Payload: payload})
	}
	require.NoError(t, fx.db.CreateTaskWithEvents(context.Background(), task, evs))
	return task
}

// TestProcessBatch_CreateAndSync covers the create+sync scenario: the
// first batch creates the issue and the mapping; the second batch has
// nothing to do.
func TestProcessBatch_CreateAndSync(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	task := fx.createTask(t, "Fix bug", types.EventGitHubCreate)

	n, err := fx.engine.ProcessBatch(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, fx.tracker.creates)

	m, err := fx.db.GetMapping(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, m.IssueNumber)
	assert.Equal(t, "o/r", m.IssueRepo)
	assert.Equal(t, types.SyncStateSynced, m.SyncState)

	// No new events: nothing processed, no duplicate remote create.
	n, err = fx.engine.ProcessBatch(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, fx.tracker.creates)
}

// TestProcessBatch_BothSides drains a github create followed by a bitable
// create for the same task, and expects one merged mapping row linking
// both remotes, with the record's issue-link column populated.
func TestProcessBatch_BothSides(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	task := fx.createTask(t, "Fix bug", types.EventGitHubCreate, types.EventBitableCreate)

	n, err := fx.engine.ProcessBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	m, err := fx.db.GetMapping(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, m.HasIssue())
	assert.True(t, m.HasRecord())

	rec := fx.tabular.records[m.RecordID]
	require.NotNil(t, rec)
	assert.Equal(t, "Fix bug", rec.Fields["Title"])
	assert.Equal(t, "https://github.com/o/r/issues/1", rec.Fields["GitHub Issue"])
}

// TestProcessBatch_DeadLetterBoundary verifies an event with
// max_attempts=3 dies exactly on the 3rd failure.
func TestProcessBatch_DeadLetterBoundary(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	task := &types.Task{ID: uuid.NewString(), Title: "Doomed", Status: types.StatusToDo, Priority: 2}
	payload, _ := json.Marshal(Payload{TaskID: task.ID})
	ev := &types.OutboxEvent{Type: types.EventGitHubCreate, Payload: payload, MaxAttempts: 3}
	require.NoError(t, fx.db.CreateTaskWithEvents(ctx, task, []*types.OutboxEvent{ev}))

	fx.tracker.failWith = fmt.Errorf("upstream 503")

	for attempt := 1; attempt <= 3; attempt++ {
		if attempt > 1 {
			_, err := fx.db.RetryFailed(ctx, 10)
			require.NoError(t, err)
		}
		_, err := fx.engine.ProcessBatch(ctx, 10)
		require.NoError(t, err)

		got, err := fx.db.GetEvent(ctx, ev.ID)
		require.NoError(t, err)
		assert.Equal(t, attempt, got.Attempts)
		if attempt < 3 {
			assert.Equal(t, types.OutboxFailed, got.Status, "attempt %d", attempt)
		} else {
			assert.Equal(t, types.OutboxDead, got.Status)
		}
	}

	// Dead is terminal: operator retry does not resurrect it.
	retried, err := fx.db.RetryFailed(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, retried)
}

// TestProcessBatch_BatchIsolation verifies one failing event does not
// prevent the rest of the batch from being processed.
func TestProcessBatch_BatchIsolation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	good1 := fx.createTask(t, "Good one", types.EventGitHubCreate)
	// Update with no mapping: validation failure inside the handler.
	fx.createTask(t, "Bad apple", types.EventGitHubUpdate)
	good2 := fx.createTask(t, "Good two", types.EventGitHubCreate)

	n, err := fx.engine.ProcessBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, task := range []*types.Task{good1, good2} {
		m, err := fx.db.GetMapping(ctx, task.ID)
		require.NoError(t, err, "task %s should be mapped", task.Title)
		assert.True(t, m.HasIssue())
	}

	counts, err := fx.db.CountEventsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[types.OutboxSent])
	assert.Equal(t, 1, counts[types.OutboxFailed])
}

// TestProcessBatch_UnknownType verifies the closed dispatch set fails
// fast on a type no handler covers.
func TestProcessBatch_UnknownType(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	ev := &types.OutboxEvent{Type: "carrier_pigeon", Payload: []byte(`{"task_id":"t-1"}`)}
	require.NoError(t, fx.db.EnqueueEvent(ctx, ev))

	_, err := fx.engine.ProcessBatch(ctx, 10)
	var unknown *types.UnknownEventTypeError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, types.EventType("carrier_pigeon"), unknown.Type)
}

// TestProcessBatch_Monotonic observes an event's status over repeated
// batches and retries: it must follow pending→processing→failed→pending→…
// and never leave a terminal state.
func TestProcessBatch_Monotonic(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	task := fx.createTask(t, "Flaky", types.EventGitHubCreate)
	pending, err := fx.db.GetPendingEvents(ctx, 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	evID := pending[0].ID

	fx.tracker.failWith = fmt.Errorf("flaky network")
	_, err = fx.engine.ProcessBatch(ctx, 10)
	require.NoError(t, err)
	got, _ := fx.db.GetEvent(ctx, evID)
	assert.Equal(t, types.OutboxFailed, got.Status)

	// Outage over; operator retries, next batch succeeds.
	fx.tracker.failWith = nil
	_, err = fx.db.RetryFailed(ctx, 10)
	require.NoError(t, err)
	_, err = fx.engine.ProcessBatch(ctx, 10)
	require.NoError(t, err)

	got, _ = fx.db.GetEvent(ctx, evID)
	assert.Equal(t, types.OutboxSent, got.Status)
	assert.Equal(t, 1, got.Attempts)

	m, err := fx.db.GetMapping(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, m.HasIssue())
}

// TestHandleGitHubUpdate_PropagatesStatus tests that an update pushes the
// task status into the tracker vocabulary.
func TestHandleGitHubUpdate_PropagatesStatus(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	task := fx.createTask(t, "Close me", types.EventGitHubCreate)
	_, err := fx.engine.ProcessBatch(ctx, 10)
	require.NoError(t, err)

	payload, _ := json.Marshal(Payload{TaskID: task.ID})
	require.NoError(t, fx.db.UpdateTaskStatusWithEvent(ctx, task.ID, types.StatusDone,
		&types.OutboxEvent{Type: types.EventGitHubUpdate, Payload: payload}))

	_, err = fx.engine.ProcessBatch(ctx, 10)
	require.NoError(t, err)

	iss := fx.tracker.issues[1]
	assert.Equal(t, "closed", iss.State)
	assert.Equal(t, "completed", iss.StateReason)
}

// TestHandleConvertRecordToIssue tests the record→issue conversion path,
// including closing the new issue when the record says done.
func TestHandleConvertRecordToIssue(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	rec, err := fx.tabular.CreateRecord(ctx, "app", "tbl1", map[string]any{
		"Title":  "Imported row",
		"Status": "Done",
		"Notes":  "came from the table",
	})
	require.NoError(t, err)

	task := fx.createTask(t, "Imported row")
	payload, _ := json.Marshal(Payload{TaskID: task.ID, RecordID: rec.ID})
	require.NoError(t, fx.db.EnqueueEvent(ctx, &types.OutboxEvent{
		Type: types.EventConvertRecordToIssue, Payload: payload,
	}))

	_, err = fx.engine.ProcessBatch(ctx, 10)
	require.NoError(t, err)

	iss := fx.tracker.issues[1]
	require.NotNil(t, iss)
	assert.Equal(t, "Imported row", iss.Title)
	assert.Equal(t, "closed", iss.State)

	m, err := fx.db.GetMapping(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, m.IssueNumber)
	assert.Equal(t, rec.ID, m.RecordID)
}

// TestHandleConvertIssueToRecord tests the issue→record conversion path
// with prefix stripping.
func TestHandleConvertIssueToRecord(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	iss, err := fx.tracker.CreateIssue(ctx, "[tandem] Tracked issue", "body", nil, nil)
	require.NoError(t, err)

	task := fx.createTask(t, "Tracked issue")
	payload, _ := json.Marshal(Payload{TaskID: task.ID, IssueNumber: iss.Number})
	require.NoError(t, fx.db.EnqueueEvent(ctx, &types.OutboxEvent{
		Type: types.EventConvertIssueToRecord, Payload: payload,
	}))

	_, err = fx.engine.ProcessBatch(ctx, 10)
	require.NoError(t, err)

	m, err := fx.db.GetMapping(ctx, task.ID)
	require.NoError(t, err)
	require.True(t, m.HasRecord())

	rec := fx.tabular.records[m.RecordID]
	assert.Equal(t, "Tracked issue", rec.Fields["Title"])
}

// TestProcessBatch_AppendsSyncLog checks both success and failure leave
// an audit trail.
func TestProcessBatch_AppendsSyncLog(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.createTask(t, "Logged", types.EventGitHubCreate)
	fx.tracker.failWith = errors.New("down")
	_, err := fx.engine.ProcessBatch(ctx, 10)
	require.NoError(t, err)

	entries, err := fx.db.RecentSyncLog(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "error", entries[0].Status)
	assert.Equal(t, "local->github", entries[0].Direction)

	fx.tracker.failWith = nil
	_, err = fx.db.RetryFailed(ctx, 10)
	require.NoError(t, err)
	_, err = fx.engine.ProcessBatch(ctx, 10)
	require.NoError(t, err)

	entries, err = fx.db.RecentSyncLog(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "ok", entries[0].Status)
}

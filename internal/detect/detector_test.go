package detect

import (
	"context"
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

// stubTracker serves a fixed issue list.
type stubTracker struct {
	issues []*adapter.Issue
}

func (s *stubTracker) CreateIssue(context.Context, string, string, []string, []string) (*adapter.Issue, error) {
	return nil, fmt.Errorf("not implemented")
}
func (s *stubTracker) UpdateIssue(context.Context, int, adapter.IssueUpdate) (*adapter.Issue, error) {
	return nil, fmt.Errorf("not implemented")
}
func (s *stubTracker) CloseIssue(context.Context, int) error { return fmt.Errorf("not implemented") }
func (s *stubTracker) GetIssue(context.Context, int) (*adapter.Issue, error) {
	return nil, fmt.Errorf("not implemented")
}
func (s *stubTracker) ListIssues(context.Context, string, []string) ([]*adapter.Issue, error) {
	return s.issues, nil
}

// stubTabular serves a fixed record list.
type stubTabular struct {
	records []*adapter.Record
}

func (s *stubTabular) CreateRecord(context.Context, string, string, map[string]any) (*adapter.Record, error) {
	return nil, fmt.Errorf("not implemented")
}
func (s *stubTabular) UpdateRecord(context.Context, string, string, string, map[string]any) (*adapter.Record, error) {
	return nil, fmt.Errorf("not implemented")
}
func (s *stubTabular) GetRecord(context.Context, string, string, string) (*adapter.Record, error) {
	return nil, fmt.Errorf("not implemented")
}
func (s *stubTabular) SearchRecords(context.Context, string, string, map[string]any) ([]*adapter.Record, error) {
	return s.records, nil
}
func (s *stubTabular) ListTables(context.Context, string) ([]*adapter.Table, error) {
	return nil, fmt.Errorf("not implemented")
}

func testStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.InitSchema(context.Background()))
	return db
}

// seedTask creates a task with the given status and a mapping carrying
// the requested remote links.
func seedTask(t *testing.T, db *store.DB, s types.Status, issueNumber int, recordID string) *types.Task {
	t.Helper()
	ctx := context.Background()
	task := &types.Task{ID: uuid.NewString(), Title: "Seeded", Status: s, Priority: 2}
	require.NoError(t, db.CreateTask(ctx, task))

	m := &types.Mapping{TaskID: task.ID}
	if issueNumber > 0 {
		m.IssueNumber = issueNumber
		m.IssueRepo = "o/r"
	}
	if recordID != "" {
		m.RecordID = recordID
		m.AppToken = "app"
		m.TableID = "tbl1"
	}
	_, err := db.UpsertMapping(ctx, m)
	require.NoError(t, err)
	return task
}

// TestCheckGitHubChanges_Convergence covers the divergence scenario: a
// todo task whose issue was closed remotely converges to done, and
// exactly one event propagates the change to the tabular side.
func TestCheckGitHubChanges_Convergence(t *testing.T) {
	db := testStore(t)
	ctx := context.Background()

	task := seedTask(t, db, types.StatusToDo, 7, "rec7")
	tracker := &stubTracker{issues: []*adapter.Issue{{Number: 7, State: "closed"}}}

	d := New(db, tracker, &stubTabular{}, Options{Repo: "o/r"})
	changes, err := d.CheckGitHubChanges(ctx)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, Change{TaskID: task.ID, Source: "github", Old: types.StatusToDo, New: types.StatusDone}, changes[0])

	got, err := db.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusDone, got.Status)

	pending, err := db.GetPendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, types.EventBitableUpdate, pending[0].Type)
}

// TestCheckGitHubChanges_PreservesInProgress verifies an open issue does
// not regress an in-progress task.
func TestCheckGitHubChanges_PreservesInProgress(t *testing.T) {
	db := testStore(t)
	ctx := context.Background()

	seedTask(t, db, types.StatusInProgress, 7, "rec7")
	tracker := &stubTracker{issues: []*adapter.Issue{{Number: 7, State: "open"}}}

	d := New(db, tracker, &stubTabular{}, Options{Repo: "o/r"})
	changes, err := d.CheckGitHubChanges(ctx)
	require.NoError(t, err)
	assert.Empty(t, changes)

	pending, err := db.GetPendingEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

// TestCheckGitHubChanges_SkipsUnmapped verifies issues with no local
// mapping are ignored.
func TestCheckGitHubChanges_SkipsUnmapped(t *testing.T) {
	db := testStore(t)
	tracker := &stubTracker{issues: []*adapter.Issue{{Number: 99, State: "closed"}}}

	d := New(db, tracker, &stubTabular{}, Options{Repo: "o/r"})
	changes, err := d.CheckGitHubChanges(context.Background())
	require.NoError(t, err)
	assert.Empty(t, changes)
}

// TestCheckGitHubChanges_NoRecordLink verifies a task without a tabular
// link is updated locally without enqueueing a propagation event.
func TestCheckGitHubChanges_NoRecordLink(t *testing.T) {
	db := testStore(t)
	ctx := context.Background()

	task := seedTask(t, db, types.StatusToDo, 7, "")
	tracker := &stubTracker{issues: []*adapter.Issue{{Number: 7, State: "closed"}}}

	d := New(db, tracker, &stubTabular{}, Options{Repo: "o/r"})
	changes, err := d.CheckGitHubChanges(ctx)
	require.NoError(t, err)
	require.Len(t, changes, 1)

	got, err := db.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusDone, got.Status)

	pending, err := db.GetPendingEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "no propagation target, no event")
}

// TestCheckBitableChanges_Convergence covers the tabular-side poll: a
// record moved to In Progress pulls the task forward and propagates to
// the tracker.
func TestCheckBitableChanges_Convergence(t *testing.T) {
	db := testStore(t)
	ctx := context.Background()

	task := seedTask(t, db, types.StatusToDo, 7, "rec7")
	tabular := &stubTabular{records: []*adapter.Record{
		{ID: "rec7", Fields: map[string]any{"Status": "In Progress"}},
	}}

	d := New(db, &stubTracker{}, tabular, Options{Repo: "o/r", AppToken: "app", TableID: "tbl1"})
	changes, err := d.CheckBitableChanges(ctx)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, types.StatusInProgress, changes[0].New)

	got, err := db.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusInProgress, got.Status)

	pending, err := db.GetPendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, types.EventGitHubUpdate, pending[0].Type)
}

// TestCheckBitableChanges_NoStatusColumn verifies records without a
// status value are skipped rather than treated as todo.
func TestCheckBitableChanges_NoStatusColumn(t *testing.T) {
	db := testStore(t)

	seedTask(t, db, types.StatusDone, 0, "rec7")
	tabular := &stubTabular{records: []*adapter.Record{
		{ID: "rec7", Fields: map[string]any{"Title": "no status here"}},
	}}

	d := New(db, &stubTracker{}, tabular, Options{})
	changes, err := d.CheckBitableChanges(context.Background())
	require.NoError(t, err)
	assert.Empty(t, changes)
}

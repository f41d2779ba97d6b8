package importer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/tandemsync/tandem/internal/store"
	"github.com/tandemsync/tandem/internal/taskfile"
	"github.com/tandemsync/tandem/internal/types"
)

func testStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return db
}

// TestImportFile tests that a drop file becomes a task plus its sync
// events, and the file is consumed.
func TestImportFile(t *testing.T) {
	db := testStore(t)
	ctx := context.Background()
	dir := t.TempDir()

	f := &taskfile.TaskFile{Title: "Dropped", Status: "todo", SyncGitHub: true, SyncBitable: true}
	if err := taskfile.Write(dir, f); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, f.ID+".json")

	imp := New(db, nil)
	task, err := imp.ImportFile(ctx, path)
	if err != nil {
		t.Fatalf("ImportFile() failed: %v", err)
	}

	got, err := db.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask() failed: %v", err)
	}
	if got.Source != "import" {
		t.Errorf("Source = %q, want import", got.Source)
	}

	pending, err := db.GetPendingEvents(ctx, 10)
	if err != nil {
		t.Fatalf("GetPendingEvents() failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}
	if pending[0].Type != types.EventGitHubCreate || pending[1].Type != types.EventBitableCreate {
		t.Errorf("event types = %s, %s", pending[0].Type, pending[1].Type)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("imported file was not removed")
	}
}

// TestImportDir tests the counts and that a bad file doesn't stop the run.
func TestImportDir(t *testing.T) {
	db := testStore(t)
	dir := t.TempDir()

	for _, title := range []string{"One", "Two"} {
		if err := taskfile.Write(dir, &taskfile.TaskFile{Title: title, SyncGitHub: true}); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "bad.json"), []byte(`{`), 0644); err != nil {
		t.Fatal(err)
	}

	imp := New(db, nil)
	imported, failed, err := imp.ImportDir(context.Background(), dir)
	if err != nil {
		t.Fatalf("ImportDir() failed: %v", err)
	}
	if imported != 2 || failed != 1 {
		t.Errorf("ImportDir() = (%d, %d), want (2, 1)", imported, failed)
	}

	tasks, err := db.ListTasks(context.Background(), store.TaskFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 2 {
		t.Errorf("tasks = %d, want 2", len(tasks))
	}
}

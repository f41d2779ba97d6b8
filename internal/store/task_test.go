package store

import (
	"context"
	"errors"
	"testing"

	"github.com/tandemsync/tandem/internal/types"
)

// TestCreateTask_AndGet tests the basic round trip.
func TestCreateTask_AndGet(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	task := newTask("Fix bug")
	task.Body = "details"
	task.Assignee = "kim"
	task.Progress = 25

	if err := db.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}

	got, err := db.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask() failed: %v", err)
	}
	if got.Title != "Fix bug" || got.Body != "details" || got.Assignee != "kim" || got.Progress != 25 {
		t.Errorf("GetTask() = %+v", got)
	}
	if got.Status != types.StatusToDo {
		t.Errorf("Status = %q, want todo", got.Status)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps not filled in")
	}
}

// TestCreateTask_Invalid tests that validation rejects bad tasks.
func TestCreateTask_Invalid(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	cases := []struct {
		name string
		mut  func(*types.Task)
	}{
		{"empty title", func(t *types.Task) { t.Title = "" }},
		{"bad status", func(t *types.Task) { t.Status = "urgent" }},
		{"priority out of range", func(t *types.Task) { t.Priority = 9 }},
		{"progress out of range", func(t *types.Task) { t.Progress = 150 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			task := newTask("Valid title")
			tc.mut(task)
			err := db.CreateTask(ctx, task)
			var verr *types.ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("CreateTask() error = %v, want ValidationError", err)
			}
		})
	}
}

// TestGetTask_NotFound tests the typed not-found error.
func TestGetTask_NotFound(t *testing.T) {
	db := testDB(t)
	_, err := db.GetTask(context.Background(), "missing")
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("GetTask() error = %v, want ErrNotFound", err)
	}
}

// TestUpdateTaskStatus tests the status-only update.
func TestUpdateTaskStatus(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	task := newTask("Move me")
	if err := db.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}

	if err := db.UpdateTaskStatus(ctx, task.ID, types.StatusDone); err != nil {
		t.Fatalf("UpdateTaskStatus() failed: %v", err)
	}

	got, err := db.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask() failed: %v", err)
	}
	if got.Status != types.StatusDone {
		t.Errorf("Status = %q, want done", got.Status)
	}

	if err := db.UpdateTaskStatus(ctx, "missing", types.StatusDone); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("UpdateTaskStatus(missing) error = %v, want ErrNotFound", err)
	}
}

// TestCreateTaskWithEvents_Atomic tests that the task and its events
// commit together - and roll back together on failure.
func TestCreateTaskWithEvents_Atomic(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	task := newTask("Atomic")
	events := []*types.OutboxEvent{
		{Type: types.EventGitHubCreate, Payload: []byte(`{"task_id":"` + task.ID + `"}`)},
		{Type: types.EventBitableCreate, Payload: []byte(`{"task_id":"` + task.ID + `"}`)},
	}
	if err := db.CreateTaskWithEvents(ctx, task, events); err != nil {
		t.Fatalf("CreateTaskWithEvents() failed: %v", err)
	}

	pending, err := db.GetPendingEvents(ctx, 10)
	if err != nil {
		t.Fatalf("GetPendingEvents() failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}

	// An event with no type fails validation and must roll back the task.
	bad := newTask("Rollback")
	err = db.CreateTaskWithEvents(ctx, bad, []*types.OutboxEvent{{Payload: []byte(`{}`)}})
	if err == nil {
		t.Fatal("CreateTaskWithEvents() with invalid event succeeded")
	}
	if _, err := db.GetTask(ctx, bad.ID); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("task persisted despite rollback: %v", err)
	}
}

// TestListTasks_FilterAndOrder tests filtering and priority ordering.
func TestListTasks_FilterAndOrder(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	low := newTask("Backlog item")
	low.Priority = 4
	urgent := newTask("Production down")
	urgent.Priority = 0
	done := newTask("Old work")
	done.Status = types.StatusDone

	for _, task := range []*types.Task{low, urgent, done} {
		if err := db.CreateTask(ctx, task); err != nil {
			t.Fatalf("CreateTask() failed: %v", err)
		}
	}

	todos, err := db.ListTasks(ctx, TaskFilter{Status: types.StatusToDo})
	if err != nil {
		t.Fatalf("ListTasks() failed: %v", err)
	}
	if len(todos) != 2 {
		t.Fatalf("ListTasks(todo) = %d tasks, want 2", len(todos))
	}
	if todos[0].ID != urgent.ID {
		t.Errorf("first task = %q, want the P0 task", todos[0].Title)
	}

	all, err := db.ListTasks(ctx, TaskFilter{})
	if err != nil {
		t.Fatalf("ListTasks() failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("ListTasks() = %d tasks, want 3", len(all))
	}
}

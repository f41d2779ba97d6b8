// Package importer turns task drop-files into stored tasks and their
// outbox events, one transaction per file. It is shared by the import
// command and the daemon's drop-directory watcher.
package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/tandemsync/tandem/internal/engine"
	"github.com/tandemsync/tandem/internal/store"
	"github.com/tandemsync/tandem/internal/taskfile"
	"github.com/tandemsync/tandem/internal/types"
)

// Importer reads task files and persists them.
type Importer struct {
	db     *store.DB
	logger *log.Logger
}

// New creates an Importer. If logger is nil, a default logger writing to
// stderr is used.
func New(db *store.DB, logger *log.Logger) *Importer {
	if logger == nil {
		logger = log.New(os.Stderr, "[import] ", log.LstdFlags)
	}
	return &Importer{db: db, logger: logger}
}

// ImportFile imports a single task file: the task row and one outbox
// event per requested sync target commit atomically. The consumed file
// is removed afterwards so the drop directory never re-imports it.
func (i *Importer) ImportFile(ctx context.Context, path string) (*types.Task, error) {
	f, err := taskfile.Read(path)
	if err != nil {
		return nil, err
	}

	task := f.ToTask()
	events, err := eventsFor(task.ID, f.SyncGitHub, f.SyncBitable)
	if err != nil {
		return nil, err
	}

	if err := i.db.CreateTaskWithEvents(ctx, task, events); err != nil {
		return nil, fmt.Errorf("failed to import %s: %w", path, err)
	}

	if err := os.Remove(path); err != nil {
		i.logger.Printf("Warning: imported %s but could not remove the file: %v", path, err)
	}

	i.logger.Printf("Imported task %s (%s) with %d sync events", task.ID, task.Title, len(events))
	return task, nil
}

// ImportDir imports every task file in dir. Individual file failures are
// logged and do not stop the run; the counts report both outcomes.
func (i *Importer) ImportDir(ctx context.Context, dir string) (imported, failed int, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("failed to read import directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		if _, err := i.ImportFile(ctx, filepath.Join(dir, entry.Name())); err != nil {
			i.logger.Printf("Warning: failed to import %s: %v", entry.Name(), err)
			failed++
			continue
		}
		imported++
	}
	return imported, failed, nil
}

// eventsFor builds the create events for the requested sync targets.
func eventsFor(taskID string, github, bitable bool) ([]*types.OutboxEvent, error) {
	payload, err := json.Marshal(engine.Payload{TaskID: taskID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	var events []*types.OutboxEvent
	if github {
		events = append(events, &types.OutboxEvent{Type: types.EventGitHubCreate, Payload: payload})
	}
	if bitable {
		events = append(events, &types.OutboxEvent{Type: types.EventBitableCreate, Payload: payload})
	}
	return events, nil
}

// Package taskfile provides the JSON drop-file format for batch task
// import. Files land in an import directory (written by hand, by scripts,
// or by other tools), are validated, and become tasks plus their outbox
// events in one transaction per file.
package taskfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tandemsync/tandem/internal/status"
	"github.com/tandemsync/tandem/internal/types"
)

// TaskFile represents a task stored as an individual JSON file.
// Status accepts any spelling the normalizer understands.
type TaskFile struct {
	ID       string     `json:"id,omitempty"`
	Title    string     `json:"title"`
	Body     string     `json:"body,omitempty"`
	Status   string     `json:"status,omitempty"`
	Priority int        `json:"priority,omitempty"`
	Assignee string     `json:"assignee,omitempty"`
	DueAt    *time.Time `json:"due_at,omitempty"`
	Progress int        `json:"progress,omitempty"`

	// Sync targets: which remote sides to create on import.
	SyncGitHub  bool `json:"sync_github,omitempty"`
	SyncBitable bool `json:"sync_bitable,omitempty"`
}

// Validate checks if the TaskFile has valid field values.
func (f *TaskFile) Validate() error {
	if f.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(f.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(f.Title))
	}
	if f.Priority < 0 || f.Priority > 4 {
		return fmt.Errorf("priority must be between 0 and 4 (got %d)", f.Priority)
	}
	if f.Progress < 0 || f.Progress > 100 {
		return fmt.Errorf("progress must be between 0 and 100 (got %d)", f.Progress)
	}
	return nil
}

// ToTask converts the file into a canonical task, generating an ID when
// the file carries none and normalizing the status string.
func (f *TaskFile) ToTask() *types.Task {
	id := f.ID
	if id == "" {
		id = uuid.NewString()
	}
	return &types.Task{
		ID:       id,
		Title:    f.Title,
		Body:     f.Body,
		Status:   status.Normalize(f.Status),
		Priority: f.Priority,
		Source:   "import",
		Assignee: f.Assignee,
		DueAt:    f.DueAt,
		Progress: f.Progress,
	}
}

// Read reads and parses a task JSON file from the given path.
func Read(path string) (*TaskFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file %s: %w", path, err)
	}

	var f TaskFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse task file %s: %w", path, err)
	}

	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid task file %s: %w", path, err)
	}

	return &f, nil
}

// Write writes a TaskFile to dir as pretty-printed JSON named {id}.json.
func Write(dir string, f *TaskFile) error {
	if err := f.Validate(); err != nil {
		return fmt.Errorf("cannot write invalid task file: %w", err)
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create import directory: %w", err)
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal task file %s: %w", f.ID, err)
	}

	path := filepath.Join(dir, f.ID+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write task file %s: %w", path, err)
	}
	return nil
}

// ReadAll reads all task files from the given directory.
// Invalid files are skipped with a warning to stderr; a missing
// directory is treated as empty.
func ReadAll(dir string) ([]*TaskFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*TaskFile{}, nil
		}
		return nil, fmt.Errorf("failed to read import directory: %w", err)
	}

	var files []*TaskFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		f, err := Read(filepath.Join(dir, entry.Name()))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: skipping invalid task file %s: %v\n", entry.Name(), err)
			continue
		}
		files = append(files, f)
	}

	return files, nil
}

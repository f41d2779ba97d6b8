// Package engine drains the outbox queue: it dequeues pending events,
// dispatches each to the handler for its event type, performs the remote
// call through an adapter, and upserts the mapping row that records the
// remote link.
//
// The engine owns no persistent state of its own - it is a stateless
// processor over the stores. Events are processed strictly sequentially
// within one batch; a caller wanting parallelism runs multiple batches,
// which the outbox's processing-state lease makes safe.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/tandemsync/tandem/internal/adapter"
	"github.com/tandemsync/tandem/internal/fieldmap"
	"github.com/tandemsync/tandem/internal/store"
	"github.com/tandemsync/tandem/internal/types"
)

// Payload is the JSON body of an outbox event. TaskID is always present;
// the remaining keys are type-specific and override the engine defaults
// when set.
type Payload struct {
	TaskID      string   `json:"task_id"`
	Labels      []string `json:"labels,omitempty"`
	TargetTable string   `json:"target_table,omitempty"`
	IssueNumber int      `json:"issue_number,omitempty"`
	RecordID    string   `json:"record_id,omitempty"`
	AppToken    string   `json:"app_token,omitempty"`
	TableID     string   `json:"table_id,omitempty"`
}

// Options configures an Engine.
type Options struct {
	// Repo is the default issue tracker repository (owner/repo).
	Repo string
	// Labels are applied to every issue the engine creates. The first
	// label doubles as the tracking label the change detector filters on.
	Labels []string
	// AppToken and TableID identify the default tabular workspace table.
	AppToken string
	TableID  string
	// Fields maps logical task fields to remote column names.
	Fields fieldmap.FieldNames
	// CallTimeout bounds each remote call. A timeout is a normal handler
	// failure (retry path), not a special case.
	CallTimeout time.Duration
	// Logger for engine activity. Defaults to stderr.
	Logger *log.Logger
}

// Engine dispatches outbox events to remote adapters.
type Engine struct {
	db      *store.DB
	tracker adapter.IssueTracker
	tabular adapter.TabularWorkspace
	opts    Options
}

// New creates an Engine over the given store and adapters.
func New(db *store.DB, tracker adapter.IssueTracker, tabular adapter.TabularWorkspace, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	if opts.Fields == (fieldmap.FieldNames{}) {
		opts.Fields = fieldmap.DefaultFieldNames()
	}
	return &Engine{db: db, tracker: tracker, tabular: tabular, opts: opts}
}

// ProcessBatch drains up to limit pending events and returns how many it
// processed (claimed and ran, successfully or not).
//
// One event's failure never aborts the batch: the event is marked failed
// (or dead once its attempts are exhausted), logged, and the loop moves
// on. ProcessBatch itself returns an error only for programming errors -
// an unknown event type - or store unavailability. On an unknown type the
// offending event is left in processing for operator inspection; it is a
// bug to enqueue one, not a condition to retry.
func (e *Engine) ProcessBatch(ctx context.Context, limit int) (int, error) {
	events, err := e.db.GetPendingEvents(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch pending events: %w", err)
	}

	processed := 0
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		claimed, err := e.db.MarkProcessing(ctx, ev.ID)
		if err != nil {
			return processed, err
		}
		if !claimed {
			// Another batch runner got here first.
			continue
		}
		processed++

		handlerErr := e.dispatch(ctx, ev)

		var unknown *types.UnknownEventTypeError
		if errors.As(handlerErr, &unknown) {
			return processed, handlerErr
		}

		if handlerErr == nil {
			if err := e.db.MarkSent(ctx, ev.ID); err != nil {
				return processed, err
			}
			e.log(ctx, ev, "ok", "")
			continue
		}

		attempts := ev.Attempts + 1
		if attempts >= ev.MaxAttempts {
			if err := e.db.MarkDead(ctx, ev.ID, handlerErr); err != nil {
				return processed, err
			}
			e.opts.Logger.Printf("Event %s (%s) dead after %d attempts: %v",
				ev.ID, ev.Type, attempts, handlerErr)
		} else {
			if err := e.db.MarkFailed(ctx, ev.ID, handlerErr); err != nil {
				return processed, err
			}
			e.opts.Logger.Printf("Event %s (%s) failed (attempt %d/%d): %v",
				ev.ID, ev.Type, attempts, ev.MaxAttempts, handlerErr)
		}
		e.log(ctx, ev, "error", handlerErr.Error())
	}

	return processed, nil
}

// dispatch routes an event to its handler. The event type set is closed;
// extending it means adding a case here, which the default arm turns into
// a fail-fast error rather than a silent drop.
func (e *Engine) dispatch(ctx context.Context, ev *types.OutboxEvent) error {
	ctx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()

	// An event for an unconfigured side is a normal failure: it stays
	// queued (and eventually dead-letters) instead of panicking, so
	// credentials added later pick up where the queue left off.
	if err := e.checkAdapters(ev.Type); err != nil {
		return err
	}

	switch ev.Type {
	case types.EventGitHubCreate:
		return e.handleGitHubCreate(ctx, ev)
	case types.EventGitHubUpdate:
		return e.handleGitHubUpdate(ctx, ev)
	case types.EventGitHubClose:
		return e.handleGitHubClose(ctx, ev)
	case types.EventBitableCreate:
		return e.handleBitableCreate(ctx, ev)
	case types.EventBitableUpdate:
		return e.handleBitableUpdate(ctx, ev)
	case types.EventConvertIssueToRecord:
		return e.handleConvertIssueToRecord(ctx, ev)
	case types.EventConvertRecordToIssue:
		return e.handleConvertRecordToIssue(ctx, ev)
	default:
		return &types.UnknownEventTypeError{Type: ev.Type}
	}
}

// checkAdapters verifies the adapters an event type needs are present.
func (e *Engine) checkAdapters(t types.EventType) error {
	needsTracker := t == types.EventGitHubCreate || t == types.EventGitHubUpdate ||
		t == types.EventGitHubClose || t == types.EventConvertIssueToRecord ||
		t == types.EventConvertRecordToIssue
	needsTabular := t == types.EventBitableCreate || t == types.EventBitableUpdate ||
		t == types.EventConvertIssueToRecord || t == types.EventConvertRecordToIssue

	if needsTracker && e.tracker == nil {
		return fmt.Errorf("issue tracker is not configured")
	}
	if needsTabular && e.tabular == nil {
		return fmt.Errorf("tabular workspace is not configured")
	}
	return nil
}

// direction maps an event type to its sync log direction tag.
func direction(t types.EventType) string {
	switch t {
	case types.EventGitHubCreate, types.EventGitHubUpdate, types.EventGitHubClose:
		return "local->github"
	case types.EventBitableCreate, types.EventBitableUpdate:
		return "local->bitable"
	case types.EventConvertIssueToRecord:
		return "github->bitable"
	case types.EventConvertRecordToIssue:
		return "bitable->github"
	}
	return "local"
}

func (e *Engine) log(ctx context.Context, ev *types.OutboxEvent, status, msg string) {
	entry := &types.SyncLogEntry{
		Direction: direction(ev.Type),
		Subject:   "event",
		SubjectID: ev.ID,
		Status:    status,
		Message:   msg,
	}
	if err := e.db.AppendSyncLog(ctx, entry); err != nil {
		e.opts.Logger.Printf("Warning: failed to append sync log for event %s: %v", ev.ID, err)
	}
}

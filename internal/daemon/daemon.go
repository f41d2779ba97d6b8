// Package daemon provides the long-running sync process.
//
// The daemon:
// 1. Watches the import directory for new task drop-files
// 2. Drains the outbox on a fixed interval
// 3. Polls both remote sides for divergence
// 4. Sweeps stale processing events back to pending
// 5. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tandemsync/tandem/internal/detect"
	"github.com/tandemsync/tandem/internal/engine"
	"github.com/tandemsync/tandem/internal/importer"
	"github.com/tandemsync/tandem/internal/store"
)

// Config holds configuration for the daemon.
type Config struct {
	// SyncInterval is how often to drain the outbox.
	SyncInterval time.Duration

	// DetectInterval is how often to poll the remote sides for changes.
	// Zero disables change detection.
	DetectInterval time.Duration

	// StaleAfter is how long an event may sit in processing before the
	// sweep returns it to pending.
	StaleAfter time.Duration

	// DebounceInterval is how long to wait before importing dropped
	// files. This batches rapid writes together.
	DebounceInterval time.Duration

	// BatchSize caps how many events one drain pass claims.
	BatchSize int

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:     30 * time.Second,
		DetectInterval:   2 * time.Minute,
		StaleAfter:       10 * time.Minute,
		DebounceInterval: 500 * time.Millisecond,
		BatchSize:        20,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates the import watcher, the outbox drain, and the
// change detector.
type Daemon struct {
	db        *store.DB
	eng       *engine.Engine
	det       *detect.Detector
	imp       *importer.Importer
	importDir string
	config    *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // filepath -> queued at
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Daemon. det may be nil when no remote side is
// configured for polling.
func New(db *store.DB, eng *engine.Engine, det *detect.Detector, importDir string, config *Config) (*Daemon, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if eng == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if importDir == "" {
		return nil, fmt.Errorf("importDir cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		db:          db,
		eng:         eng,
		det:         det,
		imp:         importer.New(db, config.Logger),
		importDir:   importDir,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// The daemon will:
// 1. Sweep stale processing events and import any waiting drop-files
// 2. Start watching the import directory
// 3. Drain the outbox and poll for changes on their intervals
//
// This blocks until ctx is cancelled or an error occurs.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if err := d.startupSweep(ctx); err != nil {
		return err
	}

	if err := os.MkdirAll(d.importDir, 0755); err != nil {
		return fmt.Errorf("failed to create import directory: %w", err)
	}
	if err := d.watcher.Add(d.importDir); err != nil {
		return fmt.Errorf("failed to watch import directory: %w", err)
	}
	d.config.Logger.Printf("Watching: %s", d.importDir)

	d.wg.Add(3)
	go d.watchFileEvents()
	go d.processChangeQueue()
	go d.drainLoop()

	if d.det != nil && d.config.DetectInterval > 0 {
		d.wg.Add(1)
		go d.detectLoop()
	}

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()

	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}

	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// startupSweep recovers events abandoned by a previous crash and picks
// up any drop-files that landed while the daemon was down.
func (d *Daemon) startupSweep(ctx context.Context) error {
	reset, err := d.db.ResetStaleProcessing(ctx, d.config.StaleAfter)
	if err != nil {
		return fmt.Errorf("stale sweep failed: %w", err)
	}
	if reset > 0 {
		d.config.Logger.Printf("Reset %d stale processing events", reset)
	}

	imported, failed, err := d.imp.ImportDir(ctx, d.importDir)
	if err != nil {
		return fmt.Errorf("initial import failed: %w", err)
	}
	if imported > 0 || failed > 0 {
		d.config.Logger.Printf("Initial import: %d imported, %d failed", imported, failed)
	}
	return nil
}

// watchFileEvents monitors filesystem events and queues changes.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}

			// Only care about Create and Write; removes are the
			// importer consuming files.
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}

			d.queueChange(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange adds a file to the change queue with debouncing.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

// processChangeQueue imports queued files once they settle.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges imports files that have been queued for long
// enough. A file still being written stays queued until it settles.
func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	now := time.Now()
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		delete(d.changeQueue, path)

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		if _, err := d.imp.ImportFile(d.ctx, path); err != nil {
			d.config.Logger.Printf("Error importing %s: %v", path, err)
		}
	}
}

// drainLoop drains the outbox on the sync interval. Each pass first
// sweeps stale processing events so nothing abandoned by a crashed
// worker starves forever.
func (d *Daemon) drainLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			if _, err := d.db.ResetStaleProcessing(d.ctx, d.config.StaleAfter); err != nil {
				d.config.Logger.Printf("Error sweeping stale events: %v", err)
			}
			n, err := d.eng.ProcessBatch(d.ctx, d.config.BatchSize)
			if err != nil {
				d.config.Logger.Printf("Error draining outbox: %v", err)
			}
			if n > 0 {
				d.config.Logger.Printf("Drained %d events", n)
			}
		}
	}
}

// detectLoop polls both remote sides for divergence.
func (d *Daemon) detectLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DetectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			if changes, err := d.det.CheckGitHubChanges(d.ctx); err != nil {
				d.config.Logger.Printf("Error checking issue tracker: %v", err)
			} else if len(changes) > 0 {
				d.config.Logger.Printf("Issue tracker: %d changes applied", len(changes))
			}

			if changes, err := d.det.CheckBitableChanges(d.ctx); err != nil {
				d.config.Logger.Printf("Error checking workspace: %v", err)
			} else if len(changes) > 0 {
				d.config.Logger.Printf("Workspace: %d changes applied", len(changes))
			}
		}
	}
}

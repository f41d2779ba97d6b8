package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/tandemsync/tandem/internal/store"
)

// Poller reads queue statistics and new sync log entries from the store
// on an interval and broadcasts them through a Server.
type Poller struct {
	db       *store.DB
	server   *Server
	interval time.Duration
	logger   *log.Logger

	lastLogID int64
}

// NewPoller creates a poller feeding the given server.
func NewPoller(db *store.DB, server *Server, interval time.Duration, logger *log.Logger) *Poller {
	if logger == nil {
		logger = log.Default()
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Poller{db: db, server: server, interval: interval, logger: logger}
}

// Run polls until ctx is cancelled. An initial snapshot is broadcast
// immediately so newly connected clients do not wait a full interval.
func (p *Poller) Run(ctx context.Context) {
	p.poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	p.broadcastStats(ctx)
	p.broadcastNewLogEntries(ctx)
}

func (p *Poller) broadcastStats(ctx context.Context) {
	stats, err := p.db.GetSyncStats(ctx)
	if err != nil {
		p.logger.Printf("Failed to read sync stats: %v", err)
		return
	}

	data, err := json.Marshal(stats)
	if err != nil {
		p.logger.Printf("Failed to marshal stats: %v", err)
		return
	}

	p.server.Broadcast(Message{Type: MessageTypeStats, Data: data})
}

// broadcastNewLogEntries sends only entries appended since the last
// poll, tracked by the log's monotonic row ID.
func (p *Poller) broadcastNewLogEntries(ctx context.Context) {
	entries, err := p.db.RecentSyncLog(ctx, 50)
	if err != nil {
		p.logger.Printf("Failed to read sync log: %v", err)
		return
	}

	// RecentSyncLog returns newest first; walk backwards so clients see
	// entries in append order.
	maxID := p.lastLogID
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.ID <= p.lastLogID {
			continue
		}
		if e.ID > maxID {
			maxID = e.ID
		}

		data, err := json.Marshal(e)
		if err != nil {
			p.logger.Printf("Failed to marshal log entry: %v", err)
			continue
		}
		p.server.Broadcast(Message{Type: MessageTypeSyncLog, Data: data})
	}
	p.lastLogID = maxID
}

// Package loadtest provides load testing utilities for the queue layer.
//
// It simulates many concurrent drain workers competing to claim outbox
// events, validating that the claim lease hands each event to exactly
// one worker and that claim latency stays low under contention.
package loadtest

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tandemsync/tandem/internal/engine"
	"github.com/tandemsync/tandem/internal/store"
	"github.com/tandemsync/tandem/internal/types"
)

// TestDatabase is a populated database for load testing.
type TestDatabase struct {
	DB          *store.DB
	TaskIDs     []string
	EventIDs    []string
	TotalEvents int
}

// LatencyStats captures performance metrics from load tests.
type LatencyStats struct {
	Min          time.Duration
	Max          time.Duration
	Mean         time.Duration
	P50          time.Duration
	P95          time.Duration
	P99          time.Duration
	TotalClaims  int
	DoubleClaims int
	Errors       int
}

// CreateTestDatabase creates a database seeded with numTasks tasks, each
// carrying one pending outbox event.
//
// Priorities follow a realistic distribution weighted toward P2, and
// creation times are staggered so queue ordering is meaningful.
func CreateTestDatabase(dbPath string, numTasks int) (*TestDatabase, error) {
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.InitSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	td := &TestDatabase{
		DB:          db,
		TaskIDs:     make([]string, 0, numTasks),
		EventIDs:    make([]string, 0, numTasks),
		TotalEvents: numTasks,
	}

	// P0: 5%, P1: 15%, P2: 50%, P3: 20%, P4: 10%
	priorities := []int{0, 1, 2, 2, 2, 2, 2, 3, 3, 4}
	eventTypes := []types.EventType{
		types.EventGitHubCreate, types.EventBitableCreate, types.EventGitHubUpdate,
	}
	rng := rand.New(rand.NewSource(42))

	ctx := context.Background()
	for i := 0; i < numTasks; i++ {
		task := &types.Task{
			ID:       uuid.NewString(),
			Title:    fmt.Sprintf("Load task %05d", i),
			Status:   types.StatusToDo,
			Priority: priorities[i%len(priorities)],
			Source:   "loadtest",
		}

		payload, err := json.Marshal(engine.Payload{TaskID: task.ID})
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		ev := &types.OutboxEvent{
			ID:      uuid.NewString(),
			Type:    eventTypes[rng.Intn(len(eventTypes))],
			Payload: payload,
		}

		if err := db.CreateTaskWithEvents(ctx, task, []*types.OutboxEvent{ev}); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to seed task %d: %w", i, err)
		}
		td.TaskIDs = append(td.TaskIDs, task.ID)
		td.EventIDs = append(td.EventIDs, ev.ID)
	}

	return td, nil
}

// Close closes the test database connection.
func (td *TestDatabase) Close() error {
	if td.DB != nil {
		return td.DB.Close()
	}
	return nil
}

// RunConcurrentClaims launches numWorkers goroutines that all try to
// claim every seeded event, recording claim latency. A claim that
// succeeds for an event another worker already owns counts as a double
// claim; the lease guarantees that number is zero.
func (td *TestDatabase) RunConcurrentClaims(numWorkers int) (*LatencyStats, error) {
	var (
		mu        sync.Mutex
		owners    = make(map[string]int)
		durations []time.Duration
		doubles   int
		errCount  int
	)

	ctx := context.Background()
	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			for _, id := range td.EventIDs {
				start := time.Now()
				claimed, err := td.DB.MarkProcessing(ctx, id)
				elapsed := time.Since(start)

				mu.Lock()
				durations = append(durations, elapsed)
				if err != nil {
					errCount++
				} else if claimed {
					if _, taken := owners[id]; taken {
						doubles++
					}
					owners[id] = workerID
				}
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	if len(durations) == 0 {
		return nil, fmt.Errorf("no claim attempts completed")
	}

	stats := computeLatencyStats(durations)
	stats.TotalClaims = len(owners)
	stats.DoubleClaims = doubles
	stats.Errors = errCount

	if len(owners) != td.TotalEvents {
		return stats, fmt.Errorf("claimed %d of %d events", len(owners), td.TotalEvents)
	}
	return stats, nil
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return &LatencyStats{
		Min:  sorted[0],
		Max:  sorted[len(sorted)-1],
		Mean: sum / time.Duration(len(sorted)),
		P50:  sorted[len(sorted)*50/100],
		P95:  sorted[len(sorted)*95/100],
		P99:  sorted[len(sorted)*99/100],
	}
}

// PrintStats formats and prints latency statistics.
func (s *LatencyStats) PrintStats() {
	fmt.Printf("Claim Statistics:\n")
	fmt.Printf("  Events claimed: %d\n", s.TotalClaims)
	fmt.Printf("  Double claims:  %d\n", s.DoubleClaims)
	fmt.Printf("  Errors:         %d\n", s.Errors)
	fmt.Printf("  Min:            %v\n", s.Min)
	fmt.Printf("  P50 (Median):   %v\n", s.P50)
	fmt.Printf("  Mean:           %v\n", s.Mean)
	fmt.Printf("  P95:            %v\n", s.P95)
	fmt.Printf("  P99:            %v\n", s.P99)
	fmt.Printf("  Max:            %v\n", s.Max)
}

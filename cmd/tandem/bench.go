package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/tandemsync/tandem/internal/loadtest"
	"github.com/tandemsync/tandem/internal/ui"
)

var (
	benchEvents  int
	benchWorkers int
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Benchmark outbox claims under contention",
	Long: `Seed a throwaway database with tasks and pending events, then run
concurrent workers all competing to claim them.

Validates that the claim lease hands each event to exactly one worker
and reports claim latency percentiles. The database is created in a
temporary directory and removed afterwards.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := os.MkdirTemp("", "tandem-bench-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)

		fmt.Printf("%s Seeding %d events...\n", ui.RenderAccent("🔄"), benchEvents)
		td, err := loadtest.CreateTestDatabase(filepath.Join(dir, "bench.db"), benchEvents)
		if err != nil {
			return err
		}
		defer td.Close()

		fmt.Printf("%s Running %d workers...\n", ui.RenderAccent("🔄"), benchWorkers)
		start := time.Now()
		stats, err := td.RunConcurrentClaims(benchWorkers)
		if err != nil {
			return err
		}
		elapsed := time.Since(start)

		fmt.Printf("%s Completed in %v\n\n", ui.RenderPass("✓"), elapsed.Round(time.Millisecond))
		stats.PrintStats()

		if stats.DoubleClaims > 0 {
			return fmt.Errorf("%d events were claimed twice", stats.DoubleClaims)
		}
		return nil
	},
}

func init() {
	benchCmd.Flags().IntVar(&benchEvents, "events", 500, "events to seed")
	benchCmd.Flags().IntVar(&benchWorkers, "workers", 16, "concurrent workers")
	rootCmd.AddCommand(benchCmd)
}

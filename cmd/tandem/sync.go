package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tandemsync/tandem/internal/types"
	"github.com/tandemsync/tandem/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Drain and inspect the outbox queue",
}

var syncBatch int

var syncRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Process pending outbox events once",
	Long: `Drain up to --batch pending events from the outbox.

Events whose remote call fails stay queued for later runs until their
attempt budget is exhausted, after which they land in the dead-letter
state ('tandem sync retry' requeues failed events, never dead ones).
Stale events abandoned mid-processing by a crashed run are swept back
to pending first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		tracker, tabular, err := buildAdapters(ctx)
		if err != nil {
			return err
		}

		if reset, err := db.ResetStaleProcessing(ctx, cfg.StaleAfter); err != nil {
			return err
		} else if reset > 0 {
			fmt.Printf("%s Reset %d stale processing event(s)\n", ui.RenderWarn("⚠"), reset)
		}

		eng := buildEngine(db, tracker, tabular)

		start := time.Now()
		n, err := eng.ProcessBatch(ctx, syncBatch)
		if err != nil {
			return err
		}

		if n == 0 {
			fmt.Println("Nothing to sync")
			return nil
		}
		fmt.Printf("%s Processed %d event(s) in %v\n", ui.RenderPass("✓"), n, time.Since(start).Round(time.Millisecond))
		return nil
	},
}

var retryLimit int

var syncRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Return failed events to the queue",
	Long: `Move failed events with remaining attempts back to pending.

Dead events are never touched; they exhausted their attempt budget and
stay visible in 'tandem sync status' until the operator resolves the
underlying problem.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		events, err := db.RetryFailed(ctx, retryLimit)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			fmt.Println("No failed events to retry")
			return nil
		}

		fmt.Printf("%s Requeued %d event(s)\n", ui.RenderPass("✓"), len(events))
		for _, ev := range events {
			fmt.Printf("   %s %s (attempt %d/%d)\n", ui.RenderMuted(shortID(ev.ID)), ev.Type, ev.Attempts, ev.MaxAttempts)
		}
		return nil
	},
}

var statusLogLines int

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue statistics and recent sync activity",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetSyncStats(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("\n%s Sync Status\n\n", ui.RenderAccent("📊"))
		fmt.Printf("Tasks:    %d\n", stats.Tasks)
		fmt.Printf("Mappings: %d\n", stats.Mappings)

		fmt.Printf("\nOutbox:\n")
		for _, s := range []types.OutboxStatus{
			types.OutboxPending, types.OutboxProcessing, types.OutboxSent,
			types.OutboxFailed, types.OutboxDead,
		} {
			n := stats.Outbox[s]
			label := fmt.Sprintf("  %-11s %d", s, n)
			switch {
			case s == types.OutboxDead && n > 0:
				label = ui.RenderFail(label)
			case s == types.OutboxFailed && n > 0:
				label = ui.RenderWarn(label)
			}
			fmt.Println(label)
		}

		entries, err := db.RecentSyncLog(ctx, statusLogLines)
		if err != nil {
			return err
		}
		if len(entries) > 0 {
			fmt.Printf("\nRecent activity:\n")
			for _, e := range entries {
				marker := ui.RenderPass("✓")
				if e.Status != "ok" {
					marker = ui.RenderFail("✗")
				}
				line := fmt.Sprintf("  %s %-16s %s %s", marker, e.Direction, ui.RenderMuted(shortID(e.SubjectID)), e.CreatedAt.Format("15:04:05"))
				if e.Message != "" {
					line += " " + ui.RenderMuted(e.Message)
				}
				fmt.Println(line)
			}
		}
		fmt.Println()
		return nil
	},
}

func init() {
	syncRunCmd.Flags().IntVar(&syncBatch, "batch", 20, "maximum events to process")
	syncRetryCmd.Flags().IntVar(&retryLimit, "limit", 50, "maximum events to requeue")
	syncStatusCmd.Flags().IntVar(&statusLogLines, "log", 10, "recent log entries to show")

	syncCmd.AddCommand(syncRunCmd)
	syncCmd.AddCommand(syncRetryCmd)
	syncCmd.AddCommand(syncStatusCmd)
	rootCmd.AddCommand(syncCmd)
}

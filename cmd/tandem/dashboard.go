package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tandemsync/tandem/internal/dashboard"
	"github.com/tandemsync/tandem/internal/ui"
)

var dashboardInterval time.Duration

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Serve a live WebSocket view of sync activity",
	Long: `Start a WebSocket server broadcasting queue statistics and sync
log entries. Connect any WebSocket client to ws://<addr>/ws to follow
sync activity in real time; /health reports the client count.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		logger := log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
		server := dashboard.NewServer(cfg.DashboardAddr, logger)
		if err := server.Start(); err != nil {
			return err
		}

		fmt.Printf("%s Dashboard listening on %s\n", ui.RenderAccent("📊"), server.GetAddr())
		fmt.Printf("   WebSocket: ws://%s/ws\n", server.GetAddr())
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		poller := dashboard.NewPoller(db, server, dashboardInterval, logger)
		poller.Run(ctx)

		return server.Stop()
	},
}

func init() {
	dashboardCmd.Flags().DurationVar(&dashboardInterval, "interval", 2*time.Second, "poll interval for stats and log")
	rootCmd.AddCommand(dashboardCmd)
}

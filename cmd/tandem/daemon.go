package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tandemsync/tandem/internal/daemon"
	"github.com/tandemsync/tandem/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync daemon (foreground)",
	Long: `Run the sync loop in the foreground.

The daemon watches the import directory for dropped task files, drains
the outbox on the sync interval, polls both remote sides on the detect
interval, and sweeps stale processing events. Stop it with Ctrl+C.

With log_file set in the config, daemon output goes to that file with
rotation; otherwise it goes to stderr.`,
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

		eng := buildEngine(db, tracker, tabular)

		det := buildDetector(db, tracker, tabular)
		if tracker == nil && tabular == nil {
			det = nil
		}

		dcfg := daemon.DefaultConfig()
		dcfg.SyncInterval = cfg.SyncInterval
		dcfg.DetectInterval = cfg.DetectInterval
		dcfg.StaleAfter = cfg.StaleAfter
		dcfg.BatchSize = cfg.BatchSize

		var logOut io.Writer = os.Stderr
		if cfg.LogFile != "" {
			logOut = &lumberjack.Logger{
				Filename:   cfg.LogFile,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     30, // days
			}
		}
		dcfg.Logger = log.New(logOut, "[daemon] ", log.LstdFlags)

		d, err := daemon.New(db, eng, det, cfg.ImportDir, dcfg)
		if err != nil {
			return err
		}

		fmt.Printf("%s Starting sync daemon...\n", ui.RenderAccent("🚀"))
		fmt.Printf("   Database: %s\n", cfg.DBPath)
		fmt.Printf("   Import dir: %s\n", cfg.ImportDir)
		fmt.Printf("   Sync every %v, detect every %v\n", cfg.SyncInterval, cfg.DetectInterval)
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		return d.Start(ctx)
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

// Command tandem keeps tasks consistent across a GitHub repository and a
// Bitable-style tabular workspace through a durable outbox queue.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tandemsync/tandem/internal/adapter"
	"github.com/tandemsync/tandem/internal/adapter/bitable"
	"github.com/tandemsync/tandem/internal/adapter/github"
	"github.com/tandemsync/tandem/internal/config"
	"github.com/tandemsync/tandem/internal/detect"
	"github.com/tandemsync/tandem/internal/engine"
	"github.com/tandemsync/tandem/internal/store"
)

var (
	configPath string
	cfg        config.Config
)

var rootCmd = &cobra.Command{
	Use:   "tandem",
	Short: "Two-way task sync between GitHub issues and a tabular workspace",
	Long: `Tandem keeps tasks consistent across a GitHub repository and a
Bitable-style tabular workspace.

Local task changes enqueue durable outbox events that the sync engine
delivers to both remote sides; a change detector polls the remotes and
folds their edits back in. The queue lives in a local SQLite database,
so no change is lost between runs.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v, err := config.New(configPath)
		if err != nil {
			return err
		}
		cfg = config.Load(v)
		return cfg.Validate()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default .tandem/config.yaml)")
}

// openStore opens the database and ensures the schema exists.
func openStore(ctx context.Context) (*store.DB, error) {
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := db.InitSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// buildAdapters creates the configured remote clients. A side without
// credentials comes back nil; the engine then fails events targeting it,
// which keeps them queued rather than silently dropped.
func buildAdapters(ctx context.Context) (adapter.IssueTracker, adapter.TabularWorkspace, error) {
	var tracker adapter.IssueTracker
	if cfg.GitHubToken != "" && cfg.GitHubRepo != "" {
		gh, err := github.New(ctx, cfg.GitHubToken, cfg.GitHubRepo)
		if err != nil {
			return nil, nil, err
		}
		tracker = gh
	}

	var tabular adapter.TabularWorkspace
	if cfg.BitableToken != "" {
		tabular = bitable.New(cfg.BitableToken)
	}

	return tracker, tabular, nil
}

func buildEngine(db *store.DB, tracker adapter.IssueTracker, tabular adapter.TabularWorkspace) *engine.Engine {
	return engine.New(db, tracker, tabular, engine.Options{
		Repo:        cfg.GitHubRepo,
		Labels:      cfg.Labels,
		AppToken:    cfg.BitableAppToken,
		TableID:     cfg.BitableTableID,
		Fields:      cfg.Fields,
		CallTimeout: cfg.CallTimeout,
	})
}

func buildDetector(db *store.DB, tracker adapter.IssueTracker, tabular adapter.TabularWorkspace) *detect.Detector {
	return detect.New(db, tracker, tabular, detect.Options{
		Repo:           cfg.GitHubRepo,
		TrackingLabels: cfg.Labels,
		AppToken:       cfg.BitableAppToken,
		TableID:        cfg.BitableTableID,
		Fields:         cfg.Fields,
	})
}

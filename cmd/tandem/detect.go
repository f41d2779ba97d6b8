package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tandemsync/tandem/internal/ui"
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Poll both remote sides for changes made there",
	Long: `Check the issue tracker and the tabular workspace for edits made
remotely (an issue closed on GitHub, a record's status changed in the
workspace) and fold them into the local tasks.

Each applied change also queues a propagation event for the opposite
side, so the next 'tandem sync run' brings all three copies back in
line.`,
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
		if tracker == nil && tabular == nil {
			return fmt.Errorf("no remote side configured; set github_repo/github_token or bitable_token")
		}

		det := buildDetector(db, tracker, tabular)

		total := 0
		if tracker != nil {
			changes, err := det.CheckGitHubChanges(ctx)
			if err != nil {
				return err
			}
			for _, ch := range changes {
				fmt.Printf("%s %s: %s -> %s (from issue tracker)\n",
					ui.RenderAccent("↓"), shortID(ch.TaskID), ch.Old, ch.New)
			}
			total += len(changes)
		}

		if tabular != nil {
			changes, err := det.CheckBitableChanges(ctx)
			if err != nil {
				return err
			}
			for _, ch := range changes {
				fmt.Printf("%s %s: %s -> %s (from workspace)\n",
					ui.RenderAccent("↓"), shortID(ch.TaskID), ch.Old, ch.New)
			}
			total += len(changes)
		}

		if total == 0 {
			fmt.Println("No remote changes")
			return nil
		}
		fmt.Printf("%s Applied %d change(s)\n", ui.RenderPass("✓"), total)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(detectCmd)
}

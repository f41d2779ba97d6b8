package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tandemsync/tandem/internal/importer"
	"github.com/tandemsync/tandem/internal/ui"
)

var importCmd = &cobra.Command{
	Use:   "import [file...]",
	Short: "Import task drop-files",
	Long: `Import task JSON files into the local database.

With file arguments, those files are imported. Without arguments, every
*.json file in the import directory is imported. Each file becomes one
task plus its requested sync events, committed atomically; consumed
files are removed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		imp := importer.New(db, nil)

		if len(args) > 0 {
			failed := 0
			for _, path := range args {
				task, err := imp.ImportFile(ctx, path)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error importing %s: %v\n", path, err)
					failed++
					continue
				}
				fmt.Printf("%s Imported %s (%s)\n", ui.RenderPass("✓"), task.ID, task.Title)
			}
			if failed > 0 {
				return fmt.Errorf("%d file(s) failed to import", failed)
			}
			return nil
		}

		imported, failed, err := imp.ImportDir(ctx, cfg.ImportDir)
		if err != nil {
			return err
		}
		if imported == 0 && failed == 0 {
			fmt.Printf("No files in %s\n", cfg.ImportDir)
			return nil
		}
		fmt.Printf("%s Imported %d task(s)", ui.RenderPass("✓"), imported)
		if failed > 0 {
			fmt.Printf(", %s", ui.RenderWarn(fmt.Sprintf("%d failed", failed)))
		}
		fmt.Println()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}

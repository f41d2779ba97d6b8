package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tandemsync/tandem/internal/ui"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the .tandem directory and config interactively",
	Long: `Initialize tandem in the current directory.

Prompts for the GitHub repository and workspace credentials, then writes
.tandem/config.yaml and creates the database and import directories.
Tokens can be left empty here and supplied later through TANDEM_GITHUB_TOKEN
and TANDEM_BITABLE_TOKEN.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			repo     string
			labels   string
			appToken string
			tableID  string
		)

		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("GitHub repository").
					Description("owner/repo, empty to skip the issue tracker side").
					Validate(func(s string) error {
						if s != "" && !strings.Contains(s, "/") {
							return fmt.Errorf("must be owner/repo")
						}
						return nil
					}).
					Value(&repo),
				huh.NewInput().
					Title("Tracking labels").
					Description("comma-separated, applied to every synced issue").
					Value(&labels),
			),
			huh.NewGroup(
				huh.NewInput().
					Title("Workspace app token").
					Description("empty to skip the tabular workspace side").
					Value(&appToken),
				huh.NewInput().
					Title("Workspace table ID").
					Value(&tableID),
			),
		)
		if err := form.Run(); err != nil {
			return err
		}

		if err := os.MkdirAll(".tandem", 0755); err != nil {
			return fmt.Errorf("failed to create .tandem directory: %w", err)
		}

		v := viper.New()
		if repo != "" {
			v.Set("github_repo", repo)
		}
		if labels != "" {
			parts := strings.Split(labels, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			v.Set("labels", parts)
		}
		if appToken != "" {
			v.Set("bitable_app_token", appToken)
		}
		if tableID != "" {
			v.Set("bitable_table_id", tableID)
		}

		path := filepath.Join(".tandem", "config.yaml")
		if err := v.WriteConfigAs(path); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}

		if err := os.MkdirAll(filepath.Join(".tandem", "inbox"), 0755); err != nil {
			return fmt.Errorf("failed to create import directory: %w", err)
		}

		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		fmt.Printf("%s Initialized tandem in .tandem/\n", ui.RenderPass("✓"))
		fmt.Printf("   Config: %s\n", path)
		fmt.Printf("   Database: %s\n", cfg.DBPath)
		fmt.Printf("   Import dir: %s\n", cfg.ImportDir)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

// TestLoad_Defaults tests that an empty viper yields the documented defaults.
func TestLoad_Defaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	cfg := Load(v)

	if cfg.DBPath != ".tandem/tandem.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.BatchSize != 20 {
		t.Errorf("BatchSize = %d, want 20", cfg.BatchSize)
	}
	if cfg.StaleAfter != 10*time.Minute {
		t.Errorf("StaleAfter = %v, want 10m", cfg.StaleAfter)
	}
	if cfg.Fields.Title != "Title" || cfg.Fields.IssueLink != "GitHub Issue" {
		t.Errorf("Fields = %+v", cfg.Fields)
	}
}

// TestLoad_FieldOverrides tests that a partial fields block keeps the
// defaults for unset columns.
func TestLoad_FieldOverrides(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("fields", map[string]any{"status": "Stage"})
	cfg := Load(v)

	if cfg.Fields.Status != "Stage" {
		t.Errorf("Fields.Status = %q, want Stage", cfg.Fields.Status)
	}
	if cfg.Fields.Title != "Title" {
		t.Errorf("Fields.Title = %q, want default preserved", cfg.Fields.Title)
	}
}

// TestNew_ConfigFile tests reading values from a yaml file.
func TestNew_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte("github_repo: acme/widgets\nbatch_size: 5\nlabels:\n  - tandem\n  - sync\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	v, err := New(path)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	cfg := Load(v)

	if cfg.GitHubRepo != "acme/widgets" {
		t.Errorf("GitHubRepo = %q", cfg.GitHubRepo)
	}
	if cfg.BatchSize != 5 {
		t.Errorf("BatchSize = %d, want 5", cfg.BatchSize)
	}
	if len(cfg.Labels) != 2 {
		t.Errorf("Labels = %v", cfg.Labels)
	}
}

// TestNew_MissingFile tests that a missing default config is not an error.
func TestNew_MissingFile(t *testing.T) {
	t.Chdir(t.TempDir())
	v, err := New("")
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if got := Load(v).BatchSize; got != 20 {
		t.Errorf("BatchSize = %d, want default", got)
	}
}

// TestValidate tests the guard rails.
func TestValidate(t *testing.T) {
	cfg := Load(func() *viper.Viper { v := viper.New(); SetDefaults(v); return v }())
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}

	cfg.GitHubRepo = "no-slash"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() accepted repo without owner")
	}

	cfg.GitHubRepo = "acme/widgets"
	cfg.BatchSize = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() accepted zero batch size")
	}
}

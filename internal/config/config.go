// Package config loads tandem configuration from file and environment.
//
// Configuration is read from .tandem/config.yaml (or an explicit --config
// path), with every key overridable through TANDEM_* environment variables
// (TANDEM_GITHUB_TOKEN, TANDEM_BITABLE_TABLE_ID, ...).
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tandemsync/tandem/internal/fieldmap"
)

// Config holds typed configuration for the whole binary.
type Config struct {
	DBPath    string
	ImportDir string

	GitHubToken string
	GitHubRepo  string // owner/repo
	Labels      []string

	BitableToken    string
	BitableAppToken string
	BitableTableID  string

	Fields fieldmap.FieldNames

	BatchSize      int
	SyncInterval   time.Duration
	DetectInterval time.Duration
	StaleAfter     time.Duration
	CallTimeout    time.Duration

	DashboardAddr string
	LogFile       string
}

// SetDefaults registers the default values on a viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("db_path", ".tandem/tandem.db")
	v.SetDefault("import_dir", ".tandem/inbox")
	v.SetDefault("labels", []string{"tandem"})
	v.SetDefault("batch_size", 20)
	v.SetDefault("sync_interval", 30*time.Second)
	v.SetDefault("detect_interval", 2*time.Minute)
	v.SetDefault("stale_after", 10*time.Minute)
	v.SetDefault("call_timeout", 30*time.Second)
	v.SetDefault("dashboard_addr", "127.0.0.1:8377")
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	fields := fieldmap.DefaultFieldNames()
	if v.IsSet("fields") {
		// Partial overrides keep the defaults for unset columns.
		_ = v.UnmarshalKey("fields", &fields)
	}

	return Config{
		DBPath:          v.GetString("db_path"),
		ImportDir:       v.GetString("import_dir"),
		GitHubToken:     v.GetString("github_token"),
		GitHubRepo:      v.GetString("github_repo"),
		Labels:          v.GetStringSlice("labels"),
		BitableToken:    v.GetString("bitable_token"),
		BitableAppToken: v.GetString("bitable_app_token"),
		BitableTableID:  v.GetString("bitable_table_id"),
		Fields:          fields,
		BatchSize:       v.GetInt("batch_size"),
		SyncInterval:    v.GetDuration("sync_interval"),
		DetectInterval:  v.GetDuration("detect_interval"),
		StaleAfter:      v.GetDuration("stale_after"),
		CallTimeout:     v.GetDuration("call_timeout"),
		DashboardAddr:   v.GetString("dashboard_addr"),
		LogFile:         v.GetString("log_file"),
	}
}

// New builds a viper instance wired to the config file and environment.
// A missing config file is fine; defaults and environment still apply.
func New(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix("TANDEM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".tandem")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return v, nil
}

// Validate checks the keys the sync paths cannot run without.
func (c Config) Validate() error {
	if c.GitHubRepo != "" && !strings.Contains(c.GitHubRepo, "/") {
		return fmt.Errorf("github_repo must be owner/repo (got %q)", c.GitHubRepo)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive (got %d)", c.BatchSize)
	}
	return nil
}

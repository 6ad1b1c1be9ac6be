package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string        `toml:"environment"` // "development" or "production"
	Storage     StorageConfig `toml:"storage"`
	Batch       BatchConfig   `toml:"batch"`
	Fetcher     FetcherConfig `toml:"fetcher"`
	Refresh     RefreshConfig `toml:"refresh"`
	Export      ExportConfig  `toml:"export"`
	Logging     LoggingConfig `toml:"logging"`
	Reports     ReportsConfig `toml:"reports"`
}

type StorageConfig struct {
	SQLite SQLiteConfig `toml:"sqlite"`
	Badger BadgerConfig `toml:"badger"`
}

// SQLiteConfig represents the central tender store configuration
type SQLiteConfig struct {
	Path                string `toml:"path" validate:"required"`
	CacheSizeMB         int    `toml:"cache_size_mb"`
	BusyTimeoutMS       int    `toml:"busy_timeout_ms"`
	WALMode             bool   `toml:"wal_mode"`
	BackupDirectory     string `toml:"backup_directory"`
	BackupRetentionDays int    `toml:"backup_retention_days" validate:"omitempty,gte=7"`
}

// BadgerConfig represents BadgerDB-specific configuration for the pending
// scrape queue and refresh-watch state
type BadgerConfig struct {
	Path           string `toml:"path"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
}

// BatchConfig carries the batch scheduler defaults. CLI flags and the
// settings file override individual fields at dispatch time.
type BatchConfig struct {
	Mode        string         `toml:"mode" validate:"oneof=sequential parallel"`
	MaxParallel int            `toml:"max_parallel" validate:"gte=1"`
	OnlyNew     bool           `toml:"only_new"`
	DeltaMode   string         `toml:"delta_mode" validate:"oneof=quick full"`
	IPSafety    IPSafetyConfig `toml:"ip_safety"`
}

// IPSafetyConfig controls per-domain politeness (C5 knobs)
type IPSafetyConfig struct {
	PerDomainMax int     `toml:"per_domain_max" validate:"gte=1"`
	MinDelaySec  float64 `toml:"min_delay_sec" validate:"gte=0"`
	MaxDelaySec  float64 `toml:"max_delay_sec" validate:"gtefield=MinDelaySec"`
	CooldownSec  float64 `toml:"cooldown_sec" validate:"gte=0"`
	MaxRetries   int     `toml:"max_retries" validate:"gte=0"`
}

/// FetcherConfig carries the chromedp session timeouts. These map 1:1 to the
// per-timeout knobs in the shell settings file.
type FetcherConfig struct {
	UserAgent             string        `toml:"user_agent"`
	Headless              bool          `toml:"headless"`
	PageLoadTimeout       time.Duration `toml:"page_load_timeout"`
	ElementWaitTimeout    time.Duration `toml:"element_wait_timeout"`
	StabilizeTimeout      time.Duration `toml:"stabilize_timeout"`
	PostActionTimeout     time.Duration `toml:"post_action_timeout"`
	CaptchaCheckTimeout   time.Duration `toml:"captcha_check_timeout"`
	DownloadWaitTimeout   time.Duration `toml:"download_wait_timeout"`
	PopupWaitTimeout      time.Duration `toml:"popup_wait_timeout"`
	PostDownloadClickWait time.Duration `toml:"post_download_click_wait"`
}

// RefreshConfig controls the refresh watcher daemon
type RefreshConfig struct {
	Enabled     bool `toml:"enabled"`
	LoopSeconds int  `toml:"loop_seconds" validate:"omitempty,gte=5"`
}

// ExportConfig controls workbook output
type ExportConfig struct {
	DownloadDirectory string `toml:"download_directory"`
	Policy            string `toml:"policy" validate:"oneof=on_demand always interval"`
	IntervalDays      int    `toml:"interval_days" validate:"omitempty,gte=1"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Format string   `toml:"format"` // "json" or "text"
	Output []string `toml:"output"` // "stdout", "file"
}

// ReportsConfig controls where per-portal run reports are written
type ReportsConfig struct {
	Directory string `toml:"directory"`
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Storage: StorageConfig{
			SQLite: SQLiteConfig{
				Path:                "./data/tenders.db",
				CacheSizeMB:         64,
				BusyTimeoutMS:       5000,
				WALMode:             true,
				BackupDirectory:     "./data/backups",
				BackupRetentionDays: 7,
			},
			Badger: BadgerConfig{
				Path: "./data/state",
			},
		},
		Batch: BatchConfig{
			Mode:        "sequential",
			MaxParallel: 2,
			OnlyNew:     true,
			DeltaMode:   "quick",
			IPSafety: IPSafetyConfig{
				PerDomainMax: 1,
				MinDelaySec:  2,
				MaxDelaySec:  6,
				CooldownSec:  0,
				MaxRetries:   2,
			},
		},
		Fetcher: FetcherConfig{
			UserAgent:             "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			Headless:              true,
			PageLoadTimeout:       45 * time.Second,
			ElementWaitTimeout:    15 * time.Second,
			StabilizeTimeout:      3 * time.Second,
			PostActionTimeout:     2 * time.Second,
			CaptchaCheckTimeout:   5 * time.Second,
			DownloadWaitTimeout:   60 * time.Second,
			PopupWaitTimeout:      5 * time.Second,
			PostDownloadClickWait: 2 * time.Second,
		},
		Refresh: RefreshConfig{
			Enabled:     false,
			LoopSeconds: 60,
		},
		Export: ExportConfig{
			DownloadDirectory: "./downloads",
			Policy:            "always",
			IntervalDays:      1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: []string{"stdout", "file"},
		},
		Reports: ReportsConfig{
			Directory: "./batch_run_reports",
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := Validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the configuration invariants (batch knobs, retention floors)
func Validate(config *Config) error {
	v := validator.New()
	if err := v.Struct(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("TENDERWATCH_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if path := os.Getenv("TENDERWATCH_SQLITE_PATH"); path != "" {
		config.Storage.SQLite.Path = path
	}
	if dir := os.Getenv("TENDERWATCH_DOWNLOAD_DIR"); dir != "" {
		config.Export.DownloadDirectory = dir
	}
	if level := os.Getenv("TENDERWATCH_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if mode := os.Getenv("TENDERWATCH_BATCH_MODE"); mode == "sequential" || mode == "parallel" {
		config.Batch.Mode = mode
	}
	if par := os.Getenv("TENDERWATCH_MAX_PARALLEL"); par != "" {
		if p, err := strconv.Atoi(par); err == nil && p >= 1 {
			config.Batch.MaxParallel = p
		}
	}
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tenderwatch/internal/common"
	"github.com/ternarybob/tenderwatch/internal/models"
)

// Settings is the JSON settings file shared with other shells. Field names
// are part of that shared surface and do not change with internal renames.
type Settings struct {
	DownloadDirectory         string `json:"download_directory,omitempty"`
	DepartmentParallelWorkers int    `json:"department_parallel_workers,omitempty"`
	BatchDeltaMode            string `json:"batch_delta_mode,omitempty"`

	RefreshWatchEnabled     bool               `json:"refresh_watch_enabled,omitempty"`
	RefreshWatchLoopSeconds int                `json:"refresh_watch_loop_seconds,omitempty"`
	RefreshWatchPortals     []models.WatchRule `json:"refresh_watch_portals,omitempty"`

	CentralSQLiteDBPath       string `json:"central_sqlite_db_path,omitempty"`
	SQLiteBackupDirectory     string `json:"sqlite_backup_directory,omitempty"`
	SQLiteBackupRetentionDays int    `json:"sqlite_backup_retention_days,omitempty"`

	ExcelExportPolicy       string `json:"excel_export_policy,omitempty"`
	ExcelExportIntervalDays int    `json:"excel_export_interval_days,omitempty"`

	// Timeout knobs in seconds, mapping onto the fetcher configuration
	PageLoadTimeoutSec       int `json:"page_load_timeout_sec,omitempty"`
	ElementWaitTimeoutSec    int `json:"element_wait_timeout_sec,omitempty"`
	StabilizeTimeoutSec      int `json:"stabilize_timeout_sec,omitempty"`
	PostActionTimeoutSec     int `json:"post_action_timeout_sec,omitempty"`
	CaptchaCheckTimeoutSec   int `json:"captcha_check_timeout_sec,omitempty"`
	DownloadWaitTimeoutSec   int `json:"download_wait_timeout_sec,omitempty"`
	PopupWaitTimeoutSec      int `json:"popup_wait_timeout_sec,omitempty"`
	PostDownloadClickWaitSec int `json:"post_download_click_wait_sec,omitempty"`
}

// LoadSettings reads the shared settings file. A missing file returns empty
// settings, not an error; unknown keys are ignored so newer shells can add
// options without breaking us.
func LoadSettings(path string, logger arbor.ILogger) (*Settings, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logger.Debug().Str("path", path).Msg("No settings file, using defaults")
		return &Settings{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading settings: %w", err)
	}

	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing settings: %w", err)
	}
	return &s, nil
}

// SaveSettings writes the settings file, creating its directory
func SaveSettings(path string, s *Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}
	return nil
}

// Apply overlays the settings onto a configuration. Only set fields apply;
// zero values leave the configuration untouched.
func (s *Settings) Apply(cfg *common.Config) {
	if s.DownloadDirectory != "" {
		cfg.Export.DownloadDirectory = s.DownloadDirectory
	}
	if s.BatchDeltaMode != "" {
		cfg.Batch.DeltaMode = s.BatchDeltaMode
	}
	if s.RefreshWatchEnabled {
		cfg.Refresh.Enabled = true
	}
	if s.RefreshWatchLoopSeconds >= 5 {
		cfg.Refresh.LoopSeconds = s.RefreshWatchLoopSeconds
	}
	if s.CentralSQLiteDBPath != "" {
		cfg.Storage.SQLite.Path = s.CentralSQLiteDBPath
	}
	if s.SQLiteBackupDirectory != "" {
		cfg.Storage.SQLite.BackupDirectory = s.SQLiteBackupDirectory
	}
	if s.SQLiteBackupRetentionDays >= 7 {
		cfg.Storage.SQLite.BackupRetentionDays = s.SQLiteBackupRetentionDays
	}
	if s.ExcelExportPolicy != "" {
		cfg.Export.Policy = s.ExcelExportPolicy
	}
	if s.ExcelExportIntervalDays >= 1 {
		cfg.Export.IntervalDays = s.ExcelExportIntervalDays
	}

	applyTimeout(&cfg.Fetcher.PageLoadTimeout, s.PageLoadTimeoutSec)
	applyTimeout(&cfg.Fetcher.ElementWaitTimeout, s.ElementWaitTimeoutSec)
	applyTimeout(&cfg.Fetcher.StabilizeTimeout, s.StabilizeTimeoutSec)
	applyTimeout(&cfg.Fetcher.PostActionTimeout, s.PostActionTimeoutSec)
	applyTimeout(&cfg.Fetcher.CaptchaCheckTimeout, s.CaptchaCheckTimeoutSec)
	applyTimeout(&cfg.Fetcher.DownloadWaitTimeout, s.DownloadWaitTimeoutSec)
	applyTimeout(&cfg.Fetcher.PopupWaitTimeout, s.PopupWaitTimeoutSec)
	applyTimeout(&cfg.Fetcher.PostDownloadClickWait, s.PostDownloadClickWaitSec)
}

func applyTimeout(target *time.Duration, seconds int) {
	if seconds > 0 {
		*target = time.Duration(seconds) * time.Second
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tenderwatch/internal/common"
)

func TestLoadSettings_MissingFileIsEmpty(t *testing.T) {
	s, err := LoadSettings(filepath.Join(t.TempDir(), "nope.json"), arbor.NewLogger())
	require.NoError(t, err)
	assert.Equal(t, &Settings{}, s)
}

func TestLoadSettings_UnknownKeysIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"download_directory": "/data/exports",
		"batch_delta_mode": "full",
		"some_future_option": true
	}`), 0644))

	s, err := LoadSettings(path, arbor.NewLogger())
	require.NoError(t, err)
	assert.Equal(t, "/data/exports", s.DownloadDirectory)
	assert.Equal(t, "full", s.BatchDeltaMode)
}

func TestSettings_Apply(t *testing.T) {
	cfg := common.NewDefaultConfig()
	s := &Settings{
		DownloadDirectory:         "/data/exports",
		BatchDeltaMode:            "full",
		RefreshWatchEnabled:       true,
		RefreshWatchLoopSeconds:   30,
		CentralSQLiteDBPath:       "/data/tenders.db",
		SQLiteBackupRetentionDays: 14,
		PageLoadTimeoutSec:        90,
	}
	s.Apply(cfg)

	assert.Equal(t, "/data/exports", cfg.Export.DownloadDirectory)
	assert.Equal(t, "full", cfg.Batch.DeltaMode)
	assert.True(t, cfg.Refresh.Enabled)
	assert.Equal(t, 30, cfg.Refresh.LoopSeconds)
	assert.Equal(t, "/data/tenders.db", cfg.Storage.SQLite.Path)
	assert.Equal(t, 14, cfg.Storage.SQLite.BackupRetentionDays)
	assert.Equal(t, 90*time.Second, cfg.Fetcher.PageLoadTimeout)
}

func TestSettings_ApplyFloorsIgnored(t *testing.T) {
	cfg := common.NewDefaultConfig()
	originalLoop := cfg.Refresh.LoopSeconds
	originalRetention := cfg.Storage.SQLite.BackupRetentionDays

	s := &Settings{
		RefreshWatchLoopSeconds:   2, // below the 5s floor
		SQLiteBackupRetentionDays: 3, // below the 7 day floor
	}
	s.Apply(cfg)

	assert.Equal(t, originalLoop, cfg.Refresh.LoopSeconds)
	assert.Equal(t, originalRetention, cfg.Storage.SQLite.BackupRetentionDays)
}

func TestSaveSettings_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.json")
	s := &Settings{DownloadDirectory: "/data/exports", ExcelExportPolicy: "interval", ExcelExportIntervalDays: 3}

	require.NoError(t, SaveSettings(path, s))

	loaded, err := LoadSettings(path, arbor.NewLogger())
	require.NoError(t, err)
	assert.Equal(t, s, loaded)
}

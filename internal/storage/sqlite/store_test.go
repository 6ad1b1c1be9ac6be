package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tenderwatch/internal/common"
	"github.com/ternarybob/tenderwatch/internal/interfaces"
	"github.com/ternarybob/tenderwatch/internal/models"
)

func testStore(t *testing.T) interfaces.TenderStore {
	t.Helper()
	logger := arbor.NewLogger()
	db, err := NewSQLiteDB(logger, &common.SQLiteConfig{
		Path:          filepath.Join(t.TempDir(), "tenders.db"),
		CacheSizeMB:   16,
		BusyTimeoutMS: 5000,
		WALMode:       true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewTenderStorage(db, logger)
}

func startRun(t *testing.T, store interfaces.TenderStore) int64 {
	t.Helper()
	runID, err := store.StartRun(context.Background(), "HP Tenders", "https://hptenders.gov.in", models.ScopeAll)
	require.NoError(t, err)
	return runID
}

func tender(id, dept, closing string, runID int64) models.Tender {
	return models.Tender{
		PortalName:     "HP Tenders",
		TenderID:       id,
		DepartmentName: dept,
		ClosingDate:    closing,
		TitleRef:       "Work [" + id + "]",
		RunID:          runID,
	}
}

func TestUpsert_FreshInsert(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	runID, err := store.StartRun(ctx, "HP Tenders", "https://hptenders.gov.in", models.ScopeAll)
	require.NoError(t, err)

	counters, err := store.UpsertCurrentTenders(ctx, "HP Tenders", []models.Tender{
		tender("2026_PWD_10001_1", "Public Works", "15/09/2026", runID),
		tender("2026_PWD_10002_1", "Public Works", "20/09/2026", runID),
	})
	require.NoError(t, err)
	assert.Equal(t, models.UpsertCounters{InsertedNew: 2}, counters)

	current, err := store.CurrentTendersForPortal(ctx, "HP Tenders")
	require.NoError(t, err)
	require.Len(t, current, 2)
	assert.Equal(t, models.TenderActive, current[0].Lifecycle)
}

func TestUpsert_UnchangedTouchesLastSeenOnly(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	row := tender("2026_PWD_10001_1", "Public Works", "15/09/2026", startRun(t, store))
	_, err := store.UpsertCurrentTenders(ctx, "HP Tenders", []models.Tender{row})
	require.NoError(t, err)

	counters, err := store.UpsertCurrentTenders(ctx, "HP Tenders", []models.Tender{row})
	require.NoError(t, err)
	assert.Equal(t, models.UpsertCounters{Unchanged: 1}, counters)

	current, err := store.CurrentTendersForPortal(ctx, "HP Tenders")
	require.NoError(t, err)
	require.Len(t, current, 1)
}

func TestUpsert_EquivalentClosingDateFormsAreUnchanged(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	_, err := store.UpsertCurrentTenders(ctx, "HP Tenders", []models.Tender{
		tender("2026_PWD_10001_1", "Public Works", "15-09-2026 03:00 pm", startRun(t, store)),
	})
	require.NoError(t, err)

	// Same instant, different separators and case
	counters, err := store.UpsertCurrentTenders(ctx, "HP Tenders", []models.Tender{
		tender("2026_PWD_10001_1", "Public Works", "15/09/2026  03:00 PM", startRun(t, store)),
	})
	require.NoError(t, err)
	assert.Equal(t, models.UpsertCounters{Unchanged: 1}, counters)
}

func TestUpsert_ChangedClosingDateUpdates(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	_, err := store.UpsertCurrentTenders(ctx, "HP Tenders", []models.Tender{
		tender("2026_PWD_10001_1", "Public Works", "15/09/2026", startRun(t, store)),
	})
	require.NoError(t, err)

	run2 := startRun(t, store)
	updated := tender("2026_PWD_10001_1", "Public Works", "30/09/2026", run2)
	updated.TitleRef = "Work extended [2026_PWD_10001_1]"
	counters, err := store.UpsertCurrentTenders(ctx, "HP Tenders", []models.Tender{updated})
	require.NoError(t, err)
	assert.Equal(t, models.UpsertCounters{UpdatedClosingDate: 1}, counters)

	current, err := store.CurrentTendersForPortal(ctx, "HP Tenders")
	require.NoError(t, err)
	require.Len(t, current, 1)
	assert.Equal(t, "30/09/2026", current[0].ClosingDate)
	assert.Equal(t, "Work extended [2026_PWD_10001_1]", current[0].TitleRef)
	assert.Equal(t, run2, current[0].RunID)
}

func TestMarkCancelled_IsSticky(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	_, err := store.UpsertCurrentTenders(ctx, "HP Tenders", []models.Tender{
		tender("2026_PWD_10001_1", "Public Works", "15/09/2026", startRun(t, store)),
	})
	require.NoError(t, err)

	marked, err := store.MarkCancelled(ctx, "HP Tenders", []string{"2026_PWD_10001_1", "2026_MISSING_1"}, "portal-feed")
	require.NoError(t, err)
	assert.Equal(t, 1, marked, "only existing ids are marked")

	// A later update with a new closing date must not resurrect the tender
	_, err = store.UpsertCurrentTenders(ctx, "HP Tenders", []models.Tender{
		tender("2026_PWD_10001_1", "Public Works", "30/09/2026", startRun(t, store)),
	})
	require.NoError(t, err)

	current, err := store.CurrentTendersForPortal(ctx, "HP Tenders")
	require.NoError(t, err)
	require.Len(t, current, 1)
	assert.Equal(t, models.TenderCancelled, current[0].Lifecycle)
	assert.Equal(t, "30/09/2026", current[0].ClosingDate, "attributes still update under a sticky cancel")
}

func TestPortalNamesAreCaseInsensitive(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	_, err := store.UpsertCurrentTenders(ctx, "HP Tenders", []models.Tender{
		tender("2026_PWD_10001_1", "Public Works", "15/09/2026", startRun(t, store)),
	})
	require.NoError(t, err)

	counters, err := store.UpsertCurrentTenders(ctx, "  hp tenders ", []models.Tender{
		tender("2026_PWD_10001_1", "Public Works", "15/09/2026", startRun(t, store)),
	})
	require.NoError(t, err)
	assert.Equal(t, models.UpsertCounters{Unchanged: 1}, counters)

	snapshot, err := store.ExistingTenderSnapshotForPortal(ctx, "HP TENDERS")
	require.NoError(t, err)
	assert.Contains(t, snapshot, "2026_PWD_10001_1")
}

func TestFinalizeRun_Idempotent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	runID, err := store.StartRun(ctx, "HP Tenders", "https://hptenders.gov.in", models.ScopeAll)
	require.NoError(t, err)

	fin := models.RunFinalization{
		Status:         models.RunStatusCompleted,
		ExpectedTotal:  10,
		ExtractedTotal: 8,
		OutputFilePath: "/tmp/out.xlsx",
		OutputFileType: "xlsx",
	}
	require.NoError(t, store.FinalizeRun(ctx, runID, fin))

	first, err := store.GetRun(ctx, runID)
	require.NoError(t, err)

	require.NoError(t, store.FinalizeRun(ctx, runID, fin))
	second, err := store.GetRun(ctx, runID)
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusCompleted, second.Status)
	assert.Equal(t, first.CompletedAt, second.CompletedAt, "completed_at is stamped once")
	assert.Equal(t, 8, second.ExtractedTotal)
}

func TestReplaceRunTenders_SupersedesCurrentRow(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	run1, err := store.StartRun(ctx, "HP Tenders", "https://hptenders.gov.in", models.ScopeAll)
	require.NoError(t, err)
	_, err = store.UpsertCurrentTenders(ctx, "HP Tenders", []models.Tender{
		tender("2026_PWD_10001_1", "Public Works", "15/09/2026", run1),
	})
	require.NoError(t, err)

	run2, err := store.StartRun(ctx, "HP Tenders", "https://hptenders.gov.in", models.ScopeAll)
	require.NoError(t, err)

	inserted, err := store.ReplaceRunTenders(ctx, run2, []models.Tender{
		tender("2026_PWD_10001_1", "Public Works", "30/09/2026", run2),
		tender("2026_PWD_10002_1", "Public Works", "20/09/2026", run2),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	// The canonical pair stays unique; the older run's row was superseded
	current, err := store.CurrentTendersForPortal(ctx, "HP Tenders")
	require.NoError(t, err)
	assert.Len(t, current, 2)

	forRun, err := store.TendersForRun(ctx, run2)
	require.NoError(t, err)
	assert.Len(t, forRun, 2)
}

func TestDeleteRun_CascadesTenders(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	runID, err := store.StartRun(ctx, "HP Tenders", "https://hptenders.gov.in", models.ScopeAll)
	require.NoError(t, err)
	_, err = store.UpsertCurrentTenders(ctx, "HP Tenders", []models.Tender{
		tender("2026_PWD_10001_1", "Public Works", "15/09/2026", runID),
	})
	require.NoError(t, err)

	require.NoError(t, store.DeleteRun(ctx, runID))

	current, err := store.CurrentTendersForPortal(ctx, "HP Tenders")
	require.NoError(t, err)
	assert.Empty(t, current, "run deletion removes its tender rows")

	_, err = store.GetRun(ctx, runID)
	assert.Error(t, err)
}

func TestDailyBackupIsCompleteSnapshot(t *testing.T) {
	logger := arbor.NewLogger()
	dir := t.TempDir()
	cfg := &common.SQLiteConfig{
		Path:          filepath.Join(dir, "tenders.db"),
		BusyTimeoutMS: 5000,
		WALMode:       true,
	}

	db, err := NewSQLiteDB(logger, cfg)
	require.NoError(t, err)
	store := NewTenderStorage(db, logger)
	ctx := context.Background()

	runID, err := store.StartRun(ctx, "HP Tenders", "https://hptenders.gov.in", models.ScopeAll)
	require.NoError(t, err)
	_, err = store.UpsertCurrentTenders(ctx, "HP Tenders", []models.Tender{
		tender("2026_PWD_10001_1", "Public Works", "15/09/2026", runID),
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// Reopen with backups enabled; the open sequence writes today's copy
	cfg.BackupDirectory = filepath.Join(dir, "backups")
	cfg.BackupRetentionDays = 7
	db2, err := NewSQLiteDB(logger, cfg)
	require.NoError(t, err)
	defer db2.Close()

	backupPath := filepath.Join(cfg.BackupDirectory, "daily", backupFileName(time.Now()))
	_, err = os.Stat(backupPath)
	require.NoError(t, err)

	// The snapshot must be a standalone, consistent database
	snap, err := sql.Open("sqlite", backupPath)
	require.NoError(t, err)
	defer snap.Close()

	var count int
	require.NoError(t, snap.QueryRow(`SELECT COUNT(*) FROM tenders`).Scan(&count))
	assert.Equal(t, 1, count)

	var runs int
	require.NoError(t, snap.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&runs))
	assert.Equal(t, 1, runs)
}

func TestRecoverInterruptedRuns(t *testing.T) {
	logger := arbor.NewLogger()
	path := filepath.Join(t.TempDir(), "tenders.db")
	cfg := &common.SQLiteConfig{Path: path, CacheSizeMB: 16, BusyTimeoutMS: 5000}

	db, err := NewSQLiteDB(logger, cfg)
	require.NoError(t, err)
	store := NewTenderStorage(db, logger)

	runID, err := store.StartRun(context.Background(), "HP Tenders", "https://hptenders.gov.in", models.ScopeAll)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// Reopen: the run left in "running" is marked interrupted
	db2, err := NewSQLiteDB(logger, cfg)
	require.NoError(t, err)
	defer db2.Close()
	store2 := NewTenderStorage(db2, logger)

	run, err := store2.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusInterrupted, run.Status)
}

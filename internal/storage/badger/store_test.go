package badger

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tenderwatch/internal/common"
	"github.com/ternarybob/tenderwatch/internal/models"
)

func testDB(t *testing.T) *BadgerDB {
	t.Helper()
	db, err := NewBadgerDB(arbor.NewLogger(), &common.BadgerConfig{
		Path: filepath.Join(t.TempDir(), "state"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPendingQueue_EnqueueAndDrain(t *testing.T) {
	queue := NewPendingQueueStorage(testDB(t), arbor.NewLogger())
	ctx := context.Background()

	base := time.Now()
	require.NoError(t, queue.Enqueue(ctx, models.ScrapeRequest{
		ID: "req-2", PortalName: "Kerala Tenders", Scope: models.ScopeWatchTriggered, OnlyNew: true, EnqueuedAt: base.Add(time.Second),
	}))
	require.NoError(t, queue.Enqueue(ctx, models.ScrapeRequest{
		ID: "req-1", PortalName: "HP Tenders", Scope: models.ScopeWatchTriggered, OnlyNew: true, EnqueuedAt: base,
	}))

	n, err := queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	drained, err := queue.DrainAll(ctx)
	require.NoError(t, err)
	require.Len(t, drained, 2)
	assert.Equal(t, "HP Tenders", drained[0].PortalName, "drain returns oldest first")
	assert.Equal(t, "Kerala Tenders", drained[1].PortalName)

	n, err = queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPendingQueue_DuplicatePortalDropped(t *testing.T) {
	queue := NewPendingQueueStorage(testDB(t), arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, queue.Enqueue(ctx, models.ScrapeRequest{ID: "a", PortalName: "HP Tenders", EnqueuedAt: time.Now()}))
	require.NoError(t, queue.Enqueue(ctx, models.ScrapeRequest{ID: "b", PortalName: "HP Tenders", EnqueuedAt: time.Now()}))

	n, err := queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPendingQueue_EmptyDrain(t *testing.T) {
	queue := NewPendingQueueStorage(testDB(t), arbor.NewLogger())

	drained, err := queue.DrainAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, drained)
}

func TestPendingQueue_RequiresID(t *testing.T) {
	queue := NewPendingQueueStorage(testDB(t), arbor.NewLogger())
	assert.Error(t, queue.Enqueue(context.Background(), models.ScrapeRequest{PortalName: "HP Tenders"}))
}

func TestWatchState_RoundTrip(t *testing.T) {
	store, err := NewWatchStateStorage(testDB(t), arbor.NewLogger())
	require.NoError(t, err)
	ctx := context.Background()

	state, err := store.GetState(ctx, "HP Tenders")
	require.NoError(t, err)
	assert.Nil(t, state, "unknown portal has no baseline")

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.SaveState(ctx, models.WatchState{
		Portal: "HP Tenders", Signature: "abc123", LastCheckAt: now,
	}))

	state, err = store.GetState(ctx, "HP Tenders")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, "abc123", state.Signature)

	// Upsert replaces
	require.NoError(t, store.SaveState(ctx, models.WatchState{
		Portal: "HP Tenders", Signature: "def456", LastCheckAt: now.Add(time.Minute),
	}))
	state, err = store.GetState(ctx, "HP Tenders")
	require.NoError(t, err)
	assert.Equal(t, "def456", state.Signature)
}

func TestWatchEvents_NewestFirstAndTrimmed(t *testing.T) {
	store, err := NewWatchStateStorage(testDB(t), arbor.NewLogger())
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < watchHistoryKeep+10; i++ {
		require.NoError(t, store.AppendEvent(ctx, models.WatchEvent{
			Portal:       "HP Tenders",
			Kind:         models.WatchEventChanged,
			NewSignature: fmt.Sprintf("sig-%03d", i),
			ObservedAt:   time.Now(),
		}))
	}

	events, err := store.RecentEvents(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, watchHistoryKeep, "ring keeps only the newest events")
	assert.Equal(t, fmt.Sprintf("sig-%03d", watchHistoryKeep+9), events[0].NewSignature)

	limited, err := store.RecentEvents(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, limited, 5)
}

func TestWatchEvents_CounterSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := &common.BadgerConfig{Path: filepath.Join(dir, "state")}
	logger := arbor.NewLogger()

	db, err := NewBadgerDB(logger, cfg)
	require.NoError(t, err)
	store, err := NewWatchStateStorage(db, logger)
	require.NoError(t, err)
	require.NoError(t, store.AppendEvent(context.Background(), models.WatchEvent{
		Portal: "HP Tenders", Kind: models.WatchEventBaseline, NewSignature: "first",
	}))
	require.NoError(t, db.Close())

	db2, err := NewBadgerDB(logger, cfg)
	require.NoError(t, err)
	defer db2.Close()
	store2, err := NewWatchStateStorage(db2, logger)
	require.NoError(t, err)
	require.NoError(t, store2.AppendEvent(context.Background(), models.WatchEvent{
		Portal: "HP Tenders", Kind: models.WatchEventChanged, NewSignature: "second",
	}))

	events, err := store2.RecentEvents(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "second", events[0].NewSignature, "ids keep increasing across restarts")
}

func TestResetOnStartupClearsState(t *testing.T) {
	dir := t.TempDir()
	logger := arbor.NewLogger()

	db, err := NewBadgerDB(logger, &common.BadgerConfig{Path: filepath.Join(dir, "state")})
	require.NoError(t, err)
	queue := NewPendingQueueStorage(db, logger)
	require.NoError(t, queue.Enqueue(context.Background(), models.ScrapeRequest{ID: "a", PortalName: "HP Tenders"}))
	require.NoError(t, db.Close())

	db2, err := NewBadgerDB(logger, &common.BadgerConfig{Path: filepath.Join(dir, "state"), ResetOnStartup: true})
	require.NoError(t, err)
	defer db2.Close()

	n, err := NewPendingQueueStorage(db2, logger).Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

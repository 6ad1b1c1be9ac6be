package interfaces

import (
	"context"

	"github.com/ternarybob/tenderwatch/internal/models"
)

// TenderStore - authoritative persistence for runs and tenders, dedup lookups,
// atomic run finalization and export-ready queries
type TenderStore interface {
	// Run operations
	StartRun(ctx context.Context, portalName, baseURL string, scope models.ScopeMode) (int64, error)
	FinalizeRun(ctx context.Context, runID int64, fin models.RunFinalization) error
	GetRun(ctx context.Context, runID int64) (*models.Run, error)
	ReplaceRunTenders(ctx context.Context, runID int64, rows []models.Tender) (int, error)
	DeleteRun(ctx context.Context, runID int64) error

	// Reconciliation and dedup
	UpsertCurrentTenders(ctx context.Context, portalName string, rows []models.Tender) (models.UpsertCounters, error)
	ExistingTenderIDsForPortal(ctx context.Context, portalName string) (map[string]struct{}, error)
	ExistingTenderSnapshotForPortal(ctx context.Context, portalName string) (map[string]string, error)
	MarkCancelled(ctx context.Context, portalName string, ids []string, sourceTag string) (int, error)

	// Export query
	CurrentTendersForPortal(ctx context.Context, portalName string) ([]models.Tender, error)
	TendersForRun(ctx context.Context, runID int64) ([]models.Tender, error)

	Close() error
}

// PendingQueue - persistent FIFO of scrape requests fed by the refresh watcher
// and drained by the scheduler when idle
type PendingQueue interface {
	Enqueue(ctx context.Context, req models.ScrapeRequest) error
	DrainAll(ctx context.Context) ([]models.ScrapeRequest, error)
	Len(ctx context.Context) (int, error)
}

// WatchStateStore - persisted refresh-watch signatures and event history
type WatchStateStore interface {
	GetState(ctx context.Context, portal string) (*models.WatchState, error)
	SaveState(ctx context.Context, state models.WatchState) error
	AppendEvent(ctx context.Context, event models.WatchEvent) error
	RecentEvents(ctx context.Context, limit int) ([]models.WatchEvent, error)
}

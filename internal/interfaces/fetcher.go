package interfaces

import (
	"context"

	"github.com/ternarybob/tenderwatch/internal/models"
)

// PortalFetcher fetches listing pages for one portal. The caller does not own
// browser lifecycle details; Reinitialize tears down and rebuilds the fetch
// session after a watchdog alarm or session-dead error.
type PortalFetcher interface {
	// FetchDepartments loads the organisation-list page and returns its rows
	FetchDepartments(ctx context.Context, orgListURL string) ([]models.Department, error)

	// FetchDepartmentRows loads one department's tender listing.
	// shallow requests a quick fetch (no pagination walk) for delta sweeps.
	FetchDepartmentRows(ctx context.Context, dept models.Department, shallow bool) ([]models.Tender, error)

	// Reinitialize recreates the underlying fetch session
	Reinitialize(ctx context.Context) error

	Close() error
}

// FetcherFactory builds a fetcher for a portal. The scheduler hands one to
// each portal run so workers own their session for the run's lifetime.
type FetcherFactory func(portal models.Portal) (PortalFetcher, error)

package badger

import (
	"context"
	"fmt"
	"sort"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/tenderwatch/internal/interfaces"
	"github.com/ternarybob/tenderwatch/internal/models"
)

// PendingQueueStorage implements the PendingQueue interface on Badger.
// Watch-triggered scrape requests survive restarts; the scheduler drains the
// whole queue when it goes idle.
type PendingQueueStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewPendingQueueStorage creates a new pending queue instance
func NewPendingQueueStorage(db *BadgerDB, logger arbor.ILogger) interfaces.PendingQueue {
	return &PendingQueueStorage{
		db:     db,
		logger: logger,
	}
}

// Enqueue stores a scrape request. A portal already pending is not enqueued
// twice; the newer request is dropped.
func (s *PendingQueueStorage) Enqueue(ctx context.Context, req models.ScrapeRequest) error {
	if req.ID == "" {
		return fmt.Errorf("scrape request ID is required")
	}

	var existing []models.ScrapeRequest
	err := s.db.Store().Find(&existing, badgerhold.Where("PortalName").Eq(req.PortalName))
	if err != nil {
		return fmt.Errorf("failed to check pending queue: %w", err)
	}
	if len(existing) > 0 {
		s.logger.Debug().
			Str("portal", req.PortalName).
			Msg("Portal already pending, dropping duplicate request")
		return nil
	}

	if err := s.db.Store().Insert(req.ID, req); err != nil {
		return fmt.Errorf("failed to enqueue scrape request: %w", err)
	}

	s.logger.Info().
		Str("portal", req.PortalName).
		Str("scope", string(req.Scope)).
		Msg("Scrape request enqueued")
	return nil
}

// DrainAll removes and returns all pending requests in FIFO order
func (s *PendingQueueStorage) DrainAll(ctx context.Context) ([]models.ScrapeRequest, error) {
	var requests []models.ScrapeRequest
	if err := s.db.Store().Find(&requests, nil); err != nil {
		return nil, fmt.Errorf("failed to read pending queue: %w", err)
	}
	if len(requests) == 0 {
		return nil, nil
	}

	sort.Slice(requests, func(i, j int) bool {
		return requests[i].EnqueuedAt.Before(requests[j].EnqueuedAt)
	})

	for _, req := range requests {
		if err := s.db.Store().Delete(req.ID, models.ScrapeRequest{}); err != nil {
			return nil, fmt.Errorf("failed to remove request %s: %w", req.ID, err)
		}
	}

	s.logger.Debug().Int("count", len(requests)).Msg("Pending queue drained")
	return requests, nil
}

// Len returns the number of pending requests
func (s *PendingQueueStorage) Len(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(models.ScrapeRequest{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending queue: %w", err)
	}
	return int(count), nil
}

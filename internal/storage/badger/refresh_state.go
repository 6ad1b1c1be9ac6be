package badger

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/tenderwatch/internal/interfaces"
	"github.com/ternarybob/tenderwatch/internal/models"
)

// watchHistoryKeep is the size of the refresh-watch event ring
const watchHistoryKeep = 50

// WatchStateStorage implements the WatchStateStore interface on Badger
type WatchStateStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	nextID uint64
}

// NewWatchStateStorage creates a new watch state storage instance
func NewWatchStateStorage(db *BadgerDB, logger arbor.ILogger) (interfaces.WatchStateStore, error) {
	s := &WatchStateStorage{
		db:     db,
		logger: logger,
	}

	// Seed the event counter from whatever is already persisted
	var events []models.WatchEvent
	if err := db.Store().Find(&events, nil); err != nil {
		return nil, fmt.Errorf("failed to scan watch events: %w", err)
	}
	for _, e := range events {
		if e.ID > s.nextID {
			s.nextID = e.ID
		}
	}

	return s, nil
}

// GetState returns the persisted signature state for a portal, or nil when
// the portal has no baseline yet
func (s *WatchStateStorage) GetState(ctx context.Context, portal string) (*models.WatchState, error) {
	var state models.WatchState
	err := s.db.Store().Get(portal, &state)
	if err == badgerhold.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load watch state: %w", err)
	}
	return &state, nil
}

// SaveState persists the signature state for a portal
func (s *WatchStateStorage) SaveState(ctx context.Context, state models.WatchState) error {
	if err := s.db.Store().Upsert(state.Portal, state); err != nil {
		return fmt.Errorf("failed to save watch state: %w", err)
	}
	return nil
}

// AppendEvent records one observation and trims the ring to the newest 50
func (s *WatchStateStorage) AppendEvent(ctx context.Context, event models.WatchEvent) error {
	event.ID = atomic.AddUint64(&s.nextID, 1)
	if err := s.db.Store().Insert(event.ID, event); err != nil {
		return fmt.Errorf("failed to append watch event: %w", err)
	}
	return s.trim()
}

// RecentEvents returns the newest events, most recent first
func (s *WatchStateStorage) RecentEvents(ctx context.Context, limit int) ([]models.WatchEvent, error) {
	var events []models.WatchEvent
	if err := s.db.Store().Find(&events, nil); err != nil {
		return nil, fmt.Errorf("failed to load watch events: %w", err)
	}

	sort.Slice(events, func(i, j int) bool { return events[i].ID > events[j].ID })
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (s *WatchStateStorage) trim() error {
	var events []models.WatchEvent
	if err := s.db.Store().Find(&events, nil); err != nil {
		return err
	}
	if len(events) <= watchHistoryKeep {
		return nil
	}

	sort.Slice(events, func(i, j int) bool { return events[i].ID < events[j].ID })
	for _, e := range events[:len(events)-watchHistoryKeep] {
		if err := s.db.Store().Delete(e.ID, models.WatchEvent{}); err != nil {
			return err
		}
	}
	return nil
}

package sqlite

import (
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tenderwatch/internal/interfaces"
)

// TenderStorage implements the TenderStore interface on SQLite. Mutations are
// serialized per portal with a short-held mutex on top of the database's own
// transactions; fast-path reads do not take the portal lock.
type TenderStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger

	mu          sync.Mutex // guards portalLocks
	portalLocks map[string]*sync.Mutex
}

// NewTenderStorage creates a new tender storage instance
func NewTenderStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.TenderStore {
	return &TenderStorage{
		db:          db,
		logger:      logger,
		portalLocks: make(map[string]*sync.Mutex),
	}
}

// portalLock returns the mutex for a portal key, creating it on first use
func (s *TenderStorage) portalLock(portalKey string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.portalLocks[portalKey]
	if !ok {
		lock = &sync.Mutex{}
		s.portalLocks[portalKey] = lock
	}
	return lock
}

// Close closes the underlying database
func (s *TenderStorage) Close() error {
	return s.db.Close()
}

// portalKey normalizes a portal name for store lookups
func portalKey(portalName string) string {
	return strings.ToLower(strings.TrimSpace(portalName))
}

// conflictRetryDelay is the backoff before the single retry on an SQL-level
// conflict; a second failure surfaces as ErrStoreConflict.
const conflictRetryDelay = 250 * time.Millisecond

// isConflict reports whether an error looks like a lock/busy conflict worth
// one retry
func isConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "locked") ||
		strings.Contains(msg, "busy") ||
		strings.Contains(msg, "constraint")
}

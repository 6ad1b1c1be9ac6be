package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tenderwatch/internal/models"
)

// Checkpointer owns the batch progress file. Every write lands atomically
// (temp file plus rename in the same directory) so a crash never leaves a
// torn checkpoint behind. One Checkpointer per batch; callers serialize
// through its mutex.
type Checkpointer struct {
	path   string
	mu     sync.Mutex
	state  *models.Checkpoint
	logger arbor.ILogger
}

// New creates a checkpointer writing to path. The file is not touched until
// Begin or a mutation is called.
func New(path string, logger arbor.ILogger) *Checkpointer {
	return &Checkpointer{
		path:   path,
		logger: logger,
	}
}

// Load reads an existing checkpoint. Returns (nil, nil) when the file does
// not exist, and an error for unreadable or version-incompatible files so
// the caller can decide whether to start fresh.
func Load(path string) (*models.Checkpoint, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}

	var cp models.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parsing checkpoint: %w", err)
	}
	if cp.Version != models.CheckpointVersion {
		return nil, fmt.Errorf("checkpoint version %d, want %d", cp.Version, models.CheckpointVersion)
	}
	return &cp, nil
}

// Begin initializes checkpoint state for a new batch over the given portals.
// When resumed is non-nil its totals become the base the new batch adds onto
// and its per-portal progress (processed department sets included) carries
// forward.
func (c *Checkpointer) Begin(portals []string, workerCount int, workerNames []string, resumed *models.Checkpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := &models.Checkpoint{
		Version:          models.CheckpointVersion,
		IsScraping:       true,
		AllPortals:       append([]string(nil), portals...),
		RemainingPortals: append([]string(nil), portals...),
		WorkerCount:      workerCount,
		WorkerNames:      append([]string(nil), workerNames...),
		PortalProgress:   make(map[string]models.PortalProgress),
	}

	if resumed != nil {
		state.Totals = resumed.Totals
		state.CompletedPortals = append([]string(nil), resumed.CompletedPortals...)
		for name, progress := range resumed.PortalProgress {
			state.PortalProgress[name] = progress
		}
		// Portals already completed in the prior batch drop out of remaining
		done := make(map[string]struct{}, len(resumed.CompletedPortals))
		for _, name := range resumed.CompletedPortals {
			done[models.NormalizePortalName(name)] = struct{}{}
		}
		remaining := state.RemainingPortals[:0]
		for _, name := range state.RemainingPortals {
			if _, ok := done[models.NormalizePortalName(name)]; !ok {
				remaining = append(remaining, name)
			}
		}
		state.RemainingPortals = remaining
	}

	c.state = state
	return c.writeLocked()
}

// ResumeBase returns the totals carried over from a resumed checkpoint so
// live counters can add onto them. Zero totals when starting fresh.
func (c *Checkpointer) ResumeBase() models.CheckpointTotals {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return models.CheckpointTotals{}
	}
	return c.state.Totals
}

// ProcessedDepartments returns the resumed processed-department set for a
// portal, keyed by lowercased trimmed names. Nil when none recorded.
func (c *Checkpointer) ProcessedDepartments(portal string) map[string]struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return nil
	}
	progress, ok := c.state.PortalProgress[models.NormalizePortalName(portal)]
	if !ok || len(progress.ProcessedDepartments) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(progress.ProcessedDepartments))
	for _, name := range progress.ProcessedDepartments {
		set[name] = struct{}{}
	}
	return set
}

// DepartmentDone records one completed department for a portal and persists.
// The processed set stays deduplicated and sorted for stable files.
func (c *Checkpointer) DepartmentDone(portal, department string, tendersFound, skipped, reprocessed int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return nil
	}

	key := models.NormalizePortalName(portal)
	progress := c.state.PortalProgress[key]

	normalized := models.NormalizePortalName(department)
	seen := false
	for _, existing := range progress.ProcessedDepartments {
		if existing == normalized {
			seen = true
			break
		}
	}
	if !seen {
		progress.ProcessedDepartments = append(progress.ProcessedDepartments, normalized)
		sort.Strings(progress.ProcessedDepartments)
		c.state.Totals.Departments++
	}

	progress.DeptCurrent = len(progress.ProcessedDepartments)
	progress.TendersFound += tendersFound
	progress.Status = "scraping"
	progress.UpdatedAt = time.Now()
	c.state.PortalProgress[key] = progress

	c.state.Totals.Tenders += tendersFound
	c.state.Totals.SkippedExisting += skipped
	c.state.Totals.ClosingDateReprocessed += reprocessed

	return c.writeLocked()
}

// PortalStarted records discovery results for a portal and persists
func (c *Checkpointer) PortalStarted(portal string, deptTotal, expectedTenders int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return nil
	}

	key := models.NormalizePortalName(portal)
	progress := c.state.PortalProgress[key]
	progress.DeptTotal = deptTotal
	progress.ExpectedDepartments = deptTotal
	progress.ExpectedTenders = expectedTenders
	progress.Status = "scraping"
	progress.UpdatedAt = time.Now()
	c.state.PortalProgress[key] = progress

	return c.writeLocked()
}

// PortalCompleted moves a portal from remaining to completed and persists
func (c *Checkpointer) PortalCompleted(portal, status string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return nil
	}

	key := models.NormalizePortalName(portal)
	remaining := c.state.RemainingPortals[:0]
	for _, name := range c.state.RemainingPortals {
		if models.NormalizePortalName(name) != key {
			remaining = append(remaining, name)
		}
	}
	c.state.RemainingPortals = remaining
	c.state.CompletedPortals = append(c.state.CompletedPortals, portal)
	c.state.Totals.Portals++

	progress := c.state.PortalProgress[key]
	progress.Status = status
	progress.UpdatedAt = time.Now()
	c.state.PortalProgress[key] = progress

	return c.writeLocked()
}

// Finish ends the batch. With no remaining portals the checkpoint file is
// deleted; otherwise it is kept with is_scraping false so the next start can
// offer a resume.
func (c *Checkpointer) Finish() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return nil
	}

	if len(c.state.RemainingPortals) == 0 {
		c.state = nil
		if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing checkpoint: %w", err)
		}
		c.logger.Debug().Str("path", c.path).Msg("Checkpoint removed, batch complete")
		return nil
	}

	c.state.IsScraping = false
	return c.writeLocked()
}

// Snapshot returns a deep-enough copy of the current state for reporting
func (c *Checkpointer) Snapshot() *models.Checkpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return nil
	}
	clone := *c.state
	clone.PortalProgress = make(map[string]models.PortalProgress, len(c.state.PortalProgress))
	for name, progress := range c.state.PortalProgress {
		clone.PortalProgress[name] = progress
	}
	return &clone
}

// writeLocked persists the state atomically. Callers hold c.mu.
func (c *Checkpointer) writeLocked() error {
	c.state.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(c.state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating checkpoint directory: %w", err)
	}

	// Temp file in the same directory so the rename stays atomic
	tmp, err := os.CreateTemp(dir, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("creating checkpoint temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing checkpoint temp file: %w", err)
	}

	if err := os.Rename(tmpName, c.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing checkpoint: %w", err)
	}
	return nil
}

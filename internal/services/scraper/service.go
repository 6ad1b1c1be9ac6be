package scraper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tenderwatch/internal/interfaces"
	"github.com/ternarybob/tenderwatch/internal/models"
	"github.com/ternarybob/tenderwatch/internal/services/limiter"
)

// Service runs one portal end to end: department discovery, per-department
// row extraction with session recovery, duplicate filtering against the
// store's current state and per-department upserts. One Service per portal
// run; the scheduler owns dispatch and checkpointing.
type Service struct {
	store    interfaces.TenderStore
	fetcher  interfaces.PortalFetcher
	limiter  *limiter.DomainLimiter
	events   interfaces.EventService
	logger   arbor.ILogger
	opts     Options
	watchdog *Watchdog
}

// NewService wires a portal run. The fetcher is owned by the caller and must
// outlive Run.
func NewService(
	store interfaces.TenderStore,
	fetcher interfaces.PortalFetcher,
	domainLimiter *limiter.DomainLimiter,
	events interfaces.EventService,
	logger arbor.ILogger,
	opts Options,
) *Service {
	return &Service{
		store:   store,
		fetcher: fetcher,
		limiter: domainLimiter,
		events:  events,
		logger:  logger,
		opts:    opts,
	}
}

// Run executes the portal run. The returned summary is always usable, even
// when err is non-nil; the scheduler finalizes the run record and exports
// from it. A cancelled context stops the run at the next department boundary
// with partial results persisted.
func (s *Service) Run(ctx context.Context) (*models.PortalSummary, error) {
	portal := s.opts.Portal
	summary := &models.PortalSummary{
		PortalName: portal.Name,
		RunID:      s.opts.RunID,
	}

	s.watchdog = NewWatchdog(portal.Name, s.opts.InactivityThreshold, s.opts.SleepJumpThreshold, s.logger)
	s.watchdog.Start()
	defer s.watchdog.Stop()

	s.logger.Info().
		Str("portal", portal.Name).
		Str("url", portal.OrgListURL).
		Int64("run_id", s.opts.RunID).
		Msg("Starting portal run")

	departments, err := s.discoverDepartments(ctx)
	if err != nil {
		summary.Status = models.StatusScrapeError
		summary.ErrorCount = 1
		summary.ErrorMessages = []string{err.Error()}
		return summary, fmt.Errorf("department discovery for %s: %w", portal.Name, err)
	}

	s.publishSync(ctx, interfaces.EventDepartmentsLoaded, map[string]interface{}{
		"portal":      portal.Name,
		"departments": len(departments),
	})

	if len(departments) == 0 {
		summary.Status = models.StatusNoDepartments
		s.logger.Warn().Str("portal", portal.Name).Msg("No valid departments on listing page")
		return summary, nil
	}

	for _, dept := range departments {
		summary.ExpectedTotalTenders += dept.AdvertisedCount()
	}

	// Snapshot of current store state: canonical id -> normalized closing date.
	// Drives the fast-path duplicate filter; updated in memory as departments
	// land so later departments dedup against earlier ones in the same run.
	snapshot, err := s.store.ExistingTenderSnapshotForPortal(ctx, portal.Name)
	if err != nil {
		summary.Status = models.StatusScrapeError
		summary.ErrorCount = 1
		summary.ErrorMessages = []string{err.Error()}
		return summary, fmt.Errorf("loading existing tenders for %s: %w", portal.Name, err)
	}

	stopped := s.visitDepartments(ctx, departments, snapshot, summary, false)

	if !stopped && s.opts.OnlyNew && s.opts.DeltaMode != "" && summary.ErrorCount == 0 {
		s.deltaSweep(ctx, departments, snapshot, summary)
	}

	switch {
	case stopped:
		summary.Status = models.StatusStopped
		summary.PartialSaved = true
	case summary.ErrorCount > 0 && summary.ProcessedDepartments == 0:
		summary.Status = models.StatusScrapeError
		summary.PartialSaved = summary.ExtractedTotalTenders > 0
	default:
		summary.Status = models.StatusCompleted
	}

	s.logger.Info().
		Str("portal", portal.Name).
		Str("status", summary.Status).
		Int("extracted", summary.ExtractedTotalTenders).
		Int("skipped", summary.SkippedExistingTotal).
		Int("departments", summary.ProcessedDepartments).
		Int("errors", summary.ErrorCount).
		Msg("Portal run finished")

	return summary, nil
}

// discoverDepartments fetches the organisation listing and returns the valid
// departments in run order, honoring any selected-department restriction.
func (s *Service) discoverDepartments(ctx context.Context) ([]models.Department, error) {
	rows, err := s.fetchDepartmentList(ctx)
	if err != nil {
		return nil, err
	}

	selected := make(map[string]struct{}, len(s.opts.SelectedDepartments))
	for _, name := range s.opts.SelectedDepartments {
		selected[strings.ToLower(strings.TrimSpace(name))] = struct{}{}
	}

	departments := make([]models.Department, 0, len(rows))
	for _, dept := range rows {
		if !dept.IsValid() {
			continue
		}
		if len(selected) > 0 {
			if _, ok := selected[dept.NormalizedName()]; !ok {
				continue
			}
		}
		if s.opts.DepartmentFilter != "" &&
			!strings.Contains(dept.NormalizedName(), strings.ToLower(strings.TrimSpace(s.opts.DepartmentFilter))) {
			continue
		}
		departments = append(departments, dept)
	}
	return departments, nil
}

// fetchDepartmentList fetches the organisation listing under the portal's
// domain slot, recovering once through a session rebuild when the session
// looks dead.
func (s *Service) fetchDepartmentList(ctx context.Context) ([]models.Department, error) {
	if err := s.recoverIfRequested(ctx); err != nil {
		return nil, err
	}

	host := s.opts.Portal.Hostname()
	if err := s.limiter.Acquire(ctx, host); err != nil {
		return nil, err
	}
	defer s.limiter.Release(host)

	rows, err := s.fetcher.FetchDepartments(ctx, s.opts.Portal.OrgListURL)
	if err != nil && isSessionDead(err) {
		s.logger.Warn().Str("portal", s.opts.Portal.Name).Err(err).Msg("Session dead on listing fetch, recovering")
		if rerr := s.fetcher.Reinitialize(ctx); rerr != nil {
			return nil, fmt.Errorf("session recovery: %w", rerr)
		}
		s.watchdog.Heartbeat()
		rows, err = s.fetcher.FetchDepartments(ctx, s.opts.Portal.OrgListURL)
	}
	if err != nil {
		return nil, err
	}
	s.watchdog.Heartbeat()
	return rows, nil
}

// visitDepartments walks the department list, extracting and upserting per
// department. Returns true when a stop request interrupted the walk. Failed
// departments are recorded and skipped; the walk continues.
func (s *Service) visitDepartments(
	ctx context.Context,
	departments []models.Department,
	snapshot map[string]string,
	summary *models.PortalSummary,
	sweep bool,
) (stopped bool) {
	host := s.opts.Portal.Hostname()

	for i, dept := range departments {
		if ctx.Err() != nil {
			s.logger.Info().
				Str("portal", s.opts.Portal.Name).
				Str("department", dept.Name).
				Msg("Stop requested, halting at department boundary")
			return true
		}

		if _, done := s.opts.ResumeProcessedDepartments[dept.NormalizedName()]; done && !sweep {
			s.logger.Debug().Str("department", dept.Name).Msg("Already processed in prior run, skipping")
			continue
		}

		result := s.processDepartment(ctx, host, dept, snapshot, summary, sweep)
		if result.Failed {
			summary.ErrorCount++
			summary.FailedDepartments = append(summary.FailedDepartments, dept.Name)
			if len(summary.ErrorMessages) < maxErrorSamples {
				summary.ErrorMessages = append(summary.ErrorMessages, result.Error)
			}
		} else if !sweep {
			summary.ProcessedDepartments++
			summary.ProcessedDepartmentNames = append(summary.ProcessedDepartmentNames, dept.Name)
		}

		s.watchdog.Heartbeat()
		s.publishSync(ctx, interfaces.EventDepartmentDone, result)
		s.publish(ctx, interfaces.EventProgress, models.Progress{
			PortalName:       s.opts.Portal.Name,
			CurrentDeptIndex: i + 1,
			TotalDepts:       len(departments),
			ExtractedSoFar:   summary.ExtractedTotalTenders,
			ExpectedTotal:    summary.ExpectedTotalTenders,
			PendingDepts:     len(departments) - i - 1,
			DepartmentName:   dept.Name,
		})
	}
	return false
}

// processDepartment fetches one department, canonicalizes its rows, applies
// the fast-path duplicate filter and upserts the batch.
func (s *Service) processDepartment(
	ctx context.Context,
	host string,
	dept models.Department,
	snapshot map[string]string,
	summary *models.PortalSummary,
	sweep bool,
) DepartmentResult {
	result := DepartmentResult{
		PortalName:     s.opts.Portal.Name,
		DepartmentName: dept.Name,
	}

	if err := s.limiter.Acquire(ctx, host); err != nil {
		result.Failed = true
		result.Error = err.Error()
		return result
	}
	defer s.limiter.Release(host)

	shallow := sweep && s.opts.DeltaMode != DeltaModeFull
	rows, err := s.fetchRows(ctx, dept, shallow)
	if err != nil {
		s.logger.Warn().
			Str("portal", s.opts.Portal.Name).
			Str("department", dept.Name).
			Err(err).
			Msg("Department fetch failed")
		result.Failed = true
		result.Error = fmt.Sprintf("%s: %v", dept.Name, err)
		return result
	}

	batch, skipped, reprocessed := s.reconcileRows(dept, rows, snapshot, summary)
	result.Skipped = skipped
	summary.SkippedExistingTotal += skipped
	summary.ClosingDateReprocessed += reprocessed

	if len(batch) == 0 {
		return result
	}

	counters, err := s.store.UpsertCurrentTenders(ctx, s.opts.Portal.Name, batch)
	if err != nil {
		result.Failed = true
		result.Error = fmt.Sprintf("%s: upsert: %v", dept.Name, err)
		return result
	}

	// Count only rows that passed the fast-path filter as extracted; the
	// touch rows in the batch just refresh last_seen_at.
	extracted := len(batch) - skipped
	result.Extracted = extracted
	result.Counters = counters

	if sweep {
		summary.DeltaSweepExtracted += extracted
	}
	summary.ExtractedTotalTenders += extracted
	for _, row := range batch {
		snapshot[row.TenderID] = models.NormalizeClosingDate(row.ClosingDate)
	}

	return result
}

// reconcileRows canonicalizes raw rows and splits them from the store's point
// of view: rows whose id and normalized closing date match the snapshot are
// skipped (but kept in the batch so last_seen_at refreshes); rows with a
// changed closing date are counted for reprocessing. Rows without an
// extractable canonical id are dropped with a diagnostic.
func (s *Service) reconcileRows(
	dept models.Department,
	rows []models.Tender,
	snapshot map[string]string,
	summary *models.PortalSummary,
) (batch []models.Tender, skipped, reprocessed int) {
	now := time.Now()
	batch = make([]models.Tender, 0, len(rows))

	for _, row := range rows {
		id := row.TenderID
		if !models.IsCanonicalTenderID(id) {
			id = ExtractTenderID(row.TitleRef)
		}
		if id == "" {
			s.logger.Debug().
				Str("department", dept.Name).
				Str("title", truncate(row.TitleRef, 80)).
				Msg("No canonical tender id in row, dropping")
			continue
		}

		row.TenderID = id
		row.PortalName = s.opts.Portal.Name
		row.DepartmentName = dept.Name
		row.RunID = s.opts.RunID
		row.Lifecycle = models.TenderActive
		row.FirstSeenAt = now
		row.LastSeenAt = now

		if prev, exists := snapshot[id]; exists {
			if prev == models.NormalizeClosingDate(row.ClosingDate) {
				skipped++
				batch = append(batch, row)
				continue
			}
			reprocessed++
		} else {
			summary.ExtractedTenderIDs = append(summary.ExtractedTenderIDs, id)
		}
		batch = append(batch, row)
	}

	sort.Strings(summary.ExtractedTenderIDs)
	return batch, skipped, reprocessed
}

// fetchRows loads one department's rows, honoring pending watchdog alarms and
// retrying once through a session rebuild when the session looks dead.
func (s *Service) fetchRows(ctx context.Context, dept models.Department, shallow bool) ([]models.Tender, error) {
	if err := s.recoverIfRequested(ctx); err != nil {
		return nil, err
	}

	rows, err := s.fetcher.FetchDepartmentRows(ctx, dept, shallow)
	if err == nil {
		return rows, nil
	}
	if !isSessionDead(err) {
		return nil, err
	}

	s.logger.Warn().
		Str("department", dept.Name).
		Err(err).
		Msg("Session dead, rebuilding and retrying once")
	if rerr := s.fetcher.Reinitialize(ctx); rerr != nil {
		return nil, errors.Join(err, fmt.Errorf("session recovery: %w", rerr))
	}
	s.watchdog.Heartbeat()

	return s.fetcher.FetchDepartmentRows(ctx, dept, shallow)
}

// recoverIfRequested rebuilds the fetch session when the watchdog raised an
// alarm since the last fetch
func (s *Service) recoverIfRequested(ctx context.Context) error {
	if !s.watchdog.ConsumeRecoveryRequest() {
		return nil
	}
	s.logger.Warn().Str("portal", s.opts.Portal.Name).Msg("Watchdog alarm, rebuilding fetch session")
	if err := s.fetcher.Reinitialize(ctx); err != nil {
		return fmt.Errorf("watchdog recovery: %w", err)
	}
	s.watchdog.Heartbeat()
	return nil
}

// deltaSweep re-walks every department with shallow fetches after a clean
// only-new run, catching rows published while earlier departments were being
// visited. Extractions land in DeltaSweepExtracted on top of the run totals.
func (s *Service) deltaSweep(
	ctx context.Context,
	departments []models.Department,
	snapshot map[string]string,
	summary *models.PortalSummary,
) {
	s.logger.Info().
		Str("portal", s.opts.Portal.Name).
		Str("mode", s.opts.DeltaMode).
		Msg("Starting delta sweep")

	s.visitDepartments(ctx, departments, snapshot, summary, true)

	if summary.DeltaSweepExtracted > 0 {
		s.logger.Info().
			Str("portal", s.opts.Portal.Name).
			Int("extracted", summary.DeltaSweepExtracted).
			Msg("Delta sweep found new tenders")
	}
}

func (s *Service) publish(ctx context.Context, eventType interfaces.EventType, payload interface{}) {
	if s.events == nil {
		return
	}
	_ = s.events.Publish(ctx, interfaces.Event{
		Type:    eventType,
		Portal:  s.opts.Portal.Name,
		Payload: payload,
	})
}

// publishSync delivers the event before returning. Department milestones feed
// the scheduler's checkpoint; those writes must land in walk order and before
// the run's summary is read.
func (s *Service) publishSync(ctx context.Context, eventType interfaces.EventType, payload interface{}) {
	if s.events == nil {
		return
	}
	_ = s.events.PublishSync(ctx, interfaces.Event{
		Type:    eventType,
		Portal:  s.opts.Portal.Name,
		Payload: payload,
	})
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tenderwatch/internal/common"
	"github.com/ternarybob/tenderwatch/internal/interfaces"
	"github.com/ternarybob/tenderwatch/internal/models"
	"github.com/ternarybob/tenderwatch/internal/services/checkpoint"
	"github.com/ternarybob/tenderwatch/internal/services/export"
	"github.com/ternarybob/tenderwatch/internal/services/limiter"
	"github.com/ternarybob/tenderwatch/internal/services/scraper"
)

// Batch modes
const (
	ModeSequential = "sequential"
	ModeParallel   = "parallel"
)

// maxWorkerCap bounds parallel workers regardless of configuration; the
// portals share outbound IP space and more workers than this draws blocks
const maxWorkerCap = 6

// BatchOptions configures one batch over a set of portals
type BatchOptions struct {
	Portals             []models.Portal
	Mode                string
	MaxParallel         int
	Scope               models.ScopeMode
	SelectedDepartments []string
	DepartmentFilter    string
	OnlyNew             bool
	DeltaMode           string

	// Resume picks up a prior interrupted batch from the checkpoint file
	Resume bool
}

// Scheduler dispatches portal runs, owns the batch checkpoint and writes the
// batch report. Workers publish department events; the scheduler is the only
// writer of the checkpoint file.
type Scheduler struct {
	store          interfaces.TenderStore
	fetcherFactory interfaces.FetcherFactory
	limiter        *limiter.DomainLimiter
	events         interfaces.EventService
	exporter       *export.Exporter
	queue          interfaces.PendingQueue
	config         *common.Config
	checkpointPath string
	logger         arbor.ILogger
}

// NewScheduler wires a scheduler. checkpointPath is the batch progress file;
// queue may be nil when refresh watching is disabled.
func NewScheduler(
	store interfaces.TenderStore,
	fetcherFactory interfaces.FetcherFactory,
	domainLimiter *limiter.DomainLimiter,
	events interfaces.EventService,
	exporter *export.Exporter,
	queue interfaces.PendingQueue,
	config *common.Config,
	checkpointPath string,
	logger arbor.ILogger,
) *Scheduler {
	return &Scheduler{
		store:          store,
		fetcherFactory: fetcherFactory,
		limiter:        domainLimiter,
		events:         events,
		exporter:       exporter,
		queue:          queue,
		config:         config,
		checkpointPath: checkpointPath,
		logger:         logger,
	}
}

// RunBatch runs the portals per the options and returns the batch report.
// A cancelled context stops at department and portal boundaries; progress is
// checkpointed so the next start can resume.
func (s *Scheduler) RunBatch(ctx context.Context, opts BatchOptions) (*BatchReport, error) {
	if len(opts.Portals) == 0 {
		return nil, fmt.Errorf("no portals to run")
	}

	workers := s.workerCount(opts)
	workerNames := make([]string, workers)
	for i := range workerNames {
		workerNames[i] = fmt.Sprintf("worker-%d", i+1)
	}

	var resumed *models.Checkpoint
	if opts.Resume {
		cp, err := checkpoint.Load(s.checkpointPath)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Checkpoint unreadable, starting fresh")
		} else if cp != nil {
			resumed = cp
			s.logger.Info().
				Int("completed", len(cp.CompletedPortals)).
				Int("remaining", len(cp.RemainingPortals)).
				Msg("Resuming prior batch from checkpoint")
		}
	}

	names := make([]string, len(opts.Portals))
	for i, p := range opts.Portals {
		names[i] = p.Name
	}

	cp := checkpoint.New(s.checkpointPath, s.logger)
	if err := cp.Begin(names, workers, workerNames, resumed); err != nil {
		return nil, fmt.Errorf("initializing checkpoint: %w", err)
	}

	s.subscribeCheckpointEvents(cp)

	// Portals already completed in the resumed batch are skipped outright
	alreadyDone := make(map[string]struct{})
	if resumed != nil {
		for _, name := range resumed.CompletedPortals {
			alreadyDone[models.NormalizePortalName(name)] = struct{}{}
		}
	}
	pending := make([]models.Portal, 0, len(opts.Portals))
	for _, portal := range opts.Portals {
		if _, done := alreadyDone[portal.NormalizedName()]; done {
			continue
		}
		pending = append(pending, portal)
	}

	report := &BatchReport{
		StartedAt:   time.Now(),
		Mode:        opts.Mode,
		WorkerCount: workers,
		PortalCount: len(opts.Portals),
	}

	var summaries []models.PortalSummary
	if opts.Mode == ModeParallel && workers > 1 {
		summaries = s.runParallel(ctx, cp, pending, workers, opts)
	} else {
		summaries = s.runSequential(ctx, cp, pending, opts)
	}

	for _, summary := range summaries {
		if summary.Status == models.StatusScrapeError {
			report.FailedPortals++
		} else {
			report.CompletedPortals++
		}
	}
	report.Stopped = ctx.Err() != nil
	report.Summaries = summaries
	report.CompletedAt = time.Now()
	if snapshot := cp.Snapshot(); snapshot != nil {
		report.Totals = snapshot.Totals
	}

	if err := cp.Finish(); err != nil {
		s.logger.Warn().Err(err).Msg("Finishing checkpoint failed")
	}

	if dir, err := writeReports(s.config.Reports.Directory, *report); err != nil {
		s.logger.Warn().Err(err).Msg("Writing batch report failed")
	} else {
		s.logger.Info().Str("dir", dir).Msg("Batch report written")
	}

	if s.events != nil {
		_ = s.events.PublishSync(ctx, interfaces.Event{
			Type:    interfaces.EventCompleted,
			Payload: report,
		})
	}

	return report, nil
}

// DrainPending runs a watch-triggered batch over every queued scrape request.
// Requests whose portal is not in known are dropped with a warning. No-op
// when the queue is empty or absent.
func (s *Scheduler) DrainPending(ctx context.Context, known []models.Portal) (*BatchReport, error) {
	if s.queue == nil {
		return nil, nil
	}
	requests, err := s.queue.DrainAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("draining pending queue: %w", err)
	}
	if len(requests) == 0 {
		return nil, nil
	}

	byName := make(map[string]models.Portal, len(known))
	for _, p := range known {
		byName[p.NormalizedName()] = p
	}

	var portals []models.Portal
	seen := make(map[string]struct{})
	for _, req := range requests {
		key := models.NormalizePortalName(req.PortalName)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		portal, ok := byName[key]
		if !ok {
			s.logger.Warn().Str("portal", req.PortalName).Msg("Queued request for unknown portal, dropping")
			continue
		}
		portals = append(portals, portal)
	}
	if len(portals) == 0 {
		return nil, nil
	}

	s.logger.Info().Int("portals", len(portals)).Msg("Running watch-triggered batch from pending queue")
	return s.RunBatch(ctx, BatchOptions{
		Portals:   portals,
		Mode:      ModeSequential,
		Scope:     models.ScopeWatchTriggered,
		OnlyNew:   true,
		DeltaMode: s.config.Batch.DeltaMode,
	})
}

func (s *Scheduler) runSequential(
	ctx context.Context,
	cp *checkpoint.Checkpointer,
	portals []models.Portal,
	opts BatchOptions,
) []models.PortalSummary {
	summaries := make([]models.PortalSummary, 0, len(portals))

	for i, portal := range portals {
		if ctx.Err() != nil {
			s.logger.Info().Msg("Stop requested, halting batch at portal boundary")
			break
		}
		if i > 0 {
			if err := s.limiter.StartupDelay(ctx); err != nil {
				break
			}
		}

		summary := s.runPortalWithRetries(ctx, cp, portal, opts)
		summaries = append(summaries, summary)

		if err := cp.PortalCompleted(portal.Name, summary.Status); err != nil {
			s.logger.Warn().Str("portal", portal.Name).Err(err).Msg("Checkpointing portal completion failed")
		}
	}
	return summaries
}

func (s *Scheduler) runParallel(
	ctx context.Context,
	cp *checkpoint.Checkpointer,
	portals []models.Portal,
	workers int,
	opts BatchOptions,
) []models.PortalSummary {
	jobs := make(chan models.Portal)
	var mu sync.Mutex
	var summaries []models.PortalSummary
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		worker := fmt.Sprintf("worker-%d", i+1)
		go func() {
			defer wg.Done()

			// Spread worker starts so a burst of first fetches does not land
			// on the portals at once
			if err := s.limiter.StartupDelay(ctx); err != nil {
				return
			}

			for portal := range jobs {
				if ctx.Err() != nil {
					return
				}
				s.logger.Debug().Str("worker", worker).Str("portal", portal.Name).Msg("Worker picked up portal")

				summary := s.runPortalWithRetries(ctx, cp, portal, opts)

				mu.Lock()
				summaries = append(summaries, summary)
				mu.Unlock()

				if err := cp.PortalCompleted(portal.Name, summary.Status); err != nil {
					s.logger.Warn().Str("portal", portal.Name).Err(err).Msg("Checkpointing portal completion failed")
				}
			}
		}()
	}

	// FIFO dispatch; stop drops the remaining portals, the checkpoint keeps
	// them in remaining_portals for resume
feed:
	for _, portal := range portals {
		select {
		case jobs <- portal:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	return summaries
}

// runPortalWithRetries wraps one portal run in the probable-block retry loop:
// up to max_retries extra attempts with escalating backoff, only for errors
// that look like rate blocking.
func (s *Scheduler) runPortalWithRetries(
	ctx context.Context,
	cp *checkpoint.Checkpointer,
	portal models.Portal,
	opts BatchOptions,
) models.PortalSummary {
	maxRetries := s.limiter.MaxRetries()

	for attempt := 0; ; attempt++ {
		summary := s.runPortalOnce(ctx, cp, portal, opts)
		if summary.Status != models.StatusScrapeError {
			return summary
		}

		blocked := false
		for _, msg := range summary.ErrorMessages {
			if s.limiter.IsProbableBlock(msg) {
				blocked = true
				break
			}
		}
		if !blocked || attempt >= maxRetries || ctx.Err() != nil {
			return summary
		}

		s.logger.Warn().
			Str("portal", portal.Name).
			Int("attempt", attempt+1).
			Msg("Probable rate block, backing off before retry")
		if err := s.limiter.Backoff(ctx, attempt); err != nil {
			return summary
		}
	}
}

// runPortalOnce executes a single attempt: fresh fetcher and run record,
// scrape, export, finalize.
func (s *Scheduler) runPortalOnce(
	ctx context.Context,
	cp *checkpoint.Checkpointer,
	portal models.Portal,
	opts BatchOptions,
) models.PortalSummary {
	fetcher, err := s.fetcherFactory(portal)
	if err != nil {
		s.logger.Error().Str("portal", portal.Name).Err(err).Msg("Building fetcher failed")
		return models.PortalSummary{
			PortalName:    portal.Name,
			Status:        models.StatusScrapeError,
			ErrorCount:    1,
			ErrorMessages: []string{err.Error()},
		}
	}
	defer fetcher.Close()

	runID, err := s.store.StartRun(ctx, portal.Name, portal.BaseURL, opts.Scope)
	if err != nil {
		s.logger.Error().Str("portal", portal.Name).Err(err).Msg("Starting run record failed")
		return models.PortalSummary{
			PortalName:    portal.Name,
			Status:        models.StatusScrapeError,
			ErrorCount:    1,
			ErrorMessages: []string{err.Error()},
		}
	}

	svc := scraper.NewService(s.store, fetcher, s.limiter, s.events, s.logger, scraper.Options{
		Portal:                     portal,
		RunID:                      runID,
		Scope:                      opts.Scope,
		SelectedDepartments:        opts.SelectedDepartments,
		DepartmentFilter:           opts.DepartmentFilter,
		OnlyNew:                    opts.OnlyNew,
		DeltaMode:                  opts.DeltaMode,
		ResumeProcessedDepartments: cp.ProcessedDepartments(portal.Name),
	})

	summary, runErr := svc.Run(ctx)
	if runErr != nil {
		s.logger.Error().Str("portal", portal.Name).Err(runErr).Msg("Portal run failed")
	}

	// No export for a portal with no departments or a discovery failure.
	// Partial exports bypass the interval policy so an interrupted run never
	// loses its progress file.
	exportDue := summary.PartialSaved ||
		s.exporter.Due(portal, s.config.Export.Policy, s.config.Export.IntervalDays)
	if exportDue && summary.Status != models.StatusNoDepartments && summary.RunID != 0 && summary.ProcessedDepartments > 0 {
		result, exportErr := s.exporter.ExportPortal(ctx, portal, summary.PartialSaved)
		if exportErr != nil {
			s.logger.Warn().Str("portal", portal.Name).Err(exportErr).Msg("Export failed")
			summary.ErrorCount++
			if len(summary.ErrorMessages) < 10 {
				summary.ErrorMessages = append(summary.ErrorMessages, exportErr.Error())
			}
		} else if result.Path != "" {
			summary.OutputFilePath = result.Path
			summary.OutputFileType = result.FileType
		}
	}

	fin := models.RunFinalization{
		Status:          runStatusFor(summary.Status),
		ExpectedTotal:   summary.ExpectedTotalTenders,
		ExtractedTotal:  summary.ExtractedTotalTenders,
		SkippedExisting: summary.SkippedExistingTotal,
		PartialSaved:    summary.PartialSaved,
		OutputFilePath:  summary.OutputFilePath,
		OutputFileType:  summary.OutputFileType,
	}
	if err := s.store.FinalizeRun(context.WithoutCancel(ctx), runID, fin); err != nil {
		s.logger.Warn().Str("portal", portal.Name).Err(err).Msg("Finalizing run failed")
	}

	if s.events != nil {
		_ = s.events.Publish(ctx, interfaces.Event{
			Type:    interfaces.EventPortalCompleted,
			Portal:  portal.Name,
			Payload: summary,
		})
	}

	return *summary
}

// subscribeCheckpointEvents serializes worker department events into the
// checkpoint. The scheduler is the only checkpoint writer; workers never
// touch the file.
func (s *Scheduler) subscribeCheckpointEvents(cp *checkpoint.Checkpointer) {
	if s.events == nil {
		return
	}

	_ = s.events.Subscribe(interfaces.EventDepartmentDone, func(ctx context.Context, event interfaces.Event) error {
		result, ok := event.Payload.(scraper.DepartmentResult)
		if !ok || result.Failed {
			return nil
		}
		return cp.DepartmentDone(
			result.PortalName,
			result.DepartmentName,
			result.Extracted,
			result.Skipped,
			result.Counters.UpdatedClosingDate,
		)
	})

	_ = s.events.Subscribe(interfaces.EventDepartmentsLoaded, func(ctx context.Context, event interfaces.Event) error {
		payload, ok := event.Payload.(map[string]interface{})
		if !ok {
			return nil
		}
		count, _ := payload["departments"].(int)
		return cp.PortalStarted(event.Portal, count, 0)
	})
}

func (s *Scheduler) workerCount(opts BatchOptions) int {
	if opts.Mode != ModeParallel {
		return 1
	}
	workers := opts.MaxParallel
	if workers < 1 {
		workers = 1
	}
	if workers > len(opts.Portals) {
		workers = len(opts.Portals)
	}
	if workers > maxWorkerCap {
		workers = maxWorkerCap
	}
	return workers
}

// runStatusFor maps a summary status to the stored run status
func runStatusFor(status string) models.RunStatus {
	switch status {
	case models.StatusCompleted, models.StatusNoDepartments:
		return models.RunStatusCompleted
	case models.StatusStopped:
		return models.RunStatusStopped
	default:
		return models.RunStatusError
	}
}

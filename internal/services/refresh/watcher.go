package refresh

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tenderwatch/internal/interfaces"
	"github.com/ternarybob/tenderwatch/internal/models"
	"github.com/ternarybob/tenderwatch/internal/services/limiter"
)

// Watcher polls portal organisation listings on a schedule, fingerprints
// them and enqueues scrape requests when a fingerprint changes. It never
// scrapes tender rows itself; the scheduler drains its queue.
type Watcher struct {
	portals        map[string]models.Portal
	rules          []models.WatchRule
	states         interfaces.WatchStateStore
	queue          interfaces.PendingQueue
	fetcherFactory interfaces.FetcherFactory
	limiter        *limiter.DomainLimiter
	events         interfaces.EventService
	logger         arbor.ILogger

	cron *cron.Cron
}

// NewWatcher wires a refresh watcher over the given rules. Portals the rules
// reference must be present in portals (keyed by normalized name); rules for
// unknown portals are dropped with a warning.
func NewWatcher(
	portals []models.Portal,
	rules []models.WatchRule,
	states interfaces.WatchStateStore,
	queue interfaces.PendingQueue,
	fetcherFactory interfaces.FetcherFactory,
	domainLimiter *limiter.DomainLimiter,
	events interfaces.EventService,
	logger arbor.ILogger,
) *Watcher {
	byName := make(map[string]models.Portal, len(portals))
	for _, p := range portals {
		byName[p.NormalizedName()] = p
	}
	return &Watcher{
		portals:        byName,
		rules:          rules,
		states:         states,
		queue:          queue,
		fetcherFactory: fetcherFactory,
		limiter:        domainLimiter,
		events:         events,
		logger:         logger,
	}
}

// Start schedules the enabled watch rules. Each rule runs on its own
// interval; a minimum of one minute is enforced.
func (w *Watcher) Start(ctx context.Context) error {
	w.cron = cron.New()

	scheduled := 0
	for _, rule := range w.rules {
		if !rule.Enabled {
			continue
		}
		portal, ok := w.portals[models.NormalizePortalName(rule.Portal)]
		if !ok {
			w.logger.Warn().Str("portal", rule.Portal).Msg("Watch rule references unknown portal, skipping")
			continue
		}

		interval := rule.IntervalMinutes
		if interval < 1 {
			interval = 1
		}
		spec := fmt.Sprintf("@every %dm", interval)
		p := portal
		if _, err := w.cron.AddFunc(spec, func() {
			if err := w.CheckPortal(ctx, p); err != nil {
				w.logger.Warn().Str("portal", p.Name).Err(err).Msg("Watch check failed")
			}
		}); err != nil {
			return fmt.Errorf("scheduling watch for %s: %w", portal.Name, err)
		}
		scheduled++
	}

	w.cron.Start()
	w.logger.Info().Int("portals", scheduled).Msg("Refresh watcher started")
	return nil
}

// Stop halts the schedule and waits for in-flight checks
func (w *Watcher) Stop() {
	if w.cron == nil {
		return
	}
	stopCtx := w.cron.Stop()
	<-stopCtx.Done()
	w.logger.Info().Msg("Refresh watcher stopped")
}

// CheckPortal performs one watch check: fetch the listing, fingerprint it and
// compare against the persisted state. First observation records a baseline
// without enqueueing; a changed fingerprint enqueues a scrape request.
func (w *Watcher) CheckPortal(ctx context.Context, portal models.Portal) error {
	fetcher, err := w.fetcherFactory(portal)
	if err != nil {
		return fmt.Errorf("building fetcher: %w", err)
	}
	defer fetcher.Close()

	host := portal.Hostname()
	if err := w.limiter.Acquire(ctx, host); err != nil {
		return err
	}
	defer w.limiter.Release(host)

	departments, err := fetcher.FetchDepartments(ctx, portal.OrgListURL)
	if err != nil {
		return fmt.Errorf("fetching listing: %w", err)
	}

	signature := Signature(departments)
	now := time.Now()

	state, err := w.states.GetState(ctx, portal.NormalizedName())
	if err != nil {
		return fmt.Errorf("loading watch state: %w", err)
	}

	if state == nil {
		w.logger.Info().
			Str("portal", portal.Name).
			Str("signature", signature[:12]).
			Msg("Watch baseline recorded")

		if err := w.states.AppendEvent(ctx, models.WatchEvent{
			Portal:       portal.NormalizedName(),
			Kind:         models.WatchEventBaseline,
			NewSignature: signature,
			ObservedAt:   now,
		}); err != nil {
			return fmt.Errorf("recording baseline event: %w", err)
		}
		return w.states.SaveState(ctx, models.WatchState{
			Portal:      portal.NormalizedName(),
			Signature:   signature,
			LastCheckAt: now,
		})
	}

	if state.Signature == signature {
		state.LastCheckAt = now
		return w.states.SaveState(ctx, *state)
	}

	w.logger.Info().
		Str("portal", portal.Name).
		Str("old", state.Signature[:12]).
		Str("new", signature[:12]).
		Msg("Listing changed, enqueueing scrape")

	if err := w.states.AppendEvent(ctx, models.WatchEvent{
		Portal:       portal.NormalizedName(),
		Kind:         models.WatchEventChanged,
		OldSignature: state.Signature,
		NewSignature: signature,
		ObservedAt:   now,
	}); err != nil {
		return fmt.Errorf("recording change event: %w", err)
	}

	if err := w.queue.Enqueue(ctx, models.ScrapeRequest{
		ID:         uuid.New().String(),
		PortalName: portal.Name,
		Scope:      models.ScopeWatchTriggered,
		OnlyNew:    true,
		EnqueuedAt: now,
	}); err != nil {
		return fmt.Errorf("enqueueing scrape request: %w", err)
	}

	if w.events != nil {
		_ = w.events.Publish(ctx, interfaces.Event{
			Type:   interfaces.EventWatchTriggered,
			Portal: portal.Name,
			Payload: map[string]interface{}{
				"old_signature": state.Signature,
				"new_signature": signature,
			},
		})
	}

	state.Signature = signature
	state.LastCheckAt = now
	state.LastEventAt = now
	return w.states.SaveState(ctx, *state)
}

// ExportHistory writes the recent watch events to a CSV file, newest first
func (w *Watcher) ExportHistory(ctx context.Context, path string, limit int) error {
	events, err := w.states.RecentEvents(ctx, limit)
	if err != nil {
		return fmt.Errorf("loading watch history: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating history file: %w", err)
	}
	defer file.Close()

	cw := csv.NewWriter(file)
	if err := cw.Write([]string{"observed_at", "portal", "kind", "old_signature", "new_signature"}); err != nil {
		return err
	}
	for _, event := range events {
		if err := cw.Write([]string{
			event.ObservedAt.Format(time.RFC3339),
			event.Portal,
			string(event.Kind),
			event.OldSignature,
			event.NewSignature,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

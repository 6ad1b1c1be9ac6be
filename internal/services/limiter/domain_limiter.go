package limiter

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/tenderwatch/internal/common"
)

// blockMarkers identify responses that look like rate blocking
var blockMarkers = []string{
	"429",
	"503",
	"too many requests",
	"rate limit",
	"temporarily blocked",
	"captcha",
}

// DomainLimiter enforces per-hostname concurrency caps, spreads traffic with
// randomized delays and drives backoff when a portal rate-blocks us.
// Per-host state is created on first use under the table mutex.
type DomainLimiter struct {
	hosts  map[string]*hostLimiter
	mu     sync.Mutex
	cfg    common.IPSafetyConfig
	logger arbor.ILogger
}

// hostLimiter tracks one hostname: a semaphore bounding in-flight fetches and
// a pacing limiter spacing successive acquisitions by the minimum delay.
type hostLimiter struct {
	slots  chan struct{}
	pacing *rate.Limiter
}

// NewDomainLimiter creates a limiter with the given IP-safety knobs
func NewDomainLimiter(cfg common.IPSafetyConfig, logger arbor.ILogger) *DomainLimiter {
	if cfg.PerDomainMax < 1 {
		cfg.PerDomainMax = 1
	}
	if cfg.MaxDelaySec < cfg.MinDelaySec {
		cfg.MaxDelaySec = cfg.MinDelaySec
	}
	return &DomainLimiter{
		hosts:  make(map[string]*hostLimiter),
		cfg:    cfg,
		logger: logger,
	}
}

func (dl *DomainLimiter) host(hostname string) *hostLimiter {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	h, ok := dl.hosts[hostname]
	if !ok {
		var pacing *rate.Limiter
		if dl.cfg.MinDelaySec > 0 {
			pacing = rate.NewLimiter(rate.Every(time.Duration(dl.cfg.MinDelaySec*float64(time.Second))), 1)
		} else {
			pacing = rate.NewLimiter(rate.Inf, 1)
		}
		h = &hostLimiter{
			slots:  make(chan struct{}, dl.cfg.PerDomainMax),
			pacing: pacing,
		}
		dl.hosts[hostname] = h
	}
	return h
}

// Acquire blocks until at most per_domain_max acquisitions are outstanding
// for this hostname, then sleeps a randomized delay inside the configured
// min/max window. Sleeps abort when the context is cancelled.
func (dl *DomainLimiter) Acquire(ctx context.Context, hostname string) error {
	if hostname == "" {
		return nil
	}
	h := dl.host(hostname)

	select {
	case h.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	// Pacing covers the minimum spacing; jitter fills out the window
	if err := h.pacing.Wait(ctx); err != nil {
		<-h.slots
		return err
	}
	if jitter := dl.jitter(); jitter > 0 {
		timer := time.NewTimer(jitter)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			<-h.slots
			return ctx.Err()
		}
	}
	return nil
}

// Release frees the host slot. A configured cooldown delays the release so
// the next acquisition cannot start early.
func (dl *DomainLimiter) Release(hostname string) {
	if hostname == "" {
		return
	}
	h := dl.host(hostname)

	if dl.cfg.CooldownSec > 0 {
		time.Sleep(time.Duration(dl.cfg.CooldownSec * float64(time.Second)))
	}

	select {
	case <-h.slots:
	default:
		// Release without matching acquire; nothing to free
		dl.logger.Warn().Str("host", hostname).Msg("Release without acquire")
	}
}

// IsProbableBlock reports whether an error message looks like rate blocking
func (dl *DomainLimiter) IsProbableBlock(errText string) bool {
	lower := strings.ToLower(errText)
	for _, marker := range blockMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// Backoff waits max(cooldown, 5) x (attempt+1) seconds before the next retry.
// Returns early if the context is cancelled.
func (dl *DomainLimiter) Backoff(ctx context.Context, attempt int) error {
	base := dl.cfg.CooldownSec
	if base < 5 {
		base = 5
	}
	wait := time.Duration(base*float64(attempt+1)) * time.Second

	dl.logger.Info().
		Int("attempt", attempt+1).
		Dur("wait", wait).
		Msg("Backing off after probable rate block")

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MaxRetries returns the configured retry budget for probable-block errors
func (dl *DomainLimiter) MaxRetries() int {
	return dl.cfg.MaxRetries
}

// jitter picks the random part of the delay window
func (dl *DomainLimiter) jitter() time.Duration {
	span := dl.cfg.MaxDelaySec - dl.cfg.MinDelaySec
	if span <= 0 {
		return 0
	}
	return time.Duration(rand.Float64() * span * float64(time.Second))
}

// StartupDelay sleeps uniform(min_delay, max_delay), used between sequential
// portals and before a parallel worker's first fetch
func (dl *DomainLimiter) StartupDelay(ctx context.Context) error {
	delay := time.Duration(dl.cfg.MinDelaySec*float64(time.Second)) + dl.jitter()
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

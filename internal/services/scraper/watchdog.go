package scraper

import (
	"sync"
	"time"

	"github.com/ternarybob/arbor"
)

// Watchdog defaults (overridable per instance)
const (
	defaultInactivityThreshold = 120 * time.Second
	defaultSleepJumpThreshold  = 180 * time.Second
	watchdogTick               = 10 * time.Second
)

// Watchdog is the per-portal inactivity and sleep-jump detector. Heartbeats
// reset both clocks; when either threshold trips, a recovery request is
// raised once and held until consumed.
type Watchdog struct {
	mu                  sync.Mutex
	lastActivityMono    time.Time // monotonic reading, inactivity detection
	lastActivityWall    int64     // wall-clock unix seconds, sleep-jump detection
	recoveryRequested   bool
	inactivityThreshold time.Duration
	sleepJumpThreshold  time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
	logger arbor.ILogger
	portal string
}

// NewWatchdog creates a watchdog for one portal run. Zero thresholds select
// the defaults (120s inactivity, 180s sleep jump).
func NewWatchdog(portal string, inactivity, sleepJump time.Duration, logger arbor.ILogger) *Watchdog {
	if inactivity <= 0 {
		inactivity = defaultInactivityThreshold
	}
	if sleepJump <= 0 {
		sleepJump = defaultSleepJumpThreshold
	}
	return &Watchdog{
		inactivityThreshold: inactivity,
		sleepJumpThreshold:  sleepJump,
		stopCh:              make(chan struct{}),
		doneCh:              make(chan struct{}),
		logger:              logger,
		portal:              portal,
	}
}

// Start launches the 10-second check loop
func (w *Watchdog) Start() {
	w.Heartbeat()
	go w.loop()
}

// Stop tears the watchdog down and waits for the loop to exit
func (w *Watchdog) Stop() {
	select {
	case <-w.stopCh:
		// already stopped
	default:
		close(w.stopCh)
	}
	<-w.doneCh
}

// Heartbeat records activity, resetting both detection clocks
func (w *Watchdog) Heartbeat() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastActivityMono = time.Now()
	w.lastActivityWall = time.Now().Unix()
}

// ConsumeRecoveryRequest returns true at most once per raised alarm; the
// caller then reinitializes its fetch session and calls Heartbeat.
func (w *Watchdog) ConsumeRecoveryRequest() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.recoveryRequested {
		return false
	}
	w.recoveryRequested = false
	return true
}

func (w *Watchdog) loop() {
	defer close(w.doneCh)

	ticker := time.NewTicker(watchdogTick)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watchdog) check() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.recoveryRequested {
		return // alarm pending, wait for consumption
	}

	// Wall-clock jump first: a sleep/resume can also look like inactivity
	wallGap := time.Duration(time.Now().Unix()-w.lastActivityWall) * time.Second
	if wallGap >= w.sleepJumpThreshold {
		w.recoveryRequested = true
		w.logger.Warn().
			Str("portal", w.portal).
			Dur("gap", wallGap).
			Msg("Wall-clock jump detected, requesting session recovery")
		return
	}

	if idle := time.Since(w.lastActivityMono); idle >= w.inactivityThreshold {
		w.recoveryRequested = true
		w.logger.Warn().
			Str("portal", w.portal).
			Dur("idle", idle).
			Msg("Inactivity threshold reached, requesting session recovery")
	}
}

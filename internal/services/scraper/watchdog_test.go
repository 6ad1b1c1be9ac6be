package scraper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/arbor"
)

func TestWatchdog_NoAlarmWithoutThreshold(t *testing.T) {
	w := NewWatchdog("test-portal", time.Hour, time.Hour, arbor.NewLogger())
	w.Heartbeat()

	w.check()
	assert.False(t, w.ConsumeRecoveryRequest())
}

func TestWatchdog_InactivityAlarmConsumedOnce(t *testing.T) {
	w := NewWatchdog("test-portal", 50*time.Millisecond, time.Hour, arbor.NewLogger())
	w.Heartbeat()

	time.Sleep(80 * time.Millisecond)
	w.check()

	assert.True(t, w.ConsumeRecoveryRequest(), "alarm should be raised after inactivity")
	assert.False(t, w.ConsumeRecoveryRequest(), "alarm must be consumable only once")
}

func TestWatchdog_HeartbeatResetsClock(t *testing.T) {
	w := NewWatchdog("test-portal", 100*time.Millisecond, time.Hour, arbor.NewLogger())
	w.Heartbeat()

	time.Sleep(60 * time.Millisecond)
	w.Heartbeat()
	time.Sleep(60 * time.Millisecond)
	w.check()

	// Neither interval alone crossed the threshold
	assert.False(t, w.ConsumeRecoveryRequest())
}

func TestWatchdog_AlarmHeldUntilConsumed(t *testing.T) {
	w := NewWatchdog("test-portal", 30*time.Millisecond, time.Hour, arbor.NewLogger())
	w.Heartbeat()

	time.Sleep(50 * time.Millisecond)
	w.check()
	// A later heartbeat does not clear a pending alarm
	w.Heartbeat()

	assert.True(t, w.ConsumeRecoveryRequest())
}

func TestWatchdog_StartStop(t *testing.T) {
	w := NewWatchdog("test-portal", time.Hour, time.Hour, arbor.NewLogger())
	w.Start()
	w.Stop()
	// Stop is idempotent through the select guard
	assert.NotPanics(t, func() { w.Stop() })
}

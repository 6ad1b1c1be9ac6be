package limiter

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tenderwatch/internal/common"
)

func newTestLimiter(cfg common.IPSafetyConfig) *DomainLimiter {
	return NewDomainLimiter(cfg, arbor.NewLogger())
}

func TestAcquire_BoundsConcurrency(t *testing.T) {
	dl := newTestLimiter(common.IPSafetyConfig{PerDomainMax: 2})
	ctx := context.Background()

	var inFlight, maxSeen int32
	done := make(chan struct{})

	for i := 0; i < 6; i++ {
		go func() {
			require.NoError(t, dl.Acquire(ctx, "portal.example.in"))
			n := atomic.AddInt32(&inFlight, 1)
			for {
				seen := atomic.LoadInt32(&maxSeen)
				if n <= seen || atomic.CompareAndSwapInt32(&maxSeen, seen, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			dl.Release("portal.example.in")
			done <- struct{}{}
		}()
	}
	for i := 0; i < 6; i++ {
		<-done
	}

	assert.LessOrEqual(t, atomic.LoadInt32(&maxSeen), int32(2))
}

func TestAcquire_SeparateHostsIndependent(t *testing.T) {
	dl := newTestLimiter(common.IPSafetyConfig{PerDomainMax: 1})
	ctx := context.Background()

	require.NoError(t, dl.Acquire(ctx, "a.example.in"))
	// A second host is not blocked by the first host's slot
	require.NoError(t, dl.Acquire(ctx, "b.example.in"))
	dl.Release("a.example.in")
	dl.Release("b.example.in")
}

func TestAcquire_CancelledContext(t *testing.T) {
	dl := newTestLimiter(common.IPSafetyConfig{PerDomainMax: 1})

	require.NoError(t, dl.Acquire(context.Background(), "portal.example.in"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := dl.Acquire(ctx, "portal.example.in")
	assert.ErrorIs(t, err, context.Canceled)

	dl.Release("portal.example.in")
}

func TestAcquire_EmptyHostnameIsNoop(t *testing.T) {
	dl := newTestLimiter(common.IPSafetyConfig{PerDomainMax: 1})
	assert.NoError(t, dl.Acquire(context.Background(), ""))
	dl.Release("")
}

func TestIsProbableBlock(t *testing.T) {
	dl := newTestLimiter(common.IPSafetyConfig{PerDomainMax: 1})

	blocked := []string{
		"server returned 429",
		"HTTP 503 Service Unavailable",
		"Too Many Requests from your IP",
		"rate limit exceeded",
		"you are temporarily blocked",
		"please solve the CAPTCHA",
	}
	for _, msg := range blocked {
		assert.True(t, dl.IsProbableBlock(msg), "expected block for %q", msg)
	}

	assert.False(t, dl.IsProbableBlock("connection refused"))
	assert.False(t, dl.IsProbableBlock("HTTP 500 internal error"))
	assert.False(t, dl.IsProbableBlock(""))
}

func TestBackoff_CancelledContext(t *testing.T) {
	dl := newTestLimiter(common.IPSafetyConfig{PerDomainMax: 1, CooldownSec: 60})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := dl.Backoff(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMaxRetries(t *testing.T) {
	dl := newTestLimiter(common.IPSafetyConfig{PerDomainMax: 1, MaxRetries: 3})
	assert.Equal(t, 3, dl.MaxRetries())
}

func TestStartupDelay_ZeroConfigReturnsImmediately(t *testing.T) {
	dl := newTestLimiter(common.IPSafetyConfig{PerDomainMax: 1})

	start := time.Now()
	require.NoError(t, dl.StartupDelay(context.Background()))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

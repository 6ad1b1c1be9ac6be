package scheduler

import (
	"context"
	"sync"
)

// StopSignal folds the two stop sources (user request, OS signal via the
// parent context) into one cancellation token. Portal runs observe it at
// department boundaries; pending work is saved, not abandoned.
type StopSignal struct {
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// NewStopSignal derives a stop signal from a parent context
func NewStopSignal(parent context.Context) *StopSignal {
	ctx, cancel := context.WithCancel(parent)
	return &StopSignal{ctx: ctx, cancel: cancel}
}

// Stop requests a graceful stop. Safe to call more than once.
func (s *StopSignal) Stop() {
	s.once.Do(s.cancel)
}

// Context returns the derived cancellation token
func (s *StopSignal) Context() context.Context {
	return s.ctx
}

// Stopped reports whether a stop was requested
func (s *StopSignal) Stopped() bool {
	return s.ctx.Err() != nil
}

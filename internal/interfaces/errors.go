package interfaces

import "errors"

// Typed error kinds shared across the scraper, limiter and scheduler.
// Propagation policy lives with the consumers: the scraper recovers
// FetchTimeout/SessionDead once per attempt, the limiter drives RateBlock
// backoff, StopRequested is cooperative cancellation.
var (
	ErrFetchTimeout  = errors.New("fetch timeout")
	ErrSessionDead   = errors.New("fetch session dead")
	ErrRateBlocked   = errors.New("rate blocked")
	ErrStoreConflict = errors.New("store conflict")
	ErrStopRequested = errors.New("stop requested")
	ErrParse         = errors.New("parse error")
)

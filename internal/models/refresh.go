package models

import "time"

// WatchRule configures refresh watching for one portal
type WatchRule struct {
	Portal          string `json:"portal"`
	IntervalMinutes int    `json:"interval_minutes"`
	Enabled         bool   `json:"enabled"`
}

// WatchState is the persisted per-portal signature state
type WatchState struct {
	Portal      string    `badgerhold:"key" json:"portal"`
	Signature   string    `json:"signature"`
	LastCheckAt time.Time `json:"last_check_at"`
	LastEventAt time.Time `json:"last_event_at,omitempty"`
}

// WatchEventKind distinguishes baseline records from change detections
type WatchEventKind string

const (
	WatchEventBaseline WatchEventKind = "baseline"
	WatchEventChanged  WatchEventKind = "changed"
)

// WatchEvent is one refresh-watch observation, kept in a ring of the last 50
type WatchEvent struct {
	ID           uint64         `badgerhold:"key" json:"id"`
	Portal       string         `badgerhold:"index" json:"portal"`
	Kind         WatchEventKind `json:"kind"`
	OldSignature string         `json:"old_signature,omitempty"`
	NewSignature string         `json:"new_signature"`
	ObservedAt   time.Time      `json:"observed_at"`
}

// ScrapeRequest is a queued request for the scheduler, produced by the
// refresh watcher when a portal signature changes.
type ScrapeRequest struct {
	ID         string    `badgerhold:"key" json:"id"`
	PortalName string    `badgerhold:"index" json:"portal_name"`
	Scope      ScopeMode `json:"scope"`
	OnlyNew    bool      `json:"only_new"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

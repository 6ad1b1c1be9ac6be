package scraper

import (
	"time"

	"github.com/ternarybob/tenderwatch/internal/models"
)

// DeltaMode selects how the optional final sweep behaves
const (
	DeltaModeQuick = "quick"
	DeltaModeFull  = "full"
)

// Options configures a single portal run
type Options struct {
	Portal      models.Portal
	RunID       int64
	Scope       models.ScopeMode
	DownloadDir string

	// SelectedDepartments restricts the run to these department names
	// (case-insensitive); empty means all valid departments
	SelectedDepartments []string

	// DepartmentFilter keeps only departments whose name contains this
	// substring (case-insensitive). Applied after SelectedDepartments.
	DepartmentFilter string

	// OnlyNew enables the fast-path duplicate filter and the delta sweep
	OnlyNew   bool
	DeltaMode string

	// ResumeProcessedDepartments holds lowercased, trimmed names of
	// departments already completed in a prior partial run
	ResumeProcessedDepartments map[string]struct{}

	// Watchdog thresholds; zero selects defaults
	InactivityThreshold time.Duration
	SleepJumpThreshold  time.Duration
}

// DepartmentResult is published after each completed department; the
// scheduler serializes these into the checkpoint.
type DepartmentResult struct {
	PortalName     string                `json:"portal_name"`
	DepartmentName string                `json:"department_name"`
	Extracted      int                   `json:"extracted"`
	Skipped        int                   `json:"skipped"`
	Counters       models.UpsertCounters `json:"counters"`
	Failed         bool                  `json:"failed"`
	Error          string                `json:"error,omitempty"`
}

// maxErrorSamples caps the error messages carried in the portal summary
const maxErrorSamples = 10

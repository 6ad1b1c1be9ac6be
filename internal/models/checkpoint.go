package models

import "time"

// CheckpointVersion is bumped when the checkpoint JSON shape changes
const CheckpointVersion = 2

// Checkpoint is the crash-safe scheduler progress blob, written atomically
// after every material event and deleted only when a batch ends with no
// remaining portals.
type Checkpoint struct {
	Version           int                       `json:"version"`
	UpdatedAt         time.Time                 `json:"updated_at"`
	IsScraping        bool                      `json:"is_scraping"`
	AllPortals        []string                  `json:"all_portals"`
	CompletedPortals  []string                  `json:"completed_portals"`
	RemainingPortals  []string                  `json:"remaining_portals"`
	WorkerCount       int                       `json:"worker_count"`
	WorkerNames       []string                  `json:"worker_names"`
	Totals            CheckpointTotals          `json:"totals"`
	PortalProgress    map[string]PortalProgress `json:"portal_progress"`
}

// CheckpointTotals are the aggregated batch counters. On resume these become
// the base that live counters add onto, so displayed totals never regress.
type CheckpointTotals struct {
	Tenders                int `json:"tenders"`
	Departments            int `json:"departments"`
	Portals                int `json:"portals"`
	SkippedExisting        int `json:"skipped_existing"`
	ClosingDateReprocessed int `json:"closing_date_reprocessed"`
}

// PortalProgress is per-portal checkpoint state. ProcessedDepartments is a
// deduplicated set of lowercased, trimmed department names.
type PortalProgress struct {
	ProcessedDepartments []string  `json:"processed_departments"`
	DeptCurrent          int       `json:"dept_current"`
	DeptTotal            int       `json:"dept_total"`
	ExpectedDepartments  int       `json:"expected_departments"`
	TendersFound         int       `json:"tenders_found"`
	ExpectedTenders      int       `json:"expected_tenders"`
	Status               string    `json:"status"`
	UpdatedAt            time.Time `json:"updated_at"`
}

package models

import "time"

// RunStatus is the terminal or in-flight status string of a run
type RunStatus string

const (
	RunStatusRunning     RunStatus = "running"
	RunStatusCompleted   RunStatus = "completed"
	RunStatusError       RunStatus = "error"
	RunStatusStopped     RunStatus = "stopped"
	RunStatusInterrupted RunStatus = "interrupted" // set by the recovery scan after a crash
)

// ScopeMode describes what a run was asked to cover
type ScopeMode string

const (
	ScopeAll            ScopeMode = "all"
	ScopeSelected       ScopeMode = "selected"
	ScopeImport         ScopeMode = "import"
	ScopeWatchTriggered ScopeMode = "watch-triggered"
)

// Run is one scrape attempt against one portal
type Run struct {
	ID              int64     `json:"id"`
	PortalName      string    `json:"portal_name"`
	BaseURL         string    `json:"base_url"`
	ScopeMode       ScopeMode `json:"scope_mode"`
	StartedAt       time.Time `json:"started_at"`
	CompletedAt     time.Time `json:"completed_at,omitempty"`
	Status          RunStatus `json:"status"`
	ExpectedTotal   int       `json:"expected_total"`
	ExtractedTotal  int       `json:"extracted_total"`
	SkippedExisting int       `json:"skipped_existing"`
	PartialSaved    bool      `json:"partial_saved"`
	OutputFilePath  string    `json:"output_file_path,omitempty"`
	OutputFileType  string    `json:"output_file_type,omitempty"`
}

// RunFinalization carries the counters written at run completion.
// FinalizeRun with identical values is idempotent.
type RunFinalization struct {
	Status          RunStatus
	ExpectedTotal   int
	ExtractedTotal  int
	SkippedExisting int
	PartialSaved    bool
	OutputFilePath  string
	OutputFileType  string
}

// UpsertCounters are the three reconciliation outcomes of one upsert batch
type UpsertCounters struct {
	InsertedNew        int `json:"inserted_new"`
	UpdatedClosingDate int `json:"updated_closing_date"`
	Unchanged          int `json:"unchanged"`
}

// Add accumulates another batch's counters
func (c *UpsertCounters) Add(other UpsertCounters) {
	c.InsertedNew += other.InsertedNew
	c.UpdatedClosingDate += other.UpdatedClosingDate
	c.Unchanged += other.Unchanged
}

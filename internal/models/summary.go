package models

// PortalSummary is returned by a portal run (C3) and fed into the scheduler's
// per-portal report.
type PortalSummary struct {
	PortalName                string   `json:"portal_name"`
	Status                    string   `json:"status"`
	ExpectedTotalTenders      int      `json:"expected_total_tenders"`
	ExtractedTotalTenders     int      `json:"extracted_total_tenders"`
	SkippedExistingTotal      int      `json:"skipped_existing_total"`
	ProcessedDepartments      int      `json:"processed_departments"`
	ProcessedDepartmentNames  []string `json:"processed_department_names"`
	ExtractedTenderIDs        []string `json:"extracted_tender_ids"`
	ClosingDateReprocessed    int      `json:"closing_date_reprocessed_total"`
	DeltaSweepExtracted       int      `json:"delta_sweep_extracted"`
	OutputFilePath            string   `json:"output_file_path,omitempty"`
	OutputFileType            string   `json:"output_file_type,omitempty"`
	PartialSaved              bool     `json:"partial_saved"`
	ErrorCount                int      `json:"error_count"`
	ErrorMessages             []string `json:"error_messages,omitempty"`
	FailedDepartments         []string `json:"failed_departments,omitempty"`
	RunID                     int64    `json:"run_id"`
}

// StatusCompleted is the summary status of a clean portal run
const StatusCompleted = "Completed"

// StatusStopped is the summary status when a stop request interrupted the run
// at a department boundary. Partial results are persisted and exported.
const StatusStopped = "Stopped"

// StatusNoDepartments is the summary status when a portal listing has no
// valid departments. No export file is emitted in this case.
const StatusNoDepartments = "No departments found"

// StatusScrapeError is the summary status when a portal run fails after
// retries; partial results are still persisted and exported.
const StatusScrapeError = "Error during scraping"

// Progress is emitted after each department so shells can render a dashboard
type Progress struct {
	PortalName       string `json:"portal_name"`
	CurrentDeptIndex int    `json:"current_dept_index"`
	TotalDepts       int    `json:"total_depts"`
	ExtractedSoFar   int    `json:"extracted_so_far"`
	ExpectedTotal    int    `json:"expected_total"`
	PendingDepts     int    `json:"pending_depts"`
	DepartmentName   string `json:"department_name"`
}

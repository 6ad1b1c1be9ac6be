package scheduler

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ternarybob/tenderwatch/internal/models"
)

// BatchReport is the per-batch result record written next to the portal
// summary CSV when a batch finishes.
type BatchReport struct {
	StartedAt        time.Time               `json:"started_at"`
	CompletedAt      time.Time               `json:"completed_at"`
	Mode             string                  `json:"mode"`
	WorkerCount      int                     `json:"worker_count"`
	PortalCount      int                     `json:"portal_count"`
	CompletedPortals int                     `json:"completed_portals"`
	FailedPortals    int                     `json:"failed_portals"`
	Stopped          bool                    `json:"stopped"`
	Totals           models.CheckpointTotals `json:"totals"`
	Summaries        []models.PortalSummary  `json:"summaries"`
}

// summaryColumns is the portal-summary CSV layout
var summaryColumns = []string{
	"portal_name",
	"status",
	"expected_total",
	"extracted_total",
	"skipped_existing",
	"closing_date_reprocessed",
	"delta_sweep_extracted",
	"processed_departments",
	"error_count",
	"partial_saved",
	"output_file",
	"run_id",
}

// writeReports writes the JSON report and the summary CSV into a fresh
// run_<timestamp> directory under reportDir. Both files describe the same
// batch; the CSV is the spreadsheet-friendly view.
func writeReports(reportDir string, report BatchReport) (string, error) {
	dir := filepath.Join(reportDir, "run_"+report.StartedAt.Format("20060102_150405"))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating report directory: %w", err)
	}

	jsonPath := filepath.Join(dir, "batch_report.json")
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding batch report: %w", err)
	}
	if err := os.WriteFile(jsonPath, data, 0644); err != nil {
		return "", fmt.Errorf("writing batch report: %w", err)
	}

	csvPath := filepath.Join(dir, "portal_summaries.csv")
	file, err := os.Create(csvPath)
	if err != nil {
		return "", fmt.Errorf("creating summary csv: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(summaryColumns); err != nil {
		return "", err
	}
	for _, s := range report.Summaries {
		if err := w.Write([]string{
			s.PortalName,
			s.Status,
			strconv.Itoa(s.ExpectedTotalTenders),
			strconv.Itoa(s.ExtractedTotalTenders),
			strconv.Itoa(s.SkippedExistingTotal),
			strconv.Itoa(s.ClosingDateReprocessed),
			strconv.Itoa(s.DeltaSweepExtracted),
			strconv.Itoa(s.ProcessedDepartments),
			strconv.Itoa(s.ErrorCount),
			strconv.FormatBool(s.PartialSaved),
			s.OutputFilePath,
			strconv.FormatInt(s.RunID, 10),
		}); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}

	return dir, nil
}

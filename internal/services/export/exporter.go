package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/xuri/excelize/v2"

	"github.com/ternarybob/tenderwatch/internal/interfaces"
	"github.com/ternarybob/tenderwatch/internal/models"
)

// exportColumns is the fixed output column order. Consumers key on these
// headers, so the order never changes.
var exportColumns = []string{
	"Department Name",
	"S.No",
	"e-Published Date",
	"Closing Date",
	"Opening Date",
	"Organisation Chain",
	"Title and Ref.No./Tender ID",
	"Tender ID (Extracted)",
	"Direct URL",
	"Status URL",
}

const sheetName = "Tenders"

// utf8BOM makes Excel open the CSV fallback with correct encoding
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Exporter writes portal results to disk: an xlsx workbook, falling back to
// a UTF-8 CSV when the workbook write fails.
type Exporter struct {
	store       interfaces.TenderStore
	downloadDir string
	logger      arbor.ILogger
}

// Result describes the file an export produced
type Result struct {
	Path     string
	FileType string // "xlsx" or "csv"
	RowCount int
}

// NewExporter creates an exporter writing under downloadDir
func NewExporter(store interfaces.TenderStore, downloadDir string, logger arbor.ILogger) *Exporter {
	return &Exporter{
		store:       store,
		downloadDir: downloadDir,
		logger:      logger,
	}
}

// ExportPortal writes the current tenders of a portal to a timestamped file.
// partial marks files produced from an interrupted run. Returns the written
// path and type; an empty Result with nil error means there was nothing to
// export.
func (e *Exporter) ExportPortal(ctx context.Context, portal models.Portal, partial bool) (Result, error) {
	tenders, err := e.store.CurrentTendersForPortal(ctx, portal.Name)
	if err != nil {
		return Result{}, fmt.Errorf("loading tenders for export: %w", err)
	}
	if len(tenders) == 0 {
		e.logger.Debug().Str("portal", portal.Name).Msg("Nothing to export")
		return Result{}, nil
	}
	return e.write(portal, tenders, partial)
}

// ExportRun writes the rows attached to one run
func (e *Exporter) ExportRun(ctx context.Context, portal models.Portal, runID int64, partial bool) (Result, error) {
	tenders, err := e.store.TendersForRun(ctx, runID)
	if err != nil {
		return Result{}, fmt.Errorf("loading run tenders for export: %w", err)
	}
	if len(tenders) == 0 {
		return Result{}, nil
	}
	return e.write(portal, tenders, partial)
}

func (e *Exporter) write(portal models.Portal, tenders []models.Tender, partial bool) (Result, error) {
	if err := os.MkdirAll(e.downloadDir, 0755); err != nil {
		return Result{}, fmt.Errorf("creating download directory: %w", err)
	}

	base := e.baseName(portal, partial)
	xlsxPath := filepath.Join(e.downloadDir, base+".xlsx")

	if err := e.writeWorkbook(xlsxPath, tenders); err == nil {
		e.logger.Info().
			Str("portal", portal.Name).
			Str("file", xlsxPath).
			Int("rows", len(tenders)).
			Msg("Workbook exported")
		return Result{Path: xlsxPath, FileType: "xlsx", RowCount: len(tenders)}, nil
	} else {
		e.logger.Warn().
			Str("portal", portal.Name).
			Err(err).
			Msg("Workbook write failed, falling back to CSV")
	}

	csvPath := filepath.Join(e.downloadDir, base+".csv")
	if err := e.writeCSV(csvPath, tenders); err != nil {
		return Result{}, fmt.Errorf("csv fallback: %w", err)
	}

	e.logger.Info().
		Str("portal", portal.Name).
		Str("file", csvPath).
		Int("rows", len(tenders)).
		Msg("CSV exported")
	return Result{Path: csvPath, FileType: "csv", RowCount: len(tenders)}, nil
}

// Due reports whether a portal is due for export under the given policy.
// Policy "interval" skips the export when a complete export newer than
// intervalDays exists; any other policy always exports. Partial exports
// never count as satisfying the interval.
func (e *Exporter) Due(portal models.Portal, policy string, intervalDays int) bool {
	if policy != "interval" || intervalDays < 1 {
		return true
	}

	keyword := e.keyword(portal)
	entries, err := os.ReadDir(e.downloadDir)
	if err != nil {
		return true
	}

	cutoff := time.Now().AddDate(0, 0, -intervalDays)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), keyword+"_tenders_") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			e.logger.Debug().
				Str("portal", portal.Name).
				Str("file", entry.Name()).
				Msg("Recent export exists, interval policy skips this run")
			return false
		}
	}
	return true
}

func (e *Exporter) keyword(portal models.Portal) string {
	if portal.Keyword != "" {
		return portal.Keyword
	}
	return strings.ReplaceAll(models.NormalizePortalName(portal.Name), " ", "_")
}

// baseName builds "<keyword>[_partial]_tenders_<YYYYmmdd_HHMMSS>" without
// extension
func (e *Exporter) baseName(portal models.Portal, partial bool) string {
	keyword := e.keyword(portal)
	stamp := time.Now().Format("20060102_150405")
	if partial {
		return fmt.Sprintf("%s_partial_tenders_%s", keyword, stamp)
	}
	return fmt.Sprintf("%s_tenders_%s", keyword, stamp)
}

func (e *Exporter) writeWorkbook(path string, tenders []models.Tender) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("removing default sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
	})
	if err != nil {
		return fmt.Errorf("creating header style: %w", err)
	}

	for col, header := range exportColumns {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			return err
		}
	}
	lastHeader, _ := excelize.CoordinatesToCellName(len(exportColumns), 1)
	if err := f.SetCellStyle(sheetName, "A1", lastHeader, headerStyle); err != nil {
		return fmt.Errorf("styling header row: %w", err)
	}

	for i, t := range tenders {
		row := i + 2
		for col, value := range tenderRow(i+1, t) {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				return err
			}
		}
	}

	if err := f.SetColWidth(sheetName, "A", "A", 40); err != nil {
		return err
	}
	if err := f.SetColWidth(sheetName, "F", "G", 50); err != nil {
		return err
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving workbook: %w", err)
	}
	return nil
}

func (e *Exporter) writeCSV(path string, tenders []models.Tender) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating csv: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(utf8BOM); err != nil {
		return fmt.Errorf("writing BOM: %w", err)
	}

	w := csv.NewWriter(file)
	if err := w.Write(exportColumns); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for i, t := range tenders {
		if err := w.Write(tenderRow(i+1, t)); err != nil {
			return fmt.Errorf("writing row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}
	return file.Sync()
}

// tenderRow renders one tender in the export column order. serial is the
// 1-based row position within the export.
func tenderRow(serial int, t models.Tender) []string {
	return []string{
		t.DepartmentName,
		fmt.Sprintf("%d", serial),
		t.PublishedDate,
		t.ClosingDate,
		t.OpeningDate,
		t.OrganisationChain,
		t.TitleRef,
		t.TenderID,
		t.DirectURL,
		t.StatusURL,
	}
}

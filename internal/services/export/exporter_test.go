package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/xuri/excelize/v2"

	"github.com/ternarybob/tenderwatch/internal/models"
)

// stubStore serves fixed tenders for export tests
type stubStore struct {
	tenders []models.Tender
}

func (s *stubStore) StartRun(context.Context, string, string, models.ScopeMode) (int64, error) {
	return 0, nil
}
func (s *stubStore) FinalizeRun(context.Context, int64, models.RunFinalization) error { return nil }
func (s *stubStore) GetRun(context.Context, int64) (*models.Run, error)               { return nil, nil }
func (s *stubStore) ReplaceRunTenders(context.Context, int64, []models.Tender) (int, error) {
	return 0, nil
}
func (s *stubStore) DeleteRun(context.Context, int64) error { return nil }
func (s *stubStore) UpsertCurrentTenders(context.Context, string, []models.Tender) (models.UpsertCounters, error) {
	return models.UpsertCounters{}, nil
}
func (s *stubStore) ExistingTenderIDsForPortal(context.Context, string) (map[string]struct{}, error) {
	return nil, nil
}
func (s *stubStore) ExistingTenderSnapshotForPortal(context.Context, string) (map[string]string, error) {
	return nil, nil
}
func (s *stubStore) MarkCancelled(context.Context, string, []string, string) (int, error) {
	return 0, nil
}
func (s *stubStore) CurrentTendersForPortal(context.Context, string) ([]models.Tender, error) {
	return s.tenders, nil
}
func (s *stubStore) TendersForRun(context.Context, int64) ([]models.Tender, error) {
	return s.tenders, nil
}
func (s *stubStore) Close() error { return nil }

func sampleTenders() []models.Tender {
	return []models.Tender{
		{
			DepartmentName:    "Public Works",
			TenderID:          "2026_PWD_10001_1",
			PublishedDate:     "01/08/2026",
			ClosingDate:       "15/09/2026",
			OpeningDate:       "16/09/2026",
			OrganisationChain: "HP Govt || PWD",
			TitleRef:          "Road works [2026_PWD_10001_1]",
			DirectURL:         "https://hptenders.gov.in/view?id=1",
			StatusURL:         "https://hptenders.gov.in/status?id=1",
		},
		{
			DepartmentName: "Health",
			TenderID:       "2026_DHS_20001_1",
			ClosingDate:    "10/09/2026",
			TitleRef:       "Oxygen plant [2026_DHS_20001_1]",
		},
	}
}

func TestExportPortal_WorkbookColumnOrder(t *testing.T) {
	dir := t.TempDir()
	e := NewExporter(&stubStore{tenders: sampleTenders()}, dir, arbor.NewLogger())
	portal := models.NewPortal("HP Tenders", "https://hptenders.gov.in/nicgep/app", "")

	result, err := e.ExportPortal(context.Background(), portal, false)
	require.NoError(t, err)
	assert.Equal(t, "xlsx", result.FileType)
	assert.Equal(t, 2, result.RowCount)

	f, err := excelize.OpenFile(result.Path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(rows), 3)
	assert.Equal(t, exportColumns, rows[0])

	// Data row: serial assigned in output order, both id columns populated
	assert.Equal(t, "Public Works", rows[1][0])
	assert.Equal(t, "1", rows[1][1])
	assert.Equal(t, "2026_PWD_10001_1", rows[1][7])
	assert.Equal(t, "2", rows[2][1])
}

func TestExportPortal_FilenamePattern(t *testing.T) {
	dir := t.TempDir()
	e := NewExporter(&stubStore{tenders: sampleTenders()}, dir, arbor.NewLogger())
	portal := models.NewPortal("HP Tenders", "https://hptenders.gov.in/nicgep/app", "")

	result, err := e.ExportPortal(context.Background(), portal, false)
	require.NoError(t, err)

	pattern := regexp.MustCompile(`^hptenders_gov_in_tenders_\d{8}_\d{6}\.xlsx$`)
	assert.Regexp(t, pattern, filepath.Base(result.Path))
}

func TestExportPortal_PartialFilename(t *testing.T) {
	dir := t.TempDir()
	e := NewExporter(&stubStore{tenders: sampleTenders()}, dir, arbor.NewLogger())
	portal := models.NewPortal("HP Tenders", "https://hptenders.gov.in/nicgep/app", "")

	result, err := e.ExportPortal(context.Background(), portal, true)
	require.NoError(t, err)

	pattern := regexp.MustCompile(`^hptenders_gov_in_partial_tenders_\d{8}_\d{6}\.xlsx$`)
	assert.Regexp(t, pattern, filepath.Base(result.Path))
}

func TestExportPortal_EmptyStoreWritesNothing(t *testing.T) {
	dir := t.TempDir()
	e := NewExporter(&stubStore{}, dir, arbor.NewLogger())
	portal := models.NewPortal("HP Tenders", "https://hptenders.gov.in/nicgep/app", "")

	result, err := e.ExportPortal(context.Background(), portal, false)
	require.NoError(t, err)
	assert.Empty(t, result.Path)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDue_IntervalPolicy(t *testing.T) {
	dir := t.TempDir()
	e := NewExporter(&stubStore{tenders: sampleTenders()}, dir, arbor.NewLogger())
	portal := models.NewPortal("HP Tenders", "https://hptenders.gov.in/nicgep/app", "")

	assert.True(t, e.Due(portal, "always", 3))
	assert.True(t, e.Due(portal, "interval", 3), "no prior export means due")

	// A partial export does not satisfy the interval
	_, err := e.ExportPortal(context.Background(), portal, true)
	require.NoError(t, err)
	assert.True(t, e.Due(portal, "interval", 3))

	_, err = e.ExportPortal(context.Background(), portal, false)
	require.NoError(t, err)
	assert.False(t, e.Due(portal, "interval", 3), "fresh complete export is within the interval")
	assert.True(t, e.Due(portal, "always", 3))
}

func TestWriteCSV_BOMAndColumnOrder(t *testing.T) {
	dir := t.TempDir()
	e := NewExporter(&stubStore{}, dir, arbor.NewLogger())
	path := filepath.Join(dir, "out.csv")

	require.NoError(t, e.writeCSV(path, sampleTenders()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, len(data) > 3)
	assert.Equal(t, utf8BOM, data[:3], "CSV must start with a UTF-8 BOM")

	// skip the BOM before parsing
	r := csv.NewReader(bytes.NewReader(data[3:]))
	records, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, exportColumns, records[0])
	assert.Equal(t, "", records[2][8], "missing values export as empty strings")
}

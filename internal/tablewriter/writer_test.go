package tablewriter

import (
	"encoding/csv"
	"encoding/xml"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/consumption-refinery/internal/types"
)

func sample() ([]types.AggregatedRecord, []types.ValidationIssue) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	records := []types.AggregatedRecord{
		{
			EntityID: "E1", PeriodStart: start, PeriodEnd: start.AddDate(0, 0, 1),
			Quantity: decimal.RequireFromString("12.5"), Unit: types.UnitKWh,
			Coverage: decimal.NewFromInt(1),
		},
		{
			EntityID: "E1", PeriodStart: start.AddDate(0, 0, 1), PeriodEnd: start.AddDate(0, 0, 2),
			Quantity: decimal.Zero, Unit: types.UnitKWh, NoData: true, Coverage: decimal.Zero,
		},
	}
	issues := []types.ValidationIssue{{
		Ref:      types.RecordRef{Row: 7},
		Rule:     "row_error",
		Severity: types.SeverityWarning,
		Message:  `unknown unit "MWh"`,
	}}
	return records, issues
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("site_north refined"))

	for _, bad := range []string{"", "  ", "a/b", `a\b`, "..", "x..y", "out.xlsx", "out.CSV", "out.xml"} {
		assert.Error(t, ValidateName(bad), bad)
	}
}

func TestSave_CSV(t *testing.T) {
	records, issues := sample()
	w := New(filepath.Join(t.TempDir(), "out"))

	path, err := w.Save(records, issues, "refined", FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "refined.csv", filepath.Base(path))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 3)
	assert.Equal(t, Columns, rows[0])
	assert.Equal(t, []string{"E1", "2024-01-01T00:00:00Z", "2024-01-02T00:00:00Z", "12.5", "kWh", "false", "false", "1"}, rows[1])
	assert.Equal(t, "true", rows[2][5])
}

func TestSave_Overwrites(t *testing.T) {
	records, issues := sample()
	w := New(t.TempDir())

	_, err := w.Save(records, issues, "refined", FormatCSV)
	require.NoError(t, err)
	path, err := w.Save(records[:1], issues, "refined", FormatCSV)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\n"))
}

func TestSave_XLSX(t *testing.T) {
	records, issues := sample()
	w := New(t.TempDir())

	path, err := w.Save(records, issues, "refined", FormatXLSX)
	require.NoError(t, err)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{RefinedSheet, IssuesSheet}, f.GetSheetList())

	rows, err := f.GetRows(RefinedSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, Columns, rows[0])
	assert.Equal(t, "12.5", rows[1][3])
	assert.Equal(t, "TRUE", rows[2][5])

	styleID, err := f.GetCellStyle(RefinedSheet, "A1")
	require.NoError(t, err)
	style, err := f.GetStyle(styleID)
	require.NoError(t, err)
	require.NotNil(t, style.Font)
	assert.True(t, style.Font.Bold)

	issueRows, err := f.GetRows(IssuesSheet)
	require.NoError(t, err)
	require.Len(t, issueRows, 2)
	assert.Equal(t, []string{"warning", "row_error", "", "", "", "7", `unknown unit "MWh"`}, issueRows[1])
}

func TestSave_RejectsBadInput(t *testing.T) {
	records, issues := sample()
	w := New(t.TempDir())

	_, err := w.Save(records, issues, "../escape", FormatCSV)
	assert.Error(t, err)

	_, err = w.Save(records, issues, "refined", Format("parquet"))
	assert.Error(t, err)
}

func TestSave_XML(t *testing.T) {
	records, issues := sample()
	records = append(records, types.AggregatedRecord{
		EntityID: "E2", PeriodStart: records[0].PeriodStart, PeriodEnd: records[0].PeriodEnd,
		Quantity: decimal.NewFromInt(3), Unit: types.UnitCubicMetre, Coverage: decimal.NewFromInt(1),
	})
	w := New(t.TempDir())

	path, err := w.Save(records, issues, "refined", FormatXML)
	require.NoError(t, err)
	assert.Equal(t, "refined.xml", filepath.Base(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc xmlTable
	require.NoError(t, xml.Unmarshal(data, &doc))
	require.Len(t, doc.Entities, 2)
	assert.Equal(t, "E1", doc.Entities[0].ID)
	require.Len(t, doc.Entities[0].Periods, 2)
	assert.True(t, doc.Entities[0].Periods[1].NoData)
	// Period numbering continues into the next entity.
	assert.Equal(t, 3, doc.Entities[1].Periods[0].N)
	assert.Equal(t, "m3", doc.Entities[1].Unit)

	require.NotNil(t, doc.Issues)
	require.Len(t, doc.Issues.Issues, 1)
	assert.Equal(t, "7", doc.Issues.Issues[0].Row)
	assert.Equal(t, `unknown unit "MWh"`, doc.Issues.Issues[0].Message)
}

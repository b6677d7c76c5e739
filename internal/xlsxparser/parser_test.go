package xlsxparser

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/consumption-refinery/internal/schema"
)

// workbook writes a workbook with one sheet per entry of sheets.
func workbook(t *testing.T, sheets map[string][][]interface{}, order ...string) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	for i, name := range order {
		if i == 0 {
			require.NoError(t, f.SetSheetName("Sheet1", name))
		} else {
			_, err := f.NewSheet(name)
			require.NoError(t, err)
		}
		for r, row := range sheets[name] {
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			require.NoError(t, err)
			require.NoError(t, f.SetSheetRow(name, cell, &row))
		}
	}

	path := filepath.Join(t.TempDir(), "book.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func TestParse_SingleSheet(t *testing.T) {
	path := workbook(t, map[string][][]interface{}{
		"Data": {
			{"Monthly export"},
			{},
			{"Meter", "From", "To", "Consumption", "Unit"},
			{"E1", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), 12.5, "kWh"},
		},
	}, "Data")

	m, err := schema.NewMapper(schema.Mapping{})
	require.NoError(t, err)

	table, err := Parse(path, "", 0, m)
	require.NoError(t, err)

	assert.Equal(t, 3, table.HeaderRow)
	assert.Equal(t, []string{"Meter", "From", "To", "Consumption", "Unit"}, table.Headers)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "45292", table.Rows[0][1])
	assert.Equal(t, "12.5", table.Rows[0][3])
	assert.Equal(t, []int{4}, table.RowNumbers)
	assert.Equal(t, [][]bool{{false, true, true, true, false}}, table.Numeric)
}

func TestParse_TextNumbersAreNotMarked(t *testing.T) {
	path := workbook(t, map[string][][]interface{}{
		"Data": {
			{"Meter", "Consumption", "Note"},
			{"E1", "1.234,5", ""},
			{"E2", 7, "checked"},
		},
	}, "Data")

	table, err := Parse(path, "", 1, nil)
	require.NoError(t, err)

	rows := table.RawRows()
	require.Len(t, rows, 2)
	assert.False(t, rows[0].IsNumeric(1))
	assert.True(t, rows[1].IsNumeric(1))
	assert.False(t, rows[1].IsNumeric(2))
	assert.False(t, rows[0].IsNumeric(2))
}

func TestParse_SheetSelection(t *testing.T) {
	path := workbook(t, map[string][][]interface{}{
		"Electricity": {{"Meter", "Value"}, {"E1", 1}},
		"Water":       {{"Meter", "Value"}, {"W1", 2}},
	}, "Electricity", "Water")

	_, err := Parse(path, "", 1, nil)
	var sel *SheetSelectionError
	require.ErrorAs(t, err, &sel)
	assert.Equal(t, []string{"Electricity", "Water"}, sel.Sheets)

	table, err := Parse(path, "water", 1, nil)
	require.NoError(t, err)
	assert.Equal(t, "W1", table.Rows[0][0])

	_, err = Parse(path, "Gas", 1, nil)
	require.ErrorAs(t, err, &sel)
	assert.Equal(t, "Gas", sel.Requested)
	assert.Contains(t, err.Error(), "Electricity, Water")
}

func TestSheetNames(t *testing.T) {
	path := workbook(t, map[string][][]interface{}{"A": {{"x"}}, "B": {{"y"}}}, "A", "B")

	names, err := SheetNames(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, names)
}

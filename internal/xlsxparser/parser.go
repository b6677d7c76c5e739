// =============================================================================
// Consumption Refinery - XLSX Parser
// =============================================================================
//
// This module reads one worksheet of an XLSX workbook into the same cleaned
// Table the CSV parser produces.
//
// SHEET SELECTION:
//   - A configured sheet name must exist in the workbook.
//   - Without one, a workbook with a single sheet uses it.
//   - Without one, a workbook with several sheets is rejected with the list
//     of sheet names, so the profile can name the right one.
//
// CELL VALUES:
//   Cells are read unformatted. Numbers keep "." as decimal separator and
//   date cells arrive as Excel serial numbers, which the normalizer accepts
//   when excel serials are enabled. Cells stored as numbers are marked in
//   Table.Numeric so the normalizer reads them without the profile locale;
//   text cells still follow the locale.
//
// =============================================================================

package xlsxparser

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/consumption-refinery/internal/csvparser"
	"github.com/ginjaninja78/consumption-refinery/internal/schema"
)

// SheetSelectionError is returned when the sheet to read cannot be decided.
type SheetSelectionError struct {
	// Requested is the configured sheet name, empty when none was set.
	Requested string

	// Sheets lists the sheets found in the workbook.
	Sheets []string
}

func (e *SheetSelectionError) Error() string {
	if e.Requested != "" {
		return fmt.Sprintf("sheet %q not found; workbook has: %s", e.Requested, strings.Join(e.Sheets, ", "))
	}
	if len(e.Sheets) == 0 {
		return "workbook has no sheets"
	}
	return fmt.Sprintf("workbook has %d sheets (%s); set sheet_name in the profile",
		len(e.Sheets), strings.Join(e.Sheets, ", "))
}

// =============================================================================
// PARSER FUNCTIONS
// =============================================================================

// Parse reads one worksheet of an XLSX file.
//
// PARAMETERS:
//   - filePath: The path to the XLSX file.
//   - sheet: The worksheet to read, or "" for the only sheet.
//   - headerRow: The 1-based header row, or 0 to detect it.
//   - mapper: Scores candidate header rows when headerRow is 0. May be nil.
//
// RETURNS:
//   - The cleaned table.
//   - A *SheetSelectionError, or an error if the workbook cannot be read.
func Parse(filePath, sheet string, headerRow int, mapper *schema.Mapper) (*csvparser.Table, error) {
	f, err := excelize.OpenFile(filePath, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheetName, err := selectSheet(f.GetSheetList(), sheet)
	if err != nil {
		return nil, err
	}

	rows, err := f.GetRows(sheetName, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read rows of %q: %w", sheetName, err)
	}

	// GetRows keeps leading blank rows, so the slice index is the row number.
	lines := make([]int, len(rows))
	for i := range rows {
		lines[i] = i + 1
	}

	numeric, err := numericCells(f, sheetName, rows)
	if err != nil {
		return nil, err
	}

	table, err := csvparser.BuildTyped(rows, numeric, lines, headerRow, mapper)
	if err != nil {
		return nil, fmt.Errorf("sheet %q: %w", sheetName, err)
	}
	table.SourceFile = filePath
	return table, nil
}

// numericCells marks the non-blank cells stored as numbers. Excel leaves the
// type attribute off plain numbers and numeric formula results.
func numericCells(f *excelize.File, sheet string, rows [][]string) ([][]bool, error) {
	out := make([][]bool, len(rows))
	for r, row := range rows {
		out[r] = make([]bool, len(row))
		for c, v := range row {
			if strings.TrimSpace(v) == "" {
				continue
			}
			ref, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return nil, err
			}
			typ, err := f.GetCellType(sheet, ref)
			if err != nil {
				return nil, fmt.Errorf("failed to read type of %s: %w", ref, err)
			}
			out[r][c] = typ == excelize.CellTypeUnset || typ == excelize.CellTypeNumber
		}
	}
	return out, nil
}

// SheetNames lists the worksheets of a workbook.
func SheetNames(filePath string) ([]string, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()
	return f.GetSheetList(), nil
}

// selectSheet applies the sheet selection rules to the sheets of a workbook.
// A requested name matches case-insensitively.
func selectSheet(sheets []string, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if requested != "" {
		for _, s := range sheets {
			if strings.EqualFold(s, requested) {
				return s, nil
			}
		}
		return "", &SheetSelectionError{Requested: requested, Sheets: sheets}
	}
	if len(sheets) != 1 {
		return "", &SheetSelectionError{Sheets: sheets}
	}
	return sheets[0], nil
}

package csvparser

import (
	"fmt"
	"strings"

	"github.com/ginjaninja78/consumption-refinery/internal/schema"
	"github.com/ginjaninja78/consumption-refinery/internal/types"
)

// =============================================================================
// TABLE STRUCTURE
// =============================================================================

// Table is a cleaned grid of text cells with one header row.
type Table struct {
	// Headers contains the column headers. Blank headers are named
	// Column_N after their 1-based source column.
	Headers []string

	// Rows contains the data rows, each exactly len(Headers) cells wide.
	Rows [][]string

	// RowNumbers holds the 1-based source row of each data row.
	RowNumbers []int

	// Columns holds the 0-based source column of each kept column.
	Columns []int

	// Numeric marks data cells stored as numbers. Nil for text sources.
	Numeric [][]bool

	// HeaderRow is the 1-based source row the headers were read from.
	HeaderRow int

	// SourceFile is the path of the source file, if any.
	SourceFile string

	// Delimiter and Encoding record how a CSV source was read.
	Delimiter rune
	Encoding  string
}

// RowCount is the number of data rows.
func (t *Table) RowCount() int {
	return len(t.Rows)
}

// RawRows returns the data rows as pipeline input. Index is the source row.
func (t *Table) RawRows() []types.RawRow {
	out := make([]types.RawRow, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = types.RawRow{Index: t.RowNumbers[i], Headers: t.Headers, Cells: row, Columns: t.Columns}
		if t.Numeric != nil {
			out[i].Numeric = t.Numeric[i]
		}
	}
	return out
}

// =============================================================================
// GRID CLEANING
// =============================================================================

// Build turns a grid read from any source into a Table.
//
// PARAMETERS:
//   - grid: The rows as read, possibly ragged.
//   - lines: The 1-based source row of each grid row.
//   - headerRow: The 1-based source row of the headers, or 0 to detect it.
//   - mapper: Scores candidate header rows when headerRow is 0. May be nil.
//
// RETURNS:
//   - The cleaned table: blank rows dropped, columns blank in the header and
//     every data row dropped, cells trimmed. Table.Columns keeps the source
//     column of every kept column.
//   - An error if the grid has no content or the header row is blank.
func Build(grid [][]string, lines []int, headerRow int, mapper *schema.Mapper) (*Table, error) {
	return BuildTyped(grid, nil, lines, headerRow, mapper)
}

// BuildTyped is Build for sources that know which cells hold numbers.
// numeric parallels grid and may be nil or ragged.
func BuildTyped(grid [][]string, numeric [][]bool, lines []int, headerRow int, mapper *schema.Mapper) (*Table, error) {
	if len(lines) != len(grid) {
		return nil, fmt.Errorf("grid has %d rows but %d row numbers", len(grid), len(lines))
	}

	// Drop blank rows, keeping source numbering.
	var rows [][]string
	var kinds [][]bool
	var numbers []int
	for i, row := range grid {
		if isRowEmpty(row) {
			continue
		}
		trimmed := make([]string, len(row))
		for j, cell := range row {
			trimmed[j] = strings.TrimSpace(cell)
		}
		rows = append(rows, trimmed)
		numbers = append(numbers, lines[i])
		if i < len(numeric) {
			kinds = append(kinds, numeric[i])
		} else {
			kinds = append(kinds, nil)
		}
	}
	if len(rows) == 0 {
		return nil, ErrEmpty
	}

	headerIdx, err := locateHeader(rows, numbers, headerRow, mapper)
	if err != nil {
		return nil, err
	}
	header := rows[headerIdx]
	data := rows[headerIdx+1:]
	dataKinds := kinds[headerIdx+1:]
	dataNumbers := numbers[headerIdx+1:]

	width := len(header)
	for _, row := range data {
		if len(row) > width {
			width = len(row)
		}
	}

	// Keep columns with a header or at least one value.
	var keep []int
	for c := 0; c < width; c++ {
		if cell(header, c) != "" {
			keep = append(keep, c)
			continue
		}
		for _, row := range data {
			if cell(row, c) != "" {
				keep = append(keep, c)
				break
			}
		}
	}

	table := &Table{
		Headers:    cleanHeaders(header, keep),
		Rows:       make([][]string, len(data)),
		RowNumbers: dataNumbers,
		Columns:    keep,
		HeaderRow:  numbers[headerIdx],
	}
	if numeric != nil {
		table.Numeric = make([][]bool, len(data))
	}
	for i, row := range data {
		out := make([]string, len(keep))
		for j, c := range keep {
			out[j] = cell(row, c)
		}
		table.Rows[i] = out

		if table.Numeric != nil {
			flags := make([]bool, len(keep))
			for j, c := range keep {
				flags[j] = c < len(dataKinds[i]) && dataKinds[i][c] && out[j] != ""
			}
			table.Numeric[i] = flags
		}
	}
	return table, nil
}

// locateHeader returns the index in rows of the header row.
func locateHeader(rows [][]string, numbers []int, headerRow int, mapper *schema.Mapper) (int, error) {
	if headerRow > 0 {
		for i, n := range numbers {
			if n == headerRow {
				return i, nil
			}
			if n > headerRow {
				break
			}
		}
		return 0, fmt.Errorf("header row %d is blank or beyond the end of the table", headerRow)
	}

	if mapper != nil {
		if idx, ok := schema.DetectHeaderRow(rows, mapper, schema.DefaultHeaderScan); ok {
			return idx, nil
		}
	}
	return 0, nil
}

// cleanHeaders trims the kept headers and names blank ones after their
// source column.
func cleanHeaders(header []string, keep []int) []string {
	cleaned := make([]string, len(keep))
	for i, c := range keep {
		h := cell(header, c)
		if h == "" {
			h = fmt.Sprintf("Column_%d", c+1)
		}
		cleaned[i] = h
	}
	return cleaned
}

func cell(row []string, c int) string {
	if c < len(row) {
		return row[c]
	}
	return ""
}

// isRowEmpty checks if a row contains only empty values.
func isRowEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

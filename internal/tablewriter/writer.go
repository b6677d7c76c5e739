// =============================================================================
// Consumption Refinery - Table Writer
// =============================================================================
//
// This module saves a refined table to the output directory as XLSX, CSV
// or XML.
//
// FILE NAMING:
//   The caller supplies only a base name. It is validated, never altered,
//   and the extension comes from the format. Existing files are overwritten.
//
// LAYOUT:
//   | entity_id | period_start | period_end | quantity | unit | no_data | correction | coverage |
//
//   XLSX output holds this table on sheet "Refined" and the validation
//   issues on sheet "Issues". XML output nests periods under entities.
//
// =============================================================================

package tablewriter

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/consumption-refinery/internal/types"
)

// Format is an output file format.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
	FormatXML  Format = "xml"
)

// ParseFormat reads "xlsx", "csv" or "xml", case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatXLSX, FormatCSV, FormatXML:
		return f, nil
	}
	return "", fmt.Errorf("unsupported format %q (want xlsx, csv or xml)", s)
}

// Sheet names of XLSX output.
const (
	RefinedSheet = "Refined"
	IssuesSheet  = "Issues"
)

// Columns is the header of the refined table.
var Columns = []string{
	"entity_id", "period_start", "period_end", "quantity",
	"unit", "no_data", "correction", "coverage",
}

// IssueColumns is the header of the issues sheet.
var IssueColumns = []string{"severity", "rule", "entity_id", "period_start", "period_end", "row", "message"}

const timeLayout = time.RFC3339

// =============================================================================
// WRITER
// =============================================================================

// Writer saves tables into one directory.
type Writer struct {
	OutputDir string
}

// New returns a Writer for outputDir.
func New(outputDir string) *Writer {
	return &Writer{OutputDir: outputDir}
}

// ValidateName rejects names that are empty, carry an extension of their own
// or could write outside the output directory.
func ValidateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("file name cannot be empty")
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("file name %q must not contain path separators", name)
	case strings.Contains(name, ".."):
		return fmt.Errorf("file name %q must not contain \"..\"", name)
	}
	lower := strings.ToLower(name)
	for _, ext := range []Format{FormatXLSX, FormatCSV, FormatXML} {
		if strings.HasSuffix(lower, "."+string(ext)) {
			return fmt.Errorf("file name %q must not include an extension", name)
		}
	}
	return nil
}

// Save writes records as <OutputDir>/<name>.<format>, replacing any existing
// file.
//
// PARAMETERS:
//   - records: The refined table.
//   - issues: Written with XLSX and XML output; ignored for CSV.
//   - name: The base file name, without extension.
//   - format: FormatXLSX, FormatCSV or FormatXML.
//
// RETURNS:
//   - The path of the written file.
//   - An error if the name is invalid or the file cannot be written.
func (w *Writer) Save(records []types.AggregatedRecord, issues []types.ValidationIssue, name string, format Format) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	if _, err := ParseFormat(string(format)); err != nil {
		return "", err
	}
	if err := os.MkdirAll(w.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	path := filepath.Join(w.OutputDir, name+"."+string(format))
	var err error
	switch format {
	case FormatXLSX:
		err = writeXLSX(path, records, issues)
	case FormatXML:
		err = writeXML(path, records, issues)
	default:
		err = writeCSV(path, records)
	}
	if err != nil {
		return "", err
	}
	return path, nil
}

// Record renders one refined record as output cells.
func Record(r types.AggregatedRecord) []string {
	return []string{
		r.EntityID,
		r.PeriodStart.Format(timeLayout),
		r.PeriodEnd.Format(timeLayout),
		r.Quantity.String(),
		string(r.Unit),
		strconv.FormatBool(r.NoData),
		strconv.FormatBool(r.Correction),
		r.Coverage.String(),
	}
}

// Issue renders one validation issue as output cells.
func Issue(is types.ValidationIssue) []string {
	var start, end, row string
	if !is.Ref.PeriodStart.IsZero() {
		start = is.Ref.PeriodStart.Format(timeLayout)
	}
	if !is.Ref.PeriodEnd.IsZero() {
		end = is.Ref.PeriodEnd.Format(timeLayout)
	}
	if is.Ref.Row > 0 {
		row = strconv.Itoa(is.Ref.Row)
	}
	return []string{string(is.Severity), is.Rule, is.Ref.EntityID, start, end, row, is.Message}
}

// =============================================================================
// CSV OUTPUT
// =============================================================================

func writeCSV(path string, records []types.AggregatedRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	cw := csv.NewWriter(file)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, r := range records {
		if err := cw.Write(Record(r)); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return file.Close()
}

// =============================================================================
// XLSX OUTPUT
// =============================================================================

func writeXLSX(path string, records []types.AggregatedRecord, issues []types.ValidationIssue) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", RefinedSheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}
	if _, err := f.NewSheet(IssuesSheet); err != nil {
		return fmt.Errorf("failed to add issues sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	refined := make([][]interface{}, 0, len(records))
	for _, r := range records {
		refined = append(refined, xlsxRecord(r))
	}
	if err := writeSheet(f, RefinedSheet, Columns, refined, bold); err != nil {
		return err
	}

	issueRows := make([][]interface{}, 0, len(issues))
	for _, is := range issues {
		cells := Issue(is)
		row := make([]interface{}, len(cells))
		for i, c := range cells {
			row[i] = c
		}
		issueRows = append(issueRows, row)
	}
	if err := writeSheet(f, IssuesSheet, IssueColumns, issueRows, bold); err != nil {
		return err
	}

	f.SetActiveSheet(0)
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

// xlsxRecord keeps numbers and flags typed so spreadsheets can sum them.
func xlsxRecord(r types.AggregatedRecord) []interface{} {
	qty, _ := r.Quantity.Float64()
	cov, _ := r.Coverage.Float64()
	return []interface{}{
		r.EntityID,
		r.PeriodStart.Format(timeLayout),
		r.PeriodEnd.Format(timeLayout),
		qty,
		string(r.Unit),
		r.NoData,
		r.Correction,
		cov,
	}
}

func writeSheet(f *excelize.File, sheet string, header []string, rows [][]interface{}, headerStyle int) error {
	head := make([]interface{}, len(header))
	for i, h := range header {
		head[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &head); err != nil {
		return fmt.Errorf("failed to write %s header: %w", sheet, err)
	}

	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("failed to style %s header: %w", sheet, err)
	}

	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &rows[i]); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+2, err)
		}
	}
	return nil
}

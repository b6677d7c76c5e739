// =============================================================================
// Consumption Refinery - CSV Parser Module
// =============================================================================
//
// This module reads CSV exports from metering and billing systems into a
// Table of raw cells. It handles:
//   - Unknown delimiters (sniffed from the first lines)
//   - UTF-8 with or without BOM, and Windows-1252 / ISO-8859-1 files
//   - Title or metadata lines above the real header row
//   - Blank rows and blank columns anywhere in the grid
//
// Cell values are kept as text. Interpreting them is the normalizer's job.
//
// =============================================================================

package csvparser

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/ginjaninja78/consumption-refinery/internal/config"
	"github.com/ginjaninja78/consumption-refinery/internal/schema"
)

// sniffLines is how many non-empty lines the delimiter sniffer inspects.
const sniffLines = 20

// candidateDelimiters are the separators tried by the sniffer, in tie order.
var candidateDelimiters = []rune{',', ';', '\t', '|'}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// =============================================================================
// PARSER FUNCTIONS
// =============================================================================

// Parse reads a CSV file and returns the cleaned table.
//
// PARAMETERS:
//   - filePath: The path to the CSV file.
//   - settings: The CSV settings of the matching profile.
//   - mapper: Used to detect the header row when settings.HeaderRow is 0.
//     May be nil, in which case the first non-empty row is the header.
//
// RETURNS:
//   - The parsed table.
//   - An error if the file cannot be read, decoded or parsed.
func Parse(filePath string, settings config.CSVSettings, mapper *schema.Mapper) (*Table, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	table, err := ParseBytes(data, settings, mapper)
	if err != nil {
		return nil, err
	}
	table.SourceFile = filePath
	return table, nil
}

// ParseBytes decodes, splits and cleans raw CSV content.
//
// PARSING PROCESS:
//   1. Decode the bytes to UTF-8 according to the encoding setting
//   2. Pick the delimiter (configured or sniffed)
//   3. Read every record with its source line number
//   4. Drop blank rows, locate the header row, drop blank columns
func ParseBytes(data []byte, settings config.CSVSettings, mapper *schema.Mapper) (*Table, error) {
	text, encoding, err := decode(data, settings.Encoding)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmpty
	}

	delimiter, err := resolveDelimiter(settings.Delimiter, text)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(strings.NewReader(text))
	configureReader(reader, delimiter)

	var grid [][]string
	var lines []int
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV: %w", err)
		}
		line, _ := reader.FieldPos(0)
		grid = append(grid, record)
		lines = append(lines, line)
	}

	table, err := Build(grid, lines, settings.HeaderRow, mapper)
	if err != nil {
		return nil, err
	}
	table.Delimiter = delimiter
	table.Encoding = encoding
	return table, nil
}

// configureReader configures the CSV reader for ragged, loosely quoted
// exports.
func configureReader(reader *csv.Reader, delimiter rune) {
	reader.Comma = delimiter

	// Allow variable number of fields per row.
	reader.FieldsPerRecord = -1

	// Allow lazy quotes (quotes that don't follow strict CSV rules).
	reader.LazyQuotes = true

	reader.TrimLeadingSpace = true
	reader.ReuseRecord = false
}

// =============================================================================
// ENCODING
// =============================================================================

// decode converts data to UTF-8 text and reports the encoding used.
//
// ENCODINGS:
//   - "auto":         UTF-8 (BOM stripped) when valid, else Windows-1252
//   - "utf-8":        UTF-8, invalid input is an error
//   - "windows-1252": Windows-1252
//   - "iso-8859-1":   ISO-8859-1
func decode(data []byte, encoding string) (string, string, error) {
	switch strings.ToLower(encoding) {
	case "", "auto":
		body := bytes.TrimPrefix(data, utf8BOM)
		if utf8.Valid(body) {
			return string(body), "utf-8", nil
		}
		text, err := decodeWith(data, charmap.Windows1252)
		return text, "windows-1252", err
	case "utf-8", "utf8":
		body := bytes.TrimPrefix(data, utf8BOM)
		if !utf8.Valid(body) {
			return "", "", fmt.Errorf("file is not valid UTF-8; set csv_settings.encoding to windows-1252 or auto")
		}
		return string(body), "utf-8", nil
	case "windows-1252", "cp1252":
		text, err := decodeWith(data, charmap.Windows1252)
		return text, "windows-1252", err
	case "iso-8859-1", "latin1":
		text, err := decodeWith(data, charmap.ISO8859_1)
		return text, "iso-8859-1", err
	}
	return "", "", fmt.Errorf("unsupported encoding %q", encoding)
}

func decodeWith(data []byte, cm *charmap.Charmap) (string, error) {
	out, err := io.ReadAll(transform.NewReader(bytes.NewReader(data), cm.NewDecoder()))
	if err != nil {
		return "", fmt.Errorf("failed to decode %s: %w", cm, err)
	}
	return string(out), nil
}

// =============================================================================
// DELIMITER
// =============================================================================

// resolveDelimiter maps the configured delimiter to a rune, sniffing it from
// text for "auto".
func resolveDelimiter(setting, text string) (rune, error) {
	switch setting {
	case "", "auto":
		return sniffDelimiter(text), nil
	case `\t`, "tab", "TAB":
		return '\t', nil
	}
	r, size := utf8.DecodeRuneInString(setting)
	if size != len(setting) || r == '"' || r == '\r' || r == '\n' {
		return 0, fmt.Errorf("invalid delimiter %q", setting)
	}
	return r, nil
}

// sniffDelimiter picks the candidate that splits the first non-empty lines
// into the same, largest number of fields. Ties go to the earlier candidate.
// Text with none of the candidates is read as comma separated.
func sniffDelimiter(text string) rune {
	var sample []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		sample = append(sample, line)
		if len(sample) == sniffLines {
			break
		}
	}

	best, bestScore, bestTotal := ',', 0, 0
	for _, d := range candidateDelimiters {
		counts := make(map[int]int)
		total := 0
		for _, line := range sample {
			n := countOutsideQuotes(line, d)
			total += n
			if n > 0 {
				counts[n]++
			}
		}
		// Score is the number of lines sharing the most common non-zero count.
		score := 0
		for _, lines := range counts {
			if lines > score {
				score = lines
			}
		}
		if score > bestScore || (score == bestScore && total > bestTotal) {
			best, bestScore, bestTotal = d, score, total
		}
	}
	return best
}

func countOutsideQuotes(line string, d rune) int {
	n := 0
	quoted := false
	for _, r := range line {
		switch {
		case r == '"':
			quoted = !quoted
		case r == d && !quoted:
			n++
		}
	}
	return n
}

// ErrEmpty is returned for files without a single non-blank cell.
var ErrEmpty = errors.New("file is empty")

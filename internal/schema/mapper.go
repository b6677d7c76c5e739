// =============================================================================
// Consumption Refinery - Schema Mapper
// =============================================================================
//
// This module maps arbitrary input headers (or column positions) onto the
// fixed canonical field set:
//
//   entity_id | period_start | period_end | quantity | unit
//
// MATCHING:
//   Headers are normalized and scored against a synonym table per field:
//     - 1.0  exact synonym (ignoring case, punctuation and spacing)
//     - 0.9  synonym occurs as a whole phrase inside the header
//     - else Levenshtein similarity of the compacted strings
//   A header resolves when its best score reaches the threshold.
//
// POLICY:
//   The mapper never guesses. A header that ties between fields, or two
//   headers that claim the same field, fail with AmbiguousMappingError. A
//   header that resolves to nothing (and is not ignored) fails with
//   UnmappableColumnError.
//
// =============================================================================

package schema

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ginjaninja78/consumption-refinery/internal/types"
)

// =============================================================================
// MAPPING CONFIGURATION
// =============================================================================

// Mapping is the immutable mapping configuration.
type Mapping struct {
	// Synonyms lists accepted header names per canonical field.
	Synonyms map[types.CanonicalField][]string

	// Positions pins fields to 0-based column indices. Pinned columns are not
	// matched by name.
	Positions map[types.CanonicalField]int

	// IgnoreColumns are glob patterns (filepath.Match syntax, matched against
	// the lower-cased header) for columns that are known and not needed.
	IgnoreColumns []string

	// Threshold is the minimum score for a header to resolve.
	// Default: DefaultThreshold
	Threshold float64
}

// DefaultSynonyms returns the built-in synonym table. It covers the English
// and German labels seen in utility exports.
func DefaultSynonyms() map[types.CanonicalField][]string {
	return map[types.CanonicalField][]string{
		types.FieldEntityID: {
			"entity id", "entity", "meter id", "meter", "meter number", "meter no",
			"account", "account id", "account number", "contract", "contract number",
			"customer id", "site id", "location id", "zaehlpunkt", "zählpunkt",
			"zählernummer", "zaehlernummer", "malo id",
		},
		types.FieldPeriodStart: {
			"period start", "start", "start date", "start time", "from", "date from",
			"valid from", "begin", "beginn", "von", "ab", "zeitraum von",
		},
		types.FieldPeriodEnd: {
			"period end", "end", "end date", "end time", "to", "date to", "until",
			"valid to", "ende", "bis", "zeitraum bis",
		},
		types.FieldQuantity: {
			"quantity", "consumption", "usage", "value", "amount", "reading",
			"energy", "volume", "verbrauch", "menge", "wert",
		},
		types.FieldUnit: {
			"unit", "units", "uom", "unit of measure", "einheit", "measure",
		},
	}
}

// =============================================================================
// MAPPER
// =============================================================================

// Mapper resolves headers to canonical fields.
type Mapper struct {
	synonyms  map[types.CanonicalField][]string
	positions map[types.CanonicalField]int
	ignore    []string
	threshold float64
}

// NewMapper validates a Mapping and returns a Mapper. Synonyms missing for a
// field fall back to the defaults for that field. The canonical field name
// itself always resolves.
func NewMapper(m Mapping) (*Mapper, error) {
	threshold := m.Threshold
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("mapping threshold must be in (0, 1], got %v", threshold)
	}

	defaults := DefaultSynonyms()
	synonyms := make(map[types.CanonicalField][]string, len(types.CanonicalFields))
	for _, f := range types.CanonicalFields {
		list := m.Synonyms[f]
		if len(list) == 0 {
			list = defaults[f]
		}
		list = append([]string{string(f)}, list...)
		seen := make(map[string]bool)
		for _, s := range list {
			n := NormalizeHeader(s)
			if n == "" || seen[n] {
				continue
			}
			seen[n] = true
			synonyms[f] = append(synonyms[f], n)
		}
	}

	used := make(map[int]types.CanonicalField)
	positions := make(map[types.CanonicalField]int, len(m.Positions))
	for f, pos := range m.Positions {
		if pos < 0 {
			return nil, fmt.Errorf("position for %s must be >= 0, got %d", f, pos)
		}
		if other, ok := used[pos]; ok {
			return nil, fmt.Errorf("fields %s and %s are both pinned to column %d", other, f, pos)
		}
		used[pos] = f
		positions[f] = pos
	}

	for _, p := range m.IgnoreColumns {
		if _, err := filepath.Match(p, ""); err != nil {
			return nil, fmt.Errorf("invalid ignore pattern %q: %w", p, err)
		}
	}

	return &Mapper{
		synonyms:  synonyms,
		positions: positions,
		ignore:    append([]string(nil), m.IgnoreColumns...),
		threshold: threshold,
	}, nil
}

// ColumnMap is the result of resolving one header set.
type ColumnMap struct {
	// Columns maps each resolved field to its cell index.
	Columns map[types.CanonicalField]int

	// Headers are the headers the map was resolved from.
	Headers []string

	// UnitHint is the unit found in the quantity header, if any.
	UnitHint string
}

// Missing lists the canonical fields without a column, in canonical order.
func (c *ColumnMap) Missing() []types.CanonicalField {
	var out []types.CanonicalField
	for _, f := range types.CanonicalFields {
		if _, ok := c.Columns[f]; !ok {
			out = append(out, f)
		}
	}
	return out
}

// Apply maps a RawRow through the column map. Fields without a column, and
// blank cells, come out as missing. Cells stored as numbers stay marked.
func (c *ColumnMap) Apply(row types.RawRow) types.MappedRow {
	values := make(map[types.CanonicalField]string, len(c.Columns))
	var numeric []types.CanonicalField
	for f, idx := range c.Columns {
		values[f] = row.Cell(idx)
		if row.IsNumeric(idx) {
			numeric = append(numeric, f)
		}
	}
	return types.NewMappedRow(row.Index, values, c.UnitHint).WithNumeric(numeric...)
}

// MapRow resolves the row's headers and maps its cells.
func (m *Mapper) MapRow(row types.RawRow) (types.MappedRow, error) {
	cm, err := m.ResolveColumns(row.Headers, row.Columns)
	if err != nil {
		return types.MappedRow{}, err
	}
	return cm.Apply(row), nil
}

// Resolve decides which column feeds which canonical field.
//
// PARAMETERS:
//   - headers: the header labels of the table, in column order.
//
// RETURNS:
//   - The column map.
//   - UnmappableColumnError or AmbiguousMappingError when the headers cannot
//     be mapped without guessing.
func (m *Mapper) Resolve(headers []string) (*ColumnMap, error) {
	return m.ResolveColumns(headers, nil)
}

// ResolveColumns is Resolve for a table whose cleaning removed columns.
// columns holds the 0-based source column of each header; positions refer
// to source columns. A field pinned to a removed column has no column.
func (m *Mapper) ResolveColumns(headers []string, columns []int) (*ColumnMap, error) {
	cm := &ColumnMap{
		Columns: make(map[types.CanonicalField]int, len(types.CanonicalFields)),
		Headers: append([]string(nil), headers...),
	}

	pinned := make(map[int]bool, len(m.positions))
	for f, pos := range m.positions {
		idx, ok := cellIndex(columns, pos)
		if !ok {
			continue
		}
		cm.Columns[f] = idx
		pinned[idx] = true
	}

	claims := make(map[types.CanonicalField][]int)
	for i, h := range headers {
		if pinned[i] {
			continue
		}
		if strings.TrimSpace(h) == "" || m.ignored(h) {
			continue
		}

		fields, best := m.bestFields(h)
		if best < m.threshold {
			return nil, &types.UnmappableColumnError{Header: h}
		}
		if len(fields) > 1 {
			return nil, &types.AmbiguousMappingError{Headers: []string{h}, Candidates: fields}
		}
		claims[fields[0]] = append(claims[fields[0]], i)
	}

	for _, f := range types.CanonicalFields {
		cols := claims[f]
		if len(cols) == 0 {
			continue
		}
		if len(cols) > 1 {
			names := make([]string, len(cols))
			for i, c := range cols {
				names[i] = headers[c]
			}
			return nil, &types.AmbiguousMappingError{Field: f, Headers: names}
		}
		cm.Columns[f] = cols[0]
	}

	if idx, ok := cm.Columns[types.FieldQuantity]; ok && idx < len(headers) {
		cm.UnitHint = UnitHint(headers[idx])
	}

	return cm, nil
}

// cellIndex finds the cell holding source column pos.
func cellIndex(columns []int, pos int) (int, bool) {
	if columns == nil {
		return pos, true
	}
	for i, c := range columns {
		if c == pos {
			return i, true
		}
	}
	return 0, false
}

// bestFields returns the fields with the highest score for a header. Fields
// pinned by position are not candidates.
func (m *Mapper) bestFields(header string) ([]types.CanonicalField, float64) {
	norm := NormalizeHeader(header)

	var best float64
	var fields []types.CanonicalField
	for _, f := range types.CanonicalFields {
		if _, pinned := m.positions[f]; pinned {
			continue
		}
		var s float64
		for _, syn := range m.synonyms[f] {
			if v := score(norm, syn); v > s {
				s = v
			}
		}
		switch {
		case s > best:
			best = s
			fields = []types.CanonicalField{f}
		case s == best && s > 0:
			fields = append(fields, f)
		}
	}
	return fields, best
}

// ignored reports whether a header matches one of the ignore patterns.
func (m *Mapper) ignored(header string) bool {
	h := strings.ToLower(strings.TrimSpace(header))
	for _, p := range m.ignore {
		if ok, _ := filepath.Match(strings.ToLower(p), h); ok {
			return true
		}
	}
	return false
}

// resolvableCount counts how many distinct fields a header row would
// resolve unambiguously. Used by header-row detection.
func (m *Mapper) resolvableCount(headers []string) int {
	seen := make(map[types.CanonicalField]bool)
	for _, h := range headers {
		if strings.TrimSpace(h) == "" {
			continue
		}
		fields, best := m.bestFields(h)
		if best >= m.threshold && len(fields) == 1 {
			seen[fields[0]] = true
		}
	}
	return len(seen)
}

// FieldNames renders the fields of a column map for logging.
func (c *ColumnMap) FieldNames() []string {
	out := make([]string, 0, len(c.Columns))
	for f, idx := range c.Columns {
		name := fmt.Sprintf("%s=#%d", f, idx)
		if idx < len(c.Headers) {
			name = fmt.Sprintf("%s=%q", f, c.Headers[idx])
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

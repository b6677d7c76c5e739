// =============================================================================
// Consumption Refinery - Shared Types
// =============================================================================
//
// This package contains the record types that flow through the refinement
// pipeline. They live here to avoid import cycles between the stages:
//
//   RawRow -> MappedRow -> NormalizedRecord -> ReconciledRecord
//          -> AggregatedRecord (+ ValidationIssue)
//
// Every stage consumes one of these types and produces the next. No stage
// mutates its input.
//
// =============================================================================

package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CANONICAL FIELDS
// =============================================================================

// CanonicalField is one of the fixed fields every input table is mapped onto.
type CanonicalField string

const (
	FieldEntityID    CanonicalField = "entity_id"
	FieldPeriodStart CanonicalField = "period_start"
	FieldPeriodEnd   CanonicalField = "period_end"
	FieldQuantity    CanonicalField = "quantity"
	FieldUnit        CanonicalField = "unit"
)

// CanonicalFields lists the canonical fields in output column order.
var CanonicalFields = []CanonicalField{
	FieldEntityID,
	FieldPeriodStart,
	FieldPeriodEnd,
	FieldQuantity,
	FieldUnit,
}

// ParseCanonicalField converts a config key into a CanonicalField.
func ParseCanonicalField(s string) (CanonicalField, error) {
	key := CanonicalField(strings.ToLower(strings.TrimSpace(s)))
	for _, f := range CanonicalFields {
		if f == key {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown canonical field %q", s)
}

// =============================================================================
// UNITS
// =============================================================================

// CanonicalUnit is the single unit per quantity type that values are
// normalized to before reconciliation.
type CanonicalUnit string

const (
	// UnitKWh is the canonical unit for energy.
	UnitKWh CanonicalUnit = "kWh"

	// UnitCubicMetre is the canonical unit for volume (water, gas).
	UnitCubicMetre CanonicalUnit = "m3"
)

// ParseCanonicalUnit accepts the canonical spelling, case-insensitively.
func ParseCanonicalUnit(s string) (CanonicalUnit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "kwh":
		return UnitKWh, nil
	case "m3", "m³":
		return UnitCubicMetre, nil
	}
	return "", fmt.Errorf("unknown canonical unit %q", s)
}

// =============================================================================
// GRAIN
// =============================================================================

// Grain is the reporting bucket size.
type Grain string

const (
	GrainDay   Grain = "day"
	GrainWeek  Grain = "week"
	GrainMonth Grain = "month"
)

// ParseGrain converts a config value into a Grain.
func ParseGrain(s string) (Grain, error) {
	switch Grain(strings.ToLower(strings.TrimSpace(s))) {
	case GrainDay:
		return GrainDay, nil
	case GrainWeek:
		return GrainWeek, nil
	case GrainMonth:
		return GrainMonth, nil
	}
	return "", fmt.Errorf("unknown grain %q (want day, week or month)", s)
}

// =============================================================================
// PIPELINE RECORDS
// =============================================================================

// RawRow is one input row exactly as the source produced it.
type RawRow struct {
	// Index is the 1-based row number in the source file.
	Index int

	// Headers holds the header labels, shared by all rows of a table.
	Headers []string

	// Cells holds the raw cell values. It may be shorter or longer than Headers.
	Cells []string

	// Columns holds the 0-based source column of each cell. Nil means the
	// cells are in source order with no column removed.
	Columns []int

	// Numeric marks cells the source stored as numbers rather than text.
	// Such cells always use "." as decimal separator and no grouping.
	Numeric []bool
}

// Cell returns the cell at position i, or "" when the row is short.
func (r RawRow) Cell(i int) string {
	if i < 0 || i >= len(r.Cells) {
		return ""
	}
	return r.Cells[i]
}

// IsNumeric reports whether the cell at position i was stored as a number.
func (r RawRow) IsNumeric(i int) bool {
	return i >= 0 && i < len(r.Numeric) && r.Numeric[i]
}

// MappedRow is a RawRow whose cells have been assigned to canonical fields.
type MappedRow struct {
	// Index is the source row number.
	Index int

	values  map[CanonicalField]string
	present map[CanonicalField]bool
	numeric map[CanonicalField]bool

	// UnitHint is a unit taken from the quantity header (e.g. "Usage [kWh]").
	UnitHint string
}

// NewMappedRow builds a MappedRow. Fields absent from values are missing.
func NewMappedRow(index int, values map[CanonicalField]string, unitHint string) MappedRow {
	m := MappedRow{
		Index:    index,
		values:   make(map[CanonicalField]string, len(values)),
		present:  make(map[CanonicalField]bool, len(values)),
		UnitHint: unitHint,
	}
	for f, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		m.values[f] = v
		m.present[f] = true
	}
	return m
}

// Get returns the value for a field and whether it is present.
func (m MappedRow) Get(f CanonicalField) (string, bool) {
	v, ok := m.values[f]
	return v, ok && m.present[f]
}

// WithNumeric returns a copy of m with fields marked as stored numbers.
func (m MappedRow) WithNumeric(fields ...CanonicalField) MappedRow {
	if len(fields) == 0 {
		return m
	}
	numeric := make(map[CanonicalField]bool, len(m.numeric)+len(fields))
	for f := range m.numeric {
		numeric[f] = true
	}
	for _, f := range fields {
		numeric[f] = true
	}
	m.numeric = numeric
	return m
}

// Numeric reports whether the source stored f as a number.
func (m MappedRow) Numeric(f CanonicalField) bool {
	return m.numeric[f]
}

// NormalizedRecord is a fully typed reading.
type NormalizedRecord struct {
	EntityID    string
	PeriodStart time.Time
	PeriodEnd   time.Time
	Quantity    decimal.Decimal
	Unit        CanonicalUnit

	// Correction marks an explicit credit/correction; only these may be negative.
	Correction bool

	// SourceRow is the originating RawRow index.
	SourceRow int
}

// Duration returns PeriodEnd - PeriodStart.
func (r NormalizedRecord) Duration() time.Duration {
	return r.PeriodEnd.Sub(r.PeriodStart)
}

// ReconciledRecord is a NormalizedRecord that does not overlap any other
// reconciled record of the same entity and unit.
type ReconciledRecord struct {
	NormalizedRecord

	// Sources lists every source row that contributed to this record.
	Sources []int
}

// AggregatedRecord is one bucket of the target reporting grain.
type AggregatedRecord struct {
	EntityID    string
	PeriodStart time.Time
	PeriodEnd   time.Time
	Quantity    decimal.Decimal
	Unit        CanonicalUnit

	// NoData is set when no reconciled record overlapped the bucket.
	NoData bool

	// Correction is set when any contributing record was a correction.
	Correction bool

	// Coverage is the fraction of the bucket covered by source data, in [0, 1].
	Coverage decimal.Decimal
}

// =============================================================================
// VALIDATION ISSUES
// =============================================================================

// Severity ranks a ValidationIssue.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeverityFatal   Severity = "fatal"
)

// RecordRef points at the record or source row an issue is about.
type RecordRef struct {
	EntityID    string
	PeriodStart time.Time
	PeriodEnd   time.Time

	// Row is the source row number; 0 when the issue is about an output record.
	Row int
}

// String renders the reference for logs and reports.
func (r RecordRef) String() string {
	var parts []string
	if r.Row > 0 {
		parts = append(parts, fmt.Sprintf("row %d", r.Row))
	}
	if r.EntityID != "" {
		parts = append(parts, "entity "+r.EntityID)
	}
	if !r.PeriodStart.IsZero() || !r.PeriodEnd.IsZero() {
		parts = append(parts, fmt.Sprintf("%s..%s",
			r.PeriodStart.Format(time.RFC3339), r.PeriodEnd.Format(time.RFC3339)))
	}
	if len(parts) == 0 {
		return "table"
	}
	return strings.Join(parts, ", ")
}

// ValidationIssue is a finding about the table. Issues never mutate records.
type ValidationIssue struct {
	Ref      RecordRef
	Rule     string
	Severity Severity
	Message  string
}

// HasFatal reports whether any issue is fatal.
func HasFatal(issues []ValidationIssue) bool {
	for _, is := range issues {
		if is.Severity == SeverityFatal {
			return true
		}
	}
	return false
}

// CountBySeverity tallies issues per severity.
func CountBySeverity(issues []ValidationIssue) map[Severity]int {
	counts := make(map[Severity]int)
	for _, is := range issues {
		counts[is.Severity]++
	}
	return counts
}

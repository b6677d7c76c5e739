// =============================================================================
// Consumption Refinery - Value Normalizer
// =============================================================================
//
// This module turns one MappedRow into one NormalizedRecord:
//
//   1. Rewrite rules are applied to every cell (see rewrite.go).
//   2. Dates are parsed with the configured layouts and fallbacks.
//   3. The quantity is parsed with the configured number locale.
//   4. The unit is taken from the unit column, a unit written after the
//      quantity, or the quantity header, in that order.
//   5. The quantity is rescaled into the canonical unit.
//
// Every failure is a row-level error from the types package, so the caller
// can decide whether to skip the row or abort the run.
//
// =============================================================================

package normalizer

import (
	"fmt"
	"strings"
	"time"

	"github.com/ginjaninja78/consumption-refinery/internal/types"
)

// Config is the immutable normalization configuration.
type Config struct {
	// DateFormats are Go time layouts. Default: DefaultDateFormats
	DateFormats []string

	// Location interprets dates without an explicit offset. Default: UTC
	Location *time.Location

	// AcceptExcelSerial enables reading bare numbers as Excel date serials.
	AcceptExcelSerial bool

	// Locale describes number formatting. Default: "en"
	Locale Locale

	// Units is the conversion table. Default: DefaultUnitTable()
	Units UnitTable

	// Rewrites are cell rewrite rules applied before parsing.
	Rewrites []RewriteRule
}

// Normalizer parses mapped rows into typed records.
type Normalizer struct {
	dates    DateParser
	locale   Locale
	units    UnitTable
	rewriter *Rewriter
}

// New validates cfg and returns a Normalizer.
func New(cfg Config) (*Normalizer, error) {
	locale := cfg.Locale
	if locale == (Locale{}) {
		locale = namedLocales["en"]
	}
	if err := locale.Validate(); err != nil {
		return nil, err
	}

	units := cfg.Units
	if len(units) == 0 {
		units = DefaultUnitTable()
	}

	for _, layout := range cfg.DateFormats {
		if strings.TrimSpace(layout) == "" {
			return nil, fmt.Errorf("empty date format")
		}
	}

	rewriter, err := NewRewriter(cfg.Rewrites)
	if err != nil {
		return nil, err
	}

	return &Normalizer{
		dates:    NewDateParser(cfg.DateFormats, cfg.Location, cfg.AcceptExcelSerial),
		locale:   locale,
		units:    units,
		rewriter: rewriter,
	}, nil
}

// value returns the rewritten cell for f. A blank result counts as missing.
func (n *Normalizer) value(row types.MappedRow, f types.CanonicalField) (string, bool) {
	v, _ := row.Get(f)
	v = strings.TrimSpace(n.rewriter.Apply(f, v))
	return v, v != ""
}

// Normalize converts one mapped row.
//
// RETURNS:
//   - The normalized record, quantity in canonical units.
//   - MissingFieldError, UnparseableDateError, UnparseableQuantityError,
//     UnknownUnitError or InvertedPeriodError.
func (n *Normalizer) Normalize(row types.MappedRow) (types.NormalizedRecord, error) {
	entity, ok := n.value(row, types.FieldEntityID)
	if !ok {
		return types.NormalizedRecord{}, &types.MissingFieldError{Field: types.FieldEntityID}
	}

	start, err := n.date(row, types.FieldPeriodStart)
	if err != nil {
		return types.NormalizedRecord{}, err
	}
	end, err := n.date(row, types.FieldPeriodEnd)
	if err != nil {
		return types.NormalizedRecord{}, err
	}

	rawQty, ok := n.value(row, types.FieldQuantity)
	if !ok {
		return types.NormalizedRecord{}, &types.MissingFieldError{Field: types.FieldQuantity}
	}
	loc := n.locale
	if row.Numeric(types.FieldQuantity) {
		// Stored numbers are not written in the source locale.
		loc = namedLocales["en"]
	}
	qty, err := parseQuantity(rawQty, loc, n.units)
	if err != nil {
		return types.NormalizedRecord{}, err
	}

	unit, ok := n.value(row, types.FieldUnit)
	switch {
	case ok:
	case qty.unit != "":
		unit = qty.unit
	case row.UnitHint != "":
		unit = row.UnitHint
	default:
		return types.NormalizedRecord{}, &types.MissingFieldError{Field: types.FieldUnit}
	}
	conv, ok := n.units.Lookup(unit)
	if !ok {
		return types.NormalizedRecord{}, &types.UnknownUnitError{Unit: unit}
	}

	if end.Before(start) {
		return types.NormalizedRecord{}, &types.InvertedPeriodError{
			Start: start.Format(time.RFC3339),
			End:   end.Format(time.RFC3339),
		}
	}

	return types.NormalizedRecord{
		EntityID:    entity,
		PeriodStart: start,
		PeriodEnd:   end,
		Quantity:    qty.value.Mul(conv.Factor),
		Unit:        conv.Canonical,
		Correction:  qty.credit,
		SourceRow:   row.Index,
	}, nil
}

func (n *Normalizer) date(row types.MappedRow, f types.CanonicalField) (time.Time, error) {
	raw, ok := n.value(row, f)
	if !ok {
		return time.Time{}, &types.MissingFieldError{Field: f}
	}
	return n.dates.Parse(f, raw)
}

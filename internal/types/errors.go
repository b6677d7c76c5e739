package types

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SCHEMA-LEVEL ERRORS
// =============================================================================
// These abort a run: the input is structurally unusable.

// UnmappableColumnError is returned when a header resolves to no canonical field.
type UnmappableColumnError struct {
	Header string
}

func (e *UnmappableColumnError) Error() string {
	return fmt.Sprintf("column %q does not map to any canonical field", e.Header)
}

// AmbiguousMappingError is returned when a mapping cannot be decided without
// guessing: two headers claim the same field, or one header ties between fields.
type AmbiguousMappingError struct {
	Field   CanonicalField
	Headers []string

	// Candidates is set when a single header ties between several fields.
	Candidates []CanonicalField
}

func (e *AmbiguousMappingError) Error() string {
	if len(e.Candidates) > 0 {
		names := make([]string, len(e.Candidates))
		for i, c := range e.Candidates {
			names[i] = string(c)
		}
		return fmt.Sprintf("column %q matches several fields equally well: %s",
			strings.Join(e.Headers, ", "), strings.Join(names, ", "))
	}
	return fmt.Sprintf("columns %s all map to field %q",
		quoteAll(e.Headers), e.Field)
}

// =============================================================================
// ROW-LEVEL ERRORS
// =============================================================================
// These are policy-controlled via on_row_error.

// UnparseableDateError is returned when no configured date format matches.
type UnparseableDateError struct {
	Field CanonicalField
	Value string
}

func (e *UnparseableDateError) Error() string {
	return fmt.Sprintf("%s: cannot parse date %q", e.Field, e.Value)
}

// UnparseableQuantityError is returned when a quantity is not numeric after
// separator stripping.
type UnparseableQuantityError struct {
	Value string
}

func (e *UnparseableQuantityError) Error() string {
	return fmt.Sprintf("quantity: cannot parse %q as a number", e.Value)
}

// UnknownUnitError is returned for units absent from the conversion table.
type UnknownUnitError struct {
	Unit string
}

func (e *UnknownUnitError) Error() string {
	return fmt.Sprintf("unit: %q is not in the conversion table", e.Unit)
}

// MissingFieldError is returned when a required field has no value.
type MissingFieldError struct {
	Field CanonicalField
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("required field %q is missing", e.Field)
}

// InvertedPeriodError is returned when period_end lies before period_start.
type InvertedPeriodError struct {
	Start string
	End   string
}

func (e *InvertedPeriodError) Error() string {
	return fmt.Sprintf("period end %s is before period start %s", e.End, e.Start)
}

// RowError wraps a row-level error with the originating row index.
type RowError struct {
	Row int
	Err error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

// IsSchemaError reports whether err must abort the run regardless of policy.
func IsSchemaError(err error) bool {
	var unmappable *UnmappableColumnError
	var ambiguous *AmbiguousMappingError
	return errors.As(err, &unmappable) || errors.As(err, &ambiguous)
}

// IsRowError reports whether err is one of the policy-controlled row errors.
func IsRowError(err error) bool {
	var (
		date     *UnparseableDateError
		quantity *UnparseableQuantityError
		unit     *UnknownUnitError
		missing  *MissingFieldError
		inverted *InvertedPeriodError
	)
	return errors.As(err, &date) ||
		errors.As(err, &quantity) ||
		errors.As(err, &unit) ||
		errors.As(err, &missing) ||
		errors.As(err, &inverted)
}

func quoteAll(ss []string) string {
	q := make([]string, len(ss))
	for i, s := range ss {
		q[i] = fmt.Sprintf("%q", s)
	}
	return strings.Join(q, ", ")
}

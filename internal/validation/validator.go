// =============================================================================
// Consumption Refinery - Validation Engine
// =============================================================================
//
// This module checks the aggregated table against a fixed list of rules and
// reports every violation it finds.
//
// VALIDATION STRATEGY:
//   - Rules run in the order they were registered, each over the whole
//     table, so rules can look across buckets (gaps) and across units.
//   - Findings are collected, never thrown. The validator always completes.
//   - The table is never modified. Each rule receives its own copy.
//
// SEVERITIES:
//   - info / warning : reported, export proceeds
//   - error          : a record is wrong, export proceeds
//   - fatal          : the table should not be exported; the caller decides
//
// CUSTOMIZATION:
//   Implement the Rule interface and pass it to New alongside DefaultRules.
//
// =============================================================================

package validation

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ginjaninja78/consumption-refinery/internal/types"
)

// =============================================================================
// RULES AND OPTIONS
// =============================================================================

// Rule is one validation check over the aggregated table.
type Rule interface {
	// Name is the rule name reported in issues.
	Name() string

	// Check returns the issues found in records.
	Check(records []types.AggregatedRecord) []types.ValidationIssue
}

// Options holds the rule thresholds.
type Options struct {
	// MaxNoDataRun is the longest allowed run of consecutive no-data buckets.
	// A negative value disables the gap rule.
	MaxNoDataRun int

	// MinCoverage is the smallest acceptable coverage of a data bucket.
	// Zero disables the coverage rule.
	MinCoverage decimal.Decimal
}

// DefaultRules returns the built-in rule list for opts.
func DefaultRules(opts Options) []Rule {
	rules := []Rule{
		NonNegative{},
	}
	if opts.MaxNoDataRun >= 0 {
		rules = append(rules, NoDataGap{MaxRun: opts.MaxNoDataRun})
	}
	rules = append(rules, UnitConsistency{})
	if opts.MinCoverage.IsPositive() {
		rules = append(rules, LowCoverage{Min: opts.MinCoverage})
	}
	return rules
}

// =============================================================================
// VALIDATOR
// =============================================================================

// Validator runs a fixed list of rules.
type Validator struct {
	rules []Rule
}

// New creates a Validator with the given rules. The list cannot change
// afterwards.
func New(rules ...Rule) *Validator {
	return &Validator{rules: append([]Rule(nil), rules...)}
}

// NewDefault creates a Validator with DefaultRules(opts).
func NewDefault(opts Options) *Validator {
	return New(DefaultRules(opts)...)
}

// RuleNames lists the configured rules in order.
func (v *Validator) RuleNames() []string {
	names := make([]string, len(v.rules))
	for i, r := range v.rules {
		names[i] = r.Name()
	}
	return names
}

// Validate runs every rule over records and returns all findings.
//
// PARAMETERS:
//   - records: the aggregated table, ordered by entity, unit and period.
//
// RETURNS:
//   - The issues of all rules, in rule order.
func (v *Validator) Validate(records []types.AggregatedRecord) []types.ValidationIssue {
	var issues []types.ValidationIssue
	for _, r := range v.rules {
		view := append([]types.AggregatedRecord(nil), records...)
		issues = append(issues, r.Check(view)...)
	}
	return issues
}

// =============================================================================
// REPORT
// =============================================================================

// Report summarizes a list of issues.
type Report struct {
	Issues   []types.ValidationIssue
	Fatal    int
	Errors   int
	Warnings int
	Infos    int
}

// Summarize counts issues by severity.
func Summarize(issues []types.ValidationIssue) Report {
	counts := types.CountBySeverity(issues)
	return Report{
		Issues:   issues,
		Fatal:    counts[types.SeverityFatal],
		Errors:   counts[types.SeverityError],
		Warnings: counts[types.SeverityWarning],
		Infos:    counts[types.SeverityInfo],
	}
}

// Exportable is true when no fatal issue was found.
func (r Report) Exportable() bool {
	return r.Fatal == 0
}

// String renders the counts for logs.
func (r Report) String() string {
	return fmt.Sprintf("%d fatal, %d error(s), %d warning(s), %d info", r.Fatal, r.Errors, r.Warnings, r.Infos)
}

// FormatIssue renders one issue on a single line.
func FormatIssue(is types.ValidationIssue) string {
	return fmt.Sprintf("[%s] %s: %s (%s)", strings.ToUpper(string(is.Severity)), is.Rule, is.Message, is.Ref)
}

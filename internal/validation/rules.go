package validation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ginjaninja78/consumption-refinery/internal/types"
)

// Rule names.
const (
	RuleNonNegative     = "non_negative"
	RuleNoDataGap       = "no_data_gap"
	RuleUnitConsistency = "unit_consistency"
	RuleLowCoverage     = "low_coverage"
)

const dateLayout = "2006-01-02"

func refOf(r types.AggregatedRecord) types.RecordRef {
	return types.RecordRef{EntityID: r.EntityID, PeriodStart: r.PeriodStart, PeriodEnd: r.PeriodEnd}
}

// NonNegative flags negative buckets that are not corrections.
type NonNegative struct{}

func (NonNegative) Name() string { return RuleNonNegative }

func (NonNegative) Check(records []types.AggregatedRecord) []types.ValidationIssue {
	var issues []types.ValidationIssue
	for _, r := range records {
		if r.NoData || r.Correction || !r.Quantity.IsNegative() {
			continue
		}
		issues = append(issues, types.ValidationIssue{
			Ref:      refOf(r),
			Rule:     RuleNonNegative,
			Severity: types.SeverityError,
			Message:  fmt.Sprintf("quantity %s %s is negative and not marked as a correction", r.Quantity, r.Unit),
		})
	}
	return issues
}

// NoDataGap flags runs of consecutive no-data buckets longer than MaxRun.
type NoDataGap struct {
	MaxRun int
}

func (NoDataGap) Name() string { return RuleNoDataGap }

func (g NoDataGap) Check(records []types.AggregatedRecord) []types.ValidationIssue {
	var issues []types.ValidationIssue

	runStart := -1
	closeRun := func(end int) {
		if runStart < 0 {
			return
		}
		if n := end - runStart; n > g.MaxRun {
			first, last := records[runStart], records[end-1]
			issues = append(issues, types.ValidationIssue{
				Ref: types.RecordRef{
					EntityID:    first.EntityID,
					PeriodStart: first.PeriodStart,
					PeriodEnd:   last.PeriodEnd,
				},
				Rule:     RuleNoDataGap,
				Severity: types.SeverityFatal,
				Message: fmt.Sprintf("no data for %d consecutive buckets from %s to %s (max %d)",
					n, first.PeriodStart.Format(dateLayout), last.PeriodEnd.Format(dateLayout), g.MaxRun),
			})
		}
		runStart = -1
	}

	for i, r := range records {
		if i > 0 && (r.EntityID != records[i-1].EntityID || r.Unit != records[i-1].Unit) {
			closeRun(i)
		}
		if r.NoData {
			if runStart < 0 {
				runStart = i
			}
			continue
		}
		closeRun(i)
	}
	closeRun(len(records))
	return issues
}

// UnitConsistency flags entities reported in more than one canonical unit.
type UnitConsistency struct{}

func (UnitConsistency) Name() string { return RuleUnitConsistency }

func (UnitConsistency) Check(records []types.AggregatedRecord) []types.ValidationIssue {
	units := make(map[string]map[types.CanonicalUnit]bool)
	var order []string
	for _, r := range records {
		if units[r.EntityID] == nil {
			units[r.EntityID] = make(map[types.CanonicalUnit]bool)
			order = append(order, r.EntityID)
		}
		units[r.EntityID][r.Unit] = true
	}

	var issues []types.ValidationIssue
	for _, entity := range order {
		if len(units[entity]) < 2 {
			continue
		}
		names := make([]string, 0, len(units[entity]))
		for u := range units[entity] {
			names = append(names, string(u))
		}
		sort.Strings(names)
		issues = append(issues, types.ValidationIssue{
			Ref:      types.RecordRef{EntityID: entity},
			Rule:     RuleUnitConsistency,
			Severity: types.SeverityFatal,
			Message:  fmt.Sprintf("entity is reported in several units: %s", strings.Join(names, ", ")),
		})
	}
	return issues
}

// LowCoverage flags data buckets only partly covered by source periods.
type LowCoverage struct {
	Min decimal.Decimal
}

func (LowCoverage) Name() string { return RuleLowCoverage }

func (c LowCoverage) Check(records []types.AggregatedRecord) []types.ValidationIssue {
	var issues []types.ValidationIssue
	for _, r := range records {
		if r.NoData || !r.Coverage.LessThan(c.Min) {
			continue
		}
		issues = append(issues, types.ValidationIssue{
			Ref:      refOf(r),
			Rule:     RuleLowCoverage,
			Severity: types.SeverityWarning,
			Message:  fmt.Sprintf("source periods cover %s%% of the bucket (min %s%%)", percent(r.Coverage), percent(c.Min)),
		})
	}
	return issues
}

func percent(d decimal.Decimal) string {
	return d.Mul(decimal.NewFromInt(100)).StringFixed(1)
}

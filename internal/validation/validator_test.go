package validation

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/consumption-refinery/internal/types"
)

func bucket(entity string, d int, qty string, noData bool) types.AggregatedRecord {
	start := time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
	cov := decimal.NewFromInt(1)
	if noData {
		cov = decimal.Zero
	}
	return types.AggregatedRecord{
		EntityID:    entity,
		PeriodStart: start,
		PeriodEnd:   start.AddDate(0, 0, 1),
		Quantity:    decimal.RequireFromString(qty),
		Unit:        types.UnitKWh,
		NoData:      noData,
		Coverage:    cov,
	}
}

// series builds consecutive day buckets; "-" marks a no-data bucket.
func series(entity string, qtys ...string) []types.AggregatedRecord {
	out := make([]types.AggregatedRecord, len(qtys))
	for i, q := range qtys {
		if q == "-" {
			out[i] = bucket(entity, i+1, "0", true)
			continue
		}
		out[i] = bucket(entity, i+1, q, false)
	}
	return out
}

func byRule(issues []types.ValidationIssue, rule string) []types.ValidationIssue {
	var out []types.ValidationIssue
	for _, is := range issues {
		if is.Rule == rule {
			out = append(out, is)
		}
	}
	return out
}

func TestValidate_FiveDayGapExceedsMaxThree(t *testing.T) {
	v := NewDefault(Options{MaxNoDataRun: 3})

	issues := v.Validate(series("E1", "1", "-", "-", "-", "-", "-", "2"))

	gaps := byRule(issues, RuleNoDataGap)
	require.Len(t, gaps, 1)
	assert.Equal(t, types.SeverityFatal, gaps[0].Severity)
	assert.Equal(t, "E1", gaps[0].Ref.EntityID)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), gaps[0].Ref.PeriodStart)
	assert.Equal(t, time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC), gaps[0].Ref.PeriodEnd)
	assert.Contains(t, gaps[0].Message, "5 consecutive")
	assert.Contains(t, gaps[0].Message, "2024-01-02")
	assert.True(t, types.HasFatal(issues))
}

func TestValidate_GapWithinLimit(t *testing.T) {
	v := NewDefault(Options{MaxNoDataRun: 3})

	issues := v.Validate(series("E1", "1", "-", "-", "-", "2"))
	assert.Empty(t, byRule(issues, RuleNoDataGap))

	disabled := NewDefault(Options{MaxNoDataRun: -1})
	assert.NotContains(t, disabled.RuleNames(), RuleNoDataGap)
}

func TestValidate_GapDoesNotSpanEntities(t *testing.T) {
	v := NewDefault(Options{MaxNoDataRun: 2})

	table := append(series("E1", "1", "-", "-"), series("E2", "-", "-", "3")...)
	issues := v.Validate(table)
	assert.Empty(t, byRule(issues, RuleNoDataGap))
}

func TestValidate_NonNegative(t *testing.T) {
	credit := bucket("E1", 2, "-4", false)
	credit.Correction = true

	table := []types.AggregatedRecord{bucket("E1", 1, "-1", false), credit, bucket("E1", 3, "0", false)}
	issues := NewDefault(Options{MaxNoDataRun: 3}).Validate(table)

	neg := byRule(issues, RuleNonNegative)
	require.Len(t, neg, 1)
	assert.Equal(t, types.SeverityError, neg[0].Severity)
	assert.Equal(t, table[0].PeriodStart, neg[0].Ref.PeriodStart)
}

func TestValidate_UnitConsistency(t *testing.T) {
	water := bucket("E1", 1, "2", false)
	water.Unit = types.UnitCubicMetre

	issues := NewDefault(Options{MaxNoDataRun: 3}).Validate([]types.AggregatedRecord{
		bucket("E1", 1, "1", false), water, bucket("E2", 1, "1", false),
	})

	units := byRule(issues, RuleUnitConsistency)
	require.Len(t, units, 1)
	assert.Equal(t, "E1", units[0].Ref.EntityID)
	assert.Equal(t, types.SeverityFatal, units[0].Severity)
	assert.Contains(t, units[0].Message, "kWh, m3")
}

func TestValidate_LowCoverage(t *testing.T) {
	partial := bucket("E1", 2, "1", false)
	partial.Coverage = decimal.RequireFromString("0.25")

	table := []types.AggregatedRecord{bucket("E1", 1, "1", false), partial, bucket("E1", 3, "0", true)}

	issues := NewDefault(Options{MaxNoDataRun: 3, MinCoverage: decimal.RequireFromString("0.5")}).Validate(table)
	low := byRule(issues, RuleLowCoverage)
	require.Len(t, low, 1)
	assert.Equal(t, types.SeverityWarning, low[0].Severity)
	assert.Contains(t, low[0].Message, "25.0%")

	assert.Empty(t, byRule(NewDefault(Options{MaxNoDataRun: 3}).Validate(table), RuleLowCoverage))
}

type mutatingRule struct{}

func (mutatingRule) Name() string { return "mutating" }

func (mutatingRule) Check(records []types.AggregatedRecord) []types.ValidationIssue {
	for i := range records {
		records[i].Quantity = decimal.NewFromInt(-99)
	}
	return nil
}

func TestValidate_NeverMutatesTable(t *testing.T) {
	table := series("E1", "1", "2")
	v := New(mutatingRule{}, NonNegative{})

	issues := v.Validate(table)

	assert.Empty(t, issues)
	assert.True(t, decimal.NewFromInt(1).Equal(table[0].Quantity))
	assert.Equal(t, []string{"mutating", RuleNonNegative}, v.RuleNames())
}

func TestSummarize(t *testing.T) {
	r := Summarize([]types.ValidationIssue{
		{Severity: types.SeverityFatal},
		{Severity: types.SeverityWarning},
		{Severity: types.SeverityWarning},
	})
	assert.Equal(t, 1, r.Fatal)
	assert.Equal(t, 2, r.Warnings)
	assert.False(t, r.Exportable())
	assert.Equal(t, "1 fatal, 0 error(s), 2 warning(s), 0 info", r.String())
}

package aggregator

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/consumption-refinery/internal/types"
)

func at(month time.Month, d, h int) time.Time {
	return time.Date(2024, month, d, h, 0, 0, 0, time.UTC)
}

func rrec(entity string, start, end time.Time, qty string) types.ReconciledRecord {
	return types.ReconciledRecord{NormalizedRecord: types.NormalizedRecord{
		EntityID:    entity,
		PeriodStart: start,
		PeriodEnd:   end,
		Quantity:    decimal.RequireFromString(qty),
		Unit:        types.UnitKWh,
	}}
}

func sum(recs []types.AggregatedRecord) decimal.Decimal {
	s := decimal.Zero
	for _, r := range recs {
		s = s.Add(r.Quantity)
	}
	return s
}

func TestAggregate_DayGrainConservesQuantity(t *testing.T) {
	in := []types.ReconciledRecord{
		rrec("E1", at(1, 1, 0), at(1, 5, 0), "44.444444444444"),
		rrec("E1", at(1, 5, 0), at(1, 10, 0), "95.555555555556"),
		rrec("E1", at(1, 10, 0), at(1, 15, 0), "40"),
	}

	out := Aggregate(in, types.GrainDay, time.UTC)

	require.Len(t, out, 14)
	assert.Equal(t, at(1, 1, 0), out[0].PeriodStart)
	assert.Equal(t, at(1, 15, 0), out[13].PeriodEnd)
	assert.True(t, decimal.NewFromInt(180).Equal(sum(out)), "got %s", sum(out))
	assert.True(t, decimal.NewFromInt(8).Equal(out[13].Quantity))
	for _, r := range out {
		assert.False(t, r.NoData)
		assert.True(t, decimal.NewFromInt(1).Equal(r.Coverage))
	}
}

func TestAggregate_MonthGrainProratesAcrossBoundary(t *testing.T) {
	out := Aggregate([]types.ReconciledRecord{
		rrec("E1", at(1, 20, 0), at(2, 10, 0), "21"),
	}, types.GrainMonth, time.UTC)

	require.Len(t, out, 2)
	assert.Equal(t, at(1, 1, 0), out[0].PeriodStart)
	assert.Equal(t, at(2, 1, 0), out[0].PeriodEnd)
	assert.Equal(t, at(3, 1, 0), out[1].PeriodEnd)
	assert.True(t, decimal.NewFromInt(12).Equal(out[0].Quantity), "got %s", out[0].Quantity)
	assert.True(t, decimal.NewFromInt(9).Equal(out[1].Quantity), "got %s", out[1].Quantity)
}

func TestAggregate_NoDataVersusZero(t *testing.T) {
	out := Aggregate([]types.ReconciledRecord{
		rrec("E1", at(1, 1, 0), at(1, 3, 0), "0"),
		rrec("E1", at(1, 8, 0), at(1, 9, 0), "4"),
	}, types.GrainDay, time.UTC)

	require.Len(t, out, 8)
	for i, r := range out {
		switch {
		case i < 2:
			assert.False(t, r.NoData, "bucket %d", i)
			assert.True(t, r.Quantity.IsZero())
		case i < 7:
			assert.True(t, r.NoData, "bucket %d", i)
			assert.True(t, r.Quantity.IsZero())
			assert.True(t, r.Coverage.IsZero())
		default:
			assert.False(t, r.NoData)
		}
	}
}

func TestAggregate_PartialCoverage(t *testing.T) {
	r := rrec("E1", at(1, 1, 12), at(1, 2, 0), "6")
	r.Correction = true

	out := Aggregate([]types.ReconciledRecord{r}, types.GrainDay, time.UTC)

	require.Len(t, out, 1)
	assert.True(t, decimal.RequireFromString("0.5").Equal(out[0].Coverage))
	assert.True(t, out[0].Correction)
}

func TestAggregate_EntitiesAreSeparate(t *testing.T) {
	out := Aggregate([]types.ReconciledRecord{
		rrec("E2", at(1, 1, 0), at(1, 2, 0), "1"),
		rrec("E1", at(1, 5, 0), at(1, 6, 0), "2"),
	}, types.GrainDay, time.UTC)

	require.Len(t, out, 2)
	assert.Equal(t, "E1", out[0].EntityID)
	assert.Equal(t, "E2", out[1].EntityID)
}

func TestBucketStart(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		g    types.Grain
		want time.Time
	}{
		{"day", at(3, 15, 13), types.GrainDay, at(3, 15, 0)},
		{"week from sunday", at(1, 7, 23), types.GrainWeek, at(1, 1, 0)},
		{"week from monday", at(1, 8, 0), types.GrainWeek, at(1, 8, 0)},
		{"week across month", at(3, 1, 0), types.GrainWeek, at(2, 26, 0)},
		{"month", at(2, 29, 5), types.GrainMonth, at(2, 1, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BucketStart(tt.in, tt.g, time.UTC))
		})
	}
}

func TestBuckets_AlignInLocation(t *testing.T) {
	plus2 := time.FixedZone("UTC+2", 2*3600)

	// 2024-01-01 23:00 UTC is already Jan 2 in UTC+2.
	b := Buckets(at(1, 1, 23), at(1, 2, 23), types.GrainDay, plus2)

	require.Len(t, b, 3)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, plus2), b[0])
	assert.Equal(t, time.Date(2024, 1, 4, 0, 0, 0, 0, plus2), b[2])
	assert.Nil(t, Buckets(at(1, 2, 0), at(1, 2, 0), types.GrainDay, time.UTC))
}

func TestNextBucket_DSTDay(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skip("tzdata not available")
	}
	start := time.Date(2024, 3, 31, 0, 0, 0, 0, berlin)
	assert.Equal(t, 23*time.Hour, NextBucket(start, types.GrainDay).Sub(start))
}

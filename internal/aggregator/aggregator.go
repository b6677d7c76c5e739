// =============================================================================
// Consumption Refinery - Aggregator
// =============================================================================
//
// This module rolls reconciled records up to the reporting grain.
//
// BUCKETS:
//   Buckets are aligned to the grain in the configured time zone and run
//   from the bucket holding the earliest period_start to the bucket holding
//   the latest period_end of each entity. Every bucket in that range is
//   emitted. A bucket that no record touches carries quantity 0 and NoData;
//   a bucket whose records sum to zero is a real zero and does not.
//
// PRORATION:
//   A record contributes to each bucket in proportion to the share of its
//   duration inside that bucket. Its last bucket receives the remainder, so
//   the quantity of every record is conserved exactly.
//
// =============================================================================

package aggregator

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ginjaninja78/consumption-refinery/internal/types"
)

const (
	prorationPlaces = 12
	coveragePlaces  = 4
)

// Aggregate buckets records by entity and unit at grain g. A nil loc means
// UTC. Output is ordered by entity, unit and bucket start.
func Aggregate(records []types.ReconciledRecord, g types.Grain, loc *time.Location) []types.AggregatedRecord {
	if loc == nil {
		loc = time.UTC
	}

	type key struct {
		entity string
		unit   types.CanonicalUnit
	}
	groups := make(map[key][]types.ReconciledRecord)
	var keys []key
	for _, r := range records {
		k := key{r.EntityID, r.Unit}
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], r)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].entity != keys[j].entity {
			return keys[i].entity < keys[j].entity
		}
		return keys[i].unit < keys[j].unit
	})

	var out []types.AggregatedRecord
	for _, k := range keys {
		out = append(out, aggregateGroup(groups[k], g, loc)...)
	}
	return out
}

type bucket struct {
	quantity   decimal.Decimal
	covered    time.Duration
	touched    bool
	correction bool
}

func aggregateGroup(recs []types.ReconciledRecord, g types.Grain, loc *time.Location) []types.AggregatedRecord {
	var from, to time.Time
	seen := false
	for _, r := range recs {
		if r.Duration() <= 0 {
			continue
		}
		if !seen || r.PeriodStart.Before(from) {
			from = r.PeriodStart
		}
		if !seen || r.PeriodEnd.After(to) {
			to = r.PeriodEnd
		}
		seen = true
	}

	bounds := Buckets(from, to, g, loc)
	if len(bounds) < 2 {
		return nil
	}
	buckets := make([]bucket, len(bounds)-1)

	for _, r := range recs {
		if r.Duration() <= 0 {
			continue
		}
		first := sort.Search(len(bounds), func(i int) bool { return bounds[i].After(r.PeriodStart) }) - 1
		last := sort.Search(len(bounds), func(i int) bool { return !bounds[i].Before(r.PeriodEnd) }) - 1

		whole := decimal.NewFromInt(int64(r.Duration()))
		remaining := r.Quantity
		for b := first; b <= last; b++ {
			overlap := overlapOf(r.PeriodStart, r.PeriodEnd, bounds[b], bounds[b+1])
			share := remaining
			if b < last {
				share = r.Quantity.Mul(decimal.NewFromInt(int64(overlap))).DivRound(whole, prorationPlaces)
				remaining = remaining.Sub(share)
			}
			bk := &buckets[b]
			bk.quantity = bk.quantity.Add(share)
			bk.covered += overlap
			bk.touched = true
			bk.correction = bk.correction || r.Correction
		}
	}

	entity, unit := recs[0].EntityID, recs[0].Unit
	out := make([]types.AggregatedRecord, len(buckets))
	for i, bk := range buckets {
		span := bounds[i+1].Sub(bounds[i])
		if bk.covered > span {
			// Only reachable with overlapping input.
			bk.covered = span
		}
		out[i] = types.AggregatedRecord{
			EntityID:    entity,
			PeriodStart: bounds[i],
			PeriodEnd:   bounds[i+1],
			Quantity:    bk.quantity,
			Unit:        unit,
			NoData:      !bk.touched,
			Correction:  bk.correction,
			Coverage: decimal.NewFromInt(int64(bk.covered)).
				DivRound(decimal.NewFromInt(int64(span)), coveragePlaces),
		}
	}
	return out
}

func overlapOf(aStart, aEnd, bStart, bEnd time.Time) time.Duration {
	start, end := aStart, aEnd
	if bStart.After(start) {
		start = bStart
	}
	if bEnd.Before(end) {
		end = bEnd
	}
	if !end.After(start) {
		return 0
	}
	return end.Sub(start)
}

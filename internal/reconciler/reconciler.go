// =============================================================================
// Consumption Refinery - Interval Reconciler
// =============================================================================
//
// This module turns the normalized records of each entity into a set of
// pairwise non-overlapping intervals.
//
// ALGORITHM (per entity and canonical unit):
//   1. Zero-duration records are dropped with a zero_duration issue.
//   2. Records are sorted by period_start, ties by period_end.
//   3. Records with identical periods are duplicates: the larger quantity
//      wins, the first one on a tie.
//   4. The sorted records are scanned while tracking the end of the current
//      open interval. A record starting at or after that end closes the
//      interval. A record starting before it joins the overlap cluster.
//   5. A cluster of one record is emitted unchanged. A larger cluster is cut
//      at every start and end inside it; each record's quantity is spread
//      over the pieces it covers in proportion to duration and the pieces
//      are summed.
//
// CONSERVATION:
//   Every record hands its last piece the remainder of its quantity, so the
//   total quantity of a cluster is preserved exactly.
//
// =============================================================================

package reconciler

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ginjaninja78/consumption-refinery/internal/types"
)

// Issue rule names raised by the reconciler.
const (
	RuleZeroDuration    = "zero_duration"
	RuleDuplicatePeriod = "duplicate_period"
)

// prorationPlaces is the number of decimal places kept by prorated shares.
const prorationPlaces = 12

// Result holds the reconciled records and the issues found along the way.
type Result struct {
	Records []types.ReconciledRecord
	Issues  []types.ValidationIssue
}

// Reconcile resolves overlaps in records. Output is ordered by entity, unit
// and period start. The input slice is not modified.
func Reconcile(records []types.NormalizedRecord) Result {
	var res Result
	for _, group := range groupByEntity(records) {
		r := reconcileGroup(group)
		res.Records = append(res.Records, r.Records...)
		res.Issues = append(res.Issues, r.Issues...)
	}
	return res
}

type groupKey struct {
	entity string
	unit   types.CanonicalUnit
}

// groupByEntity partitions records by (entity, unit) in sorted key order.
func groupByEntity(records []types.NormalizedRecord) [][]types.NormalizedRecord {
	groups := make(map[groupKey][]types.NormalizedRecord)
	for _, r := range records {
		k := groupKey{entity: r.EntityID, unit: r.Unit}
		groups[k] = append(groups[k], r)
	}

	keys := make([]groupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].entity != keys[j].entity {
			return keys[i].entity < keys[j].entity
		}
		return keys[i].unit < keys[j].unit
	})

	out := make([][]types.NormalizedRecord, len(keys))
	for i, k := range keys {
		out[i] = groups[k]
	}
	return out
}

func reconcileGroup(group []types.NormalizedRecord) Result {
	var res Result

	recs := make([]types.NormalizedRecord, 0, len(group))
	for _, r := range group {
		if r.Duration() <= 0 {
			res.Issues = append(res.Issues, types.ValidationIssue{
				Ref:      refOf(r),
				Rule:     RuleZeroDuration,
				Severity: types.SeverityWarning,
				Message:  "zero-duration period dropped",
			})
			continue
		}
		recs = append(recs, r)
	}

	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].PeriodStart.Equal(recs[j].PeriodStart) {
			return recs[i].PeriodStart.Before(recs[j].PeriodStart)
		}
		return recs[i].PeriodEnd.Before(recs[j].PeriodEnd)
	})

	deduped, dupIssues := dropDuplicates(recs)
	res.Issues = append(res.Issues, dupIssues...)

	var cluster []types.ReconciledRecord
	var clusterEnd time.Time
	flush := func() {
		res.Records = append(res.Records, splitCluster(cluster)...)
		cluster = nil
	}
	for _, r := range deduped {
		if len(cluster) > 0 && !r.PeriodStart.Before(clusterEnd) {
			flush()
		}
		if len(cluster) == 0 || r.PeriodEnd.After(clusterEnd) {
			clusterEnd = r.PeriodEnd
		}
		cluster = append(cluster, r)
	}
	if len(cluster) > 0 {
		flush()
	}

	return res
}

// dropDuplicates collapses runs of identical periods in sorted records,
// keeping the largest quantity. The losers' rows are kept as sources.
func dropDuplicates(sorted []types.NormalizedRecord) ([]types.ReconciledRecord, []types.ValidationIssue) {
	var out []types.ReconciledRecord
	var issues []types.ValidationIssue

	for i := 0; i < len(sorted); {
		j := i + 1
		for j < len(sorted) && samePeriod(sorted[i], sorted[j]) {
			j++
		}

		w := i
		for k := i + 1; k < j; k++ {
			if sorted[k].Quantity.GreaterThan(sorted[w].Quantity) {
				w = k
			}
		}
		winner := sorted[w]

		sources := []int{winner.SourceRow}
		for k := i; k < j; k++ {
			if k == w {
				continue
			}
			r := sorted[k]
			sources = append(sources, r.SourceRow)
			issues = append(issues, types.ValidationIssue{
				Ref:      refOf(r),
				Rule:     RuleDuplicatePeriod,
				Severity: types.SeverityInfo,
				Message: fmt.Sprintf("duplicate period, quantity %s superseded by row %d (%s)",
					r.Quantity, winner.SourceRow, winner.Quantity),
			})
		}

		out = append(out, types.ReconciledRecord{NormalizedRecord: winner, Sources: sources})
		i = j
	}
	return out, issues
}

func samePeriod(a, b types.NormalizedRecord) bool {
	return a.PeriodStart.Equal(b.PeriodStart) && a.PeriodEnd.Equal(b.PeriodEnd)
}

// splitCluster cuts an overlap cluster into non-overlapping pieces.
func splitCluster(cluster []types.ReconciledRecord) []types.ReconciledRecord {
	if len(cluster) == 1 {
		return cluster
	}

	bounds := boundaries(cluster)
	pieces := make([]types.ReconciledRecord, len(bounds)-1)
	for i := range pieces {
		pieces[i] = types.ReconciledRecord{NormalizedRecord: types.NormalizedRecord{
			EntityID:    cluster[0].EntityID,
			PeriodStart: bounds[i],
			PeriodEnd:   bounds[i+1],
			Quantity:    decimal.Zero,
			Unit:        cluster[0].Unit,
			SourceRow:   -1,
		}}
	}

	for _, r := range cluster {
		first := sort.Search(len(bounds), func(i int) bool { return !bounds[i].Before(r.PeriodStart) })
		last := sort.Search(len(bounds), func(i int) bool { return !bounds[i].Before(r.PeriodEnd) }) - 1

		whole := decimal.NewFromInt(int64(r.Duration()))
		remaining := r.Quantity
		for p := first; p <= last; p++ {
			share := remaining
			if p < last {
				span := decimal.NewFromInt(int64(bounds[p+1].Sub(bounds[p])))
				share = r.Quantity.Mul(span).DivRound(whole, prorationPlaces)
				remaining = remaining.Sub(share)
			}
			piece := &pieces[p]
			piece.Quantity = piece.Quantity.Add(share)
			piece.Correction = piece.Correction || r.Correction
			piece.Sources = append(piece.Sources, r.Sources...)
			if piece.SourceRow < 0 {
				piece.SourceRow = r.SourceRow
			}
		}
	}

	for i := range pieces {
		sort.Ints(pieces[i].Sources)
	}
	return pieces
}

// boundaries returns the sorted distinct starts and ends of a cluster.
func boundaries(cluster []types.ReconciledRecord) []time.Time {
	seen := make(map[int64]bool)
	var out []time.Time
	for _, r := range cluster {
		for _, t := range []time.Time{r.PeriodStart, r.PeriodEnd} {
			if !seen[t.UnixNano()] {
				seen[t.UnixNano()] = true
				out = append(out, t)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func refOf(r types.NormalizedRecord) types.RecordRef {
	return types.RecordRef{
		EntityID:    r.EntityID,
		PeriodStart: r.PeriodStart,
		PeriodEnd:   r.PeriodEnd,
		Row:         r.SourceRow,
	}
}

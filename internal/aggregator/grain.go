package aggregator

import (
	"time"

	"github.com/ginjaninja78/consumption-refinery/internal/types"
)

// BucketStart returns the start of the grain bucket containing t, aligned in
// loc. Weeks start on Monday.
func BucketStart(t time.Time, g types.Grain, loc *time.Location) time.Time {
	t = t.In(loc)
	y, m, d := t.Date()
	switch g {
	case types.GrainMonth:
		return time.Date(y, m, 1, 0, 0, 0, 0, loc)
	case types.GrainWeek:
		offset := (int(t.Weekday()) + 6) % 7
		return time.Date(y, m, d-offset, 0, 0, 0, 0, loc)
	default:
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	}
}

// NextBucket returns the start of the bucket following the one starting at
// start. Calendar arithmetic keeps DST days at 23 or 25 hours.
func NextBucket(start time.Time, g types.Grain) time.Time {
	switch g {
	case types.GrainMonth:
		return start.AddDate(0, 1, 0)
	case types.GrainWeek:
		return start.AddDate(0, 0, 7)
	default:
		return start.AddDate(0, 0, 1)
	}
}

// Buckets lists the bucket starts covering [from, to), plus the end of the
// last bucket. It returns nil when to is not after from.
func Buckets(from, to time.Time, g types.Grain, loc *time.Location) []time.Time {
	if !to.After(from) {
		return nil
	}
	var out []time.Time
	b := BucketStart(from, g, loc)
	for b.Before(to) {
		out = append(out, b)
		b = NextBucket(b, g)
	}
	return append(out, b)
}

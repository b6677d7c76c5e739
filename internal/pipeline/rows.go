package pipeline

import (
	"strings"

	"github.com/ginjaninja78/consumption-refinery/internal/types"
)

// fallbackLayout is used when the configuration lists no date formats. It is
// one of the normalizer's default layouts.
const fallbackLayout = "2006-01-02T15:04:05Z07:00"

// AsRawRows renders aggregated records back into raw rows that cfg can read,
// so a refined table can be fed through Refine again. No-data buckets are
// left out: they are absence of data, not readings. Rows are numbered from 1.
//
// Only negative correction buckets keep their flag, written in accounting
// notation. A correction bucket that nets positive is written as a plain
// number and reads back as ordinary usage.
func AsRawRows(records []types.AggregatedRecord, cfg Config) []types.RawRow {
	headers := make([]string, len(types.CanonicalFields))
	for i, f := range types.CanonicalFields {
		headers[i] = string(f)
	}

	layout := fallbackLayout
	if len(cfg.Normalization.DateFormats) > 0 {
		layout = cfg.Normalization.DateFormats[0]
	}
	dec := cfg.Normalization.Locale.Decimal
	if dec == "" {
		dec = "."
	}
	loc := cfg.location()

	var rows []types.RawRow
	for _, r := range records {
		if r.NoData {
			continue
		}
		qty := r.Quantity.String()
		if r.Correction && r.Quantity.IsNegative() {
			qty = "(" + r.Quantity.Abs().String() + ")"
		}
		if dec != "." {
			qty = strings.Replace(qty, ".", dec, 1)
		}
		rows = append(rows, types.RawRow{
			Index:   len(rows) + 1,
			Headers: headers,
			Cells: []string{
				r.EntityID,
				r.PeriodStart.In(loc).Format(layout),
				r.PeriodEnd.In(loc).Format(layout),
				qty,
				string(r.Unit),
			},
		})
	}
	return rows
}

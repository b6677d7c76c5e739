package normalizer

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/consumption-refinery/internal/types"
)

// DefaultDateFormats are the layouts tried when a profile lists none.
// Day-first layouts precede the ISO ones only where they cannot collide.
var DefaultDateFormats = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"02.01.2006",
	"02.01.2006 15:04:05",
	"02.01.2006 15:04",
	"02/01/2006",
	"2006/01/02",
	"20060102",
}

// Largest serial excelize accepts (9999-12-31).
const maxExcelSerial = 2958465

// DateParser turns date cells into instants.
type DateParser struct {
	layouts     []string
	loc         *time.Location
	excelSerial bool
}

// NewDateParser returns a parser for the given layouts. A nil location means
// UTC. An empty layout list uses DefaultDateFormats.
func NewDateParser(layouts []string, loc *time.Location, excelSerial bool) DateParser {
	if len(layouts) == 0 {
		layouts = DefaultDateFormats
	}
	if loc == nil {
		loc = time.UTC
	}
	return DateParser{layouts: layouts, loc: loc, excelSerial: excelSerial}
}

// Parse reads raw as a date for field. It tries, in order, each layout, a
// date layout followed by a free-form clock ("01.01.2024, 7:30"), and, when
// enabled, an Excel serial number.
func (p DateParser) Parse(field types.CanonicalField, raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)

	if t, ok := p.byLayout(s); ok {
		return t, nil
	}

	if date, clock, ok := splitDateClock(s); ok {
		if d, ok := p.byLayout(date); ok {
			if h, m, sec, ok := normalizeClock(clock); ok {
				return time.Date(d.Year(), d.Month(), d.Day(), h, m, sec, 0, p.loc), nil
			}
		}
	}

	if p.excelSerial {
		if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 1 && f <= maxExcelSerial {
			if t, err := excelize.ExcelDateToTime(f, false); err == nil {
				return time.Date(t.Year(), t.Month(), t.Day(),
					t.Hour(), t.Minute(), t.Second(), 0, p.loc), nil
			}
		}
	}

	return time.Time{}, &types.UnparseableDateError{Field: field, Value: raw}
}

func (p DateParser) byLayout(s string) (time.Time, bool) {
	for _, layout := range p.layouts {
		if t, err := time.ParseInLocation(layout, s, p.loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// splitDateClock separates "date, clock", "date clock" and "dateTclock".
func splitDateClock(s string) (string, string, bool) {
	if date, clock, ok := strings.Cut(s, ","); ok {
		return strings.TrimSpace(date), strings.TrimSpace(clock), clock != ""
	}
	if i := strings.LastIndexAny(s, " \t"); i > 0 {
		return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+1:]), true
	}
	if i := strings.IndexByte(s, 'T'); i > 0 && i < len(s)-1 && isDigit(s[i-1]) {
		return s[:i], s[i+1:], true
	}
	return "", "", false
}

var nonDigits = regexp.MustCompile(`\D+`)

// normalizeClock reads the clock spellings found in exports: "H:M[:S]"
// or a bare digit run ("HHMMSS", "HHMM", "HMM", "HH", "H").
func normalizeClock(raw string) (int, int, int, bool) {
	txt := strings.Trim(nonDigits.ReplaceAllString(strings.TrimSpace(raw), ":"), ":")
	if txt == "" {
		return 0, 0, 0, false
	}

	var hh, mm, ss string
	parts := strings.Split(txt, ":")
	switch {
	case len(parts) == 1:
		d := parts[0]
		switch len(d) {
		case 6:
			hh, mm, ss = d[0:2], d[2:4], d[4:6]
		case 4:
			hh, mm, ss = d[0:2], d[2:4], "0"
		case 3:
			hh, mm, ss = d[0:1], d[1:3], "0"
		case 2, 1:
			hh, mm, ss = d, "0", "0"
		default:
			return 0, 0, 0, false
		}
	case len(parts) == 2:
		hh, mm, ss = parts[0], parts[1], "0"
	default:
		hh, mm, ss = parts[0], parts[1], parts[2]
	}

	h, err1 := strconv.Atoi(hh)
	m, err2 := strconv.Atoi(mm)
	s, err3 := strconv.Atoi(ss)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, 0, 0, false
	}
	if h == 24 && m == 0 && s == 0 {
		// "24:00" closes the day; time.Date rolls it into the next one.
		return h, m, s, true
	}
	if h < 0 || h > 23 || m < 0 || m > 59 || s < 0 || s > 59 {
		return 0, 0, 0, false
	}
	return h, m, s, true
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

package normalizer

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/ginjaninja78/consumption-refinery/internal/types"
)

// Locale describes how a source writes numbers.
type Locale struct {
	Thousands string `yaml:"thousands"`
	Decimal   string `yaml:"decimal"`
}

var namedLocales = map[string]Locale{
	"en": {Thousands: ",", Decimal: "."},
	"de": {Thousands: ".", Decimal: ","},
	"fr": {Thousands: " ", Decimal: ","},
	"ch": {Thousands: "'", Decimal: "."},
}

// LocaleByName returns a predefined locale (en, de, fr, ch).
func LocaleByName(name string) (Locale, error) {
	l, ok := namedLocales[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Locale{}, fmt.Errorf("unknown quantity locale %q", name)
	}
	return l, nil
}

// Validate rejects locales whose separators cannot be told apart.
func (l Locale) Validate() error {
	if l.Decimal == "" {
		return fmt.Errorf("locale decimal separator is empty")
	}
	if l.Thousands == l.Decimal {
		return fmt.Errorf("locale uses %q for both thousands and decimal", l.Decimal)
	}
	return nil
}

var plainNumber = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)$`)

// parsedQuantity is the outcome of reading a quantity cell.
type parsedQuantity struct {
	value decimal.Decimal

	// credit is set for accounting notation: "(12.5)" or "12.5 CR".
	credit bool

	// unit is a unit token written after the number, e.g. "12,5 kWh".
	unit string
}

// parseQuantity reads a quantity cell according to the locale. Units are
// consulted only to recognise a trailing unit token.
func parseQuantity(raw string, loc Locale, units UnitTable) (parsedQuantity, error) {
	var out parsedQuantity

	s := strings.TrimSpace(strings.NewReplacer("\u00a0", " ", "\u202f", " ").Replace(raw))
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		out.credit = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	num, suffix := splitSuffix(s, loc)
	if !strings.ContainsFunc(num, unicode.IsDigit) {
		return out, &types.UnparseableQuantityError{Value: raw}
	}
	if suffix != "" {
		switch {
		case strings.EqualFold(suffix, "cr"):
			out.credit = true
		case unitKnown(units, suffix):
			out.unit = suffix
		default:
			return out, &types.UnparseableQuantityError{Value: raw}
		}
	}
	s = num

	s = strings.Join(strings.Fields(s), "")
	if loc.Thousands != "" && loc.Thousands != " " {
		s = strings.ReplaceAll(s, loc.Thousands, "")
	}
	if loc.Decimal != "." {
		s = strings.ReplaceAll(s, loc.Decimal, ".")
	}
	if !plainNumber.MatchString(s) {
		return out, &types.UnparseableQuantityError{Value: raw}
	}

	v, err := decimal.NewFromString(s)
	if err != nil {
		return out, &types.UnparseableQuantityError{Value: raw}
	}
	if out.credit {
		v = v.Abs().Neg()
	}
	out.value = v
	return out, nil
}

// splitSuffix cuts s at the first character that cannot be part of a number
// written in loc. Unit tokens may contain digits ("m3"), so the number ends
// where the token starts, not at the last digit.
func splitSuffix(s string, loc Locale) (num, suffix string) {
	i := strings.IndexFunc(s, func(r rune) bool {
		switch {
		case unicode.IsDigit(r), unicode.IsSpace(r):
			return false
		case strings.ContainsRune("+-.,'", r):
			return false
		case strings.ContainsRune(loc.Thousands+loc.Decimal, r):
			return false
		}
		return true
	})
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i:])
}

func unitKnown(units UnitTable, s string) bool {
	_, ok := units.Lookup(s)
	return ok
}

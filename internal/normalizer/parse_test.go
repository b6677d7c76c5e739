package normalizer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/consumption-refinery/internal/types"
)

func TestParseQuantity_Locales(t *testing.T) {
	de, err := LocaleByName("de")
	require.NoError(t, err)
	fr, err := LocaleByName("fr")
	require.NoError(t, err)
	ch, err := LocaleByName("ch")
	require.NoError(t, err)
	en, err := LocaleByName("EN")
	require.NoError(t, err)

	tests := []struct {
		name   string
		raw    string
		loc    Locale
		want   string
		credit bool
		unit   string
	}{
		{"en thousands", "1,234.5", en, "1234.5", false, ""},
		{"de thousands", "1.234,5", de, "1234.5", false, ""},
		{"fr spaces", "1 234,5", fr, "1234.5", false, ""},
		{"fr nbsp", "1\u00a0234,5", fr, "1234.5", false, ""},
		{"ch apostrophe", "1'234.5", ch, "1234.5", false, ""},
		{"negative", "-3", en, "-3", false, ""},
		{"parenthesised credit", "(12.5)", en, "-12.5", true, ""},
		{"CR suffix", "12.5 CR", en, "-12.5", true, ""},
		{"trailing unit", "12,5 kWh", de, "12.5", false, "kWh"},
		{"leading decimal", ".5", en, "0.5", false, ""},
		{"unit with digit", "12 m3", en, "12", false, "m3"},
		{"unit with digit attached", "12m3", en, "12", false, "m3"},
		{"alias unit", "5 cbm", en, "5", false, "cbm"},
		{"superscript unit", "12 m³", en, "12", false, "m³"},
		{"de unit with digit", "1.234,5 m3", de, "1234.5", false, "m3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseQuantity(tt.raw, tt.loc, DefaultUnitTable())
			require.NoError(t, err)
			assertDecimal(t, tt.want, got.value)
			assert.Equal(t, tt.credit, got.credit)
			assert.Equal(t, tt.unit, got.unit)
		})
	}
}

func TestParseQuantity_Rejects(t *testing.T) {
	en, _ := LocaleByName("en")
	for _, raw := range []string{"abc", "12.5 EUR", "1e3", "12 m4", "m3", "1.2.3", "--4", ""} {
		t.Run(raw, func(t *testing.T) {
			_, err := parseQuantity(raw, en, DefaultUnitTable())
			var bad *types.UnparseableQuantityError
			assert.ErrorAs(t, err, &bad)
		})
	}

	_, err := LocaleByName("xx")
	assert.Error(t, err)
}

func TestDateParser(t *testing.T) {
	p := NewDateParser(nil, nil, true)

	tests := []struct {
		raw  string
		want time.Time
	}{
		{"2024-01-01", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"2024-01-01T10:15:00", time.Date(2024, 1, 1, 10, 15, 0, 0, time.UTC)},
		{"01.01.2024, 00:00:00", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"01.01.2024 730", time.Date(2024, 1, 1, 7, 30, 0, 0, time.UTC)},
		{"15.03.2024 7", time.Date(2024, 3, 15, 7, 0, 0, 0, time.UTC)},
		{"15.03.2024 071500", time.Date(2024, 3, 15, 7, 15, 0, 0, time.UTC)},
		{"2024-01-31 24:00", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)},
		{"45292", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := p.Parse(types.FieldPeriodStart, tt.raw)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestDateParser_LocationAndSerialSwitch(t *testing.T) {
	cet := time.FixedZone("CET", 3600)
	p := NewDateParser([]string{"02.01.2006"}, cet, false)

	got, err := p.Parse(types.FieldPeriodStart, "01.01.2024")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 12, 31, 23, 0, 0, 0, time.UTC), got.UTC())

	_, err = p.Parse(types.FieldPeriodStart, "45292")
	var bad *types.UnparseableDateError
	assert.ErrorAs(t, err, &bad)

	_, err = p.Parse(types.FieldPeriodEnd, "01.01.2024 25:00")
	assert.ErrorAs(t, err, &bad)
}

func TestRewriter_Actions(t *testing.T) {
	tests := []struct {
		action RewriteAction
		in     string
		want   string
	}{
		{RewriteAction{Type: "append_string", Value: "-A"}, "M1", "M1-A"},
		{RewriteAction{Type: "trim_left", Value: "#"}, "##M1", "M1"},
		{RewriteAction{Type: "trim_right"}, "M1  ", "M1"},
		{RewriteAction{Type: "uppercase"}, "m1", "M1"},
		{RewriteAction{Type: "lowercase"}, "KWH", "kwh"},
		{RewriteAction{Type: "replace", Find: "/", Value: "."}, "01/02/2024", "01.02.2024"},
		{RewriteAction{Type: "regex_replace", Find: `\s+kwh$`, Value: ""}, "12 kwh", "12"},
		{RewriteAction{Type: "substring", Value: "0,3"}, "Zähler", "Zäh"},
		{RewriteAction{Type: "remove_leading_zeros"}, "000", "0"},
		{RewriteAction{Type: "pad_zeros_to_length", Value: "6"}, "123", "000123"},
		{RewriteAction{Type: "extract_digits"}, "DE-00 12/3", "00123"},
		{RewriteAction{Type: "normalize_whitespace"}, " a \t b  ", "a b"},
		{RewriteAction{Type: "format_date", Value: "01/02/2006|2006-01-02"}, "01/15/2024", "2024-01-15"},
		{RewriteAction{Type: "format_date", Value: "01/02/2006|2006-01-02"}, "garbage", "garbage"},
		{RewriteAction{Type: "lookup_with_default", Value: "kWh", LookupTable: map[string]string{"W": "Wh"}}, "?", "kWh"},
		{RewriteAction{Type: "if_empty_use_default", Value: "m3"}, "L", "L"},
	}
	for _, tt := range tests {
		t.Run(tt.action.Type, func(t *testing.T) {
			r, err := NewRewriter([]RewriteRule{{Field: "unit", Actions: []RewriteAction{tt.action}}})
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.Apply(types.FieldUnit, tt.in))
			assert.Equal(t, tt.in, r.Apply(types.FieldQuantity, tt.in))
		})
	}
}

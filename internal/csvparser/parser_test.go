package csvparser

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/consumption-refinery/internal/config"
	"github.com/ginjaninja78/consumption-refinery/internal/schema"
	"github.com/ginjaninja78/consumption-refinery/internal/types"
)

func auto() config.CSVSettings {
	return config.CSVSettings{Delimiter: "auto", Encoding: "auto"}
}

func mapper(t *testing.T) *schema.Mapper {
	t.Helper()
	m, err := schema.NewMapper(schema.Mapping{})
	require.NoError(t, err)
	return m
}

func TestParseBytes_SniffsSemicolonWithDecimalCommas(t *testing.T) {
	in := "Meter;From;To;Consumption;Unit\n" +
		"E1;01.01.2024;02.01.2024;1,5;kWh\n" +
		"E1;02.01.2024;03.01.2024;2,25;kWh\n"

	table, err := ParseBytes([]byte(in), auto(), nil)
	require.NoError(t, err)

	assert.Equal(t, ';', table.Delimiter)
	assert.Equal(t, []string{"Meter", "From", "To", "Consumption", "Unit"}, table.Headers)
	require.Equal(t, 2, table.RowCount())
	assert.Equal(t, "1,5", table.Rows[0][3])
	assert.Equal(t, []int{2, 3}, table.RowNumbers)
}

func TestSniffDelimiter(t *testing.T) {
	tests := []struct {
		name string
		text string
		want rune
	}{
		{"comma", "a,b,c\n1,2,3\n", ','},
		{"tab", "a\tb\tc\n1\t2\t3\n", '\t'},
		{"pipe", "a|b\n1|2\n", '|'},
		{"quoted commas", "a;b\n\"1,5\";\"2,5\"\n\"3,5\";\"4,5\"\n", ';'},
		{"single column", "meter\nE1\n", ','},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sniffDelimiter(tt.text))
		})
	}
}

func TestParseBytes_EncodingFallback(t *testing.T) {
	// "Zähler" in Windows-1252.
	in := []byte("Z\xe4hler,Wert\nE1,1\n")

	table, err := ParseBytes(in, auto(), nil)
	require.NoError(t, err)
	assert.Equal(t, "windows-1252", table.Encoding)
	assert.Equal(t, "Zähler", table.Headers[0])

	strict := auto()
	strict.Encoding = "utf-8"
	_, err = ParseBytes(in, strict, nil)
	assert.Error(t, err)
}

func TestParseBytes_StripsBOM(t *testing.T) {
	table, err := ParseBytes([]byte("\xef\xbb\xbfMeter,Value\nE1,1\n"), auto(), nil)
	require.NoError(t, err)
	assert.Equal(t, "utf-8", table.Encoding)
	assert.Equal(t, "Meter", table.Headers[0])
}

func TestParseBytes_CleansBlankRowsAndColumns(t *testing.T) {
	in := strings.Join([]string{
		"Meter,,From,To,Consumption,Unit,",
		",,,,,,",
		"E1,,2024-01-01,2024-01-02,5,kWh,",
		"E1,,2024-01-02,2024-01-03,6,kWh,note",
		"",
	}, "\n")

	table, err := ParseBytes([]byte(in), auto(), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"Meter", "From", "To", "Consumption", "Unit", "Column_7"}, table.Headers)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, []string{"E1", "2024-01-01", "2024-01-02", "5", "kWh", ""}, table.Rows[0])
	assert.Equal(t, []int{3, 4}, table.RowNumbers)
	assert.Equal(t, []int{0, 2, 3, 4, 5, 6}, table.Columns)
	assert.Nil(t, table.Numeric)
}

func TestParseBytes_PositionsSurviveDroppedColumns(t *testing.T) {
	in := "id,,from,to,qty\n" +
		"E1,,2024-01-01,2024-01-02,5\n"

	settings := auto()
	settings.HeaderRow = 1
	table, err := ParseBytes([]byte(in), settings, nil)
	require.NoError(t, err)
	require.Len(t, table.Headers, 4)

	m, err := schema.NewMapper(schema.Mapping{Positions: map[types.CanonicalField]int{
		types.FieldEntityID:    0,
		types.FieldPeriodStart: 2,
		types.FieldPeriodEnd:   3,
		types.FieldQuantity:    4,
	}})
	require.NoError(t, err)

	row, err := m.MapRow(table.RawRows()[0])
	require.NoError(t, err)
	for field, want := range map[types.CanonicalField]string{
		types.FieldEntityID:    "E1",
		types.FieldPeriodStart: "2024-01-01",
		types.FieldPeriodEnd:   "2024-01-02",
		types.FieldQuantity:    "5",
	} {
		got, ok := row.Get(field)
		assert.True(t, ok, field)
		assert.Equal(t, want, got, field)
	}
}

func TestParseBytes_DetectsHeaderBelowTitle(t *testing.T) {
	in := "Consumption export\nGenerated 2024-02-01\n\nMeter,Period start,Period end,Consumption,Unit\nE1,2024-01-01,2024-01-02,5,kWh\n"

	table, err := ParseBytes([]byte(in), auto(), mapper(t))
	require.NoError(t, err)
	assert.Equal(t, 4, table.HeaderRow)
	assert.Equal(t, "Meter", table.Headers[0])

	rows := table.RawRows()
	require.Len(t, rows, 1)
	assert.Equal(t, 5, rows[0].Index)
	assert.Equal(t, "kWh", rows[0].Cell(4))
}

func TestParseBytes_ExplicitHeaderRow(t *testing.T) {
	in := "title\nMeter,Value\nE1,1\n"

	settings := auto()
	settings.HeaderRow = 2
	table, err := ParseBytes([]byte(in), settings, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Meter", "Value"}, table.Headers)

	settings.HeaderRow = 9
	_, err = ParseBytes([]byte(in), settings, nil)
	assert.Error(t, err)
}

func TestParse_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.csv")
	require.NoError(t, os.WriteFile(path, []byte("\n ,, \n"), 0644))

	_, err := Parse(path, auto(), nil)
	assert.ErrorIs(t, err, ErrEmpty)
}

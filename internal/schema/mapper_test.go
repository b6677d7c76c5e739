package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/consumption-refinery/internal/types"
)

func newDefaultMapper(t *testing.T) *Mapper {
	t.Helper()
	m, err := NewMapper(Mapping{})
	require.NoError(t, err)
	return m
}

func TestResolve_SynonymsAndCase(t *testing.T) {
	m := newDefaultMapper(t)

	cm, err := m.Resolve([]string{"Meter ID", "START DATE", "End-Date", "Consumption [kWh]", "UoM"})
	require.NoError(t, err)

	assert.Equal(t, 0, cm.Columns[types.FieldEntityID])
	assert.Equal(t, 1, cm.Columns[types.FieldPeriodStart])
	assert.Equal(t, 2, cm.Columns[types.FieldPeriodEnd])
	assert.Equal(t, 3, cm.Columns[types.FieldQuantity])
	assert.Equal(t, 4, cm.Columns[types.FieldUnit])
	assert.Equal(t, "kWh", cm.UnitHint)
	assert.Empty(t, cm.Missing())
}

func TestResolve_FuzzyMatchesTypos(t *testing.T) {
	m := newDefaultMapper(t)

	cm, err := m.Resolve([]string{"entity_id", "Period Strt", "period_end", "consumpton", "unit"})
	require.NoError(t, err)
	assert.Equal(t, 1, cm.Columns[types.FieldPeriodStart])
	assert.Equal(t, 3, cm.Columns[types.FieldQuantity])
}

func TestResolve_GermanHeaders(t *testing.T) {
	m := newDefaultMapper(t)

	cm, err := m.Resolve([]string{"Zählpunkt", "Zeitraum von", "Zeitraum bis", "Verbrauch (m3)"})
	require.NoError(t, err)
	assert.Equal(t, 0, cm.Columns[types.FieldEntityID])
	assert.Equal(t, 3, cm.Columns[types.FieldQuantity])
	assert.Equal(t, "m3", cm.UnitHint)
	assert.Equal(t, []types.CanonicalField{types.FieldUnit}, cm.Missing())
}

func TestResolve_UnmappableColumn(t *testing.T) {
	m := newDefaultMapper(t)

	_, err := m.Resolve([]string{"meter", "start", "end", "quantity", "Tariff Zone"})

	var unmappable *types.UnmappableColumnError
	require.ErrorAs(t, err, &unmappable)
	assert.Equal(t, "Tariff Zone", unmappable.Header)
}

func TestResolve_IgnoredColumnsAreSkipped(t *testing.T) {
	m, err := NewMapper(Mapping{IgnoreColumns: []string{"tariff*", "comment"}})
	require.NoError(t, err)

	cm, err := m.Resolve([]string{"meter", "Tariff Zone", "start", "end", "quantity", "Comment"})
	require.NoError(t, err)
	assert.Len(t, cm.Columns, 4)
}

func TestResolve_TwoHeadersSameFieldIsAmbiguous(t *testing.T) {
	m := newDefaultMapper(t)

	_, err := m.Resolve([]string{"meter", "start", "end", "Consumption", "Usage"})

	var ambiguous *types.AmbiguousMappingError
	require.ErrorAs(t, err, &ambiguous)
	assert.Equal(t, types.FieldQuantity, ambiguous.Field)
	assert.Equal(t, []string{"Consumption", "Usage"}, ambiguous.Headers)
}

func TestResolve_TieBetweenFieldsIsAmbiguous(t *testing.T) {
	m := newDefaultMapper(t)

	_, err := m.Resolve([]string{"meter", "start / end", "quantity"})

	var ambiguous *types.AmbiguousMappingError
	require.ErrorAs(t, err, &ambiguous)
	assert.ElementsMatch(t,
		[]types.CanonicalField{types.FieldPeriodStart, types.FieldPeriodEnd},
		ambiguous.Candidates)
}

func TestResolve_Positions(t *testing.T) {
	m, err := NewMapper(Mapping{
		Positions: map[types.CanonicalField]int{
			types.FieldEntityID:    0,
			types.FieldPeriodStart: 1,
			types.FieldPeriodEnd:   2,
			types.FieldQuantity:    3,
		},
	})
	require.NoError(t, err)

	cm, err := m.Resolve([]string{"Column_1", "Column_2", "Column_3", "Column_4", "unit"})
	require.NoError(t, err)
	assert.Equal(t, 4, cm.Columns[types.FieldUnit])

	row := cm.Apply(types.RawRow{Index: 2, Cells: []string{"E1", "2024-01-01", "2024-01-02", "5", "kWh"}})
	v, ok := row.Get(types.FieldQuantity)
	assert.True(t, ok)
	assert.Equal(t, "5", v)
}

func TestResolveColumns_PositionsReferToSourceColumns(t *testing.T) {
	m, err := NewMapper(Mapping{
		Positions: map[types.CanonicalField]int{
			types.FieldEntityID:    0,
			types.FieldPeriodStart: 2,
			types.FieldPeriodEnd:   3,
			types.FieldQuantity:    4,
			types.FieldUnit:        1,
		},
	})
	require.NoError(t, err)

	// Source column 1 was blank throughout and removed.
	cm, err := m.ResolveColumns([]string{"Column_1", "Column_3", "Column_4", "Column_5"}, []int{0, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, 3, cm.Columns[types.FieldQuantity])
	assert.Equal(t, []types.CanonicalField{types.FieldUnit}, cm.Missing())

	row := cm.Apply(types.RawRow{
		Index:   2,
		Cells:   []string{"E1", "2024-01-01", "2024-01-02", "5"},
		Numeric: []bool{false, false, false, true},
	})
	v, ok := row.Get(types.FieldQuantity)
	assert.True(t, ok)
	assert.Equal(t, "5", v)
	assert.True(t, row.Numeric(types.FieldQuantity))
	assert.False(t, row.Numeric(types.FieldEntityID))
}

func TestNewMapper_RejectsBadConfig(t *testing.T) {
	_, err := NewMapper(Mapping{Threshold: 1.5})
	assert.Error(t, err)

	_, err = NewMapper(Mapping{Positions: map[types.CanonicalField]int{
		types.FieldEntityID: 0,
		types.FieldQuantity: 0,
	}})
	assert.Error(t, err)

	_, err = NewMapper(Mapping{IgnoreColumns: []string{"[bad"}})
	assert.Error(t, err)
}

func TestMapRow_MissingValuesAreExplicit(t *testing.T) {
	m := newDefaultMapper(t)

	row, err := m.MapRow(types.RawRow{
		Index:   5,
		Headers: []string{"meter", "start", "end", "quantity", "unit"},
		Cells:   []string{"E1", "2024-01-01", "", "12"},
	})
	require.NoError(t, err)

	assert.Equal(t, 5, row.Index)
	_, ok := row.Get(types.FieldPeriodEnd)
	assert.False(t, ok)
	_, ok = row.Get(types.FieldUnit)
	assert.False(t, ok)
}

func TestDetectHeaderRow(t *testing.T) {
	m := newDefaultMapper(t)

	grid := [][]string{
		{"Export from MeterPortal", ""},
		{"Generated 2024-02-01", ""},
		{},
		{"Meter", "From", "To", "Consumption (kWh)"},
		{"E1", "2024-01-01", "2024-01-02", "12"},
	}

	row, ok := DetectHeaderRow(grid, m, 0)
	require.True(t, ok)
	assert.Equal(t, 3, row)

	_, ok = DetectHeaderRow(grid[:3], m, 0)
	assert.False(t, ok)
}

func TestNormalizeHeader(t *testing.T) {
	assert.Equal(t, "verbrauch", NormalizeHeader("Verbrauch [kWh]"))
	assert.Equal(t, "meter id", NormalizeHeader("  Meter-ID "))
	assert.Equal(t, "zählpunkt", NormalizeHeader("Zählpunkt:"))
	assert.Equal(t, "", UnitHint("Quantity"))
}

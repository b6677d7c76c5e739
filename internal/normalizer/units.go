package normalizer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ginjaninja78/consumption-refinery/internal/types"
)

// Conversion rescales a source unit into its canonical unit.
type Conversion struct {
	Canonical types.CanonicalUnit
	Factor    decimal.Decimal
}

// UnitTable maps unit aliases (normalized with UnitKey) to conversions.
type UnitTable map[string]Conversion

// UnitSpec is the config-file form of one conversion.
type UnitSpec struct {
	Canonical string `yaml:"canonical"`
	Factor    string `yaml:"factor"`
}

// DefaultUnitTable returns the built-in conversions. MWh is not in it: a
// source reporting MWh needs an explicit table entry.
func DefaultUnitTable() UnitTable {
	milli := decimal.New(1, -3)
	one := decimal.NewFromInt(1)
	return UnitTable{
		"wh":  {Canonical: types.UnitKWh, Factor: milli},
		"kwh": {Canonical: types.UnitKWh, Factor: one},
		"l":   {Canonical: types.UnitCubicMetre, Factor: milli},
		"ltr": {Canonical: types.UnitCubicMetre, Factor: milli},
		"m3":  {Canonical: types.UnitCubicMetre, Factor: one},
		"cbm": {Canonical: types.UnitCubicMetre, Factor: one},
	}
}

// NewUnitTable builds a table from config entries. An empty spec yields the
// default table.
func NewUnitTable(specs map[string]UnitSpec) (UnitTable, error) {
	if len(specs) == 0 {
		return DefaultUnitTable(), nil
	}

	aliases := make([]string, 0, len(specs))
	for alias := range specs {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)

	table := make(UnitTable, len(specs))
	for _, alias := range aliases {
		spec := specs[alias]
		canonical, err := types.ParseCanonicalUnit(spec.Canonical)
		if err != nil {
			return nil, fmt.Errorf("unit %q: %w", alias, err)
		}
		factor := decimal.NewFromInt(1)
		if strings.TrimSpace(spec.Factor) != "" {
			factor, err = decimal.NewFromString(strings.TrimSpace(spec.Factor))
			if err != nil {
				return nil, fmt.Errorf("unit %q: invalid factor %q: %w", alias, spec.Factor, err)
			}
		}
		if !factor.IsPositive() {
			return nil, fmt.Errorf("unit %q: factor must be positive, got %s", alias, factor)
		}
		key := UnitKey(alias)
		if _, dup := table[key]; dup {
			return nil, fmt.Errorf("unit %q collides with another alias after normalization", alias)
		}
		table[key] = Conversion{Canonical: canonical, Factor: factor}
	}
	return table, nil
}

// UnitKey normalizes a unit label: lower case, no spaces or dots, and "³"
// written as "3".
func UnitKey(unit string) string {
	u := strings.ToLower(strings.TrimSpace(unit))
	u = strings.ReplaceAll(u, "³", "3")
	u = strings.ReplaceAll(u, " ", "")
	u = strings.ReplaceAll(u, ".", "")
	return u
}

// Lookup finds the conversion for a unit label.
func (t UnitTable) Lookup(unit string) (Conversion, bool) {
	c, ok := t[UnitKey(unit)]
	return c, ok
}

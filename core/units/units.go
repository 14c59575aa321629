// Package units converts fuel prices and quantities between units of measure
// and currencies. All arithmetic is exact decimal; nothing here mutates its
// inputs or holds state.
package units

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Sentinel conversion failures. They are always returned wrapped in a
// CONVERSION_ERROR so callers can match with errors.Is.
var (
	ErrFuelRequiredForMassVolume = errors.New("fuel density required for mass/volume conversion")
	ErrIncompatibleRateKind      = errors.New("incompatible rate kinds")
	ErrMultiCurrencyConflict     = errors.New("supplier exchange rates requested across mixed native currencies")
	ErrUnknownUnit               = errors.New("unknown unit")
)

// Kind classifies a unit of measure
type Kind int

const (
	KindMass   Kind = iota // priced per mass unit, base kg
	KindVolume             // priced per volume unit, base litre
	KindFixed              // flat amount per occurrence (uplift, flight)
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindMass:
		return "mass"
	case KindVolume:
		return "volume"
	case KindFixed:
		return "fixed"
	default:
		return "unknown"
	}
}

// UOM is a physical unit of measure. ToBase is the number of base units
// (kg or litres) in one unit; fixed units use 1.
type UOM struct {
	Code   string
	Name   string
	Kind   Kind
	ToBase decimal.Decimal
}

// IsFluid reports whether amounts in this unit scale with quantity
func (u UOM) IsFluid() bool {
	return u.Kind == KindMass || u.Kind == KindVolume
}

// Equal compares units by code
func (u UOM) Equal(other UOM) bool {
	return u.Code == other.Code
}

// MarshalJSON encodes the unit as its code
func (u UOM) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.Code)
}

// UnmarshalJSON decodes a unit code through the registry
func (u *UOM) UnmarshalJSON(data []byte) error {
	var code string
	if err := json.Unmarshal(data, &code); err != nil {
		return err
	}
	if code == "" {
		*u = UOM{}
		return nil
	}
	parsed, err := ParseUOM(code)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

func mustDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var (
	Kilogram       = UOM{Code: "KG", Name: "Kilogram", Kind: KindMass, ToBase: decimal.NewFromInt(1)}
	Pound          = UOM{Code: "LB", Name: "Pound", Kind: KindMass, ToBase: mustDecimal("0.45359237")}
	MetricTonne    = UOM{Code: "MT", Name: "Metric Tonne", Kind: KindMass, ToBase: decimal.NewFromInt(1000)}
	Litre          = UOM{Code: "L", Name: "Litre", Kind: KindVolume, ToBase: decimal.NewFromInt(1)}
	Kilolitre      = UOM{Code: "KL", Name: "Kilolitre", Kind: KindVolume, ToBase: decimal.NewFromInt(1000)}
	CubicMetre     = UOM{Code: "M3", Name: "Cubic Metre", Kind: KindVolume, ToBase: decimal.NewFromInt(1000)}
	USGallon       = UOM{Code: "USG", Name: "US Gallon", Kind: KindVolume, ToBase: mustDecimal("3.785411784")}
	USGallon1000   = UOM{Code: "1000USG", Name: "1000 US Gallons", Kind: KindVolume, ToBase: mustDecimal("3785.411784")}
	ImperialGallon = UOM{Code: "IG", Name: "Imperial Gallon", Kind: KindVolume, ToBase: mustDecimal("4.54609")}
	PerUplift      = UOM{Code: "UPLIFT", Name: "Per Uplift", Kind: KindFixed, ToBase: decimal.NewFromInt(1)}
	PerFlight      = UOM{Code: "FLIGHT", Name: "Per Flight", Kind: KindFixed, ToBase: decimal.NewFromInt(1)}
)

var uomRegistry = map[string]UOM{}

func init() {
	for _, u := range []UOM{
		Kilogram, Pound, MetricTonne,
		Litre, Kilolitre, CubicMetre, USGallon, USGallon1000, ImperialGallon,
		PerUplift, PerFlight,
	} {
		uomRegistry[u.Code] = u
	}
}

// ParseUOM resolves a unit code (case-insensitive)
func ParseUOM(code string) (UOM, error) {
	u, ok := uomRegistry[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return UOM{}, fmt.Errorf("%w: uom %q", ErrUnknownUnit, code)
	}
	return u, nil
}

// MustUOM resolves a unit code or panics; for tests and static tables
func MustUOM(code string) UOM {
	u, err := ParseUOM(code)
	if err != nil {
		panic(err)
	}
	return u
}

// Fuel carries the density needed to cross between mass and volume.
// SpecificGravity is kg per litre.
type Fuel struct {
	Code            string          `json:"code" validate:"required"`
	Category        string          `json:"category,omitempty"`
	SpecificGravity decimal.Decimal `json:"specific_gravity"`
}

// Quantity is an amount in a unit of measure
type Quantity struct {
	Amount decimal.Decimal `json:"amount"`
	Unit   UOM             `json:"unit"`
}

// String returns "amount UNIT"
func (q Quantity) String() string {
	return q.Amount.String() + " " + q.Unit.Code
}

package units

import (
	"github.com/shopspring/decimal"

	perrors "fuel-pricing/internal/errors"
)

const (
	// DefaultPlaces is the rounding scale for converted amounts
	DefaultPlaces int32 = 6

	// QuantityPlaces is the scale uplift quantities are stored at
	QuantityPlaces int32 = 4
)

// Converter converts amounts between pricing units. The zero value rounds
// at DefaultPlaces.
type Converter struct {
	Places int32
}

// NewConverter creates a converter rounding at the given scale
func NewConverter(places int32) Converter {
	return Converter{Places: places}
}

func (c Converter) places() int32 {
	if c.Places <= 0 {
		return DefaultPlaces
	}
	return c.Places
}

// Round rounds half-up at the converter scale
func (c Converter) Round(d decimal.Decimal) decimal.Decimal {
	return RoundHalfUp(d, c.places())
}

// RoundHalfUp rounds to places with ties away from zero
func RoundHalfUp(d decimal.Decimal, places int32) decimal.Decimal {
	return d.Round(places)
}

// ConvertAmount converts a rate stated in `from` into a rate stated in `to`.
//
//	amount' = amount * exchangeRate * uomRate / (from.division / to.division)
//
// exchangeRate converts from.Currency.Code into to.Currency.Code. fuel is only
// consulted when the conversion crosses mass and volume.
func (c Converter) ConvertAmount(amount decimal.Decimal, from, to PricingUnit, fuel *Fuel, exchangeRate decimal.Decimal) (decimal.Decimal, error) {
	uomRate, err := UOMConversionRate(from.UOM, to.UOM, fuel)
	if err != nil {
		return decimal.Zero, err
	}
	divisionRatio := from.Currency.division().Div(to.Currency.division())
	factor := exchangeRate.Mul(uomRate).Div(divisionRatio)
	return c.Round(amount.Mul(factor)), nil
}

// UOMConversionRate is the number of `from` units contained in one `to` unit,
// i.e. the multiplier taking a price per `from` to a price per `to`.
func UOMConversionRate(from, to UOM, fuel *Fuel) (decimal.Decimal, error) {
	return unitsPer(from, to, fuel)
}

// ConvertQuantity converts a physical quantity between units of measure
func ConvertQuantity(qty decimal.Decimal, from, to UOM, fuel *Fuel) (decimal.Decimal, error) {
	rate, err := unitsPer(to, from, fuel)
	if err != nil {
		return decimal.Zero, err
	}
	return qty.Mul(rate), nil
}

// unitsPer returns how many `a` units make one `b` unit
func unitsPer(a, b UOM, fuel *Fuel) (decimal.Decimal, error) {
	if a.Kind == KindFixed || b.Kind == KindFixed {
		if a.Kind == b.Kind && a.Code == b.Code {
			return decimal.NewFromInt(1), nil
		}
		return decimal.Zero, perrors.Conversion(ErrIncompatibleRateKind,
			"cannot convert %s (%s) to %s (%s)", a.Code, a.Kind, b.Code, b.Kind)
	}
	if a.Code == b.Code {
		return decimal.NewFromInt(1), nil
	}

	// b expressed in its base (kg or L)
	base := b.ToBase
	if a.Kind != b.Kind {
		if fuel == nil || !fuel.SpecificGravity.IsPositive() {
			return decimal.Zero, perrors.Conversion(ErrFuelRequiredForMassVolume,
				"converting %s to %s", a.Code, b.Code)
		}
		if b.Kind == KindVolume {
			base = base.Mul(fuel.SpecificGravity) // litres -> kg
		} else {
			base = base.Div(fuel.SpecificGravity) // kg -> litres
		}
	}
	return base.Div(a.ToBase), nil
}

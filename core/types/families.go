package types

import (
	"github.com/shopspring/decimal"
)

// Family identifies one of the three rule families
type Family string

const (
	FamilyFuelPrice Family = "fuel_price"
	FamilyFeeRate   Family = "fee_rate"
	FamilyTax       Family = "tax"
)

// FuelPrice is a market fuel pricing row, part of a supplier PLD.
// InclusiveTaxes lists tax categories already folded into the quote.
type FuelPrice struct {
	Rule
	PLDID          string   `json:"pld_id,omitempty"`
	InclusiveTaxes []string `json:"inclusive_taxes,omitempty"`
	CascadeToFees  bool     `json:"cascade_to_fees"`
}

// SupplierFee is a named fee at one location priced through one or more rates
type SupplierFee struct {
	ID             int64      `json:"id"`
	Name           string     `json:"name"`
	Category       string     `json:"category"`
	LocationID     string     `json:"location_id"`
	SupplierID     string     `json:"supplier_id,omitempty"`
	Status         Status     `json:"status"`
	InclusiveTaxes []string   `json:"inclusive_taxes,omitempty"`
	Rates          []*FeeRate `json:"rates"`
}

// FeeRate is a rate row of a supplier fee. A rate priced in a fixed unit
// (per uplift, per flight) is a flat charge; otherwise it scales with uplift.
type FeeRate struct {
	Rule
	FeeID int64 `json:"fee_id"`
}

// IsFixed reports a flat-charge rate
func (r *FeeRate) IsFixed() bool {
	return !r.Pricing.Unit.UOM.IsFluid()
}

// TaxLevel is the geographic specificity of a tax rule
type TaxLevel int

const (
	LevelCountry TaxLevel = iota + 1
	LevelRegion
	LevelAirport
)

// String returns the level name
func (l TaxLevel) String() string {
	switch l {
	case LevelCountry:
		return "country"
	case LevelRegion:
		return "region"
	case LevelAirport:
		return "airport"
	default:
		return "unknown"
	}
}

// TaxMethod is how a tax amount is derived from its base
type TaxMethod string

const (
	TaxPercentage TaxMethod = "percentage"
	TaxFixed      TaxMethod = "fixed" // unit priced through Rule.Pricing
)

// TaxRule is an official tax or a supplier/location exception to one.
// Exactly one of CountryCode, RegionCode or Rule.LocationID sets the level;
// the most specific one present wins.
type TaxRule struct {
	Rule
	Name                string          `json:"name"`
	Category            string          `json:"category"`
	CountryCode         string          `json:"country_code,omitempty"`
	RegionCode          string          `json:"region_code,omitempty"`
	IsException         bool            `json:"is_exception"`
	AppliesToFuel       bool            `json:"applies_to_fuel"`
	AppliesToFees       bool            `json:"applies_to_fees"`
	SpecificFeeCategory string          `json:"specific_fee_category,omitempty"`
	Method              TaxMethod       `json:"method"`
	Percentage          decimal.Decimal `json:"percentage"`
	TaxableTaxID        *int64          `json:"taxable_tax_id,omitempty"`
	TaxableExceptionID  *int64          `json:"taxable_exception_id,omitempty"`
}

// Level returns the geographic specificity of the rule
func (t *TaxRule) Level() TaxLevel {
	switch {
	case t.LocationID != "":
		return LevelAirport
	case t.RegionCode != "":
		return LevelRegion
	default:
		return LevelCountry
	}
}

// TaxableRef returns the referenced base tax for tax-on-tax, if any
func (t *TaxRule) TaxableRef() (int64, bool) {
	switch {
	case t.TaxableTaxID != nil:
		return *t.TaxableTaxID, true
	case t.TaxableExceptionID != nil:
		return *t.TaxableExceptionID, true
	}
	return 0, false
}

// HasConflictingRefs reports both taxable_tax and taxable_exception set
func (t *TaxRule) HasConflictingRefs() bool {
	return t.TaxableTaxID != nil && t.TaxableExceptionID != nil
}

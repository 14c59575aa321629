package types

import (
	"time"

	"github.com/shopspring/decimal"

	"fuel-pricing/core/units"
)

// Row flags surfaced to the presentation layer
const (
	FlagHandlerSpecific          = "handler_specific"
	FlagApronSpecific            = "apron_specific"
	FlagClientSpecific           = "client_specific"
	FlagDeliveryMethodExclusions = "delivery_method_exclusions"
	FlagExpiredPricing           = "expired_client_specific_pricing"
	FlagBandFallback             = "band_fallback"
)

// RowKey is the fan-out dimension combination a result row stands for
type RowKey struct {
	SupplierID   string `json:"supplier_id,omitempty"`
	HookupMethod string `json:"hookup_method,omitempty"`
	ApronType    string `json:"apron_type,omitempty"`
	HandlerID    string `json:"handler_id,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
}

// String renders the key as supplier|hookup|apron|handler|client
func (k RowKey) String() string {
	return k.SupplierID + "|" + k.HookupMethod + "|" + k.ApronType + "|" + k.HandlerID + "|" + k.ClientID
}

// PriceAmount is an amount with its pricing unit
type PriceAmount struct {
	Amount decimal.Decimal   `json:"amount"`
	Unit   units.PricingUnit `json:"unit"`
}

// BandRef records the band a price was resolved from
type BandRef struct {
	RuleID       int64           `json:"rule_id"`
	Kind         BandKind        `json:"kind"`
	Start        decimal.Decimal `json:"start"`
	End          decimal.Decimal `json:"end"`
	EffectiveEnd decimal.Decimal `json:"effective_end"`
	UOM          units.UOM       `json:"uom"`
	Fallback     bool            `json:"fallback,omitempty"`
}

// FuelPriceLine is the resolved fuel price of a row
type FuelPriceLine struct {
	RuleID         int64           `json:"rule_id"`
	SupplierID     string          `json:"supplier_id,omitempty"`
	PLDID          string          `json:"pld_id,omitempty"`
	Native         PriceAmount     `json:"native"`
	Converted      PriceAmount     `json:"converted"`
	ExchangeRate   decimal.Decimal `json:"exchange_rate"`
	Quantity       decimal.Decimal `json:"quantity"`
	Total          decimal.Decimal `json:"total"`
	Band           *BandRef        `json:"band,omitempty"`
	Expired        bool            `json:"expired,omitempty"`
	InclusiveTaxes []string        `json:"inclusive_taxes,omitempty"`
	CascadeToFees  bool            `json:"cascade_to_fees,omitempty"`
}

// FeeLine is one applied supplier fee
type FeeLine struct {
	FeeID          int64           `json:"fee_id"`
	RateID         int64           `json:"rate_id"`
	Name           string          `json:"name"`
	Category       string          `json:"category"`
	Native         PriceAmount     `json:"native"`
	Converted      PriceAmount     `json:"converted"`
	Fixed          bool            `json:"fixed"`
	Quantity       decimal.Decimal `json:"quantity"`
	Amount         decimal.Decimal `json:"amount"`
	Band           *BandRef        `json:"band,omitempty"`
	InclusiveTaxes []string        `json:"inclusive_taxes,omitempty"`
}

// RateKind distinguishes percentage from unit-priced tax components
type RateKind string

const (
	RatePercentage RateKind = "percentage"
	RateUnitPrice  RateKind = "unit_price"
)

// BaseSources is the provenance of a component's base amount
type BaseSources struct {
	Fuel  []string `json:"fuel,omitempty"`
	Fees  []string `json:"fees,omitempty"`
	Taxes []string `json:"taxes,omitempty"`
}

// TaxComponent is one application of a tax rate on one base
type TaxComponent struct {
	IncludedInPricing bool            `json:"inc_in_pricing"`
	RateKind          RateKind        `json:"rate_kind"`
	Rate              decimal.Decimal `json:"rate"`
	OriginalUnit      string          `json:"original_pricing_unit,omitempty"`
	Base              decimal.Decimal `json:"base"`
	Amount            decimal.Decimal `json:"amount"`
	Sources           BaseSources     `json:"sources"`
}

// TaxLine is one applied tax with its component breakdown
type TaxLine struct {
	RuleID     int64           `json:"rule_id"`
	Name       string          `json:"name"`
	Category   string          `json:"category"`
	Level      string          `json:"level"`
	Exception  bool            `json:"exception"`
	Method     TaxMethod       `json:"method"`
	Components []TaxComponent  `json:"components"`
	Total      decimal.Decimal `json:"total"`
	Exclusive  decimal.Decimal `json:"exclusive"`
}

// RowTotals are the row sums in the output currency. Taxes counts only
// amounts not already included in quoted prices.
type RowTotals struct {
	Fuel  decimal.Decimal `json:"fuel"`
	Fees  decimal.Decimal `json:"fees"`
	Taxes decimal.Decimal `json:"taxes"`
	Total decimal.Decimal `json:"total"`
}

// RowResult is the breakdown of one fan-out row
type RowResult struct {
	Key       string         `json:"key"`
	Match     RowKey         `json:"match"`
	FuelPrice *FuelPriceLine `json:"fuel_price,omitempty"`
	Fees      []FeeLine      `json:"fees"`
	Taxes     []TaxLine      `json:"taxes"`
	Totals    RowTotals      `json:"totals"`
	Issues    []string       `json:"issues"`
	Flags     []string       `json:"flags"`
}

// AddIssue appends a row issue
func (r *RowResult) AddIssue(issue string) {
	r.Issues = append(r.Issues, issue)
}

// AddFlag appends a flag once
func (r *RowResult) AddFlag(flag string) {
	for _, f := range r.Flags {
		if f == flag {
			return
		}
	}
	r.Flags = append(r.Flags, flag)
}

// ScenarioResult is the ordered outcome of one calculation
type ScenarioResult struct {
	AirportID  string            `json:"airport_id"`
	ValidAt    time.Time         `json:"valid_at"`
	OutputUnit units.PricingUnit `json:"output_unit"`
	Rows       []RowResult       `json:"rows"`
	Issues     []string          `json:"issues"`
	UsedRates  []RateQuote       `json:"used_currency_rates"`
}

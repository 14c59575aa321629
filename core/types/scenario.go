package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fuel-pricing/core/determinism"
	"fuel-pricing/core/units"
)

// OperatedAs distinguishes commercial from private operations
type OperatedAs string

const (
	OperatedCommercial OperatedAs = "commercial"
	OperatedPrivate    OperatedAs = "private"
)

// CurrencyPair is an ordered from/to pair of ISO codes
type CurrencyPair struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// String returns "FROM-TO"
func (p CurrencyPair) String() string {
	return p.From + "-" + p.To
}

// Inverse returns the reversed pair
func (p CurrencyPair) Inverse() CurrencyPair {
	return CurrencyPair{From: p.To, To: p.From}
}

// ParseCurrencyPair parses "FROM-TO", resolving division symbols to their
// parent ISO code
func ParseCurrencyPair(s string) (CurrencyPair, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 2 {
		return CurrencyPair{}, fmt.Errorf("currency pair %q: expected FROM-TO", s)
	}
	from, err := units.ParseCurrency(parts[0])
	if err != nil {
		return CurrencyPair{}, err
	}
	to, err := units.ParseCurrency(parts[1])
	if err != nil {
		return CurrencyPair{}, err
	}
	return CurrencyPair{From: from.Code, To: to.Code}, nil
}

// RateSource names where an exchange rate came from
type RateSource string

const (
	SourceProvider RateSource = "provider"
	SourceRecorded RateSource = "recorded" // carried over from a prior record
	SourceOverride RateSource = "override" // manual override supplied by the caller
	SourceSupplier RateSource = "supplier" // supplier rate stored on the price row
)

// RateQuote is one exchange rate used by a scenario
type RateQuote struct {
	Pair   CurrencyPair    `json:"pair"`
	Rate   decimal.Decimal `json:"rate"`
	Source RateSource      `json:"source"`
	AsOf   time.Time       `json:"as_of"`
}

// ScenarioInput describes the transaction being priced
type ScenarioInput struct {
	AirportID      string          `json:"airport_id" validate:"required"`
	CountryCode    string          `json:"country_code" validate:"required,len=2"`
	RegionCode     string          `json:"region_code,omitempty"`
	Fuel           units.Fuel      `json:"fuel"`
	FlightType     string          `json:"flight_type" validate:"required"`
	Destination    string          `json:"destination" validate:"required"`
	OperatedAs     OperatedAs      `json:"operated_as" validate:"required,oneof=commercial private"`
	UpliftAt       time.Time       `json:"uplift_datetime" validate:"required"`
	Uplift         units.Quantity  `json:"uplift"`
	AircraftWeight *units.Quantity `json:"aircraft_weight,omitempty"`

	SupplierID   string `json:"supplier_id,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
	HandlerID    string `json:"handler_id,omitempty"`
	ApronType    string `json:"apron_type,omitempty"`
	HookupMethod string `json:"hookup_method,omitempty"`

	// OutputUnit is the unit every converted figure is stated in
	OutputUnit units.PricingUnit `json:"output_unit"`

	// CurrencyOverrides maps "FROM-TO" to a manual exchange rate
	CurrencyOverrides map[string]decimal.Decimal `json:"currency_overrides,omitempty"`

	UseSupplierExchangeRates bool `json:"use_supplier_exchange_rates"`

	// ExtendExpiredClientSpecific enables the fallback to expired
	// client-specific pricing when nothing valid matches
	ExtendExpiredClientSpecific bool `json:"extend_expired_client_spec_pricing"`

	IsRerun          bool   `json:"is_rerun"`
	SrcCalculationID string `json:"src_calculation_id,omitempty" validate:"required_if=IsRerun true"`
}

// Overrides parses CurrencyOverrides into pairs
func (in *ScenarioInput) Overrides() (map[CurrencyPair]decimal.Decimal, error) {
	out := make(map[CurrencyPair]decimal.Decimal, len(in.CurrencyOverrides))
	for _, key := range determinism.SortedKeys(in.CurrencyOverrides) {
		rate := in.CurrencyOverrides[key]
		pair, err := ParseCurrencyPair(key)
		if err != nil {
			return nil, err
		}
		if !rate.IsPositive() {
			return nil, fmt.Errorf("currency override %s must be positive", key)
		}
		out[pair] = rate
	}
	return out, nil
}

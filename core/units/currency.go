package units

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// Currency is an ISO 4217 currency, optionally stated in a division of it.
// Code is always the parent ISO code; Division is how many quoted units make
// one unit of Code (USC: Code USD, Division 100).
type Currency struct {
	Symbol   string
	Code     string
	Division decimal.Decimal
}

// divisionCurrencies are quoted sub-units used on supplier price lists
var divisionCurrencies = map[string]Currency{
	"USC": {Symbol: "USC", Code: "USD", Division: decimal.NewFromInt(100)},
	"GBX": {Symbol: "GBX", Code: "GBP", Division: decimal.NewFromInt(100)},
	"EUC": {Symbol: "EUC", Code: "EUR", Division: decimal.NewFromInt(100)},
}

// ParseCurrency resolves a currency symbol. ISO codes are validated against
// the ISO 4217 table; division symbols come from the local registry.
func ParseCurrency(symbol string) (Currency, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if c, ok := divisionCurrencies[s]; ok {
		return c, nil
	}
	unit, err := currency.ParseISO(s)
	if err != nil {
		return Currency{}, fmt.Errorf("%w: currency %q", ErrUnknownUnit, symbol)
	}
	return Currency{Symbol: unit.String(), Code: unit.String(), Division: decimal.NewFromInt(1)}, nil
}

// MustCurrency resolves a currency or panics
func MustCurrency(symbol string) Currency {
	c, err := ParseCurrency(symbol)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Currency) division() decimal.Decimal {
	if c.Division.IsZero() {
		return decimal.NewFromInt(1)
	}
	return c.Division
}

// PricingUnit is "currency per unit of measure", e.g. USC/USG or EUR/UPLIFT
type PricingUnit struct {
	Currency Currency
	UOM      UOM
}

// ParsePricingUnit parses "CUR/UOM"
func ParsePricingUnit(s string) (PricingUnit, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 2 {
		return PricingUnit{}, fmt.Errorf("%w: pricing unit %q", ErrUnknownUnit, s)
	}
	cur, err := ParseCurrency(parts[0])
	if err != nil {
		return PricingUnit{}, err
	}
	uom, err := ParseUOM(parts[1])
	if err != nil {
		return PricingUnit{}, err
	}
	return PricingUnit{Currency: cur, UOM: uom}, nil
}

// MustPricingUnit parses a pricing unit or panics
func MustPricingUnit(s string) PricingUnit {
	p, err := ParsePricingUnit(s)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns "CUR/UOM"
func (p PricingUnit) String() string {
	return p.Currency.Symbol + "/" + p.UOM.Code
}

// IsZero reports an unset pricing unit
func (p PricingUnit) IsZero() bool {
	return p.Currency.Symbol == "" && p.UOM.Code == ""
}

// WithCurrency returns the same unit of measure priced in another currency
func (p PricingUnit) WithCurrency(c Currency) PricingUnit {
	return PricingUnit{Currency: c, UOM: p.UOM}
}

// MarshalJSON encodes the unit as "CUR/UOM"
func (p PricingUnit) MarshalJSON() ([]byte, error) {
	if p.IsZero() {
		return json.Marshal("")
	}
	return json.Marshal(p.String())
}

// UnmarshalJSON decodes "CUR/UOM"
func (p *PricingUnit) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*p = PricingUnit{}
		return nil
	}
	parsed, err := ParsePricingUnit(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

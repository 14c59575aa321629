// Package datasource provides an in-memory RuleDataSource loaded from a JSON
// rule fixture. It applies the same coarse filters as the SQL source.
package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"fuel-pricing/core/types"
	perrors "fuel-pricing/internal/errors"
)

// Fixture is the file form of a rule set
type Fixture struct {
	FuelPrices   []*types.FuelPrice   `json:"fuel_prices"`
	SupplierFees []*types.SupplierFee `json:"supplier_fees"`
	TaxRules     []*types.TaxRule     `json:"tax_rules"`
}

// Source serves rule rows from memory
type Source struct {
	prices *types.Arena[*types.FuelPrice]
	fees   []*types.SupplierFee
	taxes  []*types.TaxRule
}

// Load reads a JSON fixture file
func Load(path string) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, perrors.Wrapf(perrors.TypeData, err, "failed to read rules %s", path)
	}
	var fx Fixture
	if err := json.Unmarshal(data, &fx); err != nil {
		return nil, perrors.Wrapf(perrors.TypeData, err, "failed to parse rules %s", path)
	}
	return New(fx)
}

// New validates a fixture and indexes it
func New(fx Fixture) (*Source, error) {
	for _, p := range fx.FuelPrices {
		if err := p.CheckValidity(); err != nil {
			return nil, perrors.Data(err, "fuel price %d", p.ID)
		}
	}
	prices := types.NewArena(fx.FuelPrices)
	if orphans := prices.Orphans(); len(orphans) > 0 {
		return nil, perrors.Newf(perrors.TypeData, "fuel price band %d has no parent", orphans[0].ID)
	}

	for _, fee := range fx.SupplierFees {
		for _, r := range fee.Rates {
			r.FeeID = fee.ID
			if r.LocationID == "" {
				r.LocationID = fee.LocationID
			}
			if err := r.CheckValidity(); err != nil {
				return nil, perrors.Data(err, "fee %d rate %d", fee.ID, r.ID)
			}
		}
		if orphans := types.NewArena(fee.Rates).Orphans(); len(orphans) > 0 {
			return nil, perrors.Newf(perrors.TypeData, "fee %d band %d has no parent", fee.ID, orphans[0].ID)
		}
	}

	for _, t := range fx.TaxRules {
		if err := t.CheckValidity(); err != nil {
			return nil, perrors.Data(err, "tax %d", t.ID)
		}
	}

	return &Source{prices: prices, fees: fx.SupplierFees, taxes: fx.TaxRules}, nil
}

// FuelPrices implements types.RuleDataSource
func (s *Source) FuelPrices(ctx context.Context, f types.CoarseFilter) ([]*types.FuelPrice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*types.FuelPrice
	for _, p := range s.prices.Parents() {
		if !keep(&p.Rule, f) {
			continue
		}
		out = append(out, p)
		out = append(out, s.prices.Children(p.ID)...)
	}
	return out, nil
}

// SupplierFees implements types.RuleDataSource. Fee headers are returned
// whatever their status; their rates are filtered like any rule row.
func (s *Source) SupplierFees(ctx context.Context, f types.CoarseFilter) ([]*types.SupplierFee, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*types.SupplierFee
	for _, fee := range s.fees {
		if fee.LocationID != f.LocationID {
			continue
		}
		rates := types.NewArena(fee.Rates)
		var kept []*types.FeeRate
		for _, r := range rates.Parents() {
			if !keep(&r.Rule, f) {
				continue
			}
			kept = append(kept, r)
			kept = append(kept, rates.Children(r.ID)...)
		}
		if len(kept) == 0 {
			continue
		}
		copied := *fee
		copied.Rates = kept
		out = append(out, &copied)
	}
	return out, nil
}

// TaxRules implements types.RuleDataSource. Rows of every status are
// returned so taxable references to retired taxes can be reported.
func (s *Source) TaxRules(ctx context.Context, f types.TaxFilter) ([]*types.TaxRule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*types.TaxRule
	for _, t := range s.taxes {
		switch t.Level() {
		case types.LevelAirport:
			if t.LocationID != f.AirportID {
				continue
			}
		case types.LevelRegion:
			if f.RegionCode == "" || t.RegionCode != f.RegionCode {
				continue
			}
		default:
			if t.CountryCode != f.CountryCode {
				continue
			}
		}
		out = append(out, t)
	}
	return out, nil
}

func keep(r *types.Rule, f types.CoarseFilter) bool {
	if r.LocationID != f.LocationID || r.Status.Lifecycle == types.LifecycleDeleted {
		return false
	}
	return r.ValidOn(f.At) || (f.IncludeExpired && r.ExpiredOn(f.At))
}

// String summarizes the loaded rule set
func (s *Source) String() string {
	return fmt.Sprintf("rules(fuel=%d fees=%d taxes=%d)", s.prices.Len(), len(s.fees), len(s.taxes))
}

var _ types.RuleDataSource = (*Source)(nil)

package engine

import (
	"context"

	"fuel-pricing/core/types"
	perrors "fuel-pricing/internal/errors"
)

// ruleSet is the snapshot of candidate rows one calculation works on
type ruleSet struct {
	fuel  *types.Arena[*types.FuelPrice]
	rates *types.Arena[*types.FeeRate]
	fees  map[int64]*types.SupplierFee
	taxes *types.Arena[*types.TaxRule]
}

func (e *Engine) loadRules(ctx context.Context, in *types.ScenarioInput) (*ruleSet, error) {
	if e.source == nil {
		return nil, perrors.Internal("no rule data source configured", nil)
	}
	// expired rows are only ever used for a client-specific fallback
	filter := types.CoarseFilter{
		LocationID:     in.AirportID,
		At:             in.UpliftAt,
		IncludeExpired: in.ClientID != "",
	}

	prices, err := e.source.FuelPrices(ctx, filter)
	if err != nil {
		return nil, perrors.Storage("failed to load fuel pricing", err)
	}
	if err := e.bound(in, "fuel pricing", len(prices)); err != nil {
		return nil, err
	}

	fees, err := e.source.SupplierFees(ctx, filter)
	if err != nil {
		return nil, perrors.Storage("failed to load supplier fees", err)
	}

	taxes, err := e.source.TaxRules(ctx, types.TaxFilter{
		AirportID:   in.AirportID,
		RegionCode:  in.RegionCode,
		CountryCode: in.CountryCode,
		At:          in.UpliftAt,
	})
	if err != nil {
		return nil, perrors.Storage("failed to load tax rules", err)
	}
	if err := e.bound(in, "tax", len(taxes)); err != nil {
		return nil, err
	}

	byID := make(map[int64]*types.SupplierFee, len(fees))
	var rates []*types.FeeRate
	for _, fee := range fees {
		byID[fee.ID] = fee
		for _, r := range fee.Rates {
			// rates inherit the scope of their fee
			rate := *r
			rate.FeeID = fee.ID
			if rate.LocationID == "" {
				rate.LocationID = fee.LocationID
			}
			if rate.Scope.SupplierID == "" {
				rate.Scope.SupplierID = fee.SupplierID
			}
			rates = append(rates, &rate)
		}
	}
	if err := e.bound(in, "fee rate", len(rates)); err != nil {
		return nil, err
	}

	return &ruleSet{
		fuel:  types.NewArena(prices),
		rates: types.NewArena(rates),
		fees:  byID,
		taxes: types.NewArena(taxes),
	}, nil
}

func (e *Engine) bound(in *types.ScenarioInput, family string, n int) error {
	if n > e.maxCandidates {
		return perrors.Inputf("location %s returned %d %s rows, limit is %d",
			in.AirportID, n, family, e.maxCandidates)
	}
	return nil
}

package fx

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"fuel-pricing/core/determinism"
	"fuel-pricing/core/types"
)

// inversePlaces is the scale derived inverse rates are rounded to
const inversePlaces int32 = 10

// StaticProvider serves a fixed rate table. A pair missing from the table
// is derived from its inverse when that is present.
type StaticProvider struct {
	rates map[types.CurrencyPair]decimal.Decimal
	asOf  time.Time
}

// NewStaticProvider builds a provider from "FROM-TO" keyed rates
func NewStaticProvider(rates map[string]decimal.Decimal, asOf time.Time) (*StaticProvider, error) {
	p := &StaticProvider{rates: make(map[types.CurrencyPair]decimal.Decimal, len(rates)), asOf: asOf}
	for _, key := range determinism.SortedKeys(rates) {
		rate := rates[key]
		pair, err := types.ParseCurrencyPair(key)
		if err != nil {
			return nil, err
		}
		if !rate.IsPositive() {
			return nil, fmt.Errorf("static rate %s must be positive", key)
		}
		p.rates[pair] = rate
	}
	return p, nil
}

// Rate implements Provider
func (p *StaticProvider) Rate(_ context.Context, pair types.CurrencyPair, _ time.Time) (types.RateQuote, error) {
	if rate, ok := p.rates[pair]; ok {
		return types.RateQuote{Pair: pair, Rate: rate, Source: types.SourceProvider, AsOf: p.asOf}, nil
	}
	if rate, ok := p.rates[pair.Inverse()]; ok {
		inv := decimal.NewFromInt(1).DivRound(rate, inversePlaces)
		return types.RateQuote{Pair: pair, Rate: inv, Source: types.SourceProvider, AsOf: p.asOf}, nil
	}
	return types.RateQuote{}, fmt.Errorf("%w: %s", ErrRateUnavailable, pair)
}

// Rates implements BatchProvider
func (p *StaticProvider) Rates(ctx context.Context, pairs []types.CurrencyPair, at time.Time) (map[types.CurrencyPair]types.RateQuote, error) {
	out := make(map[types.CurrencyPair]types.RateQuote, len(pairs))
	for _, pair := range pairs {
		q, err := p.Rate(ctx, pair, at)
		if err != nil {
			return nil, err
		}
		out[pair] = q
	}
	return out, nil
}

var _ BatchProvider = (*StaticProvider)(nil)

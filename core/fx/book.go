// Package fx resolves the exchange rates a scenario converts with. A Book is
// scoped to one scenario: each distinct pair is looked up at most once,
// rates recorded by a prior run seed a rerun, and manual overrides are
// layered on top of both.
package fx

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"fuel-pricing/core/determinism"
	"fuel-pricing/core/types"
	perrors "fuel-pricing/internal/errors"
)

// ErrRateUnavailable is returned when no source can price a pair
var ErrRateUnavailable = errors.New("exchange rate unavailable")

// Provider looks up exchange rates
type Provider interface {
	Rate(ctx context.Context, pair types.CurrencyPair, at time.Time) (types.RateQuote, error)
}

// BatchProvider can price several pairs in one round trip
type BatchProvider interface {
	Provider
	Rates(ctx context.Context, pairs []types.CurrencyPair, at time.Time) (map[types.CurrencyPair]types.RateQuote, error)
}

// Book is the scenario-scoped rate memo
type Book struct {
	provider  Provider
	at        time.Time
	overrides map[types.CurrencyPair]decimal.Decimal
	recorded  map[types.CurrencyPair]types.RateQuote
	used      map[types.CurrencyPair]types.RateQuote
	supplier  []types.RateQuote
	lookups   int
}

// BookOption configures a book
type BookOption func(*Book)

// WithOverrides layers manual rates over every other source
func WithOverrides(overrides map[types.CurrencyPair]decimal.Decimal) BookOption {
	return func(b *Book) {
		for pair, rate := range overrides {
			b.overrides[pair] = rate
		}
	}
}

// WithRecorded seeds the book with rates used by a prior calculation.
// Supplier rates are row data and are not carried over.
func WithRecorded(quotes []types.RateQuote) BookOption {
	return func(b *Book) {
		for _, q := range quotes {
			if q.Source == types.SourceSupplier {
				continue
			}
			b.recorded[q.Pair] = q
		}
	}
}

// NewBook creates a book pricing at the given instant
func NewBook(provider Provider, at time.Time, opts ...BookOption) *Book {
	b := &Book{
		provider:  provider,
		at:        at,
		overrides: make(map[types.CurrencyPair]decimal.Decimal),
		recorded:  make(map[types.CurrencyPair]types.RateQuote),
		used:      make(map[types.CurrencyPair]types.RateQuote),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Rate returns the rate converting from into to. Identical codes convert
// at 1 and are not recorded.
func (b *Book) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	pair := types.CurrencyPair{From: from, To: to}
	if q, ok := b.used[pair]; ok {
		return q.Rate, nil
	}
	if q, ok := b.local(pair); ok {
		b.used[pair] = q
		return q.Rate, nil
	}
	if b.provider == nil {
		return decimal.Zero, b.unavailable(pair, nil)
	}
	b.lookups++
	q, err := b.provider.Rate(ctx, pair, b.at)
	if err != nil {
		return decimal.Zero, b.unavailable(pair, err)
	}
	if !q.Rate.IsPositive() {
		return decimal.Zero, b.unavailable(pair, nil)
	}
	q.Pair = pair
	if q.Source == "" {
		q.Source = types.SourceProvider
	}
	b.used[pair] = q
	return q.Rate, nil
}

// Prefetch resolves every pair not yet known, in one batch when the
// provider supports it
func (b *Book) Prefetch(ctx context.Context, pairs []types.CurrencyPair) error {
	var missing []types.CurrencyPair
	seen := make(map[types.CurrencyPair]bool)
	for _, pair := range pairs {
		if pair.From == pair.To || seen[pair] {
			continue
		}
		seen[pair] = true
		if _, ok := b.used[pair]; ok {
			continue
		}
		if q, ok := b.local(pair); ok {
			b.used[pair] = q
			continue
		}
		missing = append(missing, pair)
	}
	if len(missing) == 0 {
		return nil
	}

	batch, ok := b.provider.(BatchProvider)
	if !ok {
		for _, pair := range missing {
			if _, err := b.Rate(ctx, pair.From, pair.To); err != nil {
				return err
			}
		}
		return nil
	}

	sortPairs(missing)
	b.lookups++
	quotes, err := batch.Rates(ctx, missing, b.at)
	if err != nil {
		return perrors.Wrapf(perrors.TypePricing, errors.Join(ErrRateUnavailable, err), "batch of %d pairs", len(missing))
	}
	for _, pair := range missing {
		q, ok := quotes[pair]
		if !ok || !q.Rate.IsPositive() {
			return b.unavailable(pair, nil)
		}
		q.Pair = pair
		if q.Source == "" {
			q.Source = types.SourceProvider
		}
		b.used[pair] = q
	}
	return nil
}

// NoteSupplierRate records a supplier rate taken from a price row
func (b *Book) NoteSupplierRate(pair types.CurrencyPair, rate decimal.Decimal, asOf time.Time) {
	for _, q := range b.supplier {
		if q.Pair == pair && q.Rate.Equal(rate) {
			return
		}
	}
	b.supplier = append(b.supplier, types.RateQuote{Pair: pair, Rate: rate, Source: types.SourceSupplier, AsOf: asOf})
}

// Used returns every rate the scenario converted with, ordered by pair
func (b *Book) Used() []types.RateQuote {
	out := make([]types.RateQuote, 0, len(b.used)+len(b.supplier))
	for _, q := range b.used {
		out = append(out, q)
	}
	determinism.SortSlice(out, func(a, b types.RateQuote) bool { return a.Pair.String() < b.Pair.String() })

	supplier := append([]types.RateQuote(nil), b.supplier...)
	determinism.SortSlice(supplier, func(a, b types.RateQuote) bool {
		if a.Pair != b.Pair {
			return a.Pair.String() < b.Pair.String()
		}
		return a.Rate.LessThan(b.Rate)
	})
	return append(out, supplier...)
}

// Lookups counts provider round trips made by the book
func (b *Book) Lookups() int {
	return b.lookups
}

func (b *Book) local(pair types.CurrencyPair) (types.RateQuote, bool) {
	if rate, ok := b.overrides[pair]; ok {
		return types.RateQuote{Pair: pair, Rate: rate, Source: types.SourceOverride, AsOf: b.at}, true
	}
	if q, ok := b.recorded[pair]; ok {
		q.Source = types.SourceRecorded
		return q, true
	}
	return types.RateQuote{}, false
}

func (b *Book) unavailable(pair types.CurrencyPair, cause error) error {
	err := ErrRateUnavailable
	if cause != nil {
		err = errors.Join(ErrRateUnavailable, cause)
	}
	return perrors.Wrapf(perrors.TypePricing, err, "pair %s", pair)
}

func sortPairs(pairs []types.CurrencyPair) {
	determinism.SortSlice(pairs, func(a, b types.CurrencyPair) bool { return a.String() < b.String() })
}

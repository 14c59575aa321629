// Package bands locates the quantity or weight band applicable to an uplift.
package bands

import (
	"errors"
	"sort"

	"github.com/shopspring/decimal"

	"fuel-pricing/core/types"
	"fuel-pricing/core/units"
	perrors "fuel-pricing/internal/errors"
)

var (
	ErrBandOverlap    = errors.New("overlapping bands")
	ErrMixedBandKinds = errors.New("sibling bands on different axes")
	ErrMissingBand    = errors.New("band child without band range")
	ErrWeightRequired = errors.New("aircraft weight required for weight band")
)

// gapTolerance is the largest start/end distance closed by extending the
// lower band; boundaries are stored as integers
var (
	gapTolerance = decimal.NewFromInt(1)
	gapEpsilon   = decimal.RequireFromString("0.0001")
)

// Axis carries the measured values bands are compared against
type Axis struct {
	Uplift units.Quantity
	Weight *units.Quantity
	Fuel   *units.Fuel
}

// Resolution is the outcome of resolving a banded entry
type Resolution[T types.Ruled] struct {
	Row          T
	Banded       bool
	Quantity     decimal.Decimal // axis value in the band unit
	EffectiveEnd decimal.Decimal
	Fallback     bool // no band contained the value; nearest band used
}

// Ref describes the resolved band for result lines
func (r Resolution[T]) Ref() *types.BandRef {
	if !r.Banded {
		return nil
	}
	base := r.Row.Base()
	return &types.BandRef{
		RuleID:       base.ID,
		Kind:         base.Band.Kind,
		Start:        base.Band.Start,
		End:          base.Band.End,
		EffectiveEnd: r.EffectiveEnd,
		UOM:          base.Band.UOM,
		Fallback:     r.Fallback,
	}
}

type span[T types.Ruled] struct {
	row  T
	band *types.Band
	end  decimal.Decimal
}

// Resolve returns the child whose band contains the axis value, or the
// parent itself when it has no children. children must belong to parent.
func Resolve[T types.Ruled](parent T, children []T, axis Axis) (Resolution[T], error) {
	if len(children) == 0 {
		return Resolution[T]{Row: parent}, nil
	}

	spans, err := buildSpans(children)
	if err != nil {
		return Resolution[T]{}, err
	}

	first := spans[0].band
	measured := axis.Uplift
	if first.Kind == types.BandWeight {
		if axis.Weight == nil {
			return Resolution[T]{}, perrors.Wrapf(perrors.TypePricing, ErrWeightRequired,
				"entry %d", parent.Base().ID)
		}
		measured = *axis.Weight
	}

	qty, err := units.ConvertQuantity(measured.Amount, measured.Unit, first.UOM, axis.Fuel)
	if err != nil {
		return Resolution[T]{}, err
	}
	qty = units.RoundHalfUp(qty, units.QuantityPlaces)

	for _, s := range spans {
		if qty.GreaterThanOrEqual(s.band.Start) && qty.LessThanOrEqual(s.end) {
			return Resolution[T]{Row: s.row, Banded: true, Quantity: qty, EffectiveEnd: s.end}, nil
		}
	}

	nearest := spans[0]
	best := distance(qty, nearest)
	for _, s := range spans[1:] {
		if d := distance(qty, s); d.LessThan(best) {
			nearest, best = s, d
		}
	}
	return Resolution[T]{Row: nearest.row, Banded: true, Quantity: qty, EffectiveEnd: nearest.end, Fallback: true}, nil
}

// EffectiveEnds returns the gap-closed end of each band, in input order.
// bands must be sorted by start.
func EffectiveEnds(bands []types.Band) []decimal.Decimal {
	out := make([]decimal.Decimal, len(bands))
	for i, b := range bands {
		out[i] = b.End
		if i+1 < len(bands) {
			next := bands[i+1].Start
			if gap := next.Sub(b.End); gap.IsPositive() && gap.LessThanOrEqual(gapTolerance) {
				out[i] = next.Sub(gapEpsilon)
			}
		}
	}
	return out
}

func buildSpans[T types.Ruled](children []T) ([]span[T], error) {
	spans := make([]span[T], 0, len(children))
	bands := make([]types.Band, 0, len(children))
	for _, c := range children {
		b := c.Base().Band
		if b == nil {
			return nil, perrors.Data(ErrMissingBand, "rule %d", c.Base().ID)
		}
		if len(spans) > 0 && (b.Kind != spans[0].band.Kind || !b.UOM.Equal(spans[0].band.UOM)) {
			return nil, perrors.Data(ErrMixedBandKinds, "rule %d", c.Base().ID)
		}
		spans = append(spans, span[T]{row: c, band: b})
	}
	sort.SliceStable(spans, func(i, j int) bool {
		return spans[i].band.Start.LessThan(spans[j].band.Start)
	})
	for i := range spans {
		if i > 0 && !spans[i].band.Start.GreaterThan(spans[i-1].band.End) {
			return nil, perrors.Data(ErrBandOverlap, "rules %d and %d",
				spans[i-1].row.Base().ID, spans[i].row.Base().ID)
		}
		bands = append(bands, *spans[i].band)
	}
	for i, end := range EffectiveEnds(bands) {
		spans[i].end = end
	}
	return spans, nil
}

func distance[T types.Ruled](q decimal.Decimal, s span[T]) decimal.Decimal {
	if q.LessThan(s.band.Start) {
		return s.band.Start.Sub(q)
	}
	return q.Sub(s.end)
}

package tax

import (
	"fuel-pricing/core/types"
)

type mergeKey struct {
	inc      bool
	kind     types.RateKind
	rate     string
	original string
}

// Merge sums components sharing inclusion status, rate and original pricing
// unit, concatenating their provenance. Components with different inclusion
// status never merge. The input is not modified; output keeps the order in
// which each key first appears.
func Merge(components []types.TaxComponent) []types.TaxComponent {
	index := make(map[mergeKey]int, len(components))
	out := make([]types.TaxComponent, 0, len(components))
	for _, c := range components {
		key := mergeKey{inc: c.IncludedInPricing, kind: c.RateKind, rate: c.Rate.String(), original: c.OriginalUnit}
		i, ok := index[key]
		if !ok {
			index[key] = len(out)
			out = append(out, types.TaxComponent{
				IncludedInPricing: c.IncludedInPricing,
				RateKind:          c.RateKind,
				Rate:              c.Rate,
				OriginalUnit:      c.OriginalUnit,
				Base:              c.Base,
				Amount:            c.Amount,
				Sources:           copySources(c.Sources),
			})
			continue
		}
		m := &out[i]
		m.Base = m.Base.Add(c.Base)
		m.Amount = m.Amount.Add(c.Amount)
		m.Sources.Fuel = append(m.Sources.Fuel, c.Sources.Fuel...)
		m.Sources.Fees = append(m.Sources.Fees, c.Sources.Fees...)
		m.Sources.Taxes = append(m.Sources.Taxes, c.Sources.Taxes...)
	}
	return out
}

func copySources(s types.BaseSources) types.BaseSources {
	return types.BaseSources{
		Fuel:  append([]string(nil), s.Fuel...),
		Fees:  append([]string(nil), s.Fees...),
		Taxes: append([]string(nil), s.Taxes...),
	}
}

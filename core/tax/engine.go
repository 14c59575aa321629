// Package tax composes the taxes applicable to a priced row: it selects the
// winning rule per category, orders tax-on-tax chains, applies percentage
// and fixed methods and merges components for presentation.
package tax

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"fuel-pricing/core/types"
	"fuel-pricing/core/units"
	perrors "fuel-pricing/internal/errors"
)

var hundred = decimal.NewFromInt(100)

// Converter prices a fixed tax rate in the output unit
type Converter func(amount decimal.Decimal, from units.PricingUnit) (decimal.Decimal, units.PricingUnit, error)

// Input is everything a row's tax computation depends on
type Input struct {
	At       time.Time
	Fuel     *types.FuelPriceLine
	Fees     []types.FeeLine
	Quantity decimal.Decimal // uplift in the output unit of measure

	// Candidates are the matched tax rules, most specific first
	Candidates []*types.TaxRule

	// Known holds every loaded tax row for resolving taxable references
	Known *types.Arena[*types.TaxRule]

	Convert Converter
	Places  int32
}

// Result is the computed tax lines of a row
type Result struct {
	Lines  []types.TaxLine
	Issues []string
}

// Compute evaluates the taxes of one row. It holds no state between calls;
// identical input yields identical lines. A cyclic taxable reference is
// returned as a TAX_CYCLE_ERROR wrapping *CycleError.
func Compute(in Input) (Result, error) {
	places := in.Places
	if places <= 0 {
		places = units.DefaultPlaces
	}
	var res Result

	selected := Select(in.Candidates)
	byID := make(map[int64]*types.TaxRule, len(selected))
	ids := make([]int64, 0, len(selected))
	bases := make(map[int64]int64)
	for _, t := range selected {
		byID[t.ID] = t
		ids = append(ids, t.ID)
	}
	if err := checkReferences(selected, in.Known); err != nil {
		return Result{}, err
	}
	for _, t := range selected {
		if ref, ok := resolveRef(t, byID, in, &res); ok {
			bases[t.ID] = ref
		}
	}

	order, err := Order(ids, bases)
	if err != nil {
		return Result{}, perrors.Wrap(perrors.TypeTaxCycle, "taxable tax references form a cycle", err)
	}

	computed := make(map[int64]*types.TaxLine, len(order))
	for _, id := range order {
		t := byID[id]
		var baseLine *types.TaxLine
		if ref, ok := bases[id]; ok {
			baseLine = computed[ref]
		}
		comps, err := components(t, baseLine, in, places)
		if err != nil {
			return Result{}, err
		}
		if len(comps) == 0 {
			continue
		}
		line := newLine(t, Merge(comps))
		computed[id] = &line
	}

	for _, id := range order {
		if line, ok := computed[id]; ok {
			res.Lines = append(res.Lines, *line)
		}
	}
	sort.SliceStable(res.Lines, func(i, j int) bool {
		if res.Lines[i].Category != res.Lines[j].Category {
			return res.Lines[i].Category < res.Lines[j].Category
		}
		return res.Lines[i].RuleID < res.Lines[j].RuleID
	})
	return res, nil
}

// Select keeps one rule per (category, target): exceptions win over
// officials, then airport > region > country, then candidate order
func Select(candidates []*types.TaxRule) []*types.TaxRule {
	best := make(map[string]int)
	var keys []string
	for i, t := range candidates {
		key := groupKey(t)
		j, ok := best[key]
		if !ok {
			best[key] = i
			keys = append(keys, key)
			continue
		}
		if outranks(t, candidates[j]) {
			best[key] = i
		}
	}
	out := make([]*types.TaxRule, 0, len(keys))
	for _, k := range keys {
		out = append(out, candidates[best[k]])
	}
	return out
}

func groupKey(t *types.TaxRule) string {
	return fmt.Sprintf("%s|fuel=%t|fees=%t|%s", t.Category, t.AppliesToFuel, t.AppliesToFees, t.SpecificFeeCategory)
}

// outranks compares a later candidate against the current group winner;
// equal precedence keeps the earlier candidate
func outranks(a, b *types.TaxRule) bool {
	if a.IsException != b.IsException {
		return a.IsException
	}
	return a.Level() > b.Level()
}

// resolveRef validates the taxable reference of t. Problems become row
// issues and drop the tax-on-tax component.
func resolveRef(t *types.TaxRule, selected map[int64]*types.TaxRule, in Input, res *Result) (int64, bool) {
	if t.HasConflictingRefs() {
		res.Issues = append(res.Issues, fmt.Sprintf("tax %q sets both taxable tax and taxable exception; reference ignored", t.Name))
		return 0, false
	}
	ref, ok := t.TaxableRef()
	if !ok {
		return 0, false
	}
	if t.Method == types.TaxFixed {
		res.Issues = append(res.Issues, fmt.Sprintf("tax %q is fixed-rate; taxable reference ignored", t.Name))
		return 0, false
	}

	var target *types.TaxRule
	if in.Known != nil {
		target, ok = in.Known.Get(ref)
	}
	switch {
	case target == nil || !ok:
		res.Issues = append(res.Issues, fmt.Sprintf("tax %q references missing tax %d", t.Name, ref))
		return 0, false
	case (t.TaxableExceptionID != nil) != target.IsException:
		res.Issues = append(res.Issues, fmt.Sprintf("tax %q references tax %d of the wrong kind", t.Name, ref))
		return 0, false
	case !target.Status.IsActive() || !target.PriceActive || !target.ValidOn(in.At):
		res.Issues = append(res.Issues, fmt.Sprintf("tax %q references deleted or expired tax %q; not applicable", t.Name, target.Name))
		return 0, false
	}
	if _, ok := selected[ref]; !ok {
		res.Issues = append(res.Issues, fmt.Sprintf("tax %q references tax %q which does not apply to this row", t.Name, target.Name))
		return 0, false
	}
	return ref, true
}

// checkReferences orders the taxable references reachable from the
// selected taxes through every known row, whether or not those rows apply
// to the row being priced. A cycle anywhere along them is fatal.
func checkReferences(selected []*types.TaxRule, known *types.Arena[*types.TaxRule]) error {
	rows := make(map[int64]*types.TaxRule, len(selected))
	var queue []*types.TaxRule
	visit := func(t *types.TaxRule) {
		if _, seen := rows[t.ID]; !seen {
			rows[t.ID] = t
			queue = append(queue, t)
		}
	}
	for _, t := range selected {
		visit(t)
	}

	var nodes []int64
	bases := make(map[int64]int64)
	for len(queue) > 0 {
		t := queue[0]
		queue = queue[1:]
		nodes = append(nodes, t.ID)
		if t.HasConflictingRefs() {
			continue
		}
		ref, ok := t.TaxableRef()
		if !ok {
			continue
		}
		bases[t.ID] = ref
		if known != nil {
			if next, ok := known.Get(ref); ok {
				visit(next)
			}
		}
	}

	if _, err := Order(nodes, bases); err != nil {
		return perrors.Wrap(perrors.TypeTaxCycle, "taxable tax references form a cycle", err)
	}
	return nil
}

func components(t *types.TaxRule, baseLine *types.TaxLine, in Input, places int32) ([]types.TaxComponent, error) {
	if t.Method == types.TaxFixed {
		return fixedComponents(t, in, places)
	}

	var out []types.TaxComponent
	pct := t.Percentage
	percent := func(inc bool, base decimal.Decimal, src types.BaseSources) types.TaxComponent {
		return types.TaxComponent{
			IncludedInPricing: inc,
			RateKind:          types.RatePercentage,
			Rate:              pct,
			Base:              base,
			Amount:            units.RoundHalfUp(base.Mul(pct).Div(hundred), places),
			Sources:           src,
		}
	}

	if t.AppliesToFuel && in.Fuel != nil {
		out = append(out, percent(includes(in.Fuel.InclusiveTaxes, t.Category), in.Fuel.Total,
			types.BaseSources{Fuel: []string{fuelLabel(in.Fuel)}}))
	}

	if t.AppliesToFees {
		// inclusive and exclusive fee bases stay separate
		for _, inc := range []bool{false, true} {
			base := decimal.Zero
			var names []string
			for _, fee := range in.Fees {
				if t.SpecificFeeCategory != "" && fee.Category != t.SpecificFeeCategory {
					continue
				}
				if includes(fee.InclusiveTaxes, t.Category) != inc {
					continue
				}
				base = base.Add(fee.Amount)
				names = append(names, fee.Name)
			}
			if len(names) > 0 {
				out = append(out, percent(inc, base, types.BaseSources{Fees: names}))
			}
		}
	}

	if baseLine != nil {
		out = append(out, percent(entirelyIncluded(baseLine), baseLine.Total,
			types.BaseSources{Taxes: []string{baseLine.Name}}))
	}
	return out, nil
}

func fixedComponents(t *types.TaxRule, in Input, places int32) ([]types.TaxComponent, error) {
	if in.Fuel == nil || in.Convert == nil {
		return nil, nil
	}
	rate, _, err := in.Convert(t.Pricing.Amount, t.Pricing.Unit)
	if err != nil {
		return nil, err
	}
	base := decimal.NewFromInt(1)
	if t.Pricing.Unit.UOM.IsFluid() {
		base = in.Quantity
	}
	return []types.TaxComponent{{
		IncludedInPricing: includes(in.Fuel.InclusiveTaxes, t.Category),
		RateKind:          types.RateUnitPrice,
		Rate:              rate,
		OriginalUnit:      t.Pricing.Unit.String(),
		Base:              base,
		Amount:            units.RoundHalfUp(rate.Mul(base), places),
		Sources:           types.BaseSources{Fuel: []string{fuelLabel(in.Fuel)}},
	}}, nil
}

func newLine(t *types.TaxRule, comps []types.TaxComponent) types.TaxLine {
	line := types.TaxLine{
		RuleID:     t.ID,
		Name:       t.Name,
		Category:   t.Category,
		Level:      t.Level().String(),
		Exception:  t.IsException,
		Method:     t.Method,
		Components: comps,
		Total:      decimal.Zero,
		Exclusive:  decimal.Zero,
	}
	if line.Method == "" {
		line.Method = types.TaxPercentage
	}
	for _, c := range comps {
		line.Total = line.Total.Add(c.Amount)
		if !c.IncludedInPricing {
			line.Exclusive = line.Exclusive.Add(c.Amount)
		}
	}
	return line
}

// entirelyIncluded reports a computed tax whose every component is already
// folded into quoted prices
func entirelyIncluded(line *types.TaxLine) bool {
	if len(line.Components) == 0 {
		return false
	}
	for _, c := range line.Components {
		if !c.IncludedInPricing {
			return false
		}
	}
	return true
}

func includes(categories []string, category string) bool {
	for _, c := range categories {
		if c == category {
			return true
		}
	}
	return false
}

func fuelLabel(f *types.FuelPriceLine) string {
	return fmt.Sprintf("fuel price %d", f.RuleID)
}

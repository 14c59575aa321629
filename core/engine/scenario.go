package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"fuel-pricing/core/bands"
	"fuel-pricing/core/determinism"
	"fuel-pricing/core/fx"
	"fuel-pricing/core/matcher"
	"fuel-pricing/core/tax"
	"fuel-pricing/core/types"
	"fuel-pricing/core/units"
	perrors "fuel-pricing/internal/errors"
)

// Issue texts callers may match on
const (
	IssueNoPricing      = "no active pricing for this location/fuel combination"
	IssueExpiredOnly    = "only expired client-specific pricing is available"
	IssueExpiredApplied = "no valid pricing; expired client-specific pricing applied"
)

// rowPlan is a row whose rules are chosen but not yet priced
type rowPlan struct {
	key     types.RowKey
	price   *types.FuelPrice // matched parent; nil when nothing matched
	band    bands.Resolution[*types.FuelPrice]
	priced  bool // band resolution succeeded
	expired bool
	fees    []feePlan
	taxes   []*types.TaxRule
	issues  []string
	flags   []string
}

type feePlan struct {
	fee  *types.SupplierFee
	rate *types.FeeRate
	band bands.Resolution[*types.FeeRate]
}

func (p *rowPlan) issue(format string, args ...interface{}) {
	p.issues = append(p.issues, fmt.Sprintf(format, args...))
}

func (p *rowPlan) flag(f string) {
	for _, have := range p.flags {
		if have == f {
			return
		}
	}
	p.flags = append(p.flags, f)
}

// scenario is the state of one calculation
type scenario struct {
	e      *Engine
	in     *types.ScenarioInput
	rules  *ruleSet
	book   *fx.Book
	mctx   matcher.Context
	out    units.PricingUnit
	fuel   *units.Fuel
	qty    decimal.Decimal // uplift in the output unit of measure
	rowIDs *determinism.IDGenerator

	prices *matcher.Matcher[*types.FuelPrice]
	rates  *matcher.Matcher[*types.FeeRate]
	taxes  *matcher.Matcher[*types.TaxRule]
}

func newScenario(e *Engine, in *types.ScenarioInput, rules *ruleSet, book *fx.Book) *scenario {
	fuel := in.Fuel
	opt := matcher.WithLogger(e.logger)
	return &scenario{
		e:      e,
		in:     in,
		rules:  rules,
		book:   book,
		mctx:   matcher.ContextFromInput(in),
		out:    in.OutputUnit,
		fuel:   &fuel,
		rowIDs: determinism.NewIDGenerator("row"),
		prices: matcher.NewFuelPriceMatcher(opt),
		rates:  matcher.NewFeeRateMatcher(opt),
		taxes:  matcher.NewTaxMatcher(opt),
	}
}

func (s *scenario) run(ctx context.Context) (types.ScenarioResult, error) {
	qty, err := units.ConvertQuantity(s.in.Uplift.Amount, s.in.Uplift.Unit, s.out.UOM, s.fuel)
	if err != nil {
		return types.ScenarioResult{}, err
	}
	s.qty = units.RoundHalfUp(qty, units.QuantityPlaces)

	plans, err := s.plan()
	if err != nil {
		return types.ScenarioResult{}, err
	}
	if err := s.checkSupplierCurrencies(plans); err != nil {
		return types.ScenarioResult{}, err
	}
	// one provider round trip for every pair the rows convert with
	if err := s.book.Prefetch(ctx, s.pairs(plans)); err != nil {
		return types.ScenarioResult{}, err
	}

	res := types.ScenarioResult{
		AirportID:  s.in.AirportID,
		ValidAt:    s.in.UpliftAt,
		OutputUnit: s.out,
		Rows:       make([]types.RowResult, 0, len(plans)),
		Issues:     []string{},
	}
	priced := false
	for _, p := range plans {
		row, err := s.render(ctx, p)
		if err != nil {
			return types.ScenarioResult{}, err
		}
		priced = priced || row.FuelPrice != nil
		res.Rows = append(res.Rows, row)
	}
	if !priced {
		res.Issues = append(res.Issues, fmt.Sprintf("no fuel pricing found for %s at %s",
			s.in.Fuel.Code, s.in.AirportID))
	}
	res.UsedRates = s.book.Used()
	return res, nil
}

// plan fans the matched fuel prices out into rows, keeping the best-ranked
// parent per row key
func (s *scenario) plan() ([]*rowPlan, error) {
	parents := s.rules.fuel.Parents()
	cands := s.prices.Match(parents, &s.mctx)

	expired := false
	var pending []string
	if len(cands) == 0 {
		stale := s.prices.MatchExpiredClientSpecific(parents, &s.mctx)
		switch {
		case len(stale) > 0 && s.in.ExtendExpiredClientSpecific:
			cands, expired = stale, true
		case len(stale) > 0:
			pending = append(pending, IssueExpiredOnly)
		}
	}

	if len(cands) == 0 {
		p := &rowPlan{
			key: types.RowKey{
				SupplierID:   s.in.SupplierID,
				HookupMethod: s.in.HookupMethod,
				ApronType:    s.in.ApronType,
				HandlerID:    s.in.HandlerID,
				ClientID:     s.in.ClientID,
			},
			issues: append([]string{IssueNoPricing}, pending...),
		}
		if err := s.planFees(p); err != nil {
			return nil, err
		}
		s.planTaxes(p)
		return []*rowPlan{p}, nil
	}

	seen := make(map[types.RowKey]bool)
	var plans []*rowPlan
	for _, c := range cands {
		key := s.rowKey(c.Rule)
		if seen[key] {
			continue
		}
		seen[key] = true

		p := &rowPlan{key: key, price: c.Rule, expired: expired}
		if err := s.planFuel(p); err != nil {
			return nil, err
		}
		if err := s.planFees(p); err != nil {
			return nil, err
		}
		s.planTaxes(p)
		plans = append(plans, p)
	}
	return plans, nil
}

// rowKey takes each dimension from the rule, falling back to the context.
// The client is the rule's own so client-specific and generic prices stay
// separate rows.
func (s *scenario) rowKey(fp *types.FuelPrice) types.RowKey {
	pick := func(rule, ctx string) string {
		if rule != "" {
			return rule
		}
		return ctx
	}
	return types.RowKey{
		SupplierID:   pick(fp.Scope.SupplierID, s.in.SupplierID),
		HookupMethod: pick(fp.Scope.HookupMethod, s.in.HookupMethod),
		ApronType:    pick(fp.Scope.ApronType, s.in.ApronType),
		HandlerID:    pick(fp.Scope.HandlerID, s.in.HandlerID),
		ClientID:     fp.Scope.ClientID,
	}
}

func (s *scenario) axis() bands.Axis {
	return bands.Axis{Uplift: s.in.Uplift, Weight: s.in.AircraftWeight, Fuel: s.fuel}
}

func (s *scenario) planFuel(p *rowPlan) error {
	scope := p.price.Scope
	if scope.HandlerID != "" {
		p.flag(types.FlagHandlerSpecific)
	}
	if scope.ApronType != "" {
		p.flag(types.FlagApronSpecific)
	}
	if scope.ClientID != "" {
		p.flag(types.FlagClientSpecific)
	}
	if p.expired {
		p.flag(types.FlagExpiredPricing)
		p.issues = append(p.issues, IssueExpiredApplied)
	}

	res, err := bands.Resolve(p.price, activeChildren(s.rules.fuel.Children(p.price.ID)), s.axis())
	if err != nil {
		if perrors.IsType(err, perrors.TypeConversion) {
			return err
		}
		p.issue("fuel price %d: %v", p.price.ID, err)
		return nil
	}
	if res.Fallback {
		p.flag(types.FlagBandFallback)
		p.issue("uplift %s is out of band range for fuel price %d; nearest band %s-%s %s used",
			res.Quantity, p.price.ID, res.Row.Band.Start, res.Row.Band.End, res.Row.Band.UOM.Code)
	}
	p.band, p.priced = res, true
	return nil
}

func (s *scenario) planFees(p *rowPlan) error {
	rctx := s.mctx.ForRow(p.key)

	var live, dead []*types.FeeRate
	for _, r := range s.rules.rates.Parents() {
		fee, ok := s.rules.fees[r.FeeID]
		if !ok {
			continue
		}
		if fee.Status.IsActive() {
			live = append(live, r)
		} else {
			dead = append(dead, r)
		}
	}

	reported := make(map[int64]bool)
	for _, c := range s.rates.Match(dead, &rctx) {
		if reported[c.Rule.FeeID] {
			continue
		}
		reported[c.Rule.FeeID] = true
		fee := s.rules.fees[c.Rule.FeeID]
		p.issue("fee %q (%d) is no longer active; rate %d ignored", fee.Name, fee.ID, c.Rule.ID)
	}

	for _, rej := range s.rates.Explain(live, &rctx) {
		if rej.Predicate == "hookup_method" {
			p.flag(types.FlagDeliveryMethodExclusions)
			break
		}
	}

	chosen := make(map[int64]bool)
	for _, c := range s.rates.Match(live, &rctx) {
		if chosen[c.Rule.FeeID] {
			continue
		}
		chosen[c.Rule.FeeID] = true
		fee := s.rules.fees[c.Rule.FeeID]

		res, err := bands.Resolve(c.Rule, activeChildren(s.rules.rates.Children(c.Rule.ID)), s.axis())
		if err != nil {
			if perrors.IsType(err, perrors.TypeConversion) {
				return err
			}
			p.issue("fee %q: %v", fee.Name, err)
			continue
		}
		if res.Fallback {
			p.flag(types.FlagBandFallback)
			p.issue("fee %q: %s is out of band range; nearest band %s-%s %s used",
				fee.Name, res.Quantity, res.Row.Band.Start, res.Row.Band.End, res.Row.Band.UOM.Code)
		}
		p.fees = append(p.fees, feePlan{fee: fee, rate: c.Rule, band: res})
	}
	sort.SliceStable(p.fees, func(i, j int) bool { return p.fees[i].fee.ID < p.fees[j].fee.ID })
	return nil
}

func (s *scenario) planTaxes(p *rowPlan) {
	rctx := s.mctx.ForRow(p.key)
	for _, c := range s.taxes.Match(s.rules.taxes.Parents(), &rctx) {
		p.taxes = append(p.taxes, c.Rule)
	}
}

// checkSupplierCurrencies rejects supplier exchange rates across fuel
// prices quoted in different currencies
func (s *scenario) checkSupplierCurrencies(plans []*rowPlan) error {
	if !s.in.UseSupplierExchangeRates {
		return nil
	}
	seen := make(map[string]bool)
	var codes []string
	for _, p := range plans {
		if !p.priced {
			continue
		}
		code := p.band.Row.Pricing.Unit.Currency.Code
		if !seen[code] {
			seen[code] = true
			codes = append(codes, code)
		}
	}
	if len(codes) > 1 {
		sort.Strings(codes)
		return perrors.Conversion(units.ErrMultiCurrencyConflict,
			"fuel pricing at %s is quoted in %s", s.in.AirportID, strings.Join(codes, ", "))
	}
	return nil
}

// pairs lists the currency pairs the planned rows will convert with
func (s *scenario) pairs(plans []*rowPlan) []types.CurrencyPair {
	var out []types.CurrencyPair
	add := func(pr types.Pricing) {
		if _, ok := s.supplierRate(pr); ok {
			return
		}
		out = append(out, types.CurrencyPair{From: pr.Unit.Currency.Code, To: s.out.Currency.Code})
	}
	for _, p := range plans {
		if p.priced {
			add(p.band.Row.Pricing)
		}
		for _, f := range p.fees {
			add(f.band.Row.Pricing)
		}
		if p.priced {
			for _, t := range tax.Select(p.taxes) {
				if t.Method == types.TaxFixed {
					add(t.Pricing)
				}
			}
		}
	}
	return out
}

// supplierRate returns the rate stored on a price row when supplier rates
// are requested and the row was converted into the output currency
func (s *scenario) supplierRate(pr types.Pricing) (decimal.Decimal, bool) {
	if !s.in.UseSupplierExchangeRates || pr.Converted == nil {
		return decimal.Zero, false
	}
	if pr.Unit.Currency.Code == s.out.Currency.Code ||
		pr.Converted.Unit.Currency.Code != s.out.Currency.Code ||
		!pr.Converted.ExchangeRate.IsPositive() {
		return decimal.Zero, false
	}
	return pr.Converted.ExchangeRate, true
}

// convert restates a native price in the output unit. Fixed prices keep
// their unit of measure and change currency only.
func (s *scenario) convert(ctx context.Context, pr types.Pricing) (decimal.Decimal, units.PricingUnit, decimal.Decimal, error) {
	target := s.out
	if !pr.Unit.UOM.IsFluid() {
		target = pr.Unit.WithCurrency(s.out.Currency)
	}

	from, to := pr.Unit.Currency.Code, s.out.Currency.Code
	rate, ok := s.supplierRate(pr)
	if ok {
		s.book.NoteSupplierRate(types.CurrencyPair{From: from, To: to}, rate, s.in.UpliftAt)
	} else {
		var err error
		if rate, err = s.book.Rate(ctx, from, to); err != nil {
			return decimal.Zero, units.PricingUnit{}, decimal.Zero, err
		}
	}

	amount, err := s.e.converter.ConvertAmount(pr.Amount, pr.Unit, target, s.fuel, rate)
	if err != nil {
		return decimal.Zero, units.PricingUnit{}, decimal.Zero, err
	}
	return amount, target, rate, nil
}

func (s *scenario) render(ctx context.Context, p *rowPlan) (types.RowResult, error) {
	row := types.RowResult{
		Key:    string(s.rowIDs.Generate(s.in.AirportID, p.key.String())),
		Match:  p.key,
		Fees:   []types.FeeLine{},
		Taxes:  []types.TaxLine{},
		Issues: append([]string{}, p.issues...),
		Flags:  []string{},
	}
	for _, f := range p.flags {
		row.AddFlag(f)
	}

	if p.priced {
		line, err := s.fuelLine(ctx, p)
		if err != nil {
			return types.RowResult{}, err
		}
		row.FuelPrice = line
	}

	for _, f := range p.fees {
		line, err := s.feeLine(ctx, f, row.FuelPrice)
		if err != nil {
			return types.RowResult{}, err
		}
		row.Fees = append(row.Fees, line)
	}

	taxes, err := tax.Compute(tax.Input{
		At:         s.in.UpliftAt,
		Fuel:       row.FuelPrice,
		Fees:       row.Fees,
		Quantity:   s.qty,
		Candidates: p.taxes,
		Known:      s.rules.taxes,
		Convert:    s.taxConverter(ctx),
		Places:     s.e.converter.Places,
	})
	if err != nil {
		return types.RowResult{}, err
	}
	if taxes.Lines != nil {
		row.Taxes = taxes.Lines
	}
	for _, issue := range taxes.Issues {
		row.AddIssue(issue)
	}

	row.Totals = totals(&row)
	return row, nil
}

func (s *scenario) fuelLine(ctx context.Context, p *rowPlan) (*types.FuelPriceLine, error) {
	pr := p.band.Row.Pricing
	amount, unit, rate, err := s.convert(ctx, pr)
	if err != nil {
		return nil, err
	}
	qty := s.qty
	if !pr.Unit.UOM.IsFluid() {
		qty = decimal.NewFromInt(1)
	}
	return &types.FuelPriceLine{
		RuleID:         p.price.ID,
		SupplierID:     p.price.Scope.SupplierID,
		PLDID:          p.price.PLDID,
		Native:         types.PriceAmount{Amount: pr.Amount, Unit: pr.Unit},
		Converted:      types.PriceAmount{Amount: amount, Unit: unit},
		ExchangeRate:   rate,
		Quantity:       qty,
		Total:          s.e.converter.Round(amount.Mul(qty)),
		Band:           p.band.Ref(),
		Expired:        p.expired,
		InclusiveTaxes: p.price.InclusiveTaxes,
		CascadeToFees:  p.price.CascadeToFees,
	}, nil
}

func (s *scenario) feeLine(ctx context.Context, f feePlan, fuel *types.FuelPriceLine) (types.FeeLine, error) {
	pr := f.band.Row.Pricing
	amount, unit, _, err := s.convert(ctx, pr)
	if err != nil {
		return types.FeeLine{}, err
	}
	fixed := f.band.Row.IsFixed()
	qty := s.qty
	if fixed {
		qty = decimal.NewFromInt(1)
	}

	// a fuel price folding taxes in can extend them to the fees
	inclusive := f.fee.InclusiveTaxes
	if fuel != nil && fuel.CascadeToFees {
		inclusive = union(inclusive, fuel.InclusiveTaxes)
	}

	return types.FeeLine{
		FeeID:          f.fee.ID,
		RateID:         f.rate.ID,
		Name:           f.fee.Name,
		Category:       f.fee.Category,
		Native:         types.PriceAmount{Amount: pr.Amount, Unit: pr.Unit},
		Converted:      types.PriceAmount{Amount: amount, Unit: unit},
		Fixed:          fixed,
		Quantity:       qty,
		Amount:         s.e.converter.Round(amount.Mul(qty)),
		Band:           f.band.Ref(),
		InclusiveTaxes: inclusive,
	}, nil
}

func (s *scenario) taxConverter(ctx context.Context) tax.Converter {
	return func(amount decimal.Decimal, from units.PricingUnit) (decimal.Decimal, units.PricingUnit, error) {
		converted, unit, _, err := s.convert(ctx, types.Pricing{Amount: amount, Unit: from})
		return converted, unit, err
	}
}

func totals(row *types.RowResult) types.RowTotals {
	t := types.RowTotals{Fuel: decimal.Zero, Fees: decimal.Zero, Taxes: decimal.Zero}
	if row.FuelPrice != nil {
		t.Fuel = row.FuelPrice.Total
	}
	for _, f := range row.Fees {
		t.Fees = t.Fees.Add(f.Amount)
	}
	for _, l := range row.Taxes {
		t.Taxes = t.Taxes.Add(l.Exclusive)
	}
	t.Total = t.Fuel.Add(t.Fees).Add(t.Taxes)
	return t
}

func activeChildren[T types.Ruled](rows []T) []T {
	out := rows[:0:0]
	for _, r := range rows {
		if r.Base().Status.IsActive() {
			out = append(out, r)
		}
	}
	return out
}

func union(a, b []string) []string {
	out := append([]string{}, a...)
	for _, v := range b {
		found := false
		for _, have := range out {
			if have == v {
				found = true
				break
			}
		}
		if !found {
			out = append(out, v)
		}
	}
	return out
}

package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fuel-pricing/adapters/datasource"
	"fuel-pricing/adapters/storage"
	"fuel-pricing/core/fx"
	"fuel-pricing/core/record"
	"fuel-pricing/core/tax"
	"fuel-pricing/core/types"
	"fuel-pricing/core/units"
	perrors "fuel-pricing/internal/errors"
)

var (
	upliftAt  = time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	validFrom = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDec(t *testing.T, want string, got decimal.Decimal, msg string) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "%s: want %s, got %s", msg, want, got)
}

func rule(id int64, location, amount, unit string) types.Rule {
	return types.Rule{
		ID:          id,
		LocationID:  location,
		ValidFrom:   validFrom,
		ValidUFN:    true,
		PriceActive: true,
		Status:      types.Active(),
		Scope:       types.Scope{AppliesToCommercial: true, AppliesToPrivate: true},
		Pricing:     types.Pricing{Amount: dec(amount), Unit: units.MustPricingUnit(unit)},
	}
}

func fuelPrice(id int64, amount, unit string, edit func(*types.FuelPrice)) *types.FuelPrice {
	fp := &types.FuelPrice{Rule: rule(id, "EGLL", amount, unit)}
	fp.Scope.SupplierID = "S1"
	if edit != nil {
		edit(fp)
	}
	return fp
}

func band(parent, id int64, amount, start, end string) *types.FuelPrice {
	return fuelPrice(id, amount, "EUR/USG", func(fp *types.FuelPrice) {
		fp.ParentID = &parent
		fp.Band = &types.Band{Kind: types.BandQuantity, Start: dec(start), End: dec(end), UOM: units.USGallon}
	})
}

func fee(id int64, name, category string, rates ...*types.FeeRate) *types.SupplierFee {
	return &types.SupplierFee{
		ID: id, Name: name, Category: category, LocationID: "EGLL", SupplierID: "S1",
		Status: types.Active(), Rates: rates,
	}
}

func feeRate(id int64, amount, unit string, edit func(*types.FeeRate)) *types.FeeRate {
	r := &types.FeeRate{Rule: rule(id, "", amount, unit)}
	if edit != nil {
		edit(r)
	}
	return r
}

func vat(id int64, pct string) *types.TaxRule {
	return &types.TaxRule{
		Rule:          rule(id, "", "0", "USD/USG"),
		Name:          "VAT",
		Category:      "vat",
		CountryCode:   "GB",
		AppliesToFuel: true,
		AppliesToFees: true,
		Method:        types.TaxPercentage,
		Percentage:    dec(pct),
	}
}

func scenarioInput() types.ScenarioInput {
	return types.ScenarioInput{
		AirportID:   "EGLL",
		CountryCode: "GB",
		Fuel:        units.Fuel{Code: "JETA1", Category: "JET", SpecificGravity: dec("0.8")},
		FlightType:  "I",
		Destination: "INT",
		OperatedAs:  types.OperatedCommercial,
		UpliftAt:    upliftAt,
		Uplift:      units.Quantity{Amount: dec("1000"), Unit: units.USGallon},
		OutputUnit:  units.MustPricingUnit("USD/USG"),
	}
}

// countingProvider counts provider round trips
type countingProvider struct {
	*fx.StaticProvider
	batches int
	single  int
}

func (c *countingProvider) Rate(ctx context.Context, pair types.CurrencyPair, at time.Time) (types.RateQuote, error) {
	c.single++
	return c.StaticProvider.Rate(ctx, pair, at)
}

func (c *countingProvider) Rates(ctx context.Context, pairs []types.CurrencyPair, at time.Time) (map[types.CurrencyPair]types.RateQuote, error) {
	c.batches++
	return c.StaticProvider.Rates(ctx, pairs, at)
}

func provider(t *testing.T, rates map[string]string) *countingProvider {
	t.Helper()
	table := make(map[string]decimal.Decimal, len(rates))
	for k, v := range rates {
		table[k] = dec(v)
	}
	p, err := fx.NewStaticProvider(table, upliftAt)
	require.NoError(t, err)
	return &countingProvider{StaticProvider: p}
}

// stepClock returns distinct creation times so records get distinct ids
func stepClock() func() time.Time {
	now := upliftAt
	return func() time.Time {
		now = now.Add(time.Minute)
		return now
	}
}

func newEngine(t *testing.T, fixture datasource.Fixture, p fx.Provider, store record.Store, opts ...Option) *Engine {
	t.Helper()
	src, err := datasource.New(fixture)
	require.NoError(t, err)
	base := []Option{WithLogger(zap.NewNop()), WithClock(stepClock())}
	if p != nil {
		base = append(base, WithProvider(p))
	}
	if store != nil {
		base = append(base, WithStore(store))
	}
	return New(src, append(base, opts...)...)
}

// TestNoPricingScenario proves a location without pricing still yields a row
func TestNoPricingScenario(t *testing.T) {
	e := newEngine(t, datasource.Fixture{}, nil, nil)

	res, err := e.GetResults(context.Background(), scenarioInput())
	require.NoError(t, err)

	require.Len(t, res.Rows, 1)
	assert.Nil(t, res.Rows[0].FuelPrice)
	assert.Contains(t, res.Rows[0].Issues, IssueNoPricing)
	assert.NotEmpty(t, res.Issues)
	assert.Empty(t, res.UsedRates)
}

// TestPricedRow checks fuel, fee and tax figures of a single row
func TestPricedRow(t *testing.T) {
	fixture := datasource.Fixture{
		FuelPrices:   []*types.FuelPrice{fuelPrice(1, "2.45", "EUR/USG", nil)},
		SupplierFees: []*types.SupplierFee{fee(10, "Into-Plane Fee", "into_plane", feeRate(11, "50", "EUR/UPLIFT", nil))},
		TaxRules:     []*types.TaxRule{vat(20, "20")},
	}
	e := newEngine(t, fixture, provider(t, map[string]string{"EUR-USD": "1.1"}), nil)

	res, err := e.GetResults(context.Background(), scenarioInput())
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	row := res.Rows[0]

	require.NotNil(t, row.FuelPrice)
	assertDec(t, "2.695", row.FuelPrice.Converted.Amount, "converted fuel price")
	assert.Equal(t, "USD/USG", row.FuelPrice.Converted.Unit.String())
	assertDec(t, "2695", row.FuelPrice.Total, "fuel total")

	require.Len(t, row.Fees, 1)
	assert.True(t, row.Fees[0].Fixed)
	assertDec(t, "55", row.Fees[0].Amount, "fee amount")
	assert.Equal(t, "USD/UPLIFT", row.Fees[0].Converted.Unit.String())

	require.Len(t, row.Taxes, 1)
	require.Len(t, row.Taxes[0].Components, 1, "fuel and fee bases share inclusion and rate")
	comp := row.Taxes[0].Components[0]
	assert.Equal(t, []string{"fuel price 1"}, comp.Sources.Fuel)
	assert.Equal(t, []string{"Into-Plane Fee"}, comp.Sources.Fees)
	assertDec(t, "550", row.Taxes[0].Total, "vat")

	assertDec(t, "3300", row.Totals.Total, "row total")
	require.Len(t, res.UsedRates, 1)
	assert.Equal(t, types.SourceProvider, res.UsedRates[0].Source)
	assert.Equal(t, "EUR-USD", res.UsedRates[0].Pair.String())
}

// TestRowFanOut proves handler-specific and generic prices render as separate rows
func TestRowFanOut(t *testing.T) {
	p := provider(t, map[string]string{"EUR-USD": "1.1"})
	fixture := datasource.Fixture{
		FuelPrices: []*types.FuelPrice{
			fuelPrice(1, "2.45", "EUR/USG", nil),
			fuelPrice(2, "2.30", "EUR/USG", func(fp *types.FuelPrice) { fp.Scope.HandlerID = "H1" }),
		},
		SupplierFees: []*types.SupplierFee{
			fee(10, "Into-Plane Fee", "into_plane", feeRate(11, "50", "EUR/UPLIFT", nil)),
			fee(12, "Handling", "handling", feeRate(13, "20", "EUR/UPLIFT", func(r *types.FeeRate) { r.Scope.HandlerID = "H1" })),
			fee(14, "Hydrant Fee", "hydrant", feeRate(15, "0.01", "EUR/USG", func(r *types.FeeRate) { r.Scope.HookupMethod = "HYD" })),
		},
	}
	e := newEngine(t, fixture, p, nil)

	res, err := e.GetResults(context.Background(), scenarioInput())
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)

	first, second := res.Rows[0], res.Rows[1]
	assert.Equal(t, int64(2), first.FuelPrice.RuleID, "handler-specific price ranks first")
	assert.Equal(t, "H1", first.Match.HandlerID)
	assert.Contains(t, first.Flags, types.FlagHandlerSpecific)
	assert.Equal(t, int64(1), second.FuelPrice.RuleID)
	assert.NotContains(t, second.Flags, types.FlagHandlerSpecific)
	assert.NotEqual(t, first.Key, second.Key)

	feeIDs := func(row types.RowResult) []int64 {
		var out []int64
		for _, f := range row.Fees {
			out = append(out, f.FeeID)
		}
		return out
	}
	assert.Equal(t, []int64{10, 12}, feeIDs(first))
	assert.Equal(t, []int64{10}, feeIDs(second))
	assert.Contains(t, first.Flags, types.FlagDeliveryMethodExclusions)
	assert.Contains(t, second.Flags, types.FlagDeliveryMethodExclusions)

	assert.Equal(t, 1, p.batches, "one batched lookup for the whole scenario")
	assert.Equal(t, 0, p.single)
}

// TestRerunFidelity proves reruns reuse recorded rates and overrides touch only their pair
func TestRerunFidelity(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	fixture := func() datasource.Fixture {
		return datasource.Fixture{
			FuelPrices:   []*types.FuelPrice{fuelPrice(1, "2.45", "EUR/USG", nil)},
			SupplierFees: []*types.SupplierFee{fee(10, "Into-Plane Fee", "into_plane", feeRate(11, "40", "GBP/UPLIFT", nil))},
		}
	}

	original, err := newEngine(t, fixture(), provider(t, map[string]string{"EUR-USD": "1.1", "GBP-USD": "1.25"}), store).
		Calculate(ctx, scenarioInput())
	require.NoError(t, err)
	orow := original.Results().Rows[0]
	assertDec(t, "2695", orow.FuelPrice.Total, "original fuel")
	assertDec(t, "50", orow.Fees[0].Amount, "original fee")

	// the provider now quotes differently; reruns must not consult it
	rerunner := newEngine(t, fixture(), provider(t, map[string]string{"EUR-USD": "1.5", "GBP-USD": "1.5"}), store)

	same, err := rerunner.Rerun(ctx, original.ID, nil)
	require.NoError(t, err)
	srow := same.Results().Rows[0]
	assert.True(t, orow.FuelPrice.Total.Equal(srow.FuelPrice.Total))
	assert.True(t, orow.Fees[0].Amount.Equal(srow.Fees[0].Amount))
	assert.Equal(t, original.ID, same.Scenario().SourceID)
	for _, q := range same.Scenario().UsedRates {
		assert.Equal(t, types.SourceRecorded, q.Source, q.Pair.String())
	}

	changed, err := rerunner.Rerun(ctx, original.ID, map[string]decimal.Decimal{"EUR-USD": dec("1.2")})
	require.NoError(t, err)
	crow := changed.Results().Rows[0]
	assertDec(t, "2940", crow.FuelPrice.Total, "overridden pair")
	assert.True(t, orow.Fees[0].Amount.Equal(crow.Fees[0].Amount), "unrelated pair unchanged")

	sources := map[string]types.RateSource{}
	for _, q := range changed.Scenario().UsedRates {
		sources[q.Pair.String()] = q.Source
	}
	assert.Equal(t, types.SourceOverride, sources["EUR-USD"])
	assert.Equal(t, types.SourceRecorded, sources["GBP-USD"])
	assert.Equal(t, 3, store.Len())
}

// TestTaxCycleLeavesNoRecord proves a taxable tax cycle aborts without persisting
func TestTaxCycleLeavesNoRecord(t *testing.T) {
	a, b := int64(31), int64(30)
	taxA := vat(30, "5")
	taxA.Name, taxA.Category, taxA.AppliesToFuel, taxA.AppliesToFees, taxA.TaxableTaxID = "A", "a", false, false, &a
	taxB := vat(31, "5")
	taxB.Name, taxB.Category, taxB.AppliesToFuel, taxB.AppliesToFees, taxB.TaxableTaxID = "B", "b", false, false, &b

	store := storage.NewMemoryStore()
	fixture := datasource.Fixture{
		FuelPrices: []*types.FuelPrice{fuelPrice(1, "2.45", "USD/USG", nil)},
		TaxRules:   []*types.TaxRule{taxA, taxB},
	}
	e := newEngine(t, fixture, nil, store)

	_, err := e.Calculate(context.Background(), scenarioInput())
	require.Error(t, err)
	assert.True(t, perrors.IsType(err, perrors.TypeTaxCycle), "got %v", err)
	var cycle *tax.CycleError
	assert.True(t, errors.As(err, &cycle))
	assert.Equal(t, 0, store.Len())
}

// TestExpiredClientSpecificFallback proves the expired path is opt-in
func TestExpiredClientSpecificFallback(t *testing.T) {
	expiredTo := time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)
	fixture := datasource.Fixture{
		FuelPrices: []*types.FuelPrice{fuelPrice(5, "2.10", "USD/USG", func(fp *types.FuelPrice) {
			fp.Scope.ClientID = "C1"
			fp.ValidUFN, fp.ValidTo = false, &expiredTo
		})},
	}
	e := newEngine(t, fixture, nil, nil)
	in := scenarioInput()
	in.ClientID = "C1"

	res, err := e.GetResults(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Nil(t, res.Rows[0].FuelPrice)
	assert.Contains(t, res.Rows[0].Issues, IssueExpiredOnly)

	in.ExtendExpiredClientSpecific = true
	res, err = e.GetResults(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	row := res.Rows[0]
	require.NotNil(t, row.FuelPrice)
	assert.True(t, row.FuelPrice.Expired)
	assert.Contains(t, row.Flags, types.FlagExpiredPricing)
	assert.Contains(t, row.Flags, types.FlagClientSpecific)
	assert.Equal(t, "C1", row.Match.ClientID)
}

// TestInclusiveTaxCascadesToFees proves fuel-inclusive taxes cover fees when cascading
func TestInclusiveTaxCascadesToFees(t *testing.T) {
	fixture := datasource.Fixture{
		FuelPrices: []*types.FuelPrice{fuelPrice(1, "2.00", "USD/USG", func(fp *types.FuelPrice) {
			fp.InclusiveTaxes = []string{"vat"}
			fp.CascadeToFees = true
		})},
		SupplierFees: []*types.SupplierFee{fee(10, "Into-Plane Fee", "into_plane", feeRate(11, "50", "USD/UPLIFT", nil))},
		TaxRules:     []*types.TaxRule{vat(20, "20")},
	}
	e := newEngine(t, fixture, nil, nil)

	res, err := e.GetResults(context.Background(), scenarioInput())
	require.NoError(t, err)
	row := res.Rows[0]

	assert.Equal(t, []string{"vat"}, row.Fees[0].InclusiveTaxes)
	require.Len(t, row.Taxes, 1)
	require.Len(t, row.Taxes[0].Components, 1)
	assert.True(t, row.Taxes[0].Components[0].IncludedInPricing)
	assertDec(t, "410", row.Taxes[0].Total, "vat tracked")
	assertDec(t, "0", row.Totals.Taxes, "inclusive vat not added again")
	assertDec(t, "2050", row.Totals.Total, "row total")
}

// TestBandedPricing resolves the uplift band and falls back to the nearest band
func TestBandedPricing(t *testing.T) {
	fixture := datasource.Fixture{
		FuelPrices: []*types.FuelPrice{
			fuelPrice(1, "0", "EUR/USG", nil),
			band(1, 2, "2.50", "0", "1000"),
			band(1, 3, "2.40", "1001", "5000"),
		},
	}
	e := newEngine(t, fixture, provider(t, map[string]string{"EUR-USD": "1"}), nil)

	in := scenarioInput()
	in.Uplift.Amount = dec("1000.5")
	res, err := e.GetResults(context.Background(), in)
	require.NoError(t, err)
	line := res.Rows[0].FuelPrice
	require.NotNil(t, line.Band)
	assert.Equal(t, int64(2), line.Band.RuleID, "gap closed into the lower band")
	assertDec(t, "1000.9999", line.Band.EffectiveEnd, "effective end")
	assertDec(t, "2.5", line.Native.Amount, "band price")

	in.Uplift.Amount = dec("6000")
	res, err = e.GetResults(context.Background(), in)
	require.NoError(t, err)
	row := res.Rows[0]
	assert.Equal(t, int64(3), row.FuelPrice.Band.RuleID)
	assert.True(t, row.FuelPrice.Band.Fallback)
	assert.Contains(t, row.Flags, types.FlagBandFallback)
	assert.NotEmpty(t, row.Issues)
}

func TestInvalidInputIsFatal(t *testing.T) {
	e := newEngine(t, datasource.Fixture{}, nil, nil)

	missing := scenarioInput()
	missing.AirportID = ""
	_, err := e.GetResults(context.Background(), missing)
	assert.True(t, perrors.IsType(err, perrors.TypeInput), "missing airport: %v", err)

	empty := scenarioInput()
	empty.Uplift.Amount = decimal.Zero
	_, err = e.GetResults(context.Background(), empty)
	assert.True(t, perrors.IsType(err, perrors.TypeInput), "zero uplift: %v", err)

	rerun := scenarioInput()
	rerun.IsRerun = true
	_, err = e.GetResults(context.Background(), rerun)
	assert.True(t, perrors.IsType(err, perrors.TypeInput), "rerun without source: %v", err)

	badPair := scenarioInput()
	badPair.CurrencyOverrides = map[string]decimal.Decimal{"EURUSD": dec("1.1")}
	_, err = e.GetResults(context.Background(), badPair)
	assert.True(t, perrors.IsType(err, perrors.TypeInput), "malformed override: %v", err)
}

func TestMassVolumeWithoutDensityIsFatal(t *testing.T) {
	fixture := datasource.Fixture{FuelPrices: []*types.FuelPrice{fuelPrice(1, "2.45", "USD/KG", nil)}}
	e := newEngine(t, fixture, nil, nil)

	in := scenarioInput()
	in.Fuel.SpecificGravity = decimal.Zero
	_, err := e.GetResults(context.Background(), in)
	require.Error(t, err)
	assert.True(t, errors.Is(err, units.ErrFuelRequiredForMassVolume), "got %v", err)
}

func TestSupplierRatesAcrossCurrenciesConflict(t *testing.T) {
	withSupplierRate := func(fp *types.FuelPrice) {
		fp.Pricing.Converted = &types.ConvertedPricing{
			Amount: dec("2.6"), Unit: units.MustPricingUnit("USD/USG"), ExchangeRate: dec("1.05"),
		}
	}
	fixture := datasource.Fixture{
		FuelPrices: []*types.FuelPrice{
			fuelPrice(1, "2.45", "EUR/USG", withSupplierRate),
			fuelPrice(2, "2.10", "GBP/USG", func(fp *types.FuelPrice) {
				withSupplierRate(fp)
				fp.Scope.HandlerID = "H1"
			}),
		},
	}
	e := newEngine(t, fixture, nil, nil)
	in := scenarioInput()
	in.UseSupplierExchangeRates = true

	_, err := e.GetResults(context.Background(), in)
	require.Error(t, err)
	assert.True(t, errors.Is(err, units.ErrMultiCurrencyConflict), "got %v", err)
	assert.True(t, perrors.IsType(err, perrors.TypeConversion))
}

func TestSupplierRateIsRecorded(t *testing.T) {
	fixture := datasource.Fixture{
		FuelPrices: []*types.FuelPrice{fuelPrice(1, "2.00", "EUR/USG", func(fp *types.FuelPrice) {
			fp.Pricing.Converted = &types.ConvertedPricing{
				Amount: dec("2.10"), Unit: units.MustPricingUnit("USD/USG"), ExchangeRate: dec("1.05"),
			}
		})},
	}
	e := newEngine(t, fixture, nil, nil)
	in := scenarioInput()
	in.UseSupplierExchangeRates = true

	res, err := e.GetResults(context.Background(), in)
	require.NoError(t, err)
	assertDec(t, "2.1", res.Rows[0].FuelPrice.Converted.Amount, "supplier converted")
	require.Len(t, res.UsedRates, 1)
	assert.Equal(t, types.SourceSupplier, res.UsedRates[0].Source)
}

func TestCandidateBound(t *testing.T) {
	fixture := datasource.Fixture{
		FuelPrices: []*types.FuelPrice{
			fuelPrice(1, "2.45", "USD/USG", nil),
			fuelPrice(2, "2.40", "USD/USG", nil),
		},
	}
	e := newEngine(t, fixture, nil, nil, WithMaxCandidates(1))

	_, err := e.GetResults(context.Background(), scenarioInput())
	assert.True(t, perrors.IsType(err, perrors.TypeInput), "got %v", err)
}

func TestCalculateWithoutStore(t *testing.T) {
	e := newEngine(t, datasource.Fixture{}, nil, nil)
	_, err := e.Calculate(context.Background(), scenarioInput())
	assert.True(t, perrors.IsType(err, perrors.TypeStorage), "got %v", err)
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fuel-pricing/core/record"
	"fuel-pricing/core/types"
	"fuel-pricing/core/units"
	"fuel-pricing/internal/config"
)

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.True(t, isUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("23505")))
}

func TestColumnsAndValidity(t *testing.T) {
	cols := columns("p")
	assert.Contains(t, cols, "p.id, p.parent_id, p.location_id")
	assert.Contains(t, cols, "p.band_uom")

	clause := validity("q")
	assert.Contains(t, clause, "q.lifecycle <> 'deleted'")
	assert.Contains(t, clause, "q.valid_ufn OR")

	at := time.Date(2026, 3, 15, 23, 30, 0, 0, time.FixedZone("X", -5*3600))
	assert.Equal(t, "2026-03-16", dateArg(at), "dates are taken in UTC")
}

func TestRuleRowConversion(t *testing.T) {
	s := func(v string) *string { return &v }
	d := func(v string) *decimal.Decimal { x := decimal.RequireFromString(v); return &x }
	parent := int64(1)

	rr := ruleRow{
		id:              2,
		parentID:        &parent,
		locationID:      s("EGLL"),
		validFrom:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		validUFN:        true,
		priceActive:     true,
		lifecycle:       "active",
		handlerID:       s("H1"),
		commercial:      true,
		amount:          decimal.RequireFromString("2.40"),
		unit:            "EUR/USG",
		convertedAmount: d("2.64"),
		convertedUnit:   s("USD/USG"),
		convertedRate:   d("1.1"),
		bandKind:        s("quantity"),
		bandStart:       d("0"),
		bandEnd:         d("1000"),
		bandUOM:         s("USG"),
	}
	rule, err := rr.rule()
	require.NoError(t, err)

	assert.Equal(t, "EGLL", rule.LocationID)
	assert.Equal(t, "H1", rule.Scope.HandlerID)
	assert.Empty(t, rule.Scope.ClientID)
	assert.True(t, rule.Status.IsActive())
	assert.Equal(t, "EUR/USG", rule.Pricing.Unit.String())
	require.NotNil(t, rule.Pricing.Converted)
	assert.Equal(t, "1.1", rule.Pricing.Converted.ExchangeRate.String())
	require.NotNil(t, rule.Band)
	assert.Equal(t, types.BandQuantity, rule.Band.Kind)
	assert.True(t, rule.Band.UOM.Equal(units.USGallon))
	assert.NoError(t, rule.CheckValidity())

	rr.unit = "EUR/BARREL"
	_, err = rr.rule()
	assert.Error(t, err)
}

func TestStatusFromColumns(t *testing.T) {
	by := int64(9)
	s := status("superseded", &by, nil)
	assert.Equal(t, types.LifecycleSuperseded, s.Lifecycle)
	assert.Equal(t, int64(9), s.SupersededBy)
	assert.False(t, s.IsActive())
}

// testDatabaseURL returns FUELPRICING_TEST_DATABASE_URL. The database is
// truncated, never point it at real data.
func testDatabaseURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("FUELPRICING_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("FUELPRICING_TEST_DATABASE_URL not set")
	}
	return url
}

func TestPostgresRoundTrip(t *testing.T) {
	url := testDatabaseURL(t)
	ctx := context.Background()

	pool, err := NewPool(ctx, config.DatabaseConfig{URL: url, MaxConns: 2})
	require.NoError(t, err)
	defer pool.Close()

	require.NoError(t, Migrate(ctx, pool))
	_, err = pool.Exec(ctx, `TRUNCATE calculation_records, supplier_fee_rates, supplier_fees, fuel_prices, tax_rules`)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `
		INSERT INTO fuel_prices (id, location_id, valid_from, valid_ufn, supplier_id, amount, pricing_unit)
		VALUES (1, 'EGLL', '2026-01-01', TRUE, 'S1', 2.45, 'EUR/USG')`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `
		INSERT INTO fuel_prices (id, parent_id, location_id, valid_from, valid_ufn, amount, pricing_unit,
			band_kind, band_start, band_end, band_uom)
		VALUES (2, 1, 'EGLL', '2026-01-01', TRUE, 2.40, 'EUR/USG', 'quantity', 0, 1000, 'USG')`)
	require.NoError(t, err)

	src := NewRuleSource(pool)
	prices, err := src.FuelPrices(ctx, types.CoarseFilter{LocationID: "EGLL", At: time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	require.Len(t, prices, 2)
	assert.Equal(t, int64(1), prices[0].ID)
	assert.True(t, prices[1].IsBandChild())
	assert.True(t, decimal.RequireFromString("2.45").Equal(prices[0].Pricing.Amount))

	rec, err := record.NewBuilder(types.ScenarioInput{
		AirportID: "EGLL", CountryCode: "GB", FlightType: "I", Destination: "INT",
		OperatedAs: types.OperatedCommercial, UpliftAt: time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		Uplift:     units.Quantity{Amount: decimal.NewFromInt(1000), Unit: units.USGallon},
		OutputUnit: units.MustPricingUnit("USD/USG"),
	}).WithResults(types.ScenarioResult{AirportID: "EGLL", Rows: []types.RowResult{}, Issues: []string{}}).
		WithCreatedAt(time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)).
		Build()
	require.NoError(t, err)

	tx := NewTxRunner(pool)
	put := func(ctx context.Context, store record.Store) error { return store.Put(ctx, rec) }
	require.NoError(t, tx.WithinTx(ctx, put))
	err = tx.WithinTx(ctx, put)
	assert.True(t, errors.Is(err, record.ErrImmutabilityViolation), "got %v", err)

	repo := NewRecordRepository(pool)
	got, err := repo.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ContentHash, got.ContentHash)

	metas, err := repo.List(ctx, record.ListFilter{AirportID: "EGLL"})
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, rec.ID, metas[0].ID)

	_, err = repo.Get(ctx, "missing")
	assert.True(t, errors.Is(err, record.ErrNotFound))
}

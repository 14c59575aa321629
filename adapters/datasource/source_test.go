package datasource

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fuel-pricing/core/types"
	perrors "fuel-pricing/internal/errors"
)

const fixture = `{
  "fuel_prices": [
    {"id": 1, "location_id": "EGLL", "valid_from": "2026-01-01T00:00:00Z", "valid_ufn": true,
     "price_active": true, "scope": {"supplier_id": "S1", "applies_to_commercial": true},
     "pricing": {"amount": "2.45", "unit": "EUR/USG"}},
    {"id": 2, "parent_id": 1, "location_id": "EGLL", "valid_from": "2026-01-01T00:00:00Z", "valid_ufn": true,
     "price_active": true, "pricing": {"amount": "2.40", "unit": "EUR/USG"},
     "band": {"kind": "quantity", "start": "0", "end": "1000", "uom": "USG"}},
    {"id": 3, "location_id": "EGLL", "valid_from": "2025-01-01T00:00:00Z", "valid_to": "2025-12-31T00:00:00Z",
     "price_active": true, "scope": {"client_id": "C1", "applies_to_commercial": true},
     "pricing": {"amount": "2.10", "unit": "EUR/USG"}},
    {"id": 4, "location_id": "EGKK", "valid_from": "2026-01-01T00:00:00Z", "valid_ufn": true,
     "price_active": true, "pricing": {"amount": "2.50", "unit": "EUR/USG"}},
    {"id": 5, "location_id": "EGLL", "valid_from": "2026-01-01T00:00:00Z", "valid_ufn": true,
     "price_active": false, "status": {"lifecycle": "deleted", "deleted_at": "2026-02-01T00:00:00Z"},
     "pricing": {"amount": "9.99", "unit": "EUR/USG"}}
  ],
  "supplier_fees": [
    {"id": 10, "name": "Into-Plane Fee", "category": "into_plane", "location_id": "EGLL", "supplier_id": "S1",
     "rates": [
       {"id": 11, "valid_from": "2026-01-01T00:00:00Z", "valid_ufn": true, "price_active": true,
        "pricing": {"amount": "50", "unit": "EUR/UPLIFT"}}
     ]}
  ],
  "tax_rules": [
    {"id": 20, "name": "VAT", "category": "vat", "country_code": "GB", "valid_from": "2026-01-01T00:00:00Z",
     "valid_ufn": true, "price_active": true, "applies_to_fuel": true, "method": "percentage", "percentage": "20"},
    {"id": 21, "name": "Airport levy", "category": "levy", "location_id": "EGKK", "valid_from": "2026-01-01T00:00:00Z",
     "valid_ufn": true, "price_active": true, "method": "percentage", "percentage": "1"}
  ]
}`

func load(t *testing.T) *Source {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.json")
	require.NoError(t, os.WriteFile(path, []byte(fixture), 0o600))
	src, err := Load(path)
	require.NoError(t, err)
	return src
}

func ids[T types.Ruled](rows []T) []int64 {
	out := make([]int64, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Base().ID)
	}
	return out
}

func TestFuelPricesCoarseFilter(t *testing.T) {
	src := load(t)
	at := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	rows, err := src.FuelPrices(context.Background(), types.CoarseFilter{LocationID: "EGLL", At: at})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids(rows), "band children follow their parent; deleted rows are excluded")

	rows, err = src.FuelPrices(context.Background(), types.CoarseFilter{LocationID: "EGLL", At: at, IncludeExpired: true})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids(rows))
}

func TestSupplierFeesCarryLocation(t *testing.T) {
	src := load(t)
	fees, err := src.SupplierFees(context.Background(), types.CoarseFilter{
		LocationID: "EGLL", At: time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, fees, 1)
	require.Len(t, fees[0].Rates, 1)
	assert.Equal(t, "EGLL", fees[0].Rates[0].LocationID)
	assert.Equal(t, int64(10), fees[0].Rates[0].FeeID)
	assert.True(t, fees[0].Rates[0].IsFixed())
}

func TestTaxRulesByGeography(t *testing.T) {
	src := load(t)
	taxes, err := src.TaxRules(context.Background(), types.TaxFilter{AirportID: "EGLL", CountryCode: "GB"})
	require.NoError(t, err)
	assert.Equal(t, []int64{20}, ids(taxes))
}

func TestNewRejectsInvalidRows(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	parent := int64(99)

	_, err := New(Fixture{FuelPrices: []*types.FuelPrice{{Rule: types.Rule{ID: 1, ValidFrom: start, ValidTo: &end, ValidUFN: true}}}})
	assert.True(t, perrors.IsType(err, perrors.TypeData), "both valid_to and valid_ufn: %v", err)

	_, err = New(Fixture{FuelPrices: []*types.FuelPrice{{Rule: types.Rule{ID: 2, ParentID: &parent, ValidFrom: start, ValidUFN: true}}}})
	assert.True(t, perrors.IsType(err, perrors.TypeData), "orphan band: %v", err)
}

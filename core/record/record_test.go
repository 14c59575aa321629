// Package record - record invariant tests
package record

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fuel-pricing/core/types"
	"fuel-pricing/core/units"
)

func sampleInput() types.ScenarioInput {
	return types.ScenarioInput{
		AirportID:   "EGLL",
		CountryCode: "GB",
		Fuel:        units.Fuel{Code: "JETA1", Category: "JET", SpecificGravity: decimal.RequireFromString("0.8")},
		FlightType:  "I",
		Destination: "INT",
		OperatedAs:  types.OperatedCommercial,
		UpliftAt:    time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC),
		Uplift:      units.Quantity{Amount: decimal.RequireFromString("1000"), Unit: units.USGallon},
		OutputUnit:  units.MustPricingUnit("USD/USG"),
		CurrencyOverrides: map[string]decimal.Decimal{
			"EUR-USD": decimal.RequireFromString("1.1"),
		},
	}
}

func sampleResults() types.ScenarioResult {
	return types.ScenarioResult{
		AirportID:  "EGLL",
		ValidAt:    time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC),
		OutputUnit: units.MustPricingUnit("USD/USG"),
		Rows: []types.RowResult{{
			Key: "row_1",
			FuelPrice: &types.FuelPriceLine{
				RuleID:    1,
				Native:    types.PriceAmount{Amount: decimal.RequireFromString("2.450000"), Unit: units.MustPricingUnit("EUR/USG")},
				Converted: types.PriceAmount{Amount: decimal.RequireFromString("2.695000"), Unit: units.MustPricingUnit("USD/USG")},
				Quantity:  decimal.RequireFromString("1000"),
				Total:     decimal.RequireFromString("2695.000000"),
			},
			Issues: []string{},
			Flags:  []string{types.FlagHandlerSpecific},
		}},
		UsedRates: []types.RateQuote{{
			Pair:   types.CurrencyPair{From: "EUR", To: "USD"},
			Rate:   decimal.RequireFromString("1.1"),
			Source: types.SourceOverride,
		}},
	}
}

func build(t *testing.T) *Record {
	t.Helper()
	rec, err := NewBuilder(sampleInput()).
		WithResults(sampleResults()).
		WithCreatedAt(time.Date(2026, 3, 15, 10, 5, 0, 0, time.UTC)).
		Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	return rec
}

// TestRecordRoundTrip proves a decoded record renders the same figures
func TestRecordRoundTrip(t *testing.T) {
	rec := build(t)
	if !rec.Sealed() || !rec.Verify() {
		t.Fatal("built record must be sealed and verifiable")
	}

	data, err := rec.Encode()
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if decoded.ID != rec.ID || decoded.ContentHash != rec.ContentHash {
		t.Fatalf("identity changed: %s/%s vs %s/%s", decoded.ID, decoded.ContentHash, rec.ID, rec.ContentHash)
	}
	got := decoded.Results().Rows[0].FuelPrice
	if got.Converted.Amount.String() != "2.695" || got.Total.String() != "2695" {
		t.Errorf("figures changed: %s %s", got.Converted.Amount, got.Total)
	}
	if got.Converted.Unit.String() != "USD/USG" {
		t.Errorf("unit changed: %s", got.Converted.Unit)
	}
	if len(decoded.Scenario().UsedRates) != 1 || decoded.Scenario().UsedRates[0].Rate.String() != "1.1" {
		t.Errorf("used rates not preserved: %+v", decoded.Scenario().UsedRates)
	}

	again, err := decoded.Encode()
	if err != nil {
		t.Fatalf("re-encode failed: %v", err)
	}
	if !bytes.Equal(data, again) {
		t.Error("re-encoding a decoded record must be byte-identical")
	}
}

// TestRecordIDIsContentDerived proves identical content yields the same id
func TestRecordIDIsContentDerived(t *testing.T) {
	a, b := build(t), build(t)
	if a.ID != b.ID {
		t.Fatalf("ids differ for identical content: %s vs %s", a.ID, b.ID)
	}

	other, err := NewBuilder(sampleInput()).
		WithResults(sampleResults()).
		WithCreatedAt(time.Date(2026, 3, 15, 10, 6, 0, 0, time.UTC)).
		Build()
	if err != nil {
		t.Fatal(err)
	}
	if other.ID == a.ID {
		t.Error("a later calculation must get its own id")
	}
}

// TestTamperedRecordIsRejected proves hash verification on decode
func TestTamperedRecordIsRejected(t *testing.T) {
	data, err := build(t).Encode()
	if err != nil {
		t.Fatal(err)
	}
	tampered := bytes.Replace(data, []byte(`"2695"`), []byte(`"2696"`), 1)
	if bytes.Equal(tampered, data) {
		t.Fatal("fixture did not contain the total")
	}
	if _, err := Decode(tampered); !errors.Is(err, ErrHashMismatch) {
		t.Fatalf("expected ErrHashMismatch, got %v", err)
	}
}

// TestAccessorsDoNotExposeSealedState proves mutating returned values leaves the record intact
func TestAccessorsDoNotExposeSealedState(t *testing.T) {
	rec := build(t)

	res := rec.Results()
	res.Rows[0].Issues = append(res.Rows[0].Issues, "injected")
	res.Rows[0].Flags[0] = "changed"
	res.Rows[0].FuelPrice.Total = decimal.RequireFromString("1")
	res.UsedRates[0].Rate = decimal.RequireFromString("9")

	sc := rec.Scenario()
	sc.Input.CurrencyOverrides["EUR-USD"] = decimal.RequireFromString("9")
	sc.UsedRates[0].Source = types.SourceProvider

	if !rec.Verify() {
		t.Fatal("record must still verify after callers mutate returned values")
	}
	fresh := rec.Results().Rows[0]
	if len(fresh.Issues) != 0 || fresh.Flags[0] != types.FlagHandlerSpecific || fresh.FuelPrice.Total.String() != "2695" {
		t.Errorf("results leaked caller mutations: %+v", fresh)
	}
	if got := rec.Scenario().Input.CurrencyOverrides["EUR-USD"]; got.String() != "1.1" {
		t.Errorf("override leaked caller mutation: %s", got)
	}
}

func TestUnsealedRecordCannotBeEncoded(t *testing.T) {
	if _, err := (&Record{ID: "x"}).Encode(); err == nil {
		t.Fatal("expected error encoding an unsealed record")
	}
}

func TestApplyFilter(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	metas := []Metadata{
		{ID: "a", AirportID: "EGLL", CreatedAt: base},
		{ID: "b", AirportID: "EGKK", CreatedAt: base.Add(time.Hour)},
		{ID: "c", AirportID: "EGLL", CreatedAt: base.Add(2 * time.Hour)},
	}
	got := ApplyFilter(metas, ListFilter{AirportID: "EGLL"})
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "a" {
		t.Fatalf("unexpected listing: %+v", got)
	}
	if got := ApplyFilter(metas, ListFilter{Limit: 1}); len(got) != 1 || got[0].ID != "c" {
		t.Fatalf("limit not applied: %+v", got)
	}
}

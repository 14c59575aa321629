package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fuel-pricing/core/types"
	"fuel-pricing/core/units"
	perrors "fuel-pricing/internal/errors"
)

var _ types.RuleDataSource = (*RuleSource)(nil)

// RuleSource serves pricing rules from the rule tables. It applies the
// coarse location/validity filter only; applicability is left to the matcher.
type RuleSource struct {
	db Querier
}

// NewRuleSource builds the rule data source over a pool or transaction
func NewRuleSource(db Querier) *RuleSource {
	return &RuleSource{db: db}
}

var ruleFields = []string{
	"id", "parent_id", "location_id", "valid_from", "valid_to", "valid_ufn", "price_active",
	"lifecycle", "superseded_by", "deleted_at",
	"supplier_id", "client_id", "handler_id", "apron_type", "hookup_method",
	"fuel_type", "fuel_category", "flight_type", "destination",
	"applies_to_commercial", "applies_to_private",
	"amount", "pricing_unit", "converted_amount", "converted_unit", "converted_rate",
	"band_kind", "band_start", "band_end", "band_uom",
}

// columns qualifies the shared rule columns with a table alias
func columns(alias string) string {
	qualified := make([]string, len(ruleFields))
	for i, f := range ruleFields {
		qualified[i] = alias + "." + f
	}
	return strings.Join(qualified, ", ")
}

// validity is the coarse window filter: $2 is the uplift date, $3 admits
// rows that already expired
func validity(alias string) string {
	return fmt.Sprintf(`%[1]s.lifecycle <> 'deleted'
		AND (%[1]s.valid_from AT TIME ZONE 'UTC')::date <= $2::date
		AND (%[1]s.valid_ufn OR (%[1]s.valid_to AT TIME ZONE 'UTC')::date >= $2::date OR $3)`, alias)
}

func dateArg(at time.Time) string {
	return at.UTC().Format("2006-01-02")
}

// ruleRow holds the nullable scan targets of the shared rule columns
type ruleRow struct {
	id           int64
	parentID     *int64
	locationID   *string
	validFrom    time.Time
	validTo      *time.Time
	validUFN     bool
	priceActive  bool
	lifecycle    string
	supersededBy *int64
	deletedAt    *time.Time

	supplierID, clientID, handlerID, apronType, hookupMethod *string
	fuelType, fuelCategory, flightType, destination          *string
	commercial, private                                      bool

	amount          decimal.Decimal
	unit            string
	convertedAmount *decimal.Decimal
	convertedUnit   *string
	convertedRate   *decimal.Decimal
	bandKind        *string
	bandStart       *decimal.Decimal
	bandEnd         *decimal.Decimal
	bandUOM         *string
}

func (r *ruleRow) dest() []any {
	return []any{
		&r.id, &r.parentID, &r.locationID, &r.validFrom, &r.validTo, &r.validUFN, &r.priceActive,
		&r.lifecycle, &r.supersededBy, &r.deletedAt,
		&r.supplierID, &r.clientID, &r.handlerID, &r.apronType, &r.hookupMethod,
		&r.fuelType, &r.fuelCategory, &r.flightType, &r.destination,
		&r.commercial, &r.private,
		&r.amount, &r.unit, &r.convertedAmount, &r.convertedUnit, &r.convertedRate,
		&r.bandKind, &r.bandStart, &r.bandEnd, &r.bandUOM,
	}
}

func (r *ruleRow) rule() (types.Rule, error) {
	unit, err := units.ParsePricingUnit(r.unit)
	if err != nil {
		return types.Rule{}, err
	}
	rule := types.Rule{
		ID:          r.id,
		ParentID:    r.parentID,
		LocationID:  str(r.locationID),
		ValidFrom:   r.validFrom.UTC(),
		ValidTo:     r.validTo,
		ValidUFN:    r.validUFN,
		PriceActive: r.priceActive,
		Status:      status(r.lifecycle, r.supersededBy, r.deletedAt),
		Scope: types.Scope{
			SupplierID:          str(r.supplierID),
			ClientID:            str(r.clientID),
			HandlerID:           str(r.handlerID),
			ApronType:           str(r.apronType),
			HookupMethod:        str(r.hookupMethod),
			FuelType:            str(r.fuelType),
			FuelCategory:        str(r.fuelCategory),
			FlightType:          str(r.flightType),
			Destination:         str(r.destination),
			AppliesToCommercial: r.commercial,
			AppliesToPrivate:    r.private,
		},
		Pricing: types.Pricing{Amount: r.amount, Unit: unit},
	}

	if r.convertedAmount != nil && r.convertedUnit != nil {
		cu, err := units.ParsePricingUnit(*r.convertedUnit)
		if err != nil {
			return types.Rule{}, err
		}
		rate := decimal.Zero
		if r.convertedRate != nil {
			rate = *r.convertedRate
		}
		rule.Pricing.Converted = &types.ConvertedPricing{Amount: *r.convertedAmount, Unit: cu, ExchangeRate: rate}
	}

	if r.bandKind != nil {
		uom, err := units.ParseUOM(str(r.bandUOM))
		if err != nil {
			return types.Rule{}, err
		}
		band := &types.Band{Kind: types.BandKind(*r.bandKind), Start: decimal.Zero, End: decimal.Zero, UOM: uom}
		if r.bandStart != nil {
			band.Start = *r.bandStart
		}
		if r.bandEnd != nil {
			band.End = *r.bandEnd
		}
		rule.Band = band
	}
	return rule, nil
}

func status(lifecycle string, supersededBy *int64, deletedAt *time.Time) types.Status {
	s := types.Status{Lifecycle: types.Lifecycle(lifecycle), DeletedAt: deletedAt}
	if supersededBy != nil {
		s.SupersededBy = *supersededBy
	}
	return s
}

func str(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// FuelPrices implements types.RuleDataSource
func (s *RuleSource) FuelPrices(ctx context.Context, f types.CoarseFilter) ([]*types.FuelPrice, error) {
	query := `SELECT ` + columns("p") + `, p.pld_id, p.inclusive_taxes, p.cascade_to_fees
		FROM fuel_prices p
		WHERE COALESCE(p.parent_id, p.id) IN (
			SELECT q.id FROM fuel_prices q
			WHERE q.location_id = $1 AND q.parent_id IS NULL AND ` + validity("q") + `)
		ORDER BY COALESCE(p.parent_id, p.id), p.parent_id IS NOT NULL, p.id`

	rows, err := s.db.Query(ctx, query, f.LocationID, dateArg(f.At), f.IncludeExpired)
	if err != nil {
		return nil, fmt.Errorf("query fuel prices: %w", err)
	}
	defer rows.Close()

	var out []*types.FuelPrice
	for rows.Next() {
		var (
			rr        ruleRow
			pld       *string
			inclusive []string
			cascade   bool
		)
		if err := rows.Scan(append(rr.dest(), &pld, &inclusive, &cascade)...); err != nil {
			return nil, fmt.Errorf("scan fuel price: %w", err)
		}
		rule, err := rr.rule()
		if err != nil {
			return nil, perrors.Data(err, "fuel price %d", rr.id)
		}
		out = append(out, &types.FuelPrice{Rule: rule, PLDID: str(pld), InclusiveTaxes: inclusive, CascadeToFees: cascade})
	}
	return out, rows.Err()
}

// SupplierFees implements types.RuleDataSource. Fee headers are read in
// every lifecycle state; fees with no rate in the window are omitted.
func (s *RuleSource) SupplierFees(ctx context.Context, f types.CoarseFilter) ([]*types.SupplierFee, error) {
	fees, order, err := s.feeHeaders(ctx, f.LocationID)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + columns("r") + `, r.fee_id
		FROM supplier_fee_rates r
		WHERE COALESCE(r.parent_id, r.id) IN (
			SELECT x.id FROM supplier_fee_rates x
			JOIN supplier_fees y ON y.id = x.fee_id
			WHERE y.location_id = $1 AND x.parent_id IS NULL AND ` + validity("x") + `)
		ORDER BY r.fee_id, COALESCE(r.parent_id, r.id), r.parent_id IS NOT NULL, r.id`

	rows, err := s.db.Query(ctx, query, f.LocationID, dateArg(f.At), f.IncludeExpired)
	if err != nil {
		return nil, fmt.Errorf("query fee rates: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rr    ruleRow
			feeID int64
		)
		if err := rows.Scan(append(rr.dest(), &feeID)...); err != nil {
			return nil, fmt.Errorf("scan fee rate: %w", err)
		}
		fee, ok := fees[feeID]
		if !ok {
			continue
		}
		rule, err := rr.rule()
		if err != nil {
			return nil, perrors.Data(err, "fee %d rate %d", feeID, rr.id)
		}
		if rule.LocationID == "" {
			rule.LocationID = fee.LocationID
		}
		fee.Rates = append(fee.Rates, &types.FeeRate{Rule: rule, FeeID: feeID})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read fee rates: %w", err)
	}

	var out []*types.SupplierFee
	for _, id := range order {
		if fee := fees[id]; len(fee.Rates) > 0 {
			out = append(out, fee)
		}
	}
	return out, nil
}

func (s *RuleSource) feeHeaders(ctx context.Context, location string) (map[int64]*types.SupplierFee, []int64, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, category, location_id, supplier_id, lifecycle, superseded_by, deleted_at, inclusive_taxes
		FROM supplier_fees WHERE location_id = $1 ORDER BY id`, location)
	if err != nil {
		return nil, nil, fmt.Errorf("query supplier fees: %w", err)
	}
	defer rows.Close()

	fees := make(map[int64]*types.SupplierFee)
	var order []int64
	for rows.Next() {
		var (
			fee          types.SupplierFee
			supplier     *string
			lifecycle    string
			supersededBy *int64
			deletedAt    *time.Time
		)
		if err := rows.Scan(&fee.ID, &fee.Name, &fee.Category, &fee.LocationID, &supplier,
			&lifecycle, &supersededBy, &deletedAt, &fee.InclusiveTaxes); err != nil {
			return nil, nil, fmt.Errorf("scan supplier fee: %w", err)
		}
		fee.SupplierID = str(supplier)
		fee.Status = status(lifecycle, supersededBy, deletedAt)
		fees[fee.ID] = &fee
		order = append(order, fee.ID)
	}
	return fees, order, rows.Err()
}

// TaxRules implements types.RuleDataSource. Every lifecycle state is read
// so taxable references to retired taxes can be reported.
func (s *RuleSource) TaxRules(ctx context.Context, f types.TaxFilter) ([]*types.TaxRule, error) {
	query := `SELECT ` + columns("t") + `, t.name, t.category, t.country_code, t.region_code,
			t.is_exception, t.applies_to_fuel, t.applies_to_fees, t.specific_fee_category,
			t.method, t.percentage, t.taxable_tax_id, t.taxable_exception_id
		FROM tax_rules t
		WHERE t.location_id = $1
			OR (t.location_id IS NULL AND $2 <> '' AND t.region_code = $2)
			OR (t.location_id IS NULL AND t.region_code IS NULL AND t.country_code = $3)
		ORDER BY t.id`

	rows, err := s.db.Query(ctx, query, f.AirportID, f.RegionCode, f.CountryCode)
	if err != nil {
		return nil, fmt.Errorf("query tax rules: %w", err)
	}
	defer rows.Close()

	var out []*types.TaxRule
	for rows.Next() {
		var (
			rr                ruleRow
			t                 types.TaxRule
			country, region   *string
			specific          *string
			method            string
			taxable, taxableX *int64
		)
		dest := append(rr.dest(), &t.Name, &t.Category, &country, &region,
			&t.IsException, &t.AppliesToFuel, &t.AppliesToFees, &specific,
			&method, &t.Percentage, &taxable, &taxableX)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan tax rule: %w", err)
		}
		rule, err := rr.rule()
		if err != nil {
			return nil, perrors.Data(err, "tax %d", rr.id)
		}
		t.Rule = rule
		t.CountryCode = str(country)
		t.RegionCode = str(region)
		t.SpecificFeeCategory = str(specific)
		t.Method = types.TaxMethod(method)
		t.TaxableTaxID = taxable
		t.TaxableExceptionID = taxableX
		out = append(out, &t)
	}
	return out, rows.Err()
}

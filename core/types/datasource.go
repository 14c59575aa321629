package types

import (
	"context"
	"time"
)

// CoarseFilter narrows candidate rows before in-memory matching. Sources
// return rows for the location that are not soft-deleted and whose window
// contains At; IncludeExpired additionally returns rows whose window ended
// before At. Band children of returned parents are always included.
type CoarseFilter struct {
	LocationID     string
	At             time.Time
	IncludeExpired bool
}

// TaxFilter selects official taxes and exceptions by geography
type TaxFilter struct {
	AirportID   string
	RegionCode  string
	CountryCode string
	At          time.Time
}

// RuleDataSource is the read-only capability granting access to rule rows
type RuleDataSource interface {
	// FuelPrices returns market fuel pricing rows including band children
	FuelPrices(ctx context.Context, filter CoarseFilter) ([]*FuelPrice, error)

	// SupplierFees returns fees at a location with all their rates
	SupplierFees(ctx context.Context, filter CoarseFilter) ([]*SupplierFee, error)

	// TaxRules returns officials and exceptions for the geography
	TaxRules(ctx context.Context, filter TaxFilter) ([]*TaxRule, error)
}

// Package types defines the pricing rule data model and the boundary
// contracts of the calculation engine.
package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"fuel-pricing/core/units"
)

// Wildcards used by applicability predicates
const (
	FlightTypeAll  = "A"
	DestinationAll = "ALL"
)

// ErrInvalidValidity flags a rule violating the valid_to / valid_ufn exclusivity
var ErrInvalidValidity = errors.New("exactly one of valid_to or valid_ufn must be set")

// Lifecycle is the lifecycle state of a rule row
type Lifecycle string

const (
	LifecycleActive     Lifecycle = "active"
	LifecycleSuperseded Lifecycle = "superseded"
	LifecycleDeleted    Lifecycle = "deleted"
)

// Status is the tagged union {Active, Superseded(by), Deleted(at)}.
// Only the field belonging to Lifecycle is meaningful.
type Status struct {
	Lifecycle    Lifecycle  `json:"lifecycle,omitempty"`
	SupersededBy int64      `json:"superseded_by,omitempty"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// Active returns the active status
func Active() Status {
	return Status{Lifecycle: LifecycleActive}
}

// Superseded returns a status pointing at the replacing row
func Superseded(by int64) Status {
	return Status{Lifecycle: LifecycleSuperseded, SupersededBy: by}
}

// Deleted returns a soft-deleted status
func Deleted(at time.Time) Status {
	return Status{Lifecycle: LifecycleDeleted, DeletedAt: &at}
}

// IsActive treats an unset lifecycle as active
func (s Status) IsActive() bool {
	return s.Lifecycle == "" || s.Lifecycle == LifecycleActive
}

// Scope holds the applicability predicates of a rule. Empty strings mean
// "applies to all".
type Scope struct {
	SupplierID          string `json:"supplier_id,omitempty"`
	ClientID            string `json:"client_id,omitempty"`
	HandlerID           string `json:"handler_id,omitempty"`
	ApronType           string `json:"apron_type,omitempty"`
	HookupMethod        string `json:"hookup_method,omitempty"`
	FuelType            string `json:"fuel_type,omitempty"`
	FuelCategory        string `json:"fuel_category,omitempty"`
	FlightType          string `json:"flight_type,omitempty"`
	Destination         string `json:"destination,omitempty"`
	AppliesToCommercial bool   `json:"applies_to_commercial"`
	AppliesToPrivate    bool   `json:"applies_to_private"`
}

// ConvertedPricing is a supplier-provided conversion of the native price
type ConvertedPricing struct {
	Amount       decimal.Decimal   `json:"amount"`
	Unit         units.PricingUnit `json:"unit"`
	ExchangeRate decimal.Decimal   `json:"exchange_rate"`
}

// Pricing is a native amount and unit, optionally with a supplier conversion
type Pricing struct {
	Amount    decimal.Decimal   `json:"amount"`
	Unit      units.PricingUnit `json:"unit"`
	Converted *ConvertedPricing `json:"converted,omitempty"`
}

// BandKind is the axis a band partitions
type BandKind string

const (
	BandQuantity BandKind = "quantity" // uplift quantity
	BandWeight   BandKind = "weight"   // aircraft weight
)

// Band is an inclusive [Start, End] range on a quantity or weight axis
type Band struct {
	Kind  BandKind        `json:"kind"`
	Start decimal.Decimal `json:"start"`
	End   decimal.Decimal `json:"end"`
	UOM   units.UOM       `json:"uom"`
}

// Rule is the shared shape of fuel pricing, fee rate and tax rows
type Rule struct {
	ID          int64      `json:"id"`
	ParentID    *int64     `json:"parent_id,omitempty"`
	LocationID  string     `json:"location_id,omitempty"`
	ValidFrom   time.Time  `json:"valid_from"`
	ValidTo     *time.Time `json:"valid_to,omitempty"`
	ValidUFN    bool       `json:"valid_ufn"`
	PriceActive bool       `json:"price_active"`
	Status      Status     `json:"status"`
	Scope       Scope      `json:"scope"`
	Pricing     Pricing    `json:"pricing"`
	Band        *Band      `json:"band,omitempty"`
}

// Base exposes the shared rule fields of any rule family
func (r *Rule) Base() *Rule {
	return r
}

// IsBandChild reports whether the row is a band of a parent entry
func (r *Rule) IsBandChild() bool {
	return r.ParentID != nil
}

// CheckValidity enforces that exactly one of valid_to or valid_ufn holds
func (r *Rule) CheckValidity() error {
	if (r.ValidTo != nil) != r.ValidUFN {
		return nil
	}
	return fmt.Errorf("rule %d: %w", r.ID, ErrInvalidValidity)
}

// ValidOn checks the validity window against an instant using inclusive
// calendar-date comparison in UTC
func (r *Rule) ValidOn(at time.Time) bool {
	day := dateOf(at)
	if dateOf(r.ValidFrom).After(day) {
		return false
	}
	if r.ValidUFN || r.ValidTo == nil {
		return true
	}
	return !day.After(dateOf(*r.ValidTo))
}

// ExpiredOn reports a row whose window ended before the instant
func (r *Rule) ExpiredOn(at time.Time) bool {
	if r.ValidUFN || r.ValidTo == nil {
		return false
	}
	return dateOf(at).After(dateOf(*r.ValidTo))
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

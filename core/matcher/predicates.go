package matcher

import (
	"fuel-pricing/core/types"
)

// Predicate is one named applicability test. A rule is a candidate only
// if every predicate of the family list accepts it.
type Predicate[T types.Ruled] struct {
	Name string
	Test func(row T, c *Context) bool
}

func active[T types.Ruled]() Predicate[T] {
	return Predicate[T]{Name: "active", Test: func(row T, _ *Context) bool {
		r := row.Base()
		return r.PriceActive && r.Status.IsActive()
	}}
}

func validAt[T types.Ruled]() Predicate[T] {
	return Predicate[T]{Name: "validity", Test: func(row T, c *Context) bool {
		return row.Base().ValidOn(c.At)
	}}
}

// expiredClientSpecific replaces validAt on the expired fallback path
func expiredClientSpecific[T types.Ruled]() Predicate[T] {
	return Predicate[T]{Name: "expired_client_specific", Test: func(row T, c *Context) bool {
		r := row.Base()
		return c.ClientID != "" && r.Scope.ClientID == c.ClientID &&
			!r.ValidFrom.After(c.At) && r.ExpiredOn(c.At)
	}}
}

func location[T types.Ruled]() Predicate[T] {
	return Predicate[T]{Name: "location", Test: func(row T, c *Context) bool {
		return row.Base().LocationID == c.LocationID
	}}
}

// taxLocation accepts country, region and airport level taxes of the context
func taxLocation() Predicate[*types.TaxRule] {
	return Predicate[*types.TaxRule]{Name: "location", Test: func(t *types.TaxRule, c *Context) bool {
		switch t.Level() {
		case types.LevelAirport:
			return t.LocationID == c.LocationID
		case types.LevelRegion:
			return c.RegionCode != "" && t.RegionCode == c.RegionCode
		default:
			return t.CountryCode == c.CountryCode
		}
	}}
}

func client[T types.Ruled]() Predicate[T] {
	return Predicate[T]{Name: "client", Test: func(row T, c *Context) bool {
		want := row.Base().Scope.ClientID
		return want == "" || want == c.ClientID
	}}
}

func dimension[T types.Ruled](name string, get func(s *types.Scope) string, ctx func(c *Context) string) Predicate[T] {
	return Predicate[T]{Name: name, Test: func(row T, c *Context) bool {
		want := get(&row.Base().Scope)
		if want == "" {
			return true
		}
		have := ctx(c)
		if have == "" {
			return c.Mode == FanOut
		}
		return want == have
	}}
}

func supplier[T types.Ruled]() Predicate[T] {
	return dimension[T]("supplier",
		func(s *types.Scope) string { return s.SupplierID },
		func(c *Context) string { return c.SupplierID })
}

func apron[T types.Ruled]() Predicate[T] {
	return dimension[T]("apron",
		func(s *types.Scope) string { return s.ApronType },
		func(c *Context) string { return c.ApronType })
}

func hookup[T types.Ruled]() Predicate[T] {
	return dimension[T]("hookup_method",
		func(s *types.Scope) string { return s.HookupMethod },
		func(c *Context) string { return c.HookupMethod })
}

func handler[T types.Ruled]() Predicate[T] {
	return dimension[T]("handler",
		func(s *types.Scope) string { return s.HandlerID },
		func(c *Context) string { return c.HandlerID })
}

func fuel[T types.Ruled]() Predicate[T] {
	return Predicate[T]{Name: "fuel", Test: func(row T, c *Context) bool {
		s := row.Base().Scope
		if s.FuelType == "" && s.FuelCategory == "" {
			return true
		}
		if s.FuelType != "" && s.FuelType == c.Fuel.Code {
			return true
		}
		return s.FuelCategory != "" && s.FuelCategory == c.Fuel.Category
	}}
}

func operatedAs[T types.Ruled]() Predicate[T] {
	return Predicate[T]{Name: "operated_as", Test: func(row T, c *Context) bool {
		s := row.Base().Scope
		switch c.OperatedAs {
		case types.OperatedCommercial:
			return s.AppliesToCommercial
		case types.OperatedPrivate:
			return s.AppliesToPrivate
		}
		return false
	}}
}

func destination[T types.Ruled]() Predicate[T] {
	return Predicate[T]{Name: "destination", Test: func(row T, c *Context) bool {
		want := row.Base().Scope.Destination
		return isWildcard(want, types.DestinationAll) || want == c.Destination
	}}
}

func flightType[T types.Ruled]() Predicate[T] {
	return Predicate[T]{Name: "flight_type", Test: func(row T, c *Context) bool {
		want := row.Base().Scope.FlightType
		return isWildcard(want, types.FlightTypeAll) || want == c.FlightType
	}}
}

func isWildcard(v, all string) bool {
	return v == "" || v == all
}

// ordered assembles a family list; the validity slot is swapped for the
// expired path
func ordered[T types.Ruled](validity, loc Predicate[T]) []Predicate[T] {
	return []Predicate[T]{
		active[T](),
		validity,
		loc,
		client[T](),
		apron[T](),
		hookup[T](),
		fuel[T](),
		handler[T](),
		supplier[T](),
		operatedAs[T](),
		destination[T](),
		flightType[T](),
	}
}

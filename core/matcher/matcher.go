// Package matcher filters and ranks candidate rule rows of the three rule
// families against a transaction context.
//
// Filtering is an ordered list of predicates applied in memory to rows
// fetched in bulk per location. Ranking uses the specificity score, then
// the most recent valid_from, then the lowest id.
package matcher

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"fuel-pricing/core/types"
	"fuel-pricing/core/units"
	"fuel-pricing/internal/logging"
)

// Specificity weights
const (
	ScoreHandler     = 1000
	ScoreFlightType  = 100
	ScoreDestination = 10
	ScoreHookup      = 1
)

// Mode selects how unspecified context dimensions are matched
type Mode int

const (
	// FanOut accepts rules specific to a dimension the context leaves open,
	// so one query can produce several rows
	FanOut Mode = iota

	// Strict accepts only generic rules for dimensions the context leaves open
	Strict
)

// Context is the typed transaction context rules are matched against
type Context struct {
	LocationID  string
	CountryCode string
	RegionCode  string
	Fuel        units.Fuel
	FlightType  string
	Destination string
	OperatedAs  types.OperatedAs
	At          time.Time

	SupplierID   string
	ClientID     string
	HandlerID    string
	ApronType    string
	HookupMethod string

	Mode Mode
}

// ContextFromInput builds a fan-out context from a scenario input
func ContextFromInput(in *types.ScenarioInput) Context {
	return Context{
		LocationID:   in.AirportID,
		CountryCode:  in.CountryCode,
		RegionCode:   in.RegionCode,
		Fuel:         in.Fuel,
		FlightType:   in.FlightType,
		Destination:  in.Destination,
		OperatedAs:   in.OperatedAs,
		At:           in.UpliftAt,
		SupplierID:   in.SupplierID,
		ClientID:     in.ClientID,
		HandlerID:    in.HandlerID,
		ApronType:    in.ApronType,
		HookupMethod: in.HookupMethod,
		Mode:         FanOut,
	}
}

// ForRow narrows a context to a fan-out row key and switches to strict mode
func (c Context) ForRow(key types.RowKey) Context {
	c.SupplierID = key.SupplierID
	c.HookupMethod = key.HookupMethod
	c.ApronType = key.ApronType
	c.HandlerID = key.HandlerID
	c.Mode = Strict
	return c
}

// Candidate is a matched rule with its specificity score
type Candidate[T types.Ruled] struct {
	Rule  T
	Score int
}

// Rejection names the first predicate a row failed
type Rejection struct {
	RuleID    int64
	Predicate string
}

// Matcher matches one rule family
type Matcher[T types.Ruled] struct {
	family   types.Family
	location Predicate[T]
	logger   *zap.Logger
}

// Option configures a matcher
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger logs rejected candidates at debug level
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func newMatcher[T types.Ruled](family types.Family, loc Predicate[T], opts []Option) *Matcher[T] {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.Logger
	}
	return &Matcher[T]{
		family:   family,
		location: loc,
		logger:   o.logger.With(zap.String("family", string(family))),
	}
}

// NewFuelPriceMatcher matches market fuel pricing rows
func NewFuelPriceMatcher(opts ...Option) *Matcher[*types.FuelPrice] {
	return newMatcher(types.FamilyFuelPrice, location[*types.FuelPrice](), opts)
}

// NewFeeRateMatcher matches supplier fee rate rows
func NewFeeRateMatcher(opts ...Option) *Matcher[*types.FeeRate] {
	return newMatcher(types.FamilyFeeRate, location[*types.FeeRate](), opts)
}

// NewTaxMatcher matches official taxes and exceptions by geography
func NewTaxMatcher(opts ...Option) *Matcher[*types.TaxRule] {
	return newMatcher(types.FamilyTax, taxLocation(), opts)
}

// Predicates returns the ordered predicate list of the regular path
func (m *Matcher[T]) Predicates() []Predicate[T] {
	return ordered(validAt[T](), m.location)
}

// Match returns the candidates valid at c.At, most specific first
func (m *Matcher[T]) Match(rows []T, c *Context) []Candidate[T] {
	return m.run(rows, c, m.Predicates())
}

// MatchExpiredClientSpecific is the separate fallback path returning
// client-specific rows whose validity ended before c.At
func (m *Matcher[T]) MatchExpiredClientSpecific(rows []T, c *Context) []Candidate[T] {
	if c.ClientID == "" {
		return nil
	}
	return m.run(rows, c, ordered(expiredClientSpecific[T](), m.location))
}

// Explain reports the first failing predicate of every rejected row
func (m *Matcher[T]) Explain(rows []T, c *Context) []Rejection {
	var out []Rejection
	preds := m.Predicates()
	for _, row := range rows {
		if name, ok := firstFailure(row, c, preds); !ok {
			out = append(out, Rejection{RuleID: row.Base().ID, Predicate: name})
		}
	}
	return out
}

func (m *Matcher[T]) run(rows []T, c *Context, preds []Predicate[T]) []Candidate[T] {
	var out []Candidate[T]
	for _, row := range rows {
		if name, ok := firstFailure(row, c, preds); !ok {
			m.logger.Debug("candidate rejected",
				zap.Int64("rule_id", row.Base().ID),
				zap.String("predicate", name))
			continue
		}
		out = append(out, Candidate[T]{Rule: row, Score: Specificity(row.Base())})
	}
	Rank(out)
	return out
}

func firstFailure[T types.Ruled](row T, c *Context, preds []Predicate[T]) (string, bool) {
	for _, p := range preds {
		if !p.Test(row, c) {
			return p.Name, false
		}
	}
	return "", true
}

// Specificity scores how narrowly a rule is scoped
func Specificity(r *types.Rule) int {
	score := 0
	if r.Scope.HandlerID != "" {
		score += ScoreHandler
	}
	if !isWildcard(r.Scope.FlightType, types.FlightTypeAll) {
		score += ScoreFlightType
	}
	if !isWildcard(r.Scope.Destination, types.DestinationAll) {
		score += ScoreDestination
	}
	if r.Scope.HookupMethod != "" {
		score += ScoreHookup
	}
	return score
}

// Rank orders candidates by score desc, valid_from desc, id asc
func Rank[T types.Ruled](cands []Candidate[T]) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		ra, rb := a.Rule.Base(), b.Rule.Base()
		if !ra.ValidFrom.Equal(rb.ValidFrom) {
			return ra.ValidFrom.After(rb.ValidFrom)
		}
		return ra.ID < rb.ID
	})
}

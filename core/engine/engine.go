// Package engine is the fuel pricing scenario orchestrator. It fetches the
// candidate rules of a location once, fans them out into result rows, prices
// fuel, fees and taxes per row through one scenario-scoped exchange rate book
// and persists the outcome as a single immutable record.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fuel-pricing/core/fx"
	"fuel-pricing/core/record"
	"fuel-pricing/core/types"
	"fuel-pricing/core/units"
	perrors "fuel-pricing/internal/errors"
	"fuel-pricing/internal/logging"
	"fuel-pricing/internal/metrics"
)

// DefaultMaxCandidates bounds the rows one rule family may return for a location
const DefaultMaxCandidates = 500

// Calculation modes used as metric labels
const (
	ModeResults   = "results"
	ModeCalculate = "calculate"
	ModeRerun     = "rerun"
)

// Engine runs pricing scenarios. It holds configuration only; every
// calculation works on its own snapshot of rules and rates.
type Engine struct {
	source        types.RuleDataSource
	provider      fx.Provider
	store         record.Store
	tx            record.TxRunner
	logger        *zap.Logger
	metrics       *metrics.Metrics
	converter     units.Converter
	outputUnit    units.PricingUnit
	maxCandidates int
	now           func() time.Time
	validate      *validator.Validate
}

// Option configures an engine
type Option func(*Engine)

// WithProvider sets the exchange rate provider
func WithProvider(p fx.Provider) Option {
	return func(e *Engine) { e.provider = p }
}

// WithStore sets the record store used for reruns and, unless a
// transaction runner is given, for persisting records
func WithStore(s record.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithTxRunner sets the commit boundary records are written in
func WithTxRunner(tx record.TxRunner) Option {
	return func(e *Engine) { e.tx = tx }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithRoundingPlaces sets the half-up rounding scale of converted amounts
func WithRoundingPlaces(places int32) Option {
	return func(e *Engine) { e.converter = units.NewConverter(places) }
}

// WithOutputUnit sets the unit used when a scenario names none
func WithOutputUnit(u units.PricingUnit) Option {
	return func(e *Engine) { e.outputUnit = u }
}

// WithMaxCandidates bounds the candidate rows per rule family
func WithMaxCandidates(n int) Option {
	return func(e *Engine) { e.maxCandidates = n }
}

// WithClock sets the clock stamping records
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine over a rule data source
func New(source types.RuleDataSource, opts ...Option) *Engine {
	e := &Engine{
		source:        source,
		converter:     units.NewConverter(units.DefaultPlaces),
		outputUnit:    units.MustPricingUnit("USD/USG"),
		maxCandidates: DefaultMaxCandidates,
		now:           func() time.Time { return time.Now().UTC() },
		validate:      validator.New(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.Logger
	}
	if e.metrics == nil {
		e.metrics = metrics.NewUnregistered()
	}
	if e.tx == nil && e.store != nil {
		e.tx = record.NoTx{Store: e.store}
	}
	return e
}

// GetResults prices a scenario without persisting it. Recoverable problems
// are reported as issues on the result; the returned error is always fatal.
func (e *Engine) GetResults(ctx context.Context, in types.ScenarioInput) (types.ScenarioResult, error) {
	started := time.Now()
	res, err := e.results(ctx, &in)
	e.metrics.ObserveCalculation(ModeResults, err, started)
	return res, err
}

// Calculate prices a scenario and persists exactly one record for it. No
// record is written when the calculation fails.
func (e *Engine) Calculate(ctx context.Context, in types.ScenarioInput) (*record.Record, error) {
	started := time.Now()
	mode := ModeCalculate
	if in.IsRerun {
		mode = ModeRerun
	}
	rec, err := e.calculate(ctx, &in)
	e.metrics.ObserveCalculation(mode, err, started)
	if err != nil {
		return nil, err
	}
	e.logger.Info("calculation finished",
		zap.String("mode", mode),
		zap.String("airport", rec.AirportID()),
		zap.Int("rows", len(rec.Results().Rows)),
		zap.Int("issues", countIssues(rec.Results())),
		zap.String("record_id", string(rec.ID)),
		zap.Duration("duration", time.Since(started)))
	return rec, nil
}

// Rerun recalculates a stored scenario with the exchange rates it used.
// overrides replace individual pairs and leave every other rate in place.
func (e *Engine) Rerun(ctx context.Context, srcID record.ID, overrides map[string]decimal.Decimal) (*record.Record, error) {
	src, err := e.loadRecord(ctx, srcID)
	if err != nil {
		return nil, err
	}
	in := src.Scenario().Input
	in.IsRerun = true
	in.SrcCalculationID = string(srcID)

	merged := make(map[string]decimal.Decimal, len(in.CurrencyOverrides)+len(overrides))
	for pair, rate := range in.CurrencyOverrides {
		merged[pair] = rate
	}
	for pair, rate := range overrides {
		merged[pair] = rate
	}
	if len(merged) > 0 {
		in.CurrencyOverrides = merged
	}
	return e.Calculate(ctx, in)
}

// Record returns a stored record
func (e *Engine) Record(ctx context.Context, id record.ID) (*record.Record, error) {
	return e.loadRecord(ctx, id)
}

func (e *Engine) calculate(ctx context.Context, in *types.ScenarioInput) (*record.Record, error) {
	if e.tx == nil {
		return nil, perrors.Storage("no record store configured", nil)
	}
	res, err := e.results(ctx, in)
	if err != nil {
		return nil, err
	}

	b := record.NewBuilder(*in).WithResults(res).WithCreatedAt(e.now())
	if in.IsRerun {
		b = b.WithSource(record.ID(in.SrcCalculationID))
	}
	rec, err := b.Build()
	if err != nil {
		return nil, perrors.Internal("failed to build calculation record", err)
	}

	err = e.tx.WithinTx(ctx, func(ctx context.Context, store record.Store) error {
		return store.Put(ctx, rec)
	})
	if err != nil {
		if errors.Is(err, record.ErrImmutabilityViolation) {
			return nil, perrors.Wrapf(perrors.TypeStorage, err, "record %s already exists", rec.ID)
		}
		return nil, perrors.Storage("failed to persist calculation record", err)
	}
	return rec, nil
}

func (e *Engine) results(ctx context.Context, in *types.ScenarioInput) (types.ScenarioResult, error) {
	if err := e.prepare(in); err != nil {
		return types.ScenarioResult{}, err
	}
	overrides, err := in.Overrides()
	if err != nil {
		return types.ScenarioResult{}, perrors.Wrap(perrors.TypeInput, "invalid currency override", err)
	}

	var recorded []types.RateQuote
	if in.IsRerun {
		src, err := e.loadRecord(ctx, record.ID(in.SrcCalculationID))
		if err != nil {
			return types.ScenarioResult{}, err
		}
		recorded = src.Scenario().UsedRates
	}
	book := fx.NewBook(e.provider, in.UpliftAt, fx.WithRecorded(recorded), fx.WithOverrides(overrides))

	rules, err := e.loadRules(ctx, in)
	if err != nil {
		return types.ScenarioResult{}, err
	}

	s := newScenario(e, in, rules, book)
	res, err := s.run(ctx)
	e.metrics.AddFXLookups(book.Lookups())
	if err != nil {
		return types.ScenarioResult{}, err
	}
	e.metrics.ObserveResult(len(res.Rows), countIssues(res))
	return res, nil
}

func (e *Engine) loadRecord(ctx context.Context, id record.ID) (*record.Record, error) {
	if e.store == nil {
		return nil, perrors.Storage("no record store configured", nil)
	}
	rec, err := e.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, record.ErrNotFound) {
			return nil, perrors.Wrap(perrors.TypeNotFound, "source calculation not found: "+string(id), err)
		}
		return nil, perrors.Storage("failed to read calculation record", err)
	}
	return rec, nil
}

func countIssues(res types.ScenarioResult) int {
	n := len(res.Issues)
	for _, row := range res.Rows {
		n += len(row.Issues)
	}
	return n
}

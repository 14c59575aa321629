// Package metrics exposes Prometheus instrumentation for pricing calculations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Metrics holds the calculation collectors
type Metrics struct {
	calculations *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	rows         prometheus.Histogram
	issues       prometheus.Counter
	fxLookups    prometheus.Counter
}

// New registers the collectors on reg under namespace
func New(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		// Calculations partitioned by mode (calculate, rerun) and outcome
		calculations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "calculations_total",
				Help:      "Total number of pricing calculations run",
			},
			[]string{"mode", "outcome"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "calculation_duration_seconds",
				Help:      "Pricing calculation latencies in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
		rows: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "calculation_rows",
				Help:      "Result rows produced per calculation",
				Buckets:   []float64{0, 1, 2, 4, 8, 16, 32},
			},
		),
		issues: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "row_issues_total",
				Help:      "Recoverable issues attached to result rows",
			},
		),
		fxLookups: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fx_lookups_total",
				Help:      "Exchange rate provider round trips",
			},
		),
	}
}

// NewUnregistered returns metrics bound to a private registry
func NewUnregistered() *Metrics {
	return New("fuel_pricing", prometheus.NewRegistry())
}

// ObserveCalculation records one finished calculation
func (m *Metrics) ObserveCalculation(mode string, err error, started time.Time) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	m.calculations.WithLabelValues(mode, outcome).Inc()
	m.duration.WithLabelValues(mode).Observe(time.Since(started).Seconds())
}

// ObserveResult records the shape of a result
func (m *Metrics) ObserveResult(rows, issues int) {
	m.rows.Observe(float64(rows))
	m.issues.Add(float64(issues))
}

// AddFXLookups records provider round trips
func (m *Metrics) AddFXLookups(n int) {
	m.fxLookups.Add(float64(n))
}

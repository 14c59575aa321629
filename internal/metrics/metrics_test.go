package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveCalculation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("test", reg)

	m.ObserveCalculation("calculate", nil, time.Now())
	m.ObserveCalculation("calculate", errors.New("boom"), time.Now())
	m.ObserveCalculation("rerun", nil, time.Now())
	m.ObserveResult(3, 2)
	m.AddFXLookups(1)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.calculations.WithLabelValues("calculate", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.calculations.WithLabelValues("calculate", OutcomeError)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.issues))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fxLookups))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

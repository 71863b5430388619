package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/hopecore/hope/internal/risk"
)

func TestObserveSignalGatedIncrementsByReason(t *testing.T) {
	r := New()
	r.ObserveSignalGated("ttl")
	r.ObserveSignalGated("ttl")
	r.ObserveSignalGated("liquidity")

	require.InDelta(t, 2, testutil.ToFloat64(r.signalsGated.WithLabelValues("ttl")), 0.0001)
	require.InDelta(t, 1, testutil.ToFloat64(r.signalsGated.WithLabelValues("liquidity")), 0.0001)
}

func TestSetCircuitStateOnlyActiveStateReadsOne(t *testing.T) {
	r := New()
	states := []string{string(risk.BreakerClosed), string(risk.BreakerOpen), string(risk.BreakerHalfOpen)}
	r.SetCircuitState(states, string(risk.BreakerOpen))

	require.InDelta(t, 0, testutil.ToFloat64(r.circuitState.WithLabelValues(string(risk.BreakerClosed))), 0.0001)
	require.InDelta(t, 1, testutil.ToFloat64(r.circuitState.WithLabelValues(string(risk.BreakerOpen))), 0.0001)
	require.InDelta(t, 0, testutil.ToFloat64(r.circuitState.WithLabelValues(string(risk.BreakerHalfOpen))), 0.0001)
}

func TestSetOpenPositionsAndPnL(t *testing.T) {
	r := New()
	r.SetOpenPositions(3)
	r.SetDailyPnLUSD(-42.5)

	require.InDelta(t, 3, testutil.ToFloat64(r.openPositions), 0.0001)
	require.InDelta(t, -42.5, testutil.ToFloat64(r.dailyPnLUSD), 0.0001)
}

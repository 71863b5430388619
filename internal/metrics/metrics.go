// Package metrics registers HOPE's Prometheus series: signals gated by
// reason, decisions by action/tier, orders by state, exits by reason,
// circuit-breaker state, and open-position count. Grounded on the
// teacher's metrics.go init()+MustRegister idiom, using a dedicated
// registry rather than the global default so tests can construct a
// fresh Registry per case.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every HOPE metric behind helper methods so callers
// never touch prometheus types directly.
type Registry struct {
	reg *prometheus.Registry

	signalsGated  *prometheus.CounterVec
	decisions     *prometheus.CounterVec
	orders        *prometheus.CounterVec
	exits         *prometheus.CounterVec
	circuitState  *prometheus.GaugeVec
	openPositions prometheus.Gauge
	dailyPnLUSD   prometheus.Gauge
}

// New builds a Registry with every HOPE series registered.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		signalsGated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hope_signals_gated_total",
			Help: "Signals rejected by the signal gate, split by guard reason.",
		}, []string{"reason"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hope_decisions_total",
			Help: "Decisions produced by the decision engine, split by action and tier.",
		}, []string{"action", "tier"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hope_orders_total",
			Help: "Orders submitted to the exchange, split by terminal state.",
		}, []string{"state"}),
		exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hope_exits_total",
			Help: "Position exits, split by reason.",
		}, []string{"reason"}),
		circuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hope_circuit_state",
			Help: "Circuit breaker state indicator (1 for the active state, 0 otherwise).",
		}, []string{"state"}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hope_open_positions",
			Help: "Current count of open positions.",
		}),
		dailyPnLUSD: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hope_daily_pnl_usd",
			Help: "Running daily realized PnL in USD.",
		}),
	}
	r.reg.MustRegister(r.signalsGated, r.decisions, r.orders, r.exits, r.circuitState, r.openPositions, r.dailyPnLUSD)
	return r
}

// Gatherer exposes the underlying registry for promhttp.HandlerFor.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// ObserveSignalGated increments the gated-signal counter for reason.
func (r *Registry) ObserveSignalGated(reason string) { r.signalsGated.WithLabelValues(reason).Inc() }

// ObserveDecision increments the decision counter for action/tier.
func (r *Registry) ObserveDecision(action, tier string) { r.decisions.WithLabelValues(action, tier).Inc() }

// ObserveOrder increments the order counter for a terminal state.
func (r *Registry) ObserveOrder(state string) { r.orders.WithLabelValues(state).Inc() }

// ObserveExit increments the exit counter for reason.
func (r *Registry) ObserveExit(reason string) { r.exits.WithLabelValues(reason).Inc() }

// SetCircuitState flips the gauge series so only the active state reads 1.
func (r *Registry) SetCircuitState(states []string, active string) {
	for _, s := range states {
		if s == active {
			r.circuitState.WithLabelValues(s).Set(1)
		} else {
			r.circuitState.WithLabelValues(s).Set(0)
		}
	}
}

// SetOpenPositions records the current open-position count.
func (r *Registry) SetOpenPositions(n int) { r.openPositions.Set(float64(n)) }

// SetDailyPnLUSD records the current running daily PnL.
func (r *Registry) SetDailyPnLUSD(v float64) { r.dailyPnLUSD.Set(v) }

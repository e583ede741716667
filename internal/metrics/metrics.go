// Package metrics exposes the core's Prometheus instrumentation. It has no
// compile-time dependency on any HTTP server — wiring a /metrics endpoint is
// the external collaborator's job (spec section 1); this package only
// registers and updates the series.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	TradesOpenedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fundingarb_trades_opened_total",
			Help: "Trades that reached status OPEN, by symbol.",
		},
		[]string{"symbol"},
	)

	TradesClosedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fundingarb_trades_closed_total",
			Help: "Trades that reached status CLOSED, by close reason.",
		},
		[]string{"reason"},
	)

	RollbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fundingarb_rollbacks_total",
			Help: "Rollback sequences entered, by outcome (done|failed).",
		},
		[]string{"outcome"},
	)

	BrokenHedgesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fundingarb_broken_hedges_total",
			Help: "Times a trade entered BROKEN_HEDGE state.",
		},
	)

	OpenExposureUSD = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fundingarb_open_exposure_usd",
			Help: "Sum of target notional across all OPEN trades.",
		},
	)

	OpenTradeCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fundingarb_open_trade_count",
			Help: "Current number of OPEN trades.",
		},
	)

	CircuitBreakerTripped = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fundingarb_circuit_breaker_tripped",
			Help: "1 if the supervisor's kill-switch is currently tripped, else 0.",
		},
	)

	ExitRuleFiredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fundingarb_exit_rule_fired_total",
			Help: "Exit decisions, by rule name.",
		},
		[]string{"rule"},
	)

	OpportunityRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fundingarb_opportunity_rejected_total",
			Help: "Symbols rejected during a scan, by filter stage.",
		},
		[]string{"stage"},
	)

	StoreQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fundingarb_store_queue_depth",
			Help: "Current depth of the trade store's write-behind queue.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		TradesOpenedTotal,
		TradesClosedTotal,
		RollbacksTotal,
		BrokenHedgesTotal,
		OpenExposureUSD,
		OpenTradeCount,
		CircuitBreakerTripped,
		ExitRuleFiredTotal,
		OpportunityRejectedTotal,
		StoreQueueDepth,
	)
}

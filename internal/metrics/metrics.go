// Package metrics defines the Prometheus collectors the pipeline stages
// update. Everything is registered at init and served by the ops API at
// /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	IngestEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gammabot_ingest_events_total",
			Help: "Market data events published, by stream.",
		},
		[]string{"stream"},
	)

	SignalsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gammabot_signals_total",
			Help: "Admitted signal intents, by playbook.",
		},
		[]string{"playbook"},
	)

	OrdersRouted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gammabot_orders_routed_total",
			Help: "Orders routed to the broker, by initial state.",
		},
		[]string{"state"},
	)

	OrdersTerminal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gammabot_orders_terminal_total",
			Help: "Orders reaching a terminal state.",
		},
		[]string{"state"},
	)

	OrderLatencyMS = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gammabot_order_latency_ms",
			Help:    "Submit-to-terminal latency in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)

	TotalPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gammabot_total_pnl",
			Help: "Realized plus unrealized PnL from the portfolio accountant.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		IngestEvents,
		SignalsEmitted,
		OrdersRouted,
		OrdersTerminal,
		OrderLatencyMS,
		TotalPnL,
	)
}

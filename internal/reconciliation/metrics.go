package reconciliation

import "github.com/prometheus/client_golang/prometheus"

var (
	reconcileMismatch = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "x402gw",
		Subsystem: "reconciliation",
		Name:      "balance_mismatch_base_units",
		Help:      "Largest absolute difference across providers between on-chain escrow balance and the catalog's recorded total, in base units, from the last run.",
	})

	reconcileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "x402gw",
		Subsystem: "reconciliation",
		Name:      "run_duration_seconds",
		Help:      "Duration of reconciliation runs in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
	})

	reconcileErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "x402gw",
		Subsystem: "reconciliation",
		Name:      "errors_total",
		Help:      "Total reconciliation run failures.",
	})
)

func init() {
	prometheus.MustRegister(reconcileMismatch, reconcileDuration, reconcileErrors)
}

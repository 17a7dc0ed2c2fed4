package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	gwChallengesIssued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "x402gw",
		Subsystem: "gateway",
		Name:      "challenges_issued_total",
		Help:      "Total 402 challenges issued, by service id.",
	}, []string{"service_id"})

	gwSettlementsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "x402gw",
		Subsystem: "gateway",
		Name:      "settlements_total",
		Help:      "Total settlement attempts by outcome state and path.",
	}, []string{"state", "path"}) // path: "processor" | "legacy"

	gwVerifyFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "x402gw",
		Subsystem: "gateway",
		Name:      "verify_failures_total",
		Help:      "Total verification failures by error kind.",
	}, []string{"kind"})

	gwSettlementLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "x402gw",
		Subsystem: "gateway",
		Name:      "settlement_latency_seconds",
		Help:      "End-to-end settlement latency (submission through confirmation).",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
	})

	gwProxyRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "x402gw",
		Subsystem: "gateway",
		Name:      "proxy_requests_total",
		Help:      "Total upstream proxy calls after settlement, by outcome.",
	}, []string{"status"}) // "success", "upstream_failed"

	gwRateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "x402gw",
		Subsystem: "gateway",
		Name:      "rate_limited_total",
		Help:      "Total requests rejected by the per-payer rate limiter.",
	})

	gwBlacklistRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "x402gw",
		Subsystem: "gateway",
		Name:      "blacklist_rejections_total",
		Help:      "Total requests rejected because the payer is blacklisted.",
	})

	gwLegacySettlements = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "x402gw",
		Subsystem: "gateway",
		Name:      "legacy_settlements_total",
		Help:      "Total settlements via the legacy direct-token path that does not credit the provider ledger.",
	})

	gwPendingConfirmations = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "x402gw",
		Subsystem: "relayer",
		Name:      "pending_confirmations",
		Help:      "Number of submitted transactions awaiting confirmation in the background watcher.",
	})
)

func init() {
	prometheus.MustRegister(
		gwChallengesIssued,
		gwSettlementsTotal,
		gwVerifyFailures,
		gwSettlementLatency,
		gwProxyRequests,
		gwRateLimited,
		gwBlacklistRejections,
		gwLegacySettlements,
		gwPendingConfirmations,
	)
}

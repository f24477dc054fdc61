// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "custody",
		Name:      "webhook_events_total",
		Help:      "Paystack webhook deliveries by event and outcome.",
	}, []string{"event", "outcome"})

	Deposits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "custody",
		Name:      "deposits_total",
		Help:      "Deposit lifecycle transitions by outcome.",
	}, []string{"outcome"})

	Transfers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "custody",
		Name:      "transfers_total",
		Help:      "Wallet to wallet transfers by outcome.",
	}, []string{"outcome"})

	GatewayDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "custody",
		Name:      "gateway_request_duration_seconds",
		Help:      "Latency of outbound Paystack calls.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "result"})
)

func ObserveWebhook(event, outcome string) {
	WebhookEvents.WithLabelValues(event, outcome).Inc()
}

func ObserveDeposit(outcome string) {
	Deposits.WithLabelValues(outcome).Inc()
}

func ObserveTransfer(outcome string) {
	Transfers.WithLabelValues(outcome).Inc()
}

func ObserveGateway(operation string, seconds float64, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	GatewayDuration.WithLabelValues(operation, result).Observe(seconds)
}

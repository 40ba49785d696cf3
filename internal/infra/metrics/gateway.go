package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		gatewayCallsTotal,
		gatewayCallDuration,
	)
}

var (
	// Wire calls to payment providers by operation and result.
	// op: request|verify|settle|reverse
	// result: ok|business_fail|error
	gatewayCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_calls_total",
			Help: "Payment provider calls by gateway, operation and result.",
		},
		[]string{"gateway", "op", "result"},
	)

	gatewayCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_call_duration_seconds",
			Help:    "Payment provider call latency in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"gateway", "op"},
	)
)

func ObserveGatewayCall(gateway, op, result string, seconds float64) {
	gatewayCallsTotal.WithLabelValues(norm(gateway), norm(op), norm(result)).Inc()
	gatewayCallDuration.WithLabelValues(norm(gateway), norm(op)).Observe(seconds)
}

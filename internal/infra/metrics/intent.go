package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(intentsTotal)
}

// Intent lifecycle events by gateway.
// status: initiated|settled|failed|reversed|cancelled
var intentsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "payment_intents_total",
		Help: "Payment intents by gateway and lifecycle status.",
	},
	[]string{"gateway", "status"},
)

func IncIntent(gateway, status string) {
	intentsTotal.WithLabelValues(norm(gateway), norm(status)).Inc()
}

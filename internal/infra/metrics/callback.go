package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		callbacksTotal,
		callbackDuration,
		callbackDuplicates,
	)
}

var (
	// Count of processed gateway callbacks grouped by outcome.
	// outcome: settled|failed|not_found|rejected|error
	callbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_callbacks_total",
			Help: "Gateway callbacks by gateway and processing outcome.",
		},
		[]string{"gateway", "outcome"},
	)

	callbackDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_callback_duration_seconds",
			Help:    "Duration of callback processing in seconds.",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"gateway"},
	)

	// Redelivered callbacks that found the intent already terminal.
	callbackDuplicates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_callback_duplicates_total",
			Help: "Callbacks for intents already in a terminal state.",
		},
		[]string{"gateway"},
	)
)

func IncCallback(gateway, outcome string) {
	callbacksTotal.WithLabelValues(norm(gateway), norm(outcome)).Inc()
}

func ObserveCallbackDuration(gateway string, seconds float64) {
	callbackDuration.WithLabelValues(norm(gateway)).Observe(seconds)
}

func IncCallbackDuplicate(gateway string) {
	callbackDuplicates.WithLabelValues(norm(gateway)).Inc()
}

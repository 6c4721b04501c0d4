package bridge

import "github.com/prometheus/client_golang/prometheus"

var (
	activeBridges = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chatd",
			Subsystem: "bridge",
			Name:      "active",
			Help:      "Loaded model bridges (0 or 1)",
		},
	)

	tokensTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chatd",
			Subsystem: "bridge",
			Name:      "tokens_total",
			Help:      "Tokens pushed by the chat module",
		},
	)

	completionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatd",
			Subsystem: "bridge",
			Name:      "completions_total",
			Help:      "Finished chat completions by finish reason",
		},
		[]string{"finish_reason"},
	)
)

func init() {
	prometheus.MustRegister(activeBridges, tokensTotal, completionsTotal)
}

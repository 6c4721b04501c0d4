package download

import "github.com/prometheus/client_golang/prometheus"

var (
	bytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chatd",
			Subsystem: "download",
			Name:      "bytes_total",
			Help:      "Total bytes written to model artifacts",
		},
	)

	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatd",
			Subsystem: "download",
			Name:      "jobs_total",
			Help:      "Finished download jobs by outcome",
		},
		[]string{"result"},
	)

	activeJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chatd",
			Subsystem: "download",
			Name:      "active",
			Help:      "Downloads currently owned by a worker",
		},
	)

	queuedJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chatd",
			Subsystem: "download",
			Name:      "queued",
			Help:      "Downloads waiting for a free worker",
		},
	)
)

func init() {
	prometheus.MustRegister(bytesTotal, jobsTotal, activeJobs, queuedJobs)
}

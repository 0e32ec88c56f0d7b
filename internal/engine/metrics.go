package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	runsSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "easel_runs_submitted_total",
		Help: "Total number of runs accepted into the queue.",
	})

	runsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "easel_runs_finished_total",
			Help: "Total number of runs reaching a terminal state.",
		},
		[]string{"status"},
	)

	artifactsFetched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "easel_artifacts_fetched_total",
		Help: "Total number of artifacts fetched from the compute backend.",
	})

	artifactsStored = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "easel_artifacts_stored_total",
		Help: "Total number of artifacts written to the object store.",
	})

	artifactsMirrored = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "easel_artifacts_mirrored_total",
		Help: "Total number of artifacts mirrored to the asset library.",
	})
)

func init() {
	prometheus.MustRegister(runsSubmitted)
	prometheus.MustRegister(runsFinished)
	prometheus.MustRegister(artifactsFetched)
	prometheus.MustRegister(artifactsStored)
	prometheus.MustRegister(artifactsMirrored)
}

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Метрики Conveyor.
var (
	RunsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conveyor_runs_started_total",
		Help: "Runs that entered the state machine.",
	})

	RunsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_runs_finished_total",
		Help: "Runs that reached a terminal status.",
	}, []string{"status"})

	ProvisionErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conveyor_provision_errors_total",
		Help: "Failed launch attempts.",
	})

	CompletionPolls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conveyor_completion_polls_total",
		Help: "Completion channel poll attempts.",
	})

	OrphansTerminated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conveyor_orphans_terminated_total",
		Help: "Instances terminated by the reconciler.",
	})

	TasksLeased = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_tasks_leased_total",
		Help: "Queue tasks leased by workers.",
	}, []string{"kind"})

	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "conveyor_run_duration_seconds",
		Help:    "Wall time of finished runs.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	})
)

// Handler возвращает HTTP handler для /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

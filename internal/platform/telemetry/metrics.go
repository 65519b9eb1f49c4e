// Package telemetry exposes the export engine's Prometheus metrics.
package telemetry

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flourish",
		Subsystem: "export",
		Name:      "jobs_started_total",
		Help:      "Export jobs registered, by scope.",
	}, []string{"scope"})

	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flourish",
		Subsystem: "export",
		Name:      "jobs_finished_total",
		Help:      "Export jobs finished, by scope and outcome.",
	}, []string{"scope", "status"})

	UnitRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flourish",
		Subsystem: "export",
		Name:      "unit_retries_total",
		Help:      "Export work units retried after a transient failure.",
	})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "flourish",
		Subsystem: "export",
		Name:      "job_duration_seconds",
		Help:      "Wall-clock duration of export jobs, by scope.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"scope"})

	FilesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flourish",
		Subsystem: "export",
		Name:      "files_written_total",
		Help:      "Export files written, by scope.",
	}, []string{"scope"})
)

// Handler serves the metrics scrape endpoint.
func Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.Handler())
}

// Package metrics provides Prometheus metrics for sync runs. A Recorder is
// fed from the outcome stream and can be written to a node_exporter
// textfile at the end of a run.
package metrics

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cbout22/fbsync/internal/report"
)

// Recorder implements report.Sink on top of its own registry.
type Recorder struct {
	registry *prometheus.Registry

	pathsTotal       *prometheus.CounterVec
	bytesDownloaded  prometheus.Counter
	transferAttempts prometheus.Histogram
	runDuration      prometheus.Gauge
	lastRunStatus    *prometheus.GaugeVec
	lastRunTimestamp prometheus.Gauge
}

var _ report.Sink = (*Recorder)(nil)

// NewRecorder registers the fbsync metrics on a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,

		pathsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fbsync_paths_total",
				Help: "Processed paths by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),

		bytesDownloaded: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fbsync_bytes_downloaded_total",
				Help: "Bytes written to the local mirror",
			},
		),

		transferAttempts: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fbsync_transfer_attempts",
				Help:    "Attempts needed per transferred file",
				Buckets: []float64{1, 2, 3, 5},
			},
		),

		runDuration: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fbsync_last_run_duration_seconds",
				Help: "Wall time of the last run",
			},
		),

		lastRunStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fbsync_last_run_status",
				Help: "1 for the terminal status of the last run",
			},
			[]string{"status"},
		),

		lastRunTimestamp: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fbsync_last_run_timestamp_seconds",
				Help: "Unix time the last run finished",
			},
		),
	}
}

// Registry exposes the registry, mostly for tests.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Record implements report.Sink.
func (r *Recorder) Record(e report.Event) {
	r.pathsTotal.WithLabelValues(string(e.Kind), string(e.Outcome)).Inc()
	if e.Kind != report.KindFile || e.Attempts == 0 {
		return
	}
	r.transferAttempts.Observe(float64(e.Attempts))
	if e.Outcome == report.Downloaded {
		r.bytesDownloaded.Add(float64(e.Bytes))
	}
}

// RecordRun records the end of a run.
func (r *Recorder) RecordRun(status report.Status, duration time.Duration, finished time.Time) {
	r.runDuration.Set(duration.Seconds())
	for _, s := range []report.Status{report.StatusCompleted, report.StatusAborted} {
		v := 0.0
		if s == status {
			v = 1
		}
		r.lastRunStatus.WithLabelValues(string(s)).Set(v)
	}
	r.lastRunTimestamp.Set(float64(finished.Unix()))
}

// WriteTextfile writes the metrics in the text exposition format, for the
// node_exporter textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return errors.Wrapf(err, "writing metrics to %s", path)
	}
	return nil
}

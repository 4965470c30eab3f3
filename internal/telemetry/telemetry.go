// Package telemetry records training progress as Prometheus metrics on a
// private registry, exported to a node-exporter textfile after each run.
package telemetry

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder collects per-run and per-epoch metrics. It implements
// training.Callback.
type Recorder struct {
	registry *prometheus.Registry

	epochs      prometheus.Counter
	epochMetric *prometheus.GaugeVec
	runs        *prometheus.CounterVec
	runDuration prometheus.Histogram
	bestIoU     *prometheus.GaugeVec

	lastEpoch time.Time
	epochTime prometheus.Histogram
}

// New creates a Recorder with its own registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		epochs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cropseg_epochs_total",
			Help: "Total number of completed training epochs",
		}),
		epochMetric: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cropseg_epoch_metric",
			Help: "Metric values reported for the last completed epoch",
		}, []string{"metric"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cropseg_runs_total",
			Help: "Training runs by outcome",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cropseg_run_duration_seconds",
			Help:    "Wall time of training runs",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12),
		}),
		bestIoU: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cropseg_best_val_mean_iou",
			Help: "Best validation mean IoU per hyperparameter tuple",
		}, []string{"learning_rate", "batch_size", "patience"}),
		epochTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cropseg_epoch_duration_seconds",
			Help:    "Wall time between consecutive epoch ends",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
	r.registry.MustRegister(r.epochs, r.epochMetric, r.runs, r.runDuration, r.bestIoU, r.epochTime)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// RunStarted resets the epoch timer.
func (r *Recorder) RunStarted() {
	r.lastEpoch = time.Now()
}

// OnEpochEnd records the epoch logs.
func (r *Recorder) OnEpochEnd(epoch int, logs map[string]float64) {
	r.epochs.Inc()
	for name, value := range logs {
		r.epochMetric.WithLabelValues(name).Set(value)
	}
	if !r.lastEpoch.IsZero() {
		r.epochTime.Observe(time.Since(r.lastEpoch).Seconds())
	}
	r.lastEpoch = time.Now()
}

// RunFinished records the outcome of one training run.
func (r *Recorder) RunFinished(duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	r.runs.WithLabelValues(outcome).Inc()
	r.runDuration.Observe(duration.Seconds())
}

// RecordBest stores the selected metric of a hyperparameter tuple.
func (r *Recorder) RecordBest(learningRate float64, batchSize, patience int, meanIoU float64) {
	r.bestIoU.WithLabelValues(
		strconv.FormatFloat(learningRate, 'g', -1, 64),
		strconv.Itoa(batchSize),
		strconv.Itoa(patience),
	).Set(meanIoU)
}

// WriteTextfile writes the current values in the text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

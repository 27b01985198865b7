// Package metrics provides Prometheus metrics for the attendance pipeline.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PipelineMetrics contains all Prometheus metrics of the recognition pipeline.
// A nil *PipelineMetrics is valid and records nothing.
type PipelineMetrics struct {
	Detections      *prometheus.CounterVec
	DetectionErrors prometheus.Counter
	Recognitions    *prometheus.CounterVec
	Marks           *prometheus.CounterVec
	SubmitErrors    prometheus.Counter
	SkippedTicks    *prometheus.CounterVec
	FrameErrors     prometheus.Counter
	CycleDuration   *prometheus.HistogramVec
	registry        *prometheus.Registry
}

// NewPipelineMetrics creates and registers the pipeline metrics.
func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
	}
	return m, nil
}

// NewRegistry returns a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return registry
}

// Handler exposes a registry over HTTP.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

func (m *PipelineMetrics) initMetrics() {
	m.Detections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_detections_total",
		Help: "Total number of faces detected, by detector tier.",
	}, []string{"tier"})

	m.DetectionErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "attendance_detection_errors_total",
		Help: "Total number of failed detection calls.",
	})

	m.Recognitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_recognitions_total",
		Help: "Total number of recognition decisions, by outcome.",
	}, []string{"outcome"})

	m.Marks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_marks_total",
		Help: "Total number of ledger marks, by source and whether a record was created.",
	}, []string{"source", "created"})

	m.SubmitErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "attendance_submit_errors_total",
		Help: "Total number of failed ledger submissions.",
	})

	m.SkippedTicks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_skipped_ticks_total",
		Help: "Total number of scheduler ticks skipped, by reason.",
	}, []string{"reason"})

	m.FrameErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "attendance_media_frame_errors_total",
		Help: "Total number of media frames that failed processing.",
	})

	m.CycleDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "attendance_cycle_duration_seconds",
		Help:    "Duration of detect and recognize cycles in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"source"})
}

// Describe implements the prometheus.Collector interface.
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Detections.Describe(ch)
	ch <- m.DetectionErrors.Desc()
	m.Recognitions.Describe(ch)
	m.Marks.Describe(ch)
	ch <- m.SubmitErrors.Desc()
	m.SkippedTicks.Describe(ch)
	ch <- m.FrameErrors.Desc()
	m.CycleDuration.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Detections.Collect(ch)
	ch <- m.DetectionErrors
	m.Recognitions.Collect(ch)
	m.Marks.Collect(ch)
	ch <- m.SubmitErrors
	m.SkippedTicks.Collect(ch)
	ch <- m.FrameErrors
	m.CycleDuration.Collect(ch)
}

// RecordDetections adds n faces found by tier.
func (m *PipelineMetrics) RecordDetections(tier string, n int) {
	if m == nil {
		return
	}
	m.Detections.WithLabelValues(tier).Add(float64(n))
}

// IncDetectionErrors counts a failed detection call.
func (m *PipelineMetrics) IncDetectionErrors() {
	if m == nil {
		return
	}
	m.DetectionErrors.Inc()
}

// RecordRecognition counts one accepted or rejected face.
func (m *PipelineMetrics) RecordRecognition(accepted bool) {
	if m == nil {
		return
	}
	outcome := "rejected"
	if accepted {
		outcome = "accepted"
	}
	m.Recognitions.WithLabelValues(outcome).Inc()
}

// RecordMark counts one ledger mark.
func (m *PipelineMetrics) RecordMark(source string, created bool) {
	if m == nil {
		return
	}
	m.Marks.WithLabelValues(source, fmt.Sprint(created)).Inc()
}

// IncSubmitErrors counts a failed ledger submission.
func (m *PipelineMetrics) IncSubmitErrors() {
	if m == nil {
		return
	}
	m.SubmitErrors.Inc()
}

// IncSkippedTicks counts a scheduler tick skipped for reason.
func (m *PipelineMetrics) IncSkippedTicks(reason string) {
	if m == nil {
		return
	}
	m.SkippedTicks.WithLabelValues(reason).Inc()
}

// IncFrameErrors counts a failed media frame.
func (m *PipelineMetrics) IncFrameErrors() {
	if m == nil {
		return
	}
	m.FrameErrors.Inc()
}

// ObserveCycle records the duration of one cycle in seconds.
func (m *PipelineMetrics) ObserveCycle(source string, seconds float64) {
	if m == nil {
		return
	}
	m.CycleDuration.WithLabelValues(source).Observe(seconds)
}

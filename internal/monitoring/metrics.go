package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "uw"
	subsystem = "ml"
)

// Metrics holds the service's Prometheus collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Prediction metrics
	predictions        *prometheus.CounterVec
	predictionDuration *prometheus.HistogramVec
	fallbacks          *prometheus.CounterVec

	// Model lifecycle metrics
	modelLoaded *prometheus.GaugeVec
	modelSwaps  *prometheus.CounterVec

	// Training metrics
	trainingJobs     *prometheus.CounterVec
	trainingDuration *prometheus.HistogramVec
	activeJobs       prometheus.Gauge
	trainingSamples  *prometheus.GaugeVec

	// Override learning metrics
	overridesTotal     prometheus.Gauge
	overrideValidation prometheus.Gauge

	// HTTP metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with a new registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		predictions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "predictions_total",
			Help:      "Total number of predictions served",
		}, []string{"model", "model_version"}),
		predictionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "prediction_duration_seconds",
			Help:      "Prediction latency including feature extraction",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		}, []string{"model"}),
		fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rule_based_predictions_total",
			Help:      "Predictions served by the rule-based fallback",
		}, []string{"model"}),

		modelLoaded: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "model_loaded",
			Help:      "Whether a fitted model is serving (1) or the fallback is active (0)",
		}, []string{"model"}),
		modelSwaps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "model_swaps_total",
			Help:      "Total number of hot-swaps per model family",
		}, []string{"model_type"}),

		trainingJobs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "training_jobs_total",
			Help:      "Training jobs by model type and final status",
		}, []string{"model_type", "status"}),
		trainingDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "training_duration_seconds",
			Help:      "Wall time of training runs",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"model_type"}),
		activeJobs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "training_jobs_active",
			Help:      "Training jobs currently running",
		}),
		trainingSamples: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "training_samples",
			Help:      "Samples used by the last successful training run",
		}, []string{"model"}),

		overridesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "overrides_total",
			Help:      "Underwriter overrides seen in the last learning metrics refresh",
		}),
		overrideValidation: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "override_validation_rate",
			Help:      "Fraction of overrides that were validated",
		}),

		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Handler exposes the registry for scraping
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordPrediction counts one prediction
func (m *Metrics) RecordPrediction(model, version string, fallback bool, took time.Duration) {
	if m == nil {
		return
	}
	m.predictions.WithLabelValues(model, version).Inc()
	m.predictionDuration.WithLabelValues(model).Observe(took.Seconds())
	if fallback {
		m.fallbacks.WithLabelValues(model).Inc()
	}
}

// SetModelLoaded updates the loaded gauge for one model
func (m *Metrics) SetModelLoaded(model string, loaded bool) {
	if m == nil {
		return
	}
	v := 0.0
	if loaded {
		v = 1
	}
	m.modelLoaded.WithLabelValues(model).Set(v)
}

// RecordSwap counts a hot-swap
func (m *Metrics) RecordSwap(modelType string) {
	if m == nil {
		return
	}
	m.modelSwaps.WithLabelValues(modelType).Inc()
}

// JobStarted marks a training job as running
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.activeJobs.Inc()
}

// JobFinished records a training job outcome
func (m *Metrics) JobFinished(modelType, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.activeJobs.Dec()
	m.trainingJobs.WithLabelValues(modelType, status).Inc()
	m.trainingDuration.WithLabelValues(modelType).Observe(took.Seconds())
}

// SetTrainingSamples records the sample count of a fitted model
func (m *Metrics) SetTrainingSamples(model string, samples int) {
	if m == nil {
		return
	}
	m.trainingSamples.WithLabelValues(model).Set(float64(samples))
}

// SetOverrideMetrics exports the latest override learning summary
func (m *Metrics) SetOverrideMetrics(total int, validationRate float64) {
	if m == nil {
		return
	}
	m.overridesTotal.Set(float64(total))
	m.overrideValidation.Set(validationRate)
}

// RecordHTTP records one served request
func (m *Metrics) RecordHTTP(method, route string, status int, took time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(took.Seconds())
}

package monitor

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "thrivesight"

// Metrics owns a private Prometheus registry with the service's collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	PredictionsTotal    *prometheus.CounterVec
	CacheHitsTotal      prometheus.Counter
	TrainingRunsTotal   *prometheus.CounterVec
	TrainingDuration    prometheus.Histogram
	ModelTrees          prometheus.Gauge
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

func NewMetrics(serviceName string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{registry: reg}

	m.PredictionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "predictions_total",
		Help:      "Predictions answered, by outcome.",
	}, []string{"outcome"})

	m.CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "prediction_cache_hits_total",
		Help:      "Predictions served from the memo cache.",
	})

	m.TrainingRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "training_runs_total",
		Help:      "Forest training runs, by result.",
	}, []string{"result"})

	m.TrainingDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "training_duration_seconds",
		Help:      "Wall time of forest training.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
	})

	m.ModelTrees = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "model_trees",
		Help:      "Trees in the active forest.",
	})

	m.HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests handled.",
	}, []string{"method", "path", "status"})

	m.HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	reg.MustRegister(
		m.PredictionsTotal,
		m.CacheHitsTotal,
		m.TrainingRunsTotal,
		m.TrainingDuration,
		m.ModelTrees,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)

	slog.Info("metrics registry initialized", "service", serviceName)
	return m
}

func (m *Metrics) ObservePrediction(outcome string, cached bool) {
	if m == nil {
		return
	}
	m.PredictionsTotal.WithLabelValues(outcome).Inc()
	if cached {
		m.CacheHitsTotal.Inc()
	}
}

func (m *Metrics) ObserveTraining(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.TrainingRunsTotal.WithLabelValues(result).Inc()
	m.TrainingDuration.Observe(d.Seconds())
}

func (m *Metrics) SetModelTrees(n int) {
	if m == nil {
		return
	}
	m.ModelTrees.Set(float64(n))
}

func (m *Metrics) ObserveHTTP(method, path, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

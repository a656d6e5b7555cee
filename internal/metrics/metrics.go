// Package metrics exposes Prometheus counters for uploads, index builds and questions.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is nil-safe: every recording method is a no-op on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	uploads      *prometheus.CounterVec
	buildTime    prometheus.Histogram
	passages     prometheus.Counter
	questions    *prometheus.CounterVec
	answerTime   *prometheus.HistogramVec
	httpRequests *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docchat_uploads_total",
			Help: "Uploaded documents by outcome.",
		}, []string{"outcome"}),
		buildTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "docchat_index_build_duration_seconds",
			Help:    "Time spent building one document index.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		passages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docchat_passages_indexed_total",
			Help: "Passages embedded and stored.",
		}),
		questions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docchat_questions_total",
			Help: "Questions answered by retrieval mode and outcome.",
		}, []string{"mode", "outcome"}),
		answerTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docchat_answer_duration_seconds",
			Help:    "Time to answer one question.",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"mode"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docchat_http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"route", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.uploads,
		m.buildTime,
		m.passages,
		m.questions,
		m.answerTime,
		m.httpRequests,
	)
	return m
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) ObserveUpload(err error) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) ObserveBuild(d time.Duration, passages int) {
	if m == nil {
		return
	}
	m.buildTime.Observe(d.Seconds())
	m.passages.Add(float64(passages))
}

func (m *Metrics) ObserveQuestion(mode string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.questions.WithLabelValues(mode, outcome(err)).Inc()
	if err == nil {
		m.answerTime.WithLabelValues(mode).Observe(d.Seconds())
	}
}

func (m *Metrics) ObserveRequest(route string, status int) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Package metrics exposes Prometheus instrumentation for the HTTP surface, the
// key-value store and presence.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/corkboard/internal/kvstore"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "corkboard"

// Recorder owns a private registry so tests and multiple servers never collide.
type Recorder struct {
	registry         *prometheus.Registry
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge
	storeOperations  *prometheus.CounterVec
	onlineSessions   prometheus.Gauge
}

// NewRecorder registers every collector, including the Go runtime collectors.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	recorder := &Recorder{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		requestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being processed",
			},
		),
		storeOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_operations_total",
				Help:      "Key-value store operations by kind and outcome",
			},
			[]string{"operation", "outcome"},
		),
		onlineSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "presence_online_sessions",
				Help:      "Sessions present after the most recent presence write",
			},
		),
	}
	registry.MustRegister(
		recorder.requestsTotal,
		recorder.requestDuration,
		recorder.requestsInFlight,
		recorder.storeOperations,
		recorder.onlineSessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return recorder
}

// Registry exposes the underlying registry for gathering in tests.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency, labelled by route pattern to
// keep cardinality bounded.
func (r *Recorder) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		r.requestsInFlight.Inc()
		defer r.requestsInFlight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		r.requestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		r.requestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// ObserveOnlineSessions records the presence count. It matches presence.CountObserver.
func (r *Recorder) ObserveOnlineSessions(count int) {
	r.onlineSessions.Set(float64(count))
}

// InstrumentStore wraps a store so every operation is counted.
func (r *Recorder) InstrumentStore(store kvstore.Store) kvstore.Store {
	return &instrumentedStore{Store: store, operations: r.storeOperations}
}

type instrumentedStore struct {
	kvstore.Store
	operations *prometheus.CounterVec
}

func (s *instrumentedStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, ok, err := s.Store.Get(ctx, key)
	outcome := "hit"
	if err != nil {
		outcome = "error"
	} else if !ok {
		outcome = "miss"
	}
	s.operations.WithLabelValues("get", outcome).Inc()
	return value, ok, err
}

func (s *instrumentedStore) Set(ctx context.Context, key, value string) error {
	err := s.Store.Set(ctx, key, value)
	s.operations.WithLabelValues("set", outcomeOf(err)).Inc()
	return err
}

func (s *instrumentedStore) Delete(ctx context.Context, key string) error {
	err := s.Store.Delete(ctx, key)
	s.operations.WithLabelValues("delete", outcomeOf(err)).Inc()
	return err
}

func outcomeOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Package metrics exposes engine and HTTP activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	scripting "github.com/goliatone/go-scripting"
)

const (
	namespace = "scriptengine"
	unmatched = "unmatched"
)

// Collector is an execution listener that records script outcomes, and an
// HTTP middleware for the server in front of the engine.
type Collector struct {
	registry *prometheus.Registry

	scriptsTotal   *prometheus.CounterVec
	scriptDuration *prometheus.HistogramVec
	queueDepth     *prometheus.GaugeVec
	enginesRunning *prometheus.GaugeVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New registers the collector's metrics on a private registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		scriptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scripts_total",
				Help:      "Total number of scripts executed, by outcome.",
			},
			[]string{"engine", "outcome"},
		),
		scriptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "script_duration_seconds",
				Help:      "Script execution duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"engine"},
		),
		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Scripts waiting in the engine queue.",
			},
			[]string{"engine"},
		),
		enginesRunning: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "engine_running",
				Help:      "1 while the engine worker is running.",
			},
			[]string{"engine"},
		),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}

	c.registry.MustRegister(
		c.scriptsTotal,
		c.scriptDuration,
		c.queueDepth,
		c.enginesRunning,
		c.httpRequestsTotal,
		c.httpRequestDuration,
	)
	return c
}

// Registry exposes the underlying registry, mainly for tests and for
// registering extra collectors.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Notify implements scripting.ExecutionListener.
func (c *Collector) Notify(engine *scripting.Engine, script *scripting.Script, kind scripting.EventKind) {
	id := engineLabel(engine)

	switch kind {
	case scripting.EventEngineStart:
		c.enginesRunning.WithLabelValues(id).Set(1)
	case scripting.EventEngineEnd:
		c.enginesRunning.WithLabelValues(id).Set(0)
	case scripting.EventScriptEnd:
		if script != nil {
			result := script.Result()
			c.scriptsTotal.WithLabelValues(id, result.Kind().String()).Inc()
			if d, ok := result.GetMetadata("duration"); ok {
				if duration, ok := d.(time.Duration); ok {
					c.scriptDuration.WithLabelValues(id).Observe(duration.Seconds())
				}
			}
		}
	}

	if engine != nil {
		c.queueDepth.WithLabelValues(id).Set(float64(engine.QueueLength()))
	}
}

// Middleware records request count and duration for every HTTP request.
// Uses the chi route pattern (not the raw path) to avoid unbounded cardinality.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start).Seconds()
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		path := routePattern(r)
		c.httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		c.httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// routePattern extracts the matched chi route pattern, falling back to "unmatched".
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return unmatched
}

func engineLabel(engine *scripting.Engine) string {
	if engine == nil || engine.ID() == "" {
		return "default"
	}
	return engine.ID()
}

var _ scripting.ExecutionListener = (*Collector)(nil)

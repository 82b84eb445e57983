// Package metrics exposes coordinator counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the coordinator's collectors.
type Metrics struct {
	registry  *prometheus.Registry
	verdicts  *prometheus.CounterVec
	replies   *prometheus.CounterVec
	waitTime  *prometheus.HistogramVec
	dispatch  *prometheus.CounterVec
	inflight  prometheus.GaugeFunc
	reconnect prometheus.Counter
}

// New registers the collectors in a fresh registry. inflight reports the
// current correlation store size.
func New(inflight func() int) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "validator",
			Name:      "verdicts_total",
			Help:      "Resolved requests by terminal state.",
		}, []string{"state"}),
		replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "validator",
			Name:      "replies_total",
			Help:      "Replica replies by ingest result.",
		}, []string{"result"}),
		waitTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "validator",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for a verdict.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 4, 8, 16},
		}, []string{"state"}),
		dispatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "validator",
			Name:      "dispatch_total",
			Help:      "Dispatch attempts by result.",
		}, []string{"result"}),
		reconnect: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "validator",
			Name:      "ingest_reconnects_total",
			Help:      "Reply consumer reconnect attempts.",
		}),
	}
	if inflight == nil {
		inflight = func() int { return 0 }
	}
	m.inflight = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "validator",
		Name:      "inflight_requests",
		Help:      "Requests waiting for a verdict.",
	}, func() float64 { return float64(inflight()) })

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.verdicts, m.replies, m.waitTime, m.dispatch, m.inflight, m.reconnect,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Verdict records a terminal state and its wait time in seconds.
func (m *Metrics) Verdict(state string, seconds float64) {
	if m == nil {
		return
	}
	m.verdicts.WithLabelValues(state).Inc()
	m.waitTime.WithLabelValues(state).Observe(seconds)
}

// Reply records one ingested reply.
func (m *Metrics) Reply(result string) {
	if m == nil {
		return
	}
	m.replies.WithLabelValues(result).Inc()
}

// Dispatch records one dispatch attempt.
func (m *Metrics) Dispatch(result string) {
	if m == nil {
		return
	}
	m.dispatch.WithLabelValues(result).Inc()
}

// Reconnect records a consumer reconnect.
func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnect.Inc()
}

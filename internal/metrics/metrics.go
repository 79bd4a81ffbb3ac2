package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "alarm_stream"

// Drop reasons used as label values.
const (
	ReasonFull    = "full"
	ReasonClosed  = "closed"
	ReasonUnknown = "unknown_handle"
	ReasonOther   = "other"
)

// Metrics groups every collector of the process.
type Metrics struct {
	registry *prometheus.Registry

	published        *prometheus.CounterVec
	delivered        prometheus.Counter
	dropped          *prometheus.CounterVec
	ingested         *prometheus.CounterVec
	mirrored         *prometheus.CounterVec
	dispatchDuration prometheus.Histogram
}

// New creates collectors on a fresh registry, including Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Change events accepted by the demultiplexer, by kind.",
		}, []string{"kind"}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Payloads enqueued on subscriber sessions.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_dropped_total",
			Help:      "Payloads not delivered to a subscriber, by reason.",
		}, []string{"reason"}),
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_ingested_total",
			Help:      "Record mutations received from producers, by outcome.",
		}, []string{"source", "outcome"}),
		mirrored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_publishes_total",
			Help:      "Payloads copied to the external mirror, by result.",
		}, []string{"result"}),
		dispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent fanning one event out to its subscribers.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.published,
		m.delivered,
		m.dropped,
		m.ingested,
		m.mirrored,
		m.dispatchDuration,
	)

	return m
}

// Published counts one accepted event.
func (m *Metrics) Published(kind string) {
	m.published.WithLabelValues(kind).Inc()
}

// Delivered counts n successful enqueues.
func (m *Metrics) Delivered(n int) {
	m.delivered.Add(float64(n))
}

// Dropped counts one rejected delivery.
func (m *Metrics) Dropped(reason string) {
	m.dropped.WithLabelValues(reason).Inc()
}

// ObserveDispatch records how long one fan-out took.
func (m *Metrics) ObserveDispatch(d time.Duration) {
	m.dispatchDuration.Observe(d.Seconds())
}

// Ingested counts one producer mutation by source and outcome.
func (m *Metrics) Ingested(source, outcome string) {
	m.ingested.WithLabelValues(source, outcome).Inc()
}

// Mirrored counts one mirror publish by result ("ok" or "error").
func (m *Metrics) Mirrored(result string) {
	m.mirrored.WithLabelValues(result).Inc()
}

// RegisterGauge exposes fn as a gauge, e.g. registry or session sizes.
func (m *Metrics) RegisterGauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Registry returns the underlying registry, used by tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the collected metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

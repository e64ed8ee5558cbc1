// Package monitor provides pool event sinks: Prometheus metrics, a durable
// Pebble-backed event journal, and structured logging.
package monitor

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/guileen/pglitepool/network"
)

const namespace = "pglitepool"

type connKey struct {
	address string
	id      uint64
}

// PrometheusSink turns pool events into Prometheus metrics on its own
// registry.
type PrometheusSink struct {
	registry *prometheus.Registry

	events           *prometheus.CounterVec
	connections      *prometheus.GaugeVec
	checkedOut       *prometheus.GaugeVec
	checkOutDuration *prometheus.HistogramVec
	establishTime    *prometheus.HistogramVec

	mu   sync.Mutex
	live map[connKey]bool // value: checked out
}

// NewPrometheusSink creates a sink with a fresh registry that also carries
// the Go runtime and process collectors.
func NewPrometheusSink() *PrometheusSink {
	s := &PrometheusSink{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Pool lifecycle events by type and reason.",
		}, []string{"address", "type", "reason"}),
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Established connections owned by the pool.",
		}, []string{"address"}),
		checkedOut: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_checked_out",
			Help:      "Connections currently lent to callers.",
		}, []string{"address"}),
		checkOutDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "check_out_duration_seconds",
			Help:      "Time from checkout start to its outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"address", "outcome"}),
		establishTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connection_establish_duration_seconds",
			Help:      "Time to establish a connection.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"address"}),
		live: make(map[connKey]bool),
	}

	s.registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{Namespace: "goruntime"}),
		s.events,
		s.connections,
		s.checkedOut,
		s.checkOutDuration,
		s.establishTime,
	)
	return s
}

// Registry returns the sink's registry
func (s *PrometheusSink) Registry() *prometheus.Registry { return s.registry }

// Handler serves the registry in the Prometheus exposition format
func (s *PrometheusSink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError})
}

// HandleEvent implements network.EventSink.
func (s *PrometheusSink) HandleEvent(evt *network.PoolEvent) {
	s.events.WithLabelValues(evt.Address, evt.Type, evt.Reason).Inc()

	key := connKey{address: evt.Address, id: evt.ConnectionID}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch evt.Type {
	case network.ConnectionReady:
		s.live[key] = false
		s.connections.WithLabelValues(evt.Address).Inc()
		s.establishTime.WithLabelValues(evt.Address).Observe(evt.Duration.Seconds())
	case network.ConnectionClosed:
		if out, ok := s.live[key]; ok {
			delete(s.live, key)
			s.connections.WithLabelValues(evt.Address).Dec()
			if out {
				s.checkedOut.WithLabelValues(evt.Address).Dec()
			}
		}
	case network.ConnectionCheckedOut:
		if out, ok := s.live[key]; ok && !out {
			s.live[key] = true
			s.checkedOut.WithLabelValues(evt.Address).Inc()
		}
		s.checkOutDuration.WithLabelValues(evt.Address, "success").Observe(evt.Duration.Seconds())
	case network.ConnectionCheckedIn:
		if out, ok := s.live[key]; ok && out {
			s.live[key] = false
			s.checkedOut.WithLabelValues(evt.Address).Dec()
		}
	case network.CheckOutFailed:
		s.checkOutDuration.WithLabelValues(evt.Address, evt.Reason).Observe(evt.Duration.Seconds())
	}
}

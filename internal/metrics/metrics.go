// Package metrics exposes server and keyspace statistics in Prometheus format.
//
// Every Metrics owns its registry, so several servers can live in one process
// (tests do this) without colliding on the default registerer.
// All methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/eternalApril/moonkv/internal/command"
	"github.com/eternalApril/moonkv/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "moonkv"

type Metrics struct {
	registry *prometheus.Registry

	commands       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	clients        prometheus.Gauge
	connections    prometheus.Counter
	protocolErrors prometheus.Counter
	expireCycles   prometheus.Counter
}

// New registers the collectors. stats is polled on every scrape for keyspace figures
func New(stats func() storage.Stats) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands processed, by command name and outcome",
		}, []string{"command", "status"}),

		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Time spent executing a command",
			Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
		}, []string{"command"}),

		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_clients",
			Help:      "Number of client connections currently open",
		}),

		connections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_received_total",
			Help:      "Client connections accepted since start",
		}),

		protocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Connections closed because of malformed RESP input",
		}),

		expireCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gc",
			Name:      "cycles_total",
			Help:      "Active expiry cycles run",
		}),
	}

	m.registry.MustRegister(
		m.commands,
		m.duration,
		m.clients,
		m.connections,
		m.protocolErrors,
		m.expireCycles,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if stats != nil {
		m.registerKeyspace(stats)
	}

	return m
}

func (m *Metrics) registerKeyspace(stats func() storage.Stats) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "keyspace",
			Name:      "keys",
			Help:      "Keys held, including expired keys not yet reclaimed",
		}, func() float64 { return float64(stats().Keys) }),

		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "keyspace",
			Name:      "volatile_keys",
			Help:      "Keys with a deadline",
		}, func() float64 { return float64(stats().Volatile) }),

		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "keyspace",
			Name:        "expired_keys_total",
			Help:        "Keys removed because their deadline passed",
			ConstLabels: prometheus.Labels{"kind": "lazy"},
		}, func() float64 { return float64(stats().ExpiredLazy) }),

		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "keyspace",
			Name:        "expired_keys_total",
			Help:        "Keys removed because their deadline passed",
			ConstLabels: prometheus.Labels{"kind": "active"},
		}, func() float64 { return float64(stats().ExpiredActive) }),
	)
}

// ObserveCommand records one executed command. Names outside the command table
// are folded into "unknown" to keep label cardinality bounded
func (m *Metrics) ObserveCommand(name string, d time.Duration, failed bool) {
	if m == nil {
		return
	}

	name = strings.ToUpper(name)
	if !command.Known(name) {
		name = "unknown"
	}

	status := "ok"
	if failed {
		status = "error"
	}

	m.commands.WithLabelValues(name, status).Inc()
	m.duration.WithLabelValues(name).Observe(d.Seconds())
}

func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.clients.Inc()
	m.connections.Inc()
}

func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.clients.Dec()
}

func (m *Metrics) ProtocolError() {
	if m == nil {
		return
	}
	m.protocolErrors.Inc()
}

func (m *Metrics) ExpireCycle() {
	if m == nil {
		return
	}
	m.expireCycles.Inc()
}

// Handler serves the registry on an HTTP endpoint
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

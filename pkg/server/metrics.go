package server

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/duskhaven-mud/duskhaven/pkg/session"
)

// Metrics holds the Prometheus metric descriptors for the server. It
// uses its own registry so tests can build several servers without
// duplicate-registration panics.
type Metrics struct {
	registry  *prometheus.Registry
	reg       *session.Registry
	startTime time.Time

	SessionsByProtocol *prometheus.GaugeVec
	Connections        *prometheus.CounterVec
	Logins             prometheus.Counter
	LoginFailures      prometheus.Counter
	Commands           prometheus.Counter
	BytesSent          prometheus.Counter
	BytesRecv          prometheus.Counter
	uptimeSeconds      prometheus.Gauge
	goroutines         prometheus.Gauge
}

// NewMetrics creates and registers the server metrics.
func NewMetrics(reg *session.Registry, startTime time.Time) *Metrics {
	m := &Metrics{
		registry:  prometheus.NewRegistry(),
		reg:       reg,
		startTime: startTime,
		SessionsByProtocol: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "duskhaven_sessions",
			Help: "Number of live sessions by protocol.",
		}, []string{"protocol"}),
		Connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "duskhaven_connections_total",
			Help: "Total connections accepted since server start.",
		}, []string{"protocol"}),
		Logins: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "duskhaven_logins_total",
			Help: "Total successful account logins.",
		}),
		LoginFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "duskhaven_login_failures_total",
			Help: "Total failed login attempts.",
		}),
		Commands: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "duskhaven_commands_processed_total",
			Help: "Total commands processed since server start.",
		}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "duskhaven_bytes_sent_total",
			Help: "Total bytes sent to clients.",
		}),
		BytesRecv: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "duskhaven_bytes_received_total",
			Help: "Total bytes received from clients.",
		}),
		uptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "duskhaven_uptime_seconds",
			Help: "Server uptime in seconds.",
		}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "duskhaven_goroutines",
			Help: "Number of active goroutines.",
		}),
	}

	m.registry.MustRegister(
		m.SessionsByProtocol,
		m.Connections,
		m.Logins,
		m.LoginFailures,
		m.Commands,
		m.BytesSent,
		m.BytesRecv,
		m.uptimeSeconds,
		m.goroutines,
	)
	return m
}

// Update refreshes the gauges from current server state.
func (m *Metrics) Update() {
	counts := make(map[string]int)
	for _, s := range m.reg.All() {
		counts[s.Protocol()]++
	}
	for _, proto := range []string{"telnet", "telnet/tls", "ssh", "websocket"} {
		m.SessionsByProtocol.WithLabelValues(proto).Set(float64(counts[proto]))
	}
	m.uptimeSeconds.Set(time.Since(m.startTime).Seconds())
	m.goroutines.Set(float64(runtime.NumGoroutine()))
}

// Handler returns an http.Handler that updates gauges before serving
// the scrape.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.Update()
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}

// HealthHandler reports liveness plus a few cheap counts.
func (m *Metrics) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":   "ok",
			"sessions": m.reg.Count(true),
			"uptime":   time.Since(m.startTime).Seconds(),
		})
	})
}

package app

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's instrumentation. A dedicated registry keeps the
// scrape surface limited to what we export on purpose.
type Metrics struct {
	registry *prometheus.Registry

	WSConnections  prometheus.Gauge
	MessagesFanned prometheus.Counter
	ActiveCalls    prometheus.GaugeFunc
}

// NewMetrics builds the registry. activeCalls is sampled at scrape time.
func NewMetrics(activeCalls func() float64) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		WSConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pigeon_ws_connections",
			Help: "Currently registered websocket handles.",
		}),
		MessagesFanned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pigeon_messages_fanned_out_total",
			Help: "Envelopes enqueued to participant handles after persistence.",
		}),
		ActiveCalls: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "pigeon_active_calls",
			Help: "Outstanding two-party calls.",
		}, activeCalls),
	}
	reg.MustRegister(m.WSConnections, m.MessagesFanned, m.ActiveCalls)
	return m
}

// Handler exposes the registry for /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

package httpuv

import "github.com/prometheus/client_golang/prometheus"

// Metrics is an optional set of prometheus collectors a Server reports to.
// A nil *Metrics disables collection entirely; no protocol behavior depends
// on it.
type Metrics struct {
	OpenConnections     prometheus.Gauge
	UpgradedConnections prometheus.Gauge
	BytesWritten        prometheus.Counter
	ParseErrors         prometheus.Counter
}

// NewMetrics registers a fresh set of collectors with reg and returns them.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OpenConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "httpuv",
			Name:      "open_connections",
			Help:      "Number of currently open connections.",
		}),
		UpgradedConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "httpuv",
			Name:      "upgraded_connections",
			Help:      "Number of connections currently upgraded to WebSocket.",
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "httpuv",
			Name:      "bytes_written_total",
			Help:      "Total WebSocket frame bytes written across all connections; HTTP response bytes are not counted.",
		}),
		ParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "httpuv",
			Name:      "parse_errors_total",
			Help:      "Total HTTP and WebSocket frame parse errors.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.OpenConnections, m.UpgradedConnections, m.BytesWritten, m.ParseErrors)
	}
	return m
}

func (m *Metrics) connectionOpened() {
	if m != nil {
		m.OpenConnections.Inc()
	}
}

func (m *Metrics) connectionClosed() {
	if m != nil {
		m.OpenConnections.Dec()
	}
}

func (m *Metrics) connectionUpgraded() {
	if m != nil {
		m.UpgradedConnections.Inc()
	}
}

func (m *Metrics) connectionDowngraded() {
	if m != nil {
		m.UpgradedConnections.Dec()
	}
}

func (m *Metrics) wroteBytes(n int) {
	if m != nil {
		m.BytesWritten.Add(float64(n))
	}
}

func (m *Metrics) parseError() {
	if m != nil {
		m.ParseErrors.Inc()
	}
}

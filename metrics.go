package msgnet

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors updated by a Server or Client.
// A nil *Metrics records nothing.
type Metrics struct {
	accepted          prometheus.Counter
	denied            prometheus.Counter
	validated         prometheus.Counter
	handshakeFailures prometheus.Counter
	evicted           prometheus.Counter
	framesIn          prometheus.Counter
	framesOut         prometheus.Counter
	bytesIn           prometheus.Counter
	bytesOut          prometheus.Counter
	roster            prometheus.Gauge
}

// NewMetrics creates the collectors under namespace and registers them
// with reg. A nil reg leaves them unregistered.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	counter := func(subsystem, name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		})
	}

	m := &Metrics{
		accepted:          counter("server", "connections_accepted_total", "Connections approved by the accept filter."),
		denied:            counter("server", "connections_denied_total", "Connections rejected by the accept filter."),
		validated:         counter("conn", "handshakes_validated_total", "Connections that completed the handshake."),
		handshakeFailures: counter("conn", "handshake_failures_total", "Connections closed during the handshake."),
		evicted:           counter("server", "connections_evicted_total", "Disconnected clients removed from the roster."),
		framesIn:          counter("conn", "frames_received_total", "Frames read off sockets."),
		framesOut:         counter("conn", "frames_sent_total", "Frames written to sockets."),
		bytesIn:           counter("conn", "received_bytes_total", "Framed bytes read off sockets."),
		bytesOut:          counter("conn", "sent_bytes_total", "Framed bytes written to sockets."),
		roster: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "roster_size",
			Help:      "Connections currently held in the server roster.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.accepted, m.denied, m.validated, m.handshakeFailures, m.evicted,
			m.framesIn, m.framesOut, m.bytesIn, m.bytesOut, m.roster,
		)
	}
	return m
}

func (m *Metrics) connectionAccepted() {
	if m != nil {
		m.accepted.Inc()
	}
}

func (m *Metrics) connectionDenied() {
	if m != nil {
		m.denied.Inc()
	}
}

func (m *Metrics) handshakeValidated() {
	if m != nil {
		m.validated.Inc()
	}
}

func (m *Metrics) handshakeFailed() {
	if m != nil {
		m.handshakeFailures.Inc()
	}
}

func (m *Metrics) connectionEvicted(n int) {
	if m != nil {
		m.evicted.Add(float64(n))
	}
}

func (m *Metrics) frameReceived(size int) {
	if m != nil {
		m.framesIn.Inc()
		m.bytesIn.Add(float64(size))
	}
}

func (m *Metrics) frameSent(size int) {
	if m != nil {
		m.framesOut.Inc()
		m.bytesOut.Add(float64(size))
	}
}

func (m *Metrics) rosterSize(n int) {
	if m != nil {
		m.roster.Set(float64(n))
	}
}

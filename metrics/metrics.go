// Package metrics wires the core's observable counters/gauges through
// github.com/prometheus/client_golang, the teacher's declared (if in the
// retrieved subset unexercised) metrics dependency. spec.md §4.D asks
// for "an overflow counter... incremented for that key" and §5 asks for
// "a per-channel drop counter"; this package is where both live so a
// caller can register them with their own registry via Collectors().
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every collector this core exposes. This package never
// registers them; a caller does so via Collectors(), so a process
// embedding this module more than once doesn't double register with the
// default registry.
type Metrics struct {
	Overflow        *prometheus.CounterVec
	ConnectionState prometheus.Gauge
	Epoch           prometheus.Gauge
	NextRequestID   prometheus.Gauge
	NextOrderID     prometheus.Gauge
	ReconnectTotal  prometheus.Counter
}

// New builds an unregistered Metrics bundle.
func New(namespace string) *Metrics {
	return &Metrics{
		Overflow: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_overflow_total",
			Help:      "Frames dropped because a routed channel's delivery wait timed out.",
		}, []string{"routing_key"}),
		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Current Connection state (0=Disconnected,1=Handshaking,2=Connected,3=Reconnecting,4=Shutdown).",
		}),
		Epoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "epoch",
			Help:      "Current connection epoch, incremented on every successful connect.",
		}),
		NextRequestID: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "next_request_id",
			Help:      "Next request id the Router will allocate.",
		}),
		NextOrderID: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "next_order_id",
			Help:      "Next order id the Router will allocate.",
		}),
		ReconnectTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_total",
			Help:      "Successful reconnects across the process lifetime.",
		}),
	}
}

// Collectors returns every collector, for registration with a
// prometheus.Registerer of the caller's choosing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Overflow, m.ConnectionState, m.Epoch, m.NextRequestID, m.NextOrderID, m.ReconnectTotal,
	}
}

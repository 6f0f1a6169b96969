// Package metrics exports Prometheus counters and gauges for the
// reassembly engine, mirroring netcap's conf.ExportMetrics /
// auditRecord.Inc() pattern and m-lab-tcp-info's use of
// prometheus/client_golang for socket-level counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the counters/gauges this module exports. A nil
// *Metrics is safe to use everywhere it's threaded through: every method
// on it is a no-op, so callers don't need to branch on whether metrics
// export is enabled.
type Metrics struct {
	packetsTotal      *prometheus.CounterVec
	bytesTotal        *prometheus.CounterVec
	liveConnections   prometheus.Gauge
	lifetimeConns     prometheus.Counter
	sequenceAnomalies prometheus.Counter
	oversizeRejects   prometheus.Counter
}

// New registers the metrics in reg and returns the bundle. Pass
// prometheus.NewRegistry() for an isolated registry (tests, multiple
// instances) or prometheus.DefaultRegisterer to expose via
// promhttp.Handler() on the default registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		packetsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pcapflow",
			Name:      "packets_total",
			Help:      "Packets observed by the registry, labeled by outcome.",
		}, []string{"outcome"}),
		bytesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pcapflow",
			Name:      "bytes_total",
			Help:      "TCP payload bytes accounted into a FlowBuff, labeled by direction.",
		}, []string{"direction"}),
		liveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "pcapflow",
			Name:      "live_connections",
			Help:      "Number of connections currently tracked by the registry.",
		}),
		lifetimeConns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pcapflow",
			Name:      "connections_total",
			Help:      "Total connections ever created by the registry.",
		}),
		sequenceAnomalies: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pcapflow",
			Name:      "sequence_anomalies_total",
			Help:      "Packets whose sequence advance the forward-jump guard refused.",
		}),
		oversizeRejects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pcapflow",
			Name:      "oversize_buffer_rejects_total",
			Help:      "Writes rejected for exceeding a FlowBuff's buffer ceiling.",
		}),
	}
}

// ObservePacket records one packet with the given outcome label
// (cmd/reassemble passes "accepted" or "dropped").
func (m *Metrics) ObservePacket(outcome string) {
	if m == nil {
		return
	}
	m.packetsTotal.WithLabelValues(outcome).Inc()
}

// ObserveBytes records payloadLen bytes accounted into direction
// (cmd/reassemble passes Direction.String(): "low->high" or "high->low").
func (m *Metrics) ObserveBytes(direction string, payloadLen int) {
	if m == nil {
		return
	}
	m.bytesTotal.WithLabelValues(direction).Add(float64(payloadLen))
}

// SetLiveConnections sets the live-connection gauge.
func (m *Metrics) SetLiveConnections(n int) {
	if m == nil {
		return
	}
	m.liveConnections.Set(float64(n))
}

// IncConnectionsCreated increments the lifetime connection counter.
func (m *Metrics) IncConnectionsCreated() {
	if m == nil {
		return
	}
	m.lifetimeConns.Inc()
}

// IncSequenceAnomaly increments the forward-jump-guard rejection counter.
func (m *Metrics) IncSequenceAnomaly() {
	if m == nil {
		return
	}
	m.sequenceAnomalies.Inc()
}

// IncOversizeReject increments the oversize-buffer rejection counter.
func (m *Metrics) IncOversizeReject() {
	if m == nil {
		return
	}
	m.oversizeRejects.Inc()
}

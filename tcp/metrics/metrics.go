// Package metrics provides a Prometheus-backed implementation of
// tcp.MetricsSink, grounded on the counter/gauge shape used throughout the
// corpus's socket-statistics tooling.
package metrics

import (
	"encoding/hex"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/soypat/tcpcore/tcp"
)

// Collector implements tcp.MetricsSink and registers itself as a
// prometheus.Collector so it can be wired into any registry the host
// application already runs.
type Collector struct {
	segmentsSent     *prometheus.CounterVec
	segmentsRecv     *prometheus.CounterVec
	bytesSent        *prometheus.CounterVec
	bytesRecv        *prometheus.CounterVec
	retransmits      *prometheus.CounterVec
	acceptQueueDepth *prometheus.GaugeVec
	stateTransitions *prometheus.CounterVec
}

// NewCollector builds a Collector with metric names under the "tcp_"
// namespace. Register it with a prometheus.Registerer before use.
func NewCollector() *Collector {
	labels := []string{"local_port"}
	c := &Collector{
		segmentsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tcp", Name: "segments_sent_total",
			Help: "Total TCP segments handed to PopPacket.",
		}, labels),
		segmentsRecv: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tcp", Name: "segments_received_total",
			Help: "Total TCP segments admitted via PushPacket.",
		}, labels),
		bytesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tcp", Name: "bytes_sent_total",
			Help: "Total payload bytes transmitted.",
		}, labels),
		bytesRecv: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tcp", Name: "bytes_received_total",
			Help: "Total payload bytes received.",
		}, labels),
		retransmits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tcp", Name: "retransmits_total",
			Help: "Total retransmission-timer-triggered retransmits.",
		}, labels),
		acceptQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tcp", Name: "accept_queue_depth",
			Help: "Current number of connections waiting in a listener's accept queue.",
		}, labels),
		stateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tcp", Name: "state_transitions_total",
			Help: "Total state machine transitions, labeled by resulting state.",
		}, append(labels, "to")),
	}
	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.segmentsSent.Describe(ch)
	c.segmentsRecv.Describe(ch)
	c.bytesSent.Describe(ch)
	c.bytesRecv.Describe(ch)
	c.retransmits.Describe(ch)
	c.acceptQueueDepth.Describe(ch)
	c.stateTransitions.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.segmentsSent.Collect(ch)
	c.segmentsRecv.Collect(ch)
	c.bytesSent.Collect(ch)
	c.bytesRecv.Collect(ch)
	c.retransmits.Collect(ch)
	c.acceptQueueDepth.Collect(ch)
	c.stateTransitions.Collect(ch)
}

func portLabel(ep tcp.Endpoint) string { return hex.EncodeToString([]byte{byte(ep.Port >> 8), byte(ep.Port)}) }

func (c *Collector) OnSegmentSent(local tcp.Endpoint, n int) {
	l := portLabel(local)
	c.segmentsSent.WithLabelValues(l).Inc()
	c.bytesSent.WithLabelValues(l).Add(float64(n))
}

func (c *Collector) OnSegmentReceived(local tcp.Endpoint, n int) {
	l := portLabel(local)
	c.segmentsRecv.WithLabelValues(l).Inc()
	c.bytesRecv.WithLabelValues(l).Add(float64(n))
}

func (c *Collector) OnRetransmit(local tcp.Endpoint) {
	c.retransmits.WithLabelValues(portLabel(local)).Inc()
}

func (c *Collector) OnStateChange(local tcp.Endpoint, from, to tcp.State) {
	c.stateTransitions.WithLabelValues(portLabel(local), to.String()).Inc()
}

func (c *Collector) OnAcceptQueueDepth(local tcp.Endpoint, depth int) {
	c.acceptQueueDepth.WithLabelValues(portLabel(local)).Set(float64(depth))
}

// Package stats keeps the process-wide gateway counters. Every counter is
// updated atomically and can be read at any time without stopping traffic.
package stats

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "trackgate"

// Stats is shared by every session, listener and forward worker.
type Stats struct {
	startedAt time.Time

	ConnectionsAccepted atomic.Uint64
	ConnectionsActive   atomic.Int64
	ConnectionsClosed   atomic.Uint64
	DatagramsReceived   atomic.Uint64
	BytesReceived       atomic.Uint64

	FramesForwarded   atomic.Uint64
	ForwardFailures   atomic.Uint64
	ForwardRejections atomic.Uint64
	ForwardRetries    atomic.Uint64
	FramesMalformed   atomic.Uint64
	BytesDiscarded    atomic.Uint64
	BufferOverflows   atomic.Uint64
	QueueFullDrops    atomic.Uint64
	AcksSent          atomic.Uint64
	AckFailures       atomic.Uint64

	framesParsed map[string]*atomic.Uint64

	descs map[string]*prometheus.Desc
}

// New creates Stats with a per-protocol frame counter for each name.
func New(protocols ...string) *Stats {
	s := &Stats{
		startedAt:    time.Now(),
		framesParsed: make(map[string]*atomic.Uint64, len(protocols)),
		descs:        make(map[string]*prometheus.Desc),
	}
	for _, p := range protocols {
		s.framesParsed[p] = new(atomic.Uint64)
	}

	for name, help := range counterHelp {
		s.descs[name] = prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil)
	}
	s.descs["connections_active"] = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "connections_active"),
		"Number of open device connections.", nil, nil)
	s.descs["frames_parsed_total"] = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "frames_parsed_total"),
		"Complete frames extracted, labeled by protocol.", []string{"protocol"}, nil)
	s.descs["uptime_seconds"] = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "uptime_seconds"),
		"Seconds since the gateway started.", nil, nil)
	return s
}

func (s *Stats) StartedAt() time.Time { return s.startedAt }

func (s *Stats) Uptime() time.Duration { return time.Since(s.startedAt) }

// FrameParsed counts one frame for protocol. Unknown protocols are ignored.
func (s *Stats) FrameParsed(protocol string) {
	if c, ok := s.framesParsed[protocol]; ok {
		c.Add(1)
	}
}

// ConnectionOpened and ConnectionClosed keep the active gauge balanced.
func (s *Stats) ConnectionOpened() {
	s.ConnectionsAccepted.Add(1)
	s.ConnectionsActive.Add(1)
}

func (s *Stats) ConnectionClosed() {
	s.ConnectionsClosed.Add(1)
	s.ConnectionsActive.Add(-1)
}

// Discarded records n bytes dropped outside any frame.
func (s *Stats) Discarded(n int) {
	if n > 0 {
		s.BytesDiscarded.Add(uint64(n))
	}
}

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	ConnectionsAccepted uint64            `json:"connections_accepted"`
	ConnectionsActive   int64             `json:"connections_active"`
	ConnectionsClosed   uint64            `json:"connections_closed"`
	DatagramsReceived   uint64            `json:"datagrams_received"`
	BytesReceived       uint64            `json:"bytes_received"`
	FramesParsed        map[string]uint64 `json:"frames_parsed"`
	FramesForwarded     uint64            `json:"frames_forwarded"`
	ForwardFailures     uint64            `json:"forward_failures"`
	ForwardRejections   uint64            `json:"forward_rejections"`
	ForwardRetries      uint64            `json:"forward_retries"`
	FramesMalformed     uint64            `json:"frames_malformed"`
	BytesDiscarded      uint64            `json:"bytes_discarded"`
	BufferOverflows     uint64            `json:"buffer_overflows"`
	QueueFullDrops      uint64            `json:"queue_full_drops"`
	AcksSent            uint64            `json:"acks_sent"`
	AckFailures         uint64            `json:"ack_failures"`
}

// TotalFramesParsed sums FramesParsed over every protocol.
func (s Snapshot) TotalFramesParsed() uint64 {
	var total uint64
	for _, n := range s.FramesParsed {
		total += n
	}
	return total
}

func (s *Stats) Snapshot() Snapshot {
	parsed := make(map[string]uint64, len(s.framesParsed))
	for p, c := range s.framesParsed {
		parsed[p] = c.Load()
	}
	return Snapshot{
		ConnectionsAccepted: s.ConnectionsAccepted.Load(),
		ConnectionsActive:   s.ConnectionsActive.Load(),
		ConnectionsClosed:   s.ConnectionsClosed.Load(),
		DatagramsReceived:   s.DatagramsReceived.Load(),
		BytesReceived:       s.BytesReceived.Load(),
		FramesParsed:        parsed,
		FramesForwarded:     s.FramesForwarded.Load(),
		ForwardFailures:     s.ForwardFailures.Load(),
		ForwardRejections:   s.ForwardRejections.Load(),
		ForwardRetries:      s.ForwardRetries.Load(),
		FramesMalformed:     s.FramesMalformed.Load(),
		BytesDiscarded:      s.BytesDiscarded.Load(),
		BufferOverflows:     s.BufferOverflows.Load(),
		QueueFullDrops:      s.QueueFullDrops.Load(),
		AcksSent:            s.AcksSent.Load(),
		AckFailures:         s.AckFailures.Load(),
	}
}

var counterHelp = map[string]string{
	"connections_accepted_total": "Device TCP connections accepted.",
	"connections_closed_total":   "Device TCP connections closed.",
	"datagrams_received_total":   "Device UDP datagrams received.",
	"bytes_received_total":       "Bytes read from device sockets.",
	"frames_forwarded_total":     "Frames accepted by the upstream sink.",
	"forward_failures_total":     "Frames dropped after exhausting forward retries.",
	"forward_rejections_total":   "Frames permanently rejected by the upstream sink.",
	"forward_retries_total":      "Forward attempts that were retried.",
	"frames_malformed_total":     "Frames that failed header validation.",
	"bytes_discarded_total":      "Bytes discarded outside any frame.",
	"buffer_overflows_total":     "Session buffers cleared for exceeding the frame size limit.",
	"queue_full_drops_total":     "Frames dropped because the forward queue was full.",
	"acks_sent_total":            "Acknowledgments written to devices.",
	"ack_failures_total":         "Acknowledgments that could not be written.",
}

func (s *Stats) counterValues(snap Snapshot) map[string]uint64 {
	return map[string]uint64{
		"connections_accepted_total": snap.ConnectionsAccepted,
		"connections_closed_total":   snap.ConnectionsClosed,
		"datagrams_received_total":   snap.DatagramsReceived,
		"bytes_received_total":       snap.BytesReceived,
		"frames_forwarded_total":     snap.FramesForwarded,
		"forward_failures_total":     snap.ForwardFailures,
		"forward_rejections_total":   snap.ForwardRejections,
		"forward_retries_total":      snap.ForwardRetries,
		"frames_malformed_total":     snap.FramesMalformed,
		"bytes_discarded_total":      snap.BytesDiscarded,
		"buffer_overflows_total":     snap.BufferOverflows,
		"queue_full_drops_total":     snap.QueueFullDrops,
		"acks_sent_total":            snap.AcksSent,
		"ack_failures_total":         snap.AckFailures,
	}
}

// Describe implements prometheus.Collector.
func (s *Stats) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range s.descs {
		ch <- d
	}
}

// Collect implements prometheus.Collector from a fresh snapshot.
func (s *Stats) Collect(ch chan<- prometheus.Metric) {
	snap := s.Snapshot()
	for name, v := range s.counterValues(snap) {
		ch <- prometheus.MustNewConstMetric(s.descs[name], prometheus.CounterValue, float64(v))
	}
	ch <- prometheus.MustNewConstMetric(s.descs["connections_active"], prometheus.GaugeValue, float64(snap.ConnectionsActive))
	ch <- prometheus.MustNewConstMetric(s.descs["uptime_seconds"], prometheus.GaugeValue, s.Uptime().Seconds())

	protocols := make([]string, 0, len(snap.FramesParsed))
	for p := range snap.FramesParsed {
		protocols = append(protocols, p)
	}
	sort.Strings(protocols)
	for _, p := range protocols {
		ch <- prometheus.MustNewConstMetric(s.descs["frames_parsed_total"], prometheus.CounterValue, float64(snap.FramesParsed[p]), p)
	}
}

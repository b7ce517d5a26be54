package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Namespace for all bridge metrics
const Namespace = "tritoncan"

// Metrics contains bridge-level metrics (not channel-specific)
type Metrics struct {
	// Channel metrics
	ChannelStatus  *prometheus.GaugeVec
	FramesReceived *prometheus.CounterVec
	FramesSent     *prometheus.CounterVec
	FramesIgnored  *prometheus.CounterVec
	DecodeErrors   *prometheus.CounterVec
	TransmitErrors *prometheus.CounterVec
	LastActivity   *prometheus.GaugeVec

	// NATS metrics
	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all bridge metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ChannelStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "channel",
				Name:      "status",
				Help:      "Channel status (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
			},
			[]string{"channel"},
		),
		FramesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "channel",
				Name:      "frames_received_total",
				Help:      "Total frames read from the bus",
			},
			[]string{"channel"},
		),
		FramesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "channel",
				Name:      "frames_sent_total",
				Help:      "Total frames transmitted on the bus",
			},
			[]string{"channel", "binding"},
		),
		FramesIgnored: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "channel",
				Name:      "frames_ignored_total",
				Help:      "Frames with no registered decoder",
			},
			[]string{"channel"},
		),
		DecodeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "channel",
				Name:      "decode_errors_total",
				Help:      "Frames that matched a decoder but failed to decode",
			},
			[]string{"channel"},
		),
		TransmitErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "channel",
				Name:      "transmit_errors_total",
				Help:      "Bus write failures",
			},
			[]string{"channel", "binding"},
		),
		LastActivity: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "channel",
				Name:      "last_activity_timestamp",
				Help:      "Unix timestamp of the last received frame",
			},
			[]string{"channel"},
		),
		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "nats",
				Name:      "connected",
				Help:      "Whether the NATS connection is up (0 or 1)",
			},
		),
		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total NATS reconnections",
			},
		),
	}
}

// collectors returns all core metrics for registration
func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ChannelStatus,
		m.FramesReceived,
		m.FramesSent,
		m.FramesIgnored,
		m.DecodeErrors,
		m.TransmitErrors,
		m.LastActivity,
		m.NATSConnected,
		m.NATSReconnects,
	}
}

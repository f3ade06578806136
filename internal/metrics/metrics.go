// Package metrics holds the prometheus collectors for the ingestion pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "lorawan_analyzer"

// Drop reasons
const (
	DropUnknownTopic = "unknown_topic"
	DropDecodeError  = "decode_error"
	DropIgnored      = "ignored"
)

// Metrics contains the pipeline collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	MessagesReceived *prometheus.CounterVec
	MessagesDropped  *prometheus.CounterVec
	PacketsRouted    *prometheus.CounterVec
	LocationsRouted  prometheus.Counter
	MetadataRouted   prometheus.Counter
	ConsumerErrors   *prometheus.CounterVec
	DecodeDuration   *prometheus.HistogramVec
	SinkWrites       *prometheus.CounterVec

	MQTTConnected  prometheus.Gauge
	MQTTReconnects prometheus.Counter
}

// NewMetrics creates the collectors. Call Register to expose them.
func NewMetrics() *Metrics {
	return &Metrics{
		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "received_total",
				Help:      "Transport messages received by event kind",
			},
			[]string{"kind"},
		),

		MessagesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "dropped_total",
				Help:      "Transport messages dropped before reaching consumers",
			},
			[]string{"reason"},
		),

		PacketsRouted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "packets",
				Name:      "routed_total",
				Help:      "Packets delivered to packet consumers",
			},
			[]string{"packet_type"},
		),

		LocationsRouted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "locations",
				Name:      "routed_total",
				Help:      "Gateway locations delivered to location consumers",
			},
		),

		MetadataRouted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "metadata",
				Name:      "routed_total",
				Help:      "Device metadata records delivered to metadata consumers",
			},
		),

		ConsumerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "consumers",
				Name:      "errors_total",
				Help:      "Consumer failures, including recovered panics",
			},
			[]string{"consumer"},
		),

		DecodeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "decode",
				Name:      "duration_seconds",
				Help:      "Time spent decoding a single message",
				Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01},
			},
			[]string{"kind"},
		),

		SinkWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sink",
				Name:      "writes_total",
				Help:      "Sink writes by sink and outcome",
			},
			[]string{"sink", "status"},
		),

		MQTTConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "mqtt",
				Name:      "connected",
				Help:      "MQTT connection status (0=disconnected, 1=connected)",
			},
		),

		MQTTReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "mqtt",
				Name:      "reconnects_total",
				Help:      "MQTT connections re-established after a loss",
			},
		),
	}
}

// Register adds every collector to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.MessagesReceived,
		m.MessagesDropped,
		m.PacketsRouted,
		m.LocationsRouted,
		m.MetadataRouted,
		m.ConsumerErrors,
		m.DecodeDuration,
		m.SinkWrites,
		m.MQTTConnected,
		m.MQTTReconnects,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// RegisterGauge exposes a value sampled at scrape time, such as the number
// of open sessions.
func RegisterGauge(reg prometheus.Registerer, subsystem, name, help string, fn func() float64) error {
	return reg.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		fn,
	))
}

// RecordMessageReceived increments the received counter
func (m *Metrics) RecordMessageReceived(kind string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(kind).Inc()
}

// RecordDropped increments the drop counter for reason
func (m *Metrics) RecordDropped(reason string) {
	if m == nil {
		return
	}
	m.MessagesDropped.WithLabelValues(reason).Inc()
}

// RecordPacket counts a packet handed to consumers
func (m *Metrics) RecordPacket(packetType string) {
	if m == nil {
		return
	}
	m.PacketsRouted.WithLabelValues(packetType).Inc()
}

// RecordLocations counts delivered gateway locations
func (m *Metrics) RecordLocations(n int) {
	if m == nil {
		return
	}
	m.LocationsRouted.Add(float64(n))
}

// RecordMetadata counts a delivered metadata record
func (m *Metrics) RecordMetadata() {
	if m == nil {
		return
	}
	m.MetadataRouted.Inc()
}

// RecordConsumerError counts a failed or panicking consumer
func (m *Metrics) RecordConsumerError(consumer string) {
	if m == nil {
		return
	}
	m.ConsumerErrors.WithLabelValues(consumer).Inc()
}

// RecordDecodeDuration observes decode time for kind
func (m *Metrics) RecordDecodeDuration(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.DecodeDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordSinkWrite counts a sink write. err == nil counts as ok.
func (m *Metrics) RecordSinkWrite(sink string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.SinkWrites.WithLabelValues(sink, status).Inc()
}

// RecordMQTTStatus updates the connection gauge
func (m *Metrics) RecordMQTTStatus(connected bool) {
	if m == nil {
		return
	}
	value := 0.0
	if connected {
		value = 1.0
	}
	m.MQTTConnected.Set(value)
}

// RecordMQTTReconnect increments the reconnect counter
func (m *Metrics) RecordMQTTReconnect() {
	if m == nil {
		return
	}
	m.MQTTReconnects.Inc()
}

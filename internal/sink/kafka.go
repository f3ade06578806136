package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/lorawan-server/lorawan-analyzer/internal/metrics"
	"github.com/lorawan-server/lorawan-analyzer/internal/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher exports packets as JSON. Packets of one device share a key
// and therefore a partition.
type KafkaPublisher struct {
	writer  messageWriter
	metrics *metrics.Metrics
}

// NewKafkaPublisher creates a hash-balanced writer for topic.
func NewKafkaPublisher(brokers []string, topic string, m *metrics.Metrics) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchSize:    100,
			RequiredAcks: kafka.RequireOne,
		},
		metrics: m,
	}
}

// ConsumePacket publishes p
func (k *KafkaPublisher) ConsumePacket(ctx context.Context, p *models.Packet) error {
	value, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal packet: %w", err)
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(packetKey(p)),
		Value: value,
		Time:  p.Timestamp,
		Headers: []kafka.Header{
			{Key: "packet_type", Value: []byte(p.PacketType)},
			{Key: "gateway_id", Value: []byte(p.GatewayID)},
		},
	})
	k.metrics.RecordSinkWrite("kafka", err)
	return err
}

// Close flushes pending messages
func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}

// packetKey is the device identity when there is one, the gateway otherwise.
func packetKey(p *models.Packet) string {
	switch {
	case p.DevAddr != "":
		return p.DevAddr
	case p.DevEUI != "":
		return p.DevEUI
	default:
		return p.GatewayID
	}
}

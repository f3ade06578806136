package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lorawan-server/lorawan-analyzer/internal/metrics"
	"github.com/lorawan-server/lorawan-analyzer/internal/models"
)

// Publisher is satisfied by *nats.Conn
type Publisher interface {
	Publish(subject string, data []byte) error
	Flush() error
}

// NATSPublisher fans packets out on <prefix>.<gateway_id>.<packet_type>.
type NATSPublisher struct {
	conn    Publisher
	prefix  string
	metrics *metrics.Metrics
}

func NewNATSPublisher(conn Publisher, prefix string, m *metrics.Metrics) *NATSPublisher {
	return &NATSPublisher{
		conn:    conn,
		prefix:  strings.TrimSuffix(prefix, "."),
		metrics: m,
	}
}

// ConsumePacket publishes p
func (n *NATSPublisher) ConsumePacket(ctx context.Context, p *models.Packet) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal packet: %w", err)
	}
	err = n.conn.Publish(n.Subject(p), data)
	n.metrics.RecordSinkWrite("nats", err)
	return err
}

// Subject returns the subject p is published on
func (n *NATSPublisher) Subject(p *models.Packet) string {
	gw := subjectToken(p.GatewayID)
	if gw == "" {
		gw = "unknown"
	}
	return n.prefix + "." + gw + "." + string(p.PacketType)
}

// Flush waits for buffered publishes to reach the server
func (n *NATSPublisher) Flush() error {
	return n.conn.Flush()
}

// subjectToken strips characters that have meaning in a NATS subject.
func subjectToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, s)
}

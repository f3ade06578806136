// Package sink contains the packet, location and metadata consumers that
// move routed data out of the process.
package sink

import (
	"context"
	"strconv"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/lorawan-server/lorawan-analyzer/internal/metrics"
	"github.com/lorawan-server/lorawan-analyzer/internal/models"
)

const packetMeasurement = "packets"

type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxWriter stores every packet as a point in the packets measurement.
type InfluxWriter struct {
	client  influxdb2.Client
	writer  pointWriter
	metrics *metrics.Metrics
}

// NewInfluxWriter connects a blocking write API to org/bucket.
func NewInfluxWriter(url, token, org, bucket string, m *metrics.Metrics) *InfluxWriter {
	client := influxdb2.NewClient(url, token)
	return &InfluxWriter{
		client:  client,
		writer:  client.WriteAPIBlocking(org, bucket),
		metrics: m,
	}
}

// ConsumePacket writes p
func (w *InfluxWriter) ConsumePacket(ctx context.Context, p *models.Packet) error {
	err := w.writer.WritePoint(ctx, buildPoint(p))
	w.metrics.RecordSinkWrite("influxdb", err)
	return err
}

// Close releases the client
func (w *InfluxWriter) Close() {
	if w != nil && w.client != nil {
		w.client.Close()
	}
}

// buildPoint keeps low-cardinality values as tags. Device identifiers are
// fields so that the series count stays bounded by gateways and operators.
func buildPoint(p *models.Packet) *write.Point {
	tags := map[string]string{
		"gateway_id":  p.GatewayID,
		"packet_type": string(p.PacketType),
		"operator":    p.Operator,
	}
	if p.SpreadingFactor != nil {
		tags["spreading_factor"] = sfTag(*p.SpreadingFactor)
	}

	fields := map[string]interface{}{
		"frequency":    int64(p.Frequency),
		"bandwidth":    int64(p.Bandwidth),
		"rssi":         int64(p.RSSI),
		"snr":          p.SNR,
		"payload_size": int64(p.PayloadSize),
		"airtime_us":   int64(p.AirtimeUS),
	}
	if p.DevAddr != "" {
		fields["dev_addr"] = p.DevAddr
	}
	if p.JoinEUI != "" {
		fields["join_eui"] = p.JoinEUI
	}
	if p.DevEUI != "" {
		fields["dev_eui"] = p.DevEUI
	}
	if p.FCnt != nil {
		fields["f_cnt"] = int64(*p.FCnt)
	}
	if p.DownlinkID != nil {
		fields["downlink_id"] = int64(*p.DownlinkID)
	}
	if p.FPort != nil {
		fields["f_port"] = int64(*p.FPort)
	}
	if p.Confirmed != nil {
		fields["confirmed"] = *p.Confirmed
	}
	if p.SessionID != "" {
		fields["session_id"] = p.SessionID
	}
	if p.GatewayName != "" {
		fields["gateway_name"] = p.GatewayName
	}

	return write.NewPoint(packetMeasurement, tags, fields, p.Timestamp)
}

func sfTag(sf uint32) string {
	return "SF" + strconv.FormatUint(uint64(sf), 10)
}

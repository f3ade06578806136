package sink

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-analyzer/internal/models"
)

// LogConsumer writes a one line summary for every packet.
type LogConsumer struct {
	logger zerolog.Logger
	level  zerolog.Level
}

// NewLogConsumer logs through the global logger at level.
func NewLogConsumer(level zerolog.Level) *LogConsumer {
	return &LogConsumer{logger: log.Logger, level: level}
}

func (l *LogConsumer) ConsumePacket(ctx context.Context, p *models.Packet) error {
	e := l.logger.WithLevel(l.level)
	if e == nil {
		return nil
	}
	e = e.Str("gateway", p.GatewayID)

	switch p.PacketType {
	case models.PacketTypeData:
		e = e.Str("devAddr", p.DevAddr)
		if p.FCnt != nil {
			e = e.Uint32("fCnt", *p.FCnt)
		}
		if p.FPort != nil {
			e = e.Uint8("fPort", *p.FPort)
		}
		radio(e, p).
			Int32("rssi", p.RSSI).
			Float64("snr", p.SNR).
			Float64("airtimeMs", airtimeMs(p)).
			Msg("Uplink")

	case models.PacketTypeJoin:
		e = e.Str("joinEui", p.JoinEUI).Str("devEui", p.DevEUI)
		radio(e, p).
			Int32("rssi", p.RSSI).
			Float64("snr", p.SNR).
			Msg("Join request")

	case models.PacketTypeDownlink:
		e = e.Str("devAddr", p.DevAddr)
		if p.FCnt != nil {
			e = e.Uint32("fCnt", *p.FCnt)
		}
		if p.DownlinkID != nil {
			e = e.Uint32("downlinkId", *p.DownlinkID)
		}
		radio(e, p).
			Uint32("frequency", p.Frequency).
			Float64("airtimeMs", airtimeMs(p)).
			Msg("Downlink")

	case models.PacketTypeTxAck:
		if p.DownlinkID != nil {
			e = e.Uint32("downlinkId", *p.DownlinkID)
		}
		e.Str("status", p.Operator).Msg("Tx ack")

	default:
		e.Str("type", string(p.PacketType)).Msg("Packet")
	}
	return nil
}

func radio(e *zerolog.Event, p *models.Packet) *zerolog.Event {
	e = e.Str("operator", p.Operator)
	if p.SpreadingFactor != nil {
		e = e.Uint32("sf", *p.SpreadingFactor)
	}
	if p.GatewayName != "" {
		e = e.Str("gatewayName", p.GatewayName)
	}
	return e
}

func airtimeMs(p *models.Packet) float64 {
	return float64(p.AirtimeUS) / 1000
}

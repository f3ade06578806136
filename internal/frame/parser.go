// Package frame turns gateway-bridge events into canonical packets.
//
// Every event kind has a binary (protobuf) and a JSON parser. Both decode
// into the same intermediate form and share one builder, so the derived
// fields (packet type, airtime) are computed by the same code on both paths.
package frame

import (
	"errors"
	"fmt"
	"time"

	"github.com/lorawan-server/lorawan-analyzer/internal/models"
	"github.com/lorawan-server/lorawan-analyzer/pkg/lorawan"
)

var (
	ErrEmptyPayload = errors.New("frame: empty phy payload")
	ErrUnknownEvent = errors.New("frame: unknown event kind")
)

// ParseUplinkBinary parses a protobuf gw.UplinkFrame.
func ParseUplinkBinary(payload []byte, ts time.Time) (*models.Packet, error) {
	u, err := decodeUplinkFrame(payload)
	if err != nil {
		return nil, fmt.Errorf("decode uplink frame: %w", err)
	}
	return buildUplink(u, ts)
}

// ParseUplinkJSON parses a JSON gw.UplinkFrame.
func ParseUplinkJSON(payload []byte, ts time.Time) (*models.Packet, error) {
	u, err := parseJSONUplink(payload)
	if err != nil {
		return nil, err
	}
	return buildUplink(u, ts)
}

// ParseDownlinkBinary parses a protobuf gw.DownlinkFrame. gatewayID is the
// id taken from the topic; the payload id is used only when it is empty.
func ParseDownlinkBinary(payload []byte, ts time.Time, gatewayID string) (*models.Packet, error) {
	df, err := decodeDownlinkFrame(payload)
	if err != nil {
		return nil, fmt.Errorf("decode downlink frame: %w", err)
	}
	return buildDownlink(df, ts, gatewayID)
}

// ParseDownlinkJSON parses a JSON gw.DownlinkFrame.
func ParseDownlinkJSON(payload []byte, ts time.Time, gatewayID string) (*models.Packet, error) {
	df, err := parseJSONDownlink(payload)
	if err != nil {
		return nil, err
	}
	return buildDownlink(df, ts, gatewayID)
}

// ParseTxAckBinary parses a protobuf gw.DownlinkTxAck.
func ParseTxAckBinary(payload []byte, ts time.Time, gatewayID string) (*models.Packet, error) {
	ack, err := decodeTxAck(payload)
	if err != nil {
		return nil, fmt.Errorf("decode tx ack: %w", err)
	}
	return buildTxAck(ack, ts, gatewayID), nil
}

// ParseTxAckJSON parses a JSON gw.DownlinkTxAck.
func ParseTxAckJSON(payload []byte, ts time.Time, gatewayID string) (*models.Packet, error) {
	ack, err := parseJSONTxAck(payload)
	if err != nil {
		return nil, err
	}
	return buildTxAck(ack, ts, gatewayID), nil
}

func buildUplink(u uplinkFrame, ts time.Time) (*models.Packet, error) {
	if len(u.PhyPayload) == 0 {
		return nil, ErrEmptyPayload
	}
	info, err := lorawan.ParseFrame(u.PhyPayload)
	if err != nil {
		return nil, fmt.Errorf("parse phy payload: %w", err)
	}

	p := &models.Packet{
		Timestamp:   ts,
		GatewayID:   u.Rx.GatewayID,
		RSSI:        u.Rx.RSSI,
		SNR:         u.Rx.SNR,
		PayloadSize: uint32(len(u.PhyPayload)),
	}
	applyRadio(p, u.Tx)
	applyFrameInfo(p, info)

	if p.JoinEUI != "" && p.DevEUI != "" && p.DevAddr == "" {
		p.PacketType = models.PacketTypeJoin
	} else {
		p.PacketType = models.PacketTypeData
	}
	return p, nil
}

func buildDownlink(df downlinkFrame, ts time.Time, gatewayID string) (*models.Packet, error) {
	if !df.HasItem || len(df.PhyPayload) == 0 {
		return nil, ErrEmptyPayload
	}
	info, err := lorawan.ParseFrame(df.PhyPayload)
	if err != nil {
		return nil, fmt.Errorf("parse phy payload: %w", err)
	}

	id := df.DownlinkID
	p := &models.Packet{
		Timestamp:   ts,
		GatewayID:   pickGateway(gatewayID, df.GatewayID),
		PacketType:  models.PacketTypeDownlink,
		PayloadSize: uint32(len(df.PhyPayload)),
		DownlinkID:  &id,
	}
	applyRadio(p, df.Tx)
	applyFrameInfo(p, info)
	return p, nil
}

func buildTxAck(ack txAck, ts time.Time, gatewayID string) *models.Packet {
	id := ack.DownlinkID
	return &models.Packet{
		Timestamp:  ts,
		GatewayID:  pickGateway(gatewayID, ack.GatewayID),
		PacketType: models.PacketTypeTxAck,
		Operator:   ackStatus(ack.Statuses).String(),
		FCnt:       &id,
		DownlinkID: &id,
	}
}

// ackStatus reports the first item the gateway actually attempted. Items
// after a transmitted one are IGNORED and say nothing about the outcome.
// An ack without items is OK, one with only IGNORED items is IGNORED.
func ackStatus(statuses []TxAckStatus) TxAckStatus {
	if len(statuses) == 0 {
		return StatusOK
	}
	for _, s := range statuses {
		if s != StatusIgnored {
			return s
		}
	}
	return StatusIgnored
}

func pickGateway(fromTopic, fromPayload string) string {
	if fromTopic != "" {
		return fromTopic
	}
	return fromPayload
}

func applyRadio(p *models.Packet, r radio) {
	p.Frequency = r.Frequency
	p.Bandwidth = r.Bandwidth
	if r.SF == nil {
		return
	}
	sf := *r.SF
	p.SpreadingFactor = &sf
	if us, err := lorawan.Airtime(int(p.PayloadSize), sf, r.Bandwidth, r.CodeRate); err == nil {
		p.AirtimeUS = us
	}
}

func applyFrameInfo(p *models.Packet, info *lorawan.FrameInfo) {
	if info.DevAddr != nil {
		p.DevAddr = info.DevAddr.String()
	}
	if info.JoinEUI != nil {
		p.JoinEUI = info.JoinEUI.String()
	}
	if info.DevEUI != nil {
		p.DevEUI = info.DevEUI.String()
	}
	p.FCnt = info.FCnt
	p.FPort = info.FPort
	p.Confirmed = info.Confirmed
}

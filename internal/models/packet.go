package models

import "time"

// PacketType tags the kind of radio event a Packet describes
type PacketType string

const (
	PacketTypeData     PacketType = "data"
	PacketTypeJoin     PacketType = "join"
	PacketTypeDownlink PacketType = "downlink"
	PacketTypeTxAck    PacketType = "tx_ack"
)

// Packet is the canonical record produced for every decoded gateway event.
//
// For tx_ack packets Operator carries the acknowledgement status name and
// FCnt carries the downlink id. Downlink and tx_ack packets both set
// DownlinkID, which joins an ack to the downlink it acknowledges.
type Packet struct {
	Timestamp       time.Time  `json:"timestamp" db:"timestamp"`
	GatewayID       string     `json:"gateway_id" db:"gateway_id"`
	GatewayName     string     `json:"gateway_name,omitempty" db:"gateway_name"`
	PacketType      PacketType `json:"packet_type" db:"packet_type"`
	DevAddr         string     `json:"dev_addr,omitempty" db:"dev_addr"`
	JoinEUI         string     `json:"join_eui,omitempty" db:"join_eui"`
	DevEUI          string     `json:"dev_eui,omitempty" db:"dev_eui"`
	Operator        string     `json:"operator" db:"operator"`
	Frequency       uint32     `json:"frequency" db:"frequency"`
	Bandwidth       uint32     `json:"bandwidth" db:"bandwidth"`
	SpreadingFactor *uint32    `json:"spreading_factor,omitempty" db:"spreading_factor"`
	RSSI            int32      `json:"rssi" db:"rssi"`
	SNR             float64    `json:"snr" db:"snr"`
	PayloadSize     uint32     `json:"payload_size" db:"payload_size"`
	AirtimeUS       uint32     `json:"airtime_us" db:"airtime_us"`
	FCnt            *uint32    `json:"f_cnt,omitempty" db:"f_cnt"`
	FPort           *uint8     `json:"f_port,omitempty" db:"f_port"`
	Confirmed       *bool      `json:"confirmed,omitempty" db:"confirmed"`
	DownlinkID      *uint32    `json:"downlink_id,omitempty" db:"downlink_id"`
	SessionID       string     `json:"session_id,omitempty" db:"session_id"`
}

// IsUplink reports whether the packet was transmitted by a device.
func (p *Packet) IsUplink() bool {
	return p.PacketType == PacketTypeData || p.PacketType == PacketTypeJoin
}

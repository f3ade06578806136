package frame

import (
	"fmt"
	"strings"
	"time"

	"github.com/lorawan-server/lorawan-analyzer/internal/models"
)

// Format is the payload encoding used by the bridge
type Format string

const (
	FormatProtobuf Format = "protobuf"
	FormatJSON     Format = "json"
)

// ParseFormat accepts the configured format name.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatProtobuf:
		return FormatProtobuf, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported payload format %q", s)
	}
}

// EventDecoder decodes the three gateway event kinds in one format.
type EventDecoder interface {
	Format() Format
	DecodeUplink(payload []byte, ts time.Time) (*models.Packet, error)
	DecodeDownlink(payload []byte, ts time.Time, gatewayID string) (*models.Packet, error)
	DecodeTxAck(payload []byte, ts time.Time, gatewayID string) (*models.Packet, error)
}

// ProtobufDecoder decodes binary events
type ProtobufDecoder struct{}

func (ProtobufDecoder) Format() Format { return FormatProtobuf }

func (ProtobufDecoder) DecodeUplink(payload []byte, ts time.Time) (*models.Packet, error) {
	return ParseUplinkBinary(payload, ts)
}

func (ProtobufDecoder) DecodeDownlink(payload []byte, ts time.Time, gatewayID string) (*models.Packet, error) {
	return ParseDownlinkBinary(payload, ts, gatewayID)
}

func (ProtobufDecoder) DecodeTxAck(payload []byte, ts time.Time, gatewayID string) (*models.Packet, error) {
	return ParseTxAckBinary(payload, ts, gatewayID)
}

// JSONDecoder decodes JSON events
type JSONDecoder struct{}

func (JSONDecoder) Format() Format { return FormatJSON }

func (JSONDecoder) DecodeUplink(payload []byte, ts time.Time) (*models.Packet, error) {
	return ParseUplinkJSON(payload, ts)
}

func (JSONDecoder) DecodeDownlink(payload []byte, ts time.Time, gatewayID string) (*models.Packet, error) {
	return ParseDownlinkJSON(payload, ts, gatewayID)
}

func (JSONDecoder) DecodeTxAck(payload []byte, ts time.Time, gatewayID string) (*models.Packet, error) {
	return ParseTxAckJSON(payload, ts, gatewayID)
}

// NewEventDecoder returns the decoder for f.
func NewEventDecoder(f Format) (EventDecoder, error) {
	switch f {
	case FormatProtobuf:
		return ProtobufDecoder{}, nil
	case FormatJSON:
		return JSONDecoder{}, nil
	default:
		return nil, fmt.Errorf("unsupported payload format %q", f)
	}
}

// EventKind is the gateway event carried by a message
type EventKind int

const (
	KindUnknown EventKind = iota
	KindUplink
	KindDownlink
	KindTxAck
	KindStats
)

func (k EventKind) String() string {
	switch k {
	case KindUplink:
		return "up"
	case KindDownlink:
		return "down"
	case KindTxAck:
		return "ack"
	case KindStats:
		return "stats"
	default:
		return "unknown"
	}
}

func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Decode dispatches payload to the parser for kind. Kinds without a
// parser return ErrUnknownEvent.
func Decode(d EventDecoder, kind EventKind, payload []byte, ts time.Time, gatewayID string) (*models.Packet, error) {
	switch kind {
	case KindUplink:
		p, err := d.DecodeUplink(payload, ts)
		if err != nil {
			return nil, err
		}
		if p.GatewayID == "" {
			p.GatewayID = gatewayID
		}
		return p, nil
	case KindDownlink:
		return d.DecodeDownlink(payload, ts, gatewayID)
	case KindTxAck:
		return d.DecodeTxAck(payload, ts, gatewayID)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, kind)
	}
}

package frame

import (
	"errors"

	"github.com/lorawan-server/lorawan-analyzer/internal/wire"
	"github.com/lorawan-server/lorawan-analyzer/pkg/lorawan"
)

// Location is a common.Location
type Location struct {
	Latitude  float64
	Longitude float64
	Altitude  float64
}

// RxInfo is the subset of gw.UplinkRxInfo the analyzer uses.
type RxInfo struct {
	GatewayID string
	RSSI      int32
	SNR       float64
	Location  *Location
	Metadata  map[string]string
}

type radio struct {
	Frequency uint32
	Bandwidth uint32
	SF        *uint32
	CodeRate  lorawan.CodeRate
}

type uplinkFrame struct {
	PhyPayload []byte
	Tx         radio
	Rx         RxInfo
}

type downlinkFrame struct {
	DownlinkID uint32
	GatewayID  string
	PhyPayload []byte
	Tx         radio
	HasItem    bool
}

type txAck struct {
	DownlinkID uint32
	GatewayID  string
	Statuses   []TxAckStatus
}

// stopErr turns the reason a decoder stopped into the error reported for
// the message. A group ends the message without failing it.
func stopErr(d *wire.Decoder) error {
	err := d.Err()
	if errors.Is(err, wire.ErrGroupUnsupported) {
		return nil
	}
	return err
}

func decodeUplinkFrame(buf []byte) (uplinkFrame, error) {
	var u uplinkFrame
	d := wire.NewDecoder(buf)
	for f, ok := d.Next(); ok; f, ok = d.Next() {
		if f.Type != wire.Bytes {
			continue
		}
		switch f.Number {
		case UplinkFramePhyPayload:
			u.PhyPayload = f.Bytes()
		case UplinkFrameTxInfo:
			u.Tx = decodeUplinkTxInfo(f.Bytes())
		case UplinkFrameRxInfo:
			u.Rx = DecodeRxInfo(f.Bytes())
		}
	}
	return u, stopErr(d)
}

func decodeUplinkTxInfo(buf []byte) radio {
	var r radio
	d := wire.NewDecoder(buf)
	for f, ok := d.Next(); ok; f, ok = d.Next() {
		switch {
		case f.Number == UplinkTxInfoFrequency && f.Type == wire.Varint:
			r.Frequency = f.Uint32()
		case f.Number == UplinkTxInfoModulation && f.Type == wire.Bytes:
			decodeModulation(f.Bytes(), &r)
		}
	}
	return r
}

// decodeModulation fills bandwidth, spreading factor and code rate from a
// gw.Modulation. Only the LoRa branch yields a spreading factor.
func decodeModulation(buf []byte, r *radio) {
	d := wire.NewDecoder(buf)
	for f, ok := d.Next(); ok; f, ok = d.Next() {
		if f.Type != wire.Bytes {
			continue
		}
		switch f.Number {
		case ModulationLoRa:
			decodeLoRa(f.Bytes(), r)
		case ModulationFSK, ModulationLRFHSS:
			r.Bandwidth = 0
			r.SF = nil
		}
	}
}

func decodeLoRa(buf []byte, r *radio) {
	var sf uint32
	d := wire.NewDecoder(buf)
	for f, ok := d.Next(); ok; f, ok = d.Next() {
		if f.Type != wire.Varint {
			continue
		}
		switch f.Number {
		case LoRaBandwidth:
			r.Bandwidth = f.Uint32()
		case LoRaSpreadingFactor:
			sf = f.Uint32()
		case LoRaCodeRate:
			r.CodeRate = lorawan.CodeRate(f.Uint32())
		}
	}
	r.SF = &sf
}

// DecodeRxInfo decodes a gw.UplinkRxInfo. Decoding errors inside the
// message are not reported; fields read before the error are kept.
func DecodeRxInfo(buf []byte) RxInfo {
	var rx RxInfo
	d := wire.NewDecoder(buf)
	for f, ok := d.Next(); ok; f, ok = d.Next() {
		switch {
		case f.Number == RxInfoGatewayID && f.Type == wire.Bytes:
			rx.GatewayID = f.String()
		case f.Number == RxInfoRSSI && f.Type == wire.Varint:
			rx.RSSI = int32(f.Int64())
		case f.Number == RxInfoSNR && f.Type == wire.Fixed32:
			rx.SNR = float64(f.Float())
		case f.Number == RxInfoLocation && f.Type == wire.Bytes:
			loc := decodeLocation(f.Bytes())
			rx.Location = &loc
		case f.Number == RxInfoMetadata && f.Type == wire.Bytes:
			k, v := decodeMapEntry(f.Bytes())
			if k == "" {
				continue
			}
			if rx.Metadata == nil {
				rx.Metadata = make(map[string]string)
			}
			rx.Metadata[k] = v
		}
	}
	return rx
}

func decodeLocation(buf []byte) Location {
	var loc Location
	d := wire.NewDecoder(buf)
	for f, ok := d.Next(); ok; f, ok = d.Next() {
		if f.Type != wire.Fixed64 {
			continue
		}
		switch f.Number {
		case LocationLatitude:
			loc.Latitude = f.Double()
		case LocationLongitude:
			loc.Longitude = f.Double()
		case LocationAltitude:
			loc.Altitude = f.Double()
		}
	}
	return loc
}

func decodeMapEntry(buf []byte) (key, value string) {
	d := wire.NewDecoder(buf)
	for f, ok := d.Next(); ok; f, ok = d.Next() {
		if f.Type != wire.Bytes {
			continue
		}
		switch f.Number {
		case MapEntryKey:
			key = f.String()
		case MapEntryValue:
			value = f.String()
		}
	}
	return key, value
}

// decodeDownlinkFrame keeps the first item; later items are alternative
// transmit opportunities for the same frame.
func decodeDownlinkFrame(buf []byte) (downlinkFrame, error) {
	var df downlinkFrame
	d := wire.NewDecoder(buf)
	for f, ok := d.Next(); ok; f, ok = d.Next() {
		switch {
		case f.Number == DownlinkFrameDownlinkID && f.Type == wire.Varint:
			df.DownlinkID = f.Uint32()
		case f.Number == DownlinkFrameGatewayID && f.Type == wire.Bytes:
			df.GatewayID = f.String()
		case f.Number == DownlinkFrameItems && f.Type == wire.Bytes:
			if df.HasItem {
				continue
			}
			df.HasItem = true
			decodeDownlinkItem(f.Bytes(), &df)
		}
	}
	return df, stopErr(d)
}

func decodeDownlinkItem(buf []byte, df *downlinkFrame) {
	d := wire.NewDecoder(buf)
	for f, ok := d.Next(); ok; f, ok = d.Next() {
		if f.Type != wire.Bytes {
			continue
		}
		switch f.Number {
		case DownlinkItemPhyPayload:
			df.PhyPayload = f.Bytes()
		case DownlinkItemTxInfo:
			decodeDownlinkTxInfo(f.Bytes(), df)
		}
	}
}

func decodeDownlinkTxInfo(buf []byte, df *downlinkFrame) {
	d := wire.NewDecoder(buf)
	for f, ok := d.Next(); ok; f, ok = d.Next() {
		switch {
		case f.Number == DownlinkTxInfoFrequency && f.Type == wire.Varint:
			df.Tx.Frequency = f.Uint32()
		case f.Number == DownlinkTxInfoModulation && f.Type == wire.Bytes:
			decodeModulation(f.Bytes(), &df.Tx)
		}
	}
}

func decodeTxAck(buf []byte) (txAck, error) {
	var ack txAck
	d := wire.NewDecoder(buf)
	for f, ok := d.Next(); ok; f, ok = d.Next() {
		switch {
		case f.Number == TxAckDownlinkID && f.Type == wire.Varint:
			ack.DownlinkID = f.Uint32()
		case f.Number == TxAckGatewayID && f.Type == wire.Bytes:
			ack.GatewayID = f.String()
		case f.Number == TxAckItems && f.Type == wire.Bytes:
			ack.Statuses = append(ack.Statuses, decodeTxAckItem(f.Bytes()))
		}
	}
	return ack, stopErr(d)
}

// decodeTxAckItem returns IGNORED when the status field is absent, the
// proto3 default.
func decodeTxAckItem(buf []byte) TxAckStatus {
	var s TxAckStatus
	d := wire.NewDecoder(buf)
	for f, ok := d.Next(); ok; f, ok = d.Next() {
		if f.Number == TxAckItemStatus && f.Type == wire.Varint {
			s = TxAckStatus(f.Uint32())
		}
	}
	return s
}

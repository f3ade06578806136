package lorawan

import (
	"errors"
	"fmt"
)

const (
	mhdrLen     = 1
	micLen      = 4
	fhdrMinLen  = 7
	joinReqLen  = 18
	minPHYBytes = mhdrLen + micLen
)

// ErrShortPayload is returned for a PHYPayload that cannot hold its header.
var ErrShortPayload = errors.New("lorawan: payload too short")

// UnmarshalBinary splits data into MHDR, MACPayload and MIC.
func (p *PHYPayload) UnmarshalBinary(data []byte) error {
	if len(data) < minPHYBytes {
		return fmt.Errorf("%w: PHYPayload %d bytes", ErrShortPayload, len(data))
	}

	p.MHDR.MType = MType((data[0] >> 5) & 0x07)
	p.MHDR.Major = Major(data[0] & 0x03)
	p.MACPayload = data[mhdrLen : len(data)-micLen]
	copy(p.MIC[:], data[len(data)-micLen:])

	return nil
}

// Unmarshal unmarshals MACPayload. DevAddr is converted from the
// little-endian wire order to display order.
func (m *MACPayload) Unmarshal(data []byte, isUplink bool) error {
	if len(data) < fhdrMinLen {
		return fmt.Errorf("%w: MACPayload %d bytes", ErrShortPayload, len(data))
	}

	pos := 0
	m.FHDR.DevAddr = DevAddr{data[3], data[2], data[1], data[0]}
	pos += 4

	fctrl := data[pos]
	m.FHDR.FCtrl.ADR = (fctrl & 0x80) != 0
	if isUplink {
		m.FHDR.FCtrl.ADRACKReq = (fctrl & 0x40) != 0
		m.FHDR.FCtrl.ACK = (fctrl & 0x20) != 0
		m.FHDR.FCtrl.ClassB = (fctrl & 0x10) != 0
	} else {
		m.FHDR.FCtrl.ACK = (fctrl & 0x20) != 0
		m.FHDR.FCtrl.FPending = (fctrl & 0x10) != 0
	}
	foptsLen := int(fctrl & 0x0F)
	pos++

	m.FHDR.FCnt = uint16(data[pos]) | uint16(data[pos+1])<<8
	pos += 2

	if foptsLen > 0 {
		if pos+foptsLen > len(data) {
			return fmt.Errorf("invalid FOpts length %d", foptsLen)
		}
		m.FHDR.FOpts = data[pos : pos+foptsLen]
		pos += foptsLen
	}

	if pos < len(data) {
		fport := data[pos]
		m.FPort = &fport
		pos++
		if pos < len(data) {
			m.FRMPayload = data[pos:]
		}
	}

	return nil
}

// UnmarshalBinary unmarshals a join request MACPayload, reversing both EUIs.
func (j *JoinRequestPayload) UnmarshalBinary(data []byte) error {
	if len(data) != joinReqLen {
		return fmt.Errorf("invalid JoinRequest length: expected %d, got %d", joinReqLen, len(data))
	}

	j.JoinEUI = reverseEUI64(data[0:8])
	j.DevEUI = reverseEUI64(data[8:16])
	j.DevNonce = uint16(data[16]) | uint16(data[17])<<8

	return nil
}

func reverseEUI64(b []byte) EUI64 {
	var e EUI64
	for i := range e {
		e[i] = b[len(e)-1-i]
	}
	return e
}

// FrameInfo is the subset of a PHYPayload the analyzer records.
type FrameInfo struct {
	MType     MType
	DevAddr   *DevAddr
	JoinEUI   *EUI64
	DevEUI    *EUI64
	FCnt      *uint32
	FPort     *uint8
	Confirmed *bool
}

// ParseFrame decodes the headers of a raw PHYPayload. Encrypted content is
// never touched. Message types without a parseable header return only the
// MType.
func ParseFrame(data []byte) (*FrameInfo, error) {
	var phy PHYPayload
	if err := phy.UnmarshalBinary(data); err != nil {
		return nil, err
	}

	info := &FrameInfo{MType: phy.MHDR.MType}

	switch {
	case phy.MHDR.MType == JoinRequest:
		var jr JoinRequestPayload
		if err := jr.UnmarshalBinary(phy.MACPayload); err != nil {
			return info, err
		}
		info.JoinEUI = &jr.JoinEUI
		info.DevEUI = &jr.DevEUI

	case phy.MHDR.MType.IsData():
		var mac MACPayload
		if err := mac.Unmarshal(phy.MACPayload, phy.MHDR.MType.IsUplink()); err != nil {
			return info, err
		}
		fcnt := uint32(mac.FHDR.FCnt)
		confirmed := phy.MHDR.MType.IsConfirmed()
		info.DevAddr = &mac.FHDR.DevAddr
		info.FCnt = &fcnt
		info.FPort = mac.FPort
		info.Confirmed = &confirmed
	}

	return info, nil
}

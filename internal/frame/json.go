package frame

import (
	"encoding/json"
	"fmt"

	"github.com/lorawan-server/lorawan-analyzer/pkg/lorawan"
)

// JSON mirrors of the gateway-bridge messages, using the protojson field
// names the bridge emits.

type jsonUplinkFrame struct {
	PhyPayload []byte      `json:"phyPayload"`
	TxInfo     *jsonTxInfo `json:"txInfo"`
	RxInfo     *JSONRxInfo `json:"rxInfo"`
}

type jsonTxInfo struct {
	Frequency  uint32          `json:"frequency"`
	Modulation *jsonModulation `json:"modulation"`
}

type jsonModulation struct {
	LoRa   *jsonLoRa       `json:"lora"`
	FSK    json.RawMessage `json:"fsk"`
	LRFHSS json.RawMessage `json:"lrFhss"`
}

type jsonLoRa struct {
	Bandwidth       uint32 `json:"bandwidth"`
	SpreadingFactor uint32 `json:"spreadingFactor"`
	CodeRate        string `json:"codeRate"`
}

// JSONRxInfo is the protojson form of gw.UplinkRxInfo.
type JSONRxInfo struct {
	GatewayID string            `json:"gatewayId"`
	RSSI      int32             `json:"rssi"`
	SNR       float64           `json:"snr"`
	Location  *JSONLocation     `json:"location"`
	Metadata  map[string]string `json:"metadata"`
}

// JSONLocation is the protojson form of common.Location.
type JSONLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
}

// RxInfo converts to the format-neutral form.
func (j *JSONRxInfo) RxInfo() RxInfo {
	rx := RxInfo{
		GatewayID: j.GatewayID,
		RSSI:      j.RSSI,
		SNR:       j.SNR,
		Metadata:  j.Metadata,
	}
	if j.Location != nil {
		rx.Location = &Location{
			Latitude:  j.Location.Latitude,
			Longitude: j.Location.Longitude,
			Altitude:  j.Location.Altitude,
		}
	}
	return rx
}

type jsonDownlinkFrame struct {
	DownlinkID uint32             `json:"downlinkId"`
	GatewayID  string             `json:"gatewayId"`
	Items      []jsonDownlinkItem `json:"items"`
}

type jsonDownlinkItem struct {
	PhyPayload []byte      `json:"phyPayload"`
	TxInfo     *jsonTxInfo `json:"txInfo"`
}

type jsonTxAck struct {
	DownlinkID uint32          `json:"downlinkId"`
	GatewayID  string          `json:"gatewayId"`
	Items      []jsonTxAckItem `json:"items"`
}

type jsonTxAckItem struct {
	Status jsonStatus `json:"status"`
}

// jsonStatus accepts the enum either by name or by number.
type jsonStatus TxAckStatus

func (s *jsonStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		st, ok := ParseTxAckStatus(name)
		if !ok {
			return fmt.Errorf("unknown tx ack status %q", name)
		}
		*s = jsonStatus(st)
		return nil
	}
	var n int32
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("tx ack status: %w", err)
	}
	*s = jsonStatus(n)
	return nil
}

func (t *jsonTxInfo) radio() radio {
	var r radio
	if t == nil {
		return r
	}
	r.Frequency = t.Frequency
	if t.Modulation != nil && t.Modulation.LoRa != nil {
		lora := t.Modulation.LoRa
		sf := lora.SpreadingFactor
		r.Bandwidth = lora.Bandwidth
		r.SF = &sf
		r.CodeRate = lorawan.ParseCodeRate(lora.CodeRate)
	}
	return r
}

func parseJSONUplink(payload []byte) (uplinkFrame, error) {
	var j jsonUplinkFrame
	if err := json.Unmarshal(payload, &j); err != nil {
		return uplinkFrame{}, fmt.Errorf("unmarshal uplink frame: %w", err)
	}
	u := uplinkFrame{
		PhyPayload: j.PhyPayload,
		Tx:         j.TxInfo.radio(),
	}
	if j.RxInfo != nil {
		u.Rx = j.RxInfo.RxInfo()
	}
	return u, nil
}

func parseJSONDownlink(payload []byte) (downlinkFrame, error) {
	var j jsonDownlinkFrame
	if err := json.Unmarshal(payload, &j); err != nil {
		return downlinkFrame{}, fmt.Errorf("unmarshal downlink frame: %w", err)
	}
	df := downlinkFrame{
		DownlinkID: j.DownlinkID,
		GatewayID:  j.GatewayID,
	}
	if len(j.Items) > 0 {
		item := j.Items[0]
		df.HasItem = true
		df.PhyPayload = item.PhyPayload
		df.Tx = item.TxInfo.radio()
	}
	return df, nil
}

func parseJSONTxAck(payload []byte) (txAck, error) {
	var j jsonTxAck
	if err := json.Unmarshal(payload, &j); err != nil {
		return txAck{}, fmt.Errorf("unmarshal tx ack: %w", err)
	}
	ack := txAck{
		DownlinkID: j.DownlinkID,
		GatewayID:  j.GatewayID,
	}
	for _, item := range j.Items {
		ack.Statuses = append(ack.Statuses, TxAckStatus(item.Status))
	}
	return ack, nil
}

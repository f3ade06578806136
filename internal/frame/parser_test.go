package frame

import (
	"encoding/base64"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/lorawan-server/lorawan-analyzer/internal/models"
	"github.com/lorawan-server/lorawan-analyzer/internal/wire"
)

var testTime = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func appendMsg(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendFloat(b []byte, num protowire.Number, v float32) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(v))
}

func loraModulation(bw, sf, cr uint64) []byte {
	var lora []byte
	lora = appendVarint(lora, LoRaBandwidth, bw)
	lora = appendVarint(lora, LoRaSpreadingFactor, sf)
	lora = appendVarint(lora, LoRaCodeRate, cr)
	return appendMsg(nil, ModulationLoRa, lora)
}

// unconfirmed data up, DevAddr 01020304, FCnt 10, FPort 1, 5 byte payload
var dataUpPHY = []byte{
	0x40, 0x04, 0x03, 0x02, 0x01, 0x00, 0x0a, 0x00, 0x01,
	0x01, 0x02, 0x03, 0x04, 0x05,
	0xa1, 0xa2, 0xa3, 0xa4,
}

// join request, JoinEUI 0807060504030201, DevEUI 1817161514131211
var joinPHY = []byte{
	0x00,
	0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
	0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17, 0x18,
	0x34, 0x12,
	0xa1, 0xa2, 0xa3, 0xa4,
}

// unconfirmed data down, DevAddr 01020304, FCnt 3, FPort 1
var dataDownPHY = []byte{
	0x60, 0x04, 0x03, 0x02, 0x01, 0x20, 0x03, 0x00, 0x01,
	0xff,
	0xa1, 0xa2, 0xa3, 0xa4,
}

func binaryUplink(phy []byte) []byte {
	var tx []byte
	tx = appendVarint(tx, UplinkTxInfoFrequency, 868100000)
	tx = appendMsg(tx, UplinkTxInfoModulation, loraModulation(125000, 7, 1))

	var rx []byte
	rx = appendString(rx, RxInfoGatewayID, "0016c001ff10a235")
	rx = appendVarint(rx, RxInfoUplinkID, 4242)
	rssi := int64(-97)
	rx = appendVarint(rx, RxInfoRSSI, uint64(rssi))
	rx = appendFloat(rx, RxInfoSNR, 7.5)
	rx = appendVarint(rx, RxInfoChannel, 2)

	var b []byte
	b = appendMsg(b, UplinkFramePhyPayload, phy)
	b = appendMsg(b, 2, []byte{0x08, 0x01}) // legacy tx info, ignored
	b = appendMsg(b, UplinkFrameTxInfo, tx)
	b = appendMsg(b, UplinkFrameRxInfo, rx)
	b = appendVarint(b, 99, 1)
	return b
}

func jsonUplink(phy []byte) []byte {
	return []byte(fmt.Sprintf(`{
		"phyPayload": %q,
		"txInfo": {"frequency": 868100000, "modulation": {"lora": {"bandwidth": 125000, "spreadingFactor": 7, "codeRate": "CR_4_5"}}},
		"rxInfo": {"gatewayId": "0016c001ff10a235", "uplinkId": 4242, "rssi": -97, "snr": 7.5, "channel": 2, "context": "AAAA"}
	}`, base64.StdEncoding.EncodeToString(phy)))
}

func TestUplinkFormatParity(t *testing.T) {
	bin, err := ParseUplinkBinary(binaryUplink(dataUpPHY), testTime)
	require.NoError(t, err)
	js, err := ParseUplinkJSON(jsonUplink(dataUpPHY), testTime)
	require.NoError(t, err)

	assert.Equal(t, bin, js)

	assert.Equal(t, models.PacketTypeData, bin.PacketType)
	assert.Equal(t, "0016c001ff10a235", bin.GatewayID)
	assert.Equal(t, "01020304", bin.DevAddr)
	assert.Equal(t, uint32(868100000), bin.Frequency)
	assert.Equal(t, uint32(125000), bin.Bandwidth)
	require.NotNil(t, bin.SpreadingFactor)
	assert.Equal(t, uint32(7), *bin.SpreadingFactor)
	assert.Equal(t, int32(-97), bin.RSSI)
	assert.Equal(t, 7.5, bin.SNR)
	assert.Equal(t, uint32(18), bin.PayloadSize)
	assert.Equal(t, uint32(51456), bin.AirtimeUS)
	require.NotNil(t, bin.FCnt)
	assert.Equal(t, uint32(10), *bin.FCnt)
	require.NotNil(t, bin.FPort)
	assert.Equal(t, uint8(1), *bin.FPort)
	require.NotNil(t, bin.Confirmed)
	assert.False(t, *bin.Confirmed)
	assert.Equal(t, testTime, bin.Timestamp)
	assert.Empty(t, bin.Operator)
}

func TestJoinUplinkFormatParity(t *testing.T) {
	bin, err := ParseUplinkBinary(binaryUplink(joinPHY), testTime)
	require.NoError(t, err)
	js, err := ParseUplinkJSON(jsonUplink(joinPHY), testTime)
	require.NoError(t, err)

	assert.Equal(t, bin, js)
	assert.Equal(t, models.PacketTypeJoin, bin.PacketType)
	assert.Equal(t, "0807060504030201", bin.JoinEUI)
	assert.Equal(t, "1817161514131211", bin.DevEUI)
	assert.Empty(t, bin.DevAddr)
	assert.Nil(t, bin.FCnt)
	assert.Nil(t, bin.Confirmed)
}

func TestUplinkNonLoRaHasNoSpreadingFactor(t *testing.T) {
	var fsk []byte
	fsk = appendVarint(fsk, 2, 50000)
	var tx []byte
	tx = appendVarint(tx, UplinkTxInfoFrequency, 868800000)
	tx = appendMsg(tx, UplinkTxInfoModulation, appendMsg(nil, ModulationFSK, fsk))

	var b []byte
	b = appendMsg(b, UplinkFramePhyPayload, dataUpPHY)
	b = appendMsg(b, UplinkFrameTxInfo, tx)

	bin, err := ParseUplinkBinary(b, testTime)
	require.NoError(t, err)

	js, err := ParseUplinkJSON([]byte(fmt.Sprintf(
		`{"phyPayload": %q, "txInfo": {"frequency": 868800000, "modulation": {"fsk": {"datarate": 50000}}}}`,
		base64.StdEncoding.EncodeToString(dataUpPHY))), testTime)
	require.NoError(t, err)

	assert.Equal(t, bin, js)
	assert.Nil(t, bin.SpreadingFactor)
	assert.Zero(t, bin.AirtimeUS)
	assert.Zero(t, bin.Bandwidth)
}

func TestUplinkStopsAtGroup(t *testing.T) {
	b := binaryUplink(dataUpPHY)
	b = protowire.AppendTag(b, 20, protowire.StartGroupType)
	b = appendVarint(b, 1, 1)

	p, err := ParseUplinkBinary(b, testTime)
	require.NoError(t, err)
	assert.Equal(t, "01020304", p.DevAddr)
}

func TestUplinkTruncated(t *testing.T) {
	b := binaryUplink(dataUpPHY)
	_, err := ParseUplinkBinary(b[:len(b)-5], testTime)
	assert.ErrorIs(t, err, wire.ErrTruncated)
}

func TestUplinkEmptyPayload(t *testing.T) {
	var b []byte
	b = appendVarint(b, 99, 1)
	_, err := ParseUplinkBinary(b, testTime)
	assert.ErrorIs(t, err, ErrEmptyPayload)

	_, err = ParseUplinkJSON([]byte(`{"rxInfo": {"gatewayId": "x"}}`), testTime)
	assert.ErrorIs(t, err, ErrEmptyPayload)
}

func TestUplinkJSONMalformed(t *testing.T) {
	_, err := ParseUplinkJSON([]byte(`{"phyPayload": `), testTime)
	assert.Error(t, err)
}

func binaryDownlink(gatewayID string) []byte {
	var tx []byte
	tx = appendVarint(tx, DownlinkTxInfoFrequency, 869525000)
	tx = appendVarint(tx, DownlinkTxInfoPower, 27)
	tx = appendMsg(tx, DownlinkTxInfoModulation, loraModulation(125000, 9, 1))

	var item []byte
	item = appendMsg(item, DownlinkItemPhyPayload, dataDownPHY)
	item = appendMsg(item, DownlinkItemTxInfo, tx)

	var second []byte
	second = appendMsg(second, DownlinkItemPhyPayload, joinPHY)

	var b []byte
	b = appendVarint(b, DownlinkFrameDownlinkID, 12345)
	b = appendMsg(b, DownlinkFrameItems, item)
	b = appendMsg(b, DownlinkFrameItems, second)
	if gatewayID != "" {
		b = appendString(b, DownlinkFrameGatewayID, gatewayID)
	}
	return b
}

func jsonDownlink(gatewayID string) []byte {
	return []byte(fmt.Sprintf(`{
		"downlinkId": 12345,
		"gatewayId": %q,
		"items": [
			{"phyPayload": %q, "txInfo": {"frequency": 869525000, "power": 27, "modulation": {"lora": {"bandwidth": 125000, "spreadingFactor": 9, "codeRate": "CR_4_5"}}}},
			{"phyPayload": %q}
		]
	}`, gatewayID,
		base64.StdEncoding.EncodeToString(dataDownPHY),
		base64.StdEncoding.EncodeToString(joinPHY)))
}

func TestDownlinkFormatParity(t *testing.T) {
	bin, err := ParseDownlinkBinary(binaryDownlink("ffffffffffffffff"), testTime, "0016c001ff10a235")
	require.NoError(t, err)
	js, err := ParseDownlinkJSON(jsonDownlink("ffffffffffffffff"), testTime, "0016c001ff10a235")
	require.NoError(t, err)

	assert.Equal(t, bin, js)
	assert.Equal(t, models.PacketTypeDownlink, bin.PacketType)
	assert.Equal(t, "0016c001ff10a235", bin.GatewayID, "topic gateway wins")
	assert.Equal(t, "01020304", bin.DevAddr)
	assert.Equal(t, uint32(869525000), bin.Frequency)
	require.NotNil(t, bin.SpreadingFactor)
	assert.Equal(t, uint32(9), *bin.SpreadingFactor)
	assert.Equal(t, uint32(len(dataDownPHY)), bin.PayloadSize)
	assert.NotZero(t, bin.AirtimeUS)
	require.NotNil(t, bin.FCnt)
	assert.Equal(t, uint32(3), *bin.FCnt)
	require.NotNil(t, bin.DownlinkID)
	assert.Equal(t, uint32(12345), *bin.DownlinkID)
	assert.Zero(t, bin.RSSI)
}

func TestDownlinkGatewayFromPayload(t *testing.T) {
	p, err := ParseDownlinkBinary(binaryDownlink("aa555a0000000101"), testTime, "")
	require.NoError(t, err)
	assert.Equal(t, "aa555a0000000101", p.GatewayID)
}

func TestDownlinkWithoutItems(t *testing.T) {
	b := appendVarint(nil, DownlinkFrameDownlinkID, 1)
	_, err := ParseDownlinkBinary(b, testTime, "gw")
	assert.ErrorIs(t, err, ErrEmptyPayload)

	_, err = ParseDownlinkJSON([]byte(`{"downlinkId": 1, "items": []}`), testTime, "gw")
	assert.ErrorIs(t, err, ErrEmptyPayload)
}

func binaryTxAck(statuses ...TxAckStatus) []byte {
	var b []byte
	b = appendVarint(b, TxAckToken, 7)
	b = appendVarint(b, TxAckDownlinkID, 12345)
	for _, s := range statuses {
		b = appendMsg(b, TxAckItems, appendVarint(nil, TxAckItemStatus, uint64(s)))
	}
	b = appendString(b, TxAckGatewayID, "0016c001ff10a235")
	return b
}

func TestTxAckFormatParity(t *testing.T) {
	bin, err := ParseTxAckBinary(binaryTxAck(StatusIgnored, StatusTooLate, StatusOK), testTime, "0016c001ff10a235")
	require.NoError(t, err)
	js, err := ParseTxAckJSON([]byte(`{
		"gatewayId": "0016c001ff10a235",
		"downlinkId": 12345,
		"items": [{}, {"status": "TOO_LATE"}, {"status": 1}]
	}`), testTime, "0016c001ff10a235")
	require.NoError(t, err)

	assert.Equal(t, bin, js)
	assert.Equal(t, models.PacketTypeTxAck, bin.PacketType)
	assert.Equal(t, "TOO_LATE", bin.Operator)
	require.NotNil(t, bin.DownlinkID)
	assert.Equal(t, uint32(12345), *bin.DownlinkID)
	require.NotNil(t, bin.FCnt)
	assert.Equal(t, uint32(12345), *bin.FCnt)
}

func TestTxAckStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []TxAckStatus
		want     string
	}{
		{"all ok", []TxAckStatus{StatusOK, StatusOK}, "OK"},
		{"no items", nil, "OK"},
		{"rx1 sent rx2 skipped", []TxAckStatus{StatusOK, StatusIgnored}, "OK"},
		{"first attempt failed", []TxAckStatus{StatusTooLate, StatusOK}, "TOO_LATE"},
		{"leading ignored skipped", []TxAckStatus{StatusIgnored, StatusTxFreq, StatusQueueFull}, "TX_FREQ"},
		{"only ignored", []TxAckStatus{StatusIgnored, StatusIgnored}, "IGNORED"},
		{"out of range", []TxAckStatus{TxAckStatus(40)}, "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParseTxAckBinary(binaryTxAck(tt.statuses...), testTime, "gw")
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Operator)
		})
	}
}

func TestTxAckJSONSentThenIgnored(t *testing.T) {
	p, err := ParseTxAckJSON([]byte(`{"downlinkId": 9, "items": [{"status": "OK"}, {}]}`), testTime, "gw")
	require.NoError(t, err)
	assert.Equal(t, "OK", p.Operator)
}

func TestTxAckJSONUnknownStatusName(t *testing.T) {
	_, err := ParseTxAckJSON([]byte(`{"items": [{"status": "MAYBE"}]}`), testTime, "gw")
	assert.Error(t, err)
}

func TestDecodeDispatch(t *testing.T) {
	p, err := Decode(ProtobufDecoder{}, KindUplink, binaryUplink(dataUpPHY), testTime, "topic-gw")
	require.NoError(t, err)
	assert.Equal(t, "0016c001ff10a235", p.GatewayID)

	var noRx []byte
	noRx = appendMsg(noRx, UplinkFramePhyPayload, dataUpPHY)
	p, err = Decode(ProtobufDecoder{}, KindUplink, noRx, testTime, "topic-gw")
	require.NoError(t, err)
	assert.Equal(t, "topic-gw", p.GatewayID)

	_, err = Decode(JSONDecoder{}, KindStats, []byte(`{}`), testTime, "gw")
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat(" JSON ")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	_, err = ParseFormat("avro")
	assert.Error(t, err)

	d, err := NewEventDecoder(FormatProtobuf)
	require.NoError(t, err)
	assert.Equal(t, FormatProtobuf, d.Format())
}

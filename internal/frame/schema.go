package frame

// Field numbers of the gateway-bridge and integration messages that are
// interpreted. Anything not listed here is skipped by wire type.

// gw.UplinkFrame
const (
	UplinkFramePhyPayload = 1
	UplinkFrameTxInfo     = 4
	UplinkFrameRxInfo     = 5
)

// gw.UplinkTxInfo
const (
	UplinkTxInfoFrequency  = 1
	UplinkTxInfoModulation = 2
)

// gw.Modulation (oneof)
const (
	ModulationLoRa   = 3
	ModulationFSK    = 4
	ModulationLRFHSS = 5
)

// gw.LoraModulationInfo
const (
	LoRaBandwidth             = 1
	LoRaSpreadingFactor       = 2
	LoRaCodeRateLegacy        = 3
	LoRaPolarizationInversion = 4
	LoRaCodeRate              = 5
	LoRaPreamble              = 6
)

// gw.UplinkRxInfo
const (
	RxInfoGatewayID = 1
	RxInfoUplinkID  = 2
	RxInfoRSSI      = 6
	RxInfoSNR       = 7
	RxInfoChannel   = 8
	RxInfoLocation  = 12
	RxInfoMetadata  = 15
)

// map<string,string> entry
const (
	MapEntryKey   = 1
	MapEntryValue = 2
)

// common.Location
const (
	LocationLatitude  = 1
	LocationLongitude = 2
	LocationAltitude  = 3
)

// gw.DownlinkFrame
const (
	DownlinkFrameDownlinkID = 3
	DownlinkFrameItems      = 5
	DownlinkFrameGatewayID  = 7
)

// gw.DownlinkFrameItem
const (
	DownlinkItemPhyPayload = 1
	DownlinkItemTxInfo     = 3
)

// gw.DownlinkTxInfo
const (
	DownlinkTxInfoFrequency  = 1
	DownlinkTxInfoPower      = 2
	DownlinkTxInfoModulation = 3
)

// gw.DownlinkTxAck
const (
	TxAckToken      = 2
	TxAckDownlinkID = 3
	TxAckItems      = 5
	TxAckGatewayID  = 6
)

// gw.DownlinkTxAckItem
const (
	TxAckItemStatus = 1
)

// integration.UplinkEvent
const (
	UplinkEventDeviceInfo = 3
	UplinkEventDevAddr    = 4
	UplinkEventFCnt       = 7
	UplinkEventFPort      = 8
	UplinkEventRxInfo     = 12
)

// integration.DeviceInfo
const (
	DeviceInfoApplicationName = 4
	DeviceInfoDeviceName      = 7
	DeviceInfoDevEUI          = 8
)

// TxAckStatus is gw.TxAckStatus
type TxAckStatus int32

const (
	StatusIgnored TxAckStatus = iota
	StatusOK
	StatusTooLate
	StatusTooEarly
	StatusCollisionPacket
	StatusCollisionBeacon
	StatusTxFreq
	StatusTxPower
	StatusGPSUnlocked
	StatusQueueFull
	StatusInternalError
	StatusDutyCycleOverflow
)

var txAckStatusNames = [...]string{
	"IGNORED",
	"OK",
	"TOO_LATE",
	"TOO_EARLY",
	"COLLISION_PACKET",
	"COLLISION_BEACON",
	"TX_FREQ",
	"TX_POWER",
	"GPS_UNLOCKED",
	"QUEUE_FULL",
	"INTERNAL_ERROR",
	"DUTY_CYCLE_OVERFLOW",
}

func (s TxAckStatus) String() string {
	if s >= 0 && int(s) < len(txAckStatusNames) {
		return txAckStatusNames[s]
	}
	return "UNKNOWN"
}

// ParseTxAckStatus maps a status enum name. ok is false for unknown names.
func ParseTxAckStatus(name string) (TxAckStatus, bool) {
	for i, n := range txAckStatusNames {
		if n == name {
			return TxAckStatus(i), true
		}
	}
	return 0, false
}

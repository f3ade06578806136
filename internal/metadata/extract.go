package metadata

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lorawan-server/lorawan-analyzer/internal/frame"
	"github.com/lorawan-server/lorawan-analyzer/internal/models"
	"github.com/lorawan-server/lorawan-analyzer/internal/wire"
)

// Extractor reads device naming out of an application uplink event. ok is
// false when the event carries no DevAddr.
type Extractor interface {
	Extract(payload []byte, ts time.Time) (rec models.DeviceMetadata, ok bool, err error)
}

// NewExtractor returns the extractor for the configured payload format.
func NewExtractor(f frame.Format) (Extractor, error) {
	switch f {
	case frame.FormatProtobuf:
		return BinaryExtractor{}, nil
	case frame.FormatJSON:
		return JSONExtractor{}, nil
	default:
		return nil, fmt.Errorf("unsupported payload format %q", f)
	}
}

// BinaryExtractor decodes a protobuf integration.UplinkEvent.
type BinaryExtractor struct{}

func (BinaryExtractor) Extract(payload []byte, ts time.Time) (models.DeviceMetadata, bool, error) {
	rec := models.DeviceMetadata{LastUpdated: ts}
	d := wire.NewDecoder(payload)
	for f, ok := d.Next(); ok; f, ok = d.Next() {
		if f.Type != wire.Bytes {
			continue
		}
		switch f.Number {
		case frame.UplinkEventDevAddr:
			rec.DevAddr = f.String()
		case frame.UplinkEventDeviceInfo:
			decodeDeviceInfo(f.Bytes(), &rec)
		}
	}
	return rec, rec.DevAddr != "", nil
}

func decodeDeviceInfo(buf []byte, rec *models.DeviceMetadata) {
	d := wire.NewDecoder(buf)
	for f, ok := d.Next(); ok; f, ok = d.Next() {
		if f.Type != wire.Bytes {
			continue
		}
		switch f.Number {
		case frame.DeviceInfoApplicationName:
			rec.ApplicationName = f.String()
		case frame.DeviceInfoDeviceName:
			rec.DeviceName = f.String()
		case frame.DeviceInfoDevEUI:
			rec.DevEUI = f.String()
		}
	}
}

// JSONExtractor decodes a JSON integration.UplinkEvent.
type JSONExtractor struct{}

func (JSONExtractor) Extract(payload []byte, ts time.Time) (models.DeviceMetadata, bool, error) {
	var ev struct {
		DevAddr    string `json:"devAddr"`
		DeviceInfo *struct {
			ApplicationName string `json:"applicationName"`
			DeviceName      string `json:"deviceName"`
			DevEUI          string `json:"devEui"`
		} `json:"deviceInfo"`
	}
	if err := json.Unmarshal(payload, &ev); err != nil {
		return models.DeviceMetadata{}, false, fmt.Errorf("unmarshal uplink event: %w", err)
	}

	rec := models.DeviceMetadata{
		DevAddr:     ev.DevAddr,
		LastUpdated: ts,
	}
	if ev.DeviceInfo != nil {
		rec.ApplicationName = ev.DeviceInfo.ApplicationName
		rec.DeviceName = ev.DeviceInfo.DeviceName
		rec.DevEUI = ev.DeviceInfo.DevEUI
	}
	return rec, rec.DevAddr != "", nil
}

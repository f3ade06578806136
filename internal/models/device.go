package models

import "time"

// DeviceMetadata is the last known naming for a device address
type DeviceMetadata struct {
	DevAddr         string    `json:"devAddr" db:"dev_addr"`
	DevEUI          string    `json:"devEui,omitempty" db:"dev_eui"`
	DeviceName      string    `json:"deviceName" db:"device_name"`
	ApplicationName string    `json:"applicationName" db:"application_name"`
	LastUpdated     time.Time `json:"lastUpdated" db:"last_updated"`
}

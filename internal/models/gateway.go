package models

import "time"

// Gateway is a gateway observed on the transport
type Gateway struct {
	GatewayID string    `json:"gatewayId" db:"gateway_id"`
	Name      string    `json:"name,omitempty" db:"name"`
	Latitude  *float64  `json:"latitude,omitempty" db:"latitude"`
	Longitude *float64  `json:"longitude,omitempty" db:"longitude"`
	Altitude  *float64  `json:"altitude,omitempty" db:"altitude"`
	FirstSeen time.Time `json:"firstSeen" db:"first_seen"`
	LastSeen  time.Time `json:"lastSeen" db:"last_seen"`
}

// GatewayLocation is a position reported for a gateway in an application event
type GatewayLocation struct {
	GatewayID string   `json:"gatewayId"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Altitude  *float64 `json:"altitude,omitempty"`
	Name      string   `json:"name,omitempty"`
}

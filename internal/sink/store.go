package sink

import (
	"context"
	"time"

	"github.com/lorawan-server/lorawan-analyzer/internal/models"
)

// GatewayStore is the part of the relational store the recorder writes to
type GatewayStore interface {
	TouchGateway(ctx context.Context, gatewayID string, seen time.Time) error
	UpsertGatewayLocation(ctx context.Context, loc models.GatewayLocation, seen time.Time) error
	UpsertDeviceMetadata(ctx context.Context, rec models.DeviceMetadata) error
}

// StoreRecorder keeps the gateway registry and device metadata tables
// current.
type StoreRecorder struct {
	store GatewayStore
	now   func() time.Time
}

func NewStoreRecorder(store GatewayStore) *StoreRecorder {
	return &StoreRecorder{store: store, now: time.Now}
}

// ConsumePacket marks the receiving gateway as seen
func (s *StoreRecorder) ConsumePacket(ctx context.Context, p *models.Packet) error {
	if p.GatewayID == "" {
		return nil
	}
	return s.store.TouchGateway(ctx, p.GatewayID, p.Timestamp)
}

// ConsumeLocation stores a gateway position
func (s *StoreRecorder) ConsumeLocation(ctx context.Context, loc models.GatewayLocation) error {
	return s.store.UpsertGatewayLocation(ctx, loc, s.now().UTC())
}

// ConsumeMetadata stores a device record
func (s *StoreRecorder) ConsumeMetadata(ctx context.Context, rec models.DeviceMetadata) error {
	return s.store.UpsertDeviceMetadata(ctx, rec)
}

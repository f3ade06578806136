package storage

import (
	"context"
	"errors"
	"time"

	"github.com/lorawan-server/lorawan-analyzer/internal/models"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrInvalidData  = errors.New("invalid data")
)

// Store defines the storage interface
type Store interface {
	// Transaction support
	BeginTx(ctx context.Context) (Store, error)
	Commit() error
	Rollback() error

	// Migrate creates or upgrades the schema
	Migrate(ctx context.Context) error

	// Custom operator methods
	CreateCustomOperator(ctx context.Context, op *models.CustomOperator) error
	DeleteCustomOperator(ctx context.Context, id int64) error
	ListCustomOperators(ctx context.Context) ([]*models.CustomOperator, error)

	// Hide rule methods
	CreateHideRule(ctx context.Context, rule *models.HideRule) error
	DeleteHideRule(ctx context.Context, id int64) error
	ListHideRules(ctx context.Context) ([]*models.HideRule, error)

	// Gateway methods
	TouchGateway(ctx context.Context, gatewayID string, seen time.Time) error
	UpsertGatewayLocation(ctx context.Context, loc models.GatewayLocation, seen time.Time) error
	GetGateway(ctx context.Context, gatewayID string) (*models.Gateway, error)
	ListGateways(ctx context.Context) ([]*models.Gateway, error)

	// Device metadata methods
	UpsertDeviceMetadata(ctx context.Context, rec models.DeviceMetadata) error
	GetDeviceMetadata(ctx context.Context, devAddr string) (*models.DeviceMetadata, error)
	ListDeviceMetadata(ctx context.Context) ([]*models.DeviceMetadata, error)

	// Close the store
	Close() error
}

// Package metadata keeps the human readable names of devices by DevAddr.
package metadata

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-analyzer/internal/models"
)

// Loader lists persisted device metadata
type Loader interface {
	ListDeviceMetadata(ctx context.Context) ([]*models.DeviceMetadata, error)
}

// Cache maps DevAddr to the last metadata record seen for it.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]models.DeviceMetadata
	loader  Loader
}

// NewCache creates an empty cache. loader may be nil.
func NewCache(loader Loader) *Cache {
	return &Cache{
		entries: make(map[string]models.DeviceMetadata),
		loader:  loader,
	}
}

// LoadFromDatabase hydrates the cache. It is called once before ingestion
// starts and is the only cache operation that performs I/O.
func (c *Cache) LoadFromDatabase(ctx context.Context) error {
	if c.loader == nil {
		return nil
	}
	records, err := c.loader.ListDeviceMetadata(ctx)
	if err != nil {
		return fmt.Errorf("list device metadata: %w", err)
	}

	c.mu.Lock()
	for _, r := range records {
		if r == nil || r.DevAddr == "" {
			continue
		}
		rec := *r
		rec.DevAddr = normalize(rec.DevAddr)
		c.entries[rec.DevAddr] = rec
	}
	n := len(c.entries)
	c.mu.Unlock()

	log.Info().Int("devices", n).Msg("Device metadata cache loaded")
	return nil
}

// Upsert replaces the entry for rec.DevAddr as a whole.
func (c *Cache) Upsert(rec models.DeviceMetadata) {
	if rec.DevAddr == "" {
		return
	}
	rec.DevAddr = normalize(rec.DevAddr)

	c.mu.Lock()
	c.entries[rec.DevAddr] = rec
	c.mu.Unlock()
}

// Get returns the record for devAddr.
func (c *Cache) Get(devAddr string) (models.DeviceMetadata, bool) {
	c.mu.RLock()
	rec, ok := c.entries[normalize(devAddr)]
	c.mu.RUnlock()
	return rec, ok
}

// Size is the number of cached devices
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func normalize(devAddr string) string {
	return strings.ToLower(strings.TrimSpace(devAddr))
}

package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lorawan-server/lorawan-analyzer/internal/models"
)

// MemoryStore keeps everything in process. It backs the daemon when no
// database is configured; nothing survives a restart.
type MemoryStore struct {
	mu        sync.RWMutex
	nextID    int64
	operators map[int64]*models.CustomOperator
	hideRules map[int64]*models.HideRule
	gateways  map[string]*models.Gateway
	devices   map[string]models.DeviceMetadata
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		operators: make(map[int64]*models.CustomOperator),
		hideRules: make(map[int64]*models.HideRule),
		gateways:  make(map[string]*models.Gateway),
		devices:   make(map[string]models.DeviceMetadata),
	}
}

// BeginTx returns the store itself; memory writes are applied immediately.
func (s *MemoryStore) BeginTx(ctx context.Context) (Store, error) { return s, nil }
func (s *MemoryStore) Commit() error                              { return nil }
func (s *MemoryStore) Rollback() error                            { return nil }
func (s *MemoryStore) Migrate(ctx context.Context) error          { return nil }
func (s *MemoryStore) Close() error                               { return nil }

func (s *MemoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *MemoryStore) CreateCustomOperator(ctx context.Context, op *models.CustomOperator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.operators {
		if existing.Prefix == op.Prefix && existing.Name == op.Name {
			return ErrDuplicateKey
		}
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}
	op.ID = s.id()
	cp := *op
	s.operators[op.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteCustomOperator(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.operators[id]; !ok {
		return ErrNotFound
	}
	delete(s.operators, id)
	return nil
}

func (s *MemoryStore) ListCustomOperators(ctx context.Context) ([]*models.CustomOperator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.CustomOperator, 0, len(s.operators))
	for _, op := range s.operators {
		cp := *op
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) CreateHideRule(ctx context.Context, rule *models.HideRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.hideRules {
		if existing.Type == rule.Type && existing.Prefix == rule.Prefix {
			return ErrDuplicateKey
		}
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}
	rule.ID = s.id()
	cp := *rule
	s.hideRules[rule.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteHideRule(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.hideRules[id]; !ok {
		return ErrNotFound
	}
	delete(s.hideRules, id)
	return nil
}

func (s *MemoryStore) ListHideRules(ctx context.Context) ([]*models.HideRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.HideRule, 0, len(s.hideRules))
	for _, r := range s.hideRules {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) TouchGateway(ctx context.Context, gatewayID string, seen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch(strings.ToLower(gatewayID), seen)
	return nil
}

func (s *MemoryStore) touch(id string, seen time.Time) *models.Gateway {
	gw, ok := s.gateways[id]
	if !ok {
		gw = &models.Gateway{GatewayID: id, FirstSeen: seen, LastSeen: seen}
		s.gateways[id] = gw
		return gw
	}
	if seen.Before(gw.FirstSeen) {
		gw.FirstSeen = seen
	}
	if seen.After(gw.LastSeen) {
		gw.LastSeen = seen
	}
	return gw
}

func (s *MemoryStore) UpsertGatewayLocation(ctx context.Context, loc models.GatewayLocation, seen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	gw := s.touch(strings.ToLower(loc.GatewayID), seen)
	lat, lon := loc.Latitude, loc.Longitude
	gw.Latitude = &lat
	gw.Longitude = &lon
	if loc.Altitude != nil {
		alt := *loc.Altitude
		gw.Altitude = &alt
	}
	if loc.Name != "" {
		gw.Name = loc.Name
	}
	return nil
}

func (s *MemoryStore) GetGateway(ctx context.Context, gatewayID string) (*models.Gateway, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	gw, ok := s.gateways[strings.ToLower(gatewayID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *gw
	return &cp, nil
}

func (s *MemoryStore) ListGateways(ctx context.Context) ([]*models.Gateway, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Gateway, 0, len(s.gateways))
	for _, gw := range s.gateways {
		cp := *gw
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen.After(out[j].LastSeen) })
	return out, nil
}

func (s *MemoryStore) UpsertDeviceMetadata(ctx context.Context, rec models.DeviceMetadata) error {
	if rec.DevAddr == "" {
		return ErrInvalidData
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.DevAddr = strings.ToLower(rec.DevAddr)
	s.devices[rec.DevAddr] = rec
	return nil
}

func (s *MemoryStore) GetDeviceMetadata(ctx context.Context, devAddr string) (*models.DeviceMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.devices[strings.ToLower(devAddr)]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (s *MemoryStore) ListDeviceMetadata(ctx context.Context) ([]*models.DeviceMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.DeviceMetadata, 0, len(s.devices))
	for _, rec := range s.devices {
		rec := rec
		out = append(out, &rec)
	}
	return out, nil
}

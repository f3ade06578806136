package location

import (
	"context"
	"strings"
	"sync"

	"github.com/lorawan-server/lorawan-analyzer/internal/models"
)

// Names remembers gateway names learned from application uplinks and puts
// them on later packets from the same gateway.
type Names struct {
	mu    sync.RWMutex
	names map[string]string
}

func NewNames() *Names {
	return &Names{names: make(map[string]string)}
}

// Load seeds names from stored gateways.
func (n *Names) Load(gateways []*models.Gateway) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, gw := range gateways {
		if gw.Name != "" {
			n.names[strings.ToLower(gw.GatewayID)] = gw.Name
		}
	}
}

// ConsumeLocation records the gateway name, if the location carries one.
func (n *Names) ConsumeLocation(ctx context.Context, loc models.GatewayLocation) error {
	if loc.Name == "" {
		return nil
	}
	n.mu.Lock()
	n.names[strings.ToLower(loc.GatewayID)] = loc.Name
	n.mu.Unlock()
	return nil
}

// Enrich fills GatewayName when it is still empty.
func (n *Names) Enrich(p *models.Packet) {
	if p.GatewayName != "" || p.GatewayID == "" {
		return
	}
	n.mu.RLock()
	p.GatewayName = n.names[strings.ToLower(p.GatewayID)]
	n.mu.RUnlock()
}

// Lookup returns the known name of a gateway
func (n *Names) Lookup(gatewayID string) (string, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	name, ok := n.names[strings.ToLower(gatewayID)]
	return name, ok
}

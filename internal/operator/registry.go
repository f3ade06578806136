package operator

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-analyzer/internal/models"
)

// Store lists the operator rules saved through the API
type Store interface {
	ListCustomOperators(ctx context.Context) ([]*models.CustomOperator, error)
}

// Registry rebuilds the matcher from persisted rules followed by the
// configured ones.
type Registry struct {
	mu      sync.Mutex
	matcher *Matcher
	store   Store
	static  []Rule
}

// NewRegistry creates a registry. configured rules are marked SourceConfig.
func NewRegistry(matcher *Matcher, store Store, configured []Rule) *Registry {
	static := make([]Rule, len(configured))
	for i, r := range configured {
		r.Source = SourceConfig
		static[i] = r
	}
	return &Registry{matcher: matcher, store: store, static: static}
}

// Reload reads the persisted rules and replaces the matcher index. Reloads
// are serialized; matches keep running against the old index until the swap.
func (r *Registry) Reload(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var rules []Rule
	if r.store != nil {
		custom, err := r.store.ListCustomOperators(ctx)
		if err != nil {
			return fmt.Errorf("list custom operators: %w", err)
		}
		for _, op := range custom {
			rules = append(rules, Rule{
				Prefix:   op.Prefix,
				Name:     op.Name,
				Priority: op.Priority,
				Source:   SourcePersisted,
			})
		}
	}
	persisted := len(rules)
	rules = append(rules, r.static...)

	if err := r.matcher.Reload(rules); err != nil {
		return err
	}

	log.Info().
		Int("persisted", persisted).
		Int("configured", len(r.static)).
		Msg("Operator prefixes loaded")
	return nil
}

// Matcher returns the matcher the registry maintains
func (r *Registry) Matcher() *Matcher {
	return r.matcher
}

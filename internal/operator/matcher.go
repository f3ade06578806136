// Package operator attributes devices to network operators by address prefix.
package operator

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/lorawan-server/lorawan-analyzer/internal/models"
)

// Unknown is the operator name reported when no rule matches
const Unknown = "unknown"

// Source tells where a rule came from. Persisted rules win ties.
type Source int

const (
	SourceConfig Source = iota
	SourcePersisted
)

func (s Source) String() string {
	if s == SourcePersisted {
		return "persisted"
	}
	return "config"
}

// Rule maps a prefix to an operator name
type Rule struct {
	Prefix   string `json:"prefix"`
	Name     string `json:"name"`
	Priority int    `json:"priority"`
	Source   Source `json:"-"`
}

type compiledRule struct {
	Rule
	prefix Prefix
}

// index is immutable once published.
type index struct {
	rules []compiledRule
}

// Matcher resolves identifiers against the current rule snapshot.
type Matcher struct {
	idx atomic.Pointer[index]
}

// NewMatcher returns a matcher with no rules.
func NewMatcher() *Matcher {
	m := &Matcher{}
	m.idx.Store(&index{})
	return m
}

// Reload compiles rules into a new index and swaps it in. If any rule is
// invalid nothing changes and the previous index stays active.
func (m *Matcher) Reload(rules []Rule) error {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		if strings.TrimSpace(r.Name) == "" {
			return fmt.Errorf("%w: prefix %q has no name", ErrInvalidRule, r.Prefix)
		}
		p, err := ParsePrefix(r.Prefix)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidRule, r.Name, err)
		}
		compiled = append(compiled, compiledRule{Rule: r, prefix: p})
	}

	// scan order is precedence order: the first match wins
	sort.SliceStable(compiled, func(i, j int) bool {
		a, b := compiled[i], compiled[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.prefix.Bits != b.prefix.Bits {
			return a.prefix.Bits > b.prefix.Bits
		}
		return a.Source > b.Source
	})

	m.idx.Store(&index{rules: compiled})
	return nil
}

// Match returns the winning rule for a hex DevAddr or JoinEUI.
func (m *Matcher) Match(hexID string) (Rule, bool) {
	id, bits, err := ParseID(hexID)
	if err != nil {
		return Rule{}, false
	}
	idx := m.idx.Load()
	for i := range idx.rules {
		if idx.rules[i].prefix.Matches(id, bits) {
			return idx.rules[i].Rule, true
		}
	}
	return Rule{}, false
}

// Name returns the operator name for hexID, or Unknown.
func (m *Matcher) Name(hexID string) string {
	if r, ok := m.Match(hexID); ok {
		return r.Name
	}
	return Unknown
}

// Enrich sets the packet operator from its DevAddr, or its JoinEUI for join
// requests. tx_ack packets keep their status in the field.
func (m *Matcher) Enrich(p *models.Packet) {
	switch {
	case p.PacketType == models.PacketTypeTxAck:
	case p.DevAddr != "":
		p.Operator = m.Name(p.DevAddr)
	case p.JoinEUI != "":
		p.Operator = m.Name(p.JoinEUI)
	default:
		p.Operator = Unknown
	}
}

// Rules returns the active rules in precedence order.
func (m *Matcher) Rules() []Rule {
	idx := m.idx.Load()
	out := make([]Rule, len(idx.rules))
	for i, r := range idx.rules {
		out[i] = r.Rule
	}
	return out
}

// Len is the number of active rules
func (m *Matcher) Len() int {
	return len(m.idx.Load().rules)
}

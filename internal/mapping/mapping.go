// Package mapping holds the curated brand-to-owner registry consulted
// before any inference stage runs.
package mapping

import (
	"sync"
	"time"

	"github.com/brandtrace/ownership-cli/internal/normalize"
)

// Mapping is one curated brand-to-owner record. Chain lists intermediate
// holding companies between the brand and the ultimate owner, closest to
// the brand first. Confidence, when set, overrides the default
// mapping-hit confidence for this row.
type Mapping struct {
	Brand      string    `yaml:"brand" json:"brand"`
	Owner      string    `yaml:"owner" json:"owner"`
	Country    string    `yaml:"country,omitempty" json:"country,omitempty"`
	Chain      []string  `yaml:"chain,omitempty" json:"chain,omitempty"`
	Confidence int       `yaml:"confidence,omitempty" json:"confidence,omitempty"`
	SourceURL  string    `yaml:"source_url,omitempty" json:"source_url,omitempty"`
	Notes      string    `yaml:"notes,omitempty" json:"notes,omitempty"`
	UpdatedAt  time.Time `yaml:"updated_at,omitempty" json:"updated_at,omitempty"`
}

// Registry is an in-memory index of mappings keyed by normalized brand
// name. Safe for concurrent lookup and reload.
type Registry struct {
	mu    sync.RWMutex
	index map[string]Mapping
}

// NewRegistry builds a registry from the given mappings. Later entries
// with the same normalized brand override earlier ones.
func NewRegistry(mappings []Mapping) *Registry {
	r := &Registry{index: make(map[string]Mapping, len(mappings))}
	for _, m := range mappings {
		r.index[normalize.Brand(m.Brand)] = m
	}
	return r
}

// Lookup finds a mapping by brand name. Matching is done on the
// normalized form, so "nestlé S.A." and "NESTLE" hit the same entry.
func (r *Registry) Lookup(brand string) (Mapping, bool) {
	key := normalize.Brand(brand)
	if key == "" {
		return Mapping{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.index[key]
	return m, ok
}

// Replace swaps the registry contents atomically.
func (r *Registry) Replace(mappings []Mapping) {
	index := make(map[string]Mapping, len(mappings))
	for _, m := range mappings {
		index[normalize.Brand(m.Brand)] = m
	}
	r.mu.Lock()
	r.index = index
	r.mu.Unlock()
}

// All returns a copy of every mapping in the registry.
func (r *Registry) All() []Mapping {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Mapping, 0, len(r.index))
	for _, m := range r.index {
		out = append(out, m)
	}
	return out
}

// Len returns the number of mappings.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.index)
}

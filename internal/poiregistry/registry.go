// Package poiregistry holds the process-wide, immutable mapping from
// PoI label and id to its coordinate and urgency. PoIs are created once
// at startup by the seeded generator in internal/poigen and never
// mutated afterward.
package poiregistry

import (
	"github.com/google/uuid"

	"eqcsim/internal/model"
)

// Registry is a read-only lookup table built once by New. Its maps are
// never written after construction, so lookups take no lock.
type Registry struct {
	byLabel map[string]model.POI
	byID    map[uuid.UUID]model.POI
	all     []model.POI
}

// New builds a registry from a fixed slice of PoIs.
func New(pois []model.POI) *Registry {
	r := &Registry{
		byLabel: make(map[string]model.POI, len(pois)),
		byID:    make(map[uuid.UUID]model.POI, len(pois)),
		all:     append([]model.POI(nil), pois...),
	}
	for _, p := range pois {
		r.byLabel[p.Label] = p
		r.byID[p.ID] = p
	}
	return r
}

// ByLabel resolves a PoI by its unique label.
func (r *Registry) ByLabel(label string) (model.POI, bool) {
	p, ok := r.byLabel[label]
	return p, ok
}

// ByID resolves a PoI by its opaque id.
func (r *Registry) ByID(id uuid.UUID) (model.POI, bool) {
	p, ok := r.byID[id]
	return p, ok
}

// All returns every configured PoI, in generation order. Callers must
// not mutate the returned slice's elements' identity (PoIs are value
// types, so the slice itself is a safe copy).
func (r *Registry) All() []model.POI {
	return append([]model.POI(nil), r.all...)
}

// Len returns the total number of configured PoIs.
func (r *Registry) Len() int {
	return len(r.all)
}

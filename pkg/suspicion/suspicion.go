package suspicion

import (
	"sort"

	"github.com/f0829/moneta/pkg/memory"
)

// Suspicion is one finding, anchored to a subregion of its parent entity.
// Entity-scope findings anchor at the entity's first subregion. The entity
// reference is non-owning and valid only for the snapshot's lifetime.
type Suspicion struct {
	Kind        Kind
	Description string
	Subregion   *memory.Subregion
	Entity      *memory.Entity
	EntityScope bool
}

func newSuspicion(kind Kind, e *memory.Entity, s *memory.Subregion, entityScope bool) *Suspicion {
	return &Suspicion{
		Kind:        kind,
		Description: kind.Description(),
		Subregion:   s,
		Entity:      e,
		EntityScope: entityScope,
	}
}

// Map is the three-level finding structure:
// allocation base -> subregion base -> suspicions. An entity appears iff at
// least one suspicion is attached to one of its subregions; both levels
// iterate in ascending address order.
type Map struct {
	entries map[uint64]map[uint64][]*Suspicion
}

// NewMap returns an empty suspicion map.
func NewMap() *Map {
	return &Map{entries: make(map[uint64]map[uint64][]*Suspicion)}
}

// Add attaches a suspicion under its entity and subregion keys.
func (m *Map) Add(s *Suspicion) {
	allocBase := s.Entity.StartVA()
	sub, ok := m.entries[allocBase]
	if !ok {
		sub = make(map[uint64][]*Suspicion)
		m.entries[allocBase] = sub
	}
	base := s.Subregion.BaseVA()
	sub[base] = append(sub[base], s)
}

// Len returns the total suspicion count.
func (m *Map) Len() int {
	var n int
	for _, sub := range m.entries {
		for _, list := range sub {
			n += len(list)
		}
	}
	return n
}

// Empty reports whether no suspicions remain.
func (m *Map) Empty() bool { return len(m.entries) == 0 }

// AllocBases returns the entity keys in ascending order.
func (m *Map) AllocBases() []uint64 {
	return sortedKeys(m.entries)
}

// SubregionBases returns the subregion keys of one entity in ascending order.
func (m *Map) SubregionBases(allocBase uint64) []uint64 {
	sub, ok := m.entries[allocBase]
	if !ok {
		return nil
	}
	return sortedKeys(sub)
}

// At returns the suspicions anchored at one subregion key.
func (m *Map) At(allocBase, base uint64) []*Suspicion {
	sub, ok := m.entries[allocBase]
	if !ok {
		return nil
	}
	return sub[base]
}

// HasEntity reports whether any suspicion is keyed under allocBase.
func (m *Map) HasEntity(allocBase uint64) bool {
	_, ok := m.entries[allocBase]
	return ok
}

// SubregionCount returns the subregion-scope suspicion count at one key.
func (m *Map) SubregionCount(allocBase, base uint64) int {
	var n int
	for _, s := range m.At(allocBase, base) {
		if !s.EntityScope {
			n++
		}
	}
	return n
}

// EntityCount returns the entity-scope suspicion count at one key.
func (m *Map) EntityCount(allocBase, base uint64) int {
	var n int
	for _, s := range m.At(allocBase, base) {
		if s.EntityScope {
			n++
		}
	}
	return n
}

// Walk visits every suspicion in address order.
func (m *Map) Walk(fn func(allocBase, base uint64, s *Suspicion)) {
	for _, allocBase := range m.AllocBases() {
		for _, base := range m.SubregionBases(allocBase) {
			for _, s := range m.entries[allocBase][base] {
				fn(allocBase, base, s)
			}
		}
	}
}

// remove drops one suspicion and prunes emptied levels so the map stays
// empty-free: no entity entry without subregions, no subregion entry without
// suspicions.
func (m *Map) remove(allocBase, base uint64, target *Suspicion) bool {
	sub, ok := m.entries[allocBase]
	if !ok {
		return false
	}
	list, ok := sub[base]
	if !ok {
		return false
	}
	for i, s := range list {
		if s == target {
			list = append(list[:i], list[i+1:]...)
			if len(list) == 0 {
				delete(sub, base)
				if len(sub) == 0 {
					delete(m.entries, allocBase)
				}
			} else {
				sub[base] = list
			}
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[uint64]V) []uint64 {
	keys := make([]uint64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Package store implements the ordered entity storage used by queues and
// stations: a totally ordered set of entries that is also grouped by a
// classifier key.
package store

import (
	"fmt"
	"slices"
)

// sortedSlice keeps elements ordered by cmp. Lookups use binary search;
// the total order guarantees there are no ties between distinct elements.
type sortedSlice[E comparable] struct {
	items []E
	cmp   func(a, b E) int
}

func (s *sortedSlice[E]) find(e E) (int, bool) {
	i, found := slices.BinarySearchFunc(s.items, e, s.cmp)
	if found && s.items[i] != e {
		panic(fmt.Sprintf("OrderedMultiSet: distinct elements compare equal at index %d", i))
	}
	return i, found
}

func (s *sortedSlice[E]) insert(e E) bool {
	i, found := s.find(e)
	if found {
		return false
	}
	s.items = slices.Insert(s.items, i, e)
	return true
}

func (s *sortedSlice[E]) remove(e E) bool {
	i, found := s.find(e)
	if !found {
		return false
	}
	s.items = slices.Delete(s.items, i, i+1)
	return true
}

// OrderedMultiSet holds elements in a total order and, in parallel, in one
// ordered subset per classifier key. Every query accepts a key and a flag
// selecting either that subset or the whole set.
type OrderedMultiSet[K comparable, E comparable] struct {
	all     sortedSlice[E]
	byKey   map[K]*sortedSlice[E]
	members map[E]struct{}
	keyOf   func(E) K
	cmp     func(a, b E) int
}

// NewOrderedMultiSet creates an empty set. cmp must define a total order:
// it may return 0 only for identical elements.
func NewOrderedMultiSet[K comparable, E comparable](keyOf func(E) K, cmp func(a, b E) int) *OrderedMultiSet[K, E] {
	return &OrderedMultiSet[K, E]{
		all:     sortedSlice[E]{cmp: cmp},
		byKey:   make(map[K]*sortedSlice[E]),
		members: make(map[E]struct{}),
		keyOf:   keyOf,
		cmp:     cmp,
	}
}

// Add inserts e into the global order and into its key's subset.
// Returns false if e is already present.
func (m *OrderedMultiSet[K, E]) Add(e E) bool {
	if _, ok := m.members[e]; ok {
		return false
	}
	if !m.all.insert(e) {
		panic("OrderedMultiSet.Add: element missing from members but present in order")
	}
	m.members[e] = struct{}{}
	k := m.keyOf(e)
	sub, ok := m.byKey[k]
	if !ok {
		sub = &sortedSlice[E]{cmp: m.cmp}
		m.byKey[k] = sub
	}
	sub.insert(e)
	return true
}

// Remove deletes e from both views. Returns false if e is not present.
func (m *OrderedMultiSet[K, E]) Remove(e E) bool {
	if _, ok := m.members[e]; !ok {
		return false
	}
	delete(m.members, e)
	m.all.remove(e)
	k := m.keyOf(e)
	if sub, ok := m.byKey[k]; ok {
		sub.remove(e)
		if len(sub.items) == 0 {
			delete(m.byKey, k)
		}
	}
	return true
}

// Contains reports whether e is in the set.
func (m *OrderedMultiSet[K, E]) Contains(e E) bool {
	_, ok := m.members[e]
	return ok
}

func (m *OrderedMultiSet[K, E]) view(k K, all bool) []E {
	if all {
		return m.all.items
	}
	if sub, ok := m.byKey[k]; ok {
		return sub.items
	}
	return nil
}

// First returns the lowest-ordered element of the selected view.
func (m *OrderedMultiSet[K, E]) First(k K, all bool) (E, bool) {
	items := m.view(k, all)
	if len(items) == 0 {
		var zero E
		return zero, false
	}
	return items[0], true
}

// Size returns the number of elements in the selected view.
func (m *OrderedMultiSet[K, E]) Size(k K, all bool) int {
	return len(m.view(k, all))
}

// Each calls fn for every element of the selected view in order, stopping
// when fn returns false. fn must not mutate the set.
func (m *OrderedMultiSet[K, E]) Each(k K, all bool, fn func(E) bool) {
	for _, e := range m.view(k, all) {
		if !fn(e) {
			return
		}
	}
}

// Keys returns every key with at least one member, in no particular order.
func (m *OrderedMultiSet[K, E]) Keys() []K {
	keys := make([]K, 0, len(m.byKey))
	for k := range m.byKey {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the size of the whole set.
func (m *OrderedMultiSet[K, E]) Len() int {
	return len(m.all.items)
}

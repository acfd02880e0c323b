// Package ordermap provides a generic ordered key-value map backed by
// github.com/google/btree, replacing the macro-expanded AVL trees the
// reference datapath keeps per key shape (MAC addresses, multicast
// group/source signatures, relay cache keys) with a single parameterized
// implementation.
package ordermap

import "github.com/google/btree"

// Map is an ordered map from K to V, ordered by less. Zero value is not
// usable; construct with New.
type Map[K comparable, V any] struct {
	less func(a, b K) bool
	tree *btree.BTreeG[entry[K, V]]
}

type entry[K comparable, V any] struct {
	key K
	val V
}

// New builds a Map ordered by less.
func New[K comparable, V any](less func(a, b K) bool) *Map[K, V] {
	m := &Map[K, V]{less: less}
	m.tree = btree.NewG(32, func(a, b entry[K, V]) bool {
		return less(a.key, b.key)
	})
	return m
}

// Set inserts or replaces the value stored under key.
func (m *Map[K, V]) Set(key K, val V) {
	m.tree.ReplaceOrInsert(entry[K, V]{key: key, val: val})
}

// Get reports whether key is present and, if so, its value.
func (m *Map[K, V]) Get(key K) (V, bool) {
	e, ok := m.tree.Get(entry[K, V]{key: key})
	return e.val, ok
}

// Delete removes key, reporting whether it was present.
func (m *Map[K, V]) Delete(key K) bool {
	_, ok := m.tree.Delete(entry[K, V]{key: key})
	return ok
}

// Len returns the number of entries.
func (m *Map[K, V]) Len() int {
	return m.tree.Len()
}

// Ascend calls fn for every entry in increasing key order until fn
// returns false.
func (m *Map[K, V]) Ascend(fn func(key K, val V) bool) {
	m.tree.Ascend(func(e entry[K, V]) bool {
		return fn(e.key, e.val)
	})
}

// Min returns the smallest key and its value, if the map is non-empty.
func (m *Map[K, V]) Min() (key K, val V, ok bool) {
	e, ok := m.tree.Min()
	return e.key, e.val, ok
}

// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package syncx holds typed concurrency helpers shared across the serving
// path.
package syncx

import "sync"

// Map is a type-safe wrapper around sync.Map. The serving path uses it for
// per-project state that is written once and read on every request, which is
// the access pattern sync.Map is built for.
type Map[K comparable, V any] struct {
	m sync.Map
}

// Load returns the value stored for key, or the zero value if none is
// present. The ok result indicates whether the key was found.
func (m *Map[K, V]) Load(key K) (value V, ok bool) {
	v, ok := m.m.Load(key)
	if !ok {
		var zero V
		return zero, false
	}
	return v.(V), true
}

// LoadOrStore returns the existing value for key if present. Otherwise it
// stores and returns the given value. The loaded result is true if the value
// was loaded, false if stored.
func (m *Map[K, V]) LoadOrStore(key K, value V) (actual V, loaded bool) {
	a, loaded := m.m.LoadOrStore(key, value)
	return a.(V), loaded
}

// Store sets the value for key.
func (m *Map[K, V]) Store(key K, value V) {
	m.m.Store(key, value)
}

// Delete deletes the value for key.
func (m *Map[K, V]) Delete(key K) {
	m.m.Delete(key)
}

// Range calls f sequentially for each key and value present in the map.
// If f returns false, the iteration stops.
func (m *Map[K, V]) Range(f func(key K, value V) bool) {
	m.m.Range(func(key, value any) bool {
		return f(key.(K), value.(V))
	})
}

// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package syncx

import (
	"sync"
	"testing"
)

func TestMapLoadStore(t *testing.T) {
	var m Map[string, int]
	if v, ok := m.Load("absent"); ok || v != 0 {
		t.Errorf("Load(absent) = (%d, %t), want zero value and false", v, ok)
	}
	m.Store("hits", 3)
	if v, ok := m.Load("hits"); !ok || v != 3 {
		t.Errorf("Load(hits) = (%d, %t), want (3, true)", v, ok)
	}
	m.Delete("hits")
	if _, ok := m.Load("hits"); ok {
		t.Error("Load succeeded after Delete")
	}
}

func TestMapLoadOrStore(t *testing.T) {
	var m Map[string, int]
	if actual, loaded := m.LoadOrStore("limit", 10); loaded || actual != 10 {
		t.Errorf("LoadOrStore(new) = (%d, %t), want (10, false)", actual, loaded)
	}
	if actual, loaded := m.LoadOrStore("limit", 99); !loaded || actual != 10 {
		t.Errorf("LoadOrStore(existing) = (%d, %t), want (10, true)", actual, loaded)
	}
}

func TestMapConcurrentLoadOrStore(t *testing.T) {
	// Concurrent racers for one key must all observe the same stored value.
	var m Map[string, *int]
	var wg sync.WaitGroup
	results := make([]*int, 16)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v := i
			actual, _ := m.LoadOrStore("shared", &v)
			results[i] = actual
		}()
	}
	wg.Wait()
	for i, got := range results {
		if got != results[0] {
			t.Fatalf("racer %d observed %p, racer 0 observed %p", i, got, results[0])
		}
	}
}

func TestMapRange(t *testing.T) {
	var m Map[string, int]
	m.Store("a", 1)
	m.Store("b", 2)
	seen := map[string]int{}
	m.Range(func(k string, v int) bool {
		seen[k] = v
		return true
	})
	if len(seen) != 2 || seen["a"] != 1 || seen["b"] != 2 {
		t.Errorf("Range visited %v", seen)
	}
}

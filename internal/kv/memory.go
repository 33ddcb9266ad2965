// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package kv

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	value       []byte
	contentType string
	expiresAt   time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is an in-process Store for tests and single-node deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	// now is swapped out by tests to drive TTL expiry.
	now func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, *Meta, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok || entry.expired(s.now()) {
		return nil, nil, ErrNotFound
	}
	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, &Meta{
		ContentType: entry.contentType,
		Size:        int64(len(entry.value)),
		ExpiresAt:   entry.expiresAt,
	}, nil
}

func (s *MemoryStore) GetText(ctx context.Context, key string) (string, error) {
	value, _, err := s.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return string(value), nil
}

func (s *MemoryStore) Put(ctx context.Context, key string, value []byte, opts *PutOptions) error {
	entry := memoryEntry{value: make([]byte, len(value))}
	copy(entry.value, value)
	if opts != nil {
		entry.contentType = opts.ContentType
		if opts.TTL > 0 {
			entry.expiresAt = s.now().Add(opts.TTL)
		}
	}
	s.mu.Lock()
	s.entries[key] = entry
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	return ok && !entry.expired(s.now()), nil
}

func (s *MemoryStore) List(ctx context.Context, prefix string, limit int, cursor string) (*Page, error) {
	limit = clampLimit(limit)
	now := s.now()
	s.mu.RLock()
	keys := make([]string, 0, len(s.entries))
	for key, entry := range s.entries {
		if strings.HasPrefix(key, prefix) && key > cursor && !entry.expired(now) {
			keys = append(keys, key)
		}
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	page := &Page{Complete: true}
	if len(keys) > limit {
		keys = keys[:limit]
		page.Complete = false
		page.Cursor = keys[limit-1]
	}
	page.Keys = keys
	return page, nil
}

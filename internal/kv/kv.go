// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package kv defines the blob store used for project metadata, upload
// sessions, static assets, and server code. Implementations back it with
// memory, Redis, GCS, or Firestore; callers compose them per binding so
// metadata and bulk blobs can live in different systems.
package kv

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by Get and GetText for absent or expired keys.
var ErrNotFound = errors.New("key not found")

// DefaultListLimit bounds List pages when the caller does not.
const DefaultListLimit = 1000

// Meta carries the stored attributes of a blob.
type Meta struct {
	ContentType string
	Size        int64
	// ExpiresAt is zero for keys without a TTL.
	ExpiresAt time.Time
}

// PutOptions attaches attributes at write time. A zero TTL stores the key
// without expiry; re-putting a key replaces its TTL entirely, so writing with
// a zero TTL clears a previously set one.
type PutOptions struct {
	ContentType string
	TTL         time.Duration
}

// Page is one window of an ordered key listing.
type Page struct {
	Keys []string
	// Cursor resumes listing after the last returned key. Opaque to callers
	// and meaningless across stores.
	Cursor   string
	Complete bool
}

// Store is a flat keyspace of binary blobs with per-key TTLs and ordered
// prefix listing. Keys are slash-separated paths; values are opaque.
type Store interface {
	// Get returns the blob and its attributes, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, *Meta, error)
	// GetText is Get for UTF-8 payloads, discarding attributes.
	GetText(ctx context.Context, key string) (string, error)
	// Put stores the blob, replacing any prior value and TTL.
	Put(ctx context.Context, key string, value []byte, opts *PutOptions) error
	// Delete removes the key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Exists reports presence without fetching the value.
	Exists(ctx context.Context, key string) (bool, error)
	// List returns keys with the given prefix in lexicographic order,
	// starting after the cursor. A non-positive limit applies
	// DefaultListLimit.
	List(ctx context.Context, prefix string, limit int, cursor string) (*Page, error)
}

// IsNotFound reports whether err indicates an absent key.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// prefixSuccessor returns the smallest key greater than every key with the
// given prefix, or "" when no upper bound exists.
func prefixSuccessor(prefix string) string {
	for i := len(prefix) - 1; i >= 0; i-- {
		if prefix[i] < 0xff {
			return prefix[:i] + string([]byte{prefix[i] + 1})
		}
	}
	return ""
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}

// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package kv

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/pkg/errors"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore keeps blobs as documents in one collection. Document IDs
// are the SHA-256 of the key since IDs cannot contain slashes; the key
// itself is a field so listings can order and range over it.
type FirestoreStore struct {
	coll *firestore.CollectionRef
}

var _ Store = (*FirestoreStore)(nil)

// NewFirestoreStore returns a Store over the named collection.
func NewFirestoreStore(client *firestore.Client, collection string) *FirestoreStore {
	return &FirestoreStore{coll: client.Collection(collection)}
}

type firestoreEntry struct {
	Key         string     `firestore:"k"`
	Value       []byte     `firestore:"v"`
	ContentType string     `firestore:"ct,omitempty"`
	ExpiresAt   *time.Time `firestore:"exp,omitempty"`
}

func (e *firestoreEntry) expired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}

func (s *FirestoreStore) doc(key string) *firestore.DocumentRef {
	sum := sha256.Sum256([]byte(key))
	return s.coll.Doc(hex.EncodeToString(sum[:]))
}

func (s *FirestoreStore) fetch(ctx context.Context, key string) (*firestoreEntry, error) {
	snapshot, err := s.doc(key).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, errors.Wrapf(err, "fetching %s", key)
	}
	var entry firestoreEntry
	if err := snapshot.DataTo(&entry); err != nil {
		return nil, errors.Wrapf(err, "decoding %s", key)
	}
	if entry.expired(time.Now()) {
		return nil, ErrNotFound
	}
	return &entry, nil
}

func (s *FirestoreStore) Get(ctx context.Context, key string) ([]byte, *Meta, error) {
	entry, err := s.fetch(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	meta := &Meta{ContentType: entry.ContentType, Size: int64(len(entry.Value))}
	if entry.ExpiresAt != nil {
		meta.ExpiresAt = *entry.ExpiresAt
	}
	return entry.Value, meta, nil
}

func (s *FirestoreStore) GetText(ctx context.Context, key string) (string, error) {
	entry, err := s.fetch(ctx, key)
	if err != nil {
		return "", err
	}
	return string(entry.Value), nil
}

func (s *FirestoreStore) Put(ctx context.Context, key string, value []byte, opts *PutOptions) error {
	entry := firestoreEntry{Key: key, Value: value}
	if opts != nil {
		entry.ContentType = opts.ContentType
		if opts.TTL > 0 {
			expiry := time.Now().Add(opts.TTL)
			entry.ExpiresAt = &expiry
		}
	}
	// Set overwrites the whole document, so a put without TTL clears any
	// prior expiry.
	_, err := s.doc(key).Set(ctx, entry)
	return errors.Wrapf(err, "putting %s", key)
}

func (s *FirestoreStore) Delete(ctx context.Context, key string) error {
	_, err := s.doc(key).Delete(ctx)
	return errors.Wrapf(err, "deleting %s", key)
}

func (s *FirestoreStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.fetch(ctx, key)
	if IsNotFound(err) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return true, nil
}

func (s *FirestoreStore) List(ctx context.Context, prefix string, limit int, cursor string) (*Page, error) {
	limit = clampLimit(limit)
	var alive []string
	after := cursor
	for len(alive) < limit+1 {
		batch := limit + 1 - len(alive)
		q := s.coll.Query.OrderBy("k", firestore.Asc).Where("k", ">=", prefix).Limit(batch)
		if succ := prefixSuccessor(prefix); succ != "" {
			q = q.Where("k", "<", succ)
		}
		if after != "" {
			q = q.StartAfter(after)
		}
		fetched := 0
		iter := q.Documents(ctx)
		for {
			snapshot, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				return nil, errors.Wrapf(err, "listing %s", prefix)
			}
			var entry firestoreEntry
			if err := snapshot.DataTo(&entry); err != nil {
				return nil, errors.Wrapf(err, "listing %s", prefix)
			}
			fetched++
			after = entry.Key
			if !entry.expired(time.Now()) {
				alive = append(alive, entry.Key)
			}
		}
		if fetched < batch {
			break
		}
	}
	page := &Page{Complete: true}
	if len(alive) > limit {
		alive = alive[:limit]
		page.Complete = false
		page.Cursor = alive[limit-1]
	}
	page.Keys = alive
	return page, nil
}

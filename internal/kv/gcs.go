// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package kv

import (
	"context"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"google.golang.org/api/iterator"
)

// gcsExpiryKey is the object metadata entry holding the RFC 3339 expiry.
// GCS has no per-object TTL so expiry is enforced lazily: expired objects
// read as absent and the watchdog removes them for real.
const gcsExpiryKey = "expires-at"

// GCSStore keeps blobs as objects in one bucket, optionally under a fixed
// object-name prefix so several stores can share a bucket.
type GCSStore struct {
	bucket *storage.BucketHandle
	prefix string
}

var _ Store = (*GCSStore)(nil)

// NewGCSStore returns a Store over gs://bucket/prefix.
func NewGCSStore(client *storage.Client, bucket, prefix string) *GCSStore {
	return &GCSStore{bucket: client.Bucket(bucket), prefix: prefix}
}

func (s *GCSStore) object(key string) *storage.ObjectHandle {
	return s.bucket.Object(s.prefix + key)
}

func gcsExpiry(metadata map[string]string) time.Time {
	raw, ok := metadata[gcsExpiryKey]
	if !ok {
		return time.Time{}
	}
	expiry, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return expiry
}

func gcsExpired(metadata map[string]string) bool {
	expiry := gcsExpiry(metadata)
	return !expiry.IsZero() && !time.Now().Before(expiry)
}

func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, *Meta, error) {
	attrs, err := s.object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, nil, ErrNotFound
	} else if err != nil {
		return nil, nil, errors.Wrapf(err, "fetching %s", key)
	}
	if gcsExpired(attrs.Metadata) {
		return nil, nil, ErrNotFound
	}
	r, err := s.object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, nil, ErrNotFound
	} else if err != nil {
		return nil, nil, errors.Wrapf(err, "fetching %s", key)
	}
	defer r.Close()
	value, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "reading %s", key)
	}
	return value, &Meta{
		ContentType: attrs.ContentType,
		Size:        int64(len(value)),
		ExpiresAt:   gcsExpiry(attrs.Metadata),
	}, nil
}

func (s *GCSStore) GetText(ctx context.Context, key string) (string, error) {
	value, _, err := s.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return string(value), nil
}

func (s *GCSStore) Put(ctx context.Context, key string, value []byte, opts *PutOptions) error {
	w := s.object(key).NewWriter(ctx)
	if opts != nil {
		w.ContentType = opts.ContentType
		if opts.TTL > 0 {
			w.Metadata = map[string]string{
				gcsExpiryKey: time.Now().Add(opts.TTL).UTC().Format(time.RFC3339),
			}
		}
	}
	if _, err := w.Write(value); err != nil {
		w.Close()
		return errors.Wrapf(err, "putting %s", key)
	}
	return errors.Wrapf(w.Close(), "putting %s", key)
}

func (s *GCSStore) Delete(ctx context.Context, key string) error {
	err := s.object(key).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return errors.Wrapf(err, "deleting %s", key)
}

func (s *GCSStore) Exists(ctx context.Context, key string) (bool, error) {
	attrs, err := s.object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	} else if err != nil {
		return false, errors.Wrapf(err, "probing %s", key)
	}
	return !gcsExpired(attrs.Metadata), nil
}

func (s *GCSStore) List(ctx context.Context, prefix string, limit int, cursor string) (*Page, error) {
	limit = clampLimit(limit)
	q := &storage.Query{Prefix: s.prefix + prefix}
	if err := q.SetAttrSelection([]string{"Name", "Metadata"}); err != nil {
		return nil, errors.Wrap(err, "listing")
	}
	pager := iterator.NewPager(s.bucket.Objects(ctx, q), limit, cursor)
	var attrs []*storage.ObjectAttrs
	next, err := pager.NextPage(&attrs)
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s", prefix)
	}
	page := &Page{Cursor: next, Complete: next == ""}
	for _, a := range attrs {
		if gcsExpired(a.Metadata) {
			continue
		}
		page.Keys = append(page.Keys, strings.TrimPrefix(a.Name, s.prefix))
	}
	return page, nil
}

// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package kv

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, "test"), mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newRedisStore(t)
	if _, _, err := s.Get(ctx, "missing"); !IsNotFound(err) {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}
	if err := s.Put(ctx, "greeting", []byte("hello"), &PutOptions{ContentType: "text/plain"}); err != nil {
		t.Fatalf("Put() = %v", err)
	}
	value, meta, err := s.Get(ctx, "greeting")
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if string(value) != "hello" {
		t.Errorf("Get() value = %q, want %q", value, "hello")
	}
	if meta.ContentType != "text/plain" || meta.Size != 5 || !meta.ExpiresAt.IsZero() {
		t.Errorf("Get() meta = %+v", meta)
	}
	if ok, err := s.Exists(ctx, "greeting"); err != nil || !ok {
		t.Errorf("Exists() = %v, %v, want true", ok, err)
	}
	if err := s.Delete(ctx, "greeting"); err != nil {
		t.Fatalf("Delete() = %v", err)
	}
	if err := s.Delete(ctx, "greeting"); err != nil {
		t.Errorf("Delete(absent) = %v, want nil", err)
	}
	if ok, _ := s.Exists(ctx, "greeting"); ok {
		t.Error("Exists() = true after delete")
	}
}

func TestRedisStoreTTL(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t)
	if err := s.Put(ctx, "ephemeral", []byte("x"), &PutOptions{TTL: time.Hour}); err != nil {
		t.Fatalf("Put() = %v", err)
	}
	_, meta, err := s.Get(ctx, "ephemeral")
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if !meta.ExpiresAt.After(time.Now()) {
		t.Errorf("ExpiresAt = %v, want future", meta.ExpiresAt)
	}
	mr.FastForward(2 * time.Hour)
	if _, _, err := s.Get(ctx, "ephemeral"); !IsNotFound(err) {
		t.Errorf("Get(expired) = %v, want ErrNotFound", err)
	}
	// Listing prunes the index entry for the expired key.
	page, err := s.List(ctx, "", 0, "")
	if err != nil {
		t.Fatalf("List() = %v", err)
	}
	if len(page.Keys) != 0 {
		t.Errorf("List() returned expired keys: %v", page.Keys)
	}
	// Re-putting without a TTL makes the key durable again.
	if err := s.Put(ctx, "ephemeral", []byte("y"), nil); err != nil {
		t.Fatalf("Put() = %v", err)
	}
	mr.FastForward(100 * time.Hour)
	if ok, _ := s.Exists(ctx, "ephemeral"); !ok {
		t.Error("Exists() = false after TTL-clearing re-put")
	}
}

func TestRedisStoreList(t *testing.T) {
	ctx := context.Background()
	s, _ := newRedisStore(t)
	var want []string
	for i := range 25 {
		key := fmt.Sprintf("project/p1/asset/%02d", i)
		want = append(want, key)
		if err := s.Put(ctx, key, []byte("x"), nil); err != nil {
			t.Fatalf("Put() = %v", err)
		}
	}
	if err := s.Put(ctx, "project/p2/asset/00", []byte("x"), nil); err != nil {
		t.Fatalf("Put() = %v", err)
	}
	var got []string
	var cursor string
	for {
		page, err := s.List(ctx, "project/p1/", 10, cursor)
		if err != nil {
			t.Fatalf("List() = %v", err)
		}
		got = append(got, page.Keys...)
		if page.Complete {
			break
		}
		cursor = page.Cursor
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("List() pages mismatch (-want +got):\n%s", diff)
	}
}

func TestRedisStoreNamespaceIsolation(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	projects := NewRedisStore(client, "projects")
	assets := NewRedisStore(client, "assets")
	if err := projects.Put(ctx, "shared-key", []byte("project"), nil); err != nil {
		t.Fatalf("Put() = %v", err)
	}
	if err := assets.Put(ctx, "shared-key", []byte("asset"), nil); err != nil {
		t.Fatalf("Put() = %v", err)
	}
	if text, err := projects.GetText(ctx, "shared-key"); err != nil || text != "project" {
		t.Errorf("projects GetText() = %q, %v", text, err)
	}
	if text, err := assets.GetText(ctx, "shared-key"); err != nil || text != "asset" {
		t.Errorf("assets GetText() = %q, %v", text, err)
	}
	if err := projects.Delete(ctx, "shared-key"); err != nil {
		t.Fatalf("Delete() = %v", err)
	}
	if ok, _ := assets.Exists(ctx, "shared-key"); !ok {
		t.Error("assets key vanished with projects delete")
	}
	page, err := assets.List(ctx, "", 0, "")
	if err != nil {
		t.Fatalf("List() = %v", err)
	}
	if diff := cmp.Diff([]string{"shared-key"}, page.Keys); diff != "" {
		t.Errorf("assets List() mismatch (-want +got):\n%s", diff)
	}
}

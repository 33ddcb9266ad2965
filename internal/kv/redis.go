// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package kv

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps blobs in Redis hashes, one per key, with native TTL
// enforcement. A sorted set mirrors the keyspace so List can walk it in
// lexicographic order; index entries for expired keys are pruned lazily
// during listing.
type RedisStore struct {
	client    redis.UniversalClient
	namespace string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore returns a Store over the given client. The namespace isolates
// this store's keys from other stores sharing the same database.
func NewRedisStore(client redis.UniversalClient, namespace string) *RedisStore {
	return &RedisStore{client: client, namespace: namespace}
}

func (s *RedisStore) dataKey(key string) string {
	return s.namespace + ":" + key
}

// indexKey cannot collide with dataKey: the NUL separator never follows the
// namespace in a data key.
func (s *RedisStore) indexKey() string {
	return s.namespace + "\x00index"
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, *Meta, error) {
	pipe := s.client.Pipeline()
	dataCmd := pipe.HGetAll(ctx, s.dataKey(key))
	ttlCmd := pipe.PTTL(ctx, s.dataKey(key))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, nil, errors.Wrapf(err, "fetching %s", key)
	}
	fields := dataCmd.Val()
	if len(fields) == 0 {
		return nil, nil, ErrNotFound
	}
	value := []byte(fields["v"])
	meta := &Meta{ContentType: fields["ct"], Size: int64(len(value))}
	if ttl := ttlCmd.Val(); ttl > 0 {
		meta.ExpiresAt = time.Now().Add(ttl)
	}
	return value, meta, nil
}

func (s *RedisStore) GetText(ctx context.Context, key string) (string, error) {
	value, _, err := s.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return string(value), nil
}

func (s *RedisStore) Put(ctx context.Context, key string, value []byte, opts *PutOptions) error {
	fields := []any{"v", value}
	if opts != nil && opts.ContentType != "" {
		fields = append(fields, "ct", opts.ContentType)
	}
	pipe := s.client.TxPipeline()
	// DEL first so stale fields and TTLs never survive a re-put.
	pipe.Del(ctx, s.dataKey(key))
	pipe.HSet(ctx, s.dataKey(key), fields...)
	if opts != nil && opts.TTL > 0 {
		pipe.PExpire(ctx, s.dataKey(key), opts.TTL)
	}
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{Member: key})
	_, err := pipe.Exec(ctx)
	return errors.Wrapf(err, "putting %s", key)
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.dataKey(key))
	pipe.ZRem(ctx, s.indexKey(), key)
	_, err := pipe.Exec(ctx)
	return errors.Wrapf(err, "deleting %s", key)
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.dataKey(key)).Result()
	if err != nil {
		return false, errors.Wrapf(err, "probing %s", key)
	}
	return n > 0, nil
}

func (s *RedisStore) List(ctx context.Context, prefix string, limit int, cursor string) (*Page, error) {
	limit = clampLimit(limit)
	lower := "[" + prefix
	if cursor != "" {
		lower = "(" + cursor
	}
	upper := "+"
	if succ := prefixSuccessor(prefix); succ != "" {
		upper = "(" + succ
	}
	var alive []string
	for len(alive) < limit+1 {
		count := int64(limit + 1 - len(alive))
		members, err := s.client.ZRangeByLex(ctx, s.indexKey(), &redis.ZRangeBy{
			Min: lower, Max: upper, Count: count,
		}).Result()
		if err != nil {
			return nil, errors.Wrapf(err, "listing %s", prefix)
		}
		if len(members) == 0 {
			break
		}
		pipe := s.client.Pipeline()
		probes := make([]*redis.IntCmd, len(members))
		for i, member := range members {
			probes[i] = pipe.Exists(ctx, s.dataKey(member))
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, errors.Wrapf(err, "listing %s", prefix)
		}
		var dead []any
		for i, member := range members {
			if probes[i].Val() > 0 {
				alive = append(alive, member)
			} else {
				dead = append(dead, member)
			}
		}
		if len(dead) > 0 {
			if err := s.client.ZRem(ctx, s.indexKey(), dead...).Err(); err != nil {
				return nil, errors.Wrapf(err, "pruning %s", prefix)
			}
		}
		lower = "(" + members[len(members)-1]
		if int64(len(members)) < count {
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

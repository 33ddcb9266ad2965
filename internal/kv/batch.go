// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package kv

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const (
	// existsChunkSize caps the keys probed by one BatchExists worker.
	existsChunkSize = 100
	// deleteBatchSize caps the keys removed by one DeleteAllByPrefix round.
	deleteBatchSize = 50
	// batchConcurrency bounds in-flight store calls per batch helper.
	batchConcurrency = 8
)

// BatchExists probes many keys at once, fanning out over chunks of at most
// existsChunkSize. The result maps every requested key to its presence.
func BatchExists(ctx context.Context, s Store, keys []string) (map[string]bool, error) {
	result := make(map[string]bool, len(keys))
	var mu sync.Mutex
	eg, eCtx := errgroup.WithContext(ctx)
	eg.SetLimit(batchConcurrency)
	for start := 0; start < len(keys); start += existsChunkSize {
		chunk := keys[start:min(start+existsChunkSize, len(keys))]
		eg.Go(func() error {
			found := make(map[string]bool, len(chunk))
			for _, key := range chunk {
				ok, err := s.Exists(eCtx, key)
				if err != nil {
					return errors.Wrapf(err, "probing %s", key)
				}
				found[key] = ok
			}
			mu.Lock()
			defer mu.Unlock()
			for key, ok := range found {
				result[key] = ok
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// BatchGet fetches many keys at once. Absent keys are omitted from the
// result rather than failing the batch.
func BatchGet(ctx context.Context, s Store, keys []string) (map[string][]byte, error) {
	result := make(map[string][]byte, len(keys))
	var mu sync.Mutex
	eg, eCtx := errgroup.WithContext(ctx)
	eg.SetLimit(batchConcurrency)
	for _, key := range keys {
		eg.Go(func() error {
			value, _, err := s.Get(eCtx, key)
			if IsNotFound(err) {
				return nil
			} else if err != nil {
				return errors.Wrapf(err, "fetching %s", key)
			}
			mu.Lock()
			result[key] = value
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteAllByPrefix removes every key under prefix, deleting in rounds of at
// most deleteBatchSize. Returns the number of keys removed.
func DeleteAllByPrefix(ctx context.Context, s Store, prefix string) (int, error) {
	var deleted int
	for {
		page, err := s.List(ctx, prefix, deleteBatchSize, "")
		if err != nil {
			return deleted, errors.Wrapf(err, "listing %s", prefix)
		}
		if len(page.Keys) == 0 {
			return deleted, nil
		}
		eg, eCtx := errgroup.WithContext(ctx)
		eg.SetLimit(batchConcurrency)
		for _, key := range page.Keys {
			eg.Go(func() error {
				return errors.Wrapf(s.Delete(eCtx, key), "deleting %s", key)
			})
		}
		if err := eg.Wait(); err != nil {
			return deleted, err
		}
		deleted += len(page.Keys)
		if page.Complete {
			return deleted, nil
		}
	}
}

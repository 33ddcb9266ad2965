// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package kv

import (
	"context"
	"time"
)

// RetryStore wraps a Store and retries each failed operation once after a
// fixed backoff. ErrNotFound is a result, not a failure, and passes through.
type RetryStore struct {
	Store
	// Backoff delays the retry. Defaults to one second.
	Backoff time.Duration
}

var _ Store = (*RetryStore)(nil)

func (s *RetryStore) backoff(ctx context.Context) error {
	delay := s.Backoff
	if delay == 0 {
		delay = time.Second
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *RetryStore) Get(ctx context.Context, key string) ([]byte, *Meta, error) {
	value, meta, err := s.Store.Get(ctx, key)
	if err == nil || IsNotFound(err) {
		return value, meta, err
	}
	if berr := s.backoff(ctx); berr != nil {
		return nil, nil, err
	}
	return s.Store.Get(ctx, key)
}

func (s *RetryStore) GetText(ctx context.Context, key string) (string, error) {
	value, err := s.Store.GetText(ctx, key)
	if err == nil || IsNotFound(err) {
		return value, err
	}
	if berr := s.backoff(ctx); berr != nil {
		return "", err
	}
	return s.Store.GetText(ctx, key)
}

func (s *RetryStore) Put(ctx context.Context, key string, value []byte, opts *PutOptions) error {
	err := s.Store.Put(ctx, key, value, opts)
	if err == nil {
		return nil
	}
	if berr := s.backoff(ctx); berr != nil {
		return err
	}
	return s.Store.Put(ctx, key, value, opts)
}

func (s *RetryStore) Delete(ctx context.Context, key string) error {
	err := s.Store.Delete(ctx, key)
	if err == nil {
		return nil
	}
	if berr := s.backoff(ctx); berr != nil {
		return err
	}
	return s.Store.Delete(ctx, key)
}

func (s *RetryStore) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := s.Store.Exists(ctx, key)
	if err == nil {
		return ok, nil
	}
	if berr := s.backoff(ctx); berr != nil {
		return false, err
	}
	return s.Store.Exists(ctx, key)
}

func (s *RetryStore) List(ctx context.Context, prefix string, limit int, cursor string) (*Page, error) {
	page, err := s.Store.List(ctx, prefix, limit, cursor)
	if err == nil {
		return page, nil
	}
	if berr := s.backoff(ctx); berr != nil {
		return nil, err
	}
	return s.Store.List(ctx, prefix, limit, cursor)
}

// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package worker dispatches requests into a project's deployed server code.
// The platform treats server modules as opaque bytes: an Executor owns the
// runtime (isolate pool, container, subprocess) and this package only loads
// bundles and hands them over together with the request.
package worker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/pagedock/pagedock/internal/cache"
	"github.com/pagedock/pagedock/internal/kv"
	"github.com/pagedock/pagedock/pkg/schema"
)

// moduleFetchConcurrency bounds in-flight store reads per bundle load.
const moduleFetchConcurrency = 8

// ErrNoServerCode is returned by the Loader for projects that deployed
// without a server-code bundle.
var ErrNoServerCode = errors.New("project has no server code")

// Code is a loaded server-code bundle: the manifest plus the bytes of every
// module it references, keyed by module path.
type Code struct {
	Manifest *schema.ServerCodeManifest
	Modules  map[string][]byte
}

// Invocation is one request dispatched into server code.
type Invocation struct {
	Project *schema.Project
	Code    *Code
	Request *http.Request
	// Assets serves the project's static assets. Executors expose it to
	// server code as the ASSETS loopback binding so user code can fetch its
	// own deployed files without leaving the process.
	Assets http.Handler
}

// Executor runs server code against a request. Implementations decide what
// the module bytes mean; the rest of the platform never interprets them.
type Executor interface {
	Invoke(ctx context.Context, inv Invocation) (*http.Response, error)
}

// FuncExecutor adapts a plain function into an Executor. It stands in for a
// real runtime in tests and local development.
type FuncExecutor func(ctx context.Context, inv Invocation) (*http.Response, error)

// Invoke calls f.
func (f FuncExecutor) Invoke(ctx context.Context, inv Invocation) (*http.Response, error) {
	return f(ctx, inv)
}

// Unimplemented is the Executor for deployments without a worker runtime.
// Asset-only projects are unaffected; requests that route to server code
// answer 501 so the gap is visible instead of a silent 404.
type Unimplemented struct{}

// Invoke reports that no runtime is configured.
func (Unimplemented) Invoke(ctx context.Context, inv Invocation) (*http.Response, error) {
	return &http.Response{
		StatusCode: http.StatusNotImplemented,
		Header:     http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
		Body:       io.NopCloser(strings.NewReader("server code execution is not configured\n")),
	}, nil
}

// Loader fetches server-code bundles from the store. Module blobs are
// content addressed and therefore immutable, so their bytes are cached in
// process; concurrent loads of the same module share one fetch.
type Loader struct {
	store   kv.Store
	modules cache.Cache
}

// NewLoader returns a Loader reading bundles from store.
func NewLoader(store kv.Store) *Loader {
	return &Loader{store: store, modules: &cache.CoalescingMemoryCache{}}
}

// Manifest fetches and decodes a project's server-code manifest. Projects
// without server code yield ErrNoServerCode.
func (l *Loader) Manifest(ctx context.Context, projectID string) (*schema.ServerCodeManifest, error) {
	raw, _, err := l.store.Get(ctx, schema.ModuleManifestKey(projectID))
	if kv.IsNotFound(err) {
		return nil, ErrNoServerCode
	} else if err != nil {
		return nil, errors.Wrap(err, "fetching server-code manifest")
	}
	var manifest schema.ServerCodeManifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, errors.Wrap(err, "decoding server-code manifest")
	}
	return &manifest, nil
}

// Load fetches a project's full bundle: the manifest plus every module.
func (l *Loader) Load(ctx context.Context, projectID string) (*Code, error) {
	manifest, err := l.Manifest(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return l.LoadModules(ctx, projectID, manifest)
}

// LoadModules fetches the module bytes for an already-fetched manifest. The
// router prefetches manifests in parallel with asset lookup and completes
// the bundle here only when the request actually routes to server code.
func (l *Loader) LoadModules(ctx context.Context, projectID string, manifest *schema.ServerCodeManifest) (*Code, error) {
	modules := make(map[string][]byte, len(manifest.Modules))
	var mu sync.Mutex
	eg, eCtx := errgroup.WithContext(ctx)
	eg.SetLimit(moduleFetchConcurrency)
	for path, module := range manifest.Modules {
		eg.Go(func() error {
			value, err := l.modules.GetOrSet(module.Hash, func() (any, error) {
				data, _, err := l.store.Get(eCtx, schema.ModuleKey(projectID, module.Hash))
				return data, err
			})
			if err != nil {
				return errors.Wrapf(err, "loading module %s", path)
			}
			mu.Lock()
			modules[path] = value.([]byte)
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	if _, ok := modules[manifest.Entrypoint]; !ok {
		return nil, errors.Errorf("manifest entrypoint %q has no module", manifest.Entrypoint)
	}
	return &Code{Manifest: manifest, Modules: modules}, nil
}

// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package assets implements content-addressed asset storage and the static
// serving pipeline: redirect rules, HTML-handling resolution, not-found
// fallbacks, canonicalization, and conditional-request shaping.
package assets

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"github.com/pagedock/pagedock/internal/kv"
	"github.com/pagedock/pagedock/pkg/assetindex"
	"github.com/pagedock/pagedock/pkg/content"
	"github.com/pagedock/pagedock/pkg/schema"
)

const fallbackContentType = "application/octet-stream"

// Service exposes asset blob storage and manifest management over one kv
// binding. All keys are scoped under the owning project so multiple
// projects can share a physical store.
type Service struct {
	store kv.Store
}

// NewService returns a Service backed by the given store. Wrap the store in
// a kv.RetryStore when the backend benefits from a second attempt on reads.
func NewService(store kv.Store) *Service {
	return &Service{store: store}
}

// UploadAsset stores one content-addressed blob after re-verifying that the
// bytes hash to the declared name. Re-uploading an existing hash is a cheap
// overwrite with identical content.
func (s *Service) UploadAsset(ctx context.Context, projectID, hash string, data []byte, contentType string) error {
	if !content.ValidHash(hash) {
		return errors.Errorf("malformed content hash %q", hash)
	}
	if got := content.Hash(data); got != hash {
		return errors.Errorf("content does not match hash %s", hash)
	}
	if contentType == "" {
		contentType = fallbackContentType
	}
	opts := &kv.PutOptions{ContentType: contentType}
	return s.store.Put(ctx, schema.AssetKey(projectID, hash), data, opts)
}

// CheckAssetsExist reports which of the given content hashes already have
// blobs stored for the project. Every requested hash appears in the result.
func (s *Service) CheckAssetsExist(ctx context.Context, projectID string, hashes []string) (map[string]bool, error) {
	keys := make([]string, len(hashes))
	for i, h := range hashes {
		keys[i] = schema.AssetKey(projectID, h)
	}
	byKey, err := kv.BatchExists(ctx, s.store, keys)
	if err != nil {
		return nil, err
	}
	exists := make(map[string]bool, len(hashes))
	for i, h := range hashes {
		exists[h] = byKey[keys[i]]
	}
	return exists, nil
}

// UploadManifest validates and encodes the project's asset manifest and
// writes it to the fixed manifest key. The returned slice lists content
// hashes the manifest references but no blob exists for, sorted; in the
// normal flow the upload phase has already stored every blob and the slice
// is empty.
func (s *Service) UploadManifest(ctx context.Context, projectID string, entries []assetindex.Entry) (missing []string, err error) {
	if len(entries) > schema.MaxManifestEntries {
		return nil, errors.Errorf("manifest has %d entries, limit is %d", len(entries), schema.MaxManifestEntries)
	}
	hashes := make(map[string]bool, len(entries))
	for _, e := range entries {
		if err := content.ValidatePathname(e.Pathname); err != nil {
			return nil, errors.Wrapf(err, "entry %q", e.Pathname)
		}
		if !content.ValidHash(e.Hash) {
			return nil, errors.Errorf("entry %q: malformed content hash %q", e.Pathname, e.Hash)
		}
		hashes[e.Hash] = true
	}
	unique := make([]string, 0, len(hashes))
	for h := range hashes {
		unique = append(unique, h)
	}
	exists, err := s.CheckAssetsExist(ctx, projectID, unique)
	if err != nil {
		return nil, errors.Wrap(err, "checking blob presence")
	}
	for h, present := range exists {
		if !present {
			missing = append(missing, h)
		}
	}
	sort.Strings(missing)
	encoded, err := assetindex.Encode(entries)
	if err != nil {
		return nil, errors.Wrap(err, "encoding manifest")
	}
	opts := &kv.PutOptions{ContentType: fallbackContentType}
	if err := s.store.Put(ctx, schema.ManifestKey(projectID), encoded, opts); err != nil {
		return nil, errors.Wrap(err, "writing manifest")
	}
	return missing, nil
}

// DeleteProjectAssets removes every asset blob and the manifest for a
// project, returning the number of blobs deleted. Used by project deletion
// and the watchdog; safe to call when nothing is stored.
func (s *Service) DeleteProjectAssets(ctx context.Context, projectID string) (int, error) {
	n, err := kv.DeleteAllByPrefix(ctx, s.store, schema.ProjectPrefix(projectID)+"asset/")
	if err != nil {
		return n, errors.Wrap(err, "deleting asset blobs")
	}
	if err := s.store.Delete(ctx, schema.ManifestKey(projectID)); err != nil && !kv.IsNotFound(err) {
		return n, errors.Wrap(err, "deleting manifest")
	}
	return n, nil
}

// manifestIndex loads the project's encoded manifest. A project with no
// manifest yet resolves every lookup to a miss.
func (s *Service) manifestIndex(ctx context.Context, projectID string) (*assetindex.Index, error) {
	raw, _, err := s.store.Get(ctx, schema.ManifestKey(projectID))
	if kv.IsNotFound(err) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "fetching manifest")
	}
	idx, err := assetindex.Parse(raw)
	if err != nil {
		return nil, errors.Wrap(err, "parsing manifest")
	}
	return idx, nil
}

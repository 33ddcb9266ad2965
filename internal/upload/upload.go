// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package upload implements the first two phases of the asset upload flow:
// session creation with server-side dedup, and chunked uploads of the
// content the store has not seen before.
package upload

import (
	"context"
	"encoding/base64"
	"sort"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"

	"github.com/pagedock/pagedock/internal/api"
	"github.com/pagedock/pagedock/internal/assets"
	"github.com/pagedock/pagedock/internal/kv"
	"github.com/pagedock/pagedock/internal/metrics"
	"github.com/pagedock/pagedock/internal/project"
	"github.com/pagedock/pagedock/internal/token"
	"github.com/pagedock/pagedock/pkg/content"
	"github.com/pagedock/pagedock/pkg/schema"
)

type Deps struct {
	Store  *project.Store
	Assets *assets.Service
	Signer *token.Signer
}

// uniqueHashes returns the distinct content hashes of a manifest in sorted
// order, so bucket assignment is deterministic.
func uniqueHashes(manifest map[string]schema.ManifestEntry) []string {
	set := make(map[string]bool, len(manifest))
	for _, entry := range manifest {
		set[entry.Hash] = true
	}
	hashes := make([]string, 0, len(set))
	for hash := range set {
		hashes = append(hashes, hash)
	}
	sort.Strings(hashes)
	return hashes
}

// CreateSession opens an upload session: it probes which manifest hashes the
// store already holds, buckets the rest into upload work, and returns a
// token for the next phase. When every hash is already present the token is
// a completion token and phase 2 is skipped entirely.
func CreateSession(ctx context.Context, req schema.CreateUploadSessionRequest, deps *Deps) (*schema.UploadSessionResponse, error) {
	if _, err := deps.Store.Get(ctx, req.ProjectID); kv.IsNotFound(err) {
		return nil, api.AsStatus(codes.NotFound, errors.Errorf("project %s not found", req.ProjectID))
	} else if err != nil {
		return nil, api.AsStatus(codes.Internal, errors.Wrap(err, "loading project"))
	}
	hashes := uniqueHashes(req.Manifest)
	present, err := deps.Assets.CheckAssetsExist(ctx, req.ProjectID, hashes)
	if err != nil {
		return nil, api.AsStatus(codes.Internal, errors.Wrap(err, "probing existing assets"))
	}
	buckets := [][]string{}
	for _, hash := range hashes {
		if present[hash] {
			continue
		}
		last := len(buckets) - 1
		if last < 0 || len(buckets[last]) == schema.BucketSize {
			buckets = append(buckets, []string{})
			last++
		}
		buckets[last] = append(buckets[last], hash)
	}
	session := &schema.UploadSession{
		ID:        uuid.NewString(),
		ProjectID: req.ProjectID,
		Manifest:  req.Manifest,
		Buckets:   buckets,
		CreatedAt: deps.Store.Now().UTC(),
	}
	var jwt string
	if len(buckets) == 0 {
		// Full cache hit: nothing to upload, go straight to finalization.
		jwt, err = deps.Signer.Sign(token.Claims{
			SessionID: session.ID,
			ProjectID: req.ProjectID,
			Phase:     token.PhaseComplete,
			Manifest:  req.Manifest,
		})
		if err != nil {
			return nil, api.AsStatus(codes.Internal, errors.Wrap(err, "minting completion token"))
		}
		session.CompletionToken = jwt
	} else {
		jwt, err = deps.Signer.Sign(token.Claims{
			SessionID: session.ID,
			ProjectID: req.ProjectID,
			Phase:     token.PhaseUpload,
		})
		if err != nil {
			return nil, api.AsStatus(codes.Internal, errors.Wrap(err, "minting upload token"))
		}
	}
	if err := deps.Store.PutSession(ctx, session); err != nil {
		return nil, api.AsStatus(codes.Internal, errors.Wrap(err, "storing session"))
	}
	return &schema.UploadSessionResponse{Success: true, JWT: jwt, Buckets: buckets}, nil
}

// chunkFile is one validated upload within a chunk.
type chunkFile struct {
	hash        string
	data        []byte
	contentType string
}

// contentTypeForHash infers the stored content type from the manifest paths
// referencing the hash. With several candidate paths the lexicographically
// first wins, keeping re-uploads deterministic.
func contentTypeForHash(manifest map[string]schema.ManifestEntry, hash string) string {
	var paths []string
	for path, entry := range manifest {
		if entry.Hash == hash {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	for _, path := range paths {
		if contentType, ok := content.TypeByPath(path); ok {
			return contentType
		}
	}
	return "application/octet-stream"
}

// declaredSize returns the size the manifest declares for the hash, if any
// path referencing it carries one.
func declaredSize(manifest map[string]schema.ManifestEntry, hash string) (int64, bool) {
	for _, entry := range manifest {
		if entry.Hash == hash && entry.Size != nil {
			return *entry.Size, true
		}
	}
	return 0, false
}

// UploadChunk accepts up to MaxChunkFiles files, verifies each against the
// session manifest, and stores them content-addressed. Every file in the
// chunk is validated before anything is written, so a rejected chunk leaves
// no partial state. The final chunk of a session mints the completion token.
func UploadChunk(ctx context.Context, req schema.UploadChunkRequest, deps *Deps) (*schema.UploadChunkResponse, error) {
	raw, ok := token.Bearer(req.Authorization)
	if !ok {
		return nil, api.AsStatus(codes.Unauthenticated, errors.New("missing bearer token"))
	}
	claims, ok := deps.Signer.Verify(raw)
	if !ok || claims.Phase != token.PhaseUpload || claims.ProjectID != req.ProjectID {
		return nil, api.AsStatus(codes.Unauthenticated, errors.New("invalid upload token"))
	}
	session, err := deps.Store.GetSession(ctx, req.ProjectID, claims.SessionID)
	if kv.IsNotFound(err) {
		return nil, api.AsStatus(codes.NotFound, errors.Errorf("session %s not found", claims.SessionID))
	} else if err != nil {
		return nil, api.AsStatus(codes.Internal, errors.Wrap(err, "loading session"))
	}
	inManifest := make(map[string]bool, len(session.Manifest))
	for _, entry := range session.Manifest {
		inManifest[entry.Hash] = true
	}
	// Validate the whole chunk before writing any of it.
	hashes := make([]string, 0, len(req.Files))
	for hash := range req.Files {
		hashes = append(hashes, hash)
	}
	sort.Strings(hashes)
	files := make([]chunkFile, 0, len(hashes))
	for _, hash := range hashes {
		if !inManifest[hash] {
			return nil, api.AsStatus(codes.InvalidArgument, errors.Errorf("chunk: %s: not in session manifest", hash))
		}
		if session.Uploaded(hash) {
			return nil, api.AsStatus(codes.InvalidArgument, errors.Errorf("chunk: %s: already uploaded in this session", hash))
		}
		data, err := base64.StdEncoding.DecodeString(req.Files[hash])
		if err != nil {
			return nil, api.AsStatus(codes.InvalidArgument, errors.Errorf("chunk: %s: malformed base64 content", hash))
		}
		if len(data) > schema.MaxAssetSize {
			return nil, api.AsStatus(codes.OutOfRange, errors.Errorf("chunk: %s: exceeds %d bytes", hash, schema.MaxAssetSize))
		}
		if got := content.Hash(data); got != hash {
			return nil, api.AsStatus(codes.InvalidArgument, errors.Errorf("chunk: %s: content hashes to %s", hash, got))
		}
		if size, ok := declaredSize(session.Manifest, hash); ok && size != int64(len(data)) {
			return nil, api.AsStatus(codes.InvalidArgument, errors.Errorf("chunk: %s: size %d does not match declared %d", hash, len(data), size))
		}
		files = append(files, chunkFile{
			hash:        hash,
			data:        data,
			contentType: contentTypeForHash(session.Manifest, hash),
		})
	}
	for _, file := range files {
		if err := deps.Assets.UploadAsset(ctx, req.ProjectID, file.hash, file.data, file.contentType); err != nil {
			return nil, api.AsStatus(codes.Internal, errors.Wrapf(err, "storing asset %s", file.hash))
		}
		metrics.UploadBytesTotal.Add(float64(len(file.data)))
		session.UploadedHashes = append(session.UploadedHashes, file.hash)
	}
	resp := &schema.UploadChunkResponse{Success: true}
	if session.Complete() {
		jwt, err := deps.Signer.Sign(token.Claims{
			SessionID: session.ID,
			ProjectID: req.ProjectID,
			Phase:     token.PhaseComplete,
			Manifest:  session.Manifest,
		})
		if err != nil {
			return nil, api.AsStatus(codes.Internal, errors.Wrap(err, "minting completion token"))
		}
		session.CompletionToken = jwt
		resp.JWT = &jwt
	}
	if err := deps.Store.PutSession(ctx, session); err != nil {
		return nil, api.AsStatus(codes.Internal, errors.Wrap(err, "storing session"))
	}
	return resp, nil
}

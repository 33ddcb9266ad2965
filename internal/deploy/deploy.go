// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package deploy implements the third phase of the deployment flow:
// redeeming the completion token, committing the asset manifest, storing
// server code, and flipping the project to READY.
package deploy

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log"
	"sort"

	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"

	"github.com/pagedock/pagedock/internal/api"
	"github.com/pagedock/pagedock/internal/assets"
	"github.com/pagedock/pagedock/internal/kv"
	"github.com/pagedock/pagedock/internal/project"
	"github.com/pagedock/pagedock/internal/token"
	"github.com/pagedock/pagedock/pkg/assetindex"
	"github.com/pagedock/pagedock/pkg/content"
	"github.com/pagedock/pagedock/pkg/schema"
)

type Deps struct {
	Store  *project.Store
	Assets *assets.Service
	Signer *token.Signer
}

// Deploy finalizes a deployment. Projects are immutable once READY, so a
// second deploy is rejected outright. Request rejections (bad tokens,
// limits) leave the project as it was; failures past the point of first
// write mark it ERROR for the watchdog to reclaim.
func Deploy(ctx context.Context, req schema.DeployRequest, deps *Deps) (*schema.DeployResponse, error) {
	p, err := deps.Store.Get(ctx, req.ProjectID)
	if kv.IsNotFound(err) {
		return nil, api.AsStatus(codes.NotFound, errors.Errorf("project %s not found", req.ProjectID))
	} else if err != nil {
		return nil, api.AsStatus(codes.Internal, errors.Wrap(err, "loading project"))
	}
	if p.Status == schema.ProjectStatusReady {
		return nil, api.AsStatus(codes.AlreadyExists, errors.Errorf("project %s is already deployed", req.ProjectID))
	}
	// Decode server code up front so limit violations reject the request
	// before anything is written.
	var modules []decodedModule
	if req.Server != nil {
		if modules, err = decodeModules(req.Server); err != nil {
			return nil, err
		}
	}
	var assetsCount, newAssets, skippedAssets int
	assetsFinalized := false
	if req.CompletionJWT != "" {
		claims, ok := deps.Signer.Verify(req.CompletionJWT)
		if !ok || claims.Phase != token.PhaseComplete || claims.ProjectID != req.ProjectID {
			return nil, api.AsStatus(codes.Unauthenticated, errors.New("invalid completion token"))
		}
		session, err := deps.Store.GetSession(ctx, req.ProjectID, claims.SessionID)
		if kv.IsNotFound(err) {
			return nil, api.AsStatus(codes.Unauthenticated, errors.Errorf("session %s is not redeemable", claims.SessionID))
		} else if err != nil {
			return nil, api.AsStatus(codes.Internal, errors.Wrap(err, "loading session"))
		}
		// Only the token recorded on the session finalizes it. Anything
		// else is a replay or a superseded session run.
		if session.CompletionToken != req.CompletionJWT {
			return nil, api.AsStatus(codes.Unauthenticated, errors.New("completion token superseded"))
		}
		if err := deps.Store.DeleteSession(ctx, req.ProjectID, session.ID); err != nil {
			return nil, deployError(ctx, deps, req.ProjectID, errors.Wrap(err, "retiring session"))
		}
		entries := make([]assetindex.Entry, 0, len(claims.Manifest))
		unique := make(map[string]bool, len(claims.Manifest))
		for pathname, entry := range claims.Manifest {
			entries = append(entries, assetindex.Entry{Pathname: pathname, Hash: entry.Hash})
			unique[entry.Hash] = true
		}
		if missing, err := deps.Assets.UploadManifest(ctx, req.ProjectID, entries); err != nil {
			return nil, deployError(ctx, deps, req.ProjectID, errors.Wrap(err, "finalizing assets"))
		} else if len(missing) > 0 {
			// Possible only when blobs vanished between upload and deploy;
			// the manifest is committed regardless.
			log.Printf("project %s: %d manifest entries have no blob", req.ProjectID, len(missing))
		}
		assetsCount = len(entries)
		newAssets = len(session.UploadedHashes)
		skippedAssets = max(len(unique)-newAssets, 0)
		assetsFinalized = true
	}
	if req.Server != nil {
		if err := storeServer(ctx, deps, req, modules); err != nil {
			return nil, deployError(ctx, deps, req.ProjectID, err)
		}
	}
	// Commit against a fresh read: a project deleted mid-deploy stays
	// deleted.
	fresh, err := deps.Store.Get(ctx, req.ProjectID)
	if kv.IsNotFound(err) {
		return nil, api.AsStatus(codes.NotFound, errors.Errorf("project %s was deleted during deployment", req.ProjectID))
	} else if err != nil {
		return nil, deployError(ctx, deps, req.ProjectID, errors.Wrap(err, "reloading project"))
	}
	if req.ProjectName != nil {
		fresh.Name = *req.ProjectName
	}
	if assetsFinalized {
		fresh.AssetsCount = assetsCount
	}
	fresh.Config = req.Config
	fresh.RunWorkerFirst = req.RunWorkerFirst
	fresh.HasServerCode = req.Server != nil
	fresh.Status = schema.ProjectStatusReady
	if err := deps.Store.Put(ctx, fresh, 0); err != nil {
		return nil, deployError(ctx, deps, req.ProjectID, errors.Wrap(err, "committing project"))
	}
	return &schema.DeployResponse{
		Success:       true,
		Project:       fresh,
		NewAssets:     newAssets,
		SkippedAssets: skippedAssets,
	}, nil
}

// deployError marks the project ERROR and surfaces an internal status. The
// ERROR record is written without a TTL so stored blobs stay visible until
// the watchdog removes the whole project.
func deployError(ctx context.Context, deps *Deps, projectID string, cause error) error {
	if p, err := deps.Store.Get(ctx, projectID); err == nil {
		p.Status = schema.ProjectStatusError
		if err := deps.Store.Put(ctx, p, 0); err != nil {
			log.Printf("error: marking project %s failed: %v", projectID, err)
		}
	} else if !kv.IsNotFound(err) {
		log.Printf("error: reloading project %s after failed deploy: %v", projectID, err)
	}
	return api.AsStatus(codes.Internal, cause)
}

type decodedModule struct {
	path string
	data []byte
	typ  content.ModuleType
	hash string
}

// decodeModules validates and decodes the server-code payload. Module types
// omitted by the client are inferred from the path.
func decodeModules(server *schema.ServerCodePayload) ([]decodedModule, error) {
	paths := make([]string, 0, len(server.Modules))
	for path := range server.Modules {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	total := 0
	out := make([]decodedModule, 0, len(paths))
	for _, path := range paths {
		payload := server.Modules[path]
		data, err := base64.StdEncoding.DecodeString(payload.Content)
		if err != nil {
			return nil, api.AsStatus(codes.InvalidArgument, errors.Errorf("module %q: malformed base64 content", path))
		}
		total += len(data)
		typ := payload.Type
		if typ == "" {
			typ = content.ModuleTypeForPath(path)
		}
		out = append(out, decodedModule{path: path, data: data, typ: typ, hash: content.Hash(data)})
	}
	if total > schema.MaxServerCodeSize {
		return nil, api.AsStatus(codes.OutOfRange, errors.Errorf("server code is %d bytes, limit is %d", total, schema.MaxServerCodeSize))
	}
	return out, nil
}

// storeServer uploads modules the store has not seen for this project and
// writes the server-code manifest. Module blobs are content-addressed, so
// redeploys of mostly-unchanged code only ship the difference.
func storeServer(ctx context.Context, deps *Deps, req schema.DeployRequest, modules []decodedModule) error {
	seen := make(map[string]bool, len(modules))
	keys := make([]string, 0, len(modules))
	for _, m := range modules {
		key := schema.ModuleKey(req.ProjectID, m.hash)
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	present, err := kv.BatchExists(ctx, deps.Store.ServerCode, keys)
	if err != nil {
		return errors.Wrap(err, "probing existing modules")
	}
	manifest := &schema.ServerCodeManifest{
		Entrypoint:        req.Server.Entrypoint,
		Modules:           make(map[string]schema.ServerModule, len(modules)),
		CompatibilityDate: req.Server.CompatibilityDate,
		Env:               mergedEnv(req),
	}
	if manifest.CompatibilityDate == "" {
		manifest.CompatibilityDate = schema.DefaultCompatibilityDate
	}
	written := make(map[string]bool, len(modules))
	for _, m := range modules {
		key := schema.ModuleKey(req.ProjectID, m.hash)
		if !present[key] && !written[key] {
			opts := &kv.PutOptions{ContentType: moduleContentType(m.typ)}
			if err := deps.Store.ServerCode.Put(ctx, key, m.data, opts); err != nil {
				return errors.Wrapf(err, "storing module %q", m.path)
			}
			written[key] = true
		}
		manifest.Modules[m.path] = schema.ServerModule{Hash: m.hash, Type: m.typ}
	}
	raw, err := json.Marshal(manifest)
	if err != nil {
		return errors.Wrap(err, "encoding server manifest")
	}
	opts := &kv.PutOptions{ContentType: "application/json"}
	if err := deps.Store.ServerCode.Put(ctx, schema.ModuleManifestKey(req.ProjectID), raw, opts); err != nil {
		return errors.Wrap(err, "writing server manifest")
	}
	return nil
}

// mergedEnv combines deploy-level and server-level environment maps, with
// the server block winning on conflicts.
func mergedEnv(req schema.DeployRequest) map[string]string {
	if len(req.Env) == 0 && (req.Server == nil || len(req.Server.Env) == 0) {
		return nil
	}
	env := make(map[string]string, len(req.Env))
	for k, v := range req.Env {
		env[k] = v
	}
	if req.Server != nil {
		for k, v := range req.Server.Env {
			env[k] = v
		}
	}
	return env
}

func moduleContentType(t content.ModuleType) string {
	switch t {
	case content.ModuleJS, content.ModuleCJS:
		return "text/javascript"
	case content.ModulePy:
		return "text/x-python"
	case content.ModuleText:
		return "text/plain"
	case content.ModuleJSON:
		return "application/json"
	case content.ModuleWasm:
		return "application/wasm"
	default:
		return "application/octet-stream"
	}
}

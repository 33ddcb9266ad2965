// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package control mounts the management API under /__api: project CRUD,
// upload sessions, chunk uploads, and deploys. Every route except the chunk
// upload is guarded by the admin token; chunk uploads authenticate with the
// session JWT minted when the session was created.
package control

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pagedock/pagedock/internal/api"
	"github.com/pagedock/pagedock/internal/assets"
	"github.com/pagedock/pagedock/internal/deploy"
	"github.com/pagedock/pagedock/internal/project"
	"github.com/pagedock/pagedock/internal/token"
	"github.com/pagedock/pagedock/internal/upload"
)

type Deps struct {
	Store  *project.Store
	Assets *assets.Service
	Signer *token.Signer
	// AdminToken guards the management routes. Empty means auth is
	// disabled, for local development only.
	AdminToken string
}

// Handler builds the /__api router. The returned handler expects to be
// mounted at the server root; it matches the /__api prefix itself so the
// serving mux can hand it the request unmodified.
func Handler(deps *Deps) http.Handler {
	projectDeps := &ProjectDeps{Store: deps.Store}
	projectInit := func(context.Context) (*ProjectDeps, error) { return projectDeps, nil }
	uploadDeps := &upload.Deps{Store: deps.Store, Assets: deps.Assets, Signer: deps.Signer}
	uploadInit := func(context.Context) (*upload.Deps, error) { return uploadDeps, nil }
	deployDeps := &deploy.Deps{Store: deps.Store, Assets: deps.Assets, Signer: deps.Signer}
	deployInit := func(context.Context) (*deploy.Deps, error) { return deployDeps, nil }

	mux := chi.NewRouter()
	mux.Route("/__api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(authorize(deps.AdminToken))
			r.Post("/projects", api.Handler(projectInit, CreateProject))
			r.Get("/projects", api.Handler(projectInit, ListProjects))
			r.Get("/projects/{projectID}", api.Handler(projectInit, GetProject))
			r.Delete("/projects/{projectID}", api.Handler(projectInit, DeleteProject))
			r.Post("/projects/{projectID}/assets-upload-session", api.Handler(uploadInit, upload.CreateSession))
			r.Post("/projects/{projectID}/deploy", api.Handler(deployInit, deploy.Deploy))
		})
		// Chunk uploads carry the session JWT instead of the admin token.
		r.Post("/projects/{projectID}/assets/upload", api.Handler(uploadInit, upload.UploadChunk))
	})
	return mux
}

// authorize checks the Authorization header against the admin token. Both
// bare tokens and the Bearer form are accepted. Comparison runs over SHA-256
// digests so its duration leaks nothing about the token.
func authorize(adminToken string) func(http.Handler) http.Handler {
	want := sha256.Sum256([]byte(adminToken))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if adminToken == "" {
				next.ServeHTTP(w, r)
				return
			}
			raw := r.Header.Get("Authorization")
			if after, ok := strings.CutPrefix(raw, "Bearer "); ok {
				raw = after
			}
			got := sha256.Sum256([]byte(raw))
			if subtle.ConstantTimeCompare(want[:], got[:]) != 1 {
				api.Error(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

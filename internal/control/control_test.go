// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pagedock/pagedock/internal/assets"
	"github.com/pagedock/pagedock/internal/kv"
	"github.com/pagedock/pagedock/internal/project"
	"github.com/pagedock/pagedock/internal/token"
	"github.com/pagedock/pagedock/pkg/content"
	"github.com/pagedock/pagedock/pkg/schema"
)

func newHandler(t *testing.T, adminToken string) (http.Handler, kv.Store) {
	t.Helper()
	store := kv.NewMemoryStore()
	deps := &Deps{
		Store:      project.NewStore(store, store, store),
		Assets:     assets.NewService(store),
		Signer:     token.NewSigner([]byte("test-secret")),
		AdminToken: adminToken,
	}
	return Handler(deps), store
}

func do(t *testing.T, h http.Handler, method, target, auth string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encoding request body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, rd)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decoding response %q: %v", w.Body.String(), err)
	}
}

func TestAdminAuth(t *testing.T) {
	h, _ := newHandler(t, "s3cret")
	testCases := []struct {
		name string
		auth string
		want int
	}{
		{name: "missing", auth: "", want: http.StatusUnauthorized},
		{name: "wrong", auth: "nope", want: http.StatusUnauthorized},
		{name: "wrong bearer", auth: "Bearer nope", want: http.StatusUnauthorized},
		{name: "bare token", auth: "s3cret", want: http.StatusCreated},
		{name: "bearer token", auth: "Bearer s3cret", want: http.StatusCreated},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/__api/projects", tc.auth, nil)
			if w.Code != tc.want {
				t.Errorf("POST /__api/projects with auth %q: got %d, want %d", tc.auth, w.Code, tc.want)
			}
		})
	}
}

func TestAdminAuthDisabled(t *testing.T) {
	h, _ := newHandler(t, "")
	if w := do(t, h, http.MethodPost, "/__api/projects", "", nil); w.Code != http.StatusCreated {
		t.Errorf("without admin token configured: got %d, want %d", w.Code, http.StatusCreated)
	}
}

// Chunk uploads must not require the admin token; the route authenticates
// with the session JWT and rejections come from the upload handler itself.
func TestChunkUploadSkipsAdminGate(t *testing.T) {
	h, _ := newHandler(t, "s3cret")
	w := do(t, h, http.MethodPost, "/__api/projects/p/assets/upload", "", map[string]string{
		content.Hash([]byte("x")): base64.StdEncoding.EncodeToString([]byte("x")),
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("chunk without session token: got %d, want 401", w.Code)
	}
	if !strings.Contains(w.Body.String(), "token") {
		t.Errorf("expected the upload handler's token error, got %q", w.Body.String())
	}
}

func TestProjectLifecycle(t *testing.T) {
	h, _ := newHandler(t, "s3cret")

	w := do(t, h, http.MethodPost, "/__api/projects", "s3cret", map[string]string{"name": "docs-site"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: got %d, want 201: %s", w.Code, w.Body.String())
	}
	var created schema.CreateProjectResponse
	decode(t, w, &created)
	if !created.Success || created.Project == nil || created.Project.ID == "" {
		t.Fatalf("create response incomplete: %+v", created)
	}
	if created.Project.Status != schema.ProjectStatusPending {
		t.Errorf("new project status: got %s, want %s", created.Project.Status, schema.ProjectStatusPending)
	}
	if created.Project.Name != "docs-site" {
		t.Errorf("new project name: got %q, want %q", created.Project.Name, "docs-site")
	}
	id := created.Project.ID

	w = do(t, h, http.MethodGet, "/__api/projects/"+id, "s3cret", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: got %d, want 200: %s", w.Code, w.Body.String())
	}
	var got schema.GetProjectResponse
	decode(t, w, &got)
	if got.Project == nil || got.Project.ID != id {
		t.Errorf("get returned wrong project: %+v", got.Project)
	}

	if w = do(t, h, http.MethodGet, "/__api/projects/absent", "s3cret", nil); w.Code != http.StatusNotFound {
		t.Errorf("get absent: got %d, want 404", w.Code)
	}

	if w = do(t, h, http.MethodDelete, "/__api/projects/"+id, "s3cret", nil); w.Code != http.StatusOK {
		t.Fatalf("delete: got %d, want 200: %s", w.Code, w.Body.String())
	}
	if w = do(t, h, http.MethodGet, "/__api/projects/"+id, "s3cret", nil); w.Code != http.StatusNotFound {
		t.Errorf("get after delete: got %d, want 404", w.Code)
	}
	// Deletes are idempotent so the watchdog can reap expired records.
	if w = do(t, h, http.MethodDelete, "/__api/projects/"+id, "s3cret", nil); w.Code != http.StatusOK {
		t.Errorf("repeat delete: got %d, want 200", w.Code)
	}
}

func TestCreateProjectRejectsBadName(t *testing.T) {
	h, _ := newHandler(t, "")
	testCases := []struct {
		name string
		body map[string]string
	}{
		{name: "empty name", body: map[string]string{"name": ""}},
		{name: "oversized name", body: map[string]string{"name": strings.Repeat("n", schema.MaxProjectNameLength+1)}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if w := do(t, h, http.MethodPost, "/__api/projects", "", tc.body); w.Code != http.StatusBadRequest {
				t.Errorf("got %d, want 400: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestListProjectsPagination(t *testing.T) {
	h, _ := newHandler(t, "")
	want := map[string]bool{}
	for i := range 5 {
		var created schema.CreateProjectResponse
		w := do(t, h, http.MethodPost, "/__api/projects", "", map[string]string{"name": fmt.Sprintf("site-%d", i)})
		decode(t, w, &created)
		want[created.Project.ID] = true
	}

	seen := map[string]bool{}
	cursor := ""
	for page := 0; ; page++ {
		if page > 5 {
			t.Fatal("pagination did not terminate")
		}
		target := "/__api/projects?limit=2"
		if cursor != "" {
			target += "&cursor=" + cursor
		}
		w := do(t, h, http.MethodGet, target, "", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("list: got %d, want 200: %s", w.Code, w.Body.String())
		}
		var resp schema.ListProjectsResponse
		decode(t, w, &resp)
		if len(resp.Projects) > 2 {
			t.Errorf("page %d exceeds limit: %d projects", page, len(resp.Projects))
		}
		for _, p := range resp.Projects {
			if seen[p.ID] {
				t.Errorf("project %s repeated across pages", p.ID)
			}
			seen[p.ID] = true
		}
		if resp.Complete {
			break
		}
		cursor = resp.Cursor
	}
	if len(seen) != len(want) {
		t.Errorf("pagination saw %d projects, want %d", len(seen), len(want))
	}
	for id := range want {
		if !seen[id] {
			t.Errorf("project %s missing from listing", id)
		}
	}
}

func TestListProjectsBadCursor(t *testing.T) {
	h, _ := newHandler(t, "")
	if w := do(t, h, http.MethodGet, "/__api/projects?cursor=garbage", "", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad cursor: got %d, want 400: %s", w.Code, w.Body.String())
	}
}

func TestUploadSessionUnknownProject(t *testing.T) {
	h, _ := newHandler(t, "")
	body := map[string]any{"manifest": map[string]schema.ManifestEntry{
		"/index.html": {Hash: content.Hash([]byte("hi"))},
	}}
	if w := do(t, h, http.MethodPost, "/__api/projects/absent/assets-upload-session", "", body); w.Code != http.StatusNotFound {
		t.Errorf("session for unknown project: got %d, want 404: %s", w.Code, w.Body.String())
	}
}

// TestDeployFlow drives the full control-plane sequence over HTTP: create a
// project, open an upload session, push the chunk, and deploy with the
// completion token.
func TestDeployFlow(t *testing.T) {
	h, store := newHandler(t, "s3cret")

	var created schema.CreateProjectResponse
	decode(t, do(t, h, http.MethodPost, "/__api/projects", "s3cret", map[string]string{"name": "site"}), &created)
	id := created.Project.ID

	files := map[string]string{
		"/index.html": "<h1>hello</h1>",
		"/app.js":     "console.log(1)",
	}
	manifest := map[string]schema.ManifestEntry{}
	chunk := map[string]string{}
	for path, body := range files {
		hash := content.Hash([]byte(body))
		manifest[path] = schema.ManifestEntry{Hash: hash}
		chunk[hash] = base64.StdEncoding.EncodeToString([]byte(body))
	}

	w := do(t, h, http.MethodPost, "/__api/projects/"+id+"/assets-upload-session", "s3cret", map[string]any{"manifest": manifest})
	if w.Code != http.StatusOK {
		t.Fatalf("create session: got %d: %s", w.Code, w.Body.String())
	}
	var session schema.UploadSessionResponse
	decode(t, w, &session)
	if session.JWT == "" {
		t.Fatal("session response missing JWT")
	}
	if n := len(session.Buckets); n != 1 {
		t.Fatalf("got %d buckets, want 1", n)
	}

	w = do(t, h, http.MethodPost, "/__api/projects/"+id+"/assets/upload", "Bearer "+session.JWT, chunk)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload chunk: got %d, want 201: %s", w.Code, w.Body.String())
	}
	var uploaded schema.UploadChunkResponse
	decode(t, w, &uploaded)
	if uploaded.JWT == nil {
		t.Fatal("final chunk did not return a completion token")
	}

	w = do(t, h, http.MethodPost, "/__api/projects/"+id+"/deploy", "s3cret", map[string]any{"completionJwt": *uploaded.JWT})
	if w.Code != http.StatusOK {
		t.Fatalf("deploy: got %d: %s", w.Code, w.Body.String())
	}
	var deployed schema.DeployResponse
	decode(t, w, &deployed)
	if deployed.Project == nil || deployed.Project.Status != schema.ProjectStatusReady {
		t.Fatalf("deploy did not mark the project READY: %+v", deployed.Project)
	}
	if deployed.NewAssets != 2 {
		t.Errorf("deploy reported %d new assets, want 2", deployed.NewAssets)
	}

	ctx := context.Background()
	for path, body := range files {
		data, _, err := store.Get(ctx, schema.AssetKey(id, content.Hash([]byte(body))))
		if err != nil {
			t.Fatalf("stored asset for %s: %v", path, err)
		}
		if string(data) != body {
			t.Errorf("asset %s stored as %q, want %q", path, data, body)
		}
	}
	if _, _, err := store.Get(ctx, schema.ManifestKey(id)); err != nil {
		t.Errorf("deploy did not store the asset manifest: %v", err)
	}
}

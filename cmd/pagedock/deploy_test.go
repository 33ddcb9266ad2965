// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"sync"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"

	"github.com/pagedock/pagedock/pkg/content"
	"github.com/pagedock/pagedock/pkg/schema"
)

func TestSplitGitSource(t *testing.T) {
	for _, tc := range []struct {
		src       string
		repo, ref string
	}{
		{"https://github.com/acme/site.git", "https://github.com/acme/site.git", ""},
		{"https://github.com/acme/site.git#staging", "https://github.com/acme/site.git", "staging"},
		{"https://github.com/acme/site.git#refs/tags/v1.2", "https://github.com/acme/site.git", "refs/tags/v1.2"},
	} {
		repo, ref := splitGitSource(tc.src)
		if repo != tc.repo || ref != tc.ref {
			t.Errorf("splitGitSource(%q) = (%q, %q), want (%q, %q)", tc.src, repo, ref, tc.repo, tc.ref)
		}
	}
}

func TestParseWorkerFirst(t *testing.T) {
	for _, tc := range []struct {
		flag string
		want *schema.WorkerFirst
	}{
		{"", nil},
		{"true", &schema.WorkerFirst{All: true}},
		{"false", &schema.WorkerFirst{}},
		{"/api/*", &schema.WorkerFirst{Patterns: []string{"/api/*"}}},
		{"/api/*, /auth/**", &schema.WorkerFirst{Patterns: []string{"/api/*", "/auth/**"}}},
	} {
		got := parseWorkerFirst(tc.flag)
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("parseWorkerFirst(%q) mismatch (-want +got):\n%s", tc.flag, diff)
		}
	}
}

func TestServerBundle(t *testing.T) {
	tree := memfs.New()
	code := []byte("export default { fetch: () => new Response('ok') }")
	if err := util.WriteFile(tree, "/worker/index.js", code, 0644); err != nil {
		t.Fatal(err)
	}
	payload, skip, err := serverBundle(tree, "worker/index.js", "2026-01-01")
	if err != nil {
		t.Fatalf("serverBundle: %v", err)
	}
	if payload.Entrypoint != "index.js" {
		t.Errorf("Entrypoint = %q, want index.js", payload.Entrypoint)
	}
	if payload.CompatibilityDate != "2026-01-01" {
		t.Errorf("CompatibilityDate = %q, want 2026-01-01", payload.CompatibilityDate)
	}
	decoded, err := base64.StdEncoding.DecodeString(payload.Modules["index.js"].Content)
	if err != nil {
		t.Fatalf("module content is not base64: %v", err)
	}
	if string(decoded) != string(code) {
		t.Errorf("module content = %q, want %q", decoded, code)
	}
	if !skip["/worker/index.js"] {
		t.Errorf("skip set %v missing the entry module", skip)
	}
}

func TestServerBundleMissingEntry(t *testing.T) {
	if _, _, err := serverBundle(memfs.New(), "absent.js", ""); err == nil {
		t.Fatal("serverBundle succeeded for a missing entry module")
	}
}

func TestServerBundleUnset(t *testing.T) {
	payload, skip, err := serverBundle(memfs.New(), "", "")
	if err != nil || payload != nil || skip != nil {
		t.Fatalf("serverBundle(unset) = (%v, %v, %v), want all nil", payload, skip, err)
	}
}

func TestAssetManifest(t *testing.T) {
	tree := memfs.New()
	files := map[string]string{
		"/index.html":      "<html>home</html>",
		"/assets/app.js":   "console.log('app')",
		"/assets/copy.js":  "console.log('app')",
		"/.git/config":     "[core]",
		"/worker/index.js": "export default {}",
	}
	for p, body := range files {
		if err := util.WriteFile(tree, p, []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
	}
	manifest, blobs, err := assetManifest(tree, map[string]bool{"/worker/index.js": true})
	if err != nil {
		t.Fatalf("assetManifest: %v", err)
	}
	wantPaths := []string{"/assets/app.js", "/assets/copy.js", "/index.html"}
	var gotPaths []string
	for p := range manifest {
		gotPaths = append(gotPaths, p)
	}
	sort.Strings(gotPaths)
	if diff := cmp.Diff(wantPaths, gotPaths); diff != "" {
		t.Fatalf("manifest paths mismatch (-want +got):\n%s", diff)
	}
	for _, p := range wantPaths {
		entry := manifest[p]
		if want := content.Hash([]byte(files[p])); entry.Hash != want {
			t.Errorf("%s: hash = %s, want %s", p, entry.Hash, want)
		}
		if entry.Size == nil || *entry.Size != int64(len(files[p])) {
			t.Errorf("%s: size = %v, want %d", p, entry.Size, len(files[p]))
		}
		if string(blobs[entry.Hash]) != files[p] {
			t.Errorf("%s: blob content mismatch", p)
		}
	}
	// Identical files share one blob.
	if len(blobs) != 2 {
		t.Errorf("got %d blobs, want 2", len(blobs))
	}
}

func TestAssetManifestRejectsInvalidPathname(t *testing.T) {
	tree := memfs.New()
	if err := util.WriteFile(tree, "/bad name.txt", []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := assetManifest(tree, nil); err == nil {
		t.Fatal("assetManifest accepted a pathname with whitespace")
	}
}

func newDeployCommand(t *testing.T) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	return cmd
}

func TestUploadBuckets(t *testing.T) {
	blobs := map[string][]byte{}
	var hashes []string
	for i := 0; i < 25; i++ {
		b := fmt.Appendf(nil, "blob-%d", i)
		h := content.Hash(b)
		blobs[h] = b
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)
	var buckets [][]string
	for start := 0; start < len(hashes); start += schema.BucketSize {
		end := min(start+schema.BucketSize, len(hashes))
		buckets = append(buckets, hashes[start:end])
	}
	var mu sync.Mutex
	seen := map[string]bool{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/__api/projects/p1/assets/upload" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer session-token" {
			t.Errorf("Authorization = %q", got)
		}
		var files map[string]string
		if err := json.NewDecoder(r.Body).Decode(&files); err != nil {
			t.Errorf("decoding chunk body: %v", err)
			http.Error(w, "bad chunk", http.StatusBadRequest)
			return
		}
		mu.Lock()
		for hash, body := range files {
			b, err := base64.StdEncoding.DecodeString(body)
			if err != nil {
				t.Errorf("chunk content for %s is not base64: %v", hash, err)
			} else if got := content.Hash(b); got != hash {
				t.Errorf("chunk content for %s hashes to %s", hash, got)
			}
			seen[hash] = true
		}
		complete := len(seen) == len(blobs)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if complete {
			fmt.Fprintln(w, `{"success": true, "jwt": "completion-token"}`)
		} else {
			fmt.Fprintln(w, `{"success": true, "jwt": null}`)
		}
	}))
	defer srv.Close()
	base, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	session := &schema.UploadSessionResponse{Success: true, JWT: "session-token", Buckets: buckets}
	got, err := uploadBuckets(newDeployCommand(t), srv.Client(), *base, "p1", session, blobs)
	if err != nil {
		t.Fatalf("uploadBuckets: %v", err)
	}
	if got != "completion-token" {
		t.Errorf("completion token = %q, want completion-token", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != len(blobs) {
		t.Errorf("server saw %d hashes, want %d", len(seen), len(blobs))
	}
}

func TestUploadBucketsFullDedup(t *testing.T) {
	// No buckets means nothing to upload and the session token doubles as the
	// completion token.
	session := &schema.UploadSessionResponse{Success: true, JWT: "already-complete"}
	got, err := uploadBuckets(newDeployCommand(t), nil, url.URL{}, "p1", session, nil)
	if err != nil {
		t.Fatalf("uploadBuckets: %v", err)
	}
	if got != "already-complete" {
		t.Errorf("completion token = %q, want already-complete", got)
	}
}

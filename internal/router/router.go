// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package router is the serving front door. It attributes each request to a
// project by subdomain or path prefix and routes it to static assets, to the
// project's server code, or through both (worker-first with an asset
// loopback binding).
package router

import (
	"context"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/pagedock/pagedock/internal/assets"
	"github.com/pagedock/pagedock/internal/glob"
	"github.com/pagedock/pagedock/internal/kv"
	"github.com/pagedock/pagedock/internal/metrics"
	"github.com/pagedock/pagedock/internal/project"
	"github.com/pagedock/pagedock/internal/ratelimit"
	"github.com/pagedock/pagedock/internal/rewrite"
	"github.com/pagedock/pagedock/internal/worker"
	"github.com/pagedock/pagedock/pkg/schema"
)

// lookupHeader reports how the request moved through the asset pipeline:
// SKIP (worker-first, lookup bypassed), HIT (served from assets), MISS
// (no asset, fell through to server code).
const lookupHeader = "X-Asset-Lookup"

// notReadyRetryAfter is the Retry-After hint on 503s for projects that are
// still deploying or failed.
const notReadyRetryAfter = "10"

// Handler is the top-level serving mux.
type Handler struct {
	Projects *project.Store
	Assets   *assets.Service
	Loader   *worker.Loader
	Executor worker.Executor
	Limiter  ratelimit.Limiter
	// Control serves the /__api control plane.
	Control http.Handler
	// Admin, when set, serves the /admin UI surface.
	Admin http.Handler
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
	surface := h.route(rec, r)
	metrics.RequestsTotal.WithLabelValues(surface, strconv.Itoa(rec.code)).Inc()
}

func (h *Handler) route(w http.ResponseWriter, r *http.Request) (surface string) {
	path := r.URL.EscapedPath()
	switch {
	case path == "/__api" || strings.HasPrefix(path, "/__api/"):
		h.Control.ServeHTTP(w, r)
		return "control"
	case strings.HasPrefix(path, "/admin"):
		if h.Admin != nil {
			h.Admin.ServeHTTP(w, r)
		} else {
			http.Error(w, http.StatusText(http.StatusNotImplemented), http.StatusNotImplemented)
		}
		return "admin"
	}
	if err := h.serve(w, r); err != nil {
		log.Printf("error: %+v  [%s %s]", err, r.Method, r.URL.String())
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
	return "serve"
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	projectID, isPathBased := extractProject(r)
	if projectID == "" {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return nil
	}
	if !h.limiter().Allow(projectID) {
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return nil
	}
	p, err := h.Projects.Get(ctx, projectID)
	if kv.IsNotFound(err) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return nil
	} else if err != nil {
		return errors.Wrapf(err, "fetching project %s", projectID)
	}
	if p.Status != schema.ProjectStatusReady {
		w.Header().Set("Retry-After", notReadyRetryAfter)
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return nil
	}
	req := r
	if isPathBased {
		req = stripProjectPrefix(r, projectID)
	}

	// Overlap the server-code manifest read with asset resolution; the
	// branch below blocks on it only if the request routes to the worker.
	pf := h.prefetchManifest(ctx, p)

	if p.HasServerCode && workerFirst(p, req.URL.EscapedPath()) {
		return h.invoke(w, req, p, "SKIP", isPathBased, pf)
	}
	ok, err := h.Assets.CanFetch(ctx, req, p)
	if err != nil {
		return errors.Wrap(err, "asset lookup")
	}
	if ok {
		w.Header().Set(lookupHeader, "HIT")
		h.serveAssets(w, req, p, isPathBased)
		return nil
	}
	if p.HasServerCode {
		return h.invoke(w, req, p, "MISS", isPathBased, pf)
	}
	http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	return nil
}

// manifestPrefetch is an in-flight server-code manifest read.
type manifestPrefetch struct {
	ready    chan struct{}
	manifest *schema.ServerCodeManifest
	err      error
}

func (h *Handler) prefetchManifest(ctx context.Context, p *schema.Project) *manifestPrefetch {
	pf := &manifestPrefetch{ready: make(chan struct{})}
	if !p.HasServerCode {
		close(pf.ready)
		return pf
	}
	go func() {
		defer close(pf.ready)
		pf.manifest, pf.err = h.Loader.Manifest(ctx, p.ID)
	}()
	return pf
}

func (pf *manifestPrefetch) wait() (*schema.ServerCodeManifest, error) {
	<-pf.ready
	return pf.manifest, pf.err
}

func (h *Handler) limiter() ratelimit.Limiter {
	if h.Limiter == nil {
		return ratelimit.Unlimited
	}
	return h.Limiter
}

// serveAssets runs the asset pipeline, interposing the path rewriter for
// path-based addressing so HTML and JS bodies stay inside the project
// namespace.
func (h *Handler) serveAssets(w http.ResponseWriter, r *http.Request, p *schema.Project, isPathBased bool) {
	if !isPathBased {
		h.Assets.ServeAsset(w, r, p)
		return
	}
	rw := rewrite.Intercept(w, p.ID)
	h.Assets.ServeAsset(rw, r, p)
	if err := rw.Close(); err != nil {
		log.Printf("error: rewriting asset response: %v  [%s]", err, r.URL.String())
	}
}

// invoke dispatches the request into the project's server code and relays
// the response.
func (h *Handler) invoke(w http.ResponseWriter, r *http.Request, p *schema.Project, tag string, isPathBased bool, pf *manifestPrefetch) error {
	manifest, err := pf.wait()
	if err != nil {
		return errors.Wrap(err, "fetching server-code manifest")
	}
	code, err := h.Loader.LoadModules(r.Context(), p.ID, manifest)
	if err != nil {
		return errors.Wrap(err, "loading server code")
	}
	inv := worker.Invocation{
		Project: p,
		Code:    code,
		Request: r,
		Assets: http.HandlerFunc(func(aw http.ResponseWriter, ar *http.Request) {
			h.Assets.ServeAsset(aw, ar, p)
		}),
	}
	resp, err := h.Executor.Invoke(r.Context(), inv)
	if err != nil {
		return errors.Wrap(err, "invoking server code")
	}
	defer resp.Body.Close()
	header := w.Header()
	for name, values := range resp.Header {
		for _, value := range values {
			header.Add(name, value)
		}
	}
	header.Set(lookupHeader, tag)
	if !isPathBased {
		w.WriteHeader(resp.StatusCode)
		_, err := io.Copy(w, resp.Body)
		return errors.Wrap(err, "relaying worker response")
	}
	rw := rewrite.Intercept(w, p.ID)
	rw.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(rw, resp.Body); err != nil {
		rw.Close()
		return errors.Wrap(err, "relaying worker response")
	}
	return errors.Wrap(rw.Close(), "rewriting worker response")
}

// extractProject resolves the addressed project: a /__project/{id} path
// prefix wins, otherwise the first host label stands in as the project id
// unless the host is localhost or the label is www.
func extractProject(r *http.Request) (projectID string, isPathBased bool) {
	path := r.URL.EscapedPath()
	if rest, ok := strings.CutPrefix(path, rewrite.RoutePrefix); ok {
		id, _, _ := strings.Cut(rest, "/")
		if id != "" {
			return id, true
		}
		return "", false
	}
	host := requestHost(r)
	if host == "localhost" {
		return "", false
	}
	label, _, ok := strings.Cut(host, ".")
	if !ok || label == "www" || label == "" {
		return "", false
	}
	return label, false
}

// stripProjectPrefix rewrites a path-based request to what the project
// would see under its own subdomain: /__project/{id}/a/b becomes /a/b.
// Method, headers, and body carry over.
func stripProjectPrefix(r *http.Request, projectID string) *http.Request {
	req := r.Clone(r.Context())
	prefix := rewrite.Prefix(projectID)
	strip := func(path string) string {
		rest, ok := strings.CutPrefix(path, prefix)
		if !ok || rest == "" {
			return "/"
		}
		return rest
	}
	escaped := strip(r.URL.EscapedPath())
	req.URL.RawPath = ""
	if decoded, err := url.PathUnescape(escaped); err == nil {
		req.URL.Path = decoded
		if decoded != escaped {
			req.URL.RawPath = escaped
		}
	} else {
		req.URL.Path = escaped
	}
	return req
}

// workerFirst evaluates the project's run_worker_first setting against the
// request path. Invalid glob configurations fail open to asset serving.
func workerFirst(p *schema.Project, path string) bool {
	wf := p.RunWorkerFirst
	if wf == nil {
		return false
	}
	if wf.Patterns == nil {
		return wf.All
	}
	rs, err := glob.Compile(wf.Patterns)
	if err != nil {
		log.Printf("error: project %s: %v", p.ID, err)
		return false
	}
	return rs.Match(path)
}

func requestHost(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.Host); err == nil {
		return host
	}
	return r.Host
}

// statusRecorder captures the response code for request metrics.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package assets

import (
	"context"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/pagedock/pagedock/internal/kv"
	"github.com/pagedock/pagedock/internal/metrics"
	"github.com/pagedock/pagedock/pkg/schema"
)

// Blob fetches faster than this count as cache hits for the status header.
const cacheHitLatency = 100 * time.Millisecond

// ServeAsset runs the full serving pipeline for one request against a
// project: redirect rules, path decoding, HTML-handling resolution,
// not-found fallback, canonicalization, and response shaping.
func (s *Service) ServeAsset(w http.ResponseWriter, r *http.Request, project *schema.Project) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	if err := s.serve(w, r, project); err != nil {
		log.Printf("error: %+v  [%s %s]", err, r.Method, r.URL.String())
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// CanFetch reports whether the pipeline would produce a response for this
// request without actually serving it. Routers use it to decide whether
// server code should take over. The not-found fallback only counts for
// navigation requests or projects with static routing; otherwise API-ish
// paths fall through to the worker.
func (s *Service) CanFetch(ctx context.Context, r *http.Request, project *schema.Project) (bool, error) {
	cfg := project.Config
	pathname := r.URL.EscapedPath()
	if o := evalRedirects(redirectRules(cfg), requestHost(r), r.URL); o != nil {
		if !o.proxied() {
			return true, nil
		}
		pathname = o.pathname
	}
	decoded := decodePath(pathname)
	idx, err := s.manifestIndex(ctx, project.ID)
	if err != nil {
		return false, err
	}
	rv := &resolver{index: idx, mode: cfg.ResolvedHTMLHandling()}
	intent := rv.resolve(decoded, false)
	if intent == nil && navigationFallback(r, cfg) {
		intent = rv.notFound(decoded, cfg.ResolvedNotFoundHandling())
	}
	return intent != nil, nil
}

func navigationFallback(r *http.Request, cfg *schema.ServingConfig) bool {
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return cfg != nil && cfg.HasStaticRouting
}

func (s *Service) serve(w http.ResponseWriter, r *http.Request, project *schema.Project) error {
	ctx := r.Context()
	cfg := project.Config
	host := requestHost(r)
	rawPath := r.URL.EscapedPath()
	pathname := rawPath
	proxied := false
	if o := evalRedirects(redirectRules(cfg), host, r.URL); o != nil {
		if !o.proxied() {
			h := w.Header()
			h.Set("Location", o.location)
			applyHeaderRules(h, headerRules(cfg), host, rawPath)
			w.WriteHeader(o.status)
			return nil
		}
		pathname = o.pathname
		proxied = true
	}
	decoded := decodePath(pathname)
	idx, err := s.manifestIndex(ctx, project.ID)
	if err != nil {
		return err
	}
	rv := &resolver{index: idx, mode: cfg.ResolvedHTMLHandling()}
	intent := rv.resolve(decoded, false)
	if intent == nil {
		intent = rv.notFound(decoded, cfg.ResolvedNotFoundHandling())
	}
	if intent == nil {
		applyHeaderRules(w.Header(), headerRules(cfg), host, rawPath)
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return nil
	}
	return s.respond(w, r, project, intent, rawPath, proxied)
}

// respond shapes the final response for a resolved intent: canonicalizing
// and HTML-handling redirects, conditional requests, and the asset body
// with its caching headers.
func (s *Service) respond(w http.ResponseWriter, r *http.Request, project *schema.Project, intent *Intent, rawPath string, proxied bool) error {
	cfg := project.Config
	host := requestHost(r)
	h := w.Header()
	var redirectTo string
	switch {
	case intent.Redirect != "":
		redirectTo = encodePath(intent.Redirect)
	case !proxied:
		// A decoded or denormalized request path redirects to its
		// canonical encoding. Proxied rewrites skip this; their public
		// path is whatever the rule matched.
		if canonical := encodePath(intent.Path); canonical != rawPath {
			redirectTo = canonical
		}
	}
	if redirectTo != "" {
		if q := r.URL.RawQuery; q != "" {
			redirectTo += "?" + q
		}
		h.Set("Location", redirectTo)
		applyHeaderRules(h, headerRules(cfg), host, rawPath)
		w.WriteHeader(http.StatusTemporaryRedirect)
		return nil
	}
	etag := `"` + intent.Asset.ETag + `"`
	h.Set("ETag", etag)
	if r.Header.Get("Authorization") == "" && r.Header.Get("Range") == "" {
		h.Set("Cache-Control", "public, max-age=0, must-revalidate")
	}
	if matchesETag(r.Header.Get("If-None-Match"), etag) {
		applyHeaderRules(h, headerRules(cfg), host, rawPath)
		w.WriteHeader(http.StatusNotModified)
		return nil
	}
	start := time.Now()
	data, meta, err := s.store.Get(r.Context(), schema.AssetKey(project.ID, intent.Asset.ETag))
	latency := time.Since(start)
	metrics.AssetFetchSeconds.Observe(latency.Seconds())
	if kv.IsNotFound(err) {
		// The manifest references a blob that is gone, likely a deletion
		// race. Nothing to serve.
		h.Del("ETag")
		h.Del("Cache-Control")
		applyHeaderRules(h, headerRules(cfg), host, rawPath)
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return nil
	} else if err != nil {
		return errors.Wrap(err, "fetching asset blob")
	}
	cacheStatus := "MISS"
	if latency < cacheHitLatency {
		cacheStatus = "HIT"
	}
	metrics.AssetCacheTotal.WithLabelValues(cacheStatus).Inc()
	h.Set("X-Asset-Cache-Status", cacheStatus)
	contentType := meta.ContentType
	if contentType == "" {
		contentType = fallbackContentType
	}
	h.Set("Content-Type", contentType)
	h.Set("Content-Length", strconv.Itoa(len(data)))
	applyHeaderRules(h, headerRules(cfg), host, rawPath)
	w.WriteHeader(intent.Asset.Status)
	if r.Method != http.MethodHead {
		_, _ = w.Write(data)
	}
	return nil
}

// matchesETag implements If-None-Match comparison. Weak validators match
// their strong counterparts, and * matches any stored asset.
func matchesETag(ifNoneMatch, etag string) bool {
	if ifNoneMatch == "" {
		return false
	}
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == etag || candidate == "*" {
			return true
		}
	}
	return false
}

func requestHost(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.Host); err == nil {
		return host
	}
	return r.Host
}

func redirectRules(cfg *schema.ServingConfig) *schema.RedirectRules {
	if cfg == nil {
		return nil
	}
	return cfg.Redirects
}

func headerRules(cfg *schema.ServingConfig) *schema.HeaderRules {
	if cfg == nil {
		return nil
	}
	return cfg.Headers
}

// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package assets

import (
	"net/http"
	"strings"

	"github.com/pagedock/pagedock/pkg/assetindex"
	"github.com/pagedock/pagedock/pkg/schema"
)

// Resolver records which stage of the pipeline produced an intent. Header
// shaping does not care, but callers deciding whether server code should
// take over do.
type Resolver string

const (
	ResolverHTMLHandling Resolver = "html-handling"
	ResolverNotFound     Resolver = "not-found"
)

// AssetIntent names the blob to serve and the status to serve it with.
// Status is 200 except for configured 404 pages.
type AssetIntent struct {
	ETag   string
	Status int
}

// Intent is a resolved serving decision: exactly one of Asset or Redirect
// is set. Path is the decoded pathname the response is considered to live
// at, which canonicalization compares against the request.
type Intent struct {
	Path     string
	Asset    *AssetIntent
	Redirect string
	Resolver Resolver
}

// resolver evaluates HTML-handling rules against one project's manifest.
type resolver struct {
	index *assetindex.Index
	mode  schema.HTMLHandling
}

func (rv *resolver) lookup(p string) (string, bool) {
	if rv.index == nil {
		return "", false
	}
	return rv.index.Lookup(p)
}

func (rv *resolver) serve(p, etag string) *Intent {
	return &Intent{
		Path:     p,
		Asset:    &AssetIntent{ETag: etag, Status: http.StatusOK},
		Resolver: ResolverHTMLHandling,
	}
}

// safeRedirect builds a redirect from the asset at file to destination, but
// only when destination re-resolves (redirects suppressed) to the very same
// content. Anything else would be a dangling or content-changing redirect,
// so the candidate is discarded and resolution falls through.
func (rv *resolver) safeRedirect(file, destination string, skip bool) *Intent {
	if skip {
		return nil
	}
	etag, ok := rv.lookup(file)
	if !ok {
		return nil
	}
	dest := rv.resolve(destination, true)
	if dest == nil || dest.Asset == nil || dest.Asset.ETag != etag {
		return nil
	}
	return &Intent{Path: file, Redirect: destination, Resolver: ResolverHTMLHandling}
}

// resolve maps a decoded pathname to an intent under the configured
// HTML-handling mode, or nil when no asset covers it. skipRedirects guards
// the recursive destination check inside safeRedirect.
func (rv *resolver) resolve(p string, skipRedirects bool) *Intent {
	switch rv.mode {
	case schema.HTMLHandlingNone:
		if etag, ok := rv.lookup(p); ok {
			return rv.serve(p, etag)
		}
		return nil
	case schema.HTMLHandlingForceTrailingSlash:
		return rv.forceTrailingSlash(p, skipRedirects)
	case schema.HTMLHandlingDropTrailingSlash:
		return rv.dropTrailingSlash(p, skipRedirects)
	default:
		return rv.autoTrailingSlash(p, skipRedirects)
	}
}

// autoTrailingSlash serves each page at the form matching its source asset:
// /foo.html at /foo, /foo/index.html at /foo/. Exact binary matches win for
// paths outside the HTML variant shapes; variant-shaped requests redirect to
// the canonical form when that redirect is safe, and fall back to serving
// the literal asset when it is not.
func (rv *resolver) autoTrailingSlash(p string, skip bool) *Intent {
	switch {
	case strings.HasSuffix(p, "/index"):
		if etag, ok := rv.lookup(p); ok {
			return rv.serve(p, etag)
		}
		if in := rv.safeRedirect(p+".html", strings.TrimSuffix(p, "index"), skip); in != nil {
			return in
		}
	case strings.HasSuffix(p, "/index.html"):
		if in := rv.safeRedirect(p, strings.TrimSuffix(p, "index.html"), skip); in != nil {
			return in
		}
		if etag, ok := rv.lookup(p); ok {
			return rv.serve(p, etag)
		}
	case strings.HasSuffix(p, ".html"):
		if in := rv.safeRedirect(p, strings.TrimSuffix(p, ".html"), skip); in != nil {
			return in
		}
		if etag, ok := rv.lookup(p); ok {
			return rv.serve(p, etag)
		}
	case strings.HasSuffix(p, "/"):
		if etag, ok := rv.lookup(p + "index.html"); ok {
			return rv.serve(p, etag)
		}
		if base := strings.TrimSuffix(p, "/"); base != "" {
			if in := rv.safeRedirect(base+".html", base, skip); in != nil {
				return in
			}
			if in := rv.safeRedirect(base, base, skip); in != nil {
				return in
			}
		}
	default:
		if etag, ok := rv.lookup(p); ok {
			return rv.serve(p, etag)
		}
		if etag, ok := rv.lookup(p + ".html"); ok {
			return rv.serve(p, etag)
		}
		if in := rv.safeRedirect(p+"/index.html", p+"/", skip); in != nil {
			return in
		}
	}
	return nil
}

// forceTrailingSlash serves every HTML page at its trailing-slash form, so
// both /foo.html and /foo/index.html live at /foo/. Non-HTML binaries keep
// their exact paths.
func (rv *resolver) forceTrailingSlash(p string, skip bool) *Intent {
	switch {
	case strings.HasSuffix(p, "/index"):
		if etag, ok := rv.lookup(p); ok {
			return rv.serve(p, etag)
		}
		if in := rv.safeRedirect(p+".html", strings.TrimSuffix(p, "index"), skip); in != nil {
			return in
		}
	case strings.HasSuffix(p, "/index.html"):
		if in := rv.safeRedirect(p, strings.TrimSuffix(p, "index.html"), skip); in != nil {
			return in
		}
		if etag, ok := rv.lookup(p); ok {
			return rv.serve(p, etag)
		}
	case strings.HasSuffix(p, ".html"):
		if in := rv.safeRedirect(p, strings.TrimSuffix(p, ".html")+"/", skip); in != nil {
			return in
		}
		if etag, ok := rv.lookup(p); ok {
			return rv.serve(p, etag)
		}
	case strings.HasSuffix(p, "/"):
		if etag, ok := rv.lookup(p + "index.html"); ok {
			return rv.serve(p, etag)
		}
		base := strings.TrimSuffix(p, "/")
		if base == "" {
			break
		}
		if etag, ok := rv.lookup(base + ".html"); ok {
			return rv.serve(p, etag)
		}
		if in := rv.safeRedirect(base, base, skip); in != nil {
			return in
		}
	default:
		if etag, ok := rv.lookup(p); ok {
			return rv.serve(p, etag)
		}
		if in := rv.safeRedirect(p+".html", p+"/", skip); in != nil {
			return in
		}
		if in := rv.safeRedirect(p+"/index.html", p+"/", skip); in != nil {
			return in
		}
	}
	return nil
}

// dropTrailingSlash is the mirror image: every HTML page lives at the bare
// form, and trailing-slash requests redirect down to it. The root cannot
// drop its slash, so / serves /index.html directly.
func (rv *resolver) dropTrailingSlash(p string, skip bool) *Intent {
	if p == "/" {
		if etag, ok := rv.lookup(p); ok {
			return rv.serve(p, etag)
		}
		if etag, ok := rv.lookup("/index.html"); ok {
			return rv.serve(p, etag)
		}
		return nil
	}
	switch {
	case strings.HasSuffix(p, "/index"):
		if etag, ok := rv.lookup(p); ok {
			return rv.serve(p, etag)
		}
		if in := rv.safeRedirect(p+".html", dropIndexSuffix(p, "/index"), skip); in != nil {
			return in
		}
	case strings.HasSuffix(p, "/index.html"):
		if in := rv.safeRedirect(p, dropIndexSuffix(p, "/index.html"), skip); in != nil {
			return in
		}
		if etag, ok := rv.lookup(p); ok {
			return rv.serve(p, etag)
		}
	case strings.HasSuffix(p, ".html"):
		if in := rv.safeRedirect(p, dropIndexSuffix(p, ".html"), skip); in != nil {
			return in
		}
		if etag, ok := rv.lookup(p); ok {
			return rv.serve(p, etag)
		}
	case strings.HasSuffix(p, "/"):
		base := strings.TrimSuffix(p, "/")
		if in := rv.safeRedirect(base, base, skip); in != nil {
			return in
		}
		if in := rv.safeRedirect(base+".html", base, skip); in != nil {
			return in
		}
		if in := rv.safeRedirect(base+"/index.html", base, skip); in != nil {
			return in
		}
	default:
		if etag, ok := rv.lookup(p); ok {
			return rv.serve(p, etag)
		}
		if etag, ok := rv.lookup(p + ".html"); ok {
			return rv.serve(p, etag)
		}
		if etag, ok := rv.lookup(p + "/index.html"); ok {
			return rv.serve(p, etag)
		}
	}
	return nil
}

// dropIndexSuffix trims suffix from p, mapping an emptied path back to the
// root.
func dropIndexSuffix(p, suffix string) string {
	base := strings.TrimSuffix(p, suffix)
	if base == "" {
		return "/"
	}
	return base
}

// notFound applies the project's fallback once HTML handling found nothing.
// Single-page apps serve the root index with a 200; 404-page projects walk
// parent directories for the nearest 404.html. Returns nil when the mode is
// none, which tells callers no asset covers the request at all.
func (rv *resolver) notFound(p string, mode schema.NotFoundHandling) *Intent {
	switch mode {
	case schema.NotFoundSinglePageApplication:
		if etag, ok := rv.lookup("/index.html"); ok {
			return &Intent{
				Path:     p,
				Asset:    &AssetIntent{ETag: etag, Status: http.StatusOK},
				Resolver: ResolverNotFound,
			}
		}
	case schema.NotFound404Page:
		cwd := p
		for {
			idx := strings.LastIndex(cwd, "/")
			if idx < 0 {
				break
			}
			cwd = cwd[:idx]
			if etag, ok := rv.lookup(cwd + "/404.html"); ok {
				return &Intent{
					Path:     p,
					Asset:    &AssetIntent{ETag: etag, Status: http.StatusNotFound},
					Resolver: ResolverNotFound,
				}
			}
			if cwd == "" {
				break
			}
		}
	}
	return nil
}

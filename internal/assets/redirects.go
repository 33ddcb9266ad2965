// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package assets

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/pagedock/pagedock/pkg/schema"
)

// redirectOutcome is a matched redirect rule. Status 200 means the rule
// proxies: the request continues through the pipeline under pathname. Any
// 3xx status responds immediately with location.
type redirectOutcome struct {
	status   int
	location string
	pathname string
}

func (o *redirectOutcome) proxied() bool { return o.status == http.StatusOK }

// evalRedirects runs the project's redirect rules against a request. Rules
// match the request path with duplicate slashes collapsed, so /foo//bar hits
// the same rules as /foo/bar and a splat never captures a leading slash.
// Static rules are exact matches on host+path or path, with the lower line
// number winning when both forms are configured. Dynamic rules run in
// insertion order after the static table. Returns nil when nothing matches.
func evalRedirects(rules *schema.RedirectRules, host string, requestURL *url.URL) *redirectOutcome {
	if rules == nil {
		return nil
	}
	rawPath := collapseSlashes(requestURL.EscapedPath())
	var static *schema.StaticRedirect
	if r, ok := rules.StaticRules[host+rawPath]; ok {
		static = &r
	}
	if r, ok := rules.StaticRules[rawPath]; ok && (static == nil || r.LineNumber < static.LineNumber) {
		static = &r
	}
	if static != nil {
		if o := buildOutcome(static.Status, static.To, requestURL); o != nil {
			return o
		}
	}
	for _, rule := range rules.DynamicRules {
		p, err := compilePattern(rule.Source)
		if err != nil {
			continue
		}
		vals, ok := p.match(host, rawPath)
		if !ok {
			continue
		}
		if o := buildOutcome(rule.Status, interpolate(rule.To, vals), requestURL); o != nil {
			return o
		}
	}
	return nil
}

// buildOutcome turns a matched rule into a response plan. Absolute targets
// pass through verbatim (cross-origin redirects carry their scheme and
// host). Relative targets resolve against the request URL with duplicate
// slashes collapsed first, so a target like /foo//evil.com cannot escape
// into a protocol-relative //evil.com redirect.
func buildOutcome(status int, target string, requestURL *url.URL) *redirectOutcome {
	parsed, err := url.Parse(target)
	if err != nil {
		return nil
	}
	if status == http.StatusOK {
		pathname := collapseSlashes(parsed.Path)
		if !strings.HasPrefix(pathname, "/") {
			pathname = "/" + pathname
		}
		return &redirectOutcome{status: status, pathname: pathname}
	}
	if status < 300 || status > 399 {
		return nil
	}
	if parsed.IsAbs() {
		return &redirectOutcome{status: status, location: target}
	}
	local := collapseSlashes(parsed.Path)
	if local == "" {
		local = "/"
	}
	resolved := requestURL.ResolveReference(&url.URL{Path: local})
	location := resolved.EscapedPath()
	query := parsed.RawQuery
	if query == "" {
		query = requestURL.RawQuery
	}
	if query != "" {
		location += "?" + query
	}
	return &redirectOutcome{status: status, location: location}
}

// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package assets

import (
	"net/url"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pagedock/pagedock/pkg/schema"
)

func TestPatternMatch(t *testing.T) {
	testCases := []struct {
		name   string
		source string
		host   string
		path   string
		want   map[string]string
		miss   bool
	}{
		{name: "literal path", source: "/old", host: "app.example.com", path: "/old", want: map[string]string{}},
		{name: "placeholder segment", source: "/users/:id/profile", path: "/users/42/profile", want: map[string]string{"id": "42"}},
		{name: "placeholder does not cross slash", source: "/users/:id", path: "/users/42/profile", miss: true},
		{name: "splat", source: "/docs/*", path: "/docs/a/b.html", want: map[string]string{"splat": "a/b.html"}},
		{name: "host placeholder stops at dot", source: ":sub.example.com/*", host: "docs.example.com", path: "/x", want: map[string]string{"sub": "docs", "splat": "x"}},
		{name: "host placeholder rejects extra label", source: ":sub.example.com/", host: "a.b.example.com", path: "/", miss: true},
		{name: "hostful literal", source: "example.com/a", host: "example.com", path: "/a", want: map[string]string{}},
		{name: "wrong host", source: "example.com/a", host: "other.com", path: "/a", miss: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := compilePattern(tc.source)
			if err != nil {
				t.Fatalf("compilePattern(%q): %v", tc.source, err)
			}
			got, ok := p.match(tc.host, tc.path)
			if tc.miss {
				if ok {
					t.Fatalf("match = %v, want miss", got)
				}
				return
			}
			if !ok {
				t.Fatal("match failed, want hit")
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("captures mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCompilePatternCached(t *testing.T) {
	a, err := compilePattern("/cached/:id/*")
	if err != nil {
		t.Fatal(err)
	}
	b, err := compilePattern("/cached/:id/*")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("identical source compiled to distinct patterns")
	}
}

func TestInterpolate(t *testing.T) {
	vals := map[string]string{"id": "42", "splat": "a/b"}
	testCases := []struct {
		in   string
		want string
	}{
		{in: "/users/:id", want: "/users/42"},
		{in: "/files/:splat", want: "/files/a/b"},
		{in: "/plain", want: "/plain"},
		{in: "/:unknown/x", want: "/:unknown/x"},
	}
	for _, tc := range testCases {
		if got := interpolate(tc.in, vals); got != tc.want {
			t.Errorf("interpolate(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestEvalRedirects(t *testing.T) {
	rules := &schema.RedirectRules{
		StaticRules: map[string]schema.StaticRedirect{
			"/old":                 {Status: 301, To: "/new", LineNumber: 5},
			"app.example.com/old":  {Status: 302, To: "/host-new", LineNumber: 2},
			"/proxy":               {Status: 200, To: "/real", LineNumber: 7},
			"/offsite":             {Status: 302, To: "https://other.example/landing", LineNumber: 9},
			"/sneaky":              {Status: 301, To: "/foo//evil.com", LineNumber: 11},
			"/protocol-relative":   {Status: 301, To: "//evil.com", LineNumber: 12},
			"app.example.com/only": {Status: 307, To: "/host-only", LineNumber: 3},
		},
		DynamicRules: []schema.DynamicRedirect{
			{Source: "/users/:id/avatar", Status: 302, To: "/static/avatars/:id.png"},
			{Source: "/docs/*", Status: 301, To: "/manual/:splat"},
			{Source: "/api/*", Status: 200, To: "/internal/:splat"},
			{Source: "/files/*", Status: 301, To: "/:splat"},
		},
	}
	testCases := []struct {
		name         string
		url          string
		host         string
		wantStatus   int
		wantLocation string
		wantPathname string
		none         bool
	}{
		{name: "host rule wins lower line number", url: "/old", host: "app.example.com", wantStatus: 302, wantLocation: "/host-new"},
		{name: "path rule on other host", url: "/old", host: "other.example.com", wantStatus: 301, wantLocation: "/new"},
		{name: "host scoped rule", url: "/only", host: "app.example.com", wantStatus: 307, wantLocation: "/host-only"},
		{name: "host scoped rule elsewhere", url: "/only", host: "other.example.com", none: true},
		{name: "static proxy rewrite", url: "/proxy", wantStatus: 200, wantPathname: "/real"},
		{name: "query carries over", url: "/old?a=1", host: "x.example.com", wantStatus: 301, wantLocation: "/new?a=1"},
		{name: "cross origin verbatim", url: "/offsite", wantStatus: 302, wantLocation: "https://other.example/landing"},
		{name: "duplicate slashes collapsed", url: "/sneaky", wantStatus: 301, wantLocation: "/foo/evil.com"},
		{name: "protocol relative neutralized", url: "/protocol-relative", wantStatus: 301, wantLocation: "/"},
		{name: "dynamic placeholder", url: "/users/7/avatar", wantStatus: 302, wantLocation: "/static/avatars/7.png"},
		{name: "dynamic splat", url: "/docs/deep/page", wantStatus: 301, wantLocation: "/manual/deep/page"},
		{name: "dynamic proxy", url: "/api/v1/things", wantStatus: 200, wantPathname: "/internal/v1/things"},
		{name: "doubled slash before splat", url: "/files//archive", wantStatus: 301, wantLocation: "/archive"},
		{name: "doubled slashes inside splat", url: "/docs//deep//page", wantStatus: 301, wantLocation: "/manual/deep/page"},
		{name: "doubled slash in proxy rewrite", url: "/api//v1/things", wantStatus: 200, wantPathname: "/internal/v1/things"},
		{name: "no rule", url: "/untouched", none: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			u, err := url.Parse(tc.url)
			if err != nil {
				t.Fatal(err)
			}
			host := tc.host
			if host == "" {
				host = "proj.example.com"
			}
			got := evalRedirects(rules, host, u)
			if tc.none {
				if got != nil {
					t.Fatalf("evalRedirects = %+v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("evalRedirects = nil, want outcome")
			}
			if got.status != tc.wantStatus {
				t.Errorf("status = %d, want %d", got.status, tc.wantStatus)
			}
			if got.location != tc.wantLocation {
				t.Errorf("location = %q, want %q", got.location, tc.wantLocation)
			}
			if got.pathname != tc.wantPathname {
				t.Errorf("pathname = %q, want %q", got.pathname, tc.wantPathname)
			}
		})
	}
}

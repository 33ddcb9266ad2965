// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package assets

import (
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pagedock/pagedock/pkg/schema"
)

func TestApplyHeaderRules(t *testing.T) {
	testCases := []struct {
		name  string
		rules []schema.HeaderRule
		path  string
		base  http.Header
		want  http.Header
	}{
		{
			name: "set replaces pipeline default",
			rules: []schema.HeaderRule{
				{Source: "/*", Set: map[string]string{"Cache-Control": "max-age=3600"}},
			},
			path: "/x",
			base: http.Header{"Cache-Control": []string{"public, max-age=0, must-revalidate"}},
			want: http.Header{"Cache-Control": []string{"max-age=3600"}},
		},
		{
			name: "later match appends",
			rules: []schema.HeaderRule{
				{Source: "/*", Set: map[string]string{"Set-Cookie": "a=1"}},
				{Source: "/x", Set: map[string]string{"Set-Cookie": "b=2"}},
			},
			path: "/x",
			base: http.Header{},
			want: http.Header{"Set-Cookie": []string{"a=1", "b=2"}},
		},
		{
			name: "unset removes before set",
			rules: []schema.HeaderRule{
				{Source: "/private/*", Unset: []string{"Cache-Control"}, Set: map[string]string{"X-Robots-Tag": "noindex"}},
			},
			path: "/private/doc",
			base: http.Header{"Cache-Control": []string{"public"}},
			want: http.Header{"X-Robots-Tag": []string{"noindex"}},
		},
		{
			name: "non matching rule ignored",
			rules: []schema.HeaderRule{
				{Source: "/admin/*", Set: map[string]string{"X-Frame-Options": "DENY"}},
			},
			path: "/public",
			base: http.Header{},
			want: http.Header{},
		},
		{
			name: "placeholder interpolation",
			rules: []schema.HeaderRule{
				{Source: "/docs/:section/*", Set: map[string]string{"X-Section": ":section"}},
			},
			path: "/docs/api/intro",
			base: http.Header{},
			want: http.Header{"X-Section": []string{"api"}},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			applyHeaderRules(tc.base, &schema.HeaderRules{Rules: tc.rules}, "proj.example.com", tc.path)
			if diff := cmp.Diff(tc.want, tc.base); diff != "" {
				t.Errorf("headers mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

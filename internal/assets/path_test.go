// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package assets

import "testing"

func TestDecodePath(t *testing.T) {
	testCases := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "/foo/bar", want: "/foo/bar"},
		{name: "percent decode", in: "/some%20page", want: "/some page"},
		{name: "encoded slash becomes separator", in: "/a%2Fb", want: "/a/b"},
		{name: "bad escape kept verbatim", in: "/bad%zz/x", want: "/bad%zz/x"},
		{name: "collapse duplicate slashes", in: "//a///b", want: "/a/b"},
		{name: "unicode", in: "/caf%C3%A9", want: "/café"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := decodePath(tc.in); got != tc.want {
				t.Errorf("decodePath(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestEncodePath(t *testing.T) {
	testCases := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "/foo/bar", want: "/foo/bar"},
		{name: "space", in: "/some page", want: "/some%20page"},
		{name: "keeps sub delims", in: "/a+b,c", want: "/a+b,c"},
		{name: "unicode", in: "/café", want: "/caf%C3%A9"},
		{name: "question mark escaped", in: "/a?b", want: "/a%3Fb"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := encodePath(tc.in); got != tc.want {
				t.Errorf("encodePath(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestDecodeEncodeRoundTrip(t *testing.T) {
	// A canonically encoded path survives decode and re-encode unchanged.
	for _, p := range []string{"/", "/foo/bar.html", "/some%20page", "/caf%C3%A9/x"} {
		if got := encodePath(decodePath(p)); got != p {
			t.Errorf("encode(decode(%q)) = %q", p, got)
		}
	}
}

// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package content

import (
	"encoding/hex"
	"strings"
	"testing"
)

func TestHash(t *testing.T) {
	testCases := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "empty",
			input: "",
			want:  "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
		{
			name:  "html",
			input: "<!doctype html>hi",
			want:  "bfb11adba9967eaaf8938db54a5de18e850e23952b6070a246d05cd5edea681e",
		},
		{
			name:  "text",
			input: "hello world",
			want:  "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Hash([]byte(tc.input)); got != tc.want {
				t.Errorf("Hash(%q) = %s, want %s", tc.input, got, tc.want)
			}
		})
	}
}

func TestPathHash(t *testing.T) {
	h := PathHash("/index.html")
	if got, want := hex.EncodeToString(h[:]), "213456c5dc963e03ec1f27600c46c954"; got != want {
		t.Errorf("PathHash(/index.html) = %s, want %s", got, want)
	}
	if PathHash("/a") == PathHash("/b") {
		t.Error("distinct paths produced identical hashes")
	}
}

func TestValidHash(t *testing.T) {
	testCases := []struct {
		name string
		hash string
		want bool
	}{
		{"valid", strings.Repeat("ab", 32), true},
		{"empty", "", false},
		{"short", "abcd", false},
		{"uppercase", strings.Repeat("AB", 32), false},
		{"nonhex", strings.Repeat("zz", 32), false},
		{"long", strings.Repeat("ab", 33), false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ValidHash(tc.hash); got != tc.want {
				t.Errorf("ValidHash(%q) = %v, want %v", tc.hash, got, tc.want)
			}
		})
	}
}

func TestValidatePathname(t *testing.T) {
	testCases := []struct {
		name     string
		pathname string
		wantErr  bool
	}{
		{"root", "/", false},
		{"simple", "/index.html", false},
		{"nested", "/static/app/main.js", false},
		{"encoded", "/%5Bslug%5D.html", false},
		{"no leading slash", "index.html", true},
		{"empty", "", true},
		{"space", "/a b.html", true},
		{"tab", "/a\tb", true},
		{"angle bracket", "/a<b>", true},
		{"brace", "/a{b}", true},
		{"pipe", "/a|b", true},
		{"backslash", "/a\\b", true},
		{"caret", "/a^b", true},
		{"backtick", "/a`b", true},
		{"square bracket", "/a[b]", true},
		{"too long", "/" + strings.Repeat("a", MaxPathnameLength), true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePathname(tc.pathname)
			if (err != nil) != tc.wantErr {
				t.Errorf("ValidatePathname(%q) = %v, wantErr %v", tc.pathname, err, tc.wantErr)
			}
		})
	}
}

func TestTypeByPath(t *testing.T) {
	testCases := []struct {
		path   string
		want   string
		wantOK bool
	}{
		{"/index.html", "text/html", true},
		{"/app.js", "text/javascript", true},
		{"/style.css", "text/css", true},
		{"/data.json", "application/json", true},
		{"/logo.svg", "image/svg+xml", true},
		{"/photo.JPEG", "image/jpeg", true},
		{"/font.woff2", "font/woff2", true},
		{"/archive.zip", "application/zip", true},
		{"/README.md", "text/markdown", true},
		{"/binary", "", false},
		{"/weird.abc", "", false},
		{"/trailing.", "", false},
		{"/dir.d/file", "", false},
	}
	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			got, ok := TypeByPath(tc.path)
			if got != tc.want || ok != tc.wantOK {
				t.Errorf("TypeByPath(%q) = (%q, %v), want (%q, %v)", tc.path, got, ok, tc.want, tc.wantOK)
			}
		})
	}
}

func TestModuleTypeForPath(t *testing.T) {
	testCases := []struct {
		path string
		want ModuleType
	}{
		{"index.js", ModuleJS},
		{"worker.mjs", ModuleJS},
		{"legacy.cjs", ModuleCJS},
		{"handler.py", ModulePy},
		{"notes.txt", ModuleText},
		{"page.html", ModuleText},
		{"config.json", ModuleJSON},
		{"blob.bin", ModuleData},
		{"lib.wasm", ModuleWasm},
		{"Makefile", ModuleJS},
	}
	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			if got := ModuleTypeForPath(tc.path); got != tc.want {
				t.Errorf("ModuleTypeForPath(%q) = %s, want %s", tc.path, got, tc.want)
			}
		})
	}
}

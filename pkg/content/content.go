// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package content implements the content-addressing primitives shared by the
// upload, deployment, and serving paths: SHA-256 content hashes, truncated
// path hashes, pathname validation, and extension-based type inference.
package content

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

// HashSize is the byte length of a full content hash.
const HashSize = sha256.Size

// PathHashSize is the byte length of a truncated path hash.
const PathHashSize = 16

// MaxPathnameLength is the longest pathname accepted in an asset manifest.
const MaxPathnameLength = 1024

// Hash returns the lowercase hex SHA-256 digest of b.
func Hash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// PathHash returns the first 16 bytes of the SHA-256 digest of the UTF-8
// pathname. The truncation keeps manifest entries fixed-width while leaving
// collisions out of practical reach for per-project manifests.
func PathHash(pathname string) [PathHashSize]byte {
	sum := sha256.Sum256([]byte(pathname))
	var h [PathHashSize]byte
	copy(h[:], sum[:PathHashSize])
	return h
}

// ValidHash reports whether s is a well-formed content hash: exactly 64
// lowercase hex characters.
func ValidHash(s string) bool {
	if len(s) != 2*HashSize {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// forbiddenPathnameChars are rejected anywhere in a pathname, alongside all
// whitespace.
const forbiddenPathnameChars = "<>{}|\\^`[]"

// ValidatePathname checks the manifest pathname rules: leading slash, length
// bound, and the forbidden character set.
func ValidatePathname(pathname string) error {
	if pathname == "" || pathname[0] != '/' {
		return errors.Errorf("pathname %q: must begin with '/'", pathname)
	}
	if len(pathname) > MaxPathnameLength {
		return errors.Errorf("pathname %q: exceeds %d characters", pathname[:32]+"...", MaxPathnameLength)
	}
	for _, r := range pathname {
		if unicode.IsSpace(r) {
			return errors.Errorf("pathname %q: contains whitespace", pathname)
		}
		if strings.ContainsRune(forbiddenPathnameChars, r) {
			return errors.Errorf("pathname %q: contains forbidden character %q", pathname, r)
		}
	}
	return nil
}

// contentTypes is the closed extension table used when storing uploaded
// assets. Anything else is reported unknown and stored as octet-stream by the
// caller.
var contentTypes = map[string]string{
	"html":  "text/html",
	"css":   "text/css",
	"js":    "text/javascript",
	"json":  "application/json",
	"png":   "image/png",
	"jpg":   "image/jpeg",
	"jpeg":  "image/jpeg",
	"gif":   "image/gif",
	"svg":   "image/svg+xml",
	"webp":  "image/webp",
	"xml":   "application/xml",
	"pdf":   "application/pdf",
	"zip":   "application/zip",
	"txt":   "text/plain",
	"md":    "text/markdown",
	"woff":  "font/woff",
	"woff2": "font/woff2",
	"ttf":   "font/ttf",
	"eot":   "application/vnd.ms-fontobject",
	"otf":   "font/otf",
}

// TypeByPath returns the content type for a pathname by extension. ok is
// false when the extension is absent or not in the table.
func TypeByPath(pathname string) (contentType string, ok bool) {
	ext := extension(pathname)
	if ext == "" {
		return "", false
	}
	ct, ok := contentTypes[ext]
	return ct, ok
}

// ModuleType identifies how a server-code module should be interpreted by the
// executor.
type ModuleType string

// Module types accepted in server-code manifests.
const (
	ModuleJS   ModuleType = "js"
	ModuleCJS  ModuleType = "cjs"
	ModulePy   ModuleType = "py"
	ModuleText ModuleType = "text"
	ModuleData ModuleType = "data"
	ModuleJSON ModuleType = "json"
	ModuleWasm ModuleType = "wasm"
)

// ValidModuleType reports whether t is one of the accepted module types.
func ValidModuleType(t ModuleType) bool {
	switch t {
	case ModuleJS, ModuleCJS, ModulePy, ModuleText, ModuleData, ModuleJSON, ModuleWasm:
		return true
	}
	return false
}

// ModuleTypeForPath infers the module type from a module path. Unrecognized
// extensions default to js, matching what most bundler outputs are.
func ModuleTypeForPath(path string) ModuleType {
	switch extension(path) {
	case "js", "mjs":
		return ModuleJS
	case "cjs":
		return ModuleCJS
	case "py":
		return ModulePy
	case "txt", "html":
		return ModuleText
	case "json":
		return ModuleJSON
	case "bin":
		return ModuleData
	case "wasm":
		return ModuleWasm
	default:
		return ModuleJS
	}
}

func extension(path string) string {
	i := strings.LastIndexByte(path, '.')
	if i < 0 || i == len(path)-1 {
		return ""
	}
	// A dot inside the final path segment only.
	if strings.IndexByte(path[i:], '/') >= 0 {
		return ""
	}
	return strings.ToLower(path[i+1:])
}

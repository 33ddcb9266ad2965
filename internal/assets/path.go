// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package assets

import (
	"net/url"
	"strings"
)

// decodePath normalizes a request path into the canonical lookup key: each
// segment is percent-decoded (segments that fail to decode are kept verbatim)
// and runs of slashes collapse to one. Decoding a %2F introduces a new
// separator on purpose; the collapsed, decoded form is what manifests are
// keyed by.
func decodePath(p string) string {
	segments := strings.Split(p, "/")
	for i, seg := range segments {
		if decoded, err := url.PathUnescape(seg); err == nil {
			segments[i] = decoded
		}
	}
	return collapseSlashes(strings.Join(segments, "/"))
}

func collapseSlashes(p string) string {
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	return p
}

// pchar characters from RFC 3986 that survive encoding, beyond alphanumerics.
const segmentSafe = "-._~!$&'()*+,;=:@"

func escapeSegment(seg string) string {
	var b strings.Builder
	for i := range len(seg) {
		c := seg[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
			b.WriteByte(c)
		case strings.IndexByte(segmentSafe, c) >= 0:
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(upperhex[c>>4])
			b.WriteByte(upperhex[c&0xf])
		}
	}
	return b.String()
}

const upperhex = "0123456789ABCDEF"

// encodePath produces the canonical encoded form of a decoded pathname.
// Serving compares this against the path the client actually sent to decide
// whether a canonicalizing redirect is needed.
func encodePath(p string) string {
	segments := strings.Split(p, "/")
	for i, seg := range segments {
		segments[i] = escapeSegment(seg)
	}
	return strings.Join(segments, "/")
}

// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package assets

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/pagedock/pagedock/internal/syncx"
)

// pattern is a compiled rule source for dynamic redirects and header rules.
// Sources support :name placeholders and * wildcards (captured as :splat).
// A source beginning with "/" matches the request path alone; any other
// source matches host+path, with placeholders in the host part stopping at
// dots as well as slashes.
type pattern struct {
	re       *regexp.Regexp
	hostful  bool
	captures []string
}

func isPlaceholderByte(c byte) bool {
	return c == '_' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}

// patternCache memoizes compiled sources. Projects reuse a small fixed set
// of rule sources across requests, so each compiles at most once and the
// serving path only pays the regexp match.
var patternCache syncx.Map[string, *pattern]

func compilePattern(source string) (*pattern, error) {
	if p, ok := patternCache.Load(source); ok {
		return p, nil
	}
	p, err := compileSource(source)
	if err != nil {
		return nil, err
	}
	p, _ = patternCache.LoadOrStore(source, p)
	return p, nil
}

func compileSource(source string) (*pattern, error) {
	if source == "" {
		return nil, errors.New("empty pattern")
	}
	p := &pattern{hostful: !strings.HasPrefix(source, "/")}
	var b strings.Builder
	b.WriteString("^")
	inHost := p.hostful
	for i := 0; i < len(source); {
		c := source[i]
		switch {
		case c == '/':
			inHost = false
			b.WriteString("/")
			i++
		case c == '*':
			p.captures = append(p.captures, "splat")
			b.WriteString("(.*)")
			i++
		case c == ':':
			j := i + 1
			for j < len(source) && isPlaceholderByte(source[j]) {
				j++
			}
			if j == i+1 {
				return nil, errors.Errorf("pattern %q: bare colon at offset %d", source, i)
			}
			p.captures = append(p.captures, source[i+1:j])
			if inHost {
				b.WriteString("([^/.]+)")
			} else {
				b.WriteString("([^/]+)")
			}
			i = j
		default:
			b.WriteString(regexp.QuoteMeta(source[i : i+1]))
			i++
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, errors.Wrapf(err, "pattern %q", source)
	}
	p.re = re
	return p, nil
}

// match tests the pattern against a request. Hostful patterns see host+path,
// path patterns see the path alone. On success the returned map carries the
// placeholder captures.
func (p *pattern) match(host, path string) (map[string]string, bool) {
	target := path
	if p.hostful {
		target = host + path
	}
	m := p.re.FindStringSubmatch(target)
	if m == nil {
		return nil, false
	}
	vals := make(map[string]string, len(p.captures))
	for i, name := range p.captures {
		vals[name] = m[i+1]
	}
	return vals, true
}

// interpolate substitutes :name tokens in a template with captured values.
// Unknown names are left verbatim.
func interpolate(template string, vals map[string]string) string {
	if len(vals) == 0 || !strings.Contains(template, ":") {
		return template
	}
	var b strings.Builder
	for i := 0; i < len(template); {
		if template[i] != ':' {
			b.WriteByte(template[i])
			i++
			continue
		}
		j := i + 1
		for j < len(template) && isPlaceholderByte(template[j]) {
			j++
		}
		if v, ok := vals[template[i+1:j]]; j > i+1 && ok {
			b.WriteString(v)
		} else {
			b.WriteString(template[i:j])
		}
		i = j
	}
	return b.String()
}

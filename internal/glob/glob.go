// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package glob compiles run_worker_first route patterns into a matcher.
// Patterns follow gitignore-style globbing ('*' within a segment, '**'
// across segments); a '!' prefix turns a pattern into an exclusion. A path
// is routed worker-first when it matches at least one inclusion and no
// exclusion; exclusions veto inclusions regardless of declaration order.
package glob

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"
)

// RuleSet is a compiled run_worker_first pattern list.
type RuleSet struct {
	include []string
	exclude []string
}

// Compile validates the pattern list and splits inclusions from exclusions.
// Leading slashes on patterns are optional: "/api/*" and "api/*" match the
// same request paths.
func Compile(patterns []string) (*RuleSet, error) {
	rs := &RuleSet{}
	for _, pattern := range patterns {
		negated := strings.HasPrefix(pattern, "!")
		cleaned := strings.TrimPrefix(strings.TrimPrefix(pattern, "!"), "/")
		if cleaned == "" {
			return nil, errors.Errorf("empty glob pattern %q", pattern)
		}
		if !doublestar.ValidatePattern(cleaned) {
			return nil, errors.Errorf("invalid glob pattern %q", pattern)
		}
		if negated {
			rs.exclude = append(rs.exclude, cleaned)
		} else {
			rs.include = append(rs.include, cleaned)
		}
	}
	return rs, nil
}

// Empty reports whether the set contains no inclusion patterns, in which
// case no path routes worker-first.
func (r *RuleSet) Empty() bool {
	return r == nil || len(r.include) == 0
}

// Match reports whether the request path routes worker-first.
func (r *RuleSet) Match(path string) bool {
	if r.Empty() {
		return false
	}
	name := strings.TrimPrefix(path, "/")
	for _, pattern := range r.exclude {
		// Patterns are pre-validated, so Match cannot fail.
		if ok, _ := doublestar.Match(pattern, name); ok {
			return false
		}
	}
	for _, pattern := range r.include {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package assets

import (
	"net/http"
	"net/textproto"
	"sort"

	"github.com/pagedock/pagedock/pkg/schema"
)

// applyHeaderRules layers the project's custom headers onto a response.
// Rules run in source order against the request. Within each matching rule
// unset names are removed before set names land. The first matching rule to
// set a name replaces whatever the pipeline put there; later matching rules
// append, so repeated Set-Cookie style values accumulate across rules.
// Captured placeholders interpolate into value templates.
func applyHeaderRules(h http.Header, rules *schema.HeaderRules, host, path string) {
	if rules == nil || len(rules.Rules) == 0 {
		return
	}
	replaced := make(map[string]bool)
	for _, rule := range rules.Rules {
		p, err := compilePattern(rule.Source)
		if err != nil {
			continue
		}
		vals, ok := p.match(host, path)
		if !ok {
			continue
		}
		for _, name := range rule.Unset {
			h.Del(name)
		}
		names := make([]string, 0, len(rule.Set))
		for name := range rule.Set {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			value := interpolate(rule.Set[name], vals)
			key := textproto.CanonicalMIMEHeaderKey(name)
			if replaced[key] {
				h.Add(name, value)
			} else {
				h.Set(name, value)
				replaced[key] = true
			}
		}
	}
}

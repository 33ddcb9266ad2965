// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit gates serving-path requests per project.
package ratelimit

import (
	"golang.org/x/time/rate"

	"github.com/pagedock/pagedock/internal/syncx"
)

// Limiter admits or rejects a request attributed to a project.
type Limiter interface {
	Allow(projectID string) bool
}

// Unlimited admits every request.
var Unlimited Limiter = unlimited{}

type unlimited struct{}

func (unlimited) Allow(string) bool { return true }

// PerProject applies an independent token bucket to each project so one hot
// deployment cannot starve the rest.
type PerProject struct {
	limit    rate.Limit
	burst    int
	limiters syncx.Map[string, *rate.Limiter]
}

var _ Limiter = (*PerProject)(nil)

// NewPerProject returns a limiter allowing rps sustained requests per second
// with the given burst, separately for each project.
func NewPerProject(rps float64, burst int) *PerProject {
	return &PerProject{limit: rate.Limit(rps), burst: burst}
}

// Allow reports whether the project may serve another request now.
func (p *PerProject) Allow(projectID string) bool {
	limiter, ok := p.limiters.Load(projectID)
	if !ok {
		limiter, _ = p.limiters.LoadOrStore(projectID, rate.NewLimiter(p.limit, p.burst))
	}
	return limiter.Allow()
}

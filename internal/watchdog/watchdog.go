// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package watchdog reclaims projects that will never serve: deployments
// abandoned before finalizing, failed deploys past their grace period, and
// records whose metadata is unusable. Healthy READY projects and anything
// still inside the grace period are left alone.
package watchdog

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/pagedock/pagedock/internal/api/params"
	"github.com/pagedock/pagedock/internal/kv"
	"github.com/pagedock/pagedock/internal/metrics"
	"github.com/pagedock/pagedock/internal/project"
	"github.com/pagedock/pagedock/internal/taskqueue"
	"github.com/pagedock/pagedock/pkg/schema"
)

const (
	// SweepInterval is how often Run walks the full project listing.
	SweepInterval = time.Minute
	// GracePeriod is how long PENDING and ERROR records get to resolve
	// before they are collected.
	GracePeriod = 30 * time.Minute

	sweepPageSize = 256
)

// Deletion reasons, used as metric labels and in sweep logs.
const (
	reasonUnknownStatus = "unknown_status"
	reasonStaleError    = "stale_error"
	reasonStalePending  = "stale_pending"
	reasonBadTimestamp  = "bad_timestamp"
	reasonCorrupt       = "corrupt"
)

type Deps struct {
	Store *project.Store
	// Queue, when set, dispatches deletions as authenticated control-plane
	// calls instead of deleting inline. ControlURL is the base URL those
	// calls target.
	Queue      taskqueue.Queue
	ControlURL string
}

// Watchdog periodically collects stale projects.
type Watchdog struct {
	deps *Deps
	// now is overridable for tests.
	now func() time.Time
}

func New(deps *Deps) *Watchdog {
	return &Watchdog{deps: deps, now: time.Now}
}

// Run sweeps immediately and then once per SweepInterval until ctx is
// cancelled. Sweep failures are logged; the loop never stops on them.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()
	for {
		if err := w.Sweep(ctx); err != nil {
			log.Printf("watchdog sweep: %+v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep classifies every project record once. Failures on individual
// projects are logged and the sweep continues; only listing failures abort
// it. Each deletion is per-project atomic, so an interrupted sweep leaves no
// state the next one cannot handle.
func (w *Watchdog) Sweep(ctx context.Context) error {
	now := w.now().UTC()
	var cursor string
	for {
		page, err := w.deps.Store.Projects.List(ctx, schema.ProjectsPrefix, sweepPageSize, cursor)
		if err != nil {
			return errors.Wrap(err, "listing project keys")
		}
		for _, id := range project.MetadataIDs(page.Keys) {
			w.check(ctx, id, now)
		}
		if page.Complete {
			return nil
		}
		cursor = page.Cursor
	}
}

func (w *Watchdog) check(ctx context.Context, id string, now time.Time) {
	var reason string
	p, err := w.deps.Store.Get(ctx, id)
	switch {
	case kv.IsNotFound(err):
		// Expired between listing and fetch.
		return
	case errors.Is(err, project.ErrCorrupt):
		reason = reasonCorrupt
	case err != nil:
		log.Printf("watchdog: loading project %s: %+v", id, err)
		return
	default:
		reason = classify(p, now)
	}
	if reason == "" {
		return
	}
	if err := w.delete(ctx, id); err != nil {
		log.Printf("watchdog: deleting project %s (%s): %+v", id, reason, err)
		return
	}
	metrics.WatchdogDeletionsTotal.WithLabelValues(reason).Inc()
	log.Printf("watchdog: collected project %s (%s)", id, reason)
}

// classify returns the deletion reason for p, or "" to keep it. READY
// projects are always kept; PENDING ages on createdAt, ERROR on updatedAt.
func classify(p *schema.Project, now time.Time) string {
	switch p.Status {
	case schema.ProjectStatusReady:
		return ""
	case schema.ProjectStatusError:
		if p.UpdatedAt.IsZero() {
			return reasonBadTimestamp
		}
		if now.Sub(p.UpdatedAt) > GracePeriod {
			return reasonStaleError
		}
		return ""
	case schema.ProjectStatusPending:
		if p.CreatedAt.IsZero() {
			return reasonBadTimestamp
		}
		if now.Sub(p.CreatedAt) > GracePeriod {
			return reasonStalePending
		}
		return ""
	default:
		return reasonUnknownStatus
	}
}

func (w *Watchdog) delete(ctx context.Context, id string) error {
	if w.deps.Queue == nil {
		return w.deps.Store.Delete(ctx, id)
	}
	req := schema.DeleteProjectRequest{ID: id}
	path, _, _, err := params.Expand("/__api/projects/{projectID}", req)
	if err != nil {
		return errors.Wrap(err, "expanding delete path")
	}
	_, err = w.deps.Queue.Add(ctx, http.MethodDelete, w.deps.ControlURL+path, req)
	return errors.Wrap(err, "enqueuing delete")
}

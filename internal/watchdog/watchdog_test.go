// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package watchdog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	taskspb "cloud.google.com/go/cloudtasks/apiv2/cloudtaskspb"
	"github.com/pkg/errors"

	"github.com/pagedock/pagedock/internal/api"
	"github.com/pagedock/pagedock/internal/kv"
	"github.com/pagedock/pagedock/internal/project"
	"github.com/pagedock/pagedock/pkg/schema"
)

var sweepTime = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newTestWatchdog(deps *Deps) *Watchdog {
	w := New(deps)
	w.now = func() time.Time { return sweepTime }
	return w
}

func seedRecord(t *testing.T, mem kv.Store, p *schema.Project) {
	t.Helper()
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshalling project: %v", err)
	}
	if err := mem.Put(context.Background(), schema.MetadataKey(p.ID), raw, nil); err != nil {
		t.Fatalf("seeding project %s: %v", p.ID, err)
	}
}

func TestClassify(t *testing.T) {
	old := sweepTime.Add(-GracePeriod - time.Minute)
	fresh := sweepTime.Add(-GracePeriod + time.Minute)
	testCases := []struct {
		name string
		p    schema.Project
		want string
	}{
		{name: "ready kept", p: schema.Project{Status: schema.ProjectStatusReady, CreatedAt: old, UpdatedAt: old}, want: ""},
		{name: "fresh pending kept", p: schema.Project{Status: schema.ProjectStatusPending, CreatedAt: fresh}, want: ""},
		{name: "stale pending", p: schema.Project{Status: schema.ProjectStatusPending, CreatedAt: old}, want: reasonStalePending},
		{name: "fresh error kept", p: schema.Project{Status: schema.ProjectStatusError, UpdatedAt: fresh}, want: ""},
		{name: "stale error", p: schema.Project{Status: schema.ProjectStatusError, UpdatedAt: old}, want: reasonStaleError},
		{name: "pending without timestamp", p: schema.Project{Status: schema.ProjectStatusPending}, want: reasonBadTimestamp},
		{name: "error without timestamp", p: schema.Project{Status: schema.ProjectStatusError}, want: reasonBadTimestamp},
		{name: "unknown status", p: schema.Project{Status: "LIMBO", CreatedAt: fresh}, want: reasonUnknownStatus},
		{name: "missing status", p: schema.Project{CreatedAt: fresh}, want: reasonUnknownStatus},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := classify(&tc.p, sweepTime); got != tc.want {
				t.Errorf("classify(%+v) = %q, want %q", tc.p, got, tc.want)
			}
		})
	}
}

func TestSweepCollectsStaleProjects(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemoryStore()
	store := project.NewStore(mem, mem, mem)
	old := sweepTime.Add(-time.Hour)
	fresh := sweepTime.Add(-time.Minute)

	doomed := []*schema.Project{
		{ID: "stale-pending", Status: schema.ProjectStatusPending, CreatedAt: old, UpdatedAt: old},
		{ID: "stale-error", Status: schema.ProjectStatusError, CreatedAt: old, UpdatedAt: old},
		{ID: "limbo", Status: "LIMBO", CreatedAt: fresh, UpdatedAt: fresh},
	}
	kept := []*schema.Project{
		{ID: "ready", Status: schema.ProjectStatusReady, CreatedAt: old, UpdatedAt: old},
		{ID: "fresh-pending", Status: schema.ProjectStatusPending, CreatedAt: fresh, UpdatedAt: fresh},
		{ID: "fresh-error", Status: schema.ProjectStatusError, CreatedAt: fresh, UpdatedAt: fresh},
	}
	for _, p := range append(append([]*schema.Project{}, doomed...), kept...) {
		seedRecord(t, mem, p)
	}
	if err := mem.Put(ctx, schema.MetadataKey("broken"), []byte("{not json"), nil); err != nil {
		t.Fatalf("seeding corrupt record: %v", err)
	}
	// A stale project's blobs go with it.
	hash := fmt.Sprintf("%064d", 1)
	if err := mem.Put(ctx, schema.AssetKey("stale-pending", hash), []byte("x"), nil); err != nil {
		t.Fatalf("seeding asset: %v", err)
	}

	w := newTestWatchdog(&Deps{Store: store})
	if err := w.Sweep(ctx); err != nil {
		t.Fatalf("Sweep() = %v", err)
	}

	for _, p := range doomed {
		if _, err := store.Get(ctx, p.ID); !kv.IsNotFound(err) {
			t.Errorf("project %s survived the sweep: %v", p.ID, err)
		}
	}
	if ok, _ := mem.Exists(ctx, schema.MetadataKey("broken")); ok {
		t.Error("corrupt record survived the sweep")
	}
	if ok, _ := mem.Exists(ctx, schema.AssetKey("stale-pending", hash)); ok {
		t.Error("stale project's asset survived the sweep")
	}
	for _, p := range kept {
		if _, err := store.Get(ctx, p.ID); err != nil {
			t.Errorf("project %s was collected: %v", p.ID, err)
		}
	}
}

// failingStore refuses deletes of one key so a single poisoned project can be
// planted in front of healthy work.
type failingStore struct {
	kv.Store
	failKey string
}

func (s *failingStore) Delete(ctx context.Context, key string) error {
	if key == s.failKey {
		return errors.New("store outage")
	}
	return s.Store.Delete(ctx, key)
}

func TestSweepContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemoryStore()
	wrapped := &failingStore{Store: mem, failKey: schema.MetadataKey("poison")}
	store := project.NewStore(wrapped, wrapped, wrapped)
	old := sweepTime.Add(-time.Hour)
	seedRecord(t, mem, &schema.Project{ID: "poison", Status: schema.ProjectStatusPending, CreatedAt: old})
	seedRecord(t, mem, &schema.Project{ID: "stale", Status: schema.ProjectStatusPending, CreatedAt: old})

	w := newTestWatchdog(&Deps{Store: store})
	if err := w.Sweep(ctx); err != nil {
		t.Fatalf("Sweep() = %v", err)
	}
	if _, err := store.Get(ctx, "stale"); !kv.IsNotFound(err) {
		t.Errorf("stale project survived a sweep with an unrelated failure: %v", err)
	}
	if ok, _ := mem.Exists(ctx, schema.MetadataKey("poison")); !ok {
		t.Error("poisoned record vanished despite the delete failure")
	}
}

type fakeQueue struct {
	calls []string
}

func (q *fakeQueue) Add(ctx context.Context, method, url string, msg api.Message) (*taskspb.Task, error) {
	q.calls = append(q.calls, method+" "+url)
	return &taskspb.Task{}, nil
}

func TestSweepDispatchesThroughQueue(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemoryStore()
	store := project.NewStore(mem, mem, mem)
	seedRecord(t, mem, &schema.Project{ID: "stale", Status: schema.ProjectStatusPending, CreatedAt: sweepTime.Add(-time.Hour)})

	q := &fakeQueue{}
	w := newTestWatchdog(&Deps{Store: store, Queue: q, ControlURL: "https://control.example.com"})
	if err := w.Sweep(ctx); err != nil {
		t.Fatalf("Sweep() = %v", err)
	}
	want := "DELETE https://control.example.com/__api/projects/stale"
	if len(q.calls) != 1 || q.calls[0] != want {
		t.Errorf("queued calls = %v, want [%s]", q.calls, want)
	}
	// Queue dispatch defers the actual delete to the control plane.
	if _, err := store.Get(ctx, "stale"); err != nil {
		t.Errorf("project deleted inline despite queue dispatch: %v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	mem := kv.NewMemoryStore()
	store := project.NewStore(mem, mem, mem)
	seedRecord(t, mem, &schema.Project{ID: "stale", Status: schema.ProjectStatusPending, CreatedAt: sweepTime.Add(-time.Hour)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := newTestWatchdog(&Deps{Store: store})
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	// The initial sweep still ran before the loop observed cancellation.
	if _, err := store.Get(context.Background(), "stale"); !kv.IsNotFound(err) {
		t.Errorf("initial sweep did not collect the stale project: %v", err)
	}
}

func TestMetadataIDFiltering(t *testing.T) {
	keys := []string{
		schema.MetadataKey("a"),
		schema.AssetKey("a", strings.Repeat("0", 64)),
		schema.ManifestKey("a"),
		schema.ModuleManifestKey("a"),
		schema.MetadataKey("b"),
		"unrelated/key",
	}
	got := project.MetadataIDs(keys)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("MetadataIDs(%v) = %v, want [a b]", keys, got)
	}
}

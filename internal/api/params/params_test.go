// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package params

import (
	"context"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

type message struct {
	ID      string `param:"id,required"`
	Limit   int    `query:"limit"`
	Verbose bool   `query:"verbose"`
	Auth    string `header:"Authorization"`
	Body    string
}

func newRequest(t *testing.T, target string, routeParams map[string]string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	rctx := chi.NewRouteContext()
	for name, val := range routeParams {
		rctx.URLParams.Add(name, val)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestUnmarshal(t *testing.T) {
	req := newRequest(t, "/things/t1?limit=25&verbose=true", map[string]string{"id": "t1"})
	req.Header.Set("Authorization", "Bearer tok")
	var got message
	if err := Unmarshal(req, &got); err != nil {
		t.Fatalf("Unmarshal() = %v", err)
	}
	want := message{ID: "t1", Limit: 25, Verbose: true, Auth: "Bearer tok"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Unmarshal() diff (-want +got):\n%s", diff)
	}
}

func TestUnmarshalMissingRequired(t *testing.T) {
	req := newRequest(t, "/things", nil)
	var got message
	if err := Unmarshal(req, &got); !errors.Is(err, ErrMissingRequired) {
		t.Errorf("Unmarshal() = %v, want ErrMissingRequired", err)
	}
}

func TestUnmarshalOptionalAbsent(t *testing.T) {
	req := newRequest(t, "/things/t1", map[string]string{"id": "t1"})
	var got message
	if err := Unmarshal(req, &got); err != nil {
		t.Fatalf("Unmarshal() = %v", err)
	}
	if got.Limit != 0 || got.Verbose || got.Auth != "" {
		t.Errorf("absent fields populated: %+v", got)
	}
}

func TestUnmarshalBadValue(t *testing.T) {
	req := newRequest(t, "/things/t1?limit=lots", map[string]string{"id": "t1"})
	var got message
	if err := Unmarshal(req, &got); err == nil {
		t.Error("Unmarshal() accepted a non-numeric limit")
	}
}

func TestExpand(t *testing.T) {
	msg := message{ID: "t 1", Limit: 25, Auth: "tok", Body: "ignored"}
	path, query, header, err := Expand("/things/{id}", msg)
	if err != nil {
		t.Fatalf("Expand() = %v", err)
	}
	if path != "/things/t%201" {
		t.Errorf("path = %q, want %q", path, "/things/t%201")
	}
	if got := query.Get("limit"); got != "25" {
		t.Errorf("query limit = %q, want %q", got, "25")
	}
	if query.Has("verbose") {
		t.Error("zero-valued query field emitted")
	}
	if got := header.Get("Authorization"); got != "tok" {
		t.Errorf("header = %q, want %q", got, "tok")
	}
}

func TestExpandMissingParam(t *testing.T) {
	if _, _, _, err := Expand("/things/{id}", message{}); !errors.Is(err, ErrMissingRequired) {
		t.Errorf("Expand() = %v, want ErrMissingRequired", err)
	}
}

func TestExpandUnexpandedSegment(t *testing.T) {
	if _, _, _, err := Expand("/things/{other}", message{ID: "t1"}); err == nil {
		t.Error("Expand() accepted a pattern with an unknown segment")
	}
}

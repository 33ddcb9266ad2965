// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package api provides the typed request/response plumbing shared by the
// control-plane handlers and their clients: JSON codecs over validated
// messages, gRPC-status error mapping, and stub constructors.
package api

import "context"

// Message is a validated request or response type.
type Message interface {
	Validate() error
}

// Deps is a marker type for dependency containers.
type Deps any

// InitT initializes dependencies from context.
type InitT[D Deps] func(context.Context) (D, error)

// NoDeps is a zero-value dependency container.
type NoDeps struct{}

// NoDepsInit is an InitT that returns NoDeps.
func NoDepsInit(context.Context) (*NoDeps, error) { return &NoDeps{}, nil }

// NoReturn is a zero-value output for handlers that only produce side effects.
type NoReturn struct{}

// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package schema defines the shared data model of the deployment platform:
// project metadata, upload sessions, serving configuration, server-code
// manifests, and the control-plane request/response messages.
package schema

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/pagedock/pagedock/pkg/content"
)

// ProjectStatus is the lifecycle state of a project.
type ProjectStatus string

const (
	// ProjectStatusPending marks a created project whose first deployment has
	// not finalized. Pending metadata carries a TTL so abandoned projects
	// evaporate on their own.
	ProjectStatusPending ProjectStatus = "PENDING"
	// ProjectStatusReady marks a successfully deployed project.
	ProjectStatusReady ProjectStatus = "READY"
	// ProjectStatusError marks a project whose deployment failed. The watchdog
	// removes these after a grace period.
	ProjectStatusError ProjectStatus = "ERROR"
)

// Limits enforced by the upload and deployment paths.
const (
	MaxManifestEntries   = 20000
	MaxAssetSize         = 25 << 20 // 25 MiB
	MaxChunkFiles        = 50
	BucketSize           = 10
	MaxServerCodeSize    = 10_000_000
	MaxModulePathLength  = 512
	MaxEnvVars           = 64
	MaxEnvNameLength     = 128
	MaxEnvValueSize      = 5_000
	MaxProjectNameLength = 128
	MaxStaticRedirects   = 2000
	MaxDynamicRedirects  = 100
	MaxHeaderRules       = 100
	MaxListLimit         = 100
)

// TTLs shared by sessions, pending projects, and signed tokens.
const (
	SessionTTL        = time.Hour
	ProjectPendingTTL = time.Hour
	TokenTTL          = time.Hour
)

// DefaultCompatibilityDate is stamped onto server-code manifests that do not
// declare one.
const DefaultCompatibilityDate = "2025-11-09"

// Project is the stored metadata record for one deployment namespace.
type Project struct {
	ID             string         `json:"id"`
	Name           string         `json:"name,omitempty"`
	Status         ProjectStatus  `json:"status"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	HasServerCode  bool           `json:"hasServerCode"`
	AssetsCount    int            `json:"assetsCount"`
	Config         *ServingConfig `json:"config,omitempty"`
	RunWorkerFirst *WorkerFirst   `json:"runWorkerFirst,omitempty"`
}

// WorkerFirst is the run_worker_first setting: either a blanket boolean or a
// list of glob patterns selecting which request paths bypass asset lookup.
type WorkerFirst struct {
	All      bool
	Patterns []string
}

// MarshalJSON emits the compact wire form: a list when patterns are present,
// otherwise a boolean.
func (w WorkerFirst) MarshalJSON() ([]byte, error) {
	if w.Patterns != nil {
		return json.Marshal(w.Patterns)
	}
	return json.Marshal(w.All)
}

// UnmarshalJSON accepts a boolean or a list of patterns.
func (w *WorkerFirst) UnmarshalJSON(b []byte) error {
	var all bool
	if err := json.Unmarshal(b, &all); err == nil {
		w.All, w.Patterns = all, nil
		return nil
	}
	var patterns []string
	if err := json.Unmarshal(b, &patterns); err == nil {
		w.All, w.Patterns = false, patterns
		return nil
	}
	return errors.New("run_worker_first: expected boolean or list of glob patterns")
}

// HTMLHandling selects how .html assets map onto request paths.
type HTMLHandling string

const (
	HTMLHandlingAutoTrailingSlash  HTMLHandling = "auto-trailing-slash"
	HTMLHandlingForceTrailingSlash HTMLHandling = "force-trailing-slash"
	HTMLHandlingDropTrailingSlash  HTMLHandling = "drop-trailing-slash"
	HTMLHandlingNone               HTMLHandling = "none"
)

// NotFoundHandling selects the fallback when no asset matches.
type NotFoundHandling string

const (
	NotFoundSinglePageApplication NotFoundHandling = "single-page-application"
	NotFound404Page               NotFoundHandling = "404-page"
	NotFoundNone                  NotFoundHandling = "none"
)

// ServingConfig is the per-project asset-serving configuration.
type ServingConfig struct {
	HTMLHandling     HTMLHandling     `json:"html_handling,omitempty"`
	NotFoundHandling NotFoundHandling `json:"not_found_handling,omitempty"`
	Redirects        *RedirectRules   `json:"redirects,omitempty"`
	Headers          *HeaderRules     `json:"headers,omitempty"`
	HasStaticRouting bool             `json:"has_static_routing,omitempty"`
}

// ResolvedHTMLHandling applies the default mode for nil or empty configs.
func (c *ServingConfig) ResolvedHTMLHandling() HTMLHandling {
	if c == nil || c.HTMLHandling == "" {
		return HTMLHandlingAutoTrailingSlash
	}
	return c.HTMLHandling
}

// ResolvedNotFoundHandling applies the default mode for nil or empty configs.
func (c *ServingConfig) ResolvedNotFoundHandling() NotFoundHandling {
	if c == nil || c.NotFoundHandling == "" {
		return NotFoundNone
	}
	return c.NotFoundHandling
}

// StaticRedirect is an exact-match redirect rule. LineNumber preserves source
// order so overlapping host and path rules tiebreak deterministically.
type StaticRedirect struct {
	Status     int    `json:"status"`
	To         string `json:"to"`
	LineNumber int    `json:"lineNumber"`
}

// DynamicRedirect is a parameterized redirect rule evaluated in order.
type DynamicRedirect struct {
	Source string `json:"source"`
	Status int    `json:"status"`
	To     string `json:"to"`
}

// RedirectRules holds a project's redirect configuration. Static rules are
// keyed by exact source (path, or host+path); dynamic rules preserve
// insertion order.
type RedirectRules struct {
	StaticRules  map[string]StaticRedirect `json:"static_rules,omitempty"`
	DynamicRules []DynamicRedirect         `json:"dynamic_rules,omitempty"`
}

// HeaderRule attaches and removes response headers for matching paths.
type HeaderRule struct {
	Source string            `json:"source"`
	Set    map[string]string `json:"set,omitempty"`
	Unset  []string          `json:"unset,omitempty"`
}

// HeaderRules holds a project's custom header configuration in source order.
type HeaderRules struct {
	Rules []HeaderRule `json:"rules,omitempty"`
}

// ManifestEntry describes one pathname in an upload manifest.
type ManifestEntry struct {
	Hash string `json:"hash"`
	Size *int64 `json:"size,omitempty"`
}

// UploadSession is the stored record of an in-flight asset upload.
type UploadSession struct {
	ID              string                   `json:"id"`
	ProjectID       string                   `json:"projectId"`
	Manifest        map[string]ManifestEntry `json:"manifest"`
	Buckets         [][]string               `json:"buckets"`
	UploadedHashes  []string                 `json:"uploadedHashes,omitempty"`
	CreatedAt       time.Time                `json:"createdAt"`
	CompletionToken string                   `json:"completionToken,omitempty"`
}

// Uploaded reports whether the hash was already accepted in this session.
func (s *UploadSession) Uploaded(hash string) bool {
	for _, h := range s.UploadedHashes {
		if h == hash {
			return true
		}
	}
	return false
}

// Complete reports whether every bucketed hash has been uploaded.
func (s *UploadSession) Complete() bool {
	for _, bucket := range s.Buckets {
		for _, h := range bucket {
			if !s.Uploaded(h) {
				return false
			}
		}
	}
	return true
}

// ServerModule is one entry of a server-code manifest.
type ServerModule struct {
	Hash string             `json:"hash"`
	Type content.ModuleType `json:"type"`
}

// ServerCodeManifest is the JSON manifest stored alongside content-addressed
// server modules. It is the unit handed to the worker executor.
type ServerCodeManifest struct {
	Entrypoint        string                  `json:"entrypoint"`
	Modules           map[string]ServerModule `json:"modules"`
	CompatibilityDate string                  `json:"compatibilityDate"`
	Env               map[string]string       `json:"env,omitempty"`
}

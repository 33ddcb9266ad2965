// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"

	"github.com/pagedock/pagedock/internal/api"
	"github.com/pagedock/pagedock/pkg/content"
)

// CreateProjectRequest creates a new project namespace.
type CreateProjectRequest struct {
	Name *string `json:"name,omitempty"`
}

var _ api.Message = CreateProjectRequest{}

func (r CreateProjectRequest) Validate() error {
	if r.Name != nil {
		if *r.Name == "" {
			return errors.New("name: must be non-empty when provided")
		}
		if len(*r.Name) > MaxProjectNameLength {
			return errors.Errorf("name: exceeds %d characters", MaxProjectNameLength)
		}
	}
	return nil
}

// CreateProjectResponse returns the new project record.
type CreateProjectResponse struct {
	Success bool     `json:"success"`
	Project *Project `json:"project"`
}

func (CreateProjectResponse) HTTPStatus() int { return http.StatusCreated }

// GetProjectRequest fetches one project by id.
type GetProjectRequest struct {
	ID string `json:"-" param:"projectID,required"`
}

var _ api.Message = GetProjectRequest{}

func (r GetProjectRequest) Validate() error { return nil }

// GetProjectResponse returns the project record.
type GetProjectResponse struct {
	Success bool     `json:"success"`
	Project *Project `json:"project"`
}

// ListProjectsRequest pages through project metadata.
type ListProjectsRequest struct {
	Limit  int    `json:"-" query:"limit"`
	Cursor string `json:"-" query:"cursor"`
}

var _ api.Message = ListProjectsRequest{}

func (r ListProjectsRequest) Validate() error {
	if r.Limit < 0 {
		return errors.New("limit: must be non-negative")
	}
	return nil
}

// ListProjectsResponse returns one page of projects.
type ListProjectsResponse struct {
	Success  bool       `json:"success"`
	Projects []*Project `json:"projects"`
	Cursor   string     `json:"cursor,omitempty"`
	Complete bool       `json:"complete"`
}

// DeleteProjectRequest removes a project and every blob it owns.
type DeleteProjectRequest struct {
	ID string `json:"-" param:"projectID,required"`
}

var _ api.Message = DeleteProjectRequest{}

func (r DeleteProjectRequest) Validate() error { return nil }

// DeleteProjectResponse acknowledges the cascade delete.
type DeleteProjectResponse struct {
	Success bool `json:"success"`
}

// CreateUploadSessionRequest opens an upload session for the given manifest.
type CreateUploadSessionRequest struct {
	ProjectID string                   `json:"-" param:"projectID,required"`
	Manifest  map[string]ManifestEntry `json:"manifest"`
}

var _ api.Message = CreateUploadSessionRequest{}

func (r CreateUploadSessionRequest) Validate() error {
	if len(r.Manifest) == 0 {
		return errors.New("manifest: must contain at least one entry")
	}
	if len(r.Manifest) > MaxManifestEntries {
		return errors.Errorf("manifest: exceeds %d entries", MaxManifestEntries)
	}
	for path, entry := range r.Manifest {
		if err := content.ValidatePathname(path); err != nil {
			return errors.Wrap(err, "manifest")
		}
		if !content.ValidHash(entry.Hash) {
			return errors.Errorf("manifest: %s: malformed content hash", path)
		}
		if entry.Size != nil && *entry.Size < 0 {
			return errors.Errorf("manifest: %s: negative size", path)
		}
	}
	return nil
}

// UploadSessionResponse returns the session token and the hashes still to be
// uploaded, grouped into buckets. Empty buckets mean every hash was already
// present and the token is a completion token.
type UploadSessionResponse struct {
	Success bool       `json:"success"`
	JWT     string     `json:"jwt"`
	Buckets [][]string `json:"buckets"`
}

// UploadChunkRequest carries up to MaxChunkFiles base64-encoded files keyed
// by their claimed content hash. The JSON body is the bare map.
type UploadChunkRequest struct {
	ProjectID     string            `json:"-" param:"projectID,required"`
	Authorization string            `json:"-" header:"Authorization"`
	Files         map[string]string `json:"-"`
}

var _ api.Message = UploadChunkRequest{}

// UnmarshalJSON reads the whole body as the hash-to-content map.
func (r *UploadChunkRequest) UnmarshalJSON(b []byte) error {
	return json.Unmarshal(b, &r.Files)
}

// MarshalJSON writes the bare hash-to-content map.
func (r UploadChunkRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Files)
}

func (r UploadChunkRequest) Validate() error {
	if len(r.Files) == 0 {
		return errors.New("chunk: must contain at least one file")
	}
	if len(r.Files) > MaxChunkFiles {
		return errors.Errorf("chunk: exceeds %d files", MaxChunkFiles)
	}
	for hash, body := range r.Files {
		if !content.ValidHash(hash) {
			return errors.Errorf("chunk: malformed content hash %q", hash)
		}
		if body == "" {
			return errors.Errorf("chunk: %s: empty content", hash)
		}
	}
	return nil
}

// UploadChunkResponse reports chunk acceptance. JWT is null until the final
// chunk completes the session, at which point it carries the completion token
// and the response status is 201.
type UploadChunkResponse struct {
	Success bool    `json:"success"`
	JWT     *string `json:"jwt"`
}

func (r UploadChunkResponse) HTTPStatus() int {
	if r.JWT != nil {
		return http.StatusCreated
	}
	return http.StatusOK
}

// ModulePayload is one server-code module in a deploy request: either a bare
// base64 string or {content, type}.
type ModulePayload struct {
	Content string             `json:"content"`
	Type    content.ModuleType `json:"type,omitempty"`
}

// UnmarshalJSON accepts the string shorthand or the object form.
func (m *ModulePayload) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		m.Content, m.Type = s, ""
		return nil
	}
	type payload ModulePayload
	var p payload
	if err := json.Unmarshal(b, &p); err != nil {
		return errors.New("module: expected base64 string or {content, type}")
	}
	*m = ModulePayload(p)
	return nil
}

// MarshalJSON emits the shorthand when no explicit type is set.
func (m ModulePayload) MarshalJSON() ([]byte, error) {
	if m.Type == "" {
		return json.Marshal(m.Content)
	}
	type payload ModulePayload
	return json.Marshal(payload(m))
}

// ServerCodePayload is the server-code portion of a deploy request.
type ServerCodePayload struct {
	Entrypoint        string                   `json:"entrypoint"`
	Modules           map[string]ModulePayload `json:"modules"`
	CompatibilityDate string                   `json:"compatibilityDate,omitempty"`
	Env               map[string]string        `json:"env,omitempty"`
}

// DeployRequest finalizes a deployment: commits uploaded assets via the
// completion token, stores server code, and applies project configuration.
type DeployRequest struct {
	ProjectID      string             `json:"-" param:"projectID,required"`
	ProjectName    *string            `json:"projectName,omitempty"`
	CompletionJWT  string             `json:"completionJwt,omitempty"`
	Server         *ServerCodePayload `json:"server,omitempty"`
	Config         *ServingConfig     `json:"config,omitempty"`
	RunWorkerFirst *WorkerFirst       `json:"run_worker_first,omitempty"`
	Env            map[string]string  `json:"env,omitempty"`
}

var _ api.Message = DeployRequest{}

func (r DeployRequest) Validate() error {
	if r.CompletionJWT == "" && r.Server == nil {
		return errors.New("deploy: requires completionJwt or server code")
	}
	if r.ProjectName != nil {
		if *r.ProjectName == "" {
			return errors.New("projectName: must be non-empty when provided")
		}
		if len(*r.ProjectName) > MaxProjectNameLength {
			return errors.Errorf("projectName: exceeds %d characters", MaxProjectNameLength)
		}
	}
	if r.Server != nil {
		if err := r.Server.validate(); err != nil {
			return err
		}
	}
	if r.Config != nil {
		if err := r.Config.validate(); err != nil {
			return err
		}
	}
	if r.RunWorkerFirst != nil {
		for _, p := range r.RunWorkerFirst.Patterns {
			if p == "" {
				return errors.New("run_worker_first: empty glob pattern")
			}
		}
	}
	if err := validateEnv(r.Env); err != nil {
		return err
	}
	return nil
}

func (s *ServerCodePayload) validate() error {
	if s.Entrypoint == "" {
		return errors.New("server.entrypoint: must be non-empty")
	}
	if len(s.Modules) == 0 {
		return errors.New("server.modules: must contain at least one module")
	}
	if _, ok := s.Modules[s.Entrypoint]; !ok {
		return errors.Errorf("server.entrypoint: %q not present in modules", s.Entrypoint)
	}
	for path, mod := range s.Modules {
		if path == "" {
			return errors.New("server.modules: empty module path")
		}
		if len(path) > MaxModulePathLength {
			return errors.Errorf("server.modules: %s: path exceeds %d characters", path[:64]+"...", MaxModulePathLength)
		}
		if mod.Content == "" {
			return errors.Errorf("server.modules: %s: empty content", path)
		}
		if mod.Type != "" && !content.ValidModuleType(mod.Type) {
			return errors.Errorf("server.modules: %s: unknown module type %q", path, mod.Type)
		}
	}
	return validateEnv(s.Env)
}

var validRedirectStatuses = map[int]bool{200: true, 301: true, 302: true, 303: true, 307: true, 308: true}

func (c *ServingConfig) validate() error {
	switch c.HTMLHandling {
	case "", HTMLHandlingAutoTrailingSlash, HTMLHandlingForceTrailingSlash, HTMLHandlingDropTrailingSlash, HTMLHandlingNone:
	default:
		return errors.Errorf("config.html_handling: unknown mode %q", c.HTMLHandling)
	}
	switch c.NotFoundHandling {
	case "", NotFoundSinglePageApplication, NotFound404Page, NotFoundNone:
	default:
		return errors.Errorf("config.not_found_handling: unknown mode %q", c.NotFoundHandling)
	}
	if c.Redirects != nil {
		if len(c.Redirects.StaticRules) > MaxStaticRedirects {
			return errors.Errorf("config.redirects: exceeds %d static rules", MaxStaticRedirects)
		}
		if len(c.Redirects.DynamicRules) > MaxDynamicRedirects {
			return errors.Errorf("config.redirects: exceeds %d dynamic rules", MaxDynamicRedirects)
		}
		for source, rule := range c.Redirects.StaticRules {
			if !validRedirectStatuses[rule.Status] {
				return errors.Errorf("config.redirects: %s: invalid status %d", source, rule.Status)
			}
			if rule.To == "" {
				return errors.Errorf("config.redirects: %s: empty target", source)
			}
		}
		for _, rule := range c.Redirects.DynamicRules {
			if rule.Source == "" {
				return errors.New("config.redirects: empty dynamic source")
			}
			if !validRedirectStatuses[rule.Status] {
				return errors.Errorf("config.redirects: %s: invalid status %d", rule.Source, rule.Status)
			}
			if rule.To == "" {
				return errors.Errorf("config.redirects: %s: empty target", rule.Source)
			}
		}
	}
	if c.Headers != nil {
		if len(c.Headers.Rules) > MaxHeaderRules {
			return errors.Errorf("config.headers: exceeds %d rules", MaxHeaderRules)
		}
		for _, rule := range c.Headers.Rules {
			if rule.Source == "" {
				return errors.New("config.headers: empty rule source")
			}
			if len(rule.Set) == 0 && len(rule.Unset) == 0 {
				return errors.Errorf("config.headers: %s: rule sets and unsets nothing", rule.Source)
			}
		}
	}
	return nil
}

func validateEnv(env map[string]string) error {
	if len(env) > MaxEnvVars {
		return errors.Errorf("env: exceeds %d variables", MaxEnvVars)
	}
	for name, value := range env {
		if name == "" {
			return errors.New("env: empty variable name")
		}
		if len(name) > MaxEnvNameLength {
			return errors.Errorf("env: variable name exceeds %d characters", MaxEnvNameLength)
		}
		if len(value) > MaxEnvValueSize {
			return errors.Errorf("env: %s: value exceeds %d bytes", name, MaxEnvValueSize)
		}
	}
	return nil
}

// DeployResponse reports the finalized deployment.
type DeployResponse struct {
	Success       bool     `json:"success"`
	Project       *Project `json:"project"`
	NewAssets     int      `json:"newAssets"`
	SkippedAssets int      `json:"skippedAssets"`
}

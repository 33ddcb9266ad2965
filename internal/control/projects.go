// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"

	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"

	"github.com/pagedock/pagedock/internal/api"
	"github.com/pagedock/pagedock/internal/kv"
	"github.com/pagedock/pagedock/internal/project"
	"github.com/pagedock/pagedock/pkg/schema"
)

type ProjectDeps struct {
	Store *project.Store
}

// CreateProject registers a new project in PENDING state. The record expires
// on its own unless a deploy completes within the pending window.
func CreateProject(ctx context.Context, req schema.CreateProjectRequest, deps *ProjectDeps) (*schema.CreateProjectResponse, error) {
	var name string
	if req.Name != nil {
		name = *req.Name
	}
	p, err := deps.Store.Create(ctx, name)
	if err != nil {
		return nil, api.AsStatus(codes.Internal, errors.Wrap(err, "creating project"))
	}
	return &schema.CreateProjectResponse{Success: true, Project: p}, nil
}

func GetProject(ctx context.Context, req schema.GetProjectRequest, deps *ProjectDeps) (*schema.GetProjectResponse, error) {
	p, err := deps.Store.Get(ctx, req.ID)
	if kv.IsNotFound(err) {
		return nil, api.AsStatus(codes.NotFound, errors.Errorf("project %s not found", req.ID))
	} else if err != nil {
		return nil, api.AsStatus(codes.Internal, errors.Wrap(err, "loading project"))
	}
	return &schema.GetProjectResponse{Success: true, Project: p}, nil
}

func ListProjects(ctx context.Context, req schema.ListProjectsRequest, deps *ProjectDeps) (*schema.ListProjectsResponse, error) {
	page, err := deps.Store.List(ctx, req.Limit, req.Cursor)
	if errors.Is(err, project.ErrBadCursor) {
		return nil, api.AsStatus(codes.InvalidArgument, err)
	} else if err != nil {
		return nil, api.AsStatus(codes.Internal, errors.Wrap(err, "listing projects"))
	}
	return &schema.ListProjectsResponse{
		Success:  true,
		Projects: page.Projects,
		Cursor:   page.Cursor,
		Complete: page.Complete,
	}, nil
}

// DeleteProject tears down a project and all its stored blobs. Deleting an
// unknown id succeeds; the watchdog relies on that to reclaim records whose
// metadata already expired.
func DeleteProject(ctx context.Context, req schema.DeleteProjectRequest, deps *ProjectDeps) (*schema.DeleteProjectResponse, error) {
	if err := deps.Store.Delete(ctx, req.ID); err != nil {
		return nil, api.AsStatus(codes.Internal, errors.Wrap(err, "deleting project"))
	}
	return &schema.DeleteProjectResponse{Success: true}, nil
}

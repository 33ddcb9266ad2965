// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package taskqueue dispatches control-plane calls through Cloud Tasks.
// The watchdog hands project deletions to a queue so they are retried until
// they stick instead of dying with the sweep that found them.
package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"
	taskspb "cloud.google.com/go/cloudtasks/apiv2/cloudtaskspb"
	"github.com/pkg/errors"

	"github.com/pagedock/pagedock/internal/api"
)

type Queue interface {
	Add(ctx context.Context, method, url string, msg api.Message) (*taskspb.Task, error)
}

type queue struct {
	client              *cloudtasks.Client
	queuePath           string
	serviceAccountEmail string
	adminToken          string
}

// NewQueue builds a queue that dispatches to queuePath. Tasks authenticate
// with an OIDC token for serviceAccountEmail when one is given, otherwise
// with the admin token.
func NewQueue(ctx context.Context, queuePath, serviceAccountEmail, adminToken string) (Queue, error) {
	client, err := cloudtasks.NewClient(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "creating TaskQueue client")
	}
	return &queue{
		client:              client,
		queuePath:           queuePath,
		serviceAccountEmail: serviceAccountEmail,
		adminToken:          adminToken,
	}, nil
}

var methods = map[string]taskspb.HttpMethod{
	http.MethodGet:    taskspb.HttpMethod_GET,
	http.MethodPost:   taskspb.HttpMethod_POST,
	http.MethodPut:    taskspb.HttpMethod_PUT,
	http.MethodDelete: taskspb.HttpMethod_DELETE,
}

func (q *queue) Add(ctx context.Context, method, url string, msg api.Message) (*taskspb.Task, error) {
	if err := msg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validating message")
	}
	httpMethod, ok := methods[method]
	if !ok {
		return nil, errors.Errorf("unsupported method %q", method)
	}
	hr := &taskspb.HttpRequest{
		HttpMethod: httpMethod,
		Url:        url,
	}
	// Cloud Tasks rejects bodies on anything but POST, PUT, and PATCH.
	if httpMethod == taskspb.HttpMethod_POST || httpMethod == taskspb.HttpMethod_PUT {
		body, err := json.Marshal(msg)
		if err != nil {
			return nil, errors.Wrap(err, "marshalling message")
		}
		hr.Body = body
		hr.Headers = map[string]string{"Content-Type": "application/json"}
	}
	if q.serviceAccountEmail != "" {
		hr.AuthorizationHeader = &taskspb.HttpRequest_OidcToken{
			OidcToken: &taskspb.OidcToken{
				ServiceAccountEmail: q.serviceAccountEmail,
			},
		}
	} else if q.adminToken != "" {
		if hr.Headers == nil {
			hr.Headers = map[string]string{}
		}
		hr.Headers["Authorization"] = q.adminToken
	}
	req := &taskspb.CreateTaskRequest{
		Parent: q.queuePath,
		Task:   &taskspb.Task{MessageType: &taskspb.Task_HttpRequest{HttpRequest: hr}},
	}
	task, err := q.client.CreateTask(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("cloudtasks.CreateTask: %w", err)
	}
	return task, nil
}

// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package oauth builds HTTP clients that authenticate with GCP identity
// tokens, for control planes deployed behind Cloud Run IAM instead of a
// shared admin token.
package oauth

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// IDTokenClient returns a client that attaches an id_token minted from the
// ambient default credential to every request.
func IDTokenClient(ctx context.Context) (*http.Client, error) {
	ts, err := IDTokenSource(ctx)
	if err != nil {
		return nil, err
	}
	return oauth2.NewClient(ctx, ts), nil
}

// IDTokenSource derives an id_token source from the default credential.
// idtoken.NewTokenSource rejects user credentials, so the id_token is pulled
// out of the refresh response instead.
// https://github.com/googleapis/google-api-go-client/issues/873
func IDTokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	ts, err := google.DefaultTokenSource(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "loading default credentials")
	}
	return oauth2.ReuseTokenSource(nil, identitySource{ts}), nil
}

type identitySource struct {
	base oauth2.TokenSource
}

func (s identitySource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	id, ok := tok.Extra("id_token").(string)
	if !ok {
		return nil, errors.New("credential response carried no id_token")
	}
	return &oauth2.Token{AccessToken: id, Expiry: tok.Expiry}, nil
}

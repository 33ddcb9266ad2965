// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package httpxtest provides a scripted BasicClient for tests.
package httpxtest

import (
	"io"
	"net/http"
	"strings"
	"testing"
)

// Call pairs an expected request with the canned result to return for it.
type Call struct {
	// Method defaults to GET when empty.
	Method   string
	URL      string
	Response *http.Response
	Err      error
}

// Client replays canned calls in order, failing the test when a request does
// not match the next expectation. Requests are recorded as they arrive so
// tests can inspect headers added by client decorators.
type Client struct {
	T        *testing.T
	Calls    []Call
	Requests []*http.Request
	next     int
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	c.T.Helper()
	c.Requests = append(c.Requests, req)
	if c.next >= len(c.Calls) {
		c.T.Fatalf("unexpected request: %s %s", req.Method, req.URL)
	}
	call := c.Calls[c.next]
	c.next++
	method := call.Method
	if method == "" {
		method = http.MethodGet
	}
	if req.Method != method || req.URL.String() != call.URL {
		c.T.Fatalf("request = %s %s, want %s %s", req.Method, req.URL, method, call.URL)
	}
	return call.Response, call.Err
}

// Done fails the test when scripted calls went unused.
func (c *Client) Done() {
	c.T.Helper()
	if c.next != len(c.Calls) {
		c.T.Fatalf("client saw %d calls, want %d", c.next, len(c.Calls))
	}
}

// Response builds a minimal response with the given status and body.
func Response(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

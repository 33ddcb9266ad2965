// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/pagedock/pagedock/internal/api/params"
	"github.com/pagedock/pagedock/internal/httpx"
)

type HandlerT[I Message, O any, D Deps] func(context.Context, I, D) (*O, error)
type StubT[I Message, O any] func(context.Context, I) (*O, error)

var (
	ErrNotOK       = errors.New("non-OK response")
	ErrExhausted   = status.New(codes.ResourceExhausted, "resource exhausted").Err()
	ErrUnavailable = status.New(codes.Unavailable, "service unavailable").Err()
)

// Statuser lets a response type pick its success status code; responses
// without it are written as 200.
type Statuser interface {
	HTTPStatus() int
}

// AsStatus creates a gRPC status with the given code and error message.
// Optionally accepts status details to attach to the error.
func AsStatus(code codes.Code, err error, details ...proto.Message) error {
	s := status.New(code, err.Error())
	if len(details) == 0 {
		return s.Err()
	}
	p := s.Proto()
	for _, detail := range details {
		m, err := anypb.New(detail)
		if err != nil {
			log.Printf("Skipping detail which failed to convert: detail=%v,err=%v", detail, err)
			continue
		}
		p.Details = append(p.Details, m)
	}
	return status.FromProto(p).Err()
}

// RetryAfter is a convenience function for creating a detail proto for retry information.
// NOTE: For HTTP, should be limited to use with Unavailable and ResourceExhausted codes.
func RetryAfter(after time.Duration) proto.Message {
	return &errdetails.RetryInfo{
		RetryDelay: durationpb.New(after),
	}
}

var grpcToHTTP = map[codes.Code]int{
	codes.OK:                 http.StatusOK,
	codes.Canceled:           499, // Client Closed Request
	codes.Unknown:            http.StatusInternalServerError,
	codes.InvalidArgument:    http.StatusBadRequest,
	codes.DeadlineExceeded:   http.StatusGatewayTimeout,
	codes.NotFound:           http.StatusNotFound,
	codes.AlreadyExists:      http.StatusConflict,
	codes.PermissionDenied:   http.StatusForbidden,
	codes.ResourceExhausted:  http.StatusTooManyRequests,
	codes.FailedPrecondition: http.StatusBadRequest,
	codes.Aborted:            http.StatusConflict,
	codes.OutOfRange:         http.StatusRequestEntityTooLarge,
	codes.Unimplemented:      http.StatusNotImplemented,
	codes.Internal:           http.StatusInternalServerError,
	codes.Unavailable:        http.StatusServiceUnavailable,
	codes.DataLoss:           http.StatusInternalServerError,
	codes.Unauthenticated:    http.StatusUnauthorized,
}

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Error writes the JSON error envelope with the given status code.
func Error(rw http.ResponseWriter, httpStatus int, msg string) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(httpStatus)
	if err := json.NewEncoder(rw).Encode(errorBody{Error: msg}); err != nil {
		log.Println(errors.Wrap(err, "encoding error response"))
	}
}

// Handler adapts a typed handler function into an http.HandlerFunc. The
// request is decoded from the JSON body plus any param/query/header tagged
// fields, validated, and dispatched; errors carry gRPC status codes which map
// onto HTTP statuses. Validation failures surface their message so clients
// see which field was rejected.
func Handler[I Message, O any, D Deps](initDeps InitT[D], handler HandlerT[I, O, D]) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var req I
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			log.Println(errors.Wrap(err, "decoding request body"))
			Error(rw, http.StatusBadRequest, "malformed request body")
			return
		}
		if err := params.Unmarshal(r, &req); err != nil {
			log.Println(errors.Wrap(err, "parsing request params"))
			Error(rw, http.StatusBadRequest, err.Error())
			return
		}
		if err := req.Validate(); err != nil {
			log.Println(errors.Wrap(err, "validating request"))
			Error(rw, http.StatusBadRequest, err.Error())
			return
		}
		deps, err := initDeps(ctx)
		if err != nil {
			log.Println(errors.Wrap(err, "initializing dependencies"))
			Error(rw, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
			return
		}
		o, err := handler(ctx, req, deps)
		s := status.Convert(err)
		for _, detail := range s.Details() {
			switch d := detail.(type) {
			case *errdetails.RetryInfo:
				if d.RetryDelay != nil {
					if seconds := int(d.RetryDelay.Seconds); seconds > 0 {
						rw.Header().Set("Retry-After", strconv.Itoa(seconds))
					}
				}
			}
		}
		httpStatus, ok := grpcToHTTP[s.Code()]
		if !ok {
			log.Printf("unknown error code: %s\n", s.Code())
			httpStatus = http.StatusInternalServerError
		}
		if httpStatus != http.StatusOK {
			log.Println(s.Err())
			// NOTE: Use s.Message() as the body, instead of err.Error(). If err
			// was already a grpc status, err.Error() would be a verbose grpc
			// error message.
			Error(rw, httpStatus, s.Message())
			return
		}
		if o == nil {
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		if st, ok := any(o).(Statuser); ok {
			rw.WriteHeader(st.HTTPStatus())
		}
		if err := json.NewEncoder(rw).Encode(o); err != nil {
			log.Println(errors.Wrap(err, "encoding response"))
		}
	}
}

// Stub builds a typed client for one route. The pattern uses the same {name}
// tokens as the server mux; param/query/header tagged fields expand into the
// request while the remaining fields travel as the JSON body.
func Stub[I Message, O any](client httpx.BasicClient, method string, base url.URL, pattern string) StubT[I, O] {
	return func(ctx context.Context, i I) (*O, error) {
		if err := i.Validate(); err != nil {
			return nil, errors.Wrap(err, "validating request")
		}
		path, query, header, err := params.Expand(pattern, i)
		if err != nil {
			return nil, errors.Wrap(err, "expanding request pattern")
		}
		u := base.JoinPath(path)
		u.RawQuery = query.Encode()
		var body io.Reader
		if method != http.MethodGet && method != http.MethodDelete {
			b, err := json.Marshal(i)
			if err != nil {
				return nil, errors.Wrap(err, "serializing request")
			}
			body = bytes.NewReader(b)
		}
		req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
		if err != nil {
			return nil, errors.Wrap(err, "building http request")
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for name, vals := range header {
			for _, v := range vals {
				req.Header.Add(name, v)
			}
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, errors.Wrap(err, "making http request")
		}
		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusOK, http.StatusCreated: // Success: Skip error generation
		case http.StatusServiceUnavailable:
			if retryAfterStr := resp.Header.Get("Retry-After"); retryAfterStr != "" {
				if seconds, err := strconv.Atoi(retryAfterStr); err == nil && seconds > 0 {
					d := time.Duration(seconds) * time.Second
					return nil, AsStatus(codes.Unavailable, ErrUnavailable, RetryAfter(d))
				}
			}
			return nil, ErrUnavailable
		case http.StatusTooManyRequests:
			return nil, ErrExhausted
		default:
			b, _ := io.ReadAll(resp.Body)
			var eb errorBody
			if err := json.Unmarshal(b, &eb); err == nil && eb.Error != "" {
				return nil, errors.Wrap(errors.Wrap(ErrNotOK, resp.Status), eb.Error)
			}
			return nil, errors.Wrap(errors.Wrap(ErrNotOK, resp.Status), string(b))
		}
		var o O
		if err := json.NewDecoder(resp.Body).Decode(&o); err != nil {
			return nil, errors.Wrap(err, "decoding response")
		}
		return &o, nil
	}
}

// StubFromHandler derives a client stub from a handler's types.
func StubFromHandler[I Message, O any, D Deps](client httpx.BasicClient, method string, base url.URL, pattern string, handler HandlerT[I, O, D]) StubT[I, O] {
	return Stub[I, O](client, method, base, pattern)
}

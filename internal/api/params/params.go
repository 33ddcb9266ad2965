// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package params maps the non-body parts of an HTTP request (route
// parameters, query string, headers) onto tagged struct fields, and expands
// them back out when building client requests. Fields select their source
// with `param:"name"`, `query:"name"`, or `header:"Name"` tags; an optional
// ",required" suffix rejects absent values.
package params

import (
	"encoding/json"
	"net/http"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

var (
	ErrInvalidType      = errors.New("invalid type")
	ErrUnsupportedField = errors.New("unsupported field")
	ErrMissingRequired  = errors.New("missing required field")
)

type source int

const (
	sourceNone source = iota
	sourceParam
	sourceQuery
	sourceHeader
)

type fieldOptions struct {
	src      source
	name     string
	required bool
}

func options(field reflect.StructField) fieldOptions {
	var opt fieldOptions
	var tag string
	for _, probe := range []struct {
		src source
		key string
	}{
		{sourceParam, "param"},
		{sourceQuery, "query"},
		{sourceHeader, "header"},
	} {
		if t, ok := field.Tag.Lookup(probe.key); ok {
			opt.src, tag = probe.src, t
			break
		}
	}
	if opt.src == sourceNone {
		return opt
	}
	parts := strings.Split(tag, ",")
	if opt.name = parts[0]; opt.name == "" {
		opt.name = strings.ToLower(field.Name)
	}
	for _, val := range parts[1:] {
		if val == "required" {
			opt.required = true
		}
	}
	return opt
}

// Unmarshal populates tagged fields of out from the request's route
// parameters, query string, and headers. Untagged fields are left for the
// body codec.
func Unmarshal(r *http.Request, out any) error {
	tvalue := reflect.ValueOf(out).Elem()
	ttype := tvalue.Type()
	if ttype.Kind() != reflect.Struct {
		return ErrInvalidType
	}
	for i := range ttype.NumField() {
		field, value := ttype.Field(i), tvalue.Field(i)
		if !field.IsExported() {
			continue
		}
		opt := options(field)
		if opt.src == sourceNone {
			continue
		}
		if field.Anonymous {
			return ErrUnsupportedField
		}
		var raw string
		switch opt.src {
		case sourceParam:
			raw = chi.URLParam(r, opt.name)
		case sourceQuery:
			raw = r.URL.Query().Get(opt.name)
		case sourceHeader:
			raw = r.Header.Get(opt.name)
		}
		if raw == "" {
			if opt.required {
				return errors.Wrap(ErrMissingRequired, opt.name)
			}
			continue
		}
		switch field.Type.Kind() {
		case reflect.String:
			value.SetString(raw)
		default:
			if err := json.Unmarshal([]byte(raw), value.Addr().Interface()); err != nil {
				return errors.Wrap(err, opt.name)
			}
		}
	}
	return nil
}

// Expand substitutes {name} tokens in pattern with the message's param
// fields and collects its query and header fields. The inverse of Unmarshal,
// used when constructing client requests.
func Expand(pattern string, in any) (path string, query url.Values, header http.Header, err error) {
	tvalue := reflect.ValueOf(in)
	ttype := tvalue.Type()
	if ttype.Kind() == reflect.Pointer {
		tvalue = reflect.Indirect(tvalue)
		ttype = tvalue.Type()
	}
	if ttype.Kind() != reflect.Struct {
		return "", nil, nil, ErrInvalidType
	}
	path = pattern
	query = url.Values{}
	header = http.Header{}
	for i := range ttype.NumField() {
		field, value := ttype.Field(i), tvalue.Field(i)
		if !field.IsExported() {
			continue
		}
		opt := options(field)
		if opt.src == sourceNone {
			continue
		}
		if field.Anonymous {
			return "", nil, nil, ErrUnsupportedField
		}
		var raw string
		switch field.Type.Kind() {
		case reflect.String:
			raw = value.String()
		default:
			if value.IsZero() {
				break
			}
			b, err := json.Marshal(value.Interface())
			if err != nil {
				return "", nil, nil, errors.Wrap(err, opt.name)
			}
			raw = string(b)
		}
		switch opt.src {
		case sourceParam:
			if raw == "" {
				return "", nil, nil, errors.Wrap(ErrMissingRequired, opt.name)
			}
			path = strings.ReplaceAll(path, "{"+opt.name+"}", url.PathEscape(raw))
		case sourceQuery:
			if raw != "" {
				query.Set(opt.name, raw)
			}
		case sourceHeader:
			if raw != "" {
				header.Set(opt.name, raw)
			}
		}
	}
	if strings.Contains(path, "{") {
		return "", nil, nil, errors.Errorf("unexpanded pattern segment in %q", path)
	}
	return path, query, header, nil
}

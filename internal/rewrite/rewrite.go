// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package rewrite adjusts HTML and JavaScript response bodies for path-based
// serving. When a project is addressed as /__project/{id}/... instead of by
// subdomain, root-relative URLs inside its pages would escape the project
// prefix; this package rewrites them in flight so the deployed site works
// unmodified under both addressing schemes.
package rewrite

import (
	"bytes"
	"io"
	"mime"
	"net/http"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/pagedock/pagedock/pkg/content"
)

// RoutePrefix is the path namespace for path-based project addressing.
const RoutePrefix = "/__project/"

// Prefix returns the path prefix for one project.
func Prefix(projectID string) string {
	return RoutePrefix + projectID
}

// prefixableAttrs lists, per element, the attributes whose root-relative URL
// values get the project prefix. The list is closed: anything else passes
// through untouched.
var prefixableAttrs = map[string][]string{
	"script": {"src"},
	"link":   {"href"},
	"a":      {"href"},
	"img":    {"src", "srcset"},
	"form":   {"action"},
	"source": {"src", "srcset"},
	"video":  {"src", "poster"},
	"audio":  {"src"},
	"iframe": {"src"},
	"object": {"data"},
	"embed":  {"src"},
	"use":    {"href", "xlink:href"},
	"image":  {"href", "xlink:href"},
}

// rewriteURL prefixes a root-relative URL. Protocol-relative URLs (//host),
// non-absolute URLs, and already-prefixed URLs are returned unchanged.
func rewriteURL(v, prefix string) string {
	if !strings.HasPrefix(v, "/") || strings.HasPrefix(v, "//") {
		return v
	}
	if v == prefix || strings.HasPrefix(v, prefix+"/") {
		return v
	}
	return prefix + v
}

// rewriteSrcset prefixes each comma-separated URL of a srcset value,
// preserving width and density descriptors.
func rewriteSrcset(v, prefix string) string {
	candidates := strings.Split(v, ",")
	for i, candidate := range candidates {
		fields := strings.Fields(candidate)
		if len(fields) == 0 {
			continue
		}
		fields[0] = rewriteURL(fields[0], prefix)
		candidates[i] = strings.Join(fields, " ")
	}
	return strings.Join(candidates, ", ")
}

// Quoted absolute paths inside script bodies. The leading [^/"'] excludes
// protocol-relative URLs; validity as an asset path is checked afterward
// against the known content-type extensions.
var (
	jsDoubleQuoted = regexp.MustCompile(`"(/[^/"][^"\\\n]*)"`)
	jsSingleQuoted = regexp.MustCompile(`'(/[^/'][^'\\\n]*)'`)
)

// JS rewrites quoted root-relative asset paths in a JavaScript body. Only
// paths ending in a known asset extension are touched: rewriting every
// absolute path would corrupt route tables and API endpoints that server
// code must continue to see unprefixed.
func JS(body []byte, projectID string) []byte {
	prefix := Prefix(projectID)
	replace := func(m []byte) []byte {
		path := string(m[1 : len(m)-1])
		if _, ok := content.TypeByPath(path); !ok {
			return m
		}
		if rewritten := rewriteURL(path, prefix); rewritten != path {
			out := make([]byte, 0, len(m)+len(prefix))
			out = append(out, m[0])
			out = append(out, rewritten...)
			out = append(out, m[len(m)-1])
			return out
		}
		return m
	}
	body = jsDoubleQuoted.ReplaceAllFunc(body, replace)
	return jsSingleQuoted.ReplaceAllFunc(body, replace)
}

// shim emits the script injected into <head>. It records the project base
// path and patches fetch so client code requesting root-relative URLs stays
// inside the project namespace.
func shim(prefix string) string {
	var b strings.Builder
	b.WriteString(`<script>(function(){var p="`)
	b.WriteString(prefix)
	b.WriteString(`";window.__BASE_PATH__=p;var f=window.fetch;window.fetch=function(input,init){if(typeof input==="string"&&input.charAt(0)==="/"&&input.charAt(1)!=="/"&&input.indexOf(p+"/")!==0&&input!==p){input=p+input}return f.call(this,input,init)};})();</script>`)
	return b.String()
}

// HTML streams src to dst, prefixing root-relative URLs in the closed
// attribute list, rewriting asset paths inside inline scripts, and injecting
// the base-path shim at the start of <head>. The input is tokenized, never
// fully buffered.
func HTML(dst io.Writer, src io.Reader, projectID string) error {
	prefix := Prefix(projectID)
	z := html.NewTokenizer(src)
	w := errWriter{dst: dst}
	injected := false
	inScript := false
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return err
			}
			return w.err
		case html.StartTagToken, html.SelfClosingTagToken:
			raw := z.Raw()
			tok := z.Token()
			if rewriteTagAttrs(&tok, prefix) {
				w.WriteString(tok.String())
			} else {
				w.Write(raw)
			}
			if tt == html.StartTagToken {
				switch tok.Data {
				// Documents without a <head> still get the shim, at the
				// start of <body> instead.
				case "head", "body":
					if !injected {
						w.WriteString(shim(prefix))
						injected = true
					}
				case "script":
					inScript = true
				}
			}
		case html.EndTagToken:
			raw := z.Raw()
			if inScript {
				tok := z.Token()
				if tok.Data == "script" {
					inScript = false
				}
			}
			w.Write(raw)
		case html.TextToken:
			if inScript {
				w.Write(JS(z.Raw(), projectID))
			} else {
				w.Write(z.Raw())
			}
		default:
			w.Write(z.Raw())
		}
		if w.err != nil {
			return w.err
		}
	}
}

// rewriteTagAttrs prefixes the tag's rewritable attribute values in place
// and reports whether any changed.
func rewriteTagAttrs(tok *html.Token, prefix string) bool {
	attrs, ok := prefixableAttrs[tok.Data]
	if !ok {
		return false
	}
	changed := false
	for i, attr := range tok.Attr {
		if !contains(attrs, attr.Key) {
			continue
		}
		var rewritten string
		if attr.Key == "srcset" {
			rewritten = rewriteSrcset(attr.Val, prefix)
		} else {
			rewritten = rewriteURL(attr.Val, prefix)
		}
		if rewritten != attr.Val {
			tok.Attr[i].Val = rewritten
			changed = true
		}
	}
	return changed
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// errWriter is a sticky-error writer: after the first failure every write is
// a no-op and the error surfaces once the caller checks it.
type errWriter struct {
	dst io.Writer
	err error
}

func (w *errWriter) Write(b []byte) {
	if w.err == nil {
		_, w.err = w.dst.Write(b)
	}
}

func (w *errWriter) WriteString(s string) {
	if w.err == nil {
		_, w.err = io.WriteString(w.dst, s)
	}
}

const (
	modePassthrough = iota
	modeHTML
	modeJS
)

// Interceptor is an http.ResponseWriter wrapper that rewrites HTML and
// JavaScript bodies as they are written, keyed off the response
// Content-Type. Other content types pass through untouched. Callers must
// Close it after the handler returns to flush the rewriter.
type Interceptor struct {
	w           http.ResponseWriter
	projectID   string
	mode        int
	wroteHeader bool
	pw          *io.PipeWriter
	done        chan error
	buf         bytes.Buffer
}

// Intercept wraps w for the given project.
func Intercept(w http.ResponseWriter, projectID string) *Interceptor {
	return &Interceptor{w: w, projectID: projectID}
}

func (i *Interceptor) Header() http.Header {
	return i.w.Header()
}

func (i *Interceptor) WriteHeader(code int) {
	if i.wroteHeader {
		return
	}
	i.wroteHeader = true
	mediaType, _, _ := mime.ParseMediaType(i.w.Header().Get("Content-Type"))
	switch mediaType {
	case "text/html":
		i.mode = modeHTML
		// Rewriting changes the body length.
		i.w.Header().Del("Content-Length")
		pr, pw := io.Pipe()
		i.pw = pw
		i.done = make(chan error, 1)
		go func() {
			err := HTML(i.w, pr, i.projectID)
			pr.CloseWithError(err)
			i.done <- err
		}()
	case "application/javascript", "text/javascript":
		i.mode = modeJS
		i.w.Header().Del("Content-Length")
	}
	i.w.WriteHeader(code)
}

func (i *Interceptor) Write(b []byte) (int, error) {
	if !i.wroteHeader {
		i.WriteHeader(http.StatusOK)
	}
	switch i.mode {
	case modeHTML:
		return i.pw.Write(b)
	case modeJS:
		return i.buf.Write(b)
	default:
		return i.w.Write(b)
	}
}

// Close flushes the rewriter. For HTML it signals end of input and waits for
// the tokenizer to drain; for JavaScript it rewrites the buffered body and
// writes it out.
func (i *Interceptor) Close() error {
	switch i.mode {
	case modeHTML:
		i.pw.Close()
		return <-i.done
	case modeJS:
		_, err := i.w.Write(JS(i.buf.Bytes(), i.projectID))
		return err
	default:
		return nil
	}
}

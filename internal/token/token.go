// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package token mints and checks the signed session tokens that gate upload
// chunks and deploy finalization. Tokens are compact JWTs (HS256) carrying
// the session, project, and phase; verification is deliberately boolean so
// callers cannot leak why a token was rejected.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/pagedock/pagedock/pkg/schema"
)

// Phase scopes a token to one step of the upload flow.
type Phase string

const (
	// PhaseUpload authorizes chunk uploads within a session.
	PhaseUpload Phase = "upload"
	// PhaseComplete authorizes finalizing a fully uploaded session.
	PhaseComplete Phase = "complete"
)

// Lifetime bounds token validity from issuance.
const Lifetime = schema.TokenTTL

// Claims is the signed payload of a session token. Completion tokens embed
// the session manifest so finalization never trusts a caller-supplied asset
// list.
type Claims struct {
	SessionID string                          `json:"sessionId"`
	ProjectID string                          `json:"projectId"`
	Phase     Phase                           `json:"phase"`
	Manifest  map[string]schema.ManifestEntry `json:"manifest,omitempty"`
	IssuedAt  int64                           `json:"iat"`
	ExpiresAt int64                           `json:"exp"`
}

var encodedHeader = base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))

// Signer mints and verifies session tokens with a shared HMAC secret.
type Signer struct {
	secret []byte
	// now is swapped out by tests to drive expiry.
	now func() time.Time
}

// NewSigner returns a Signer over the given secret.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret, now: time.Now}
}

func (s *Signer) sign(signingInput string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(signingInput))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Sign mints a token carrying the given claims, stamping issuance and
// expiry.
func (s *Signer) Sign(claims Claims) (string, error) {
	now := s.now()
	claims.IssuedAt = now.Unix()
	claims.ExpiresAt = now.Add(Lifetime).Unix()
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	signingInput := encodedHeader + "." + base64.RawURLEncoding.EncodeToString(payload)
	return signingInput + "." + s.sign(signingInput), nil
}

// Verify checks the token's signature and expiry and returns its claims.
// Any malformed, forged, or expired token yields (nil, false) with no
// further detail.
func (s *Signer) Verify(raw string) (*Claims, bool) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, false
	}
	signingInput := parts[0] + "." + parts[1]
	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, false
	}
	expected, err := base64.RawURLEncoding.DecodeString(s.sign(signingInput))
	if err != nil {
		return nil, false
	}
	if !hmac.Equal(signature, expected) {
		return nil, false
	}
	headerBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, false
	}
	var header struct {
		Alg string `json:"alg"`
		Typ string `json:"typ"`
	}
	if err := json.Unmarshal(headerBytes, &header); err != nil || header.Alg != "HS256" {
		return nil, false
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, false
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, false
	}
	if claims.Phase != PhaseUpload && claims.Phase != PhaseComplete {
		return nil, false
	}
	if s.now().Unix() >= claims.ExpiresAt {
		return nil, false
	}
	return &claims, true
}

// Bearer extracts the token from an Authorization header value.
func Bearer(header string) (string, bool) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return "", false
	}
	return raw, true
}

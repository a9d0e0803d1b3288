// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package auth implements the HTTP auth of §4.13: credentials carried as
// either a bearer token or a named header, compared in constant time
// against plaintext or sha256-hashed keys, plus an optional caller
// predicate for a further 403 decision.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/jfcostello/llm-coordinator/pkg/spec"
)

// Predicate further restricts an already-authenticated request; returning
// false yields a 403 forbidden (§4.13: "An optional caller-provided
// predicate may further forbid").
type Predicate func(ctx context.Context, key string) bool

// Config configures the Authenticator.
type Config struct {
	// Enabled gates the whole mechanism; when false every request passes.
	Enabled bool

	// HeaderName is the named header checked when the credential isn't
	// carried as "Authorization: Bearer <k>" (default x-api-key).
	HeaderName string

	// Keys is the list of accepted keys; NormalizeKeys turns either an
	// array or a comma-separated string into this form. Each entry is
	// plaintext, a bare hex sha256 digest, or "sha256:<hex>".
	Keys []string

	Predicate Predicate
}

// NormalizeKeys accepts either a []string or a comma-separated string and
// returns a clean slice, trimming whitespace and dropping empties — the
// "normalize identically" requirement of §4.13.
func NormalizeKeys(raw any) []string {
	switch v := raw.(type) {
	case []string:
		out := make([]string, 0, len(v))
		for _, k := range v {
			if k = strings.TrimSpace(k); k != "" {
				out = append(out, k)
			}
		}
		return out
	case string:
		return NormalizeKeys(strings.Split(v, ","))
	default:
		return nil
	}
}

// Authenticator performs the check of §4.13.
type Authenticator struct {
	cfg      Config
	digests  [][32]byte // pre-hashed plaintext/hex keys, for constant-time compare
}

// New constructs an Authenticator, pre-hashing every configured key so
// verification never branches on key length or plaintext-vs-hashed form.
func New(cfg Config) *Authenticator {
	if cfg.HeaderName == "" {
		cfg.HeaderName = "x-api-key"
	}
	a := &Authenticator{cfg: cfg}
	for _, k := range cfg.Keys {
		a.digests = append(a.digests, canonicalDigest(k))
	}
	return a
}

// canonicalDigest resolves one configured key entry to the sha256 digest
// it represents: "sha256:<hex>" and bare 64-hex-char entries are taken as
// already-hashed; anything else is hashed as plaintext.
func canonicalDigest(key string) [32]byte {
	if rest, ok := strings.CutPrefix(key, "sha256:"); ok {
		if d, ok := decodeHexDigest(rest); ok {
			return d
		}
	}
	if d, ok := decodeHexDigest(key); ok {
		return d
	}
	return sha256.Sum256([]byte(key))
}

func decodeHexDigest(s string) ([32]byte, bool) {
	var out [32]byte
	if len(s) != 64 {
		return out, false
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, false
	}
	copy(out[:], b)
	return out, true
}

// Extract pulls the credential out of r: Authorization: Bearer <k>, or the
// configured named header.
func (a *Authenticator) Extract(r *http.Request) string {
	if v := r.Header.Get("Authorization"); v != "" {
		if rest, ok := strings.CutPrefix(v, "Bearer "); ok {
			return rest
		}
	}
	return r.Header.Get(a.cfg.HeaderName)
}

// Authenticate checks the credential on r. A nil error means authorized;
// otherwise the returned *spec.Error carries ErrUnauthorized or
// ErrForbidden per §7.
func (a *Authenticator) Authenticate(r *http.Request) error {
	if !a.cfg.Enabled {
		return nil
	}
	key := a.Extract(r)
	if key == "" || !a.matches(key) {
		return spec.NewError(spec.ErrUnauthorized, "missing or invalid credentials")
	}
	if a.cfg.Predicate != nil && !a.cfg.Predicate(r.Context(), key) {
		return spec.NewError(spec.ErrForbidden, "credential rejected by policy")
	}
	return nil
}

// matches reports whether key equals at least one configured digest,
// comparing every entry in constant time (§4.13: "Compare in constant
// time").
func (a *Authenticator) matches(key string) bool {
	given := sha256.Sum256([]byte(key))
	ok := false
	for _, d := range a.digests {
		if subtle.ConstantTimeCompare(given[:], d[:]) == 1 {
			ok = true
		}
	}
	return ok
}

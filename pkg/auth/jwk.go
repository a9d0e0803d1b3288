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

package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/jfcostello/llm-coordinator/pkg/spec"
)

// JWKVerifier is an alternate bearer-token verification path for
// deployments whose keys are JWKs rather than the static-secret list
// Config.Keys models — §4.13 names "Authorization: Bearer <k>" generically
// and leaves room for a JWT-shaped <k> to be verified against a key set
// instead of compared to a static list.
type JWKVerifier struct {
	keySet jwk.Set
}

// NewJWKVerifier wraps a pre-fetched jwk.Set (e.g. loaded once at startup
// from a provider's JWKS endpoint via jwk.Fetch).
func NewJWKVerifier(keySet jwk.Set) *JWKVerifier {
	return &JWKVerifier{keySet: keySet}
}

// Authenticate verifies the bearer token on r against the key set,
// returning the parsed claims on success.
func (v *JWKVerifier) Authenticate(r *http.Request) (jwt.Token, error) {
	authHeader := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || raw == "" {
		return nil, spec.NewError(spec.ErrUnauthorized, "missing bearer token")
	}
	tok, err := jwt.Parse([]byte(raw), jwt.WithKeySet(v.keySet), jwt.WithValidate(true))
	if err != nil {
		return nil, spec.WrapError(spec.ErrUnauthorized, err, "invalid bearer token")
	}
	return tok, nil
}

// contextKey namespaces the claims value stashed in a request context.
type contextKey string

const claimsKey contextKey = "auth.jwtClaims"

// WithClaims attaches tok to ctx for downstream handlers.
func WithClaims(ctx context.Context, tok jwt.Token) context.Context {
	return context.WithValue(ctx, claimsKey, tok)
}

// ClaimsFromContext retrieves a token attached by WithClaims, if any.
func ClaimsFromContext(ctx context.Context) (jwt.Token, bool) {
	tok, ok := ctx.Value(claimsKey).(jwt.Token)
	return tok, ok
}

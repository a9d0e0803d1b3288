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

package httpserver

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/jfcostello/llm-coordinator/pkg/limiter"
	"github.com/jfcostello/llm-coordinator/pkg/spec"
)

// corsMiddleware implements §4.12 step 1: preflight OPTIONS with an
// allowed origin answered 204 with allow headers; other methods receive
// allow headers only if origin matches the allowlist (wildcard or exact).
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, x-api-key")
			w.Header().Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.cfg.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// securityHeadersMiddleware applies the default hardening headers of
// §4.12 step 2 when enabled.
func (s *Server) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.SecurityHeaders {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
		}
		next.ServeHTTP(w, r)
	})
}

// withAdmission runs the full per-request lifecycle of §4.12 steps 3-11
// around handler: auth, rate limit, content-type check, bounded body
// read, JSON parse (left to the handler, since only it knows the target
// shape), limiter-permit acquisition, and a total request deadline.
// The permit is released on every exit path.
func (s *Server) withAdmission(lim *limiter.Limiter, handler func(http.ResponseWriter, *http.Request, []byte)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.auth.Authenticate(r); err != nil {
			writeSpecError(w, err)
			return
		}

		clientID := s.rl.ClientID(r.RemoteAddr, r.Header.Get("X-Forwarded-For"))
		if !s.rl.Allow(clientID) {
			writeSpecError(w, spec.NewError(spec.ErrRateLimited, "rate limit exceeded"))
			return
		}

		ct := r.Header.Get("Content-Type")
		if ct != "" && !isJSONContentType(ct) {
			writeSpecError(w, spec.NewError(spec.ErrUnsupportedMedia, "Content-Type must be application/json"))
			return
		}

		body, err := s.readBody(r)
		if err != nil {
			writeSpecError(w, err)
			return
		}

		release, err := lim.Acquire(r.Context())
		if err != nil {
			writeSpecError(w, err)
			return
		}
		defer release()

		ctx := r.Context()
		if s.cfg.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
			defer cancel()
		}
		handler(w, r.WithContext(ctx), body)
	}
}

func isJSONContentType(ct string) bool {
	for i, c := range ct {
		if c == ';' {
			ct = ct[:i]
			break
		}
	}
	return ct == "application/json"
}

// readBody reads r.Body bounded by MaxRequestBytes and BodyReadTimeout
// (§4.12 step 6): 413 on size overflow, 408 on slow bodies.
func (s *Server) readBody(r *http.Request) ([]byte, error) {
	limit := s.cfg.MaxRequestBytes
	if limit <= 0 {
		limit = 10 << 20
	}
	reader := io.LimitReader(r.Body, limit+1)

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := io.ReadAll(reader)
		done <- result{data, err}
	}()

	timeout := s.cfg.BodyReadTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	select {
	case res := <-done:
		if res.err != nil {
			return nil, spec.WrapError(spec.ErrValidation, res.err, "failed to read request body")
		}
		if int64(len(res.data)) > limit {
			return nil, spec.NewError(spec.ErrPayloadTooLarge, "request body exceeds %d bytes", limit)
		}
		return res.data, nil
	case <-time.After(timeout):
		return nil, spec.NewError(spec.ErrRequestTimeout, "timed out reading request body")
	case <-r.Context().Done():
		return nil, spec.WrapError(spec.ErrClientAborted, r.Context().Err(), "client disconnected while reading body")
	}
}

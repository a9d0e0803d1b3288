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

// Package httpserver implements the HTTP/SSE server core of §4.12-4.15:
// routing, per-route concurrency limiting with bounded queues, body-size
// and timeout enforcement, auth, rate limiting, CORS, and SSE
// idle-timeout handling, fronting the coordinator's /run, /stream, and
// /vector/* operations.
package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jfcostello/llm-coordinator/pkg/auth"
	"github.com/jfcostello/llm-coordinator/pkg/compat"
	"github.com/jfcostello/llm-coordinator/pkg/coordinator"
	"github.com/jfcostello/llm-coordinator/pkg/limiter"
	"github.com/jfcostello/llm-coordinator/pkg/ratelimit"
)

// Logger is the minimal structured-logging capability this package uses.
type Logger = compat.Logger

// Config configures a Server's construction. Zero values are not the
// values of pkg/config.Default()'s Server section: a zero SecurityHeaders
// leaves the security headers off, and a zero limiter.Config admits
// requests without a concurrency limit. The CLI/config loader is
// responsible for populating this from configs/defaults.json plus flags.
type Config struct {
	MaxRequestBytes     int64
	BodyReadTimeout     time.Duration
	RequestTimeout      time.Duration
	StreamIdleTimeout   time.Duration

	SecurityHeaders bool
	CORSOrigins     []string

	Auth      auth.Config
	RateLimit ratelimit.Config

	Run              limiter.Config
	Stream           limiter.Config
	Vector           limiter.Config
	VectorEmbeddings limiter.Config

	Logger Logger
}

// Server is the HTTP/SSE transport in front of a Coordinator (§4.12).
type Server struct {
	cfg   Config
	coord *coordinator.Coordinator
	auth  *auth.Authenticator
	rl    *ratelimit.Limiter

	runLimiter              *limiter.Limiter
	streamLimiter           *limiter.Limiter
	vectorLimiter           *limiter.Limiter
	vectorEmbeddingsLimiter *limiter.Limiter

	mux http.Handler
}

// New builds a Server fronting coord. Call Handler() to obtain the
// http.Handler to pass to http.Server / httptest.
func New(cfg Config, coord *coordinator.Coordinator) *Server {
	s := &Server{
		cfg:                     cfg,
		coord:                   coord,
		auth:                    auth.New(cfg.Auth),
		rl:                      ratelimit.New(cfg.RateLimit),
		runLimiter:              limiter.New(cfg.Run),
		streamLimiter:           limiter.New(cfg.Stream),
		vectorLimiter:           limiter.New(cfg.Vector),
		vectorEmbeddingsLimiter: limiter.New(cfg.VectorEmbeddings),
	}
	s.mux = s.routes()
	return s
}

func (s *Server) log() Logger {
	if s.cfg.Logger != nil {
		return s.cfg.Logger
	}
	return noopLogger{}
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Handler returns the http.Handler serving every route of §4.12.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.corsMiddleware)
	r.Use(s.securityHeadersMiddleware)

	r.Post("/run", s.withAdmission(s.runLimiter, s.handleRun))
	r.Post("/stream", s.withAdmission(s.streamLimiter, s.handleStream))
	r.Post("/vector/run", s.withAdmission(s.vectorLimiter, s.handleVectorRun))
	r.Post("/vector/stream", s.withAdmission(s.vectorLimiter, s.handleVectorStream))
	r.Post("/vector/embeddings/run", s.withAdmission(s.vectorEmbeddingsLimiter, s.handleEmbeddingsRun))

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "not found")
	})
	return r
}

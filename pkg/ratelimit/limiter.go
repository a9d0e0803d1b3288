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

// Package ratelimit implements the per-client token bucket of §4.14: one
// bucket per client identifier, capacity Burst, refilled at
// RequestsPerMinute/60 tokens per second.
package ratelimit

import (
	"strings"
	"sync"
	"time"
)

// Config configures the limiter.
type Config struct {
	RequestsPerMinute float64
	Burst             int
	// TrustProxyHeaders, when set, makes ClientID return the leftmost
	// entry of X-Forwarded-For instead of the remote address (§4.14).
	// Allow/AllowAt bucket by whatever identifier the caller supplies.
	TrustProxyHeaders bool
}

type bucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	refill   float64 // tokens per second
	last     time.Time
}

func (b *bucket) allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.refill
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.last = now
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Limiter buckets requests per client identifier. Safe for concurrent use;
// owned by the HTTP server across the process lifetime (§5: "The HTTP
// server owns the rate-limiter buckets ... across the process").
type Limiter struct {
	cfg Config

	mu      sync.Mutex
	buckets map[string]*bucket
}

// New constructs a Limiter. A non-positive Burst defaults to 1; a
// non-positive RequestsPerMinute defaults to 60 (one per second).
func New(cfg Config) *Limiter {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 60
	}
	return &Limiter{cfg: cfg, buckets: map[string]*bucket{}}
}

// Allow reports whether clientID may proceed now, consuming one token if
// so. Returns false (429 rate_limited per §7) when the bucket is empty.
func (l *Limiter) Allow(clientID string) bool {
	return l.AllowAt(clientID, time.Now())
}

// AllowAt is Allow with an explicit clock, exposed for deterministic tests.
func (l *Limiter) AllowAt(clientID string, now time.Time) bool {
	l.mu.Lock()
	b, ok := l.buckets[clientID]
	if !ok {
		b = &bucket{
			tokens:   float64(l.cfg.Burst),
			capacity: float64(l.cfg.Burst),
			refill:   l.cfg.RequestsPerMinute / 60,
			last:     now,
		}
		l.buckets[clientID] = b
	}
	l.mu.Unlock()
	return b.allow(now)
}

// ClientID resolves the bucketing identifier for remoteAddr, optionally
// preferring the leftmost X-Forwarded-For entry when TrustProxyHeaders is
// set (§4.14).
func (l *Limiter) ClientID(remoteAddr, forwardedFor string) string {
	if l.cfg.TrustProxyHeaders && forwardedFor != "" {
		first, _, _ := strings.Cut(forwardedFor, ",")
		return strings.TrimSpace(first)
	}
	return remoteAddr
}

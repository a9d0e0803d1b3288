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

// Package limiter implements the per-route concurrency limiter and bounded
// waiting queue of §4.15: a fixed number of active permits plus a FIFO
// queue of waiters, each subject to its own timeout and abort signal.
package limiter

import (
	"container/list"
	"context"
	"math"
	"sync"
	"time"

	"github.com/jfcostello/llm-coordinator/pkg/spec"
)

// Config configures one route's Limiter.
type Config struct {
	// MaxConcurrent is the number of permits available at once. A
	// non-finite value (<= 0 or +Inf) is treated as unlimited (§4.15).
	MaxConcurrent int
	MaxQueueSize  int
	QueueTimeout  time.Duration
}

type waiter struct {
	grant chan struct{}
	done  bool
}

// Limiter is one route's admission gate. Safe for concurrent use; the
// HTTP server owns one Limiter per route across the process (§5).
type Limiter struct {
	cfg Config

	mu       sync.Mutex
	active   int
	queue    *list.List // of *waiter
	elements map[*waiter]*list.Element
}

// New constructs a Limiter for cfg.
func New(cfg Config) *Limiter {
	return &Limiter{cfg: cfg, queue: list.New(), elements: map[*waiter]*list.Element{}}
}

func (l *Limiter) unlimited() bool {
	return l.cfg.MaxConcurrent <= 0 || math.IsInf(float64(l.cfg.MaxConcurrent), 1)
}

// Release is the closure returned by Acquire: it frees the permit, handing
// it to the next queued waiter if any; calling it more than once has the
// same effect as calling it once (§8 idempotence).
type Release func()

// Acquire blocks until a permit is granted, the queue is full (returns
// ErrServerBusy), the per-entry QueueTimeout elapses (ErrQueueTimeout), or
// ctx is canceled before a grant (ErrClientAborted, modeling client
// disconnect per §4.12 step 9) — the two signals are distinguished so the
// caller can answer 503 vs 499 per §7. The returned Release must be
// called exactly once on success paths to free the permit; it is safe to
// call multiple times.
func (l *Limiter) Acquire(ctx context.Context) (Release, error) {
	l.mu.Lock()
	if l.unlimited() || l.active < l.cfg.MaxConcurrent {
		l.active++
		l.mu.Unlock()
		return l.release(), nil
	}
	if l.queue.Len() >= l.cfg.MaxQueueSize {
		l.mu.Unlock()
		return nil, spec.NewError(spec.ErrServerBusy, "request queue is full")
	}
	w := &waiter{grant: make(chan struct{}, 1)}
	el := l.queue.PushBack(w)
	l.elements[w] = el
	l.mu.Unlock()

	var timeout <-chan time.Time
	if l.cfg.QueueTimeout > 0 {
		timer := time.NewTimer(l.cfg.QueueTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-w.grant:
		return l.release(), nil
	case <-timeout:
		l.cancelWaiter(w)
		if l.consumeGrant(w) {
			return l.release(), nil
		}
		return nil, spec.NewError(spec.ErrQueueTimeout, "queue wait exceeded timeout")
	case <-ctx.Done():
		l.cancelWaiter(w)
		if l.consumeGrant(w) {
			return l.release(), nil
		}
		return nil, spec.WrapError(spec.ErrClientAborted, ctx.Err(), "client disconnected while queued")
	}
}

// consumeGrant drains a grant that raced in concurrently with a
// timeout/cancellation, so the permit it represents isn't leaked.
func (l *Limiter) consumeGrant(w *waiter) bool {
	select {
	case <-w.grant:
		return true
	default:
		return false
	}
}

func (l *Limiter) cancelWaiter(w *waiter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if el, ok := l.elements[w]; ok {
		w.done = true
		l.queue.Remove(el)
		delete(l.elements, w)
	}
}

// release builds the idempotent Release closure for one granted permit.
func (l *Limiter) release() Release {
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.dequeueNextLocked()
		})
	}
}

// dequeueNextLocked hands the freed permit to the next non-canceled FIFO
// waiter, or decrements active if the queue is empty (§5: "Limiter
// dequeues in FIFO order, skipping canceled entries").
func (l *Limiter) dequeueNextLocked() {
	for {
		front := l.queue.Front()
		if front == nil {
			l.active--
			return
		}
		w := front.Value.(*waiter)
		l.queue.Remove(front)
		delete(l.elements, w)
		if w.done {
			continue
		}
		w.grant <- struct{}{}
		return
	}
}

// Stats reports the limiter's current occupancy, for a /metrics or
// health-check surface.
type Stats struct {
	Active int
	Queued int
}

func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{Active: l.active, Queued: l.queue.Len()}
}

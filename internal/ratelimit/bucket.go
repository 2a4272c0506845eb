// Copyright 2025 Esteban Alvarez. All Rights Reserved.
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

// Package ratelimit implements the per-key token-bucket admission control
// described in spec.md §4.E. It follows the same shape etalazz-vsa's
// store/worker pair uses for its scalar-vector accounting
// (internal/ratelimiter/core/{store,worker}.go): a concurrent map of
// per-key state guarded by its own lock, with a background sweep that
// evicts idle entries. Where that store commits a vector to external
// storage on a threshold, the token bucket has nothing to persist — the
// background worker here only evicts, it never writes out.
package ratelimit

import (
	"sync"
	"time"
)

// bucket is a single token bucket. tokens/lastRefill/lastActivity are
// guarded by mu so that refill-then-decide is an atomic step with respect
// to concurrent callers for the same key (spec.md §5 "per-bucket lock is
// sufficient").
type bucket struct {
	mu           sync.Mutex
	capacity     float64
	refillRate   float64 // tokens per second
	tokens       float64
	lastRefill   time.Time
	lastActivity time.Time
}

func newBucket(capacity, refillRate float64, now time.Time) *bucket {
	return &bucket{
		capacity:     capacity,
		refillRate:   refillRate,
		tokens:       capacity,
		lastRefill:   now,
		lastActivity: now,
	}
}

// decision is the outcome of a single consume attempt.
type decision struct {
	allowed    bool
	remaining  int64
	retryAfter int
}

// consume refills the bucket for elapsed time, then attempts to take one
// token (spec.md §4.E steps 1-3). Elapsed time is clamped to >= 0 so a
// clock that appears to move backwards never drains tokens (spec.md §3
// "refill is monotone").
func (b *bucket) consume(now time.Time) decision {
	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.refillRate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.lastRefill = now
	}
	b.lastActivity = now

	if b.tokens >= 1 {
		b.tokens--
		return decision{allowed: true, remaining: int64(b.tokens)}
	}

	retryAfter := 0
	if b.refillRate > 0 {
		needed := 1 - b.tokens
		retryAfter = int(needed / b.refillRate)
		if float64(retryAfter)*b.refillRate+b.tokens < 1 {
			retryAfter++
		}
	}
	return decision{allowed: false, remaining: int64(b.tokens), retryAfter: retryAfter}
}

// atCapacityAndIdle reports whether the bucket has fully refilled and seen
// no activity for at least idleAfter — the eviction predicate in spec.md
// §4.E "startCleanup".
func (b *bucket) atCapacityAndIdle(now time.Time, idleAfter time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.refillRate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.lastRefill = now
	}
	return b.tokens >= b.capacity && now.Sub(b.lastActivity) >= idleAfter
}

func (b *bucket) snapshot() (tokens, capacity float64, lastActivity time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens, b.capacity, b.lastActivity
}

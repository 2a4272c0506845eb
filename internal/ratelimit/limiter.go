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

package ratelimit

import (
	"encoding/json"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"
	"time"
)

// KeyFunc derives an admission key from a request when Config.KeyBy is
// "function" — the operator-provided pure function of spec.md §4.E.
type KeyFunc func(r *http.Request) string

// Config configures a Limiter (spec.md §6).
type Config struct {
	Requests     int           // capacity
	Window       time.Duration // window the capacity replenishes over
	KeyBy        string        // "ip" | "user" | "function"
	KeyFunc      KeyFunc       // used when KeyBy == "function"
	ExcludePaths []string      // regex strings; a matching path bypasses the limiter
}

// Metrics is a point-in-time sample of the limiter's aggregate counters
// (spec.md §3 "Limiter Aggregates").
type Metrics struct {
	TotalRequests   int64 `json:"totalRequests"`
	AllowedRequests int64 `json:"allowedRequests"`
	BlockedRequests int64 `json:"blockedRequests"`
	ActiveBuckets   int   `json:"activeBuckets"`
}

// BucketInfo is a read-only snapshot of one bucket's state, as returned by
// GetActiveBuckets.
type BucketInfo struct {
	Key          string    `json:"key"`
	Tokens       float64   `json:"tokens"`
	Capacity     float64   `json:"capacity"`
	LastActivity time.Time `json:"lastActivity"`
}

// Result is the outcome of an admission decision.
type Result struct {
	Allowed    bool
	Remaining  int64
	RetryAfter int // seconds, 0 when allowed
}

// Limiter is the process-wide token-bucket admission controller.
type Limiter struct {
	cfg      Config
	store    *store
	excludes []*regexp.Regexp

	totalRequests   atomic.Int64
	allowedRequests atomic.Int64
	blockedRequests atomic.Int64

	metrics *promMetrics
}

// New builds a Limiter from Config. Exclude patterns that fail to compile
// are silently dropped; the returned error is always nil.
func New(cfg Config) (*Limiter, error) {
	capacity := float64(cfg.Requests)
	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}
	refillRate := capacity / window.Seconds()

	excludes := make([]*regexp.Regexp, 0, len(cfg.ExcludePaths))
	for _, p := range cfg.ExcludePaths {
		re, err := regexp.Compile(p)
		if err != nil {
			continue
		}
		excludes = append(excludes, re)
	}

	return &Limiter{
		cfg:      cfg,
		store:    newStore(capacity, refillRate),
		excludes: excludes,
		metrics:  newPromMetrics(),
	}, nil
}

// Excluded reports whether path bypasses the limiter entirely — neither
// counter is incremented for excluded paths (spec.md §4.E "Exclude
// patterns").
func (l *Limiter) Excluded(path string) bool {
	for _, re := range l.excludes {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

// IsAllowed performs the admission decision for key and updates aggregates.
func (l *Limiter) IsAllowed(key string) Result {
	now := time.Now()
	b := l.store.getOrCreate(key, now)
	d := b.consume(now)

	l.totalRequests.Add(1)
	if d.allowed {
		l.allowedRequests.Add(1)
	} else {
		l.blockedRequests.Add(1)
	}
	l.metrics.observe(d.allowed)

	return Result{Allowed: d.allowed, Remaining: d.remaining, RetryAfter: d.retryAfter}
}

// GetMetrics returns a snapshot of the aggregate counters.
func (l *Limiter) GetMetrics() Metrics {
	return Metrics{
		TotalRequests:   l.totalRequests.Load(),
		AllowedRequests: l.allowedRequests.Load(),
		BlockedRequests: l.blockedRequests.Load(),
		ActiveBuckets:   l.store.count(),
	}
}

// ResetMetrics zeroes the aggregate counters. Tests only (spec.md §3).
func (l *Limiter) ResetMetrics() {
	l.totalRequests.Store(0)
	l.allowedRequests.Store(0)
	l.blockedRequests.Store(0)
}

// GetActiveBuckets returns up to limit buckets ordered by lastActivity desc.
// limit <= 0 means unbounded.
func (l *Limiter) GetActiveBuckets(limit int) []BucketInfo {
	var out []BucketInfo
	l.store.forEach(func(key string, b *bucket) {
		tokens, capacity, lastActivity := b.snapshot()
		out = append(out, BucketInfo{Key: key, Tokens: tokens, Capacity: capacity, LastActivity: lastActivity})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ClearBucket removes a single bucket.
func (l *Limiter) ClearBucket(key string) bool {
	_, existed := l.store.buckets.LoadAndDelete(key)
	return existed
}

// ClearAllBuckets removes every bucket and returns the count removed.
func (l *Limiter) ClearAllBuckets() int {
	n := 0
	l.store.forEach(func(key string, _ *bucket) {
		l.store.delete(key)
		n++
	})
	return n
}

// Key derives the admission key for r per Config.KeyBy (spec.md §4.E "Key
// derivation").
func (l *Limiter) Key(r *http.Request) string {
	switch l.cfg.KeyBy {
	case "user":
		if ident := r.Header.Get("X-Identity"); ident != "" {
			var parsed struct {
				Sub string `json:"sub"`
			}
			if err := json.Unmarshal([]byte(ident), &parsed); err == nil && parsed.Sub != "" {
				return "user:" + parsed.Sub
			}
		}
		return ipKey(r)
	case "function":
		if l.cfg.KeyFunc != nil {
			return l.cfg.KeyFunc(r)
		}
		return ipKey(r)
	default:
		return ipKey(r)
	}
}

func ipKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if first != "" {
			return first
		}
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	return "unknown"
}

// Config returns a read-only copy of the limiter's configuration, useful
// for /api/config and /api/stats.
func (l *Limiter) Config() Config { return l.cfg }

// RequestsLimit and WindowSeconds expose the raw config for headers
// (X-RateLimit-Limit, etc.) without reaching into Config directly.
func (l *Limiter) RequestsLimit() int { return l.cfg.Requests }
func (l *Limiter) WindowSeconds() int { return int(l.cfg.Window.Seconds()) }

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
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLimiter_AllowsUpToCapacityThenBlocks(t *testing.T) {
	l, err := New(Config{Requests: 3, Window: time.Minute, KeyBy: "ip"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < 3; i++ {
		res := l.IsAllowed("client-1")
		if !res.Allowed {
			t.Fatalf("request %d: expected allowed", i)
		}
	}

	res := l.IsAllowed("client-1")
	if res.Allowed {
		t.Fatal("expected 4th request to be blocked")
	}
	if res.RetryAfter <= 0 {
		t.Fatalf("expected positive RetryAfter, got %d", res.RetryAfter)
	}
}

func TestLimiter_CountersAreCoherent(t *testing.T) {
	l, err := New(Config{Requests: 2, Window: time.Minute, KeyBy: "ip"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < 5; i++ {
		l.IsAllowed("client-1")
	}

	m := l.GetMetrics()
	if m.TotalRequests != m.AllowedRequests+m.BlockedRequests {
		t.Fatalf("totalRequests (%d) must equal allowed (%d) + blocked (%d)",
			m.TotalRequests, m.AllowedRequests, m.BlockedRequests)
	}
	if m.TotalRequests != 5 {
		t.Fatalf("expected 5 total requests, got %d", m.TotalRequests)
	}
}

func TestLimiter_ResetMetricsZeroesCounters(t *testing.T) {
	l, _ := New(Config{Requests: 1, Window: time.Minute, KeyBy: "ip"})
	l.IsAllowed("client-1")
	l.IsAllowed("client-1")
	l.ResetMetrics()

	m := l.GetMetrics()
	if m.TotalRequests != 0 || m.AllowedRequests != 0 || m.BlockedRequests != 0 {
		t.Fatalf("expected zeroed counters, got %+v", m)
	}
}

func TestLimiter_ExcludedBypassesAccounting(t *testing.T) {
	l, err := New(Config{Requests: 1, Window: time.Minute, ExcludePaths: []string{"^/healthz$"}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if !l.Excluded("/healthz") {
		t.Fatal("expected /healthz to be excluded")
	}
	if l.Excluded("/api/widgets") {
		t.Fatal("expected /api/widgets to not be excluded")
	}
}

func TestLimiter_InvalidExcludePatternIsDroppedNotFatal(t *testing.T) {
	l, err := New(Config{Requests: 1, Window: time.Minute, ExcludePaths: []string{"(unterminated"}})
	if err != nil {
		t.Fatalf("expected New to tolerate an invalid exclude pattern, got error: %v", err)
	}
	if l.Excluded("/anything") {
		t.Fatal("an invalid pattern must never match")
	}
}

func TestLimiter_KeyByIP(t *testing.T) {
	l, _ := New(Config{Requests: 1, Window: time.Minute, KeyBy: "ip"})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	if got := l.Key(r); got != "203.0.113.5" {
		t.Fatalf("expected first X-Forwarded-For entry, got %q", got)
	}

	r2 := httptest.NewRequest(http.MethodGet, "/", nil)
	r2.Header.Set("X-Real-IP", "198.51.100.7")
	if got := l.Key(r2); got != "198.51.100.7" {
		t.Fatalf("expected X-Real-IP fallback, got %q", got)
	}

	r3 := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := l.Key(r3); got != "unknown" {
		t.Fatalf("expected \"unknown\" with no IP headers, got %q", got)
	}
}

func TestLimiter_KeyByUserFallsBackToIP(t *testing.T) {
	l, _ := New(Config{Requests: 1, Window: time.Minute, KeyBy: "user"})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Identity", `{"sub":"user-42"}`)
	if got := l.Key(r); got != "user:user-42" {
		t.Fatalf("expected user-scoped key, got %q", got)
	}

	r2 := httptest.NewRequest(http.MethodGet, "/", nil)
	r2.Header.Set("X-Identity", `not-json`)
	r2.Header.Set("X-Real-IP", "192.0.2.9")
	if got := l.Key(r2); got != "192.0.2.9" {
		t.Fatalf("expected IP fallback on malformed identity header, got %q", got)
	}
}

func TestLimiter_KeyByFunction(t *testing.T) {
	l, _ := New(Config{
		Requests: 1,
		Window:   time.Minute,
		KeyBy:    "function",
		KeyFunc:  func(r *http.Request) string { return "tenant:" + r.Header.Get("X-Tenant") },
	})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Tenant", "acme")
	if got := l.Key(r); got != "tenant:acme" {
		t.Fatalf("expected custom key function result, got %q", got)
	}
}

func TestLimiter_ClearBucketAndClearAll(t *testing.T) {
	l, _ := New(Config{Requests: 5, Window: time.Minute})
	l.IsAllowed("a")
	l.IsAllowed("b")

	if !l.ClearBucket("a") {
		t.Fatal("expected ClearBucket to report the bucket existed")
	}
	if l.ClearBucket("a") {
		t.Fatal("expected a second ClearBucket on the same key to report false")
	}

	l.IsAllowed("a") // recreate
	n := l.ClearAllBuckets()
	if n != 2 {
		t.Fatalf("expected 2 buckets cleared, got %d", n)
	}
	if l.GetMetrics().ActiveBuckets != 0 {
		t.Fatalf("expected 0 active buckets after ClearAllBuckets, got %d", l.GetMetrics().ActiveBuckets)
	}
}

func TestLimiter_GetActiveBucketsRespectsLimitAndOrdering(t *testing.T) {
	l, _ := New(Config{Requests: 5, Window: time.Minute})
	l.IsAllowed("first")
	time.Sleep(time.Millisecond)
	l.IsAllowed("second")

	all := l.GetActiveBuckets(0)
	if len(all) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(all))
	}
	if all[0].Key != "second" {
		t.Fatalf("expected most recently active bucket first, got %q", all[0].Key)
	}

	limited := l.GetActiveBuckets(1)
	if len(limited) != 1 {
		t.Fatalf("expected limit to be respected, got %d entries", len(limited))
	}
}

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
	"sync"
	"time"
)

// store is a concurrent map of per-key buckets, mirroring the
// GetOrCreate/ForEach/Delete shape of etalazz-vsa's
// internal/ratelimiter/core.Store — including its fast-path optimization
// of trying a plain Load before allocating a new bucket on a miss.
type store struct {
	buckets    sync.Map // string -> *bucket
	capacity   float64
	refillRate float64
}

func newStore(capacity, refillRate float64) *store {
	return &store{capacity: capacity, refillRate: refillRate}
}

func (s *store) getOrCreate(key string, now time.Time) *bucket {
	if v, ok := s.buckets.Load(key); ok {
		return v.(*bucket)
	}
	b := newBucket(s.capacity, s.refillRate, now)
	actual, _ := s.buckets.LoadOrStore(key, b)
	return actual.(*bucket)
}

func (s *store) forEach(f func(key string, b *bucket)) {
	s.buckets.Range(func(k, v any) bool {
		f(k.(string), v.(*bucket))
		return true
	})
}

func (s *store) delete(key string) {
	s.buckets.Delete(key)
}

func (s *store) count() int {
	n := 0
	s.buckets.Range(func(_, _ any) bool { n++; return true })
	return n
}

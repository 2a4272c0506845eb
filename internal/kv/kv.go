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

// Package kv defines the external key-value collaborator the gateway persists
// dynamic rules, shell excludes and metrics history into, plus an in-memory
// implementation used when no external store is configured and a
// Redis-backed implementation for production use. Keys are structured
// tuples (e.g. ("proxy","rules",id)) joined with ":" on the wire, mirroring
// the counter/marker key layout in etalazz-vsa's
// internal/ratelimiter/persistence/redis.go.
package kv

import "context"

// Store is the minimal async KV surface the gateway requires: get/set/delete
// of a single structured key, and list of everything under a key prefix.
// Collaborators whose persistence is optional (shell excludes, metrics
// history) tolerate an absent one by no-opping; collaborators whose writes
// spec.md requires to be durable (the rule store) instead reject the write
// with Unavailable when no Store is configured (spec.md §4.I, §6).
type Store interface {
	Get(ctx context.Context, key ...string) ([]byte, bool, error)
	Set(ctx context.Context, value []byte, key ...string) error
	Delete(ctx context.Context, key ...string) error
	// List returns every value stored under the given key prefix, keyed by
	// the joined key string.
	List(ctx context.Context, prefix ...string) (map[string][]byte, error)
}

// Join renders a structured key as its wire form.
func Join(parts ...string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += ":" + p
	}
	return out
}

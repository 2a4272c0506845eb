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

// Package shell decides whether a request is owned by the shell worker
// rather than a proxy rule, per spec.md §4.F. It keeps three exclude
// sources — configured/env, KV-persisted, and a per-request cookie — and
// combines them the way etalazz-vsa's internal/ratelimiter/core.Store
// combines its in-memory map with a persistence-backed fallback: in-memory
// state is authoritative for reads, the KV adapter is consulted only on
// mutation.
package shell

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"gatewayd/internal/gwerrors"
	"gatewayd/internal/kv"
)

var basenameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

const excludesCookie = "gateway_shell_excludes"

// Router decides shell ownership of a request.
type Router struct {
	dir       string
	apiBase   string
	envSet    map[string]struct{}
	mu        sync.RWMutex
	keyvalSet map[string]struct{}
	writeMu   sync.Mutex // serializes AddExclude/RemoveExclude so persist-then-mutate is atomic end-to-end
	store     kv.Store
}

var excludesKey = []string{"gateway", "shell", "excludes"}

// New builds a Router. dir is the configured shell directory (empty
// disables the shell entirely); apiBase is the control-plane's mount path,
// which the shell never owns; envExcludes is the comma-separated
// GATEWAY_SHELL_EXCLUDES configuration value.
func New(dir, apiBase, envExcludes string, store kv.Store) *Router {
	env := map[string]struct{}{}
	for _, b := range splitValid(envExcludes) {
		env[b] = struct{}{}
	}
	return &Router{
		dir:       dir,
		apiBase:   apiBase,
		envSet:    env,
		keyvalSet: map[string]struct{}{},
		store:     store,
	}
}

// Load reads persisted keyval excludes from KV at start-up.
func (rt *Router) Load(ctx context.Context) error {
	if rt.store == nil {
		return nil
	}
	raw, ok, err := rt.store.Get(ctx, excludesKey...)
	if err != nil || !ok {
		return err
	}
	names, err := unmarshalNames(raw)
	if err != nil {
		return nil
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for _, n := range names {
		rt.keyvalSet[n] = struct{}{}
	}
	return nil
}

// Enabled reports whether a shell directory is configured.
func (rt *Router) Enabled() bool { return rt.dir != "" }

// Dir returns the configured shell directory.
func (rt *Router) Dir() string { return rt.dir }

// Owns decides shell ownership of r per spec.md §4.F steps 1-4.
func (rt *Router) Owns(r *http.Request) bool {
	if rt.dir == "" {
		return false
	}
	path := r.URL.Path
	if path == rt.apiBase || strings.HasPrefix(path, rt.apiBase+"/") {
		return false
	}

	segments := pathSegments(path)
	if len(segments) == 0 {
		return false
	}
	basename := segments[0]

	if rt.excluded(basename, r) {
		return false
	}

	dest := r.Header.Get("Sec-Fetch-Dest")
	if dest == "document" {
		return true
	}
	if len(segments) == 1 {
		switch dest {
		case "iframe", "embed", "object":
			return false
		default:
			return true
		}
	}
	return false
}

func (rt *Router) excluded(basename string, r *http.Request) bool {
	if _, ok := rt.envSet[basename]; ok {
		return true
	}
	rt.mu.RLock()
	_, ok := rt.keyvalSet[basename]
	rt.mu.RUnlock()
	if ok {
		return true
	}
	for _, b := range cookieExcludes(r) {
		if b == basename {
			return true
		}
	}
	return false
}

func pathSegments(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func cookieExcludes(r *http.Request) []string {
	for _, c := range r.Cookies() {
		if strings.EqualFold(c.Name, excludesCookie) {
			return splitValid(c.Value)
		}
	}
	return nil
}

func splitValid(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		p := strings.TrimSpace(part)
		if p != "" && basenameRe.MatchString(p) {
			out = append(out, p)
		}
	}
	return out
}

// ExcludeEntry is one merged exclude-set row, per spec.md's Shell Exclude
// Entry data model.
type ExcludeEntry struct {
	Basename string `json:"basename"`
	Source   string `json:"source"`
}

// Excludes returns env entries first, then keyval entries not already
// present in env (spec.md §4.I "getAllShellExcludes").
func (rt *Router) Excludes() []ExcludeEntry {
	var out []ExcludeEntry
	for b := range rt.envSet {
		out = append(out, ExcludeEntry{Basename: b, Source: "env"})
	}
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	for b := range rt.keyvalSet {
		if _, ok := rt.envSet[b]; ok {
			continue
		}
		out = append(out, ExcludeEntry{Basename: b, Source: "keyval"})
	}
	return out
}

// AddExclude validates, persists, then records a new keyval exclude in
// memory. Persist precedes memory so a KV failure never leaves the exclude
// observable to Owns()/Excludes() without a durable record behind it
// (spec.md §4.J, testable property 10, mirroring internal/rules.Store).
// Returns whether the set actually changed.
func (rt *Router) AddExclude(ctx context.Context, basename string) (bool, error) {
	if !basenameRe.MatchString(basename) {
		return false, gwerrors.Invalid("invalid basename")
	}
	if _, ok := rt.envSet[basename]; ok {
		return false, gwerrors.Invalidf("%q is already excluded by configuration", basename)
	}

	rt.writeMu.Lock()
	defer rt.writeMu.Unlock()

	rt.mu.RLock()
	_, exists := rt.keyvalSet[basename]
	names := rt.namesLocked()
	rt.mu.RUnlock()
	if exists {
		return false, nil
	}
	names = append(names, basename)

	if err := rt.persist(ctx, names); err != nil {
		return false, err
	}

	rt.mu.Lock()
	rt.keyvalSet[basename] = struct{}{}
	rt.mu.Unlock()
	return true, nil
}

// RemoveExclude persists the removal, then deletes the keyval exclude from
// memory only on success (same persist-before-memory ordering as
// AddExclude). Env-sourced excludes can never be removed (spec.md §4.F).
func (rt *Router) RemoveExclude(ctx context.Context, basename string) (bool, error) {
	if _, ok := rt.envSet[basename]; ok {
		return false, gwerrors.Forbiddenf("%q is set via configuration and cannot be removed", basename)
	}

	rt.writeMu.Lock()
	defer rt.writeMu.Unlock()

	rt.mu.RLock()
	_, exists := rt.keyvalSet[basename]
	names := rt.namesLocked()
	rt.mu.RUnlock()
	if !exists {
		return false, nil
	}
	names = removeName(names, basename)

	if err := rt.persist(ctx, names); err != nil {
		return false, err
	}

	rt.mu.Lock()
	delete(rt.keyvalSet, basename)
	rt.mu.Unlock()
	return true, nil
}

// namesLocked snapshots the current keyval set. Callers must hold rt.mu (for
// reading or writing).
func (rt *Router) namesLocked() []string {
	names := make([]string, 0, len(rt.keyvalSet))
	for b := range rt.keyvalSet {
		names = append(names, b)
	}
	return names
}

func removeName(names []string, target string) []string {
	out := names[:0]
	for _, n := range names {
		if n != target {
			out = append(out, n)
		}
	}
	return out
}

func (rt *Router) persist(ctx context.Context, names []string) error {
	if rt.store == nil {
		return nil
	}
	raw, err := marshalNames(names)
	if err != nil {
		return err
	}
	return rt.store.Set(ctx, raw, excludesKey...)
}

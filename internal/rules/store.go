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

package rules

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"gatewayd/internal/gwerrors"
	"gatewayd/internal/kv"
)

// keyPrefix is the KV tuple prefix dynamic rules are stored under
// (spec.md §6: ("proxy","rules",<rule-id>)).
var keyPrefix = []string{"proxy", "rules"}

// Store holds the static (read-only) and dynamic (mutable) rule sequences.
// Readers in the hot path take an immutable snapshot pointer of dynamic
// rules (copy-on-write), matching the discipline spec.md §5 and §9 require
// for RuleStore.dynamic; writers serialize through mu. This mirrors
// etalazz-vsa's Store/managedVSA split in internal/ratelimiter/core/store.go,
// adapted from a sync.Map of counters to a copy-on-write rule slice because
// rule mutation is rare and match-time reads must never block on it.
type Store struct {
	static  []CompiledRule
	dynamic atomic.Pointer[[]CompiledRule]
	mu      sync.Mutex // serializes Create/Update/Delete
	kv      kv.Store
}

// NewStore compiles the static rules (dropping any that fail to compile,
// per spec.md §4.A) and returns a Store ready to Load dynamic rules from kv.
func NewStore(staticRules []Rule, store kv.Store) *Store {
	s := &Store{kv: store}
	compiled := make([]CompiledRule, 0, len(staticRules))
	for i, r := range staticRules {
		if r.ID == "" {
			r.ID = fmt.Sprintf("static-%d", i)
		}
		r.Readonly = true
		cr, err := Compile(r)
		if err != nil {
			log.Warn().Err(err).Str("rule_id", r.ID).Msg("dropping static rule: compile failed")
			continue
		}
		compiled = append(compiled, cr)
	}
	s.static = compiled
	empty := []CompiledRule{}
	s.dynamic.Store(&empty)
	return s
}

// Load populates the dynamic set from every entry under ("proxy","rules",*).
func (s *Store) Load(ctx context.Context) error {
	if s.kv == nil {
		return nil
	}
	entries, err := s.kv.List(ctx, keyPrefix...)
	if err != nil {
		return fmt.Errorf("loading dynamic rules: %w", err)
	}
	loaded := make([]CompiledRule, 0, len(entries))
	for k, raw := range entries {
		var r Rule
		if err := unmarshalRule(raw, &r); err != nil {
			log.Warn().Err(err).Str("key", k).Msg("dropping stored rule: invalid JSON")
			continue
		}
		r.Readonly = false
		cr, err := Compile(r)
		if err != nil {
			log.Warn().Err(err).Str("key", k).Msg("dropping stored rule: compile failed")
			continue
		}
		loaded = append(loaded, cr)
	}
	s.mu.Lock()
	s.dynamic.Store(&loaded)
	s.mu.Unlock()
	return nil
}

// All returns static rules followed by dynamic rules, in that order — the
// ordering invariant spec.md §3/§8 require for first-match-wins scanning.
func (s *Store) All() []CompiledRule {
	dyn := *s.dynamic.Load()
	out := make([]CompiledRule, 0, len(s.static)+len(dyn))
	out = append(out, s.static...)
	out = append(out, dyn...)
	return out
}

// Get looks up a rule (static or dynamic) by id.
func (s *Store) Get(id string) (CompiledRule, bool) {
	for _, r := range s.All() {
		if r.ID == id {
			return r, true
		}
	}
	return CompiledRule{}, false
}

// Create validates, persists, then appends a new dynamic rule. Persist
// precedes memory so an interrupted write never leaves memory ahead of
// storage (spec.md §4.A, testable property 10).
func (s *Store) Create(ctx context.Context, r Rule) (CompiledRule, error) {
	if s.kv == nil {
		return CompiledRule{}, gwerrors.Unavailablef("rule persistence is not configured")
	}
	if r.Pattern == "" || r.Target == "" {
		return CompiledRule{}, gwerrors.Invalid("pattern and target are required")
	}
	r.ID = uuid.NewString()
	r.Readonly = false
	cr, err := Compile(r)
	if err != nil {
		return CompiledRule{}, gwerrors.Invalid(err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	body, err := MarshalStorable(r)
	if err != nil {
		return CompiledRule{}, gwerrors.Internalf("%v", err)
	}
	if err := s.kv.Set(ctx, body, append(append([]string{}, keyPrefix...), r.ID)...); err != nil {
		return CompiledRule{}, gwerrors.Internalf("persisting rule: %v", err)
	}
	cur := *s.dynamic.Load()
	next := make([]CompiledRule, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, cr)
	s.dynamic.Store(&next)
	return cr, nil
}

// Update merges a partial rule over the existing stored rule and persists
// before replacing the in-memory entry. Static rules are rejected (403).
func (s *Store) Update(ctx context.Context, id string, partial Rule) (CompiledRule, error) {
	if s.kv == nil {
		return CompiledRule{}, gwerrors.Unavailablef("rule persistence is not configured")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.static {
		if r.ID == id {
			return CompiledRule{}, gwerrors.Forbiddenf("rule is read-only")
		}
	}

	cur := *s.dynamic.Load()
	idx := -1
	var existing Rule
	for i, r := range cur {
		if r.ID == id {
			idx = i
			existing = r.Rule
			break
		}
	}
	if idx < 0 {
		return CompiledRule{}, gwerrors.NotFoundf("rule not found")
	}

	merged := mergeRule(existing, partial)
	merged.ID = id
	merged.Readonly = false
	cr, err := Compile(merged)
	if err != nil {
		return CompiledRule{}, gwerrors.Invalid(err.Error())
	}

	body, err := MarshalStorable(merged)
	if err != nil {
		return CompiledRule{}, gwerrors.Internalf("%v", err)
	}
	if err := s.kv.Set(ctx, body, append(append([]string{}, keyPrefix...), id)...); err != nil {
		return CompiledRule{}, gwerrors.Internalf("persisting rule: %v", err)
	}

	next := make([]CompiledRule, len(cur))
	copy(next, cur)
	next[idx] = cr
	s.dynamic.Store(&next)
	return cr, nil
}

// Delete removes a dynamic rule from KV then from memory. Static rules are
// rejected (403).
func (s *Store) Delete(ctx context.Context, id string) error {
	if s.kv == nil {
		return gwerrors.Unavailablef("rule persistence is not configured")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.static {
		if r.ID == id {
			return gwerrors.Forbiddenf("rule is read-only")
		}
	}

	cur := *s.dynamic.Load()
	idx := -1
	for i, r := range cur {
		if r.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return gwerrors.NotFoundf("rule not found")
	}

	if err := s.kv.Delete(ctx, append(append([]string{}, keyPrefix...), id)...); err != nil {
		return gwerrors.Internalf("deleting rule: %v", err)
	}

	next := make([]CompiledRule, 0, len(cur)-1)
	next = append(next, cur[:idx]...)
	next = append(next, cur[idx+1:]...)
	s.dynamic.Store(&next)
	return nil
}

func mergeRule(base, partial Rule) Rule {
	out := base
	if partial.Name != "" {
		out.Name = partial.Name
	}
	if partial.Pattern != "" {
		out.Pattern = partial.Pattern
	}
	if partial.Target != "" {
		out.Target = partial.Target
	}
	if partial.Rewrite != "" {
		out.Rewrite = partial.Rewrite
	}
	if partial.WS != nil {
		out.WS = partial.WS
	}
	if partial.Headers != nil {
		out.Headers = partial.Headers
	}
	if partial.Base != "" {
		out.Base = partial.Base
	}
	if partial.Fragment != nil {
		out.Fragment = partial.Fragment
	}
	if partial.ChangeOrigin != nil {
		out.ChangeOrigin = partial.ChangeOrigin
	}
	if partial.Secure != nil {
		out.Secure = partial.Secure
	}
	if partial.RelativePaths != nil {
		out.RelativePaths = partial.RelativePaths
	}
	return out
}

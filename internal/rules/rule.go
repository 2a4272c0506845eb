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

// Package rules holds the reverse-proxy rule store: compiled regex rules
// merged from read-only static configuration and mutable dynamic rules
// persisted in the external KV store.
package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Fragment carries opaque micro-frontend embedding metadata, exposed only
// by the control-plane /fragments endpoint.
type Fragment struct {
	Sandbox          string `json:"sandbox,omitempty"`
	AllowMessageBus  *bool  `json:"allowMessageBus,omitempty"`
	PreloadStyles    bool   `json:"preloadStyles,omitempty"`
}

// Rule is the stored, uncompiled representation of a proxy rule (spec.md §3).
//
// ChangeOrigin, Secure and RelativePaths are *bool, not bool: a partial
// Update must be able to tell "not sent" (nil, leave the existing value
// alone) apart from "sent false" (flip it off), the same reason WS is a
// pointer rather than a plain bool.
type Rule struct {
	ID            string            `json:"id"`
	Name          string            `json:"name,omitempty"`
	Pattern       string            `json:"pattern"`
	Target        string            `json:"target"`
	Rewrite       string            `json:"rewrite,omitempty"`
	ChangeOrigin  *bool             `json:"changeOrigin,omitempty"`
	Secure        *bool             `json:"secure,omitempty"`
	WS            *bool             `json:"ws,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	Base          string            `json:"base,omitempty"`
	RelativePaths *bool             `json:"relativePaths,omitempty"`
	Fragment      *Fragment         `json:"fragment,omitempty"`
	Readonly      bool              `json:"readonly,omitempty"`
}

// WSEnabled returns the effective ws flag, defaulting to true.
func (r Rule) WSEnabled() bool {
	if r.WS == nil {
		return true
	}
	return *r.WS
}

// ChangeOriginEnabled returns the effective changeOrigin flag, defaulting to false.
func (r Rule) ChangeOriginEnabled() bool {
	return r.ChangeOrigin != nil && *r.ChangeOrigin
}

// SecureEnabled returns the effective secure flag, defaulting to false.
func (r Rule) SecureEnabled() bool {
	return r.Secure != nil && *r.Secure
}

// RelativePathsEnabled returns the effective relativePaths flag, defaulting to false.
func (r Rule) RelativePathsEnabled() bool {
	return r.RelativePaths != nil && *r.RelativePaths
}

// CompiledRule is a Rule with its regex pre-compiled and its target resolved
// against the process environment, ready for the hot matching path.
type CompiledRule struct {
	Rule
	Regex          *regexp.Regexp `json:"-"`
	ResolvedTarget string         `json:"resolvedTarget"`
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// resolveEnv substitutes ${VAR} references against the process environment.
// Unresolved names are left as the literal text (spec.md §3 "target").
func resolveEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(m string) string {
		name := envRef.FindStringSubmatch(m)[1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return m
	})
}

// Compile validates and compiles a Rule into a CompiledRule. A rule whose
// pattern fails to compile is rejected here — callers must drop it (log and
// continue), never propagate it into the store (spec.md §4.A).
func Compile(r Rule) (CompiledRule, error) {
	if strings.TrimSpace(r.Pattern) == "" {
		return CompiledRule{}, fmt.Errorf("rule %q: pattern is required", r.ID)
	}
	if strings.TrimSpace(r.Target) == "" {
		return CompiledRule{}, fmt.Errorf("rule %q: target is required", r.ID)
	}
	re, err := regexp.Compile(r.Pattern)
	if err != nil {
		return CompiledRule{}, fmt.Errorf("rule %q: invalid pattern %q: %w", r.ID, r.Pattern, err)
	}
	return CompiledRule{
		Rule:           r,
		Regex:          re,
		ResolvedTarget: strings.TrimRight(resolveEnv(r.Target), "/"),
	}, nil
}

// MarshalStorable renders the Rule for KV persistence (readonly and the
// compiled regex are implementation detail, never stored — spec.md §6 KV
// storage layout).
func MarshalStorable(r Rule) ([]byte, error) {
	r.Readonly = false
	return json.Marshal(r)
}

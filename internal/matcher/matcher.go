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

// Package matcher scans the rule store for the first rule whose pattern
// matches a request path, and renders rewrite templates against capture
// groups.
package matcher

import (
	"strconv"
	"strings"

	"gatewayd/internal/rules"
)

// Matcher is a thin read-only view over a rule store.
type Matcher struct {
	store *rules.Store
}

func New(store *rules.Store) *Matcher {
	return &Matcher{store: store}
}

// Match returns the first rule whose pattern matches pathname, and its
// capture groups (indices 1..n). Static rules are scanned before dynamic
// ones (store.All() already orders them), so a static/dynamic pattern
// collision always resolves to the static rule (spec.md testable
// property 4).
func (m *Matcher) Match(pathname string) (rules.CompiledRule, []string, bool) {
	for _, r := range m.store.All() {
		loc := r.Regex.FindStringSubmatch(pathname)
		if loc == nil {
			continue
		}
		groups := loc[1:]
		return r, groups, true
	}
	return rules.CompiledRule{}, nil, false
}

// Rewrite renders a rewrite template ($1..$n reference capture groups)
// against the given groups. If template is empty, the original path is
// returned unchanged. The result always begins with "/" (spec.md §4.B,
// testable property 5). Regex replace helpers in the standard library
// operate on the *matched* string, not an arbitrary template string with
// numbered placeholders chosen independently of the match — so the
// substitution is done with an explicit loop instead, per spec.md §9
// "Regex with backreferences".
func Rewrite(template string, original string, groups []string) string {
	path := original
	if template != "" {
		path = substituteGroups(template, groups)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

// substituteGroups replaces every $1..$n occurrence in template with the
// corresponding capture group, longest index first so "$10" isn't
// mis-parsed as "$1" followed by a literal "0".
func substituteGroups(template string, groups []string) string {
	var b strings.Builder
	for i := 0; i < len(template); i++ {
		c := template[i]
		if c != '$' || i+1 >= len(template) || template[i+1] < '0' || template[i+1] > '9' {
			b.WriteByte(c)
			continue
		}
		j := i + 1
		for j < len(template) && template[j] >= '0' && template[j] <= '9' {
			j++
		}
		n, err := strconv.Atoi(template[i+1 : j])
		if err != nil || n < 1 || n > len(groups) {
			b.WriteString(template[i:j])
		} else {
			b.WriteString(groups[n-1])
		}
		i = j - 1
	}
	return b.String()
}

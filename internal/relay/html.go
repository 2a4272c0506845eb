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

package relay

import (
	"regexp"
	"strings"

	"gatewayd/internal/rules"
)

// postProcessHTML applies relativePaths rewriting before base injection
// (spec.md §4.C step 7, testable property 6). Plain regex substitution,
// not DOM parsing.
func postProcessHTML(body []byte, rule rules.CompiledRule) []byte {
	s := string(body)
	if rule.RelativePathsEnabled() {
		s = rewriteRelativePaths(s)
	}
	if rule.Base != "" {
		s = injectBase(s, rule.Base)
	}
	return []byte(s)
}

// RE2 (the standard library's regexp engine) has no lookaround assertions,
// so "not followed by another slash" (to preserve protocol-relative "//"
// URLs) is expressed by requiring and recapturing the very next,
// necessarily-non-slash character instead of a negative lookahead.
var (
	srcHrefAbs   = regexp.MustCompile(`(src|href)="/([^/])`)
	inlineQuoted = regexp.MustCompile(`'/([^/])`)
	headTag      = regexp.MustCompile(`<head>`)
)

func rewriteRelativePaths(s string) string {
	s = srcHrefAbs.ReplaceAllString(s, `${1}="./${2}`)
	s = inlineQuoted.ReplaceAllString(s, `'./${1}`)
	return s
}

// injectBase inserts a <base href="..."/> element immediately after the
// first case-sensitive "<head>" occurrence. A trailing slash on base is
// idempotent.
func injectBase(s, base string) string {
	href := base
	if !strings.HasSuffix(href, "/") {
		href += "/"
	}
	loc := headTag.FindStringIndex(s)
	if loc == nil {
		return s
	}
	insertAt := loc[1]
	tag := `<base href="` + href + `" />`
	return s[:insertAt] + tag + s[insertAt:]
}

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
	"testing"

	"gatewayd/internal/rules"
)

func TestPostProcessHTML_RewritesRootAbsolutePaths(t *testing.T) {
	in := `<img src="/logo.png"><a href="/about">About</a>`
	out := string(postProcessHTML([]byte(in), rules.CompiledRule{Rule: rules.Rule{RelativePaths: boolPtr(true)}}))
	want := `<img src="./logo.png"><a href="./about">About</a>`
	if out != want {
		t.Fatalf("got %q want %q", out, want)
	}
}

func TestPostProcessHTML_PreservesProtocolRelativeURLs(t *testing.T) {
	in := `<script src="//cdn.example.com/lib.js"></script>`
	out := string(postProcessHTML([]byte(in), rules.CompiledRule{Rule: rules.Rule{RelativePaths: boolPtr(true)}}))
	if out != in {
		t.Fatalf("expected a protocol-relative URL to be left untouched, got %q", out)
	}
}

func TestPostProcessHTML_InjectsBaseAfterHead(t *testing.T) {
	in := `<html><head><title>t</title></head></html>`
	out := string(postProcessHTML([]byte(in), rules.CompiledRule{Rule: rules.Rule{Base: "/frag"}}))
	want := `<html><head><base href="/frag/" /><title>t</title></head></html>`
	if out != want {
		t.Fatalf("got %q want %q", out, want)
	}
}

func TestPostProcessHTML_BaseWithTrailingSlashIsIdempotent(t *testing.T) {
	in := `<head></head>`
	out := string(postProcessHTML([]byte(in), rules.CompiledRule{Rule: rules.Rule{Base: "/frag/"}}))
	want := `<head><base href="/frag/" /></head>`
	if out != want {
		t.Fatalf("got %q want %q", out, want)
	}
}

func TestPostProcessHTML_NoHeadTagLeavesBodyUnchanged(t *testing.T) {
	in := `<div>no head here</div>`
	out := string(postProcessHTML([]byte(in), rules.CompiledRule{Rule: rules.Rule{Base: "/frag"}}))
	if out != in {
		t.Fatalf("expected body unchanged without a <head> tag, got %q", out)
	}
}

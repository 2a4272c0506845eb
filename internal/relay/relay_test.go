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
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"gatewayd/internal/rules"
)

func TestRelay_ForwardsMethodHeadersAndBody(t *testing.T) {
	var gotMethod, gotPath, gotQuery, gotHeader, gotBody string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotHeader = r.Header.Get("X-Custom")
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	rl := New(nil)
	rule, err := rules.Compile(rules.Rule{ID: "r1", Pattern: "^/api/(.*)$", Target: upstream.URL})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	r := httptest.NewRequest(http.MethodPost, "/api/widgets?x=1", strings.NewReader("payload"))
	r.Header.Set("X-Custom", "value")
	w := httptest.NewRecorder()

	rl.ServeHTTP(w, r, rule, "/widgets")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if gotMethod != http.MethodPost {
		t.Fatalf("expected method forwarded, got %q", gotMethod)
	}
	if gotBody != "payload" {
		t.Fatalf("expected body forwarded, got %q", gotBody)
	}
	if gotPath != "/widgets" {
		t.Fatalf("expected rewritten path forwarded, got %q", gotPath)
	}
	if gotQuery != "x=1" {
		t.Fatalf("expected query string forwarded, got %q", gotQuery)
	}
	if gotHeader != "value" {
		t.Fatalf("expected custom header forwarded, got %q", gotHeader)
	}
}

func TestRelay_ScrubsHopByHopHeaders(t *testing.T) {
	var gotConnection string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotConnection = r.Header.Get("Connection")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	rl := New(nil)
	rule, err := rules.Compile(rules.Rule{ID: "r1", Pattern: "^/(.*)$", Target: upstream.URL})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.Header.Set("Connection", "keep-alive")
	w := httptest.NewRecorder()

	rl.ServeHTTP(w, r, rule, "/x")

	if gotConnection != "" {
		t.Fatalf("expected Connection header to be scrubbed, got %q", gotConnection)
	}
}

func TestRelay_ChangeOriginSetsHostHeader(t *testing.T) {
	var gotHost string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.Host
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	rl := New(nil)
	rule, err := rules.Compile(rules.Rule{ID: "r1", Pattern: "^/(.*)$", Target: upstream.URL, ChangeOrigin: boolPtr(true)})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	w := httptest.NewRecorder()
	rl.ServeHTTP(w, r, rule, "/x")

	if gotHost == "" {
		t.Fatal("expected changeOrigin to set the upstream Host header")
	}
}

func TestRelay_PerRuleHeaderOverride(t *testing.T) {
	var gotHeader string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Rule-Header")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	rl := New(nil)
	rule, err := rules.Compile(rules.Rule{
		ID: "r1", Pattern: "^/(.*)$", Target: upstream.URL,
		Headers: map[string]string{"X-Rule-Header": "injected"},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	w := httptest.NewRecorder()
	rl.ServeHTTP(w, r, rule, "/x")

	if gotHeader != "injected" {
		t.Fatalf("expected per-rule header to be set, got %q", gotHeader)
	}
}

func TestRelay_TransportFailureWritesJSONProxyError(t *testing.T) {
	rl := New(nil)
	rule, err := rules.Compile(rules.Rule{ID: "r1", Pattern: "^/(.*)$", Target: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	w := httptest.NewRecorder()
	rl.ServeHTTP(w, r, rule, "/x")

	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 on a transport failure, got %d", w.Code)
	}
	if w.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("expected a JSON error envelope, got content-type %q", w.Header().Get("Content-Type"))
	}
}

func TestRelay_PostProcessesHTMLWhenBaseConfigured(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("<html><head></head><body>hi</body></html>"))
	}))
	defer upstream.Close()

	rl := New(nil)
	rule, err := rules.Compile(rules.Rule{ID: "r1", Pattern: "^/(.*)$", Target: upstream.URL, Base: "/fragment"})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	w := httptest.NewRecorder()
	rl.ServeHTTP(w, r, rule, "/x")

	if got := w.Body.String(); !strings.Contains(got, `<base href="/fragment/" />`) {
		t.Fatalf("expected a <base> tag injected, got %q", got)
	}
}

func boolPtr(b bool) *bool { return &b }

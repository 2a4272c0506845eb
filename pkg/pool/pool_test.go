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

package pool

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPPool_ForwardRewritesSchemeAndHost(t *testing.T) {
	var gotPath, gotHeader string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		gotHeader = r.Header.Get("X-Forwarded-Test")
		w.WriteHeader(http.StatusTeapot)
	}))
	defer upstream.Close()

	p := NewHTTPPool(nil, map[string]string{"shell-app": upstream.URL})

	req := httptest.NewRequest(http.MethodGet, "http://gateway.internal/shell-app/widgets?x=1", nil)
	req.Header.Set("X-Forwarded-Test", "yes")

	resp, err := p.Forward(context.Background(), "shell-app", nil, req)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusTeapot {
		t.Fatalf("expected upstream status to pass through, got %d", resp.StatusCode)
	}
	if gotPath != "/shell-app/widgets?x=1" {
		t.Fatalf("expected path and query preserved, got %q", gotPath)
	}
	if gotHeader != "yes" {
		t.Fatalf("expected header to be forwarded, got %q", gotHeader)
	}
}

func TestHTTPPool_ForwardUnknownAppReturnsError(t *testing.T) {
	p := NewHTTPPool(nil, map[string]string{})
	req := httptest.NewRequest(http.MethodGet, "http://gateway.internal/unknown/path", nil)

	_, err := p.Forward(context.Background(), "unknown", nil, req)
	if err == nil {
		t.Fatal("expected an error for an unregistered app directory")
	}
}

func TestNewHTTPPool_DropsUnparsableOrigins(t *testing.T) {
	p := NewHTTPPool(nil, map[string]string{
		"bad":  "://not-a-valid-url",
		"good": "http://localhost:9999",
	})
	if _, ok := p.origins["bad"]; ok {
		t.Fatal("expected an unparsable origin URL to be dropped")
	}
	if _, ok := p.origins["good"]; !ok {
		t.Fatal("expected a valid origin URL to be kept")
	}
}

func TestHTTPPool_ForwardDefaultsClientWhenNil(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	}))
	defer upstream.Close()

	p := NewHTTPPool(nil, map[string]string{"app": upstream.URL})
	if p.client != http.DefaultClient {
		t.Fatal("expected NewHTTPPool to default to http.DefaultClient when nil is passed")
	}
}

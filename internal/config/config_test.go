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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault_MatchesDocumentedDefaults(t *testing.T) {
	cfg := Default()
	if cfg.APIBase != "/api" {
		t.Fatalf("expected default apiBase /api, got %q", cfg.APIBase)
	}
	if cfg.RateLimit.Requests != 100 || cfg.RateLimit.Window != "1m" || cfg.RateLimit.KeyBy != "ip" {
		t.Fatalf("unexpected default rate limit: %+v", cfg.RateLimit)
	}
	if cfg.CORS.Origin != "*" {
		t.Fatalf("expected default CORS origin *, got %v", cfg.CORS.Origin)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("expected default listen addr :8080, got %q", cfg.ListenAddr)
	}
}

func TestLoad_NoPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RateLimit.Requests != 100 {
		t.Fatalf("expected defaults preserved with no config file, got %+v", cfg.RateLimit)
	}
}

func TestLoad_YAMLFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	body := "apiBase: /gateway-api\nrateLimit:\n  requests: 50\n  window: 30s\n  keyBy: user\nlistenAddr: \":9090\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIBase != "/gateway-api" {
		t.Fatalf("expected apiBase override, got %q", cfg.APIBase)
	}
	if cfg.RateLimit.Requests != 50 || cfg.RateLimit.Window != "30s" || cfg.RateLimit.KeyBy != "user" {
		t.Fatalf("expected rate limit overrides, got %+v", cfg.RateLimit)
	}
	if cfg.ListenAddr != ":9090" {
		t.Fatalf("expected listenAddr override, got %q", cfg.ListenAddr)
	}
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load should tolerate a missing file, got error: %v", err)
	}
	if cfg.APIBase != "/api" {
		t.Fatalf("expected defaults when the config path does not exist, got %q", cfg.APIBase)
	}
}

func TestLoad_EnvOverridesShellSettings(t *testing.T) {
	t.Setenv("GATEWAY_SHELL_DIR", "/srv/shell")
	t.Setenv("GATEWAY_SHELL_EXCLUDES", "legacy-app,old-portal")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ShellDir != "/srv/shell" {
		t.Fatalf("expected GATEWAY_SHELL_DIR override, got %q", cfg.ShellDir)
	}
	if cfg.ShellExcludes != "legacy-app,old-portal" {
		t.Fatalf("expected GATEWAY_SHELL_EXCLUDES override, got %q", cfg.ShellExcludes)
	}
}

func TestWindowDuration_ParsesUnits(t *testing.T) {
	cases := map[string]time.Duration{
		"30s": 30 * time.Second,
		"5m":  5 * time.Minute,
		"2h":  2 * time.Hour,
		"1d":  24 * time.Hour,
		"":    time.Minute,
		"bad": time.Minute,
	}
	for raw, want := range cases {
		cfg := Config{RateLimit: RateLimit{Window: raw}}
		if got := cfg.WindowDuration(); got != want {
			t.Fatalf("parseWindow(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestShellExcludeList_SplitsAndTrims(t *testing.T) {
	cfg := Config{ShellExcludes: " app-one, app-two ,, app-three"}
	got := cfg.ShellExcludeList()
	want := []string{"app-one", "app-two", "app-three"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestShellExcludeList_EmptyReturnsNil(t *testing.T) {
	cfg := Config{}
	if got := cfg.ShellExcludeList(); got != nil {
		t.Fatalf("expected nil for an empty ShellExcludes, got %v", got)
	}
}

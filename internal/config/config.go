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

// Package config loads the gateway's external interfaces (spec.md §6) via
// knadh/koanf: a YAML file layered under environment-variable overrides for
// the two settings spec.md calls out by name (GATEWAY_SHELL_DIR,
// GATEWAY_SHELL_EXCLUDES).
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"gatewayd/internal/rules"
)

// RateLimit mirrors spec.md §6's rateLimit.* options.
type RateLimit struct {
	Requests     int      `koanf:"requests"`
	Window       string   `koanf:"window"`
	KeyBy        string   `koanf:"keyBy"`
	ExcludePaths []string `koanf:"excludePaths"`
}

// CORS mirrors spec.md §6's cors.* options.
type CORS struct {
	Origin         any      `koanf:"origin"` // "*" | string | []string
	Credentials    bool     `koanf:"credentials"`
	Methods        []string `koanf:"methods"`
	AllowedHeaders []string `koanf:"allowedHeaders"`
	ExposedHeaders []string `koanf:"exposedHeaders"`
	MaxAge         int      `koanf:"maxAge"`
}

// Config is the gateway's full external configuration surface.
type Config struct {
	APIBase       string    `koanf:"apiBase"`
	RateLimit     RateLimit `koanf:"rateLimit"`
	CORS          CORS      `koanf:"cors"`
	ShellDir      string    `koanf:"shellDir"`
	ShellExcludes string    `koanf:"shellExcludes"`
	Rules         []rules.Rule `koanf:"rules"`
	RedisAddr     string    `koanf:"redisAddr"`
	ListenAddr    string    `koanf:"listenAddr"`
}

// Default returns a Config with spec.md §6's documented defaults.
func Default() Config {
	return Config{
		APIBase: "/api",
		RateLimit: RateLimit{
			Requests: 100,
			Window:   "1m",
			KeyBy:    "ip",
		},
		CORS: CORS{
			Origin: "*",
		},
		ListenAddr: ":8080",
	}
}

// Load reads path (if non-empty and present) over the defaults, then
// applies the GATEWAY_SHELL_DIR / GATEWAY_SHELL_EXCLUDES environment
// overrides spec.md names explicitly.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	cfg := Default()

	if err := k.Load(structs.Provider(cfg, "koanf"), nil); err != nil {
		return Config{}, err
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return Config{}, err
			}
		}
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, err
	}

	if v := os.Getenv("GATEWAY_SHELL_DIR"); v != "" {
		cfg.ShellDir = v
	}
	if v := os.Getenv("GATEWAY_SHELL_EXCLUDES"); v != "" {
		cfg.ShellExcludes = v
	}

	return cfg, nil
}

// WindowDuration parses RateLimit.Window ("Nu", u in s|m|h|d) into a
// time.Duration.
func (c Config) WindowDuration() time.Duration {
	return parseWindow(c.RateLimit.Window)
}

func parseWindow(s string) time.Duration {
	if s == "" {
		return time.Minute
	}
	unit := s[len(s)-1]
	numPart := s[:len(s)-1]
	n, err := strconv.Atoi(numPart)
	if err != nil || n <= 0 {
		return time.Minute
	}
	switch unit {
	case 's':
		return time.Duration(n) * time.Second
	case 'm':
		return time.Duration(n) * time.Minute
	case 'h':
		return time.Duration(n) * time.Hour
	case 'd':
		return time.Duration(n) * 24 * time.Hour
	default:
		return time.Minute
	}
}

// ShellExcludeList splits ShellExcludes on commas for callers that need a
// slice rather than the raw env-style string.
func (c Config) ShellExcludeList() []string {
	if c.ShellExcludes == "" {
		return nil
	}
	parts := strings.Split(c.ShellExcludes, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

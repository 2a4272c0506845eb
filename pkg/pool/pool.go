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

// Package pool declares the external worker-pool collaborator the gateway
// forwards shell-owned requests to (spec.md §4.F, §4.K step 1). The
// gateway never starts or supervises shell workers itself — it only holds
// a Pool and calls Forward — so this package is an interface plus a small
// HTTP-backed implementation for the common case of a shell worker that is
// itself just another HTTP origin.
package pool

import (
	"context"
	"errors"
	"net/http"
	"net/url"
)

var errUnknownApp = errors.New("pool: no origin registered for app directory")

// Pool forwards a request to the worker responsible for appDir, passing
// along whatever app-specific configuration the caller associates with it.
type Pool interface {
	Forward(ctx context.Context, appDir string, appConfig any, r *http.Request) (*http.Response, error)
}

// HTTPPool is the common-case Pool: every shell app is reachable at a
// fixed base URL (scheme + host), and Forward rewrites the request's
// target accordingly while keeping its path and query. appConfig is
// unused by HTTPPool but accepted to satisfy Pool.
type HTTPPool struct {
	client  *http.Client
	origins map[string]*url.URL // appDir -> base URL
}

// NewHTTPPool builds an HTTPPool routing each appDir to its base URL.
// Entries whose URL fails to parse are dropped.
func NewHTTPPool(client *http.Client, origins map[string]string) *HTTPPool {
	if client == nil {
		client = http.DefaultClient
	}
	parsed := make(map[string]*url.URL, len(origins))
	for appDir, raw := range origins {
		if u, err := url.Parse(raw); err == nil {
			parsed[appDir] = u
		}
	}
	return &HTTPPool{client: client, origins: parsed}
}

// Forward issues r against the origin registered for appDir, preserving
// method, headers, path, and body.
func (p *HTTPPool) Forward(ctx context.Context, appDir string, _ any, r *http.Request) (*http.Response, error) {
	base, ok := p.origins[appDir]
	if !ok {
		return nil, &url.Error{Op: "Forward", URL: appDir, Err: errUnknownApp}
	}
	u := *r.URL
	u.Scheme = base.Scheme
	u.Host = base.Host

	outReq, err := http.NewRequestWithContext(ctx, r.Method, u.String(), r.Body)
	if err != nil {
		return nil, err
	}
	outReq.Header = r.Header.Clone()
	return p.client.Do(outReq)
}

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

// Package relay executes the upstream HTTP request for a matched rule:
// builds the target URL, scrubs hop-by-hop headers, applies per-rule
// header/origin overrides, and optionally rewrites HTML bodies. Matching
// etalazz-vsa's preference for small, composable collaborators over one
// do-everything client, the relay owns only this one responsibility; the
// rate limiter and rule store are injected elsewhere.
package relay

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"gatewayd/internal/rules"
)

// hopByHop headers are meaningful only to the immediate connection and are
// never forwarded (spec.md §4.C step 2, §6, GLOSSARY).
var hopByHop = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailers", "Transfer-Encoding", "Upgrade",
}

// Relay forwards matched requests to their rule's target.
type Relay struct {
	client *http.Client
}

// New builds a Relay. Per rule.secure the client can be configured with a
// permissive TLS transport by the caller; the default client trusts the
// system root pool.
func New(client *http.Client) *Relay {
	if client == nil {
		client = &http.Client{
			Timeout: 60 * time.Second,
		}
	}
	return &Relay{client: client}
}

// ServeHTTP builds and issues the upstream request for rule, then streams
// (or, for HTML bodies needing post-processing, buffers) the response back
// to w. Transport failures produce a 502 JSON envelope (spec.md §4.C step 8)
// and never touch rate-limit or bucket state.
func (rl *Relay) ServeHTTP(w http.ResponseWriter, r *http.Request, rule rules.CompiledRule, rewrittenPath string) {
	target, err := buildTargetURL(rule.ResolvedTarget, rewrittenPath, r.URL.RawQuery)
	if err != nil {
		writeProxyError(w, err.Error())
		return
	}

	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
	if err != nil {
		writeProxyError(w, err.Error())
		return
	}
	outReq.Header = cloneHeader(r.Header)
	scrubHopByHop(outReq.Header)

	if rule.ChangeOriginEnabled() {
		outReq.Host = target.Host
		outReq.Header.Set("Host", target.Host)
		outReq.Header.Set("Origin", target.Scheme+"://"+target.Host)
	}
	for k, v := range rule.Headers {
		outReq.Header.Set(k, v)
	}

	resp, err := rl.client.Do(outReq)
	if err != nil {
		log.Warn().Err(err).Str("target", target.String()).Msg("upstream relay failed")
		writeProxyError(w, err.Error())
		return
	}
	defer resp.Body.Close()

	scrubResponseHeaders(resp.Header)

	if shouldPostProcess(resp.Header, rule) {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			writeProxyError(w, err.Error())
			return
		}
		body = postProcessHTML(body, rule)
		copyHeader(w.Header(), resp.Header)
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(body)
		return
	}

	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func buildTargetURL(target, path, rawQuery string) (*url.URL, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	u.Path = path
	u.RawQuery = rawQuery
	return u, nil
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func copyHeader(dst, src http.Header) {
	for k, v := range src {
		dst[k] = append([]string(nil), v...)
	}
}

func scrubHopByHop(h http.Header) {
	for _, name := range hopByHop {
		h.Del(name)
	}
}

func scrubResponseHeaders(h http.Header) {
	h.Del("Connection")
	h.Del("Keep-Alive")
	h.Del("Transfer-Encoding")
}

func shouldPostProcess(h http.Header, rule rules.CompiledRule) bool {
	if rule.Base == "" && !rule.RelativePathsEnabled() {
		return false
	}
	return strings.Contains(strings.ToLower(h.Get("Content-Type")), "text/html")
}

func writeProxyError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "Proxy error: " + message})
}


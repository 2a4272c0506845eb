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

// Package gateway wires the rule store, matcher, relays, limiter, shell
// router, and request log into the single request entry point described by
// spec.md §4.K: shell decision, then CORS preflight, then admission, then
// rule dispatch, then response CORS headers.
package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"gatewayd/internal/config"
	"gatewayd/internal/matcher"
	"gatewayd/internal/ratelimit"
	"gatewayd/internal/relay"
	"gatewayd/internal/reqlog"
	"gatewayd/internal/rules"
	"gatewayd/internal/shell"
	"gatewayd/internal/wsrelay"
	"gatewayd/pkg/pool"
)

// Gateway composes every collaborator behind ServeHTTP.
type Gateway struct {
	cfg     config.Config
	shell   *shell.Router
	limiter *ratelimit.Limiter
	matcher *matcher.Matcher
	relay   *relay.Relay
	wsrelay *wsrelay.Relay
	log     *reqlog.Log
	pool    pool.Pool
}

// New builds a Gateway from its collaborators. pool may be nil if no shell
// directory is configured.
func New(cfg config.Config, shellRouter *shell.Router, limiter *ratelimit.Limiter, ruleStore *rules.Store, requestLog *reqlog.Log, p pool.Pool) *Gateway {
	return &Gateway{
		cfg:     cfg,
		shell:   shellRouter,
		limiter: limiter,
		matcher: matcher.New(ruleStore),
		relay:   relay.New(nil),
		wsrelay: wsrelay.New(),
		log:     requestLog,
		pool:    p,
	}
}

// ServeHTTP implements the ordering in spec.md §4.K. It returns false when
// no rule matched and nothing was handled, signaling the caller framework
// should fall through to its own routing.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) bool {
	start := time.Now()

	// 1. Shell decision.
	if g.shell != nil && g.shell.Owns(r) {
		g.forwardToShell(w, r)
		return true
	}

	// 2. CORS preflight.
	if isPreflight(r) {
		applyPreflight(w, g.cfg.CORS, r)
		return true
	}

	// 3. Rate limit.
	if g.limiter != nil && !g.limiter.Excluded(r.URL.Path) {
		key := g.limiter.Key(r)
		result := g.limiter.IsAllowed(key)
		if !result.Allowed {
			g.writeRateLimited(w, r, result, start)
			return true
		}
		r = cloneWithHeader(r, "X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
	}

	// 4. Rule dispatch.
	rule, groups, matched := g.matcher.Match(r.URL.Path)
	if !matched {
		return false
	}
	rewritten := matcher.Rewrite(rule.Rewrite, r.URL.Path, groups)

	rec := &statusRecorder{ResponseWriter: w}
	if wsrelay.IsUpgrade(r) && rule.WSEnabled() {
		if err := g.wsrelay.Serve(rec, r, rule, rewritten); err != nil {
			log.Warn().Err(err).Str("path", r.URL.Path).Msg("websocket relay failed")
		}
	} else {
		corsWriter := &corsResponseWriter{ResponseWriter: rec, cfg: g.cfg.CORS, r: r}
		g.relay.ServeHTTP(corsWriter, r, rule, rewritten)
	}

	g.logEntry(r, rec.Status(), false, start)
	return true
}

func (g *Gateway) forwardToShell(w http.ResponseWriter, r *http.Request) {
	if g.pool == nil {
		http.Error(w, "shell worker pool not configured", http.StatusBadGateway)
		return
	}
	cloned := r.Clone(r.Context())
	cloned.Header.Set("X-Base", "/")
	resp, err := g.pool.Forward(r.Context(), g.shell.Dir(), nil, cloned)
	if err != nil {
		http.Error(w, "shell worker unavailable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()
	for k, v := range resp.Header {
		w.Header()[k] = v
	}
	w.WriteHeader(resp.StatusCode)
	buf := make([]byte, 32*1024)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			_, _ = w.Write(buf[:n])
		}
		if err != nil {
			break
		}
	}
}

func (g *Gateway) writeRateLimited(w http.ResponseWriter, r *http.Request, result ratelimit.Result, start time.Time) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(g.limiter.RequestsLimit()))
	w.Header().Set("X-RateLimit-Remaining", "0")
	w.Header().Set("X-RateLimit-Reset", strconv.Itoa(result.RetryAfter))
	w.WriteHeader(http.StatusTooManyRequests)
	g.logEntry(r, http.StatusTooManyRequests, true, start)
}

func (g *Gateway) logEntry(r *http.Request, status int, rateLimited bool, start time.Time) {
	if g.log == nil {
		return
	}
	g.log.Append(reqlog.Entry{
		IP:          requestIP(r),
		Method:      r.Method,
		Path:        r.URL.Path,
		Status:      status,
		DurationMS:  time.Since(start).Milliseconds(),
		RateLimited: rateLimited,
	})
}

func requestIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	return r.RemoteAddr
}

func cloneWithHeader(r *http.Request, key, value string) *http.Request {
	cloned := r.Clone(r.Context())
	cloned.Header.Set(key, value)
	return cloned
}

// corsResponseWriter adds response-side CORS headers the moment the
// upstream status line is written, without altering status or body
// (spec.md §4.K step 5).
type corsResponseWriter struct {
	http.ResponseWriter
	cfg   config.CORS
	r     *http.Request
	wrote bool
}

func (c *corsResponseWriter) WriteHeader(status int) {
	if !c.wrote {
		applyResponseCORS(c.ResponseWriter, c.cfg, c.r)
		c.wrote = true
	}
	c.ResponseWriter.WriteHeader(status)
}

func (c *corsResponseWriter) Write(b []byte) (int, error) {
	if !c.wrote {
		applyResponseCORS(c.ResponseWriter, c.cfg, c.r)
		c.wrote = true
	}
	return c.ResponseWriter.Write(b)
}

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

// Package api mounts the control-plane router described by spec.md §4.J,
// following the go-chi routing + zerolog logging idiom of
// skywalker-88/stormgate's internal/httpserver router.
package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"gatewayd/internal/config"
	"gatewayd/internal/gwerrors"
	"gatewayd/internal/ratelimit"
	"gatewayd/internal/reqlog"
	"gatewayd/internal/rules"
	"gatewayd/internal/shell"
	"gatewayd/internal/snapshot"
	"gatewayd/internal/kv"
)

// API owns the control-plane handlers and their collaborators.
type API struct {
	cfg     config.Config
	limiter *ratelimit.Limiter
	shell   *shell.Router
	rules   *rules.Store
	log     *reqlog.Log
	store   kv.Store
}

// New builds an API. limiter and shellRouter may be nil to reflect a
// disabled feature; their handlers then respond with gwerrors.Unavailable.
// A nil requestLog yields empty log results and stats, and a nil store an
// empty metrics history. ruleStore is used unchecked and must be non-nil.
func New(cfg config.Config, limiter *ratelimit.Limiter, shellRouter *shell.Router, ruleStore *rules.Store, requestLog *reqlog.Log, store kv.Store) *API {
	return &API{cfg: cfg, limiter: limiter, shell: shellRouter, rules: ruleStore, log: requestLog, store: store}
}

// Mount builds the chi router. Its routes are relative to the API base path;
// the caller mounts the handler under that path and strips the prefix.
func (a *API) Mount() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer)

	r.Get("/sse", a.handleSSE)
	r.Get("/stats", a.handleStats)
	r.Get("/config", a.handleConfig)

	r.Get("/rate-limit/metrics", a.handleRateLimitMetrics)
	r.Get("/rate-limit/buckets", a.handleRateLimitBuckets)
	r.Delete("/rate-limit/buckets/{key}", a.handleRateLimitClearBucket)
	r.Post("/rate-limit/clear", a.handleRateLimitClearAll)

	if a.limiter != nil {
		r.Handle("/metrics", promhttp.HandlerFor(a.limiter.Registry(), promhttp.HandlerOpts{}))
	}

	r.Get("/metrics/history", a.handleMetricsHistory)
	r.Delete("/metrics/history", a.handleMetricsHistoryClear)

	r.Get("/shell/excludes", a.handleShellExcludesGet)
	r.Post("/shell/excludes", a.handleShellExcludesAdd)
	r.Delete("/shell/excludes/{basename}", a.handleShellExcludesRemove)

	r.Get("/logs", a.handleLogs)
	r.Delete("/logs", a.handleLogsClear)
	r.Get("/logs/stats", a.handleLogsStats)

	r.Get("/rules", a.handleRulesList)
	r.Get("/rules/{id}", a.handleRulesGet)
	r.Post("/rules", a.handleRulesCreate)
	r.Put("/rules/{id}", a.handleRulesUpdate)
	r.Delete("/rules/{id}", a.handleRulesDelete)

	r.Get("/fragments", a.handleFragments)

	return r
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	ge := gwerrors.As(err)
	log.Warn().Err(err).Int("status", ge.Status()).Msg("control-plane error")
	writeJSON(w, ge.Status(), map[string]string{"error": ge.Message})
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func (a *API) handleConfig(w http.ResponseWriter, r *http.Request) {
	shellEnvExcludes := []string{}
	if a.shell != nil {
		for _, e := range a.shell.Excludes() {
			if e.Source == "env" {
				shellEnvExcludes = append(shellEnvExcludes, e.Basename)
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rateLimit": a.cfg.RateLimit,
		"cors":      a.cfg.CORS,
		"shell": map[string]any{
			"envExcludes": shellEnvExcludes,
		},
	})
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"cors": a.cfg.CORS,
	}
	if a.limiter != nil {
		out["rateLimit"] = map[string]any{
			"metrics": a.limiter.GetMetrics(),
			"config":  a.cfg.RateLimit,
		}
	}
	if a.shell != nil {
		out["shell"] = map[string]any{
			"enabled":       a.shell.Enabled(),
			"dir":           a.shell.Dir(),
			"excludesCount": len(a.shell.Excludes()),
		}
	}
	if a.log != nil {
		out["logs"] = a.log.GetStats()
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleRateLimitMetrics(w http.ResponseWriter, r *http.Request) {
	if a.limiter == nil {
		writeError(w, gwerrors.Unavailablef("rate limiter is disabled"))
		return
	}
	writeJSON(w, http.StatusOK, a.limiter.GetMetrics())
}

func (a *API) handleRateLimitBuckets(w http.ResponseWriter, r *http.Request) {
	if a.limiter == nil {
		writeError(w, gwerrors.Unavailablef("rate limiter is disabled"))
		return
	}
	limit := queryInt(r, "limit", 0)
	writeJSON(w, http.StatusOK, a.limiter.GetActiveBuckets(limit))
}

func (a *API) handleRateLimitClearBucket(w http.ResponseWriter, r *http.Request) {
	if a.limiter == nil {
		writeError(w, gwerrors.Unavailablef("rate limiter is disabled"))
		return
	}
	key, _ := url.QueryUnescape(chi.URLParam(r, "key"))
	deleted := a.limiter.ClearBucket(key)
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted, "key": key})
}

func (a *API) handleRateLimitClearAll(w http.ResponseWriter, r *http.Request) {
	if a.limiter == nil {
		writeError(w, gwerrors.Unavailablef("rate limiter is disabled"))
		return
	}
	n := a.limiter.ClearAllBuckets()
	writeJSON(w, http.StatusOK, map[string]any{"cleared": n})
}

func (a *API) handleMetricsHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 0)
	history, err := snapshot.GetHistory(r.Context(), a.store, limit)
	if err != nil {
		writeError(w, gwerrors.Internalf("%v", err))
		return
	}
	if history == nil {
		history = []snapshot.Snapshot{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (a *API) handleMetricsHistoryClear(w http.ResponseWriter, r *http.Request) {
	if err := snapshot.ClearHistory(r.Context(), a.store); err != nil {
		writeError(w, gwerrors.Internalf("%v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

func (a *API) handleShellExcludesGet(w http.ResponseWriter, r *http.Request) {
	if a.shell == nil || !a.shell.Enabled() {
		writeError(w, gwerrors.Unavailablef("shell is not configured"))
		return
	}
	writeJSON(w, http.StatusOK, a.shell.Excludes())
}

func (a *API) handleShellExcludesAdd(w http.ResponseWriter, r *http.Request) {
	if a.shell == nil || !a.shell.Enabled() {
		writeError(w, gwerrors.Unavailablef("shell is not configured"))
		return
	}
	var body struct {
		Basename string `json:"basename"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, gwerrors.Invalid("invalid request body"))
		return
	}
	added, err := a.shell.AddExclude(r.Context(), body.Basename)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"added": added, "basename": body.Basename, "source": "keyval"})
}

func (a *API) handleShellExcludesRemove(w http.ResponseWriter, r *http.Request) {
	if a.shell == nil || !a.shell.Enabled() {
		writeError(w, gwerrors.Unavailablef("shell is not configured"))
		return
	}
	basename := chi.URLParam(r, "basename")
	removed, err := a.shell.RemoveExclude(r.Context(), basename)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed, "basename": basename})
}

func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	if a.log == nil {
		writeJSON(w, http.StatusOK, []reqlog.Entry{})
		return
	}
	opts := reqlog.FilterOptions{
		IP:    r.URL.Query().Get("ip"),
		Limit: queryInt(r, "limit", 0),
	}
	if v := r.URL.Query().Get("status"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Status = n
			opts.HasStatus = true
		}
	}
	if v := r.URL.Query().Get("statusRange"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.StatusRange = n
			opts.HasRange = true
		}
	}
	if v := r.URL.Query().Get("rateLimited"); v != "" {
		b := v == "true"
		opts.RateLimited = &b
	}
	writeJSON(w, http.StatusOK, a.log.Filter(opts))
}

func (a *API) handleLogsClear(w http.ResponseWriter, r *http.Request) {
	if a.log != nil {
		a.log.Clear()
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

func (a *API) handleLogsStats(w http.ResponseWriter, r *http.Request) {
	if a.log == nil {
		writeJSON(w, http.StatusOK, reqlog.Stats{ByStatus: map[string]int{}})
		return
	}
	writeJSON(w, http.StatusOK, a.log.GetStats())
}

func (a *API) handleRulesList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.rules.All())
}

func (a *API) handleRulesGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rule, ok := a.rules.Get(id)
	if !ok {
		writeError(w, gwerrors.NotFoundf("rule %q not found", id))
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (a *API) handleRulesCreate(w http.ResponseWriter, r *http.Request) {
	var body rules.Rule
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, gwerrors.Invalid("invalid request body"))
		return
	}
	cr, err := a.rules.Create(r.Context(), body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cr)
}

func (a *API) handleRulesUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body rules.Rule
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, gwerrors.Invalid("invalid request body"))
		return
	}
	cr, err := a.rules.Update(r.Context(), id, body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cr)
}

func (a *API) handleRulesDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.rules.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (a *API) handleFragments(w http.ResponseWriter, r *http.Request) {
	var out []map[string]any
	for _, cr := range a.rules.All() {
		if cr.Fragment == nil {
			continue
		}
		sandbox := cr.Fragment.Sandbox
		if sandbox == "" {
			sandbox = "patch"
		}
		allowBus := true
		if cr.Fragment.AllowMessageBus != nil {
			allowBus = *cr.Fragment.AllowMessageBus
		}
		out = append(out, map[string]any{
			"id":              cr.ID,
			"name":            cr.Name,
			"pattern":         cr.Pattern,
			"origin":          cr.ResolvedTarget,
			"base":            cr.Base,
			"sandbox":         sandbox,
			"allowMessageBus": allowBus,
			"preloadStyles":   cr.Fragment.PreloadStyles,
		})
	}
	if out == nil {
		out = []map[string]any{}
	}
	writeJSON(w, http.StatusOK, out)
}

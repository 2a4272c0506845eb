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

package gateway

import (
	"net/http"

	"github.com/go-chi/cors"

	"gatewayd/internal/config"
)

// newCors builds a go-chi/cors handler from cfg. cfg.Origin is "*", a single
// string, or a list (spec.md §4.K step 2/5: "wildcard for *, origin echo for
// list mode"); a bare wildcard combined with credentials is reflected back as
// the request's own origin instead of a literal "*", since browsers reject
// that combination outright, mirroring the AllowOriginFunc workaround other
// chi-routed APIs in the pack use for the same edge case.
func newCors(cfg config.CORS) *cors.Cors {
	opts := cors.Options{
		AllowCredentials: cfg.Credentials,
		AllowedMethods:   cfg.Methods,
		AllowedHeaders:   cfg.AllowedHeaders,
		ExposedHeaders:   cfg.ExposedHeaders,
		MaxAge:           cfg.MaxAge,
	}
	origins := originList(cfg.Origin)
	if cfg.Credentials && len(origins) == 1 && origins[0] == "*" {
		opts.AllowOriginFunc = func(r *http.Request, origin string) bool { return true }
	} else {
		opts.AllowedOrigins = origins
	}
	return cors.New(opts)
}

func originList(origin any) []string {
	switch v := origin.(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, o := range v {
			if s, ok := o.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// applyPreflight writes a 204 preflight response per spec.md §4.K step 2.
// go-chi/cors's HandlerFunc computes and sets the Access-Control-Allow-*
// headers for the preflight case without writing a status itself, leaving
// the exact 204 the spec requires to us (the library's own default success
// status is 200).
func applyPreflight(w http.ResponseWriter, cfg config.CORS, r *http.Request) {
	newCors(cfg).HandlerFunc(w, r)
	w.WriteHeader(http.StatusNoContent)
}

// applyResponseCORS adds the response-side CORS headers (spec.md §4.K
// step 5) without touching status or body.
func applyResponseCORS(w http.ResponseWriter, cfg config.CORS, r *http.Request) {
	newCors(cfg).HandlerFunc(w, r)
}

func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
}

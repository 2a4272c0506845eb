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

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"gatewayd/internal/reqlog"
)

// sseInterval is the frame cadence (spec.md §4.J "every SSE_INTERVAL
// default 1s").
const sseInterval = time.Second

type ssePayload struct {
	Timestamp  time.Time `json:"timestamp"`
	RateLimit  any       `json:"rateLimit"`
	CORS       any       `json:"cors"`
	Shell      any       `json:"shell"`
	RecentLogs any       `json:"recentLogs"`
}

// handleSSE streams one JSON frame per tick until the client disconnects
// (spec.md §4.J "GET /api/sse").
func (a *API) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(sseInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			payload := a.ssePayload()
			body, err := json.Marshal(payload)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", body); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (a *API) ssePayload() ssePayload {
	p := ssePayload{Timestamp: time.Now()}
	p.CORS = a.cfg.CORS

	if a.limiter != nil {
		p.RateLimit = map[string]any{
			"metrics": a.limiter.GetMetrics(),
			"config":  a.cfg.RateLimit,
		}
	}
	if a.shell != nil {
		excludes := a.shell.Excludes()
		names := make([]string, 0, len(excludes))
		for _, e := range excludes {
			names = append(names, e.Basename)
		}
		p.Shell = map[string]any{
			"enabled":  a.shell.Enabled(),
			"dir":      a.shell.Dir(),
			"excludes": names,
		}
	}
	if a.log != nil {
		p.RecentLogs = a.log.GetRecent(10)
	} else {
		p.RecentLogs = []reqlog.Entry{}
	}
	return p
}

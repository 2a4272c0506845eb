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

// Package snapshot periodically samples the limiter's aggregate counters
// and appends them to the KV store (spec.md §4.H), the same
// ticker-driven-commit shape as etalazz-vsa's core.Worker.commitLoop, but
// with nothing to threshold on: every tick is an unconditional append.
package snapshot

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"gatewayd/internal/kv"
	"gatewayd/internal/ratelimit"
)

// MaxHistory bounds the persisted snapshot list (spec.md §3 "Metrics
// Snapshot").
const MaxHistory = 3600

var historyKey = []string{"gateway", "metrics", "history"}

// Snapshot is one sampled point, per spec.md's Metrics Snapshot data model.
type Snapshot struct {
	Timestamp       time.Time `json:"timestamp"`
	TotalRequests   int64     `json:"totalRequests"`
	AllowedRequests int64     `json:"allowedRequests"`
	BlockedRequests int64     `json:"blockedRequests"`
	ActiveBuckets   int       `json:"activeBuckets"`
}

// Snapshotter owns the background ticker.
type Snapshotter struct {
	limiter  *ratelimit.Limiter
	store    kv.Store
	interval time.Duration
	stopChan chan struct{}
	wg       sync.WaitGroup
	stopped  uint32
}

// New builds a Snapshotter. interval <= 0 defaults to 1 second
// (SNAPSHOT_INTERVAL_MS in spec.md §4.H).
func New(limiter *ratelimit.Limiter, store kv.Store, interval time.Duration) *Snapshotter {
	if interval <= 0 {
		interval = time.Second
	}
	return &Snapshotter{
		limiter:  limiter,
		store:    store,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start launches the sampling goroutine.
func (s *Snapshotter) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
}

// Stop disarms the ticker and blocks until the goroutine exits.
func (s *Snapshotter) Stop() {
	if !atomic.CompareAndSwapUint32(&s.stopped, 0, 1) {
		return
	}
	close(s.stopChan)
	s.wg.Wait()
}

func (s *Snapshotter) loop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Snapshotter) tick() {
	if s.store == nil {
		return
	}
	m := s.limiter.GetMetrics()
	snap := Snapshot{
		Timestamp:       time.Now(),
		TotalRequests:   m.TotalRequests,
		AllowedRequests: m.AllowedRequests,
		BlockedRequests: m.BlockedRequests,
		ActiveBuckets:   m.ActiveBuckets,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := appendSnapshot(ctx, s.store, snap); err != nil {
		log.Warn().Err(err).Msg("failed to persist metrics snapshot")
	}
}

func appendSnapshot(ctx context.Context, store kv.Store, snap Snapshot) error {
	history, err := loadHistory(ctx, store)
	if err != nil {
		return err
	}
	history = append(history, snap)
	if len(history) > MaxHistory {
		history = history[len(history)-MaxHistory:]
	}
	body, err := json.Marshal(history)
	if err != nil {
		return err
	}
	return store.Set(ctx, body, historyKey...)
}

func loadHistory(ctx context.Context, store kv.Store) ([]Snapshot, error) {
	raw, ok, err := store.Get(ctx, historyKey...)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var history []Snapshot
	if err := json.Unmarshal(raw, &history); err != nil {
		return nil, nil
	}
	return history, nil
}

// GetHistory returns the most recent limit snapshots, newest first. limit
// <= 0 returns the whole bounded history.
func GetHistory(ctx context.Context, store kv.Store, limit int) ([]Snapshot, error) {
	if store == nil {
		return nil, nil
	}
	history, err := loadHistory(ctx, store)
	if err != nil {
		return nil, err
	}
	out := make([]Snapshot, len(history))
	for i, s := range history {
		out[len(history)-1-i] = s
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ClearHistory empties the persisted snapshot list.
func ClearHistory(ctx context.Context, store kv.Store) error {
	if store == nil {
		return nil
	}
	return store.Delete(ctx, historyKey...)
}

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

package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Worker periodically sweeps a Limiter's buckets and evicts the ones that
// are both full and idle, mirroring the shape of etalazz-vsa's
// core.Worker.evictionLoop — a ticker-driven goroutine, Stop guarded by an
// atomic flag so it runs once, torn down with a WaitGroup. There is no commit lane
// here: a token bucket is never persisted, so the worker only ever evicts.
type Worker struct {
	limiter    *Limiter
	idleAfter  time.Duration
	sweepEvery time.Duration
	stopChan   chan struct{}
	wg         sync.WaitGroup
	stopped    uint32
}

// NewWorker builds a cleanup Worker for limiter. sweepEvery is how often the
// store is scanned; idleAfter is how long a fully-refilled bucket must sit
// untouched before it's evicted (spec.md §4.E "startCleanup").
func NewWorker(limiter *Limiter, sweepEvery, idleAfter time.Duration) *Worker {
	return &Worker{
		limiter:    limiter,
		idleAfter:  idleAfter,
		sweepEvery: sweepEvery,
		stopChan:   make(chan struct{}),
	}
}

// Start launches the background sweep goroutine.
func (w *Worker) Start() {
	log.Info().Dur("interval", w.sweepEvery).Msg("starting rate limit cleanup worker")
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.sweepLoop()
	}()
}

// Stop gracefully stops the worker, blocking until the sweep goroutine has
// exited. Safe to call more than once.
func (w *Worker) Stop() {
	if !atomic.CompareAndSwapUint32(&w.stopped, 0, 1) {
		return
	}
	close(w.stopChan)
	w.wg.Wait()
}

func (w *Worker) sweepLoop() {
	ticker := time.NewTicker(w.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

func (w *Worker) sweep() {
	now := time.Now()
	var stale []string
	w.limiter.store.forEach(func(key string, b *bucket) {
		if b.atCapacityAndIdle(now, w.idleAfter) {
			stale = append(stale, key)
		}
	})
	for _, key := range stale {
		w.limiter.store.delete(key)
	}
	if len(stale) > 0 {
		log.Debug().Int("evicted", len(stale)).Msg("rate limit buckets evicted")
	}
}

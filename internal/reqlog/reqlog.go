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

// Package reqlog is a bounded ring buffer of recent request observations
// (spec.md §4.G), shaped after etalazz-vsa's in-memory Store
// (internal/ratelimiter/core/store.go): a mutex-guarded slice instead of a
// sync.Map, since the log is append-mostly and read by range rather than
// by key lookup.
package reqlog

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"strconv"
	"sync"
	"time"
)

// Entry is one immutable request observation.
type Entry struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	IP          string    `json:"ip"`
	Method      string    `json:"method"`
	Path        string    `json:"path"`
	Status      int       `json:"status"`
	DurationMS  int64     `json:"duration"`
	RateLimited bool      `json:"rateLimited"`
}

// Log is a fixed-capacity ring buffer of Entry, newest appended at the
// back, oldest trimmed from the front on overflow.
type Log struct {
	mu      sync.Mutex
	maxSize int
	buffer  []Entry
}

// New builds a Log with the given capacity. maxSize <= 0 defaults to 100
// per spec.md's Request Log Entry data model.
func New(maxSize int) *Log {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &Log{maxSize: maxSize}
}

// Append records entry, assigning it an id and timestamp, and trims the
// oldest entry if the buffer is at capacity.
func (l *Log) Append(e Entry) Entry {
	e.ID = newID()
	e.Timestamp = time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.buffer = append(l.buffer, e)
	if len(l.buffer) > l.maxSize {
		l.buffer = l.buffer[len(l.buffer)-l.maxSize:]
	}
	return e
}

// Clear empties the buffer.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buffer = nil
}

// GetRecent returns the last n entries, newest first. n <= 0 returns all.
func (l *Log) GetRecent(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := reversed(l.buffer)
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// FilterOptions narrows a Filter query (spec.md §4.G).
type FilterOptions struct {
	IP          string
	PathPattern string
	Status      int  // 0 means unset
	HasStatus   bool
	StatusRange int // d => d*100..d*100+99; 0 means unset
	HasRange    bool
	RateLimited *bool
	Limit       int
}

// Filter returns entries matching opts, newest first, with Limit applied
// last.
func (l *Log) Filter(opts FilterOptions) []Entry {
	l.mu.Lock()
	snapshot := reversed(l.buffer)
	l.mu.Unlock()

	var pathRe *regexp.Regexp
	if opts.PathPattern != "" {
		if re, err := regexp.Compile(opts.PathPattern); err == nil {
			pathRe = re
		}
	}

	out := make([]Entry, 0, len(snapshot))
	for _, e := range snapshot {
		if opts.IP != "" && e.IP != opts.IP {
			continue
		}
		if pathRe != nil && !pathRe.MatchString(e.Path) {
			continue
		}
		if opts.HasStatus && e.Status != opts.Status {
			continue
		}
		if opts.HasRange {
			low := opts.StatusRange * 100
			high := low + 99
			if e.Status < low || e.Status > high {
				continue
			}
		}
		if opts.RateLimited != nil && e.RateLimited != *opts.RateLimited {
			continue
		}
		out = append(out, e)
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

// Stats is the aggregate summary returned by GetStats.
type Stats struct {
	Total         int            `json:"total"`
	RateLimited   int            `json:"rateLimited"`
	ByStatus      map[string]int `json:"byStatus"`
	AvgDurationMS float64        `json:"avgDurationMs"`
}

// GetStats computes total, rate-limited count, per-status-class counts,
// and average duration (spec.md §4.G).
func (l *Log) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := Stats{ByStatus: map[string]int{}}
	var totalDuration int64
	for _, e := range l.buffer {
		stats.Total++
		if e.RateLimited {
			stats.RateLimited++
		}
		class := strconv.Itoa(e.Status/100) + "xx"
		stats.ByStatus[class]++
		totalDuration += e.DurationMS
	}
	if stats.Total > 0 {
		stats.AvgDurationMS = float64(totalDuration) / float64(stats.Total)
	}
	return stats
}

// reversed returns buf newest-first. Entries are appended in arrival
// order, so a plain reverse preserves the newest-first contract including
// ties (spec.md §5 "concurrent inserts may tie on timestamp, disambiguated
// by id" — id encodes arrival order via its millisecond prefix).
func reversed(buf []Entry) []Entry {
	out := make([]Entry, len(buf))
	for i, e := range buf {
		out[len(buf)-1-i] = e
	}
	return out
}

func newID() string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return strconv.FormatInt(time.Now().UnixMilli(), 10) + "-" + hex.EncodeToString(b[:])
}

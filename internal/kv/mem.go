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

package kv

import (
	"context"
	"strings"
	"sync"
)

// Mem is an in-process Store backed by a guarded map. Useful for tests and
// for running the gateway without an external KV configured (dynamic rules
// and metrics history simply don't survive a restart).
type Mem struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMem() *Mem { return &Mem{data: make(map[string][]byte)} }

func (m *Mem) Get(_ context.Context, key ...string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[Join(key...)]
	return v, ok, nil
}

func (m *Mem) Set(_ context.Context, value []byte, key ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string][]byte)
	}
	m.data[Join(key...)] = value
	return nil
}

func (m *Mem) Delete(_ context.Context, key ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, Join(key...))
	return nil
}

func (m *Mem) List(_ context.Context, prefix ...string) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := Join(prefix...) + ":"
	out := make(map[string][]byte)
	for k, v := range m.data {
		if strings.HasPrefix(k+":", p) || strings.HasPrefix(k, p) {
			out[k] = v
		}
	}
	return out, nil
}

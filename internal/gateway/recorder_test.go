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
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStatusRecorder_CapturesExplicitWriteHeader(t *testing.T) {
	w := httptest.NewRecorder()
	rec := &statusRecorder{ResponseWriter: w}
	rec.WriteHeader(http.StatusAccepted)

	if rec.Status() != http.StatusAccepted {
		t.Fatalf("expected captured status 202, got %d", rec.Status())
	}
}

func TestStatusRecorder_WriteWithoutHeaderDefaultsTo200(t *testing.T) {
	w := httptest.NewRecorder()
	rec := &statusRecorder{ResponseWriter: w}
	if _, err := rec.Write([]byte("hi")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if rec.Status() != http.StatusOK {
		t.Fatalf("expected default status 200 on bare Write, got %d", rec.Status())
	}
}

func TestStatusRecorder_StatusDefaultsTo200BeforeAnyWrite(t *testing.T) {
	w := httptest.NewRecorder()
	rec := &statusRecorder{ResponseWriter: w}
	if rec.Status() != http.StatusOK {
		t.Fatalf("expected default status 200 before any write, got %d", rec.Status())
	}
}

// hijackableWriter is a minimal http.ResponseWriter + http.Hijacker test
// double, since httptest.NewRecorder does not implement Hijacker.
type hijackableWriter struct {
	http.ResponseWriter
	hijacked bool
}

func (h *hijackableWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	return nil, nil, nil
}

func TestStatusRecorder_HijackForwardsToUnderlyingHijacker(t *testing.T) {
	base := &hijackableWriter{ResponseWriter: httptest.NewRecorder()}
	rec := &statusRecorder{ResponseWriter: base}

	if _, _, err := rec.Hijack(); err != nil {
		t.Fatalf("Hijack: %v", err)
	}
	if !base.hijacked {
		t.Fatal("expected Hijack to forward to the underlying ResponseWriter")
	}
}

func TestStatusRecorder_HijackErrorsWhenUnsupported(t *testing.T) {
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rec.Hijack(); err == nil {
		t.Fatal("expected an error when the underlying ResponseWriter doesn't support hijacking")
	}
}

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

// Package gwerrors is the single error taxonomy for the gateway. Every
// control-plane handler and pipeline stage returns one of these so that
// responses funnel through one injection point instead of ad-hoc status
// codes scattered across handlers.
package gwerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a gateway error by its externally observable shape.
type Kind int

const (
	// InternalError is any otherwise-uncaught failure; maps to 500.
	InternalError Kind = iota
	// InvalidInput covers malformed request bodies, bad regex patterns,
	// invalid basenames; maps to 400.
	InvalidInput
	// Forbidden covers mutation attempts on read-only (static) state;
	// maps to 403.
	Forbidden
	// NotFound covers lookups by id that don't resolve; maps to 404.
	NotFound
	// Unavailable covers disabled features (no limiter, no shell, no KV);
	// maps to 400, matching the control-plane's own convention.
	Unavailable
	// UpstreamTransport covers HTTP relay transport failures; maps to 502.
	UpstreamTransport
	// WebSocketUpgrade covers upgrade failures or a missing server handle;
	// maps to 500.
	WebSocketUpgrade
	// RateLimited covers admission denial; maps to 429.
	RateLimited
)

// Error is a typed, HTTP-status-bearing error.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

// Status returns the HTTP status code associated with the error's Kind.
func (e *Error) Status() int { return statusFor(e.Kind) }

func statusFor(k Kind) int {
	switch k {
	case InvalidInput, Unavailable:
		return http.StatusBadRequest
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case UpstreamTransport:
		return http.StatusBadGateway
	case WebSocketUpgrade, InternalError:
		return http.StatusInternalServerError
	case RateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func New(kind Kind, msg string) *Error { return &Error{Kind: kind, Message: msg} }

func Invalid(msg string) *Error { return New(InvalidInput, msg) }

func Invalidf(format string, args ...any) *Error {
	return New(InvalidInput, fmt.Sprintf(format, args...))
}

func Forbiddenf(format string, args ...any) *Error {
	return New(Forbidden, fmt.Sprintf(format, args...))
}
func NotFoundf(format string, args ...any) *Error {
	return New(NotFound, fmt.Sprintf(format, args...))
}
func Unavailablef(format string, args ...any) *Error {
	return New(Unavailable, fmt.Sprintf(format, args...))
}
func UpstreamTransportf(format string, args ...any) *Error {
	return New(UpstreamTransport, fmt.Sprintf(format, args...))
}
func Internalf(format string, args ...any) *Error {
	return New(InternalError, fmt.Sprintf(format, args...))
}

// As extracts a *Error from err, falling back to a generic InternalError
// wrapping err's message — the generic error-to-response mapper mandated
// by spec.md's "Error-to-Response mapping" design note.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}
	return &Error{Kind: InternalError, Message: err.Error()}
}

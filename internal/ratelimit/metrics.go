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

import "github.com/prometheus/client_golang/prometheus"

// promMetrics mirrors etalazz-vsa's telemetry/churn Prometheus counters
// (vsa_naive_writes_total, vsa_commit_errors_total, ...) but scoped to one
// Limiter via a private registry rather than the package-global registry
// churn uses — several independently-configured Limiters can coexist in one
// process (the tests construct many), and global counters would collide on
// the second registration.
type promMetrics struct {
	registry *prometheus.Registry
	admitted prometheus.Counter
	rejected prometheus.Counter
}

func newPromMetrics() *promMetrics {
	reg := prometheus.NewRegistry()
	m := &promMetrics{
		registry: reg,
		admitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_ratelimit_admitted_total",
			Help: "Total requests admitted by the token-bucket limiter",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_ratelimit_rejected_total",
			Help: "Total requests rejected by the token-bucket limiter",
		}),
	}
	reg.MustRegister(m.admitted, m.rejected)
	return m
}

func (m *promMetrics) observe(allowed bool) {
	if allowed {
		m.admitted.Inc()
	} else {
		m.rejected.Inc()
	}
}

// Registry exposes the limiter's private Prometheus registry so callers can
// mount it under promhttp.HandlerFor at a control-plane metrics endpoint.
func (l *Limiter) Registry() *prometheus.Registry { return l.metrics.registry }

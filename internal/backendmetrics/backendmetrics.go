/*
 *
 * Copyright 2023 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

// Package backendmetrics exposes ORCA backend metric reports to load
// balancing policies (weighted_round_robin, xds_cluster_impl) in a form
// that is agnostic to whether the report arrived out-of-band (a streamed
// ORCA service) or inline on a per-call trailer.
package backendmetrics

import (
	"sync"
	"sync/atomic"

	v3orcapb "github.com/cncf/xds/go/xds/data/orca/v3"
)

// Metrics is a read-only accessor for the most recently observed ORCA
// report for a backend. It is safe for concurrent use.
type Metrics interface {
	// ApplicationUtilization returns the backend's self-reported
	// fraction of its maximum useful capacity that is currently in use.
	ApplicationUtilization() float64
	// CPUUtilization returns the backend's CPU utilization.
	CPUUtilization() float64
	// MemUtilization returns the backend's memory utilization.
	MemUtilization() float64
	// RequestCost returns a named request cost, and whether it was
	// present in the report.
	RequestCost(name string) (float64, bool)
	// NamedMetrics returns a named custom metric, and whether it was
	// present in the report.
	NamedMetrics(name string) (float64, bool)
}

// reportMetrics is the Metrics implementation backed by a concrete ORCA
// report.
type reportMetrics struct {
	report *v3orcapb.OrcaLoadReport
}

func (m reportMetrics) ApplicationUtilization() float64 {
	if m.report == nil {
		return 0
	}
	return m.report.GetUtilization()["application_utilization"]
}

func (m reportMetrics) CPUUtilization() float64 {
	if m.report == nil {
		return 0
	}
	return m.report.GetCpuUtilization()
}

func (m reportMetrics) MemUtilization() float64 {
	if m.report == nil {
		return 0
	}
	return m.report.GetMemUtilization()
}

func (m reportMetrics) RequestCost(name string) (float64, bool) {
	if m.report == nil {
		return 0, false
	}
	v, ok := m.report.GetRequestCost()[name]
	return v, ok
}

func (m reportMetrics) NamedMetrics(name string) (float64, bool) {
	if m.report == nil {
		return 0, false
	}
	v, ok := m.report.GetNamedMetrics()[name]
	return v, ok
}

// EmptyMetrics is a Metrics value that reports no data, used when a
// backend has never sent an ORCA report.
var EmptyMetrics Metrics = reportMetrics{}

// FromLoadReport wraps a raw ORCA report as a Metrics.
func FromLoadReport(r *v3orcapb.OrcaLoadReport) Metrics {
	return reportMetrics{report: r}
}

// Provider holds the latest metrics for one backend, updated either by an
// out-of-band streaming listener or by per-call trailer parsing, and makes
// it available to LB policy pickers without blocking on the write path.
type Provider struct {
	v atomic.Value // stores Metrics

	mu        sync.Mutex
	listeners map[*listener]struct{}
}

type listener struct {
	f func(Metrics, error)
}

// NewProvider returns a Provider with EmptyMetrics as its initial state.
func NewProvider() *Provider {
	p := &Provider{listeners: make(map[*listener]struct{})}
	p.v.Store(EmptyMetrics)
	return p
}

// SetMetrics replaces the latest metrics and notifies registered
// listeners (used to drive the OOB metrics producer's callback).
func (p *Provider) SetMetrics(m Metrics) {
	p.v.Store(m)
	p.mu.Lock()
	defer p.mu.Unlock()
	for l := range p.listeners {
		l.f(m, nil)
	}
}

// SetMetricsError notifies listeners that the OOB metrics stream
// encountered err; the latest stored Metrics is left unchanged.
func (p *Provider) SetMetricsError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for l := range p.listeners {
		l.f(nil, err)
	}
}

// Metrics returns the latest known metrics for this backend.
func (p *Provider) Metrics() Metrics {
	return p.v.Load().(Metrics)
}

// AddListener registers f to be called every time new metrics (or an
// error) arrives; it returns a function to unregister f.
func (p *Provider) AddListener(f func(Metrics, error)) (unregister func()) {
	l := &listener{f: f}
	p.mu.Lock()
	p.listeners[l] = struct{}{}
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.listeners, l)
		p.mu.Unlock()
	}
}

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

package backendmetrics

import (
	"errors"
	"testing"

	v3orcapb "github.com/cncf/xds/go/xds/data/orca/v3"
)

func TestEmptyMetrics(t *testing.T) {
	if got := EmptyMetrics.CPUUtilization(); got != 0 {
		t.Fatalf("EmptyMetrics.CPUUtilization() = %v; want 0", got)
	}
	if _, ok := EmptyMetrics.RequestCost("x"); ok {
		t.Fatal("EmptyMetrics.RequestCost() ok = true; want false")
	}
}

func TestFromLoadReport(t *testing.T) {
	r := &v3orcapb.OrcaLoadReport{
		CpuUtilization: 0.5,
		MemUtilization: 0.75,
		RequestCost:    map[string]float64{"db": 3},
		NamedMetrics:   map[string]float64{"custom": 9},
	}
	m := FromLoadReport(r)
	if got := m.CPUUtilization(); got != 0.5 {
		t.Fatalf("CPUUtilization() = %v; want 0.5", got)
	}
	if got := m.MemUtilization(); got != 0.75 {
		t.Fatalf("MemUtilization() = %v; want 0.75", got)
	}
	if got, ok := m.RequestCost("db"); !ok || got != 3 {
		t.Fatalf("RequestCost(db) = %v, %v; want 3, true", got, ok)
	}
	if got, ok := m.NamedMetrics("custom"); !ok || got != 9 {
		t.Fatalf("NamedMetrics(custom) = %v, %v; want 9, true", got, ok)
	}
}

func TestProviderListeners(t *testing.T) {
	p := NewProvider()
	var gotMetrics Metrics
	var gotErr error
	unregister := p.AddListener(func(m Metrics, err error) {
		gotMetrics, gotErr = m, err
	})
	defer unregister()

	r := &v3orcapb.OrcaLoadReport{CpuUtilization: 0.9}
	p.SetMetrics(FromLoadReport(r))
	if gotErr != nil || gotMetrics.CPUUtilization() != 0.9 {
		t.Fatalf("listener got (%v, %v); want (0.9, nil)", gotMetrics, gotErr)
	}
	if p.Metrics().CPUUtilization() != 0.9 {
		t.Fatal("Provider.Metrics() did not reflect latest SetMetrics call")
	}

	wantErr := errors.New("stream broke")
	p.SetMetricsError(wantErr)
	if gotErr != wantErr {
		t.Fatalf("listener err = %v; want %v", gotErr, wantErr)
	}

	unregister()
	p.SetMetrics(FromLoadReport(&v3orcapb.OrcaLoadReport{CpuUtilization: 0.1}))
	if gotMetrics.CPUUtilization() != 0.9 {
		t.Fatal("listener fired after unregister")
	}
}

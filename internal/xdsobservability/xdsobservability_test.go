/*
 *
 * Copyright 2024 the project authors.
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

package xdsobservability

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// This test installs a real SDK MeterProvider and TracerProvider as the
// global providers. otel's global package hands out delegating
// meters/tracers/instruments, so the package-level vars obtained at init
// time (against the no-op default) start forwarding to these real SDK
// implementations the moment they're installed, with no re-init needed.
func TestRecordingReachesInstalledProviders(t *testing.T) {
	ctx := context.Background()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(ctx)

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer tp.Shutdown(ctx)

	prevMP, prevTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)
	defer func() {
		otel.SetMeterProvider(prevMP)
		otel.SetTracerProvider(prevTP)
	}()

	RecordCircuitBreakerDrop(ctx, "cluster-a")
	RecordEDSDrop(ctx, "cluster-a", "category-1")
	RecordEjection(ctx, "10.0.0.1:8080")
	RecordUnejection(ctx, "10.0.0.1:8080")

	_, span := StartSpan(ctx, "test-span")
	span.End()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			found[m.Name] = true
		}
	}
	for _, name := range []string{
		"grpc.lb.xds_cluster_impl.circuit_breaker_drops",
		"grpc.lb.xds_cluster_impl.eds_drops",
		"grpc.lb.outlier_detection.ejections",
		"grpc.lb.outlier_detection.unejections",
	} {
		if !found[name] {
			t.Errorf("metric %q not recorded by the installed MeterProvider", name)
		}
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Name != "test-span" {
		t.Errorf("exported spans = %v; want one span named %q", spans, "test-span")
	}
}

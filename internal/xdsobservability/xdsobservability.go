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

// Package xdsobservability wires the xDS-facing LB policies' per-policy
// counters and spans into OpenTelemetry: a
// meter for pick-path counters (drops, ejections, circuit-breaker
// rejections) and a tracer for the interval-timer and priority-selection
// spans that don't otherwise have an obvious place to attach a trace
// event, since those run off the pick path entirely.
package xdsobservability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/embedded"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/corelb/lbtree/xds"

var (
	meter  = otel.Meter(instrumentationName)
	tracer = otel.Tracer(instrumentationName)

	circuitBreakerDrops metric.Int64Counter
	edsDrops            metric.Int64Counter
	ejections           metric.Int64Counter
	unejections         metric.Int64Counter
)

func init() {
	var err error
	if circuitBreakerDrops, err = meter.Int64Counter(
		"grpc.lb.xds_cluster_impl.circuit_breaker_drops",
		metric.WithDescription("Number of picks dropped by the cluster's max-concurrent-requests circuit breaker"),
	); err != nil {
		circuitBreakerDrops = noopCounter{}
	}
	if edsDrops, err = meter.Int64Counter(
		"grpc.lb.xds_cluster_impl.eds_drops",
		metric.WithDescription("Number of picks dropped by an EDS-configured drop category"),
	); err != nil {
		edsDrops = noopCounter{}
	}
	if ejections, err = meter.Int64Counter(
		"grpc.lb.outlier_detection.ejections",
		metric.WithDescription("Number of addresses ejected by outlier detection"),
	); err != nil {
		ejections = noopCounter{}
	}
	if unejections, err = meter.Int64Counter(
		"grpc.lb.outlier_detection.unejections",
		metric.WithDescription("Number of addresses un-ejected by outlier detection"),
	); err != nil {
		unejections = noopCounter{}
	}
}

// RecordCircuitBreakerDrop records a pick dropped by xds_cluster_impl's
// max-concurrent-requests circuit breaker for cluster.
func RecordCircuitBreakerDrop(ctx context.Context, cluster string) {
	circuitBreakerDrops.Add(ctx, 1, metric.WithAttributes(attribute.String("grpc.lb.cluster", cluster)))
}

// RecordEDSDrop records a pick dropped by an EDS-configured drop category.
func RecordEDSDrop(ctx context.Context, cluster, category string) {
	edsDrops.Add(ctx, 1, metric.WithAttributes(
		attribute.String("grpc.lb.cluster", cluster),
		attribute.String("grpc.lb.drop_category", category),
	))
}

// RecordEjection records outlier detection ejecting addr.
func RecordEjection(ctx context.Context, addr string) {
	ejections.Add(ctx, 1, metric.WithAttributes(attribute.String("grpc.lb.address", addr)))
}

// RecordUnejection records outlier detection un-ejecting addr.
func RecordUnejection(ctx context.Context, addr string) {
	unejections.Add(ctx, 1, metric.WithAttributes(attribute.String("grpc.lb.address", addr)))
}

// StartSpan starts a trace span named name, for policy-internal work that
// has no per-call context of its own to attach a trace event to (the
// outlier-detection interval sweep, priority's failover selection).
func StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}

// noopCounter satisfies metric.Int64Counter when the real one fails to
// register (e.g. a duplicate-instrument-name collision in tests that
// build more than one balancer instance against the same global
// MeterProvider), so instrumentation failures never surface as balancer
// errors.
type noopCounter struct{ embedded.Int64Counter }

func (noopCounter) Add(context.Context, int64, ...metric.AddOption) {}

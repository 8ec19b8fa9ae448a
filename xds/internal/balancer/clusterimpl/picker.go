/*
 *
 * Copyright 2020 gRPC authors.
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

package clusterimpl

import (
	"context"
	"math/rand"

	"github.com/corelb/lbtree/balancer"
	"github.com/corelb/lbtree/codes"
	"github.com/corelb/lbtree/internal/xdsobservability"
	"github.com/corelb/lbtree/status"
	"github.com/corelb/lbtree/xds/internal/xdsclient/load"
)

// grpcrandInt31n is overridden in tests for deterministic drop sampling.
var grpcrandInt31n = rand.Int31n

type dropCategory struct {
	category  string
	numerator uint32
}

// picker enforces, in order, the EDS-configured drop categories and then
// the max-concurrent-requests circuit breaker (§4.8); the ordering is the
// supplemented behavior from original_source/: drop categories are
// evaluated even when the circuit breaker would also have dropped the
// pick, since that changes which counter increments.
type picker struct {
	child      balancer.Picker
	drops      []dropCategory
	counter    *serviceRequestsCounter
	store      *load.PerClusterStore // nil if LRS reporting is disabled
	cc         balancer.MetricsRecorder
	localityOf func(balancer.SubConn) string
	cluster    string
}

func (p *picker) Pick(info balancer.PickInfo) (balancer.PickResult, error) {
	ctx := info.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, d := range p.drops {
		if grpcrandInt31n(million) < int32(d.numerator) {
			p.cc.AddTraceEvent("drop: " + d.category)
			if p.store != nil {
				p.store.CallDropped(d.category)
			}
			xdsobservability.RecordEDSDrop(ctx, p.cluster, d.category)
			return balancer.PickResult{}, status.Newf(codes.Unavailable, "EDS-configured drop: %s", d.category).Err()
		}
	}

	if p.child == nil {
		return balancer.PickResult{}, balancer.ErrNoSubConnAvailable
	}
	res, err := p.child.Pick(info)
	if err != nil {
		return res, err
	}

	sem, ok := p.counter.startRequest()
	if !ok {
		if p.store != nil {
			p.store.CallDropped("circuit_breaking")
		}
		xdsobservability.RecordCircuitBreakerDrop(ctx, p.cluster)
		return balancer.PickResult{}, status.New(codes.Unavailable, "circuit breaker drop").Err()
	}

	var locality string
	if p.localityOf != nil {
		locality = p.localityOf(res.SubConn)
	}
	if p.store != nil {
		p.store.CallStarted(locality)
	}
	childDone := res.Done
	res.Done = func(doneInfo balancer.DoneInfo) {
		if childDone != nil {
			childDone(doneInfo)
		}
		sem.Release(1)
		if p.store != nil {
			p.store.CallFinished(locality, doneInfo.Err != nil)
		}
	}
	return res, nil
}

// dropAllPicker is installed when the config's drop_all condition holds:
// every pick is dropped, and the balancer reports READY regardless of the
// child's connectivity state.
type dropAllPicker struct {
	category string
}

func (p *dropAllPicker) Pick(balancer.PickInfo) (balancer.PickResult, error) {
	return balancer.PickResult{}, status.Newf(codes.Unavailable, "EDS-configured drop: %s", p.category).Err()
}

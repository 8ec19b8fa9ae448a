/*
 *
 * Copyright 2021 gRPC authors.
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

// Package gracefulswitch implements a graceful switching load balancer, the
// child policy handler the composite policies in this tree (priority,
// weighted_target, clusterimpl, outlier_detection, xds_override_host,
// xds_wrr_locality) use to replace their child
// balancer when the child's builder name changes, without dropping
// already-Ready connections out from under in-flight RPCs.
package gracefulswitch

import (
	"errors"
	"fmt"
	"sync"

	"github.com/corelb/lbtree/balancer"
	"github.com/corelb/lbtree/connectivity"
	"github.com/corelb/lbtree/resolver"
)

var errBalancerClosed = errors.New("gracefulswitch: balancer is closed")

// Balancer is a graceful switch load balancer, implementing
// balancer.Balancer. Calling SwitchTo will cause a new child to be
// created; it becomes the current child once it reports READY. A change
// in the current child's state does not by itself trigger the swap.
// Until then, both children run side by side, with the previous current
// child continuing to own the picker.
type Balancer struct {
	cc    balancer.ClientConn
	bOpts balancer.BuildOptions

	mu            sync.Mutex
	balancerCurrent *balancerWrapper
	balancerPending *balancerWrapper
	closed          bool
}

// NewBalancer returns a new gracefulswitch Balancer.
func NewBalancer(cc balancer.ClientConn, opts balancer.BuildOptions) *Balancer {
	return &Balancer{cc: cc, bOpts: opts}
}

// SwitchTo gracefully switches to a new child balancer built from builder.
// The previous current child (if not yet superseded by a still-pending
// one) is kept running as "current" until the new child is ready to take
// over, at which point it is closed.
func (gsb *Balancer) SwitchTo(builder balancer.Builder) (*balancerWrapper, error) {
	gsb.mu.Lock()
	if gsb.closed {
		gsb.mu.Unlock()
		return nil, errBalancerClosed
	}
	bw := &balancerWrapper{
		gsb:      gsb,
		lastState: balancer.State{ConnectivityState: connectivity.Connecting, Picker: nil},
	}
	balToClose := gsb.balancerPending
	if gsb.balancerCurrent == nil {
		gsb.balancerCurrent = bw
	} else {
		gsb.balancerPending = bw
	}
	gsb.mu.Unlock()

	balToClose.closeAsync()

	newBalancer := builder.Build(bw, gsb.bOpts)
	if newBalancer == nil {
		return nil, fmt.Errorf("gracefulswitch: builder %q returned a nil Balancer", builder.Name())
	}
	bw.setBalancer(newBalancer)
	return bw, nil
}

// Balancer returns the most recently built child balancer: the pending
// child if there is one, otherwise the current child, or nil if none has
// been created yet.
func (gsb *Balancer) Balancer() balancer.Balancer {
	gsb.mu.Lock()
	defer gsb.mu.Unlock()
	if gsb.balancerPending != nil {
		return gsb.balancerPending.Balancer
	}
	if gsb.balancerCurrent != nil {
		return gsb.balancerCurrent.Balancer
	}
	return nil
}

// Close closes any child balancers that are still running.
func (gsb *Balancer) Close() {
	gsb.mu.Lock()
	gsb.closed = true
	cur, pend := gsb.balancerCurrent, gsb.balancerPending
	gsb.balancerCurrent, gsb.balancerPending = nil, nil
	gsb.mu.Unlock()
	cur.closeAsync()
	pend.closeAsync()
}

// balancerWrapper wraps a child balancer and intercepts its calls to
// ClientConn so the graceful switch logic can decide whether the child is
// current, should be promoted, or should be ignored because it has been
// superseded.
type balancerWrapper struct {
	balancer.Balancer
	gsb *Balancer

	lastState balancer.State
}

func (bw *balancerWrapper) setBalancer(b balancer.Balancer) {
	bw.Balancer = b
}

func (bw *balancerWrapper) closeAsync() {
	if bw == nil {
		return
	}
	if bw.Balancer != nil {
		bw.Balancer.Close()
	}
}

func (bw *balancerWrapper) isCurrent() bool {
	gsb := bw.gsb
	gsb.mu.Lock()
	defer gsb.mu.Unlock()
	return gsb.balancerCurrent == bw
}

func (bw *balancerWrapper) isPending() bool {
	gsb := bw.gsb
	gsb.mu.Lock()
	defer gsb.mu.Unlock()
	return gsb.balancerPending == bw
}

// swap promotes the pending child to current, closing the previous
// current. Must be called with gsb.mu unlocked.
func (bw *balancerWrapper) swap() {
	gsb := bw.gsb
	gsb.mu.Lock()
	cur := gsb.balancerCurrent
	gsb.balancerCurrent = bw
	gsb.balancerPending = nil
	gsb.mu.Unlock()
	cur.closeAsync()
	gsb.cc.UpdateState(bw.lastState)
}

func (bw *balancerWrapper) UpdateState(state balancer.State) {
	bw.lastState = state

	gsb := bw.gsb
	gsb.mu.Lock()
	if gsb.balancerCurrent != bw && gsb.balancerPending != bw {
		gsb.mu.Unlock()
		return
	}
	isPending := gsb.balancerPending == bw
	gsb.mu.Unlock()

	if isPending && state.ConnectivityState == connectivity.Ready {
		bw.swap()
		return
	}
	if !isPending {
		gsb.cc.UpdateState(state)
	}
}

func (bw *balancerWrapper) NewSubConn(addrs []resolver.Address, opts balancer.NewSubConnOptions) (balancer.SubConn, error) {
	if !bw.isCurrent() && !bw.isPending() {
		return nil, errBalancerClosed
	}
	return bw.gsb.cc.NewSubConn(addrs, opts)
}

func (bw *balancerWrapper) RemoveSubConn(sc balancer.SubConn) {
	bw.gsb.cc.RemoveSubConn(sc)
}

func (bw *balancerWrapper) UpdateAddresses(sc balancer.SubConn, addrs []resolver.Address) {
	bw.gsb.cc.UpdateAddresses(sc, addrs)
}

func (bw *balancerWrapper) ResolveNow(o resolver.ResolveNowOptions) {
	bw.gsb.cc.ResolveNow(o)
}

func (bw *balancerWrapper) Target() string {
	return bw.gsb.cc.Target()
}

func (bw *balancerWrapper) RecordInt64Count(handle any, incr int64, labels ...string) {
	bw.gsb.cc.RecordInt64Count(handle, incr, labels...)
}

func (bw *balancerWrapper) AddTraceEvent(desc string) {
	bw.gsb.cc.AddTraceEvent(desc)
}

/*
 *
 * Copyright 2022 gRPC authors.
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

package outlierdetection

import (
	"sync"
	"time"

	"github.com/corelb/lbtree/balancer"
	"github.com/corelb/lbtree/connectivity"
)

// bucket holds one observation window's raw counts.
type bucket struct {
	successes uint32
	failures  uint32
}

// callCounter holds one address's call counts in a single active bucket
// (§4.7): the picker's call tracker only adds to the bucket, and swap
// hands the prior window to the interval tick while resetting the active
// bucket to empty.
type callCounter struct {
	mu     sync.Mutex
	active bucket
}

func newCallCounter() *callCounter { return &callCounter{} }

func (c *callCounter) recordSuccess() {
	c.mu.Lock()
	c.active.successes++
	c.mu.Unlock()
}

func (c *callCounter) recordFailure() {
	c.mu.Lock()
	c.active.failures++
	c.mu.Unlock()
}

// swap returns the current window's counts and resets the active bucket.
func (c *callCounter) swap() bucket {
	c.mu.Lock()
	b := c.active
	c.active = bucket{}
	c.mu.Unlock()
	return b
}

// scWrapper decorates one address's SubConn so that ejection can force it
// to report TRANSIENT_FAILURE without tearing it down, and so per-call
// success/failure can be attributed back to the address's callCounter
// (§4.7). A subconn whose address carries the disable-outlier-detection
// attribute is never registered with the parent's address map and passes
// states straight through.
type scWrapper struct {
	balancer.SubConn

	parent        *odBalancer
	addrKey       string
	disabled      bool
	childListener func(balancer.SubConnState)
	counter       *callCounter

	mu      sync.Mutex
	ejected bool
	latest  balancer.SubConnState
}

func (w *scWrapper) updateState(s balancer.SubConnState) {
	w.mu.Lock()
	w.latest = s
	ejected := w.ejected
	w.mu.Unlock()
	if ejected {
		return
	}
	if w.childListener != nil {
		w.childListener(s)
	}
}

// eject forces this wrapper to report TRANSIENT_FAILURE to the child,
// regardless of the real connectivity state underneath.
func (w *scWrapper) eject() {
	w.mu.Lock()
	w.ejected = true
	w.mu.Unlock()
	if w.childListener != nil {
		w.childListener(balancer.SubConnState{ConnectivityState: connectivity.TransientFailure})
	}
}

// uneject restores reporting of the real, last-observed connectivity
// state.
func (w *scWrapper) uneject() {
	w.mu.Lock()
	w.ejected = false
	latest := w.latest
	w.mu.Unlock()
	if w.childListener != nil {
		w.childListener(latest)
	}
}

func (w *scWrapper) Shutdown() {
	w.SubConn.Shutdown()
	if !w.disabled {
		w.parent.unregisterWrapper(w.addrKey, w)
	}
}

// addressInfo is the per-address ejection bookkeeping the interval tick
// walks: call counts, current ejection status, and every live wrapper at
// that address so ejection/unejection can be driven onto all of them.
type addressInfo struct {
	counter            *callCounter
	wrappers           map[*scWrapper]struct{}
	ejected            bool
	ejectionMultiplier int
	ejectionTimestamp  time.Time
}

func newAddressInfo() *addressInfo {
	return &addressInfo{counter: newCallCounter(), wrappers: make(map[*scWrapper]struct{})}
}

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
	"sync"

	"golang.org/x/sync/semaphore"
)

// serviceRequestsCounter is the process-wide (cluster, eds_service_name)
// circuit breaker (§4.8): a weighted semaphore standing in for the bare
// atomic in_flight counter the specification describes, so the admission
// check (TryAcquire) and the eventual release are symmetric and cannot
// drift under concurrent picks.
type serviceRequestsCounter struct {
	mu  sync.Mutex
	sem *semaphore.Weighted
	max int64
}

func newServiceRequestsCounter(max uint32) *serviceRequestsCounter {
	return &serviceRequestsCounter{sem: semaphore.NewWeighted(int64(max)), max: int64(max)}
}

// resize swaps in a fresh semaphore sized to max if the limit changed.
// In-flight permits already acquired against the old semaphore are
// released against the object reference their call tracker captured, not
// this one, so no accounting is lost across a resize.
func (c *serviceRequestsCounter) resize(max uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if int64(max) == c.max {
		return
	}
	c.max = int64(max)
	c.sem = semaphore.NewWeighted(c.max)
}

func (c *serviceRequestsCounter) startRequest() (*semaphore.Weighted, bool) {
	c.mu.Lock()
	sem := c.sem
	c.mu.Unlock()
	return sem, sem.TryAcquire(1)
}

type counterKey struct {
	cluster string
	service string
}

var (
	counterMu sync.Mutex
	counters  = make(map[counterKey]*refcountedCounter)
)

type refcountedCounter struct {
	*serviceRequestsCounter
	refs int
}

// getServiceRequestsCounter returns the shared counter for (cluster,
// service), creating it on first use, plus a release function the owning
// balancer must call on Close.
func getServiceRequestsCounter(cluster, service string, max uint32) (*serviceRequestsCounter, func()) {
	counterMu.Lock()
	defer counterMu.Unlock()
	key := counterKey{cluster: cluster, service: service}
	e, ok := counters[key]
	if !ok {
		e = &refcountedCounter{serviceRequestsCounter: newServiceRequestsCounter(max)}
		counters[key] = e
	} else {
		e.resize(max)
	}
	e.refs++
	return e.serviceRequestsCounter, func() { releaseServiceRequestsCounter(key) }
}

func releaseServiceRequestsCounter(key counterKey) {
	counterMu.Lock()
	defer counterMu.Unlock()
	e, ok := counters[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs == 0 {
		delete(counters, key)
	}
}

// clearCounterForTesting drops the shared counter for (cluster, service)
// regardless of refcount, so tests don't leak state across cases.
func clearCounterForTesting(cluster, service string) {
	counterMu.Lock()
	defer counterMu.Unlock()
	delete(counters, counterKey{cluster: cluster, service: service})
}

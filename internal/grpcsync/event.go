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

// Package grpcsync implements additional synchronization primitives built
// on top of the ones provided by the standard library: a one-shot Event,
// and a single-threaded, FIFO, borrowed-thread Serializer that the
// composing LB policies run their callbacks on.
package grpcsync

import "sync/atomic"

// Event represents a one-time event that may occur in the future.
type Event struct {
	fired int32
	c     chan struct{}
}

// NewEvent returns a new, ready to use Event.
func NewEvent() *Event {
	return &Event{c: make(chan struct{})}
}

// Fire causes e to complete, returning true if this call was the first to
// do so; later calls return false.
func (e *Event) Fire() bool {
	if atomic.CompareAndSwapInt32(&e.fired, 0, 1) {
		close(e.c)
		return true
	}
	return false
}

// HasFired returns whether Fire has been called.
func (e *Event) HasFired() bool {
	return atomic.LoadInt32(&e.fired) == 1
}

// Done returns a channel that is closed once Fire is called.
func (e *Event) Done() <-chan struct{} {
	return e.c
}

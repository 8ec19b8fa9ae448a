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

package grpcsync

import (
	"sync"
	"testing"
	"time"
)

func (s) TestSerializerFIFOOrder(t *testing.T) {
	ser := NewSerializer()
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		ser.Schedule(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
	}
	ser.DrainQueue()
	wg.Wait()
	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("order[%d] = %d, want %d", i, v, i)
		}
	}
}

func (s) TestSerializerRunInline(t *testing.T) {
	ser := NewSerializer()
	ran := false
	ser.Run(func() { ran = true })
	if !ran {
		t.Fatal("Run did not execute its callback before returning")
	}
}

func (s) TestSerializerReentrantRunCompletesBeforeOutermostReturns(t *testing.T) {
	ser := NewSerializer()
	var order []int
	ser.Run(func() {
		order = append(order, 1)
		ser.Run(func() {
			order = append(order, 2)
		})
		order = append(order, 3)
	})
	want := []int{1, 3, 2}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func (s) TestSerializerCloseDrainsThenFiresDone(t *testing.T) {
	ser := NewSerializer()
	done := make(chan struct{})
	ser.Schedule(func() { close(done) })
	ser.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("queued work never ran before Close drained it")
	}
	select {
	case <-ser.Done():
	case <-time.After(time.Second):
		t.Fatal("Done() never fired after Close")
	}

	ranAfterClose := false
	ser.Schedule(func() { ranAfterClose = true })
	ser.DrainQueue()
	if ranAfterClose {
		t.Fatal("work scheduled after Close ran")
	}
}

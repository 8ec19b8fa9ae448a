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

package weightedroundrobin

import (
	"testing"
	"time"
)

func TestEndpointWeightBlackoutAndExpiration(t *testing.T) {
	w := &endpointWeight{}
	start := time.Now()

	w.addSample(false, 0.5)
	w.tick(start, time.Second, 1.0)

	if got := w.read(start, 10*time.Second, time.Minute); got != 0 {
		t.Fatalf("read() during blackout = %v; want 0", got)
	}

	later := start.Add(11 * time.Second)
	if got := w.read(later, 10*time.Second, time.Minute); got <= 0 {
		t.Fatalf("read() after blackout = %v; want > 0", got)
	}

	expired := start.Add(2 * time.Minute)
	if got := w.read(expired, 10*time.Second, time.Minute); got != 0 {
		t.Fatalf("read() after expiration = %v; want 0", got)
	}
}

func TestEndpointWeightEmptyBucketIgnored(t *testing.T) {
	w := &endpointWeight{}
	w.tick(time.Now(), time.Second, 1.0)
	if got := w.read(time.Now(), 0, 0); got != 0 {
		t.Fatalf("read() after empty tick = %v; want 0", got)
	}
}

func TestEndpointWeightOOB(t *testing.T) {
	w := &endpointWeight{}
	now := time.Now()
	w.updateOOB(100, 0, 0.5, 1.0, now)
	if got := w.read(now, 0, 0); got != 200 {
		t.Fatalf("read() after OOB update = %v; want 200", got)
	}
}

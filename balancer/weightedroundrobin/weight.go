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
	"sync"
	"time"
)

// endpointWeight tracks the load signal reported for one endpoint and
// turns it into a single scalar weight, either from out-of-band ORCA
// listener callbacks (one utilization sample at a time, each counted as
// its own "call") or from per-call utilization samples bucketed and
// flushed every weightUpdatePeriod tick. It exposes the result through
// blackout and expiration windows so a newly-seen or stale endpoint is
// never trusted at face value.
type endpointWeight struct {
	mu            sync.Mutex
	weight        float64
	nonEmptySince time.Time
	lastUpdated   time.Time

	bucketCalls int64
	bucketErrs  int64
	bucketUtil  float64
}

// addSample records one call's outcome into the current bucket. qps/eps
// for the bucket are derived from call counts at tick time rather than
// from a self-reported rate, since a single call only ever tells us its
// own utilization and whether it errored.
func (w *endpointWeight) addSample(errored bool, utilization float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.bucketCalls++
	if errored {
		w.bucketErrs++
	}
	w.bucketUtil += utilization
}

// tick flushes the current bucket into a weight of
// qps / (avgUtilization + errorUtilizationPenalty*eps/qps), using period
// as the bucket's wall-clock width, per the published ORCA-backed
// weighted_round_robin formula. An empty bucket is ignored and does not
// extend the blackout window.
func (w *endpointWeight) tick(now time.Time, period time.Duration, errorUtilizationPenalty float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	calls := w.bucketCalls
	errs := w.bucketErrs
	utilSum := w.bucketUtil
	w.bucketCalls, w.bucketErrs, w.bucketUtil = 0, 0, 0
	if calls == 0 || period <= 0 {
		return
	}
	avgUtil := utilSum / float64(calls)
	if avgUtil == 0 {
		return
	}
	qps := float64(calls) / period.Seconds()
	eps := float64(errs) / period.Seconds()
	denom := avgUtil + (eps/qps)*errorUtilizationPenalty
	if denom <= 0 {
		return
	}
	w.setLocked(qps/denom, now)
}

// updateOOB records a weight computed directly from an out-of-band ORCA
// report, bypassing the per-call bucket entirely.
func (w *endpointWeight) updateOOB(qps, eps, utilization, errorUtilizationPenalty float64, now time.Time) {
	if utilization == 0 || qps == 0 {
		return
	}
	denom := utilization + (eps/qps)*errorUtilizationPenalty
	if denom <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.setLocked(qps/denom, now)
}

func (w *endpointWeight) setLocked(newWeight float64, now time.Time) {
	if w.nonEmptySince.IsZero() {
		w.nonEmptySince = now
	}
	w.weight = newWeight
	w.lastUpdated = now
}

// read returns the currently trusted weight: zero until blackoutPeriod
// has elapsed since the first non-empty report, and zero again once
// weightExpirationPeriod has elapsed since the last report.
func (w *endpointWeight) read(now time.Time, blackoutPeriod, weightExpirationPeriod time.Duration) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lastUpdated.IsZero() {
		return 0
	}
	if weightExpirationPeriod > 0 && now.Sub(w.lastUpdated) >= weightExpirationPeriod {
		return 0
	}
	if blackoutPeriod > 0 && now.Sub(w.nonEmptySince) < blackoutPeriod {
		return 0
	}
	return w.weight
}

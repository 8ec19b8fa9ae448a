/*
 *
 * Copyright 2024 gRPC authors.
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

// Package endpointsharding provides the endpoint-list normalization
// that weighted_round_robin uses to fan picks out across a flat list of
// endpoints: deduplicate equal-address endpoints and sort them
// lexicographically by their first address, so that re-ordering alone in
// a resolver update does not cause subchannel churn. Grounded on the
// original C++ EndpointList base class's shared bookkeeping.
package endpointsharding

import (
	"sort"

	"github.com/corelb/lbtree/resolver"
)

// Dedup removes endpoints whose address set exactly duplicates one
// already seen (by the Addr strings of its addresses, independent of
// order) and sorts the remainder lexicographically by the first
// address's Addr, for deterministic, low-churn processing.
func Dedup(endpoints []resolver.Endpoint) []resolver.Endpoint {
	seen := resolver.NewEndpointMap()
	out := make([]resolver.Endpoint, 0, len(endpoints))
	for _, e := range endpoints {
		if _, ok := seen.Get(e); ok {
			continue
		}
		seen.Set(e, true)
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return firstAddr(out[i]) < firstAddr(out[j])
	})
	return out
}

func firstAddr(e resolver.Endpoint) string {
	if len(e.Addresses) == 0 {
		return ""
	}
	return e.Addresses[0].Addr
}

// AddressesToEndpoints wraps a flat address list as one endpoint per
// address, for policies fed a plain resolver.State.Addresses rather
// than resolver.State.Endpoints.
func AddressesToEndpoints(addrs []resolver.Address) []resolver.Endpoint {
	eps := make([]resolver.Endpoint, len(addrs))
	for i, a := range addrs {
		eps[i] = resolver.Endpoint{Addresses: []resolver.Address{a}}
	}
	return eps
}

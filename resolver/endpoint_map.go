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

package resolver

import (
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// EndpointMap is a map keyed by the identity of an Endpoint (its set of
// addresses, order-independent), for use by policies juggling large
// endpoint lists (weighted_round_robin, xds_wrr_locality) where a linear
// scan per lookup, as AddressMap does for its small per-address-collision
// buckets, would not scale.
//
// The zero value is not ready for use; call NewEndpointMap.
type EndpointMap struct {
	m map[uint64][]endpointMapEntry
	n int
}

type endpointMapEntry struct {
	key   string
	value any
	ep    Endpoint
}

// NewEndpointMap creates a new EndpointMap.
func NewEndpointMap() *EndpointMap {
	return &EndpointMap{m: map[uint64][]endpointMapEntry{}}
}

// endpointKey returns a string uniquely identifying the endpoint by its
// addresses, independent of address order.
func endpointKey(e Endpoint) string {
	addrs := make([]string, len(e.Addresses))
	for i, a := range e.Addresses {
		addrs[i] = a.Addr
	}
	sort.Strings(addrs)
	return strings.Join(addrs, "\x00")
}

func (m *EndpointMap) find(e Endpoint) (h uint64, key string, idx int) {
	key = endpointKey(e)
	h = xxhash.Sum64String(key)
	bucket := m.m[h]
	for i, entry := range bucket {
		if entry.key == key {
			return h, key, i
		}
	}
	return h, key, -1
}

// Get returns the value for e, and whether it was present.
func (m *EndpointMap) Get(e Endpoint) (any, bool) {
	h, _, idx := m.find(e)
	if idx == -1 {
		return nil, false
	}
	return m.m[h][idx].value, true
}

// Set sets the value for e.
func (m *EndpointMap) Set(e Endpoint, value any) {
	h, key, idx := m.find(e)
	if idx != -1 {
		m.m[h][idx].value = value
		return
	}
	m.m[h] = append(m.m[h], endpointMapEntry{key: key, value: value, ep: e})
	m.n++
}

// Delete removes e from the map.
func (m *EndpointMap) Delete(e Endpoint) {
	h, _, idx := m.find(e)
	if idx == -1 {
		return
	}
	bucket := m.m[h]
	bucket[idx] = bucket[len(bucket)-1]
	m.m[h] = bucket[:len(bucket)-1]
	m.n--
}

// Len returns the number of entries in the map.
func (m *EndpointMap) Len() int {
	return m.n
}

// Keys returns the endpoints currently present in the map, in no
// particular order.
func (m *EndpointMap) Keys() []Endpoint {
	keys := make([]Endpoint, 0, m.n)
	for _, bucket := range m.m {
		for _, entry := range bucket {
			keys = append(keys, entry.ep)
		}
	}
	return keys
}

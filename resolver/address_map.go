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

// AddressMap is a map of addresses to arbitrary values, keyed by Address
// identity (see Address.Equal).  Entries whose Addr collides are kept in a
// small bucket and disambiguated by a linear Equal scan, since Attributes
// may hold uncomparable values (e.g. slices) that can't be Go map keys
// directly.
//
// The zero value is not ready for use; call NewAddressMap.
type AddressMap struct {
	m map[string][]addressMapEntry
	n int
}

type addressMapEntry struct {
	addr  Address
	value any
}

// NewAddressMap creates a new AddressMap.
func NewAddressMap() *AddressMap {
	return &AddressMap{m: map[string][]addressMapEntry{}}
}

func (m *AddressMap) find(addr Address) (bucket []addressMapEntry, idx int) {
	bucket = m.m[addr.Addr]
	for i, e := range bucket {
		if e.addr.Equal(addr) {
			return bucket, i
		}
	}
	return bucket, -1
}

// Get returns the value for addr, and whether it was present.
func (m *AddressMap) Get(addr Address) (any, bool) {
	bucket, idx := m.find(addr)
	if idx == -1 {
		return nil, false
	}
	return bucket[idx].value, true
}

// Set sets the value for addr.
func (m *AddressMap) Set(addr Address, value any) {
	bucket, idx := m.find(addr)
	if idx != -1 {
		bucket[idx].value = value
		return
	}
	m.m[addr.Addr] = append(bucket, addressMapEntry{addr: addr, value: value})
	m.n++
}

// Delete removes addr from the map.
func (m *AddressMap) Delete(addr Address) {
	bucket, idx := m.find(addr)
	if idx == -1 {
		return
	}
	bucket[idx] = bucket[len(bucket)-1]
	m.m[addr.Addr] = bucket[:len(bucket)-1]
	m.n--
}

// Len returns the number of entries in the map.
func (m *AddressMap) Len() int {
	return m.n
}

// Keys returns all addresses present in the map.
func (m *AddressMap) Keys() []Address {
	ks := make([]Address, 0, m.n)
	for _, bucket := range m.m {
		for _, e := range bucket {
			ks = append(ks, e.addr)
		}
	}
	return ks
}

// Values returns all values present in the map.
func (m *AddressMap) Values() []any {
	vs := make([]any, 0, m.n)
	for _, bucket := range m.m {
		for _, e := range bucket {
			vs = append(vs, e.value)
		}
	}
	return vs
}

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

package endpointsharding

import (
	"testing"

	"github.com/corelb/lbtree/resolver"
)

func TestDedupRemovesDuplicates(t *testing.T) {
	eps := []resolver.Endpoint{
		{Addresses: []resolver.Address{{Addr: "b"}}},
		{Addresses: []resolver.Address{{Addr: "a"}}},
		{Addresses: []resolver.Address{{Addr: "b"}}},
	}
	out := Dedup(eps)
	if len(out) != 2 {
		t.Fatalf("Dedup() returned %d endpoints; want 2", len(out))
	}
	if out[0].Addresses[0].Addr != "a" || out[1].Addresses[0].Addr != "b" {
		t.Fatalf("Dedup() order = %v; want sorted [a, b]", out)
	}
}

func TestAddressesToEndpoints(t *testing.T) {
	addrs := []resolver.Address{{Addr: "x"}, {Addr: "y"}}
	eps := AddressesToEndpoints(addrs)
	if len(eps) != 2 {
		t.Fatalf("got %d endpoints; want 2", len(eps))
	}
	for i, e := range eps {
		if len(e.Addresses) != 1 || e.Addresses[0] != addrs[i] {
			t.Fatalf("endpoint %d = %v; want singleton wrapping %v", i, e, addrs[i])
		}
	}
}

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

import "testing"

func TestEndpointMapBasic(t *testing.T) {
	m := NewEndpointMap()
	e1 := Endpoint{Addresses: []Address{{Addr: "1.1.1.1"}}}
	e2 := Endpoint{Addresses: []Address{{Addr: "2.2.2.2"}}}

	if _, ok := m.Get(e1); ok {
		t.Fatal("Get on empty map returned ok=true")
	}

	m.Set(e1, "one")
	m.Set(e2, "two")
	if m.Len() != 2 {
		t.Fatalf("Len() = %d; want 2", m.Len())
	}
	if v, ok := m.Get(e1); !ok || v != "one" {
		t.Fatalf("Get(e1) = %v, %v; want \"one\", true", v, ok)
	}

	m.Set(e1, "uno")
	if v, _ := m.Get(e1); v != "uno" {
		t.Fatalf("Get(e1) after overwrite = %v; want \"uno\"", v)
	}
	if m.Len() != 2 {
		t.Fatalf("Len() after overwrite = %d; want 2", m.Len())
	}

	m.Delete(e2)
	if m.Len() != 1 {
		t.Fatalf("Len() after delete = %d; want 1", m.Len())
	}
	if _, ok := m.Get(e2); ok {
		t.Fatal("Get(e2) after delete returned ok=true")
	}
}

func TestEndpointMapOrderIndependent(t *testing.T) {
	m := NewEndpointMap()
	e1 := Endpoint{Addresses: []Address{{Addr: "a"}, {Addr: "b"}}}
	e2 := Endpoint{Addresses: []Address{{Addr: "b"}, {Addr: "a"}}}
	m.Set(e1, 1)
	if _, ok := m.Get(e2); !ok {
		t.Fatal("endpoints with the same addresses in different order were not considered equal")
	}
}

func TestEndpointMapKeys(t *testing.T) {
	m := NewEndpointMap()
	e1 := Endpoint{Addresses: []Address{{Addr: "1"}}}
	e2 := Endpoint{Addresses: []Address{{Addr: "2"}}}
	m.Set(e1, true)
	m.Set(e2, true)
	keys := m.Keys()
	if len(keys) != 2 {
		t.Fatalf("Keys() returned %d entries; want 2", len(keys))
	}
}

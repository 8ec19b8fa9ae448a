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

// Package attributes defines a generic key/value store used to transfer
// out-of-band information alongside a resolver.Address or resolver.Endpoint.
package attributes

import "fmt"

// Attributes is an immutable struct for storing and retrieving generic
// key/value pairs.  Attributes are used to add context to addresses and
// endpoints that flow between resolvers, load balancing policies and
// subchannels, without those layers needing to understand each other's
// types.  The zero value is valid and empty.
type Attributes struct {
	m map[any]any
}

// New returns a new Attributes containing the key/value pair.
func New(key, value any) *Attributes {
	return &Attributes{m: map[any]any{key: value}}
}

// WithValue returns a new Attributes containing the union of a's values
// with the new key/value pair.  If the same key appears multiple times, the
// last value overwrites all previous values for that key.  The original a
// is not modified.
func (a *Attributes) WithValue(key, value any) *Attributes {
	if a == nil {
		return New(key, value)
	}
	n := make(map[any]any, len(a.m)+1)
	for k, v := range a.m {
		n[k] = v
	}
	n[key] = value
	return &Attributes{m: n}
}

// Value returns the value associated with these attributes for key, or nil
// if no value is associated with key.
func (a *Attributes) Value(key any) any {
	if a == nil {
		return nil
	}
	return a.m[key]
}

// Equal returns whether a and o are equivalent.  If a value implements an
// Equal(o any) bool method, it is called to determine equality; otherwise
// reflect-free identity comparison is used, which means values that are not
// comparable (e.g. slices) will be considered unequal.
func (a *Attributes) Equal(o *Attributes) bool {
	if a == nil && o == nil {
		return true
	}
	if a == nil || o == nil {
		return false
	}
	if len(a.m) != len(o.m) {
		return false
	}
	for k, v := range a.m {
		ov, ok := o.m[k]
		if !ok {
			return false
		}
		if eq, ok := v.(interface{ Equal(o any) bool }); ok {
			if !eq.Equal(ov) {
				return false
			}
			continue
		}
		if !func() (eq bool) {
			defer func() {
				if recover() != nil {
					eq = false
				}
			}()
			return v == ov
		}() {
			return false
		}
	}
	return true
}

// String prints the key/value pairs ordered by the key's string
// representation, for debugging only; the output is not stable across
// versions.
func (a *Attributes) String() string {
	if a == nil {
		return "Attributes{}"
	}
	return fmt.Sprintf("Attributes{%v}", a.m)
}

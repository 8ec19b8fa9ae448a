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

// Package resolver declares the types consumed by the LB policy core: the
// shapes a name resolution layer hands down to the channel, which in turn
// forwards them to the root LB policy.  Resolver plugins themselves are out
// of scope here; only the data they produce is.
package resolver

import "github.com/corelb/lbtree/attributes"

// Address represents a single network endpoint, plus any attributes a
// resolver or LB policy chose to attach to it.
//
// Two Addresses compare equal under Equal iff their Addr, ServerName,
// Attributes and BalancerAttributes are all equal.
type Address struct {
	// Addr is the server address on which a connection will be established.
	Addr string
	// ServerName overrides the virtual hostname used for TLS and authority
	// purposes.  Empty unless explicitly set by the resolver.
	ServerName string
	// Attributes contains arbitrary data meaningful only to the resolver
	// and LB policies that understand the keys used.  Carried unmodified
	// from the resolver through to the subchannel.
	Attributes *attributes.Attributes
	// BalancerAttributes contains arbitrary data about this address which
	// is opaque to the channel, consumed only by LB policies.  Unlike
	// Attributes, it is not forwarded to the transport.
	BalancerAttributes *attributes.Attributes
}

// Equal returns whether a and o are identical for subchannel-identity
// purposes.
func (a Address) Equal(o Address) bool {
	return a.Addr == o.Addr &&
		a.ServerName == o.ServerName &&
		a.Attributes.Equal(o.Attributes) &&
		a.BalancerAttributes.Equal(o.BalancerAttributes)
}

// Endpoint groups together addresses that all represent the same logical
// backend (e.g. alternate IPs for the same task); an LB policy is free to
// pick any one address within an endpoint but should treat connections to
// sibling addresses as redundant.
type Endpoint struct {
	// Addresses contains at least one address making up this endpoint.
	Addresses []Address
	// Attributes contains arbitrary data about this endpoint, opaque to
	// the channel, consumed only by LB policies (e.g. locality, weight).
	Attributes *attributes.Attributes
}

// ResolveNowOptions configures a ResolveNow request made to the resolver.
type ResolveNowOptions struct{}

// State holds the state produced by a resolver or forwarded to the root LB
// policy, encapsulated by UpdateArgs elsewhere in this module.
type State struct {
	// Addresses is the flat address list produced by the resolver.  New
	// style resolvers should prefer Endpoints.
	Addresses []Address
	// Endpoints groups the same backends by logical endpoint.
	Endpoints []Endpoint
	// Attributes contains arbitrary data the resolver wants to communicate
	// to the channel or LB policies, independent of any one address.
	Attributes *attributes.Attributes
}

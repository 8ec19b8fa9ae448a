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

// Package serviceconfig declares the marker interface implemented by every
// LB policy's typed, immutable, reference-counted configuration object.
// Parsing of raw JSON into these typed objects is a concern owned by each
// policy's Builder.ParseConfig; this package only standardizes the shape
// configs travel in once parsed.
package serviceconfig

// LoadBalancingConfig is implemented by the configuration type of every LB
// policy.  It carries no methods; its only purpose is to let the channel
// and composing policies pass an opaque, already-validated configuration
// down to a child without depending on that child's concrete config type.
type LoadBalancingConfig interface {
	isLoadBalancingConfig()
}

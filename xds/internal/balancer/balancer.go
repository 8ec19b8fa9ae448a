/*
 *
 * Copyright 2020 gRPC authors.
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

// Package balancer installs all the xds-facing balancers described in
// §4.5-§4.10 of the LB policy specification, plus weighted_target which
// they compose over.
package balancer

import (
	_ "github.com/corelb/lbtree/balancer/weightedtarget"                // Register the weighted_target_experimental balancer
	_ "github.com/corelb/lbtree/xds/internal/balancer/clusterimpl"      // Register the xds_cluster_impl_experimental balancer
	_ "github.com/corelb/lbtree/xds/internal/balancer/outlierdetection" // Register the outlier_detection_experimental balancer
	_ "github.com/corelb/lbtree/xds/internal/balancer/overridehost"     // Register the xds_override_host_experimental balancer
	_ "github.com/corelb/lbtree/xds/internal/balancer/priority"         // Register the priority_experimental balancer
	_ "github.com/corelb/lbtree/xds/internal/balancer/wrrlocality"      // Register the xds_wrr_locality_experimental balancer
)

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

package overridehost

import (
	"github.com/corelb/lbtree/balancer"
	"github.com/corelb/lbtree/connectivity"
)

// obPicker reads the host-override call attribute and, when it resolves
// to a live wrapper, returns that subchannel directly without consulting
// the child picker (§4.9 scenario F). Otherwise it delegates.
type obPicker struct {
	child  balancer.Picker
	lookup func(host string) (*scWrapper, bool)
}

func (p *obPicker) Pick(info balancer.PickInfo) (balancer.PickResult, error) {
	if host := hostOverrideFromContext(info.Ctx); host != "" {
		if w, ok := p.lookup(host); ok {
			// Supplemented behavior from original_source/: reactivate an
			// idle override target instead of only forwarding to the
			// child picker as the fallback path.
			if w.currentState() == connectivity.Idle {
				w.Connect()
			}
			return balancer.PickResult{SubConn: w}, nil
		}
	}
	if p.child == nil {
		return balancer.PickResult{}, balancer.ErrNoSubConnAvailable
	}
	return p.child.Pick(info)
}

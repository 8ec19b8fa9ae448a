/*
 *
 * Copyright 2022 gRPC authors.
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

package outlierdetection

import "github.com/corelb/lbtree/balancer"

// odPicker decorates the child's picker so each pick's outcome is recorded
// against the address's call counter (§4.7's per-call tracker contract):
// success exactly when the call's final status is nil, failure otherwise,
// and the child's own Done callback always runs first.
type odPicker struct {
	parent   *odBalancer
	child    balancer.Picker
	counting bool
}

func (p *odPicker) Pick(info balancer.PickInfo) (balancer.PickResult, error) {
	pr, err := p.child.Pick(info)
	if err != nil {
		return pr, err
	}
	if !p.counting {
		return pr, nil
	}
	w, ok := pr.SubConn.(*scWrapper)
	if !ok || w.disabled || w.counter == nil {
		return pr, nil
	}
	childDone := pr.Done
	pr.Done = func(di balancer.DoneInfo) {
		if childDone != nil {
			childDone(di)
		}
		if di.Err == nil {
			w.counter.recordSuccess()
		} else {
			w.counter.recordFailure()
		}
	}
	return pr, nil
}

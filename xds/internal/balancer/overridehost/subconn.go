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
	"sync"

	"github.com/corelb/lbtree/balancer"
	"github.com/corelb/lbtree/connectivity"
)

// scWrapper is the subchannel handle installed into the host-override map
// (§4.9): the map holds a weak reference to it (the parent never keeps it
// alive past the child's own ownership), populated when the child creates
// a SubConn for an address and cleared from the map in Shutdown, the
// closest Go analogue to "the wrapper's destructor".
type scWrapper struct {
	balancer.SubConn

	parent        *obBalancer
	key           string
	childListener func(balancer.SubConnState)

	mu    sync.Mutex
	state connectivity.State
}

func (w *scWrapper) updateState(s balancer.SubConnState) {
	w.mu.Lock()
	w.state = s.ConnectivityState
	w.mu.Unlock()
	if w.childListener != nil {
		w.childListener(s)
	}
}

func (w *scWrapper) currentState() connectivity.State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *scWrapper) Shutdown() {
	w.SubConn.Shutdown()
	w.parent.clearSlot(w.key, w)
}

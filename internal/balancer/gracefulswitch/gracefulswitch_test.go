/*
 *
 * Copyright 2021 gRPC authors.
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

package gracefulswitch

import (
	"testing"

	"github.com/corelb/lbtree/balancer"
	"github.com/corelb/lbtree/connectivity"
	"github.com/corelb/lbtree/internal/balancer/stub"
	"github.com/corelb/lbtree/internal/grpctest"
	"github.com/corelb/lbtree/resolver"
)

type s struct {
	grpctest.Tester
}

func Test(t *testing.T) {
	grpctest.RunSubTests(t, s{})
}

type testCC struct {
	balancer.ClientConn
	states []balancer.State
}

func (t *testCC) UpdateState(s balancer.State) { t.states = append(t.states, s) }
func (t *testCC) NewSubConn([]resolver.Address, balancer.NewSubConnOptions) (balancer.SubConn, error) {
	return &testSubConn{}, nil
}

type testSubConn struct{ balancer.SubConn }

func (*testSubConn) Connect()  {}
func (*testSubConn) Shutdown() {}

func closesOldChild() stub.BalancerFuncs {
	var closed bool
	return stub.BalancerFuncs{
		Close: func(*stub.BalancerData) { closed = true },
		UpdateClientConnState: func(bd *stub.BalancerData, _ balancer.ClientConnState) error {
			bd.ClientConn.UpdateState(balancer.State{ConnectivityState: connectivity.Ready})
			return nil
		},
	}
}

func (s) TestSwitchToPromotesOnReady(t *testing.T) {
	stub.Register("gsb-old", closesOldChild())
	stub.Register("gsb-new", closesOldChild())

	cc := &testCC{}
	gsb := NewBalancer(cc, balancer.BuildOptions{})

	bwOld, err := gsb.SwitchTo(balancer.Get("gsb-old"))
	if err != nil {
		t.Fatalf("SwitchTo(old) failed: %v", err)
	}
	bwOld.UpdateClientConnState(balancer.ClientConnState{})
	if len(cc.states) != 1 || cc.states[0].ConnectivityState != connectivity.Ready {
		t.Fatalf("after first child READY, cc.states = %+v; want one Ready update", cc.states)
	}

	bwNew, err := gsb.SwitchTo(balancer.Get("gsb-new"))
	if err != nil {
		t.Fatalf("SwitchTo(new) failed: %v", err)
	}
	// The pending child hasn't reported READY yet, so the old child
	// remains current and still owns the picker.
	if !bwOld.isCurrent() {
		t.Fatal("pending child promoted before reporting READY")
	}

	bwNew.UpdateClientConnState(balancer.ClientConnState{})
	if !bwNew.isCurrent() {
		t.Fatal("new child did not get promoted to current after reporting Ready")
	}
}

func (s) TestCloseClosesChildren(t *testing.T) {
	var closedCount int
	stub.Register("gsb-close", stub.BalancerFuncs{
		Close: func(*stub.BalancerData) { closedCount++ },
	})

	cc := &testCC{}
	gsb := NewBalancer(cc, balancer.BuildOptions{})
	if _, err := gsb.SwitchTo(balancer.Get("gsb-close")); err != nil {
		t.Fatalf("SwitchTo failed: %v", err)
	}
	gsb.Close()
	if closedCount != 1 {
		t.Fatalf("closedCount = %d; want 1", closedCount)
	}
	if _, err := gsb.SwitchTo(balancer.Get("gsb-close")); err != errBalancerClosed {
		t.Fatalf("SwitchTo after Close = %v; want errBalancerClosed", err)
	}
}

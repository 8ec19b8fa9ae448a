/*
 *
 * Copyright 2017 gRPC authors.
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

package pickfirst

import (
	"testing"

	"github.com/corelb/lbtree/balancer"
	"github.com/corelb/lbtree/connectivity"
	"github.com/corelb/lbtree/internal/grpctest"
	"github.com/corelb/lbtree/resolver"
)

type s struct {
	grpctest.Tester
}

func Test(t *testing.T) {
	grpctest.RunSubTests(t, s{})
}

type testSubConn struct {
	balancer.SubConn
	addr     resolver.Address
	listener func(balancer.SubConnState)
	shutdown bool
	connects int
}

func (sc *testSubConn) Connect()  { sc.connects++ }
func (sc *testSubConn) Shutdown() { sc.shutdown = true }

type testCC struct {
	balancer.ClientConn
	subConns     []*testSubConn
	states       []balancer.State
	resolveNows  int
}

func (cc *testCC) NewSubConn(addrs []resolver.Address, opts balancer.NewSubConnOptions) (balancer.SubConn, error) {
	sc := &testSubConn{addr: addrs[0], listener: opts.StateListener}
	cc.subConns = append(cc.subConns, sc)
	return sc, nil
}

func (cc *testCC) UpdateState(st balancer.State) { cc.states = append(cc.states, st) }
func (cc *testCC) ResolveNow(resolver.ResolveNowOptions) { cc.resolveNows++ }

func (s) TestSelectsFirstReady(t *testing.T) {
	cc := &testCC{}
	b := builder{}.Build(cc, balancer.BuildOptions{}).(*pickfirstBalancer)

	addrs := []resolver.Address{{Addr: "A"}, {Addr: "B"}, {Addr: "C"}}
	if err := b.UpdateClientConnState(balancer.ClientConnState{ResolverState: resolver.State{Addresses: addrs}}); err != nil {
		t.Fatalf("UpdateClientConnState failed: %v", err)
	}
	if len(cc.subConns) != 3 {
		t.Fatalf("got %d subconns, want 3", len(cc.subConns))
	}

	// Deliver initial IDLE state for all three; the first one should be
	// kicked to connect once all have reported their initial state.
	for _, sc := range cc.subConns {
		sc.listener(balancer.SubConnState{ConnectivityState: connectivity.Idle})
	}
	if cc.subConns[0].connects == 0 {
		t.Fatal("first subconn was never told to Connect")
	}

	// A fails.
	cc.subConns[0].listener(balancer.SubConnState{ConnectivityState: connectivity.TransientFailure})
	if cc.subConns[1].connects == 0 {
		t.Fatal("second subconn was never told to Connect after first failed")
	}

	// B becomes READY.
	cc.subConns[1].listener(balancer.SubConnState{ConnectivityState: connectivity.Ready})

	last := cc.states[len(cc.states)-1]
	if last.ConnectivityState != connectivity.Ready {
		t.Fatalf("final state = %v; want Ready", last.ConnectivityState)
	}
	pr, err := last.Picker.Pick(balancer.PickInfo{})
	if err != nil || pr.SubConn != balancer.SubConn(cc.subConns[1]) {
		t.Fatalf("Pick() = %v, %v; want subConns[1], nil", pr, err)
	}
	if !cc.subConns[0].shutdown || !cc.subConns[2].shutdown {
		t.Fatal("non-selected subconns were not shut down")
	}
	if cc.subConns[1].shutdown {
		t.Fatal("selected subconn was shut down")
	}
}

func (s) TestEmptyAddressListIsBadResolverState(t *testing.T) {
	cc := &testCC{}
	b := builder{}.Build(cc, balancer.BuildOptions{}).(*pickfirstBalancer)
	err := b.UpdateClientConnState(balancer.ClientConnState{})
	if err != balancer.ErrBadResolverState {
		t.Fatalf("UpdateClientConnState(empty) = %v; want ErrBadResolverState", err)
	}
}

func (s) TestSelectedGoesDownEntersIdle(t *testing.T) {
	cc := &testCC{}
	b := builder{}.Build(cc, balancer.BuildOptions{}).(*pickfirstBalancer)
	addrs := []resolver.Address{{Addr: "A"}}
	b.UpdateClientConnState(balancer.ClientConnState{ResolverState: resolver.State{Addresses: addrs}})
	cc.subConns[0].listener(balancer.SubConnState{ConnectivityState: connectivity.Ready})

	cc.subConns[0].listener(balancer.SubConnState{ConnectivityState: connectivity.Idle})
	last := cc.states[len(cc.states)-1]
	if last.ConnectivityState != connectivity.Idle {
		t.Fatalf("state after selected subchannel drops = %v; want Idle", last.ConnectivityState)
	}
	if cc.resolveNows == 0 {
		t.Fatal("expected a re-resolution request after the selected subchannel went down")
	}
}

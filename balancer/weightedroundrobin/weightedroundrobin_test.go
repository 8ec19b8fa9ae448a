/*
 *
 * Copyright 2023 gRPC authors.
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

package weightedroundrobin

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
}

func (sc *testSubConn) Connect()  {}
func (sc *testSubConn) Shutdown() { sc.shutdown = true }
func (sc *testSubConn) GetOrBuildProducer(balancer.ProducerBuilder) (balancer.Producer, func()) {
	return nil, func() {}
}

type testCC struct {
	balancer.ClientConn
	subConns []*testSubConn
	states   []balancer.State
}

func (cc *testCC) NewSubConn(addrs []resolver.Address, opts balancer.NewSubConnOptions) (balancer.SubConn, error) {
	sc := &testSubConn{addr: addrs[0], listener: opts.StateListener}
	cc.subConns = append(cc.subConns, sc)
	return sc, nil
}

func (cc *testCC) UpdateState(st balancer.State) { cc.states = append(cc.states, st) }
func (cc *testCC) ResolveNow(resolver.ResolveNowOptions) {}

func (s) TestReadyPickerSpreadsAcrossEndpoints(t *testing.T) {
	cc := &testCC{}
	b := builder{}.Build(cc, balancer.BuildOptions{}).(*wrrBalancer)
	defer b.Close()

	addrs := []resolver.Address{{Addr: "A"}, {Addr: "B"}}
	if err := b.UpdateClientConnState(balancer.ClientConnState{ResolverState: resolver.State{Addresses: addrs}}); err != nil {
		t.Fatalf("UpdateClientConnState failed: %v", err)
	}
	if len(cc.subConns) != 2 {
		t.Fatalf("got %d subconns, want 2", len(cc.subConns))
	}

	for _, sc := range cc.subConns {
		sc.listener(balancer.SubConnState{ConnectivityState: connectivity.Ready})
	}

	last := cc.states[len(cc.states)-1]
	if last.ConnectivityState != connectivity.Ready {
		t.Fatalf("final state = %v; want Ready", last.ConnectivityState)
	}
	seen := map[balancer.SubConn]bool{}
	for i := 0; i < 10; i++ {
		pr, err := last.Picker.Pick(balancer.PickInfo{})
		if err != nil {
			t.Fatalf("Pick() failed: %v", err)
		}
		seen[pr.SubConn] = true
	}
	if len(seen) != 2 {
		t.Fatalf("picks only ever reached %d of 2 subconns", len(seen))
	}
}

func (s) TestEmptyAddressListIsBadResolverState(t *testing.T) {
	cc := &testCC{}
	b := builder{}.Build(cc, balancer.BuildOptions{}).(*wrrBalancer)
	defer b.Close()
	err := b.UpdateClientConnState(balancer.ClientConnState{})
	if err != balancer.ErrBadResolverState {
		t.Fatalf("UpdateClientConnState(empty) = %v; want ErrBadResolverState", err)
	}
}

func (s) TestNoReadySubConnsProducesErrPicker(t *testing.T) {
	cc := &testCC{}
	b := builder{}.Build(cc, balancer.BuildOptions{}).(*wrrBalancer)
	defer b.Close()
	addrs := []resolver.Address{{Addr: "A"}}
	b.UpdateClientConnState(balancer.ClientConnState{ResolverState: resolver.State{Addresses: addrs}})
	cc.subConns[0].listener(balancer.SubConnState{ConnectivityState: connectivity.TransientFailure})

	last := cc.states[len(cc.states)-1]
	if last.ConnectivityState != connectivity.TransientFailure {
		t.Fatalf("state = %v; want TransientFailure", last.ConnectivityState)
	}
	if _, err := last.Picker.Pick(balancer.PickInfo{}); err == nil {
		t.Fatal("Pick() on all-failed balancer succeeded; want error")
	}
}

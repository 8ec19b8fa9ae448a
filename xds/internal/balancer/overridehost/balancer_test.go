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
	"context"
	"testing"

	"github.com/corelb/lbtree/balancer"
	"github.com/corelb/lbtree/connectivity"
	"github.com/corelb/lbtree/internal/balancer/stub"
	internalserviceconfig "github.com/corelb/lbtree/internal/serviceconfig"
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
	scs    []*testSubConn
}

func (t *testCC) UpdateState(s balancer.State) { t.states = append(t.states, s) }
func (t *testCC) NewSubConn(addrs []resolver.Address, opts balancer.NewSubConnOptions) (balancer.SubConn, error) {
	sc := &testSubConn{addr: addrs[0].Addr, listener: opts.StateListener}
	t.scs = append(t.scs, sc)
	return sc, nil
}

type testSubConn struct {
	balancer.SubConn
	addr     string
	listener func(balancer.SubConnState)
}

func (*testSubConn) Connect()  {}
func (*testSubConn) Shutdown() {}

// childPicksFirst always returns the first SubConn the child created,
// regardless of call attributes, so override picks can be distinguished
// from the child's own choice.
type childPicksFirst struct{ sc balancer.SubConn }

func (p *childPicksFirst) Pick(balancer.PickInfo) (balancer.PickResult, error) {
	return balancer.PickResult{SubConn: p.sc}, nil
}

// oneSubConnChild creates one SubConn per resolved address (so every
// address gets its own override slot) and always picks the first one it
// created, so a Pick routed through an override target is distinguishable
// from the child's own default choice.
func oneSubConnChild() stub.BalancerFuncs {
	return stub.BalancerFuncs{
		UpdateClientConnState: func(bd *stub.BalancerData, ccs balancer.ClientConnState) error {
			var first balancer.SubConn
			for _, a := range ccs.ResolverState.Addresses {
				sc, err := bd.ClientConn.NewSubConn([]resolver.Address{a}, balancer.NewSubConnOptions{})
				if err != nil {
					return err
				}
				if first == nil {
					first = sc
				}
			}
			bd.ClientConn.UpdateState(balancer.State{
				ConnectivityState: connectivity.Ready,
				Picker:            &childPicksFirst{sc: first},
			})
			return nil
		},
	}
}

func (s) TestOverrideBypassesChildPicker(t *testing.T) {
	stub.Register("overridehost-child", oneSubConnChild())

	cc := &testCC{}
	b := builder{}.Build(cc, balancer.BuildOptions{})
	defer b.Close()

	cfg := &LBConfig{ChildPolicy: &internalserviceconfig.BalancerConfig{Name: "overridehost-child"}}
	rs := resolver.State{Addresses: []resolver.Address{{Addr: "1.1.1.1:1"}, {Addr: "2.2.2.2:2"}}}
	if err := b.UpdateClientConnState(balancer.ClientConnState{ResolverState: rs, BalancerConfig: cfg}); err != nil {
		t.Fatalf("UpdateClientConnState failed: %v", err)
	}

	ob := b.(*obBalancer)
	w, ok := ob.lookup("2.2.2.2:2")
	if !ok {
		t.Fatal("2.2.2.2:2 not present in the host-override map; the child policy never created a SubConn for it")
	}
	w.updateState(balancer.SubConnState{ConnectivityState: connectivity.Ready})

	p := cc.states[len(cc.states)-1].Picker
	ctx := NewContextWithHostOverride(context.Background(), "2.2.2.2:2")
	res, err := p.Pick(balancer.PickInfo{Ctx: ctx})
	if err != nil {
		t.Fatalf("Pick with a host override failed: %v", err)
	}
	if res.SubConn != w {
		t.Fatal("override pick did not return the overridden address's SubConn")
	}

	res2, err := p.Pick(balancer.PickInfo{Ctx: context.Background()})
	if err != nil {
		t.Fatalf("Pick without a host override failed: %v", err)
	}
	if res2.SubConn == w {
		t.Fatal("pick with no override unexpectedly returned the override target instead of the child's own choice")
	}
}

func (s) TestShutdownClearsSlot(t *testing.T) {
	stub.Register("overridehost-child2", oneSubConnChild())

	cc := &testCC{}
	b := builder{}.Build(cc, balancer.BuildOptions{})
	defer b.Close()

	cfg := &LBConfig{ChildPolicy: &internalserviceconfig.BalancerConfig{Name: "overridehost-child2"}}
	rs := resolver.State{Addresses: []resolver.Address{{Addr: "3.3.3.3:3"}}}
	if err := b.UpdateClientConnState(balancer.ClientConnState{ResolverState: rs, BalancerConfig: cfg}); err != nil {
		t.Fatalf("UpdateClientConnState failed: %v", err)
	}

	ob := b.(*obBalancer)
	w, ok := ob.lookup("3.3.3.3:3")
	if !ok {
		t.Fatal("slot for 3.3.3.3:3 missing after child created its SubConn")
	}
	w.Shutdown()
	if _, ok := ob.lookup("3.3.3.3:3"); ok {
		t.Fatal("slot for 3.3.3.3:3 still resolves after Shutdown")
	}
}

func (s) TestParseConfigRequiresChildPolicy(t *testing.T) {
	if _, err := parseConfig([]byte(`{}`)); err == nil {
		t.Fatal("parseConfig with no childPolicy succeeded; want error")
	}
}

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

package wrrlocality

import (
	"encoding/json"
	"testing"

	"github.com/corelb/lbtree/balancer"
	"github.com/corelb/lbtree/connectivity"
	"github.com/corelb/lbtree/internal/balancer/stub"
	internalserviceconfig "github.com/corelb/lbtree/internal/serviceconfig"
	"github.com/corelb/lbtree/internal/grpctest"
	"github.com/corelb/lbtree/resolver"
	xdsinternal "github.com/corelb/lbtree/xds/internal"
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

func readyStub(name string) stub.BalancerFuncs {
	return stub.BalancerFuncs{
		UpdateClientConnState: func(bd *stub.BalancerData, _ balancer.ClientConnState) error {
			bd.ClientConn.UpdateState(balancer.State{
				ConnectivityState: connectivity.Ready,
				Picker:            &constPicker{name: name},
			})
			return nil
		},
	}
}

type constPicker struct{ name string }

func (p *constPicker) Pick(balancer.PickInfo) (balancer.PickResult, error) {
	return balancer.PickResult{SubConn: &testSubConn{}}, nil
}

func endpointWithLocality(region string, weight uint32) resolver.Endpoint {
	e := resolver.Endpoint{Addresses: []resolver.Address{{Addr: region + ":1"}}}
	e = xdsinternal.SetLocalityIDInEndpoint(e, xdsinternal.LocalityID{Region: region})
	addr := xdsinternal.SetLocalityWeight(e.Addresses[0], weight)
	e.Addresses = []resolver.Address{addr}
	return e
}

func (s) TestPartitionByLocality(t *testing.T) {
	stub.Register("wrrlocality-child", readyStub("child"))

	rs := resolver.State{Endpoints: []resolver.Endpoint{
		endpointWithLocality("us-east", 2),
		endpointWithLocality("us-east", 2),
		endpointWithLocality("us-west", 1),
	}}

	byLocality, weights, err := partitionByLocality(rs, testLogger{})
	if err != nil {
		t.Fatalf("partitionByLocality failed: %v", err)
	}
	if len(byLocality) != 2 {
		t.Fatalf("got %d localities, want 2", len(byLocality))
	}
	eastID := xdsinternal.LocalityID{Region: "us-east"}.ToString()
	westID := xdsinternal.LocalityID{Region: "us-west"}.ToString()
	if len(byLocality[eastID]) != 2 {
		t.Fatalf("us-east got %d endpoints, want 2", len(byLocality[eastID]))
	}
	if weights[eastID] != 2 || weights[westID] != 1 {
		t.Fatalf("weights = %+v; want us-east=2, us-west=1", weights)
	}
}

func (s) TestUpdateClientConnStateBuildsOneChildPerLocality(t *testing.T) {
	stub.Register("wrrlocality-child2", readyStub("child2"))

	cc := &testCC{}
	b := builder{}.Build(cc, balancer.BuildOptions{})
	defer b.Close()

	cfg := &LBConfig{ChildPolicy: &internalserviceconfig.BalancerConfig{Name: "wrrlocality-child2"}}
	rs := resolver.State{Endpoints: []resolver.Endpoint{
		endpointWithLocality("us-east", 1),
		endpointWithLocality("us-west", 1),
	}}
	if err := b.UpdateClientConnState(balancer.ClientConnState{ResolverState: rs, BalancerConfig: cfg}); err != nil {
		t.Fatalf("UpdateClientConnState failed: %v", err)
	}

	wb := b.(*wrrlBalancer)
	if len(wb.children) != 2 {
		t.Fatalf("got %d locality children, want 2", len(wb.children))
	}
	if len(cc.states) == 0 || cc.states[len(cc.states)-1].ConnectivityState != connectivity.Ready {
		t.Fatalf("cc.states = %+v; want a trailing Ready update", cc.states)
	}
}

func (s) TestParseConfigRequiresChildPolicy(t *testing.T) {
	if _, err := parseConfig(json.RawMessage(`{}`)); err == nil {
		t.Fatal("parseConfig with no childPolicy succeeded; want error")
	}
	stub.Register("wrrlocality-parse-child", stub.BalancerFuncs{})
	cfg, err := parseConfig(json.RawMessage(`{"childPolicy":{"wrrlocality-parse-child":{}}}`))
	if err != nil {
		t.Fatalf("parseConfig failed: %v", err)
	}
	if cfg.ChildPolicy == nil {
		t.Fatal("parsed config has nil ChildPolicy")
	}
}

type testLogger struct{}

func (testLogger) Info(args ...any)                    {}
func (testLogger) Infoln(args ...any)                  {}
func (testLogger) Infof(format string, args ...any)    {}
func (testLogger) Warning(args ...any)                 {}
func (testLogger) Warningln(args ...any)               {}
func (testLogger) Warningf(format string, args ...any) {}
func (testLogger) Error(args ...any)                   {}
func (testLogger) Errorln(args ...any)                 {}
func (testLogger) Errorf(format string, args ...any)   {}
func (testLogger) V(l int) bool                        { return false }

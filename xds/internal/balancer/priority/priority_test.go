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

package priority

import (
	"testing"
	"time"

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
	states chan balancer.State
}

func newTestCC() *testCC { return &testCC{states: make(chan balancer.State, 10)} }

func (t *testCC) UpdateState(s balancer.State)           { t.states <- s }
func (t *testCC) RecordInt64Count(any, int64, ...string) {}
func (t *testCC) AddTraceEvent(string)                   {}
func (t *testCC) NewSubConn(addrs []resolver.Address, _ balancer.NewSubConnOptions) (balancer.SubConn, error) {
	return &testSubConn{}, nil
}

type testSubConn struct{ balancer.SubConn }

func (*testSubConn) Connect()  {}
func (*testSubConn) Shutdown() {}

func (t *testCC) latest(test *testing.T) balancer.State {
	test.Helper()
	select {
	case s := <-t.states:
		return s
	case <-time.After(time.Second):
		test.Fatal("timed out waiting for UpdateState")
	}
	return balancer.State{}
}

func (t *testCC) expectNoUpdate(test *testing.T) {
	test.Helper()
	select {
	case st := <-t.states:
		test.Fatalf("unexpected UpdateState(%v)", st)
	case <-time.After(100 * time.Millisecond):
	}
}

type constPicker struct{ state connectivity.State }

func (p constPicker) Pick(balancer.PickInfo) (balancer.PickResult, error) {
	if p.state != connectivity.Ready {
		return balancer.PickResult{}, balancer.ErrNoSubConnAvailable
	}
	return balancer.PickResult{SubConn: &testSubConn{}}, nil
}

// silentChild never calls UpdateState on its own; the test drives its
// reported connectivity state directly through the priority balancer's
// serializer, the way a real subchannel watcher callback would.
func silentChild(name string) {
	stub.Register(name, stub.BalancerFuncs{})
}

func newPriorityConfig(hi, lo string) *LBConfig {
	return &LBConfig{
		Children: map[string]Child{
			"hi": {Config: &internalserviceconfig.BalancerConfig{Name: hi}},
			"lo": {Config: &internalserviceconfig.BalancerConfig{Name: lo}},
		},
		Priorities: []string{"hi", "lo"},
	}
}

// reportChildState simulates the named child's underlying policy pushing a
// new state upward, by invoking the priority balancer's own state-update
// handler inside its serializer -- the same synchronous path a real child
// balancer's helper call takes.
func reportChildState(t *testing.T, b *priorityBalancer, name string, st connectivity.State) {
	t.Helper()
	done := make(chan struct{})
	b.serializer.Run(func() {
		cs, ok := b.children[name]
		if !ok {
			t.Errorf("reportChildState: no such child %q", name)
			close(done)
			return
		}
		b.handleChildStateUpdate(cs, balancer.State{ConnectivityState: st, Picker: constPicker{state: st}})
		close(done)
	})
	<-done
}

func (s) TestParseConfigRejectsUnknownPriority(t *testing.T) {
	if _, err := parseConfig([]byte(`{"children":{},"priorities":["hi"]}`)); err == nil {
		t.Fatal("parseConfig with a priority absent from children succeeded; want error")
	}
}

func (s) TestHighPriorityPreferredOnceReady(t *testing.T) {
	silentChild("priority-hi-a")
	silentChild("priority-lo-a")

	cc := newTestCC()
	bal := builder{}.Build(cc, balancer.BuildOptions{})
	defer bal.Close()
	b := bal.(*priorityBalancer)

	if err := b.UpdateClientConnState(balancer.ClientConnState{
		BalancerConfig: newPriorityConfig("priority-hi-a", "priority-lo-a"),
	}); err != nil {
		t.Fatalf("UpdateClientConnState failed: %v", err)
	}
	if st := cc.latest(t); st.ConnectivityState != connectivity.Connecting {
		t.Fatalf("initial state = %v; want CONNECTING", st.ConnectivityState)
	}

	reportChildState(t, b, "hi", connectivity.Ready)
	if st := cc.latest(t); st.ConnectivityState != connectivity.Ready {
		t.Fatalf("state after hi READY = %v; want READY", st.ConnectivityState)
	}

	// lo becoming ready must not preempt hi (invariant 8: once priority k is
	// selected and READY, no lower priority is adopted regardless of its state).
	reportChildState(t, b, "lo", connectivity.Ready)
	cc.expectNoUpdate(t)
}

func (s) TestFailoverToLowerPriority(t *testing.T) {
	silentChild("priority-hi-b")
	silentChild("priority-lo-b")

	cc := newTestCC()
	bal := builder{}.Build(cc, balancer.BuildOptions{})
	defer bal.Close()
	b := bal.(*priorityBalancer)

	done := make(chan struct{})
	b.serializer.Run(func() {
		b.failoverTimeout = 10 * time.Millisecond
		close(done)
	})
	<-done

	if err := b.UpdateClientConnState(balancer.ClientConnState{
		BalancerConfig: newPriorityConfig("priority-hi-b", "priority-lo-b"),
	}); err != nil {
		t.Fatalf("UpdateClientConnState failed: %v", err)
	}
	if st := cc.latest(t); st.ConnectivityState != connectivity.Connecting {
		t.Fatalf("initial state = %v; want CONNECTING", st.ConnectivityState)
	}

	// hi never reaches READY/IDLE; once the (shortened) failover timer fires
	// and lo reports READY, lo should be adopted.
	// Wait for the failover timer to fire and create lo.
	if st := cc.latest(t); st.ConnectivityState != connectivity.Connecting {
		t.Fatalf("state after failover = %v; want CONNECTING", st.ConnectivityState)
	}
	reportChildState(t, b, "lo", connectivity.Ready)

	var last balancer.State
	deadline := time.After(2 * time.Second)
	for last.ConnectivityState != connectivity.Ready {
		select {
		case last = <-cc.states:
		case <-deadline:
			t.Fatalf("never failed over to lo; last state %v", last.ConnectivityState)
		}
	}

	// hi recovering should be re-adopted, demoting lo again.
	reportChildState(t, b, "hi", connectivity.Ready)
	var sawHiReady bool
	deadline = time.After(time.Second)
	for !sawHiReady {
		select {
		case st := <-cc.states:
			if st.ConnectivityState == connectivity.Ready {
				sawHiReady = true
			}
		case <-deadline:
			t.Fatal("hi recovering to READY was never reflected upward")
		}
	}
}

func (s) TestEmptyPriorityListRejected(t *testing.T) {
	cc := newTestCC()
	bal := builder{}.Build(cc, balancer.BuildOptions{})
	defer bal.Close()
	if err := bal.UpdateClientConnState(balancer.ClientConnState{
		BalancerConfig: &LBConfig{Children: map[string]Child{}, Priorities: nil},
	}); err == nil {
		t.Fatal("UpdateClientConnState with an empty priority list succeeded; want error")
	}
}

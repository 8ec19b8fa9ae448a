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

// Package pickfirst implements the pick_first LB policy: attempt each
// address in order, select the first one that reaches READY, and tear
// down the rest.
package pickfirst

import (
	"encoding/json"
	"fmt"

	"github.com/corelb/lbtree/balancer"
	"github.com/corelb/lbtree/connectivity"
	"github.com/corelb/lbtree/internal/grpclog"
	"github.com/corelb/lbtree/resolver"
	"github.com/corelb/lbtree/serviceconfig"
	"github.com/corelb/lbtree/status"
	"github.com/corelb/lbtree/codes"
)

// Name is the name of the pick_first balancer.
const Name = "pick_first"

func init() {
	balancer.Register(builder{})
}

type builder struct{}

func (builder) Name() string { return Name }

func (builder) Build(cc balancer.ClientConn, opts balancer.BuildOptions) balancer.Balancer {
	b := &pickfirstBalancer{
		cc:     cc,
		logger: grpclog.Component("balancer/" + Name),
	}
	return b
}

func (builder) ParseConfig(json.RawMessage) (serviceconfig.LoadBalancingConfig, error) {
	return &lbConfig{}, nil
}

type lbConfig struct {
	serviceconfig.LoadBalancingConfig
}

type scData struct {
	sc        balancer.SubConn
	addr      resolver.Address
	state     connectivity.State
	seenInitial bool
	err       error
}

// scList is one generation of subchannels built from a single resolver
// update. Exactly one of b.current / b.pending points at it.
type scList struct {
	subs             []*scData
	attemptingIndex  int
	inTransientFailure bool
	allSeenInitial   bool
}

type pickfirstBalancer struct {
	cc     balancer.ClientConn
	logger grpclog.LoggerV2

	latestArgs balancer.ClientConnState
	current    *scList
	pending    *scList
	selected   *scData
	idle       bool
	shutdown   bool
}

func (b *pickfirstBalancer) ResolverError(err error) {
	if b.current == nil && b.pending == nil {
		b.cc.UpdateState(balancer.State{
			ConnectivityState: connectivity.TransientFailure,
			Picker:            &errPicker{err: status.Errorf(codes.Unavailable, "resolver error: %v", err)},
		})
	}
}

func (b *pickfirstBalancer) UpdateClientConnState(s balancer.ClientConnState) error {
	if len(s.ResolverState.Addresses) == 0 && len(s.ResolverState.Endpoints) == 0 {
		b.ResolverError(fmt.Errorf("produced zero addresses"))
		return balancer.ErrBadResolverState
	}
	b.latestArgs = s
	if !b.idle {
		b.attemptToConnect()
	}
	return nil
}

func (b *pickfirstBalancer) attemptToConnect() {
	addrs := b.latestArgs.ResolverState.Addresses

	sl := &scList{subs: make([]*scData, 0, len(addrs))}
	for _, a := range addrs {
		sd := &scData{addr: a, state: connectivity.Idle}
		sc, err := b.cc.NewSubConn([]resolver.Address{a}, balancer.NewSubConnOptions{
			StateListener: func(scs balancer.SubConnState) { b.updateSubConnState(sl, sd, scs) },
		})
		if err != nil {
			b.logger.Warningf("failed to create SubConn for address %v: %v", a, err)
			continue
		}
		sd.sc = sc
		sl.subs = append(sl.subs, sd)
	}

	if len(sl.subs) == 0 {
		st := status.Newf(codes.Unavailable, "empty address list")
		b.cc.UpdateState(balancer.State{ConnectivityState: connectivity.TransientFailure, Picker: &errPicker{err: st.Err()}})
		b.cc.ResolveNow(resolver.ResolveNowOptions{})
	}

	if len(sl.subs) == 0 || b.selected == nil {
		b.selected = nil
		b.shutdownList(b.current)
		b.current = sl
	} else {
		b.shutdownList(b.pending)
		b.pending = sl
	}
}

func (b *pickfirstBalancer) shutdownList(sl *scList) {
	if sl == nil {
		return
	}
	for _, sd := range sl.subs {
		if sd.sc != nil {
			sd.sc.Shutdown()
		}
	}
}

func (b *pickfirstBalancer) updateSubConnState(sl *scList, sd *scData, scs balancer.SubConnState) {
	if b.shutdown {
		return
	}
	// Stale notification from a list that has since been discarded.
	if sl != b.current && sl != b.pending {
		return
	}

	if b.selected == sd {
		b.handleSelectedStateChange(sl, sd, scs)
		return
	}

	if scs.ConnectivityState == connectivity.Ready {
		sl.inTransientFailure = false
		b.processUnselectedReady(sl, sd)
		return
	}

	firstUpdate := !sd.seenInitial
	sd.seenInitial = true
	sd.state = scs.ConnectivityState
	if scs.ConnectivityState == connectivity.TransientFailure {
		sd.err = scs.ConnectionError
	}

	if firstUpdate {
		if b.allSeenInitial(sl) {
			sl.subs[0].sc.Connect()
		}
		return
	}

	idx := indexOf(sl, sd)
	if idx != sl.attemptingIndex {
		return
	}

	switch scs.ConnectivityState {
	case connectivity.TransientFailure:
		next := (idx + 1) % len(sl.subs)
		sl.attemptingIndex = next
		nsd := sl.subs[next]
		if next == 0 {
			sl.inTransientFailure = true
			if sl == b.pending {
				b.selected = nil
				b.shutdownList(b.current)
				b.current = b.pending
				b.pending = nil
			}
			if sl == b.current {
				b.cc.ResolveNow(resolver.ResolveNowOptions{})
				st := status.Newf(codes.Unavailable, "failed to connect to all addresses; last error: %v", sd.err)
				b.cc.UpdateState(balancer.State{ConnectivityState: connectivity.TransientFailure, Picker: &errPicker{err: st.Err()}})
			}
		}
		if nsd.state == connectivity.Idle {
			nsd.sc.Connect()
		}
	case connectivity.Idle:
		sd.sc.Connect()
	case connectivity.Connecting:
		if sl == b.current && !sl.inTransientFailure {
			b.cc.UpdateState(balancer.State{ConnectivityState: connectivity.Connecting, Picker: &queuePicker{}})
		}
	}
}

func (b *pickfirstBalancer) handleSelectedStateChange(sl *scList, sd *scData, scs balancer.SubConnState) {
	if b.pending != nil {
		b.selected = nil
		b.current = b.pending
		b.pending = nil
		if b.current.inTransientFailure {
			st := status.Newf(codes.Unavailable, "selected subchannel failed; switching to pending update")
			b.cc.UpdateState(balancer.State{ConnectivityState: connectivity.TransientFailure, Picker: &errPicker{err: st.Err()}})
		} else {
			b.cc.UpdateState(balancer.State{ConnectivityState: connectivity.Connecting, Picker: &queuePicker{}})
		}
		return
	}
	b.cc.ResolveNow(resolver.ResolveNowOptions{})
	b.idle = true
	b.selected = nil
	b.current = nil
	b.cc.UpdateState(balancer.State{ConnectivityState: connectivity.Idle, Picker: &queuePicker{}})
}

func (b *pickfirstBalancer) processUnselectedReady(sl *scList, sd *scData) {
	if sl == b.pending {
		b.shutdownList(b.current)
		b.current = b.pending
		b.pending = nil
	}
	b.selected = sd
	b.cc.UpdateState(balancer.State{ConnectivityState: connectivity.Ready, Picker: &picker{sc: sd.sc}})
	for _, other := range sl.subs {
		if other != sd && other.sc != nil {
			other.sc.Shutdown()
		}
	}
}

func (b *pickfirstBalancer) allSeenInitial(sl *scList) bool {
	for _, sd := range sl.subs {
		if !sd.seenInitial {
			return false
		}
	}
	return true
}

func indexOf(sl *scList, sd *scData) int {
	for i, s := range sl.subs {
		if s == sd {
			return i
		}
	}
	return -1
}

func (b *pickfirstBalancer) UpdateSubConnState(balancer.SubConn, balancer.SubConnState) {
	b.logger.Errorf("UpdateSubConnState called unexpectedly; pick_first uses the StateListener form")
}

func (b *pickfirstBalancer) Close() {
	b.shutdown = true
	b.shutdownList(b.current)
	b.shutdownList(b.pending)
}

func (b *pickfirstBalancer) ExitIdle() {
	if b.shutdown {
		return
	}
	if b.idle {
		b.idle = false
		b.attemptToConnect()
	}
}

type picker struct {
	sc balancer.SubConn
}

func (p *picker) Pick(balancer.PickInfo) (balancer.PickResult, error) {
	return balancer.PickResult{SubConn: p.sc}, nil
}

type queuePicker struct{}

func (*queuePicker) Pick(balancer.PickInfo) (balancer.PickResult, error) {
	return balancer.PickResult{}, balancer.ErrNoSubConnAvailable
}

type errPicker struct {
	err error
}

func (p *errPicker) Pick(balancer.PickInfo) (balancer.PickResult, error) {
	return balancer.PickResult{}, p.err
}

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

// Package wrrlocality implements the xds_wrr_locality_experimental LB
// policy: it groups an incoming, locality-tagged endpoint list into one
// weighted_target-shaped child per locality (§4.10), wrapping the same
// child policy once per locality and distributing picks among READY
// localities in proportion to their EDS locality weight.
//
// weighted_target itself (see balancer/weightedtarget) forwards the full,
// unfiltered resolver.State to every one of its named children, which is
// correct there because each target's address scope is already decided by
// the caller. Here the caller hands over one flat endpoint list spanning
// every locality, so this package does the partitioning weighted_target
// does not: each per-locality child only ever sees the endpoints carrying
// its own locality ID.
package wrrlocality

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/corelb/lbtree/balancer"
	"github.com/corelb/lbtree/connectivity"
	"github.com/corelb/lbtree/internal/balancer/gracefulswitch"
	"github.com/corelb/lbtree/internal/grpclog"
	"github.com/corelb/lbtree/internal/grpcsync"
	"github.com/corelb/lbtree/resolver"
	"github.com/corelb/lbtree/serviceconfig"
	xdsinternal "github.com/corelb/lbtree/xds/internal"
)

// Name is the name of the xds_wrr_locality balancer.
const Name = "xds_wrr_locality_experimental"

// childRetentionInterval mirrors weighted_target's kChildRetentionInterval:
// how long a locality absent from the latest endpoint list is kept alive
// before its child is torn down.
const childRetentionInterval = 15 * time.Minute

func init() {
	balancer.Register(builder{})
}

type builder struct{}

func (builder) Name() string { return Name }

func (builder) Build(cc balancer.ClientConn, opts balancer.BuildOptions) balancer.Balancer {
	b := &wrrlBalancer{
		cc:         cc,
		opts:       opts,
		logger:     grpclog.Component("balancer/" + Name),
		children:   make(map[string]*localityState),
		serializer: grpcsync.NewSerializer(),
	}
	return b
}

func (builder) ParseConfig(j json.RawMessage) (serviceconfig.LoadBalancingConfig, error) {
	return parseConfig(j)
}

type localityState struct {
	name   string
	weight uint32
	gsb    *gracefulswitch.Balancer
	wrapper *localityClientConn

	lastBuilderName string
	state           balancer.State
	stickyTF        bool

	deactivateTimer *time.Timer
}

type wrrlBalancer struct {
	cc     balancer.ClientConn
	opts   balancer.BuildOptions
	logger grpclog.LoggerV2

	serializer *grpcsync.Serializer

	children map[string]*localityState
	closed   bool
}

func (b *wrrlBalancer) ResolverError(err error) {
	done := make(chan struct{})
	b.serializer.Run(func() {
		for _, ls := range b.children {
			ls.gsb.Balancer().ResolverError(err)
		}
		close(done)
	})
	<-done
}

func (b *wrrlBalancer) UpdateClientConnState(s balancer.ClientConnState) error {
	done := make(chan struct{})
	var retErr error
	b.serializer.Run(func() {
		retErr = b.updateClientConnStateLocked(s)
		close(done)
	})
	<-done
	return retErr
}

func (b *wrrlBalancer) updateClientConnStateLocked(s balancer.ClientConnState) error {
	cfg, ok := s.BalancerConfig.(*LBConfig)
	if !ok {
		return fmt.Errorf("wrrlocality: unexpected config type %T", s.BalancerConfig)
	}

	byLocality, weights, err := partitionByLocality(s.ResolverState, b.logger)
	if err != nil {
		return err
	}

	bb := balancer.Get(cfg.ChildPolicy.Name)
	if bb == nil {
		return fmt.Errorf("wrrlocality: unregistered child policy %q", cfg.ChildPolicy.Name)
	}

	for name, endpoints := range byLocality {
		ls, ok := b.children[name]
		if !ok {
			ls = &localityState{name: name, weight: weights[name]}
			ls.wrapper = &localityClientConn{parent: b, ls: ls}
			ls.gsb = gracefulswitch.NewBalancer(ls.wrapper, b.opts)
			b.children[name] = ls
		} else {
			ls.weight = weights[name]
			if ls.deactivateTimer != nil {
				ls.deactivateTimer.Stop()
				ls.deactivateTimer = nil
			}
		}
		if ls.lastBuilderName != cfg.ChildPolicy.Name {
			if _, err := ls.gsb.SwitchTo(bb); err != nil {
				return fmt.Errorf("wrrlocality: switching locality %q to %q: %v", name, cfg.ChildPolicy.Name, err)
			}
			ls.lastBuilderName = cfg.ChildPolicy.Name
		}
		childRS := resolver.State{
			Endpoints:  endpoints,
			Attributes: s.ResolverState.Attributes,
		}
		if err := ls.gsb.Balancer().UpdateClientConnState(balancer.ClientConnState{
			ResolverState:  childRS,
			BalancerConfig: cfg.ChildPolicy.Config,
		}); err != nil {
			b.logger.Warningf("locality %s rejected update: %v", name, err)
		}
	}

	for name, ls := range b.children {
		if _, ok := byLocality[name]; ok {
			continue
		}
		ls.weight = 0
		if ls.deactivateTimer != nil {
			continue
		}
		name := name
		ls.deactivateTimer = time.AfterFunc(childRetentionInterval, func() {
			b.serializer.Run(func() { b.deactivate(name) })
		})
	}

	b.regeneratePicker()
	return nil
}

func (b *wrrlBalancer) deactivate(name string) {
	ls, ok := b.children[name]
	if !ok {
		return
	}
	ls.gsb.Close()
	delete(b.children, name)
	b.regeneratePicker()
}

func (b *wrrlBalancer) updateLocalityState(ls *localityState, state balancer.State) {
	if state.ConnectivityState == connectivity.Ready {
		ls.stickyTF = false
	} else if state.ConnectivityState == connectivity.TransientFailure {
		ls.stickyTF = true
	}
	if ls.stickyTF && state.ConnectivityState != connectivity.Ready {
		state.ConnectivityState = connectivity.TransientFailure
	}
	ls.state = state
	b.regeneratePicker()
}

func (b *wrrlBalancer) aggregateState() connectivity.State {
	var anyConnecting, anyIdle, anyTF bool
	for _, ls := range b.children {
		switch ls.state.ConnectivityState {
		case connectivity.Ready:
			return connectivity.Ready
		case connectivity.Connecting:
			anyConnecting = true
		case connectivity.Idle:
			anyIdle = true
		case connectivity.TransientFailure:
			anyTF = true
		}
	}
	switch {
	case anyConnecting:
		return connectivity.Connecting
	case anyIdle:
		return connectivity.Idle
	case anyTF:
		return connectivity.TransientFailure
	}
	return connectivity.TransientFailure
}

func (b *wrrlBalancer) regeneratePicker() {
	if b.closed || len(b.children) == 0 {
		return
	}
	state := b.aggregateState()
	switch state {
	case connectivity.Connecting, connectivity.Idle:
		b.cc.UpdateState(balancer.State{ConnectivityState: state, Picker: &queuePicker{}})
		return
	}

	wantReady := state == connectivity.Ready
	entries := make(map[string]localityPickerEntry)
	for name, ls := range b.children {
		if ls.weight == 0 {
			continue
		}
		isReady := ls.state.ConnectivityState == connectivity.Ready
		isTF := ls.state.ConnectivityState == connectivity.TransientFailure
		if (wantReady && !isReady) || (!wantReady && !isTF) {
			continue
		}
		if ls.state.Picker == nil {
			continue
		}
		entries[name] = localityPickerEntry{weight: ls.weight, picker: ls.state.Picker}
	}
	b.cc.UpdateState(balancer.State{ConnectivityState: state, Picker: newLocalityPicker(entries)})
}

func (b *wrrlBalancer) Close() {
	done := make(chan struct{})
	b.serializer.Run(func() {
		b.closed = true
		for _, ls := range b.children {
			if ls.deactivateTimer != nil {
				ls.deactivateTimer.Stop()
			}
			ls.gsb.Close()
		}
		close(done)
	})
	<-done
	b.serializer.Close()
}

func (b *wrrlBalancer) ExitIdle() {
	done := make(chan struct{})
	b.serializer.Run(func() {
		for _, ls := range b.children {
			if bal, ok := ls.gsb.Balancer().(balancer.ExitIdler); ok {
				bal.ExitIdle()
			}
		}
		close(done)
	})
	<-done
}

func (b *wrrlBalancer) UpdateSubConnState(balancer.SubConn, balancer.SubConnState) {
	b.logger.Errorf("UpdateSubConnState called unexpectedly; xds_wrr_locality uses the StateListener form")
}

// partitionByLocality groups rs's endpoints (falling back to its flat
// address list) by locality ID, and records each locality's EDS weight. An
// inconsistent weight observed for a locality already seen in this pass is
// logged and discarded; the first observed value wins.
func partitionByLocality(rs resolver.State, logger grpclog.LoggerV2) (map[string][]resolver.Endpoint, map[string]uint32, error) {
	endpoints := rs.Endpoints
	if len(endpoints) == 0 {
		for _, a := range rs.Addresses {
			endpoints = append(endpoints, resolver.Endpoint{Addresses: []resolver.Address{a}, Attributes: a.BalancerAttributes})
		}
	}

	byLocality := make(map[string][]resolver.Endpoint)
	weights := make(map[string]uint32)
	for _, e := range endpoints {
		loc := xdsinternal.GetLocalityIDFromEndpoint(e)
		if loc.Empty() {
			continue
		}
		name := loc.ToString()
		w, ok := xdsinternal.GetLocalityWeightFromEndpoint(e)
		if !ok {
			w = 1
		}
		if existing, seen := weights[name]; seen {
			if existing != w {
				logger.Warningf("inconsistent locality weight for %s: got %d, keeping first-observed %d", name, w, existing)
			}
		} else {
			weights[name] = w
		}
		byLocality[name] = append(byLocality[name], e)
	}
	if len(byLocality) == 0 {
		return nil, nil, fmt.Errorf("wrrlocality: no endpoint carried a locality ID")
	}
	return byLocality, weights, nil
}

// localityClientConn adapts the parent's ClientConn for one locality's
// child, routing its UpdateState into the weighted-picker aggregation.
type localityClientConn struct {
	balancer.ClientConn
	parent *wrrlBalancer
	ls     *localityState
}

func (c *localityClientConn) NewSubConn(addrs []resolver.Address, opts balancer.NewSubConnOptions) (balancer.SubConn, error) {
	return c.parent.cc.NewSubConn(addrs, opts)
}

func (c *localityClientConn) RemoveSubConn(sc balancer.SubConn) { c.parent.cc.RemoveSubConn(sc) }

func (c *localityClientConn) UpdateAddresses(sc balancer.SubConn, addrs []resolver.Address) {
	c.parent.cc.UpdateAddresses(sc, addrs)
}

func (c *localityClientConn) UpdateState(state balancer.State) {
	c.parent.updateLocalityState(c.ls, state)
}

func (c *localityClientConn) ResolveNow(o resolver.ResolveNowOptions) { c.parent.cc.ResolveNow(o) }

func (c *localityClientConn) Target() string { return c.parent.cc.Target() }

func (c *localityClientConn) RecordInt64Count(handle any, incr int64, labels ...string) {
	c.parent.cc.RecordInt64Count(handle, incr, labels...)
}

func (c *localityClientConn) AddTraceEvent(desc string) {
	c.parent.cc.AddTraceEvent("[" + c.ls.name + "] " + desc)
}

/*
 *
 * Copyright 2020 gRPC authors.
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

// Package weightedtarget implements the weighted_target_experimental LB
// policy: a named set of children, each with a positive integer weight,
// picked among probabilistically in proportion to weight among children
// currently READY (§4.6).
package weightedtarget

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
)

// Name is the name of the weighted_target balancer.
const Name = "weighted_target_experimental"

// childRetentionInterval is kChildRetentionInterval from §4.6: how long a
// child removed from config is kept alive (in case it reappears) before
// being destroyed.
const childRetentionInterval = 15 * time.Minute

func init() {
	balancer.Register(builder{})
}

type builder struct{}

func (builder) Name() string { return Name }

func (builder) Build(cc balancer.ClientConn, opts balancer.BuildOptions) balancer.Balancer {
	b := &wtBalancer{
		cc:         cc,
		opts:       opts,
		logger:     grpclog.Component("balancer/" + Name),
		children:   make(map[string]*childState),
		serializer: grpcsync.NewSerializer(),
	}
	return b
}

func (builder) ParseConfig(j json.RawMessage) (serviceconfig.LoadBalancingConfig, error) {
	return parseConfig(j)
}

type childState struct {
	name   string
	weight uint32
	gsb    *gracefulswitch.Balancer
	wrapper *childClientConn

	lastBuilderName string
	state           balancer.State
	// stickyTF implements the sticky-TF rule: once a child reports
	// TRANSIENT_FAILURE, its externally reported state stays TF until it
	// next reports READY, even if intermediate reports flip-flop through
	// CONNECTING, to avoid oscillation in the parent's aggregate state.
	stickyTF bool

	deactivateTimer *time.Timer
}

type wtBalancer struct {
	cc     balancer.ClientConn
	opts   balancer.BuildOptions
	logger grpclog.LoggerV2

	// serializer gives the deactivation timer (§5: suspension points are
	// scheduled back onto the serializer, never run inline on a timer's
	// own goroutine) mutual exclusion with the Balancer-interface entry
	// points below.
	serializer *grpcsync.Serializer

	children map[string]*childState
	closed   bool
}

func (b *wtBalancer) ResolverError(err error) {
	done := make(chan struct{})
	b.serializer.Run(func() {
		for _, cs := range b.children {
			if cs.gsb != nil {
				cs.gsb.Balancer().ResolverError(err)
			}
		}
		close(done)
	})
	<-done
}

func (b *wtBalancer) UpdateClientConnState(s balancer.ClientConnState) error {
	done := make(chan struct{})
	var retErr error
	b.serializer.Run(func() {
		retErr = b.updateClientConnStateLocked(s)
		close(done)
	})
	<-done
	return retErr
}

func (b *wtBalancer) updateClientConnStateLocked(s balancer.ClientConnState) error {
	cfg, ok := s.BalancerConfig.(*LBConfig)
	if !ok {
		return fmt.Errorf("weightedtarget: unexpected config type %T", s.BalancerConfig)
	}

	for name, target := range cfg.Targets {
		cs, ok := b.children[name]
		if !ok {
			cs = &childState{name: name, weight: target.Weight}
			cs.wrapper = &childClientConn{parent: b, cs: cs}
			cs.gsb = gracefulswitch.NewBalancer(cs.wrapper, b.opts)
			b.children[name] = cs
		} else {
			cs.weight = target.Weight
			if cs.deactivateTimer != nil {
				cs.deactivateTimer.Stop()
				cs.deactivateTimer = nil
			}
		}
		if cs.lastBuilderName != target.ChildPolicy.Name {
			bb := balancer.Get(target.ChildPolicy.Name)
			if bb == nil {
				return fmt.Errorf("weightedtarget: unregistered child policy %q", target.ChildPolicy.Name)
			}
			if _, err := cs.gsb.SwitchTo(bb); err != nil {
				return fmt.Errorf("weightedtarget: failed to switch child %q to %q: %v", name, target.ChildPolicy.Name, err)
			}
			cs.lastBuilderName = target.ChildPolicy.Name
		}
		if err := cs.gsb.Balancer().UpdateClientConnState(balancer.ClientConnState{
			ResolverState:  s.ResolverState,
			BalancerConfig: target.ChildPolicy.Config,
		}); err != nil {
			b.logger.Warningf("child %q rejected update: %v", name, err)
		}
	}

	for name, cs := range b.children {
		if _, ok := cfg.Targets[name]; ok {
			continue
		}
		cs.weight = 0
		if cs.deactivateTimer != nil {
			continue
		}
		cs := cs
		cs.deactivateTimer = time.AfterFunc(childRetentionInterval, func() {
			b.serializer.Run(func() { b.deactivate(name) })
		})
	}

	b.regeneratePicker()
	return nil
}

func (b *wtBalancer) deactivate(name string) {
	cs, ok := b.children[name]
	if !ok {
		return
	}
	cs.gsb.Close()
	delete(b.children, name)
	b.regeneratePicker()
}

func (b *wtBalancer) updateChildState(cs *childState, state balancer.State) {
	if state.ConnectivityState == connectivity.Ready {
		cs.stickyTF = false
	} else if state.ConnectivityState == connectivity.TransientFailure {
		cs.stickyTF = true
	}
	if cs.stickyTF && state.ConnectivityState != connectivity.Ready {
		state.ConnectivityState = connectivity.TransientFailure
	}
	cs.state = state
	b.regeneratePicker()
}

// aggregateState follows the order given in §4.6: READY > CONNECTING >
// IDLE > TRANSIENT_FAILURE.
func (b *wtBalancer) aggregateState() connectivity.State {
	var anyConnecting, anyIdle, anyTF bool
	for _, cs := range b.children {
		switch cs.state.ConnectivityState {
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

func (b *wtBalancer) regeneratePicker() {
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
	entries := make(map[string]childPickerEntry)
	for name, cs := range b.children {
		if cs.weight == 0 {
			continue
		}
		isReady := cs.state.ConnectivityState == connectivity.Ready
		isTF := cs.state.ConnectivityState == connectivity.TransientFailure
		if (wantReady && !isReady) || (!wantReady && !isTF) {
			continue
		}
		if cs.state.Picker == nil {
			continue
		}
		entries[name] = childPickerEntry{weight: cs.weight, picker: cs.state.Picker}
	}
	b.cc.UpdateState(balancer.State{ConnectivityState: state, Picker: newWeightedPicker(entries)})
}

func (b *wtBalancer) Close() {
	done := make(chan struct{})
	b.serializer.Run(func() {
		b.closed = true
		for _, cs := range b.children {
			if cs.deactivateTimer != nil {
				cs.deactivateTimer.Stop()
			}
			cs.gsb.Close()
		}
		close(done)
	})
	<-done
	b.serializer.Close()
}

func (b *wtBalancer) ExitIdle() {
	done := make(chan struct{})
	b.serializer.Run(func() {
		for _, cs := range b.children {
			if bal, ok := cs.gsb.Balancer().(balancer.ExitIdler); ok {
				bal.ExitIdle()
			}
		}
		close(done)
	})
	<-done
}

func (b *wtBalancer) UpdateSubConnState(balancer.SubConn, balancer.SubConnState) {
	b.logger.Errorf("UpdateSubConnState called unexpectedly; weighted_target uses the StateListener form")
}

// childClientConn adapts the parent's ClientConn for one named child,
// intercepting UpdateState to route into the weighted-picker aggregation
// instead of forwarding straight to the real ClientConn.
type childClientConn struct {
	balancer.ClientConn
	parent *wtBalancer
	cs     *childState
}

func (c *childClientConn) NewSubConn(addrs []resolver.Address, opts balancer.NewSubConnOptions) (balancer.SubConn, error) {
	return c.parent.cc.NewSubConn(addrs, opts)
}

func (c *childClientConn) RemoveSubConn(sc balancer.SubConn) { c.parent.cc.RemoveSubConn(sc) }

func (c *childClientConn) UpdateAddresses(sc balancer.SubConn, addrs []resolver.Address) {
	c.parent.cc.UpdateAddresses(sc, addrs)
}

func (c *childClientConn) UpdateState(state balancer.State) {
	c.parent.updateChildState(c.cs, state)
}

func (c *childClientConn) ResolveNow(o resolver.ResolveNowOptions) { c.parent.cc.ResolveNow(o) }

func (c *childClientConn) Target() string { return c.parent.cc.Target() }

func (c *childClientConn) RecordInt64Count(handle any, incr int64, labels ...string) {
	c.parent.cc.RecordInt64Count(handle, incr, labels...)
}

func (c *childClientConn) AddTraceEvent(desc string) {
	c.parent.cc.AddTraceEvent("[" + c.cs.name + "] " + desc)
}

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

// Package priority implements the priority_experimental LB policy: an
// ordered list of named children, exactly one of which is forwarded to the
// parent at a time, failing over to the next lower priority after a
// failover timeout and falling back to a higher one as soon as it recovers
// (§4.5).
package priority

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/corelb/lbtree/balancer"
	"github.com/corelb/lbtree/codes"
	"github.com/corelb/lbtree/connectivity"
	"github.com/corelb/lbtree/internal/balancer/gracefulswitch"
	"github.com/corelb/lbtree/internal/grpclog"
	"github.com/corelb/lbtree/internal/grpcsync"
	"github.com/corelb/lbtree/internal/xdsobservability"
	"github.com/corelb/lbtree/resolver"
	"github.com/corelb/lbtree/serviceconfig"
	"github.com/corelb/lbtree/status"
)

// Name is the name of the priority balancer.
const Name = "priority_experimental"

// defaultFailoverTimeout is §4.5's default failover timeout. The
// specification permits a channel-arg override; this port's BuildOptions
// doesn't model a generic channel-args bag, so the default is fixed (see
// DESIGN.md).
const defaultFailoverTimeout = 10 * time.Second

// childRetentionInterval is kChildRetentionInterval: how long a
// lower-than-selected (or no-longer-configured) child is kept alive before
// being torn down, shared with weighted_target and xds_wrr_locality.
const childRetentionInterval = 15 * time.Minute

func init() {
	balancer.Register(builder{})
}

type builder struct{}

func (builder) Name() string { return Name }

func (builder) Build(cc balancer.ClientConn, opts balancer.BuildOptions) balancer.Balancer {
	b := &priorityBalancer{
		cc:              cc,
		opts:            opts,
		logger:          grpclog.Component("balancer/" + Name),
		serializer:      grpcsync.NewSerializer(),
		children:        make(map[string]*childBalancer),
		currentPriority: -1,
		failoverTimeout: defaultFailoverTimeout,
	}
	return b
}

func (builder) ParseConfig(j json.RawMessage) (serviceconfig.LoadBalancingConfig, error) {
	return parseConfig(j)
}

type childBalancer struct {
	name   string
	parent *priorityBalancer

	gsb             *gracefulswitch.Balancer
	ignoreCC        *ignoreResolveNowClientConn
	lastBuilderName string

	state  connectivity.State
	picker balancer.Picker

	// seenReadyOrIdleSinceTF and failoverFired together implement the
	// failover-timer state machine from §4.5: the timer starts fresh only
	// the first time a child moves to CONNECTING after having been
	// READY/IDLE, and once it fires the child is treated as unusable for
	// selection purposes until it's READY/IDLE again.
	seenReadyOrIdleSinceTF bool
	failoverFired          bool
	failoverTimer          *time.Timer

	deactivationTimer *time.Timer
}

type priorityBalancer struct {
	cc     balancer.ClientConn
	opts   balancer.BuildOptions
	logger grpclog.LoggerV2

	// serializer gives the failover and deactivation timers' callbacks
	// mutual exclusion with the Balancer-interface entry points (§5).
	serializer *grpcsync.Serializer

	children map[string]*childBalancer

	priorities   []string
	childConfigs map[string]Child
	resolverState resolver.State

	currentPriority int // index into priorities, -1 if none selected.
	// currentChildFromBeforeUpdate tracks the previously selected child
	// across a config update (§4.5 supplemented feature): if it's still
	// READY/IDLE when a new config arrives, its state keeps being forwarded
	// until choosePriority settles on a child from the new list, avoiding a
	// spurious drop into CONNECTING on every resolver update.
	currentChildFromBeforeUpdate *childBalancer

	failoverTimeout time.Duration
	closed          bool
}

func (b *priorityBalancer) ResolverError(err error) {
	done := make(chan struct{})
	b.serializer.Run(func() {
		for _, cs := range b.children {
			cs.gsb.Balancer().ResolverError(err)
		}
		close(done)
	})
	<-done
}

func (b *priorityBalancer) UpdateClientConnState(s balancer.ClientConnState) error {
	done := make(chan struct{})
	var retErr error
	b.serializer.Run(func() {
		retErr = b.updateClientConnStateLocked(s)
		close(done)
	})
	<-done
	return retErr
}

func (b *priorityBalancer) updateClientConnStateLocked(s balancer.ClientConnState) error {
	cfg, ok := s.BalancerConfig.(*LBConfig)
	if !ok {
		return fmt.Errorf("priority: unexpected config type %T", s.BalancerConfig)
	}
	if len(cfg.Priorities) == 0 {
		return fmt.Errorf("priority: empty priority list")
	}

	if b.currentPriority >= 0 && b.currentPriority < len(b.priorities) {
		if cur, ok := b.children[b.priorities[b.currentPriority]]; ok &&
			(cur.state == connectivity.Ready || cur.state == connectivity.Idle) {
			b.currentChildFromBeforeUpdate = cur
		}
	}

	b.priorities = cfg.Priorities
	b.childConfigs = cfg.Children
	b.resolverState = s.ResolverState

	for name, cs := range b.children {
		childCfg, ok := cfg.Children[name]
		if !ok {
			continue // no longer configured; choosePriority lets it deactivate.
		}
		cs.ignoreCC.updateIgnoreResolveNow(childCfg.IgnoreReresolution)
		if err := b.updateChildPolicy(cs, childCfg); err != nil {
			return err
		}
	}

	b.choosePriority()
	return nil
}

func (b *priorityBalancer) updateChildPolicy(cs *childBalancer, childCfg Child) error {
	if cs.lastBuilderName != childCfg.Config.Name {
		bb := balancer.Get(childCfg.Config.Name)
		if bb == nil {
			return fmt.Errorf("priority: unregistered child policy %q", childCfg.Config.Name)
		}
		if _, err := cs.gsb.SwitchTo(bb); err != nil {
			return fmt.Errorf("priority: switching child %q to %q: %v", cs.name, childCfg.Config.Name, err)
		}
		cs.lastBuilderName = childCfg.Config.Name
	}
	if err := cs.gsb.Balancer().UpdateClientConnState(balancer.ClientConnState{
		ResolverState:  b.resolverState,
		BalancerConfig: childCfg.Config.Config,
	}); err != nil {
		b.logger.Warningf("priority: child %q rejected update: %v", cs.name, err)
	}
	return nil
}

// choosePriority implements §4.5's ChoosePriority: walk the priority list in
// order, adopting the first child that is READY/IDLE or still within its
// failover window, creating children lazily as the walk reaches them.
func (b *priorityBalancer) choosePriority() {
	_, span := xdsobservability.StartSpan(context.Background(), "priority.choose_priority")
	defer span.End()

	for i, name := range b.priorities {
		cs, exists := b.children[name]
		if !exists {
			cs = b.createChild(name)
			b.currentPriority = i
			if b.currentChildFromBeforeUpdate != nil {
				prev := b.currentChildFromBeforeUpdate
				b.forwardState(prev.state, prev.picker)
			} else {
				b.forwardState(connectivity.Connecting, nil)
			}
			b.updateDeactivationTimers(name)
			return
		}

		switch {
		case cs.state == connectivity.Ready || cs.state == connectivity.Idle:
			b.currentPriority = i
			b.currentChildFromBeforeUpdate = nil
			b.forwardState(cs.state, cs.picker)
			b.updateDeactivationTimers(name)
			return
		case cs.state == connectivity.Connecting && !cs.failoverFired:
			b.currentPriority = i
			b.forwardState(cs.state, cs.picker)
			b.updateDeactivationTimers(name)
			return
		}
		// TRANSIENT_FAILURE, or CONNECTING with the failover timer already
		// fired: this priority can't be used, fall through to the next one.
	}

	// No priority could be adopted outright: delegate to the first
	// still-connecting child, or the lowest priority as a last resort.
	b.currentPriority = -1
	for _, name := range b.priorities {
		if cs, ok := b.children[name]; ok && cs.state == connectivity.Connecting {
			b.forwardState(cs.state, cs.picker)
			b.updateDeactivationTimers(name)
			return
		}
	}
	last := b.priorities[len(b.priorities)-1]
	if cs, ok := b.children[last]; ok {
		b.forwardState(cs.state, cs.picker)
		b.updateDeactivationTimers(last)
		return
	}
	b.cc.UpdateState(balancer.State{
		ConnectivityState: connectivity.TransientFailure,
		Picker:            &errPicker{err: status.Errorf(codes.Unavailable, "priority: no priority could be selected")},
	})
}

func (b *priorityBalancer) forwardState(state connectivity.State, picker balancer.Picker) {
	if picker == nil {
		picker = &queuePicker{}
	}
	b.cc.UpdateState(balancer.State{ConnectivityState: state, Picker: picker})
}

func (b *priorityBalancer) createChild(name string) *childBalancer {
	cs := &childBalancer{name: name, parent: b, state: connectivity.Connecting}
	adapter := &childClientConn{parent: b, cs: cs}
	childCfg := b.childConfigs[name]
	cs.ignoreCC = newIgnoreResolveNowClientConn(adapter, childCfg.IgnoreReresolution)
	cs.gsb = gracefulswitch.NewBalancer(cs.ignoreCC, b.opts)
	b.children[name] = cs

	b.startFailoverTimer(cs)

	if err := b.updateChildPolicy(cs, childCfg); err != nil {
		b.logger.Warningf("priority: creating child %q: %v", name, err)
	}
	return cs
}

func (b *priorityBalancer) handleChildStateUpdate(cs *childBalancer, state balancer.State) {
	prev := cs.state
	cs.state = state.ConnectivityState
	cs.picker = state.Picker

	switch state.ConnectivityState {
	case connectivity.Ready, connectivity.Idle:
		cs.seenReadyOrIdleSinceTF = true
		cs.failoverFired = false
		b.stopFailoverTimer(cs)
	case connectivity.TransientFailure:
		cs.seenReadyOrIdleSinceTF = false
		b.stopFailoverTimer(cs)
	case connectivity.Connecting:
		if cs.seenReadyOrIdleSinceTF || prev == connectivity.Ready || prev == connectivity.Idle {
			cs.seenReadyOrIdleSinceTF = false
			cs.failoverFired = false
			b.startFailoverTimer(cs)
		}
	}
	b.choosePriority()
}

func (b *priorityBalancer) startFailoverTimer(cs *childBalancer) {
	b.stopFailoverTimer(cs)
	name := cs.name
	cs.failoverTimer = time.AfterFunc(b.failoverTimeout, func() {
		b.serializer.Run(func() { b.failoverFire(name) })
	})
}

func (b *priorityBalancer) stopFailoverTimer(cs *childBalancer) {
	if cs.failoverTimer != nil {
		cs.failoverTimer.Stop()
		cs.failoverTimer = nil
	}
}

func (b *priorityBalancer) failoverFire(name string) {
	cs, ok := b.children[name]
	if !ok || cs.state != connectivity.Connecting {
		return
	}
	cs.failoverFired = true
	cs.failoverTimer = nil
	b.choosePriority()
}

// updateDeactivationTimers ensures every existing child other than
// activeName has a running deactivation timer, and that activeName does
// not, implementing §4.5's "deactivation timer starts when a child leaves
// the selected priority" (and, by extension, when it drops out of the
// config entirely).
func (b *priorityBalancer) updateDeactivationTimers(activeName string) {
	for name, cs := range b.children {
		if name == activeName {
			if cs.deactivationTimer != nil {
				cs.deactivationTimer.Stop()
				cs.deactivationTimer = nil
			}
			continue
		}
		if cs.deactivationTimer == nil {
			b.startDeactivationTimer(cs)
		}
	}
}

func (b *priorityBalancer) startDeactivationTimer(cs *childBalancer) {
	name := cs.name
	cs.deactivationTimer = time.AfterFunc(childRetentionInterval, func() {
		b.serializer.Run(func() { b.deactivateFire(name) })
	})
}

func (b *priorityBalancer) deactivateFire(name string) {
	cs, ok := b.children[name]
	if !ok {
		return
	}
	b.stopFailoverTimer(cs)
	cs.gsb.Close()
	delete(b.children, name)
	if b.currentChildFromBeforeUpdate == cs {
		b.currentChildFromBeforeUpdate = nil
	}
}

func (b *priorityBalancer) Close() {
	done := make(chan struct{})
	b.serializer.Run(func() {
		b.closed = true
		for _, cs := range b.children {
			b.stopFailoverTimer(cs)
			if cs.deactivationTimer != nil {
				cs.deactivationTimer.Stop()
			}
			cs.gsb.Close()
		}
		close(done)
	})
	<-done
	b.serializer.Close()
}

func (b *priorityBalancer) ExitIdle() {
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

func (b *priorityBalancer) UpdateSubConnState(balancer.SubConn, balancer.SubConnState) {
	b.logger.Errorf("UpdateSubConnState called unexpectedly; priority uses the StateListener form")
}

// childClientConn adapts the parent's ClientConn for one named child,
// intercepting UpdateState to route into the priority-selection machinery
// instead of forwarding straight to the real ClientConn.
type childClientConn struct {
	balancer.ClientConn
	parent *priorityBalancer
	cs     *childBalancer
}

func (c *childClientConn) NewSubConn(addrs []resolver.Address, opts balancer.NewSubConnOptions) (balancer.SubConn, error) {
	return c.parent.cc.NewSubConn(addrs, opts)
}

func (c *childClientConn) RemoveSubConn(sc balancer.SubConn) { c.parent.cc.RemoveSubConn(sc) }

func (c *childClientConn) UpdateAddresses(sc balancer.SubConn, addrs []resolver.Address) {
	c.parent.cc.UpdateAddresses(sc, addrs)
}

func (c *childClientConn) UpdateState(state balancer.State) {
	c.parent.handleChildStateUpdate(c.cs, state)
}

func (c *childClientConn) ResolveNow(o resolver.ResolveNowOptions) { c.parent.cc.ResolveNow(o) }

func (c *childClientConn) Target() string { return c.parent.cc.Target() }

func (c *childClientConn) RecordInt64Count(handle any, incr int64, labels ...string) {
	c.parent.cc.RecordInt64Count(handle, incr, labels...)
}

func (c *childClientConn) AddTraceEvent(desc string) {
	c.parent.cc.AddTraceEvent("[" + c.cs.name + "] " + desc)
}

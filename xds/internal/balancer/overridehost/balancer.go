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

// Package overridehost implements the xds_override_host_experimental LB
// policy: a picker that bypasses the child policy entirely when the call
// carries a host-override cookie resolving to a live subchannel (§4.9).
package overridehost

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/corelb/lbtree/balancer"
	"github.com/corelb/lbtree/internal/balancer/gracefulswitch"
	"github.com/corelb/lbtree/internal/grpclog"
	"github.com/corelb/lbtree/internal/grpcsync"
	"github.com/corelb/lbtree/resolver"
	"github.com/corelb/lbtree/serviceconfig"
)

// Name is the name of the xds_override_host balancer.
const Name = "xds_override_host_experimental"

func init() {
	balancer.Register(builder{})
}

type builder struct{}

func (builder) Name() string { return Name }

func (builder) Build(cc balancer.ClientConn, opts balancer.BuildOptions) balancer.Balancer {
	b := &obBalancer{
		cc:        cc,
		opts:      opts,
		logger:    grpclog.Component("balancer/" + Name),
		serializer: grpcsync.NewSerializer(),
		hostSlots: make(map[string]*scWrapper),
	}
	b.childCC = &ohClientConn{parent: b}
	b.gsb = gracefulswitch.NewBalancer(b.childCC, opts)
	return b
}

func (builder) ParseConfig(j json.RawMessage) (serviceconfig.LoadBalancingConfig, error) {
	return parseConfig(j)
}

type obBalancer struct {
	cc     balancer.ClientConn
	opts   balancer.BuildOptions
	logger grpclog.LoggerV2

	serializer *grpcsync.Serializer

	gsb     *gracefulswitch.Balancer
	childCC *ohClientConn

	mu        sync.Mutex
	hostSlots map[string]*scWrapper
}

func (b *obBalancer) ResolverError(err error) {
	done := make(chan struct{})
	b.serializer.Run(func() {
		b.gsb.Balancer().ResolverError(err)
		close(done)
	})
	<-done
}

func (b *obBalancer) UpdateClientConnState(s balancer.ClientConnState) error {
	done := make(chan struct{})
	var retErr error
	b.serializer.Run(func() {
		retErr = b.updateClientConnStateLocked(s)
		close(done)
	})
	<-done
	return retErr
}

func (b *obBalancer) updateClientConnStateLocked(s balancer.ClientConnState) error {
	cfg, ok := s.BalancerConfig.(*LBConfig)
	if !ok {
		return fmt.Errorf("overridehost: unexpected config type %T", s.BalancerConfig)
	}

	b.refreshSlots(s.ResolverState)

	bb := balancer.Get(cfg.ChildPolicy.Name)
	if bb == nil {
		return fmt.Errorf("overridehost: unregistered child policy %q", cfg.ChildPolicy.Name)
	}
	if _, err := b.gsb.SwitchTo(bb); err != nil {
		return fmt.Errorf("overridehost: switching to child policy %q: %v", cfg.ChildPolicy.Name, err)
	}
	return b.gsb.Balancer().UpdateClientConnState(balancer.ClientConnState{
		ResolverState:  s.ResolverState,
		BalancerConfig: cfg.ChildPolicy.Config,
	})
}

// refreshSlots applies the address-map update rule from §4.9: entries
// whose keys are absent from the new address list are removed; new keys
// are inserted with empty (nil) slots, populated later as the child
// creates SubConns for them.
func (b *obBalancer) refreshSlots(rs resolver.State) {
	present := make(map[string]bool)
	for _, a := range rs.Addresses {
		present[a.Addr] = true
	}
	for _, e := range rs.Endpoints {
		for _, a := range e.Addresses {
			present[a.Addr] = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for k := range b.hostSlots {
		if !present[k] {
			delete(b.hostSlots, k)
		}
	}
	for k := range present {
		if _, ok := b.hostSlots[k]; !ok {
			b.hostSlots[k] = nil
		}
	}
}

func (b *obBalancer) setSlot(key string, w *scWrapper) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.hostSlots[key]; ok {
		b.hostSlots[key] = w
	}
}

func (b *obBalancer) clearSlot(key string, w *scWrapper) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.hostSlots[key]; ok && cur == w {
		b.hostSlots[key] = nil
	}
}

func (b *obBalancer) lookup(host string) (*scWrapper, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, ok := b.hostSlots[host]
	return w, ok && w != nil
}

func (b *obBalancer) Close() {
	done := make(chan struct{})
	b.serializer.Run(func() {
		b.gsb.Close()
		close(done)
	})
	<-done
	b.serializer.Close()
}

func (b *obBalancer) ExitIdle() {
	done := make(chan struct{})
	b.serializer.Run(func() {
		if bal, ok := b.gsb.Balancer().(balancer.ExitIdler); ok {
			bal.ExitIdle()
		}
		close(done)
	})
	<-done
}

func (b *obBalancer) UpdateSubConnState(balancer.SubConn, balancer.SubConnState) {
	b.logger.Errorf("UpdateSubConnState called unexpectedly; xds_override_host uses the StateListener form")
}

// ohClientConn is the ClientConn the child policy sees: it wraps every
// single-address SubConn it creates so the host-override map can resolve
// a cookie straight to a live subchannel, bypassing the child picker.
type ohClientConn struct {
	parent *obBalancer
}

func (c *ohClientConn) NewSubConn(addrs []resolver.Address, opts balancer.NewSubConnOptions) (balancer.SubConn, error) {
	if len(addrs) != 1 {
		return c.parent.cc.NewSubConn(addrs, opts)
	}
	key := addrs[0].Addr
	w := &scWrapper{parent: c.parent, key: key, childListener: opts.StateListener}
	newOpts := opts
	newOpts.StateListener = w.updateState
	sc, err := c.parent.cc.NewSubConn(addrs, newOpts)
	if err != nil {
		return nil, err
	}
	w.SubConn = sc
	c.parent.setSlot(key, w)
	return w, nil
}

func (c *ohClientConn) RemoveSubConn(sc balancer.SubConn) { c.parent.cc.RemoveSubConn(sc) }

func (c *ohClientConn) UpdateAddresses(sc balancer.SubConn, addrs []resolver.Address) {
	c.parent.cc.UpdateAddresses(sc, addrs)
}

func (c *ohClientConn) UpdateState(state balancer.State) {
	if state.Picker != nil {
		state.Picker = &obPicker{child: state.Picker, lookup: c.parent.lookup}
	}
	c.parent.cc.UpdateState(state)
}

func (c *ohClientConn) ResolveNow(o resolver.ResolveNowOptions) { c.parent.cc.ResolveNow(o) }

func (c *ohClientConn) Target() string { return c.parent.cc.Target() }

func (c *ohClientConn) RecordInt64Count(handle any, incr int64, labels ...string) {
	c.parent.cc.RecordInt64Count(handle, incr, labels...)
}

func (c *ohClientConn) AddTraceEvent(desc string) { c.parent.cc.AddTraceEvent(desc) }

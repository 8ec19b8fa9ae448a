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

// Package clusterimpl implements the xds_cluster_impl_experimental LB
// policy: a per-cluster max-concurrent-requests circuit breaker, EDS drop
// categories, and optional per-locality load reporting, wrapped around a
// child policy (§4.8).
package clusterimpl

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/corelb/lbtree/balancer"
	"github.com/corelb/lbtree/connectivity"
	"github.com/corelb/lbtree/internal/balancer/gracefulswitch"
	"github.com/corelb/lbtree/internal/grpclog"
	"github.com/corelb/lbtree/internal/grpcsync"
	"github.com/corelb/lbtree/resolver"
	"github.com/corelb/lbtree/serviceconfig"
	xdsinternal "github.com/corelb/lbtree/xds/internal"
	"github.com/corelb/lbtree/xds/internal/xdsclient/load"
)

// Name is the name of the xds_cluster_impl balancer.
const Name = "xds_cluster_impl_experimental"

// loadStore is the process-wide load.Store backing every clusterimpl
// instance's LRS accumulation; a real xDS client would drain it
// periodically and reset ReportInterval per cluster.
var loadStore = load.NewStore()

func init() {
	balancer.Register(builder{})
}

type builder struct{}

func (builder) Name() string { return Name }

func (builder) Build(cc balancer.ClientConn, opts balancer.BuildOptions) balancer.Balancer {
	b := &clusterImplBalancer{
		cc:           cc,
		opts:         opts,
		logger:       grpclog.Component("balancer/" + Name),
		serializer:   grpcsync.NewSerializer(),
		scLocalities: make(map[balancer.SubConn]string),
	}
	b.childCC = &ciClientConn{parent: b}
	b.gsb = gracefulswitch.NewBalancer(b.childCC, opts)
	return b
}

func (builder) ParseConfig(j json.RawMessage) (serviceconfig.LoadBalancingConfig, error) {
	return parseConfig(j)
}

type clusterImplBalancer struct {
	cc     balancer.ClientConn
	opts   balancer.BuildOptions
	logger grpclog.LoggerV2

	serializer *grpcsync.Serializer

	gsb     *gracefulswitch.Balancer
	childCC *ciClientConn

	cfg *LBConfig

	counter        *serviceRequestsCounter
	releaseCounter func()

	store *load.PerClusterStore

	mu           sync.Mutex
	scLocalities map[balancer.SubConn]string

	closed bool
}

func (b *clusterImplBalancer) ResolverError(err error) {
	done := make(chan struct{})
	b.serializer.Run(func() {
		b.gsb.Balancer().ResolverError(err)
		close(done)
	})
	<-done
}

func (b *clusterImplBalancer) UpdateClientConnState(s balancer.ClientConnState) error {
	done := make(chan struct{})
	var retErr error
	b.serializer.Run(func() {
		retErr = b.updateClientConnStateLocked(s)
		close(done)
	})
	<-done
	return retErr
}

func (b *clusterImplBalancer) updateClientConnStateLocked(s balancer.ClientConnState) error {
	cfg, ok := s.BalancerConfig.(*LBConfig)
	if !ok {
		return fmt.Errorf("clusterimpl: unexpected config type %T", s.BalancerConfig)
	}
	oldCfg := b.cfg
	b.cfg = cfg

	if oldCfg == nil || oldCfg.Cluster != cfg.Cluster || oldCfg.EDSServiceName != cfg.EDSServiceName || b.counter == nil {
		if b.releaseCounter != nil {
			b.releaseCounter()
		}
		b.counter, b.releaseCounter = getServiceRequestsCounter(cfg.Cluster, cfg.EDSServiceName, cfg.maxConcurrentRequests())
	} else if oldCfg.maxConcurrentRequests() != cfg.maxConcurrentRequests() {
		b.counter.resize(cfg.maxConcurrentRequests())
	}

	if cfg.LoadReportingServer != nil {
		b.store, _ = loadStore.Cluster(cfg.Cluster, cfg.EDSServiceName)
	} else {
		b.store = nil
	}

	bb := balancer.Get(cfg.ChildPolicy.Name)
	if bb == nil {
		return fmt.Errorf("clusterimpl: unregistered child policy %q", cfg.ChildPolicy.Name)
	}
	if _, err := b.gsb.SwitchTo(bb); err != nil {
		return fmt.Errorf("clusterimpl: switching to child policy %q: %v", cfg.ChildPolicy.Name, err)
	}

	return b.gsb.Balancer().UpdateClientConnState(balancer.ClientConnState{
		ResolverState:  s.ResolverState,
		BalancerConfig: cfg.ChildPolicy.Config,
	})
}

func (b *clusterImplBalancer) Close() {
	done := make(chan struct{})
	b.serializer.Run(func() {
		b.closed = true
		b.gsb.Close()
		if b.releaseCounter != nil {
			b.releaseCounter()
		}
		close(done)
	})
	<-done
	b.serializer.Close()
}

func (b *clusterImplBalancer) ExitIdle() {
	done := make(chan struct{})
	b.serializer.Run(func() {
		if bal, ok := b.gsb.Balancer().(balancer.ExitIdler); ok {
			bal.ExitIdle()
		}
		close(done)
	})
	<-done
}

func (b *clusterImplBalancer) UpdateSubConnState(balancer.SubConn, balancer.SubConnState) {
	b.logger.Errorf("UpdateSubConnState called unexpectedly; xds_cluster_impl uses the StateListener form")
}

func (b *clusterImplBalancer) setLocality(sc balancer.SubConn, locality string) {
	b.mu.Lock()
	b.scLocalities[sc] = locality
	b.mu.Unlock()
}

func (b *clusterImplBalancer) dropLocality(sc balancer.SubConn) {
	b.mu.Lock()
	delete(b.scLocalities, sc)
	b.mu.Unlock()
}

func (b *clusterImplBalancer) localityOf(sc balancer.SubConn) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.scLocalities[sc]
}

// ciClientConn is the ClientConn the child policy sees. It records each
// new SubConn's locality (from the xDS locality attribute the resolver
// attaches to its address) so the picker can attribute load without
// wrapping every SubConn in a decorator.
type ciClientConn struct {
	parent *clusterImplBalancer
}

func (c *ciClientConn) NewSubConn(addrs []resolver.Address, opts balancer.NewSubConnOptions) (balancer.SubConn, error) {
	sc, err := c.parent.cc.NewSubConn(addrs, opts)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 1 {
		c.parent.setLocality(sc, xdsinternal.GetLocalityID(addrs[0]).ToString())
	}
	return sc, nil
}

func (c *ciClientConn) RemoveSubConn(sc balancer.SubConn) {
	c.parent.dropLocality(sc)
	c.parent.cc.RemoveSubConn(sc)
}

func (c *ciClientConn) UpdateAddresses(sc balancer.SubConn, addrs []resolver.Address) {
	c.parent.cc.UpdateAddresses(sc, addrs)
}

func (c *ciClientConn) UpdateState(state balancer.State) {
	cfg := c.parent.cfg
	if cfg != nil && cfg.dropAll() {
		state.ConnectivityState = connectivity.Ready
		state.Picker = &dropAllPicker{category: cfg.DropCategories[0].Category}
		c.parent.cc.UpdateState(state)
		return
	}
	if state.Picker != nil {
		var drops []dropCategory
		if cfg != nil {
			drops = make([]dropCategory, 0, len(cfg.DropCategories))
			for _, d := range cfg.DropCategories {
				drops = append(drops, dropCategory{category: d.Category, numerator: d.RequestsPerMillion})
			}
		}
		var cluster string
		if cfg != nil {
			cluster = cfg.Cluster
		}
		state.Picker = &picker{
			child:      state.Picker,
			drops:      drops,
			counter:    c.parent.counter,
			store:      c.parent.store,
			cc:         c.parent.cc,
			localityOf: c.parent.localityOf,
			cluster:    cluster,
		}
	}
	c.parent.cc.UpdateState(state)
}

func (c *ciClientConn) ResolveNow(o resolver.ResolveNowOptions) { c.parent.cc.ResolveNow(o) }

func (c *ciClientConn) Target() string { return c.parent.cc.Target() }

func (c *ciClientConn) RecordInt64Count(handle any, incr int64, labels ...string) {
	c.parent.cc.RecordInt64Count(handle, incr, labels...)
}

func (c *ciClientConn) AddTraceEvent(desc string) { c.parent.cc.AddTraceEvent(desc) }

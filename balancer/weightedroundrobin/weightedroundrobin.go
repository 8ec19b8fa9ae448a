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

// Package weightedroundrobin implements the weighted_round_robin LB
// policy: picks among READY endpoints in proportion to a live weight
// derived from each endpoint's self-reported utilization, sourced either
// from an out-of-band ORCA stream or from per-call trailers.
package weightedroundrobin

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/corelb/lbtree/balancer"
	"github.com/corelb/lbtree/connectivity"
	"github.com/corelb/lbtree/internal/backendmetrics"
	"github.com/corelb/lbtree/internal/endpointsharding"
	"github.com/corelb/lbtree/internal/grpclog"
	"github.com/corelb/lbtree/resolver"
	"github.com/corelb/lbtree/serviceconfig"
)

// Name is the name of the weighted_round_robin balancer.
const Name = "weighted_round_robin"

func init() {
	balancer.Register(builder{})
}

type builder struct{}

func (builder) Name() string { return Name }

func (builder) Build(cc balancer.ClientConn, opts balancer.BuildOptions) balancer.Balancer {
	b := &wrrBalancer{
		cc:      cc,
		logger:  grpclog.Component("balancer/" + Name),
		scInfos: resolver.NewEndpointMap(),
		done:    make(chan struct{}),
	}
	b.cfg, _ = parseConfig(nil)
	go b.run()
	return b
}

func (builder) ParseConfig(j json.RawMessage) (serviceconfig.LoadBalancingConfig, error) {
	return parseConfig(j)
}

type scInfo struct {
	sc            balancer.SubConn
	addr          resolver.Address
	state         connectivity.State
	weight        *endpointWeight
	closeProducer func()
}

type wrrBalancer struct {
	cc     balancer.ClientConn
	logger grpclog.LoggerV2

	cfg *LBConfig

	// scInfos is keyed by the single-address endpoint each SubConn was
	// built for.
	scInfos *resolver.EndpointMap

	resolverErr error
	connErr     error

	done      chan struct{}
	closeOnce bool
}

func (b *wrrBalancer) ResolverError(err error) {
	b.resolverErr = err
	if b.scInfos.Len() == 0 {
		b.cc.UpdateState(balancer.State{
			ConnectivityState: connectivity.TransientFailure,
			Picker:            &errPicker{err: err},
		})
	}
}

func (b *wrrBalancer) UpdateClientConnState(s balancer.ClientConnState) error {
	if cfg, ok := s.BalancerConfig.(*LBConfig); ok {
		b.cfg = cfg
	}

	endpoints := s.ResolverState.Endpoints
	if len(endpoints) == 0 {
		endpoints = endpointsharding.AddressesToEndpoints(s.ResolverState.Addresses)
	}
	endpoints = endpointsharding.Dedup(endpoints)
	if len(endpoints) == 0 {
		b.ResolverError(fmt.Errorf("produced zero addresses"))
		return balancer.ErrBadResolverState
	}

	seen := resolver.NewEndpointMap()
	for _, e := range endpoints {
		seen.Set(e, true)
		if _, ok := b.scInfos.Get(e); ok {
			continue
		}
		addr := e.Addresses[0]
		info := &scInfo{addr: addr, state: connectivity.Idle, weight: &endpointWeight{}}
		sc, err := b.cc.NewSubConn([]resolver.Address{addr}, balancer.NewSubConnOptions{
			StateListener: func(scs balancer.SubConnState) { b.updateSubConnState(e, info, scs) },
		})
		if err != nil {
			b.logger.Warningf("failed to create SubConn for endpoint %v: %v", addr, err)
			continue
		}
		info.sc = sc
		if b.cfg.EnableOOBLoadReport {
			p, closeProducer := sc.GetOrBuildProducer(producerBuilder)
			provider := p.(*backendmetrics.Provider)
			unregister := provider.AddListener(func(m backendmetrics.Metrics, err error) {
				if err != nil {
					return
				}
				util := m.ApplicationUtilization()
				if util == 0 {
					util = m.CPUUtilization()
				}
				info.weight.updateOOB(1, 0, util, *b.cfg.ErrorUtilizationPenalty, time.Now())
			})
			info.closeProducer = func() {
				unregister()
				closeProducer()
			}
		}
		b.scInfos.Set(e, info)
		sc.Connect()
	}

	for _, e := range b.scInfos.Keys() {
		if _, ok := seen.Get(e); ok {
			continue
		}
		v, _ := b.scInfos.Get(e)
		info := v.(*scInfo)
		info.sc.Shutdown()
		if info.closeProducer != nil {
			info.closeProducer()
		}
		b.scInfos.Delete(e)
	}

	b.regeneratePicker()
	return nil
}

func (b *wrrBalancer) updateSubConnState(e resolver.Endpoint, info *scInfo, scs balancer.SubConnState) {
	if v, ok := b.scInfos.Get(e); !ok || v.(*scInfo) != info {
		return
	}
	if scs.ConnectivityState == connectivity.Idle {
		info.sc.Connect()
	}
	info.state = scs.ConnectivityState
	b.regeneratePicker()
}

// aggregateState follows the standard READY > CONNECTING > IDLE >
// TRANSIENT_FAILURE precedence used across the composing policies.
func (b *wrrBalancer) aggregateState() connectivity.State {
	var numConnecting, numIdle, numTF int
	for _, e := range b.scInfos.Keys() {
		v, _ := b.scInfos.Get(e)
		switch v.(*scInfo).state {
		case connectivity.Ready:
			return connectivity.Ready
		case connectivity.Connecting:
			numConnecting++
		case connectivity.Idle:
			numIdle++
		case connectivity.TransientFailure:
			numTF++
		}
	}
	switch {
	case numConnecting > 0:
		return connectivity.Connecting
	case numIdle > 0:
		return connectivity.Idle
	case numTF > 0:
		return connectivity.TransientFailure
	}
	return connectivity.TransientFailure
}

func (b *wrrBalancer) regeneratePicker() {
	state := b.aggregateState()
	switch state {
	case connectivity.TransientFailure:
		err := b.resolverErr
		if err == nil {
			err = b.connErr
		}
		if err == nil {
			err = fmt.Errorf("no READY endpoints")
		}
		b.cc.UpdateState(balancer.State{ConnectivityState: state, Picker: &errPicker{err: err}})
		return
	case connectivity.Connecting, connectivity.Idle:
		b.cc.UpdateState(balancer.State{ConnectivityState: state, Picker: &queuePicker{}})
		return
	}

	now := time.Now()
	var eps []pickerEndpoint
	var weights []float64
	for _, e := range b.scInfos.Keys() {
		v, _ := b.scInfos.Get(e)
		info := v.(*scInfo)
		if info.state != connectivity.Ready {
			continue
		}
		eps = append(eps, pickerEndpoint{sc: info.sc, weight: info.weight})
		weights = append(weights, info.weight.read(now, time.Duration(b.cfg.BlackoutPeriod), time.Duration(b.cfg.WeightExpirationPeriod)))
	}
	p := &picker{
		endpoints:           eps,
		scheduler:           newScheduler(weights),
		enableOOBLoadReport: b.cfg.EnableOOBLoadReport,
	}
	b.cc.UpdateState(balancer.State{ConnectivityState: connectivity.Ready, Picker: p})
}

// run periodically flushes per-call weight buckets and refreshes the
// picker so blackout/expiration windows and newly computed weights take
// effect even between resolver/subconn state events.
func (b *wrrBalancer) run() {
	var period time.Duration
	for {
		if b.cfg != nil {
			period = time.Duration(b.cfg.WeightUpdatePeriod)
		}
		if period <= 0 {
			period = defaultWeightUpdatePeriod
		}
		select {
		case <-b.done:
			return
		case <-time.After(period):
		}
		now := time.Now()
		for _, e := range b.scInfos.Keys() {
			v, _ := b.scInfos.Get(e)
			info := v.(*scInfo)
			if !b.cfg.EnableOOBLoadReport {
				info.weight.tick(now, period, *b.cfg.ErrorUtilizationPenalty)
			}
		}
		b.regeneratePicker()
	}
}

func (b *wrrBalancer) Close() {
	if b.closeOnce {
		return
	}
	b.closeOnce = true
	close(b.done)
	for _, e := range b.scInfos.Keys() {
		v, _ := b.scInfos.Get(e)
		info := v.(*scInfo)
		if info.closeProducer != nil {
			info.closeProducer()
		}
	}
}

func (b *wrrBalancer) ExitIdle() {
	for _, e := range b.scInfos.Keys() {
		v, _ := b.scInfos.Get(e)
		info := v.(*scInfo)
		if info.state == connectivity.Idle {
			info.sc.Connect()
		}
	}
}

func (b *wrrBalancer) UpdateSubConnState(balancer.SubConn, balancer.SubConnState) {
	b.logger.Errorf("UpdateSubConnState called unexpectedly; weighted_round_robin uses the StateListener form")
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

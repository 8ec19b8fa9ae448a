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

// Package outlierdetection implements the outlier_detection_experimental LB
// policy: a child-policy wrapper that periodically ejects addresses whose
// observed error rate is anomalous, forcing their subchannels to report
// TRANSIENT_FAILURE without tearing them down (§4.7).
package outlierdetection

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/corelb/lbtree/balancer"
	"github.com/corelb/lbtree/internal/balancer/gracefulswitch"
	"github.com/corelb/lbtree/internal/grpclog"
	"github.com/corelb/lbtree/internal/grpcsync"
	"github.com/corelb/lbtree/internal/xdsobservability"
	"github.com/corelb/lbtree/resolver"
	"github.com/corelb/lbtree/serviceconfig"
	xdsinternal "github.com/corelb/lbtree/xds/internal"
)

// Name is the name of the outlier_detection balancer.
const Name = "outlier_detection_experimental"

func init() {
	balancer.Register(builder{})
}

type builder struct{}

func (builder) Name() string { return Name }

func (builder) Build(cc balancer.ClientConn, opts balancer.BuildOptions) balancer.Balancer {
	b := &odBalancer{
		cc:         cc,
		opts:       opts,
		logger:     grpclog.Component("balancer/" + Name),
		serializer: grpcsync.NewSerializer(),
		addresses:  make(map[string]*addressInfo),
	}
	b.childCC = &odClientConn{parent: b}
	b.gsb = gracefulswitch.NewBalancer(b.childCC, opts)
	return b
}

func (builder) ParseConfig(j json.RawMessage) (serviceconfig.LoadBalancingConfig, error) {
	return parseConfig(j)
}

type odBalancer struct {
	cc     balancer.ClientConn
	opts   balancer.BuildOptions
	logger grpclog.LoggerV2

	serializer *grpcsync.Serializer

	gsb     *gracefulswitch.Balancer
	childCC *odClientConn

	cfg       *LBConfig
	addresses map[string]*addressInfo

	intervalTimer *time.Timer
	closed        bool
}

func (b *odBalancer) ResolverError(err error) {
	done := make(chan struct{})
	b.serializer.Run(func() {
		b.gsb.Balancer().ResolverError(err)
		close(done)
	})
	<-done
}

func (b *odBalancer) UpdateClientConnState(s balancer.ClientConnState) error {
	done := make(chan struct{})
	var retErr error
	b.serializer.Run(func() {
		retErr = b.updateClientConnStateLocked(s)
		close(done)
	})
	<-done
	return retErr
}

func (b *odBalancer) updateClientConnStateLocked(s balancer.ClientConnState) error {
	cfg, ok := s.BalancerConfig.(*LBConfig)
	if !ok {
		return fmt.Errorf("outlierdetection: unexpected config type %T", s.BalancerConfig)
	}
	firstUpdate := b.cfg == nil
	intervalChanged := firstUpdate || b.cfg.Interval != cfg.Interval
	b.cfg = cfg

	bb := balancer.Get(cfg.ChildPolicy.Name)
	if bb == nil {
		return fmt.Errorf("outlierdetection: unregistered child policy %q", cfg.ChildPolicy.Name)
	}
	if _, err := b.gsb.SwitchTo(bb); err != nil {
		return fmt.Errorf("outlierdetection: switching to child policy %q: %v", cfg.ChildPolicy.Name, err)
	}

	if err := b.gsb.Balancer().UpdateClientConnState(balancer.ClientConnState{
		ResolverState:  s.ResolverState,
		BalancerConfig: cfg.ChildPolicy.Config,
	}); err != nil {
		return err
	}

	if intervalChanged {
		b.restartIntervalTimer()
	}
	return nil
}

func (b *odBalancer) restartIntervalTimer() {
	if b.intervalTimer != nil {
		b.intervalTimer.Stop()
	}
	if !b.cfg.countingEnabled() {
		b.intervalTimer = nil
		return
	}
	b.intervalTimer = time.AfterFunc(time.Duration(b.cfg.Interval), func() {
		b.serializer.Run(func() { b.tick() })
	})
}

// tick runs one full interval pass: swap buckets, apply the success-rate
// algorithm, then the failure-percentage algorithm among the survivors, then
// decay/uneject every address (§4.7 steps 1-5).
func (b *odBalancer) tick() {
	if b.closed || b.cfg == nil {
		return
	}
	ctx, span := xdsobservability.StartSpan(context.Background(), "outlier_detection.tick")
	defer span.End()

	obs := make(map[string]observation, len(b.addresses))
	for addr, ai := range b.addresses {
		w := ai.counter.swap()
		total := w.successes + w.failures
		var rate float64
		if total > 0 {
			rate = float64(w.successes) / float64(total)
		}
		obs[addr] = observation{addr: addr, successes: w.successes, failures: w.failures, successRate: rate}
	}

	ejectedThisRound := make(map[string]bool)

	if sre := b.cfg.SuccessRateEjection; sre != nil {
		var candidates []observation
		for _, o := range obs {
			if o.successes+o.failures >= sre.RequestVolume {
				candidates = append(candidates, o)
			}
		}
		if uint32(len(candidates)) >= sre.MinimumHosts {
			mean, stddev := meanAndStddev(candidates)
			threshold := mean - stddev*(float64(sre.StdevFactor)/1000)
			for _, o := range candidates {
				if o.successRate < threshold {
					if b.maybeEject(o.addr, sre.EnforcementPercentage) {
						ejectedThisRound[o.addr] = true
						xdsobservability.RecordEjection(ctx, o.addr)
					}
				}
			}
		}
	}

	if fpe := b.cfg.FailurePercentageEjection; fpe != nil {
		var candidates []observation
		for addr, o := range obs {
			if ejectedThisRound[addr] {
				continue
			}
			if o.successes+o.failures >= fpe.RequestVolume {
				candidates = append(candidates, o)
			}
		}
		if uint32(len(candidates)) >= fpe.MinimumHosts {
			for _, o := range candidates {
				failurePct := 100 * (1 - o.successRate)
				if failurePct > float64(fpe.Threshold) {
					if b.maybeEject(o.addr, fpe.EnforcementPercentage) {
						xdsobservability.RecordEjection(ctx, o.addr)
					}
				}
			}
		}
	}

	for addr, ai := range b.addresses {
		if !ai.ejected {
			if ai.ejectionMultiplier > 0 {
				ai.ejectionMultiplier--
			}
			continue
		}
		base := time.Duration(b.cfg.BaseEjectionTime)
		max := time.Duration(b.cfg.MaxEjectionTime)
		dur := base * time.Duration(ai.ejectionMultiplier)
		if m := max; dur > m {
			if base > m {
				dur = base
			} else {
				dur = m
			}
		}
		if time.Now().After(ai.ejectionTimestamp.Add(dur)) {
			ai.ejected = false
			for w := range ai.wrappers {
				w.uneject()
			}
			xdsobservability.RecordUnejection(ctx, addr)
		}
	}

	b.restartIntervalTimer()
}

// observation is one address's counts for the interval just ended.
type observation struct {
	addr        string
	successes   uint32
	failures    uint32
	successRate float64
}

func meanAndStddev(obs []observation) (mean, stddev float64) {
	var sum float64
	for _, o := range obs {
		sum += o.successRate
	}
	mean = sum / float64(len(obs))
	var sq float64
	for _, o := range obs {
		d := o.successRate - mean
		sq += d * d
	}
	stddev = math.Sqrt(sq / float64(len(obs)))
	return mean, stddev
}

// maybeEject applies the enforcement-percentage roll and the
// max-ejection-percent cap (§4.7 step 3) and, if the address is ejected,
// drives every live wrapper at that address into the ejected state.
func (b *odBalancer) maybeEject(addr string, enforcementPercentage uint32) bool {
	ai, ok := b.addresses[addr]
	if !ok || ai.ejected {
		return false
	}
	// rand.Int31n(99)+1 draws from [1,100), matching the original's
	// absl::Uniform(bit_gen_, 1, 100); ejection proceeds only when the roll
	// is strictly less than the enforcement percentage.
	if rand.Int31n(99)+1 >= int32(enforcementPercentage) {
		return false
	}
	currentlyEjected := 0
	for _, a := range b.addresses {
		if a.ejected {
			currentlyEjected++
		}
	}
	if currentlyEjected > 0 {
		newPercent := 100 * (currentlyEjected + 1) / len(b.addresses)
		if uint32(newPercent) > b.cfg.MaxEjectionPercent {
			return false
		}
	}
	ai.ejected = true
	ai.ejectionTimestamp = time.Now()
	ai.ejectionMultiplier++
	for w := range ai.wrappers {
		w.eject()
	}
	return true
}

func (b *odBalancer) registerWrapper(addrKey string, w *scWrapper) {
	ai, ok := b.addresses[addrKey]
	if !ok {
		ai = newAddressInfo()
		b.addresses[addrKey] = ai
	}
	ai.wrappers[w] = struct{}{}
	w.counter = ai.counter
	if ai.ejected {
		w.eject()
	}
}

func (b *odBalancer) unregisterWrapper(addrKey string, w *scWrapper) {
	ai, ok := b.addresses[addrKey]
	if !ok {
		return
	}
	delete(ai.wrappers, w)
	if len(ai.wrappers) == 0 {
		delete(b.addresses, addrKey)
	}
}

func (b *odBalancer) recordCall(addrKey string, success bool) {
	ai, ok := b.addresses[addrKey]
	if !ok {
		return
	}
	if success {
		ai.counter.recordSuccess()
	} else {
		ai.counter.recordFailure()
	}
}

func (b *odBalancer) Close() {
	done := make(chan struct{})
	b.serializer.Run(func() {
		b.closed = true
		if b.intervalTimer != nil {
			b.intervalTimer.Stop()
		}
		b.gsb.Close()
		close(done)
	})
	<-done
	b.serializer.Close()
}

func (b *odBalancer) ExitIdle() {
	done := make(chan struct{})
	b.serializer.Run(func() {
		if bal, ok := b.gsb.Balancer().(balancer.ExitIdler); ok {
			bal.ExitIdle()
		}
		close(done)
	})
	<-done
}

func (b *odBalancer) UpdateSubConnState(balancer.SubConn, balancer.SubConnState) {
	b.logger.Errorf("UpdateSubConnState called unexpectedly; outlier_detection uses the StateListener form")
}

// odClientConn is the ClientConn the child policy sees: it wraps every
// single-address SubConn it creates in a scWrapper so ejection can force
// TRANSIENT_FAILURE, and wraps the published Picker so per-call outcomes
// feed the address's call counter.
type odClientConn struct {
	parent *odBalancer
}

func (c *odClientConn) NewSubConn(addrs []resolver.Address, opts balancer.NewSubConnOptions) (balancer.SubConn, error) {
	if len(addrs) != 1 {
		return c.parent.cc.NewSubConn(addrs, opts)
	}
	addrKey := addrs[0].Addr
	disabled := xdsinternal.GetDisableOutlierDetection(addrs[0])

	w := &scWrapper{parent: c.parent, addrKey: addrKey, disabled: disabled, childListener: opts.StateListener}
	newOpts := opts
	newOpts.StateListener = w.updateState
	sc, err := c.parent.cc.NewSubConn(addrs, newOpts)
	if err != nil {
		return nil, err
	}
	w.SubConn = sc
	if !disabled {
		c.parent.registerWrapper(addrKey, w)
	}
	return w, nil
}

func (c *odClientConn) RemoveSubConn(sc balancer.SubConn) { c.parent.cc.RemoveSubConn(sc) }

func (c *odClientConn) UpdateAddresses(sc balancer.SubConn, addrs []resolver.Address) {
	c.parent.cc.UpdateAddresses(sc, addrs)
}

func (c *odClientConn) UpdateState(state balancer.State) {
	if state.Picker != nil {
		state.Picker = &odPicker{parent: c.parent, child: state.Picker, counting: c.parent.cfg != nil && c.parent.cfg.countingEnabled()}
	}
	c.parent.cc.UpdateState(state)
}

func (c *odClientConn) ResolveNow(o resolver.ResolveNowOptions) { c.parent.cc.ResolveNow(o) }

func (c *odClientConn) Target() string { return c.parent.cc.Target() }

func (c *odClientConn) RecordInt64Count(handle any, incr int64, labels ...string) {
	c.parent.cc.RecordInt64Count(handle, incr, labels...)
}

func (c *odClientConn) AddTraceEvent(desc string) { c.parent.cc.AddTraceEvent(desc) }

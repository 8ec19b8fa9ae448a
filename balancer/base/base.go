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

// Package base provides a toolkit for simple LB policies whose picker only
// needs the latest list of Ready SubConns; the policy author supplies a
// PickerBuilder and base handles address-driven SubConn lifecycle and
// aggregate connectivity-state computation.
package base

import (
	"errors"
	"fmt"

	"github.com/corelb/lbtree/balancer"
	"github.com/corelb/lbtree/connectivity"
	"github.com/corelb/lbtree/internal/grpclog"
	"github.com/corelb/lbtree/resolver"
)

// PickerBuilder creates balancer.Picker.
type PickerBuilder interface {
	// Build returns a picker that will be used by gRPC to pick a SubConn.
	Build(info PickerBuildInfo) balancer.Picker
}

// PickerBuildInfo contains information needed by the picker builder to
// construct a picker.
type PickerBuildInfo struct {
	// ReadySCs is a map from all ready SubConns to the address used to
	// create them.
	ReadySCs map[balancer.SubConn]SubConnInfo
}

// SubConnInfo contains information about a SubConn created by the base
// balancer.
type SubConnInfo struct {
	// Address is the address used to create this SubConn.
	Address resolver.Address
}

// NewBalancerBuilder returns a balancer builder. The balancers built by
// this builder will use the picker builder to build pickers.
func NewBalancerBuilder(name string, pb PickerBuilder) balancer.Builder {
	return &baseBuilder{name: name, pickerBuilder: pb}
}

type baseBuilder struct {
	name          string
	pickerBuilder PickerBuilder
}

func (bb *baseBuilder) Build(cc balancer.ClientConn, opt balancer.BuildOptions) balancer.Balancer {
	bal := &baseBalancer{
		cc:            cc,
		pickerBuilder: bb.pickerBuilder,
		csEvltr:       &connectivityStateEvaluator{},
		scStates:      make(map[balancer.SubConn]connectivity.State),
		state:         connectivity.Connecting,
		picker:        newErrPicker(balancer.ErrNoSubConnAvailable),
		logger:        grpclog.Component("balancer/" + bb.name),
	}
	return bal
}

func (bb *baseBuilder) Name() string {
	return bb.name
}

// connectivityStateEvaluator aggregates connectivity states of a set of
// SubConns to decide the aggregate connectivity state of the ClientConn.
type connectivityStateEvaluator struct {
	numReady            uint64
	numConnecting       uint64
	numTransientFailure uint64
}

// recordTransition records state change happening in subConn and based on
// that, returns the aggregated connectivity state.
func (cse *connectivityStateEvaluator) recordTransition(oldState, newState connectivity.State) connectivity.State {
	for _, s := range []connectivity.State{oldState, newState} {
		switch s {
		case connectivity.Ready:
			updateUint(&cse.numReady, oldState == connectivity.Ready, newState == connectivity.Ready)
		case connectivity.Connecting:
			updateUint(&cse.numConnecting, oldState == connectivity.Connecting, newState == connectivity.Connecting)
		case connectivity.TransientFailure:
			updateUint(&cse.numTransientFailure, oldState == connectivity.TransientFailure, newState == connectivity.TransientFailure)
		}
	}

	switch {
	case cse.numReady > 0:
		return connectivity.Ready
	case cse.numConnecting > 0:
		return connectivity.Connecting
	case cse.numTransientFailure > 0:
		return connectivity.TransientFailure
	default:
		return connectivity.Idle
	}
}

func updateUint(n *uint64, wasSet, isSet bool) {
	if wasSet && !isSet {
		*n--
	}
	if !wasSet && isSet {
		*n++
	}
}

type baseBalancer struct {
	cc            balancer.ClientConn
	pickerBuilder PickerBuilder

	csEvltr *connectivityStateEvaluator
	state   connectivity.State

	subConns map[resolver.Address]balancer.SubConn
	scStates map[balancer.SubConn]connectivity.State
	picker   balancer.Picker
	resolverErr error
	connErr     error

	logger grpclog.LoggerV2
}

func (b *baseBalancer) ResolverError(err error) {
	b.resolverErr = err
	if len(b.subConns) == 0 {
		b.state = connectivity.TransientFailure
	}
	if b.state != connectivity.TransientFailure {
		return
	}
	b.regeneratePicker()
	b.cc.UpdateState(balancer.State{
		ConnectivityState: b.state,
		Picker:            b.picker,
	})
}

func (b *baseBalancer) UpdateClientConnState(s balancer.ClientConnState) error {
	addrsSet := resolver.NewAddressMap()
	if b.subConns == nil {
		b.subConns = make(map[resolver.Address]balancer.SubConn)
	}
	for _, a := range s.ResolverState.Addresses {
		addrsSet.Set(a, nil)
		if _, ok := b.subConns[a]; !ok {
			var sc balancer.SubConn
			opts := balancer.NewSubConnOptions{
				StateListener: func(scs balancer.SubConnState) { b.updateSubConnState(sc, scs) },
			}
			newSC, err := b.cc.NewSubConn([]resolver.Address{a}, opts)
			if err != nil {
				b.logger.Warningf("failed to create new SubConn: %v", err)
				continue
			}
			sc = newSC
			b.subConns[a] = sc
			b.scStates[sc] = connectivity.Idle
			sc.Connect()
		}
	}
	for a, sc := range b.subConns {
		if _, ok := addrsSet.Get(a); !ok {
			sc.Shutdown()
			delete(b.subConns, a)
		}
	}
	if len(s.ResolverState.Addresses) == 0 {
		b.ResolverError(errors.New("produced zero addresses"))
		return balancer.ErrBadResolverState
	}
	b.regeneratePicker()
	b.cc.UpdateState(balancer.State{ConnectivityState: b.state, Picker: b.picker})
	return nil
}

func (b *baseBalancer) mergeErrors() error {
	if b.connErr == nil {
		return fmt.Errorf("last resolver error: %v", b.resolverErr)
	}
	if b.resolverErr == nil {
		return fmt.Errorf("last connection error: %v", b.connErr)
	}
	return fmt.Errorf("last connection error: %v; last resolver error: %v", b.connErr, b.resolverErr)
}

// regeneratePicker takes a snapshot of the balancer, and generates a
// picker from it. The picker is
//   - errPicker if the balancer is in TransientFailure,
//   - built by the pickerBuilder with all READY SubConns otherwise.
func (b *baseBalancer) regeneratePicker() {
	if b.state == connectivity.TransientFailure {
		b.picker = newErrPicker(b.mergeErrors())
		return
	}
	readySCs := make(map[balancer.SubConn]SubConnInfo)
	for a, sc := range b.subConns {
		if st, ok := b.scStates[sc]; ok && st == connectivity.Ready {
			readySCs[sc] = SubConnInfo{Address: a}
		}
	}
	b.picker = b.pickerBuilder.Build(PickerBuildInfo{ReadySCs: readySCs})
}

func (b *baseBalancer) UpdateSubConnState(sc balancer.SubConn, state balancer.SubConnState) {
	b.logger.Errorf("UpdateSubConnState(%v, %+v) called unexpectedly", sc, state)
}

func (b *baseBalancer) updateSubConnState(sc balancer.SubConn, state balancer.SubConnState) {
	s := state.ConnectivityState
	oldS, ok := b.scStates[sc]
	if !ok {
		return
	}
	if oldS == connectivity.TransientFailure && s == connectivity.Connecting {
		return
	}
	b.scStates[sc] = s
	switch s {
	case connectivity.Idle:
		sc.Connect()
	case connectivity.Shutdown:
		delete(b.scStates, sc)
	case connectivity.TransientFailure:
		b.connErr = state.ConnectionError
	}

	b.state = b.csEvltr.recordTransition(oldS, s)
	if (b.state == connectivity.Ready) != (oldS == connectivity.Ready) ||
		b.state == connectivity.TransientFailure {
		b.regeneratePicker()
	}
	b.cc.UpdateState(balancer.State{ConnectivityState: b.state, Picker: b.picker})
}

func (b *baseBalancer) Close() {}

func (b *baseBalancer) ExitIdle() {
	for _, sc := range b.subConns {
		if b.scStates[sc] == connectivity.Idle {
			sc.Connect()
		}
	}
}

// newErrPicker returns a picker that always returns err on Pick().
func newErrPicker(err error) balancer.Picker {
	return &errPicker{err: err}
}

type errPicker struct {
	err error
}

func (p *errPicker) Pick(balancer.PickInfo) (balancer.PickResult, error) {
	return balancer.PickResult{}, p.err
}

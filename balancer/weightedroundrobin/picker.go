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

package weightedroundrobin

import (
	v3orcapb "github.com/cncf/xds/go/xds/data/orca/v3"

	"github.com/corelb/lbtree/balancer"
	"github.com/corelb/lbtree/codes"
	"github.com/corelb/lbtree/internal/backendmetrics"
	"github.com/corelb/lbtree/status"
)

// pickerEndpoint is one READY endpoint's subchannel paired with the
// weight tracker feeding its scheduler entry.
type pickerEndpoint struct {
	sc     balancer.SubConn
	weight *endpointWeight
}

// picker fans picks out across ready endpoints using a scheduler built
// from each endpoint's currently trusted weight. When OOB reporting is
// disabled, every unary call's ServerLoad trailer feeds a per-call
// sample back into the endpoint it was issued to, to be folded into a
// weight at the next tick.
type picker struct {
	endpoints []pickerEndpoint
	scheduler scheduler

	enableOOBLoadReport bool
}

func (p *picker) Pick(balancer.PickInfo) (balancer.PickResult, error) {
	if len(p.endpoints) == 0 {
		return balancer.PickResult{}, balancer.ErrNoSubConnAvailable
	}
	idx := 0
	if p.scheduler != nil {
		idx = p.scheduler.next()
	}
	ep := p.endpoints[idx]

	res := balancer.PickResult{SubConn: ep.sc}
	if p.enableOOBLoadReport {
		return res, nil
	}
	res.Done = func(info balancer.DoneInfo) {
		report, ok := info.ServerLoad.(*v3orcapb.OrcaLoadReport)
		if !ok || report == nil {
			return
		}
		m := backendmetrics.FromLoadReport(report)
		util := m.ApplicationUtilization()
		if util == 0 {
			util = m.CPUUtilization()
		}
		if util == 0 {
			return
		}
		errored := status.Code(info.Err) != codes.OK
		ep.weight.addSample(errored, util)
	}
	return res, nil
}

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
	"github.com/corelb/lbtree/balancer"
	"github.com/corelb/lbtree/internal/backendmetrics"
)

// oobProducerBuilder hosts one backendmetrics.Provider per SubConn,
// shared by every LB policy instance that wants this SubConn's
// out-of-band ORCA reports (weighted_round_robin being the only
// consumer in this module, but a health-checking or clusterimpl
// producer could share the same SubConn the same way).
type oobProducerBuilder struct{}

func (oobProducerBuilder) Build(grpcClientConnInterface any) (balancer.Producer, func()) {
	p := backendmetrics.NewProvider()
	return p, func() {}
}

var producerBuilder balancer.ProducerBuilder = oobProducerBuilder{}

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

package clusterimpl

import (
	"encoding/json"
	"fmt"

	internalserviceconfig "github.com/corelb/lbtree/internal/serviceconfig"
	"github.com/corelb/lbtree/serviceconfig"
)

// million is the denominator drop categories' RequestsPerMillion is
// expressed against.
const million = 1000000

// defaultMaxConcurrentRequests is used when the config doesn't set one.
const defaultMaxConcurrentRequests = 1024

// DropConfig is one EDS-configured drop category (§4.8): a fraction,
// expressed per million, of picks to unconditionally drop.
type DropConfig struct {
	Category           string `json:"category,omitempty"`
	RequestsPerMillion uint32 `json:"requestsPerMillion,omitempty"`
}

// LBConfig is the xds_cluster_impl_experimental configuration.
type LBConfig struct {
	serviceconfig.LoadBalancingConfig

	Cluster        string `json:"cluster,omitempty"`
	EDSServiceName string `json:"edsServiceName,omitempty"`
	// LoadReportingServer is the LRS server URI load is reported to, or
	// nil if load reporting is disabled. The xDS bootstrap/ADS machinery
	// that would resolve this URI to a connection is out of scope (§1
	// Non-goals); this field only gates whether the balancer accumulates
	// into a load.Store.
	LoadReportingServer *string `json:"lrsLoadReportingServer,omitempty"`

	MaxConcurrentRequests *uint32      `json:"maxConcurrentRequests,omitempty"`
	DropCategories        []DropConfig `json:"dropCategories,omitempty"`

	ChildPolicy *internalserviceconfig.BalancerConfig `json:"childPolicy,omitempty"`
}

func (c *LBConfig) maxConcurrentRequests() uint32 {
	if c.MaxConcurrentRequests == nil {
		return defaultMaxConcurrentRequests
	}
	return *c.MaxConcurrentRequests
}

// dropAll reports whether any configured category drops every pick
// (RequestsPerMillion >= million), in which case the balancer reports
// READY regardless of the child's connectivity state (§4.8).
func (c *LBConfig) dropAll() bool {
	for _, d := range c.DropCategories {
		if d.RequestsPerMillion >= million {
			return true
		}
	}
	return false
}

func parseConfig(j json.RawMessage) (*LBConfig, error) {
	cfg := &LBConfig{}
	if err := json.Unmarshal(j, cfg); err != nil {
		return nil, fmt.Errorf("clusterimpl: invalid LBConfig: %v", err)
	}
	if cfg.Cluster == "" {
		return nil, fmt.Errorf("clusterimpl: cluster name is required")
	}
	if cfg.ChildPolicy == nil {
		return nil, fmt.Errorf("clusterimpl: no childPolicy set")
	}
	return cfg, nil
}

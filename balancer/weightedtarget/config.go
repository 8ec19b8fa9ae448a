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

package weightedtarget

import (
	"encoding/json"
	"fmt"

	internalserviceconfig "github.com/corelb/lbtree/internal/serviceconfig"
	"github.com/corelb/lbtree/serviceconfig"
)

// Target is one named child's weight and configuration.
type Target struct {
	// Weight is this child's share of picks among READY children; must be
	// positive.
	Weight uint32 `json:"weight,omitempty"`
	// ChildPolicy names and configures the child balancer.
	ChildPolicy *internalserviceconfig.BalancerConfig `json:"childPolicy,omitempty"`
}

// LBConfig is the weighted_target_experimental configuration: a named set
// of children, each with a positive integer weight.
type LBConfig struct {
	serviceconfig.LoadBalancingConfig

	Targets map[string]Target `json:"targets,omitempty"`
}

func parseConfig(j json.RawMessage) (*LBConfig, error) {
	cfg := &LBConfig{}
	if err := json.Unmarshal(j, cfg); err != nil {
		return nil, fmt.Errorf("weightedtarget: invalid LBConfig: %v", err)
	}
	for name, t := range cfg.Targets {
		if t.Weight == 0 {
			return nil, fmt.Errorf("weightedtarget: target %q has zero weight", name)
		}
		if t.ChildPolicy == nil {
			return nil, fmt.Errorf("weightedtarget: target %q has no childPolicy", name)
		}
	}
	return cfg, nil
}

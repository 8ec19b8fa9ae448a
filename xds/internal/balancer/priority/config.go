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

package priority

import (
	"encoding/json"
	"fmt"

	internalserviceconfig "github.com/corelb/lbtree/internal/serviceconfig"
	"github.com/corelb/lbtree/serviceconfig"
)

// Child is one priority's entry in the children map.
type Child struct {
	// Config names and configures the child balancer for this priority.
	Config *internalserviceconfig.BalancerConfig `json:"config,omitempty"`
	// IgnoreReresolution suppresses this child's ResolveNow calls, for
	// priorities kept around only as standby fallbacks whose own
	// re-resolution attempts shouldn't cause resolver churn.
	IgnoreReresolution bool `json:"ignoreReresolution,omitempty"`
}

// LBConfig is the priority_experimental configuration: §4.5's declared
// priority order over a named set of children.
type LBConfig struct {
	serviceconfig.LoadBalancingConfig

	Children   map[string]Child `json:"children,omitempty"`
	Priorities []string         `json:"priorities,omitempty"`
}

func parseConfig(j json.RawMessage) (*LBConfig, error) {
	cfg := &LBConfig{}
	if err := json.Unmarshal(j, cfg); err != nil {
		return nil, fmt.Errorf("priority: invalid LBConfig: %v", err)
	}
	for _, name := range cfg.Priorities {
		if _, ok := cfg.Children[name]; !ok {
			return nil, fmt.Errorf("priority: priority %q not found in children", name)
		}
	}
	return cfg, nil
}

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

// Package serviceconfig contains utility functions to parse service config
// (in the {"name": ..., "config": ...} shape every composing policy's
// per-child config uses), shared by priority, weighted_target and
// xds_wrr_locality.
package serviceconfig

import (
	"encoding/json"
	"fmt"

	"github.com/corelb/lbtree/balancer"
	"github.com/corelb/lbtree/serviceconfig"
)

// BalancerConfig wraps a child policy's name alongside its already-parsed,
// typed LoadBalancingConfig, mirroring the polymorphic
// `{"<name>": {<config>}}` shape LB configs use wherever one policy names
// and configures a child (priority's `children` map, weighted_target's
// `targets` map, xds_wrr_locality's generated per-locality child).
type BalancerConfig struct {
	Name   string
	Config serviceconfig.LoadBalancingConfig
}

// MarshalJSON implements the [{name: config}] single-entry-object wire
// shape used by the LB policy registry's ParseConfig convention.
func (b *BalancerConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{b.Name: b.Config})
}

// UnmarshalJSON parses a single-entry JSON object whose only key is a
// registered balancer name, looking up that name's Builder to parse the
// value as its typed config.
func (b *BalancerConfig) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("serviceconfig: invalid balancer config %q: %v", string(data), err)
	}
	if len(m) != 1 {
		return fmt.Errorf("serviceconfig: balancer config %q must have exactly one name, got %d", string(data), len(m))
	}
	for name, cfgJSON := range m {
		bb := balancer.Get(name)
		if bb == nil {
			return fmt.Errorf("serviceconfig: unregistered balancer name %q", name)
		}
		parser, ok := bb.(balancer.ConfigParser)
		var cfg serviceconfig.LoadBalancingConfig
		var err error
		if ok {
			cfg, err = parser.ParseConfig(cfgJSON)
			if err != nil {
				return fmt.Errorf("serviceconfig: parsing config for %q: %v", name, err)
			}
		}
		b.Name, b.Config = name, cfg
	}
	return nil
}

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

package wrrlocality

import (
	"encoding/json"
	"fmt"

	internalserviceconfig "github.com/corelb/lbtree/internal/serviceconfig"
	"github.com/corelb/lbtree/serviceconfig"
)

// LBConfig is the xds_wrr_locality_experimental configuration: the single
// child policy wrapped once per observed locality (§4.10).
type LBConfig struct {
	serviceconfig.LoadBalancingConfig

	ChildPolicy *internalserviceconfig.BalancerConfig `json:"childPolicy,omitempty"`
}

func parseConfig(j json.RawMessage) (*LBConfig, error) {
	cfg := &LBConfig{}
	if err := json.Unmarshal(j, cfg); err != nil {
		return nil, fmt.Errorf("wrrlocality: invalid LBConfig: %v", err)
	}
	if cfg.ChildPolicy == nil {
		return nil, fmt.Errorf("wrrlocality: no childPolicy set")
	}
	return cfg, nil
}

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
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/corelb/lbtree/serviceconfig"
)

// jsonDuration unmarshals a google.protobuf.Duration-style JSON string
// ("10s", "0.5s") the way the rest of the LB-config surface expects
// durations to be encoded by the channel's service config plumbing.
type jsonDuration time.Duration

func (d *jsonDuration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if !strings.HasSuffix(s, "s") {
		return fmt.Errorf("weightedroundrobin: malformed duration %q: missing trailing 's'", s)
	}
	f, err := strconv.ParseFloat(strings.TrimSuffix(s, "s"), 64)
	if err != nil {
		return fmt.Errorf("weightedroundrobin: malformed duration %q: %v", s, err)
	}
	*d = jsonDuration(f * float64(time.Second))
	return nil
}

// LBConfig is the load balancing configuration for weighted_round_robin,
// decoded from the service config's per-policy JSON blob.
type LBConfig struct {
	serviceconfig.LoadBalancingConfig

	EnableOOBLoadReport     bool         `json:"enableOobLoadReport,omitempty"`
	OOBReportingPeriod      jsonDuration `json:"oobReportingPeriod,omitempty"`
	BlackoutPeriod          jsonDuration `json:"blackoutPeriod,omitempty"`
	WeightUpdatePeriod      jsonDuration `json:"weightUpdatePeriod,omitempty"`
	WeightExpirationPeriod  jsonDuration `json:"weightExpirationPeriod,omitempty"`
	ErrorUtilizationPenalty *float64     `json:"errorUtilizationPenalty,omitempty"`
}

const (
	defaultOOBReportingPeriod     = 10 * time.Second
	defaultBlackoutPeriod         = 10 * time.Second
	defaultWeightUpdatePeriod     = time.Second
	minWeightUpdatePeriod         = 100 * time.Millisecond
	defaultWeightExpirationPeriod = 3 * time.Minute
	defaultErrorUtilizationPenalty = 1.0
)

func parseConfig(j json.RawMessage) (*LBConfig, error) {
	cfg := &LBConfig{
		OOBReportingPeriod:      jsonDuration(defaultOOBReportingPeriod),
		BlackoutPeriod:          jsonDuration(defaultBlackoutPeriod),
		WeightUpdatePeriod:      jsonDuration(defaultWeightUpdatePeriod),
		WeightExpirationPeriod:  jsonDuration(defaultWeightExpirationPeriod),
	}
	if len(j) > 0 {
		if err := json.Unmarshal(j, cfg); err != nil {
			return nil, fmt.Errorf("weightedroundrobin: invalid LBConfig: %v", err)
		}
	}
	if time.Duration(cfg.WeightUpdatePeriod) < minWeightUpdatePeriod {
		cfg.WeightUpdatePeriod = jsonDuration(minWeightUpdatePeriod)
	}
	if cfg.ErrorUtilizationPenalty == nil {
		p := defaultErrorUtilizationPenalty
		cfg.ErrorUtilizationPenalty = &p
	} else if *cfg.ErrorUtilizationPenalty < 0 {
		return nil, fmt.Errorf("weightedroundrobin: errorUtilizationPenalty must be non-negative, got %v", *cfg.ErrorUtilizationPenalty)
	}
	return cfg, nil
}

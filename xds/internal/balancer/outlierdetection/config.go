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

package outlierdetection

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	internalserviceconfig "github.com/corelb/lbtree/internal/serviceconfig"
	"github.com/corelb/lbtree/serviceconfig"
)

// jsonDuration unmarshals a google.protobuf.Duration-style JSON string, the
// same convention weighted_round_robin's config uses.
type jsonDuration time.Duration

func (d *jsonDuration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if !strings.HasSuffix(s, "s") {
		return fmt.Errorf("outlierdetection: malformed duration %q: missing trailing 's'", s)
	}
	f, err := strconv.ParseFloat(strings.TrimSuffix(s, "s"), 64)
	if err != nil {
		return fmt.Errorf("outlierdetection: malformed duration %q: %v", s, err)
	}
	*d = jsonDuration(f * float64(time.Second))
	return nil
}

// SuccessRateEjection configures the success-rate ejection algorithm
// (§4.7): candidates whose success rate falls more than stdev_factor
// standard deviations below the mean are eligible for ejection.
type SuccessRateEjection struct {
	StdevFactor           uint32 `json:"stdevFactor,omitempty"`
	EnforcementPercentage uint32 `json:"enforcementPercentage,omitempty"`
	MinimumHosts          uint32 `json:"minimumHosts,omitempty"`
	RequestVolume         uint32 `json:"requestVolume,omitempty"`
}

// FailurePercentageEjection configures the failure-percentage ejection
// algorithm: candidates whose failure rate exceeds a fixed threshold are
// eligible for ejection.
type FailurePercentageEjection struct {
	Threshold             uint32 `json:"threshold,omitempty"`
	EnforcementPercentage uint32 `json:"enforcementPercentage,omitempty"`
	MinimumHosts          uint32 `json:"minimumHosts,omitempty"`
	RequestVolume         uint32 `json:"requestVolume,omitempty"`
}

// LBConfig is the outlier_detection_experimental configuration.
type LBConfig struct {
	serviceconfig.LoadBalancingConfig

	Interval           jsonDuration `json:"interval,omitempty"`
	BaseEjectionTime   jsonDuration `json:"baseEjectionTime,omitempty"`
	MaxEjectionTime    jsonDuration `json:"maxEjectionTime,omitempty"`
	MaxEjectionPercent uint32       `json:"maxEjectionPercent,omitempty"`

	SuccessRateEjection       *SuccessRateEjection       `json:"successRateEjection,omitempty"`
	FailurePercentageEjection *FailurePercentageEjection `json:"failurePercentageEjection,omitempty"`

	ChildPolicy *internalserviceconfig.BalancerConfig `json:"childPolicy,omitempty"`
}

const (
	defaultInterval           = 10 * time.Second
	defaultBaseEjectionTime   = 30 * time.Second
	defaultMaxEjectionTime    = 300 * time.Second
	defaultMaxEjectionPercent = 10
)

func parseConfig(j json.RawMessage) (*LBConfig, error) {
	cfg := &LBConfig{
		Interval:           jsonDuration(defaultInterval),
		BaseEjectionTime:   jsonDuration(defaultBaseEjectionTime),
		MaxEjectionTime:    jsonDuration(defaultMaxEjectionTime),
		MaxEjectionPercent: defaultMaxEjectionPercent,
	}
	if err := json.Unmarshal(j, cfg); err != nil {
		return nil, fmt.Errorf("outlierdetection: invalid LBConfig: %v", err)
	}
	if cfg.ChildPolicy == nil {
		return nil, fmt.Errorf("outlierdetection: no childPolicy set")
	}
	if cfg.MaxEjectionPercent > 100 {
		return nil, fmt.Errorf("outlierdetection: maxEjectionPercent must be <= 100, got %d", cfg.MaxEjectionPercent)
	}
	if sre := cfg.SuccessRateEjection; sre != nil && sre.EnforcementPercentage > 100 {
		return nil, fmt.Errorf("outlierdetection: successRateEjection.enforcementPercentage must be <= 100, got %d", sre.EnforcementPercentage)
	}
	if fpe := cfg.FailurePercentageEjection; fpe != nil {
		if fpe.Threshold > 100 {
			return nil, fmt.Errorf("outlierdetection: failurePercentageEjection.threshold must be <= 100, got %d", fpe.Threshold)
		}
		if fpe.EnforcementPercentage > 100 {
			return nil, fmt.Errorf("outlierdetection: failurePercentageEjection.enforcementPercentage must be <= 100, got %d", fpe.EnforcementPercentage)
		}
	}
	return cfg, nil
}

// countingEnabled reports whether either ejection algorithm is configured;
// §4.7 requires per-call counting only when at least one is.
func (c *LBConfig) countingEnabled() bool {
	return c.SuccessRateEjection != nil || c.FailurePercentageEjection != nil
}

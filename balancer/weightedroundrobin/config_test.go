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
	"testing"
	"time"
)

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := parseConfig(nil)
	if err != nil {
		t.Fatalf("parseConfig(nil) failed: %v", err)
	}
	if time.Duration(cfg.OOBReportingPeriod) != defaultOOBReportingPeriod {
		t.Errorf("OOBReportingPeriod = %v; want %v", time.Duration(cfg.OOBReportingPeriod), defaultOOBReportingPeriod)
	}
	if *cfg.ErrorUtilizationPenalty != defaultErrorUtilizationPenalty {
		t.Errorf("ErrorUtilizationPenalty = %v; want %v", *cfg.ErrorUtilizationPenalty, defaultErrorUtilizationPenalty)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	j := []byte(`{"enableOobLoadReport": true, "oobReportingPeriod": "5s", "errorUtilizationPenalty": 2.5}`)
	cfg, err := parseConfig(j)
	if err != nil {
		t.Fatalf("parseConfig() failed: %v", err)
	}
	if !cfg.EnableOOBLoadReport {
		t.Error("EnableOOBLoadReport = false; want true")
	}
	if time.Duration(cfg.OOBReportingPeriod) != 5*time.Second {
		t.Errorf("OOBReportingPeriod = %v; want 5s", time.Duration(cfg.OOBReportingPeriod))
	}
	if *cfg.ErrorUtilizationPenalty != 2.5 {
		t.Errorf("ErrorUtilizationPenalty = %v; want 2.5", *cfg.ErrorUtilizationPenalty)
	}
}

func TestParseConfigWeightUpdatePeriodFloor(t *testing.T) {
	j := []byte(`{"weightUpdatePeriod": "0.01s"}`)
	cfg, err := parseConfig(j)
	if err != nil {
		t.Fatalf("parseConfig() failed: %v", err)
	}
	if time.Duration(cfg.WeightUpdatePeriod) != minWeightUpdatePeriod {
		t.Errorf("WeightUpdatePeriod = %v; want floor of %v", time.Duration(cfg.WeightUpdatePeriod), minWeightUpdatePeriod)
	}
}

func TestParseConfigNegativePenaltyRejected(t *testing.T) {
	j := []byte(`{"errorUtilizationPenalty": -1}`)
	if _, err := parseConfig(j); err == nil {
		t.Fatal("parseConfig() with negative errorUtilizationPenalty succeeded; want error")
	}
}

/*
 *
 * Copyright 2024 the project authors.
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

// Package connectivity defines connectivity semantics shared by subchannels
// and LB policies.
package connectivity

// State is the connectivity state of a subchannel or an LB policy.
type State int

const (
	// Idle means the entity has not attempted to connect and will do so on
	// the next outbound call, or on an explicit request to exit idle.
	Idle State = iota
	// Connecting means the entity is attempting to connect (i.e., a TCP
	// three-way handshake or similar is pending).
	Connecting
	// Ready means the entity has a working connection and can service
	// calls.
	Ready
	// TransientFailure means the entity has seen a failure but expects to
	// recover, either via backoff or intervention from a parent policy.
	TransientFailure
	// Shutdown means the entity has been permanently shut down and will
	// never report another state transition.
	Shutdown
)

var stateName = map[State]string{
	Idle:             "IDLE",
	Connecting:       "CONNECTING",
	Ready:            "READY",
	TransientFailure: "TRANSIENT_FAILURE",
	Shutdown:         "SHUTDOWN",
}

func (s State) String() string {
	if n, ok := stateName[s]; ok {
		return n
	}
	return "INVALID_STATE"
}

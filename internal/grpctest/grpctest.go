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

// Package grpctest provides a small convention for running tables of
// subtests with a common fixture, used throughout this module's test
// files: a suite type embeds Tester and declares its cases as exported
// Test-prefixed methods.
package grpctest

import (
	"reflect"
	"testing"
)

// Tester is embedded by test suites to pick up default no-op Setup and
// Teardown hooks; suites override either by shadowing the method.
type Tester struct{}

// Setup runs before every subtest. The default implementation is a no-op.
func (Tester) Setup(t *testing.T) {}

// Teardown runs after every subtest. The default implementation is a
// no-op.
func (Tester) Teardown(t *testing.T) {}

type tester interface {
	Setup(t *testing.T)
	Teardown(t *testing.T)
}

// RunSubTests runs every exported method of s whose name starts with
// "Test" as its own t.Run subtest, wrapping each with s's Setup and
// Teardown.
func RunSubTests(t *testing.T, s tester) {
	v := reflect.ValueOf(s)
	for i := 0; i < v.NumMethod(); i++ {
		name := v.Type().Method(i).Name
		if len(name) < 4 || name[:4] != "Test" {
			continue
		}
		method := v.Method(i)
		t.Run(name, func(t *testing.T) {
			s.Setup(t)
			defer s.Teardown(t)
			method.Call([]reflect.Value{reflect.ValueOf(t)})
		})
	}
}

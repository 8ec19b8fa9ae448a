/*
 *
 * Copyright 2017 gRPC authors.
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

package balancer

import (
	"testing"

	"github.com/corelb/lbtree/internal/grpctest"
)

type s struct {
	grpctest.Tester
}

func Test(t *testing.T) {
	grpctest.RunSubTests(t, s{})
}

type fakeBuilder struct{ name string }

func (b *fakeBuilder) Build(ClientConn, BuildOptions) Balancer { return nil }
func (b *fakeBuilder) Name() string                            { return b.name }

func (s) TestRegisterGet(t *testing.T) {
	b := &fakeBuilder{name: "test_register_get"}
	Register(b)
	defer unregisterForTesting(b.Name())

	if got := Get("test_register_get"); got != b {
		t.Fatalf("Get(lowercase) = %v; want %v", got, b)
	}
	if got := Get("TEST_REGISTER_GET"); got != b {
		t.Fatalf("Get(uppercase) = %v; want %v (lookup should be case-insensitive)", got, b)
	}
}

func (s) TestGetUnregistered(t *testing.T) {
	if got := Get("does_not_exist"); got != nil {
		t.Fatalf("Get(unregistered) = %v; want nil", got)
	}
}

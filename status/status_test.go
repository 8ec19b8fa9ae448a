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

package status

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/corelb/lbtree/codes"
	"github.com/corelb/lbtree/internal/grpctest"
)

type s struct {
	grpctest.Tester
}

func Test(t *testing.T) {
	grpctest.RunSubTests(t, s{})
}

func (s) TestErrorOK(t *testing.T) {
	if err := Error(codes.OK, "foo"); err != nil {
		t.Fatalf("Error(codes.OK, _) = %v; want nil", err)
	}
}

func (s) TestError(t *testing.T) {
	err := Error(codes.Internal, "test description")
	if got, want := err.Error(), "rpc error: code = Internal desc = test description"; got != want {
		t.Fatalf("err.Error() = %q; want %q", got, want)
	}
	st, _ := FromError(err)
	if got, want := st.Code(), codes.Internal; got != want {
		t.Fatalf("st.Code() = %s; want %s", got, want)
	}
}

func (s) TestFromErrorOK(t *testing.T) {
	st, ok := FromError(nil)
	if !ok || st.Code() != codes.OK {
		t.Fatalf("FromError(nil) = %v, %v; want <Code()=OK>, true", st, ok)
	}
}

func (s) TestFromErrorUnknown(t *testing.T) {
	err := errors.New("boom")
	st, ok := FromError(err)
	if ok || st.Code() != codes.Unknown || st.Message() != "boom" {
		t.Fatalf("FromError(%v) = %v, %v; want <Code()=Unknown, Message=%q>, false", err, st, ok, "boom")
	}
}

type customError struct {
	code codes.Code
	msg  string
}

func (c customError) Error() string       { return fmt.Sprintf("rpc error: code = %s desc = %s", c.code, c.msg) }
func (c customError) GRPCStatus() *Status { return New(c.code, c.msg) }

func (s) TestFromErrorImplementsInterface(t *testing.T) {
	err := customError{code: codes.Unavailable, msg: "down"}
	st, ok := FromError(err)
	if !ok || st.Code() != codes.Unavailable || st.Message() != "down" {
		t.Fatalf("FromError(%v) = %v, %v; want <Code()=Unavailable, Message=%q>, true", err, st, ok, "down")
	}
}

func (s) TestFromErrorWrapped(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", Error(codes.Internal, "inner"))
	st, ok := FromError(err)
	if !ok || st.Code() != codes.Internal {
		t.Fatalf("FromError(%v) = %v, %v; want <Code()=Internal>, true", err, st, ok)
	}
}

func (s) TestCode(t *testing.T) {
	if got := Code(Error(codes.NotFound, "x")); got != codes.NotFound {
		t.Fatalf("Code() = %v; want NotFound", got)
	}
	if got := Code(nil); got != codes.OK {
		t.Fatalf("Code(nil) = %v; want OK", got)
	}
	if got := Code(errors.New("plain")); got != codes.Unknown {
		t.Fatalf("Code(plain) = %v; want Unknown", got)
	}
}

func (s) TestIs(t *testing.T) {
	e1 := Error(codes.AlreadyExists, "d")
	e2 := Error(codes.AlreadyExists, "d")
	if e1 == e2 {
		t.Fatal("want distinct error values")
	}
	if !errors.Is(e1, e2) {
		t.Fatal("errors.Is(e1, e2) = false; want true")
	}
}

func (s) TestFromContextError(t *testing.T) {
	tests := []struct {
		in   error
		want codes.Code
	}{
		{in: nil, want: codes.OK},
		{in: context.DeadlineExceeded, want: codes.DeadlineExceeded},
		{in: context.Canceled, want: codes.Canceled},
		{in: errors.New("other"), want: codes.Unknown},
		{in: fmt.Errorf("wrapped: %w", context.DeadlineExceeded), want: codes.DeadlineExceeded},
	}
	for _, tc := range tests {
		if got := FromContextError(tc.in).Code(); got != tc.want {
			t.Errorf("FromContextError(%v).Code() = %v; want %v", tc.in, got, tc.want)
		}
	}
}

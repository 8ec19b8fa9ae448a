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

// Package status implements errors returned by the balancer tree. A picker
// fails or drops a pick by returning an error built from this package;
// callers recover the code with FromError or Code.
package status

import (
	"context"
	"errors"
	"fmt"

	"github.com/corelb/lbtree/codes"
)

// Status holds a gRPC-style code and message.
type Status struct {
	code codes.Code
	msg  string
}

// New returns a Status with the given code and message.
func New(c codes.Code, msg string) *Status {
	return &Status{code: c, msg: msg}
}

// Newf is New with fmt.Sprintf-formatted message.
func Newf(c codes.Code, format string, a ...any) *Status {
	return New(c, fmt.Sprintf(format, a...))
}

// Code returns the status's code.
func (s *Status) Code() codes.Code {
	if s == nil {
		return codes.OK
	}
	return s.code
}

// Message returns the status's message.
func (s *Status) Message() string {
	if s == nil {
		return ""
	}
	return s.msg
}

// Err returns an immutable error representing s, or nil if s has code OK.
func (s *Status) Err() error {
	if s.Code() == codes.OK {
		return nil
	}
	return (*statusError)(s)
}

// String implements fmt.Stringer.
func (s *Status) String() string {
	return fmt.Sprintf("rpc error: code = %s desc = %s", s.Code(), s.Message())
}

type statusError Status

func (e *statusError) Error() string {
	return (*Status)(e).String()
}

func (e *statusError) GRPCStatus() *Status {
	return (*Status)(e)
}

func (e *statusError) Is(target error) bool {
	tse, ok := target.(*statusError)
	if !ok {
		return false
	}
	return tse.code == e.code && tse.msg == e.msg
}

// Error returns an error representing c and msg. If c is OK, returns nil.
func Error(c codes.Code, msg string) error {
	return New(c, msg).Err()
}

// Errorf is Error with fmt.Sprintf-formatted message.
func Errorf(c codes.Code, format string, a ...any) error {
	return Error(c, fmt.Sprintf(format, a...))
}

type grpcstatus interface {
	GRPCStatus() *Status
}

// FromError returns a Status representation of err.
//
// If err wraps (or is) a type implementing GRPCStatus() *Status, that
// status is returned along with true. If err is nil, a nil-code OK status
// is returned along with true. Otherwise a Status with code Unknown
// carrying err's message is returned along with false.
func FromError(err error) (s *Status, ok bool) {
	if err == nil {
		return nil, true
	}
	var gs grpcstatus
	if errors.As(err, &gs) {
		grpcStatus := gs.GRPCStatus()
		if grpcStatus == nil {
			return New(codes.Unknown, err.Error()), false
		}
		return grpcStatus, true
	}
	return New(codes.Unknown, err.Error()), false
}

// Convert is a convenience wrapper around FromError that always returns a
// non-nil *Status, converting non-status errors to an Unknown status.
func Convert(err error) *Status {
	s, _ := FromError(err)
	if s == nil {
		return New(codes.OK, "")
	}
	return s
}

// Code returns the code for err, OK if err is nil, or Unknown if err is a
// non-status error.
func Code(err error) codes.Code {
	return Convert(err).Code()
}

// FromContextError converts a context error into a Status, mapping
// context.DeadlineExceeded and context.Canceled to their gRPC equivalents
// mapping nil to OK, and mapping every other error to Unknown.
func FromContextError(err error) *Status {
	if err == nil {
		return New(codes.OK, "")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return New(codes.DeadlineExceeded, err.Error())
	}
	if errors.Is(err, context.Canceled) {
		return New(codes.Canceled, err.Error())
	}
	return New(codes.Unknown, err.Error())
}

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

// Package grpclog provides the logging facility used throughout the
// balancer tree. It is a thin adapter over glog, matching the shape of the
// logger interface the balancer packages are written against so individual
// policies never import glog directly.
package grpclog

import (
	"github.com/golang/glog"
)

// LoggerV2 does underlying logging work for grpclog.
type LoggerV2 interface {
	Info(args ...any)
	Infoln(args ...any)
	Infof(format string, args ...any)
	Warning(args ...any)
	Warningln(args ...any)
	Warningf(format string, args ...any)
	Error(args ...any)
	Errorln(args ...any)
	Errorf(format string, args ...any)
	Fatal(args ...any)
	Fatalln(args ...any)
	Fatalf(format string, args ...any)
	V(l int) bool
}

type glogLogger struct {
	prefix string
}

// NewLoggerV2 returns a LoggerV2 backed by glog.
func NewLoggerV2() LoggerV2 {
	return &glogLogger{}
}

func (g *glogLogger) args(a []any) []any {
	if g.prefix == "" {
		return a
	}
	return append([]any{g.prefix}, a...)
}

func (g *glogLogger) Info(args ...any)                 { glog.InfoDepth(1, g.args(args)...) }
func (g *glogLogger) Infoln(args ...any)                { glog.InfoDepth(1, g.args(args)...) }
func (g *glogLogger) Infof(format string, args ...any)  { glog.Infof(g.prefix+format, args...) }
func (g *glogLogger) Warning(args ...any)               { glog.WarningDepth(1, g.args(args)...) }
func (g *glogLogger) Warningln(args ...any)              { glog.WarningDepth(1, g.args(args)...) }
func (g *glogLogger) Warningf(format string, args ...any) { glog.Warningf(g.prefix+format, args...) }
func (g *glogLogger) Error(args ...any)                 { glog.ErrorDepth(1, g.args(args)...) }
func (g *glogLogger) Errorln(args ...any)                { glog.ErrorDepth(1, g.args(args)...) }
func (g *glogLogger) Errorf(format string, args ...any)  { glog.Errorf(g.prefix+format, args...) }
func (g *glogLogger) Fatal(args ...any)                 { glog.FatalDepth(1, g.args(args)...) }
func (g *glogLogger) Fatalln(args ...any)                { glog.FatalDepth(1, g.args(args)...) }
func (g *glogLogger) Fatalf(format string, args ...any)  { glog.Fatalf(g.prefix+format, args...) }
func (g *glogLogger) V(l int) bool                      { return bool(glog.V(glog.Level(l))) }

var logger LoggerV2 = NewLoggerV2()

// SetLoggerV2 replaces the package-level logger. Used by tests that need
// to capture or silence log output.
func SetLoggerV2(l LoggerV2) { logger = l }

// InfoDepth logs to the INFO log at the given call depth.
func InfoDepth(depth int, args ...any) { glog.InfoDepth(depth+1, args...) }

// WarningDepth logs to the WARNING log at the given call depth.
func WarningDepth(depth int, args ...any) { glog.WarningDepth(depth+1, args...) }

// ErrorDepth logs to the ERROR log at the given call depth.
func ErrorDepth(depth int, args ...any) { glog.ErrorDepth(depth+1, args...) }

// Infof logs to the INFO log.
func Infof(format string, args ...any) { logger.Infof(format, args...) }

// Warningf logs to the WARNING log.
func Warningf(format string, args ...any) { logger.Warningf(format, args...) }

// Errorf logs to the ERROR log.
func Errorf(format string, args ...any) { logger.Errorf(format, args...) }

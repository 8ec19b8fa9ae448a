/*
 *
 * Copyright 2020 gRPC authors.
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

package grpclog

// componentData records a named logging component, prefixing every line it
// emits with "[name]" the way the individual LB policy packages want their
// log lines attributed.
type componentData struct {
	component string
}

func (c *componentData) prefix(args []any) []any {
	return append([]any{"[" + c.component + "]"}, args...)
}

func (c *componentData) Info(args ...any)  { logger.Info(c.prefix(args)...) }
func (c *componentData) Infoln(args ...any) { logger.Infoln(c.prefix(args)...) }
func (c *componentData) Infof(format string, args ...any) {
	logger.Infof("["+c.component+"] "+format, args...)
}
func (c *componentData) Warning(args ...any)  { logger.Warning(c.prefix(args)...) }
func (c *componentData) Warningln(args ...any) { logger.Warningln(c.prefix(args)...) }
func (c *componentData) Warningf(format string, args ...any) {
	logger.Warningf("["+c.component+"] "+format, args...)
}
func (c *componentData) Error(args ...any)  { logger.Error(c.prefix(args)...) }
func (c *componentData) Errorln(args ...any) { logger.Errorln(c.prefix(args)...) }
func (c *componentData) Errorf(format string, args ...any) {
	logger.Errorf("["+c.component+"] "+format, args...)
}
func (c *componentData) Fatal(args ...any)  { logger.Fatal(c.prefix(args)...) }
func (c *componentData) Fatalln(args ...any) { logger.Fatalln(c.prefix(args)...) }
func (c *componentData) Fatalf(format string, args ...any) {
	logger.Fatalf("["+c.component+"] "+format, args...)
}
func (c *componentData) V(l int) bool { return logger.V(l) }

// Component creates a new component and returns it for logging. It prefixes
// its log lines with the component name, matching the convention the
// balancer packages use ("balancer/pick_first", "xds/priority", ...).
func Component(componentName string) LoggerV2 {
	return &componentData{component: componentName}
}

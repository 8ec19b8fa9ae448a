/*
 *
 * Copyright 2024 gRPC authors.
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

package overridehost

import "context"

// hostOverrideCtxKeyType is the type of the context key the call path uses
// to carry the xds_host_override_type call attribute (§4.9) down to the
// picker; PickInfo only exposes a context.Context, so the attribute rides
// in it rather than in a dedicated PickInfo field.
type hostOverrideCtxKeyType struct{}

var hostOverrideCtxKey hostOverrideCtxKeyType

// NewContextWithHostOverride returns a context carrying host as the
// xds_host_override_type call attribute, for use by a call path that has
// resolved a host-override cookie before the pick.
func NewContextWithHostOverride(ctx context.Context, host string) context.Context {
	if host == "" {
		return ctx
	}
	return context.WithValue(ctx, hostOverrideCtxKey, host)
}

// hostOverrideFromContext returns the host override carried by ctx, or ""
// if none was set.
func hostOverrideFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	h, _ := ctx.Value(hostOverrideCtxKey).(string)
	return h
}

/*
 *
 * Copyright 2019 gRPC authors.
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
 */

// Package internal contains functions/structs shared by xds balancers.
package internal

import (
	"fmt"

	"github.com/corelb/lbtree/resolver"
)

// LocalityID is xds.Locality without XXX fields, so it can be used as map
// keys.
type LocalityID struct {
	Region  string `json:"region,omitempty"`
	Zone    string `json:"zone,omitempty"`
	SubZone string `json:"subZone,omitempty"`
}

// ToString generates a string representation of LocalityID in the format
// specified in gRFC A76. Not calling it String() so printf won't call it.
func (l LocalityID) ToString() string {
	return fmt.Sprintf("{region=%q, zone=%q, sub_zone=%q}", l.Region, l.Zone, l.SubZone)
}

// Equal allows the values to be compared by Attributes.Equal.
func (l LocalityID) Equal(o any) bool {
	ol, ok := o.(LocalityID)
	if !ok {
		return false
	}
	return l.Region == ol.Region && l.Zone == ol.Zone && l.SubZone == ol.SubZone
}

// Empty returns whether or not the locality ID is empty.
func (l LocalityID) Empty() bool {
	return l.Region == "" && l.Zone == "" && l.SubZone == ""
}

// LocalityIDFromString converts a string representation of locality as
// specified in gRFC A76, into a LocalityID struct.
func LocalityIDFromString(s string) (ret LocalityID, _ error) {
	_, err := fmt.Sscanf(s, "{region=%q, zone=%q, sub_zone=%q}", &ret.Region, &ret.Zone, &ret.SubZone)
	if err != nil {
		return LocalityID{}, fmt.Errorf("%s is not a well formatted locality ID, error: %v", s, err)
	}
	return ret, nil
}

type localityKeyType string

const localityKey = localityKeyType("grpc.xds.internal.address.locality")

// GetLocalityID returns the locality ID of addr.
func GetLocalityID(addr resolver.Address) LocalityID {
	path, _ := addr.BalancerAttributes.Value(localityKey).(LocalityID)
	return path
}

// SetLocalityID sets locality ID in addr to l.
func SetLocalityID(addr resolver.Address, l LocalityID) resolver.Address {
	addr.BalancerAttributes = addr.BalancerAttributes.WithValue(localityKey, l)
	return addr
}

// SetLocalityIDInEndpoint sets locality ID in endpoint to l.
func SetLocalityIDInEndpoint(endpoint resolver.Endpoint, l LocalityID) resolver.Endpoint {
	endpoint.Attributes = endpoint.Attributes.WithValue(localityKey, l)
	return endpoint
}

// GetLocalityIDFromEndpoint returns the locality ID of endpoint, falling
// back to its first address if the endpoint itself carries none.
func GetLocalityIDFromEndpoint(endpoint resolver.Endpoint) LocalityID {
	if l, ok := endpoint.Attributes.Value(localityKey).(LocalityID); ok {
		return l
	}
	if len(endpoint.Addresses) > 0 {
		return GetLocalityID(endpoint.Addresses[0])
	}
	return LocalityID{}
}

type localityWeightKeyType string

const localityWeightKey = localityWeightKeyType("grpc.xds.internal.address.locality_weight")

// GetLocalityWeight returns the EDS locality weight carried on addr, set by
// xds_wrr_locality's (out-of-scope) upstream xDS client / resolver.
func GetLocalityWeight(addr resolver.Address) (uint32, bool) {
	w, ok := addr.BalancerAttributes.Value(localityWeightKey).(uint32)
	return w, ok
}

// SetLocalityWeight sets the EDS locality weight on addr.
func SetLocalityWeight(addr resolver.Address, w uint32) resolver.Address {
	addr.BalancerAttributes = addr.BalancerAttributes.WithValue(localityWeightKey, w)
	return addr
}

// SetLocalityWeightInEndpoint sets the EDS locality weight on endpoint.
func SetLocalityWeightInEndpoint(endpoint resolver.Endpoint, w uint32) resolver.Endpoint {
	endpoint.Attributes = endpoint.Attributes.WithValue(localityWeightKey, w)
	return endpoint
}

// GetLocalityWeightFromEndpoint returns the EDS locality weight carried on
// endpoint, falling back to its first address.
func GetLocalityWeightFromEndpoint(endpoint resolver.Endpoint) (uint32, bool) {
	if w, ok := endpoint.Attributes.Value(localityWeightKey).(uint32); ok {
		return w, true
	}
	if len(endpoint.Addresses) > 0 {
		return GetLocalityWeight(endpoint.Addresses[0])
	}
	return 0, false
}

type disableODKeyType string

const disableODKey = disableODKeyType("grpc.xds.internal.address.disable_outlier_detection")

// GetDisableOutlierDetection reports whether addr carries the
// "disable outlier detection" attribute described in outlier_detection's
// interop-with-health-checking bypass (§4.7 of the LB policy
// specification): outlier detection does not track such addresses, so their
// calls are not counted and they are never ejected.
func GetDisableOutlierDetection(addr resolver.Address) bool {
	v, _ := addr.BalancerAttributes.Value(disableODKey).(bool)
	return v
}

// SetDisableOutlierDetection marks addr as exempt from outlier ejection.
func SetDisableOutlierDetection(addr resolver.Address) resolver.Address {
	addr.BalancerAttributes = addr.BalancerAttributes.WithValue(disableODKey, true)
	return addr
}

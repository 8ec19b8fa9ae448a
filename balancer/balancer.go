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

// Package balancer defines APIs for load balancing policies: how a client
// chooses, among the addresses a name resolver returns, which connection to
// send a given call on.
//
// All APIs in this package are experimental.
package balancer

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"

	"github.com/corelb/lbtree/connectivity"
	"github.com/corelb/lbtree/resolver"
	"github.com/corelb/lbtree/serviceconfig"
)

var (
	// ErrNoSubConnAvailable indicates no SubConn is available for pick.
	// gRPC blocks the RPC until the balancer publishes a new picker through
	// UpdateState.
	ErrNoSubConnAvailable = errors.New("no SubConn is available")
	// ErrTransientFailure indicates all SubConns are in TransientFailure.
	// WaitForReady RPCs will block, non-WaitForReady RPCs will fail.
	ErrTransientFailure = errors.New("all SubConns are in TransientFailure, latest connection error")
)

func init() {
	m = make(map[string]Builder)
}

var m map[string]Builder

// Register registers the balancer Builder under b.Name(). Registrations are
// expected to happen at init time; it is not thread-safe against concurrent
// Get calls.
func Register(b Builder) {
	m[strings.ToLower(b.Name())] = b
}

// unregisterForTesting removes a balancer for testing purposes.
func unregisterForTesting(name string) {
	delete(m, strings.ToLower(name))
}

// Get returns the balancer builder registered with the given name, case
// insensitive, or nil if no builder is registered for that name.
func Get(name string) Builder {
	return m[strings.ToLower(name)]
}

// SubConn represents a single connection to a single network address produced
// by a Builder's ClientConn. Implementations are provided by the channel and
// passed to a balancer through ClientConn.NewSubConn.
type SubConn interface {
	// UpdateAddresses updates the addresses used in this SubConn. Updating
	// addresses for a SubConn is considered an optimization over removing
	// old SubConn and creating a new SubConn for new addresses.
	UpdateAddresses([]resolver.Address)
	// Connect starts the connecting for this SubConn. LB policies are
	// expected to start connecting on the SubConns it creates.
	Connect()
	// GetOrBuildProducer returns a reference to the existing Producer for
	// this ProducerBuilder in this SubConn, or, if one does not currently
	// exist, creates a new one and returns it. Returns a close function
	// which must be called when the Producer is no longer needed.
	GetOrBuildProducer(ProducerBuilder) (p Producer, close func())
	// Shutdown shuts down the SubConn gracefully. Any pending RPC will not
	// be processed but will be retried.
	Shutdown()
	// RegisterHealthListener registers a health listener that receives
	// health updates for a Ready SubConn. Only one health listener can be
	// registered at a time. A health listener should be registered every
	// time the connectivity state changes to Ready.
	RegisterHealthListener(func(SubConnState))
}

// NewSubConnOptions contains options to create new SubConn.
type NewSubConnOptions struct {
	// CredsBundle is the credentials bundle to be used in the channel
	// created for this SubConn. If set, the implementation should use this
	// credentials bundle instead of the one set in the channel.
	CredsBundle any
	// HealthCheckEnabled indicates whether a health check should be
	// enabled on this new SubConn.
	HealthCheckEnabled bool
	// StateListener is called when the state of the subconn changes. If
	// nil, GetState() should be called to get the current state.
	StateListener func(SubConnState)
}

// State contains the balancer's state relevant to the gRPC ClientConn.
type State struct {
	// ConnectivityState is the state of the ClientConn.
	ConnectivityState connectivity.State
	// Picker is used to choose connections (SubConns) for RPCs.
	Picker Picker
}

// ClientConn represents a gRPC ClientConn. It is used as a parameter to
// Builder.Build, and to add/remove/update SubConns during the lifetime of a
// balancer.
//
// This is the client-facing subset of the channel's control surface that a
// balancer gets to call; it corresponds to ChannelControlHelper.
type ClientConn interface {
	// NewSubConn is called by balancer to create a new SubConn. It doesn't
	// block and wait for the connections to be established. Behaviors of
	// the SubConn can be controlled by options.
	NewSubConn([]resolver.Address, NewSubConnOptions) (SubConn, error)
	// RemoveSubConn removes the SubConn from ClientConn.
	//
	// Deprecated: use SubConn.Shutdown instead.
	RemoveSubConn(SubConn)
	// UpdateAddresses updates the addresses used in the passed in SubConn.
	//
	// Deprecated: use SubConn.UpdateAddresses instead.
	UpdateAddresses(SubConn, []resolver.Address)
	// UpdateState notifies gRPC that the state of the ClientConn has
	// changed.
	UpdateState(State)
	// ResolveNow is called by balancer to notify gRPC to do a name
	// resolving.
	ResolveNow(resolver.ResolveNowOptions)
	// Target returns the dial target for this ClientConn.
	Target() string
	// MetricsRecorder reports per-call metrics through the channel's
	// attached metrics pipeline.
	MetricsRecorder
}

// MetricsRecorder records instrumentation data for a balancer or a
// subcomponent. Implementations in this module forward each call to their
// parent ClientConn.
type MetricsRecorder interface {
	// RecordInt64Count records an int64 count value.
	RecordInt64Count(handle any, incr int64, labels ...string)
	// AddTraceEvent attaches a short description to the channel's trace
	// for debugging; it never affects behavior.
	AddTraceEvent(desc string)
}

// BuildOptions contains additional information for Build.
type BuildOptions struct {
	// DialCreds is the transport credentials to use when communicating
	// with a remote load balancer server.
	DialCreds any
	// CredsBundle is the credentials bundle to use.
	CredsBundle any
	// Dialer is the custom dialer the balancer implementation can use to
	// dial a remote load balancer server.
	Dialer func(context.Context, string) (net.Conn, error)
	// Authority is the server name to use as part of the authentication
	// handshake when connecting to a remote load balancer server.
	Authority string
	// Target contains the parsed address info of the dial target.
	Target string
	// CustomUserAgent is the custom user agent set on the parent
	// ClientConn, which will be used to set the default user agent on
	// the channel used to talk to a remote load balancer server.
	CustomUserAgent string
}

// Builder creates a balancer.
type Builder interface {
	// Build creates a new balancer with the ClientConn.
	Build(cc ClientConn, opts BuildOptions) Balancer
	// Name returns the name of balancers built by this builder. It will
	// be used to pick balancers (for example in service config).
	Name() string
}

// ConfigParser parses load balancer configs.
type ConfigParser interface {
	// ParseConfig parses the JSON load balancer config provided into an
	// internal form, or returns an error if the config is invalid.
	ParseConfig(LoadBalancingConfigJSON json.RawMessage) (serviceconfig.LoadBalancingConfig, error)
}

// PickInfo contains additional information for a Pick.
type PickInfo struct {
	// FullMethodName is the method name for the RPC being picked for.
	FullMethodName string
	// Ctx is the RPC's context, and may contain relevant per-RPC
	// information.
	Ctx context.Context
}

// DoneInfo contains additional information for done.
type DoneInfo struct {
	// Err is the rpc error the RPC finished with, if any.
	Err error
	// Trailer contains the metadata from the RPC's trailer, if present.
	Trailer map[string][]string
	// BytesSent indicates if any bytes have been sent to the server.
	BytesSent bool
	// BytesReceived indicates if any byte has been received from the
	// server.
	BytesReceived bool
	// ServerLoad is the load received from server. It's usually sent as
	// a trailing metadata that's set by the balancer's interceptor.
	ServerLoad any
}

// PickResult contains information related to a connection chosen for an
// RPC.
type PickResult struct {
	// SubConn is the connection to use for this pick, if its state is
	// Ready. If the state is not Ready, gRPC will block the RPC until a
	// new Picker is provided by the balancer, unless the RPC is marked as
	// fail fast.
	SubConn SubConn
	// Done is called when the RPC is completed. If the SubConn is not
	// ready, Done may be nil.
	Done func(DoneInfo)
	// Metadata provides a way for LB policies to inject arbitrary
	// per-call metadata. Any metadata returned here will be merged with
	// existing metadata added by the client application.
	Metadata map[string][]string
}

// Picker is used by gRPC to pick a SubConn to send an RPC. Balancer is
// expected to generate a new picker from its snapshotted state whenever its
// internal state changes.
//
// The pickers used by gRPC can be updated by ClientConn.UpdateState.
type Picker interface {
	// Pick returns the connection to use for this RPC and related
	// information.
	//
	// Pick should not block. If the balancer needs to do I/O or any
	// blocking or time-consuming work to service this call, it should
	// return ErrNoSubConnAvailable, and the Pick call will be repeated
	// when the Picker is updated.
	//
	// If an error is returned:
	//
	// - If the error is ErrNoSubConnAvailable, gRPC will block until a new
	//   Picker is provided by the balancer.
	// - If the error implements IsTransientFailure() bool, returning true,
	//   wait-for-ready RPCs will wait, but non-wait-for-ready RPCs will be
	//   terminated with the code and message provided.
	// - For all other errors, wait-for-ready RPCs will wait, but non-wait-for-ready
	//   RPCs will be terminated with the code Unavailable and the error's
	//   message.
	Pick(info PickInfo) (PickResult, error)
}

// TransientFailureStatus is implemented by an error returned from Pick to
// signal that non-wait-for-ready RPCs should fail with this error rather
// than queue.
type TransientFailureStatus interface {
	IsTransientFailure() bool
}

// Balancer takes input from gRPC, manages SubConns, and collects and
// aggregates the connectivity states.
//
// It also generates and updates the Picker used by gRPC to pick SubConns
// for RPCs.
//
// UpdateClientConnState, ResolverError, UpdateSubConnState, and Close are
// guaranteed to be called synchronously from the same goroutine. There's no
// guarantee on picker.Pick, it may be called in any goroutine.
type Balancer interface {
	// UpdateClientConnState is called by gRPC when the state of the
	// ClientConn changes. If the error returned is ErrBadResolverState,
	// the ClientConn should begin failing RPCs with an error generated by
	// the broken resolver state.
	UpdateClientConnState(ClientConnState) error
	// ResolverError is called by gRPC when the name resolver reports an
	// error.
	ResolverError(error)
	// UpdateSubConnState is called by gRPC when the state of a SubConn
	// changes.
	//
	// Deprecated: the balancer should use the listener passed to
	// NewSubConnOptions.StateListener instead.
	UpdateSubConnState(SubConn, SubConnState)
	// Close closes the balancer. The balancer is not required to call
	// ClientConn methods once it's closed.
	Close()
	// ExitIdle instructs the LB policy to reconnect to backends / exit
	// the IDLE state, if appropriate and possible.
	ExitIdle()
}

// ExitIdler is implemented by balancers that support ExitIdle.
type ExitIdler interface {
	ExitIdle()
}

// SubConnState describes the state of a SubConn.
type SubConnState struct {
	// ConnectivityState is the connectivity state of the SubConn.
	ConnectivityState connectivity.State
	// ConnectionError is set if the ConnectivityState is TransientFailure,
	// describing the reason the SubConn failed.
	ConnectionError error
}

// ClientConnState describes the state of a ClientConn relevant to
// balancer implementations.
type ClientConnState struct {
	ResolverState resolver.State
	// BalancerConfig is the parsed load balancing configuration returned
	// by the builder's ParseConfig method, if implemented.
	BalancerConfig serviceconfig.LoadBalancingConfig
}

// ErrBadResolverState may be returned by UpdateClientConnState to
// indicate that the resolver state is invalid.
var ErrBadResolverState = errors.New("bad resolver state")

// A ProducerBuilder is a simple constructor for a Producer. A Producer is
// something that a SubConn can host to share expensive, reference-counted
// state with multiple consuming LB policies, such as a health-checking
// stream or an ORCA out-of-band report listener.
type ProducerBuilder interface {
	// Build creates a Producer. The first parameter is always a
	// grpc.ClientConnInterface (the same grpc.ClientConn that is passed
	// to the balancer).
	Build(grpcClientConnInterface any) (p Producer, close func())
}

// Producer is a type shared among potentially many consumers. It is
// associated with a SubConn, and an implementation will typically contain
// other methods to provide additional functionality.
type Producer any

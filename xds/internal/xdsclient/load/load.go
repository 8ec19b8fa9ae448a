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

// Package load provides the minimal per-cluster load-reporting
// collaborator that xds_cluster_impl accumulates into and an LRS stream
// would drain from. The LRS stream itself, and the xDS client that owns
// the bootstrap/ADS machinery to locate it, are out of scope for the LB
// policy core (§1 Non-goals of the LB policy specification); this package
// only defines the data shape and accumulation contract a real xDS client
// would consume.
package load

import (
	"sync"
	"sync/atomic"
	"time"
)

// Store gives out PerClusterStore for the clusters it knows about,
// creating one on first use and keeping it alive until every reference
// that Cluster handed out for it has been released. xds_cluster_impl uses
// a single process-wide Store.
type Store struct {
	mu       sync.Mutex
	clusters map[clusterServiceKey]*perClusterRefcounted
}

type clusterServiceKey struct {
	cluster string
	service string
}

type perClusterRefcounted struct {
	store *PerClusterStore
	refs  int
}

// NewStore returns a new, empty Store.
func NewStore() *Store {
	return &Store{clusters: make(map[clusterServiceKey]*perClusterRefcounted)}
}

// Cluster returns the PerClusterStore for (clusterName, edsServiceName),
// creating one if necessary, and a function to release this reference
// when the balancer that requested it is torn down.
func (s *Store) Cluster(clusterName, edsServiceName string) (*PerClusterStore, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := clusterServiceKey{cluster: clusterName, service: edsServiceName}
	e, ok := s.clusters[key]
	if !ok {
		e = &perClusterRefcounted{store: &PerClusterStore{cluster: clusterName, service: edsServiceName}}
		s.clusters[key] = e
	}
	e.refs++
	return e.store, func() { s.release(key) }
}

func (s *Store) release(key clusterServiceKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.clusters[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs == 0 {
		delete(s.clusters, key)
	}
}

// PerClusterStore accumulates locality-level request counts and drop
// counts for one (cluster, eds_service_name) pair between LRS reporting
// intervals.
type PerClusterStore struct {
	cluster, service string

	mu        sync.Mutex
	localities map[string]*LocalityData
	drops      map[string]*atomic.Uint64

	lastReported time.Time
}

// LocalityData accumulates request counts for one locality.
type LocalityData struct {
	RequestStats RequestData
}

// RequestData holds in-progress/succeeded/errored/issued request counts
// for a locality, matching the fields an LRS ClusterStats proto expects.
type RequestData struct {
	InProgress atomic.Int64
	Succeeded  atomic.Uint64
	Errored    atomic.Uint64
	Issued     atomic.Uint64
}

// CallStarted records the start of a call routed to locality.
func (p *PerClusterStore) CallStarted(locality string) {
	if p == nil {
		return
	}
	l := p.localityData(locality)
	l.RequestStats.Issued.Add(1)
	l.RequestStats.InProgress.Add(1)
}

// CallFinished records the end of a call routed to locality.
func (p *PerClusterStore) CallFinished(locality string, errored bool) {
	if p == nil {
		return
	}
	l := p.localityData(locality)
	l.RequestStats.InProgress.Add(-1)
	if errored {
		l.RequestStats.Errored.Add(1)
	} else {
		l.RequestStats.Succeeded.Add(1)
	}
}

// CallDropped records that a call was dropped for category.
func (p *PerClusterStore) CallDropped(category string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	if p.drops == nil {
		p.drops = make(map[string]*atomic.Uint64)
	}
	c, ok := p.drops[category]
	if !ok {
		c = new(atomic.Uint64)
		p.drops[category] = c
	}
	p.mu.Unlock()
	c.Add(1)
}

func (p *PerClusterStore) localityData(locality string) *LocalityData {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.localities == nil {
		p.localities = make(map[string]*LocalityData)
	}
	l, ok := p.localities[locality]
	if !ok {
		l = &LocalityData{}
		p.localities[locality] = l
	}
	return l
}

// Data is a reporting-interval snapshot of one cluster's accumulated load,
// the shape an LRS stream would serialize and send upstream.
type Data struct {
	Cluster        string
	Service        string
	ReportInterval time.Duration
	LocalityStats  map[string]LocalityData
	TotalDrops     uint64
	Drops          map[string]uint64
}

// Stats returns a snapshot of p's accumulated load since the last call to
// Stats, resetting counters that are naturally interval-scoped (drops,
// succeeded/errored/issued) but preserving InProgress, which spans
// intervals.
func (p *PerClusterStore) Stats() *Data {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	interval := now.Sub(p.lastReported)
	p.lastReported = now

	d := &Data{
		Cluster:        p.cluster,
		Service:        p.service,
		ReportInterval: interval,
		LocalityStats:  make(map[string]LocalityData, len(p.localities)),
		Drops:          make(map[string]uint64, len(p.drops)),
	}
	for name, l := range p.localities {
		d.LocalityStats[name] = LocalityData{RequestStats: RequestData{
			Succeeded: atomic.Uint64{},
			Errored:   atomic.Uint64{},
			Issued:    atomic.Uint64{},
		}}
		ld := d.LocalityStats[name]
		ld.RequestStats.Succeeded.Store(l.RequestStats.Succeeded.Swap(0))
		ld.RequestStats.Errored.Store(l.RequestStats.Errored.Swap(0))
		ld.RequestStats.Issued.Store(l.RequestStats.Issued.Swap(0))
		ld.RequestStats.InProgress.Store(l.RequestStats.InProgress.Load())
		d.LocalityStats[name] = ld
	}
	for cat, c := range p.drops {
		n := c.Swap(0)
		d.Drops[cat] = n
		d.TotalDrops += n
	}
	return d
}

// Copyright 2023 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package endpoints

import (
	"encoding/json"
	"sort"
)

// Service identifies one of the logical services a region exposes. The
// constants below cover the common storage services; arbitrary service
// names are also accepted.
type Service string

const (
	// ServiceUpload is the object-upload service.
	ServiceUpload Service = "upload"
	// ServiceDownload is the object-download service.
	ServiceDownload Service = "download"
	// ServiceManagement is the bucket- and object-management service.
	ServiceManagement Service = "management"
	// ServiceQuery is the region-query (configuration) service.
	ServiceQuery Service = "query"
)

// Region is a named group of endpoint sets, one per service. A region is
// immutable once built and safe to share across concurrent calls.
type Region struct {
	id       string
	services map[Service]Set
}

// ID returns the region identifier.
func (r Region) ID() string {
	return r.id
}

// Endpoints returns the endpoint set for the given service. The zero Set
// is returned for services the region does not carry.
func (r Region) Endpoints(svc Service) Set {
	return r.services[svc]
}

// Services returns the services the region carries endpoints for, sorted
// for determinism.
func (r Region) Services() []Service {
	services := make([]Service, 0, len(r.services))
	for svc := range r.services {
		services = append(services, svc)
	}
	sort.Slice(services, func(i, j int) bool { return services[i] < services[j] })
	return services
}

// RegionBuilder accumulates endpoint sets and produces an immutable Region.
type RegionBuilder struct {
	id       string
	services map[Service]setJSON
}

// BuildRegion starts building a region with the given identifier.
func BuildRegion(id string) *RegionBuilder {
	return &RegionBuilder{id: id, services: map[Service]setJSON{}}
}

// AddPreferred appends endpoints to the preferred list of the given service.
func (b *RegionBuilder) AddPreferred(svc Service, eps ...Endpoint) *RegionBuilder {
	s := b.services[svc]
	s.Preferred = append(s.Preferred, eps...)
	b.services[svc] = s
	return b
}

// AddAlternative appends endpoints to the alternative list of the given
// service.
func (b *RegionBuilder) AddAlternative(svc Service, eps ...Endpoint) *RegionBuilder {
	s := b.services[svc]
	s.Alternative = append(s.Alternative, eps...)
	b.services[svc] = s
	return b
}

// Build returns the region. The builder may be reused; the returned region
// does not alias its internal state.
func (b *RegionBuilder) Build() Region {
	services := make(map[Service]Set, len(b.services))
	for svc, s := range b.services {
		services[svc] = NewSet(s.Preferred, s.Alternative)
	}
	return Region{id: b.id, services: services}
}

type regionJSON struct {
	ID       string          `json:"id"`
	Services map[Service]Set `json:"services"`
}

// MarshalJSON implements [json.Marshaler] for the persisted cache tier.
func (r Region) MarshalJSON() ([]byte, error) {
	return json.Marshal(regionJSON{ID: r.id, Services: r.services})
}

// UnmarshalJSON implements [json.Unmarshaler].
func (r *Region) UnmarshalJSON(data []byte) error {
	var raw regionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.id = raw.ID
	r.services = raw.Services
	return nil
}

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
	"context"
	"fmt"
	"slices"
)

// RegionsProvider supplies the ordered list of regions that can serve a
// logical target. The first region is the most preferred.
type RegionsProvider interface {
	Regions(ctx context.Context) ([]Region, error)
}

// EndpointsProvider turns a list of requested services into a single
// endpoint set, in try order.
type EndpointsProvider interface {
	Endpoints(ctx context.Context, services ...Service) (Set, error)
}

// StaticRegions returns a provider that always returns the given fixed
// region list.
func StaticRegions(regions ...Region) RegionsProvider {
	return staticRegions(slices.Clone(regions))
}

type staticRegions []Region

func (p staticRegions) Regions(_ context.Context) ([]Region, error) {
	return slices.Clone([]Region(p)), nil
}

// StaticEndpoints returns a provider that always returns the given set,
// regardless of the requested services.
func StaticEndpoints(set Set) EndpointsProvider {
	return staticEndpoints{set}
}

type staticEndpoints struct {
	set Set
}

func (p staticEndpoints) Endpoints(_ context.Context, _ ...Service) (Set, error) {
	return p.set, nil
}

// FromRegions returns an endpoints provider that flattens the endpoint
// sets of all regions returned by the given regions provider. The first
// region contributes its endpoints as-is; every later region contributes
// all of its endpoints to the alternative list, so that a whole region is
// only tried after the most preferred one is exhausted.
func FromRegions(provider RegionsProvider) EndpointsProvider {
	return &regionsEndpoints{provider: provider}
}

type regionsEndpoints struct {
	provider RegionsProvider
}

func (p *regionsEndpoints) Endpoints(ctx context.Context, services ...Service) (Set, error) {
	regions, err := p.provider.Regions(ctx)
	if err != nil {
		return Set{}, fmt.Errorf("endpoints: querying regions: %w", err)
	}
	if len(regions) == 0 {
		return Set{}, fmt.Errorf("endpoints: no regions available")
	}
	var sets []Set
	for i, region := range regions {
		for _, svc := range services {
			set := region.Endpoints(svc)
			if i > 0 {
				// Fallback region: everything is an alternative.
				set = NewSet(nil, set.All())
			}
			sets = append(sets, set)
		}
	}
	return Merge(sets...), nil
}

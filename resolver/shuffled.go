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

package resolver

import (
	"context"
	"math/rand"
	"net/netip"
	"slices"
	"sync"

	"github.com/bufbuild/httpdispatch/internal"
)

// NewShuffled wraps a resolver so that every call returns the resolved
// addresses in a fresh random order, spreading load across a service's
// addresses. Wrap the cached resolver, not the other way around, so the
// cache keeps the canonical order.
func NewShuffled(inner Resolver) Resolver {
	return &shuffledResolver{inner: inner, rnd: internal.NewRand()}
}

type shuffledResolver struct {
	inner Resolver
	mu    sync.Mutex
	rnd   *rand.Rand
}

func (r *shuffledResolver) Resolve(ctx context.Context, domain string) ([]netip.Addr, error) {
	addrs, err := r.inner.Resolve(ctx, domain)
	if err != nil {
		return nil, err
	}
	shuffled := slices.Clone(addrs)
	r.mu.Lock()
	r.rnd.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	r.mu.Unlock()
	return shuffled, nil
}

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

package chooser

import (
	"fmt"
	"math/rand"
	"net/netip"
	"slices"
	"sync"

	"github.com/bufbuild/httpdispatch/internal"
)

// DefaultRandomChooseFraction is the share of candidates NewNeverEmptyHanded
// falls back to when the inner chooser returns nothing.
const DefaultRandomChooseFraction = 0.5

// NeverEmptyOption configures a never-empty-handed chooser.
type NeverEmptyOption func(*neverEmptyOptions)

type neverEmptyOptions struct {
	fraction float64
}

// WithRandomChooseFraction overrides the share of candidates returned when
// the inner chooser comes back empty. Must be in (0, 1]. At least one
// candidate is always returned.
func WithRandomChooseFraction(fraction float64) NeverEmptyOption {
	return func(opts *neverEmptyOptions) {
		opts.fraction = fraction
	}
}

// NewNeverEmptyHanded wraps a chooser so that a call can always make
// progress: if the inner chooser would return no addresses (say, all of
// them blacklisted), a small random sample of the original candidates is
// returned instead, ignoring blacklist state. The attempts against that
// sample produce fresh feedback, which beats failing outright on stale
// blacklist data.
func NewNeverEmptyHanded(inner Chooser, opts ...NeverEmptyOption) (Chooser, error) {
	o := neverEmptyOptions{fraction: DefaultRandomChooseFraction}
	for _, opt := range opts {
		opt(&o)
	}
	if o.fraction <= 0 || o.fraction > 1 {
		return nil, fmt.Errorf("chooser: random choose fraction must be in (0, 1], got %v", o.fraction)
	}
	return &neverEmptyChooser{inner: inner, fraction: o.fraction, rnd: internal.NewRand()}, nil
}

type neverEmptyChooser struct {
	inner    Chooser
	fraction float64
	mu       sync.Mutex
	rnd      *rand.Rand
}

func (c *neverEmptyChooser) Choose(addrs []netip.Addr, domain string) []netip.Addr {
	chosen := c.inner.Choose(addrs, domain)
	if len(chosen) > 0 || len(addrs) == 0 {
		return chosen
	}
	count := int(float64(len(addrs)) * c.fraction)
	if count < 1 {
		count = 1
	}
	sample := slices.Clone(addrs)
	c.mu.Lock()
	c.rnd.Shuffle(len(sample), func(i, j int) {
		sample[i], sample[j] = sample[j], sample[i]
	})
	c.mu.Unlock()
	return sample[:count]
}

func (c *neverEmptyChooser) Feedback(fb Feedback) {
	c.inner.Feedback(fb)
}

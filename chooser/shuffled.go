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
	"math/rand"
	"net/netip"
	"slices"
	"sync"

	"github.com/bufbuild/httpdispatch/internal"
)

// NewShuffled wraps a chooser so that the chosen subset comes back in a
// fresh random order on every call, spreading attempts across addresses.
func NewShuffled(inner Chooser) Chooser {
	return &shuffledChooser{inner: inner, rnd: internal.NewRand()}
}

type shuffledChooser struct {
	inner Chooser
	mu    sync.Mutex
	rnd   *rand.Rand
}

func (c *shuffledChooser) Choose(addrs []netip.Addr, domain string) []netip.Addr {
	// The inner chooser may return the caller's slice; never shuffle
	// that in place.
	chosen := slices.Clone(c.inner.Choose(addrs, domain))
	c.mu.Lock()
	c.rnd.Shuffle(len(chosen), func(i, j int) {
		chosen[i], chosen[j] = chosen[j], chosen[i]
	})
	c.mu.Unlock()
	return chosen
}

func (c *shuffledChooser) Feedback(fb Feedback) {
	c.inner.Feedback(fb)
}

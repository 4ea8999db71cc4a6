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

package backoff

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/bufbuild/httpdispatch/internal"
)

// Default jitter spread of NewRandomized: delays land uniformly between
// half and one-and-a-half times the inner delay.
const (
	DefaultMinFraction = 0.5
	DefaultMaxFraction = 1.5
)

// NewRandomized wraps a backoff with jitter: each delay is drawn uniformly
// from [inner*minFraction, inner*maxFraction), so that many clients
// failing at once do not retry in lockstep. Fractions must satisfy
// 0 <= minFraction <= maxFraction.
func NewRandomized(inner Backoff, minFraction, maxFraction float64) (Backoff, error) {
	if minFraction < 0 {
		return nil, fmt.Errorf("backoff: min fraction must not be negative, got %v", minFraction)
	}
	if maxFraction < minFraction {
		return nil, fmt.Errorf("backoff: max fraction %v is less than min fraction %v", maxFraction, minFraction)
	}
	return &randomizedBackoff{
		inner:       inner,
		minFraction: minFraction,
		maxFraction: maxFraction,
		rnd:         internal.NewRand(),
	}, nil
}

type randomizedBackoff struct {
	inner       Backoff
	minFraction float64
	maxFraction float64
	mu          sync.Mutex
	rnd         *rand.Rand
}

func (b *randomizedBackoff) Delay(attempt int) time.Duration {
	delay := float64(b.inner.Delay(attempt))
	low := delay * b.minFraction
	high := delay * b.maxFraction
	if high <= low {
		return saturateDuration(low)
	}
	b.mu.Lock()
	jittered := low + b.rnd.Float64()*(high-low)
	b.mu.Unlock()
	return saturateDuration(jittered)
}

// saturateDuration converts a float delay to a duration without the
// implementation-defined wrapping of an out-of-range conversion: the
// fractions can push an already-saturated inner delay past MaxInt64.
func saturateDuration(f float64) time.Duration {
	if f <= 0 {
		return 0
	}
	if f >= math.MaxInt64 {
		return math.MaxInt64
	}
	return time.Duration(f)
}

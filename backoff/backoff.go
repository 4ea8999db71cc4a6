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
	"time"
)

// Backoff computes how long to wait before the next attempt. The attempt
// number starts at zero for the wait after the first failure.
// Implementations must be safe for concurrent use.
type Backoff interface {
	Delay(attempt int) time.Duration
}

// DefaultBase is the first delay of the default exponential policy.
const DefaultBase = 100 * time.Millisecond

// Fixed returns a backoff with a constant delay.
func Fixed(delay time.Duration) Backoff {
	return fixedBackoff(delay)
}

type fixedBackoff time.Duration

func (b fixedBackoff) Delay(int) time.Duration {
	return time.Duration(b)
}

// NewExponential returns a backoff whose delay grows geometrically:
// base*multiplier^attempt. The base must be positive and the multiplier
// at least 1. Delays saturate instead of overflowing for large attempt
// numbers.
func NewExponential(base time.Duration, multiplier float64) (Backoff, error) {
	if base <= 0 {
		return nil, fmt.Errorf("backoff: base delay must be positive, got %v", base)
	}
	if multiplier < 1 {
		return nil, fmt.Errorf("backoff: multiplier must be at least 1, got %v", multiplier)
	}
	return &exponentialBackoff{base: base, multiplier: multiplier}, nil
}

type exponentialBackoff struct {
	base       time.Duration
	multiplier float64
}

func (b *exponentialBackoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(b.base) * math.Pow(b.multiplier, float64(attempt))
	if delay >= math.MaxInt64 || math.IsInf(delay, 1) {
		return math.MaxInt64
	}
	return time.Duration(delay)
}

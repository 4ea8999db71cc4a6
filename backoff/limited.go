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
	"time"
)

// NewLimited wraps a backoff so its delays are clamped into [min, max].
func NewLimited(inner Backoff, minDelay, maxDelay time.Duration) (Backoff, error) {
	if minDelay < 0 {
		return nil, fmt.Errorf("backoff: min delay must not be negative, got %v", minDelay)
	}
	if maxDelay < minDelay {
		return nil, fmt.Errorf("backoff: max delay %v is less than min delay %v", maxDelay, minDelay)
	}
	return &limitedBackoff{inner: inner, min: minDelay, max: maxDelay}, nil
}

type limitedBackoff struct {
	inner Backoff
	min   time.Duration
	max   time.Duration
}

func (b *limitedBackoff) Delay(attempt int) time.Duration {
	delay := b.inner.Delay(attempt)
	if delay < b.min {
		return b.min
	}
	if delay > b.max {
		return b.max
	}
	return delay
}

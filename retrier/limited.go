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

package retrier

import "fmt"

// DefaultMaxAttempts is the total attempt budget used by NewLimited when
// callers do not supply their own.
const DefaultMaxAttempts = 10

// NewLimited wraps a retrier with a cap on total attempts per call. Once
// the cap is reached, a retryable decision is downgraded to Stop if no
// endpoints remain, or forced to TryNextEndpoint if some do, so each
// remaining endpoint gets at most one attempt and the call terminates.
func NewLimited(inner RequestRetrier, maxAttempts int) (RequestRetrier, error) {
	if maxAttempts < 1 {
		return nil, fmt.Errorf("retrier: max attempts must be at least 1, got %d", maxAttempts)
	}
	return &limitedRetrier{inner: inner, maxAttempts: maxAttempts}, nil
}

type limitedRetrier struct {
	inner       RequestRetrier
	maxAttempts int
}

func (r *limitedRetrier) Decide(err error, state *State) Decision {
	decision := r.inner.Decide(err, state)
	if !decision.Retryable() || state.Attempts < r.maxAttempts {
		return decision
	}
	if state.EndpointsRemaining > 0 {
		return TryNextEndpoint
	}
	return Stop
}

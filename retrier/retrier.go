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

// Decision is what the dispatcher should do about a failed attempt.
type Decision int

const (
	// Stop surfaces the failure; no further attempts are useful.
	Stop Decision = iota
	// RetrySameEndpoint repeats the attempt against the same address.
	RetrySameEndpoint
	// TrySibling attempts a different resolved address of the same host.
	TrySibling
	// TryNextEndpoint moves on to a different host in the endpoint set.
	TryNextEndpoint
	// Throttle is TrySibling with the server's suggested delay, when the
	// server asked the client to back off.
	Throttle
)

// Retryable reports whether the decision calls for another attempt.
func (d Decision) Retryable() bool {
	return d != Stop
}

func (d Decision) String() string {
	switch d {
	case Stop:
		return "stop"
	case RetrySameEndpoint:
		return "retry-same-endpoint"
	case TrySibling:
		return "try-sibling"
	case TryNextEndpoint:
		return "try-next-endpoint"
	case Throttle:
		return "throttle"
	default:
		return "unknown"
	}
}

// State is the dispatcher's view of one logical call, updated once per
// attempt and passed to the retrier for each decision.
type State struct {
	// Attempts is the total number of attempts made so far, including the
	// one that just failed.
	Attempts int
	// AttemptsOnEndpoint counts attempts against the current endpoint.
	AttemptsOnEndpoint int
	// SiblingsRemaining is how many resolved addresses of the current
	// endpoint have not been attempted yet.
	SiblingsRemaining int
	// EndpointsRemaining is how many endpoints of the set have not been
	// attempted yet.
	EndpointsRemaining int
	// Idempotent reports whether repeating the request is safe even when
	// the previous attempt may have reached the server.
	Idempotent bool
}

// RequestRetrier decides whether and how a failed attempt is retried.
// Implementations must be safe for concurrent use.
type RequestRetrier interface {
	Decide(err error, state *State) Decision
}

// Never returns a retrier that always stops on the first failure.
func Never() RequestRetrier {
	return neverRetrier{}
}

type neverRetrier struct{}

func (neverRetrier) Decide(error, *State) Decision {
	return Stop
}

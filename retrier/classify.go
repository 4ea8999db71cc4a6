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

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/bufbuild/httpdispatch/resolver"
)

// DefaultEndpointRetries is how many times an attempt may be repeated on
// the same endpoint before the classifier forces a move to the next one.
const DefaultEndpointRetries = 2

// statusCoder is implemented by errors that carry a server-returned HTTP
// status code, such as the dispatcher's ServerError.
type statusCoder interface {
	HTTPStatusCode() int
}

// DefaultDecisionTable returns the default mapping from exact status codes
// to decisions. The exact code set is service-specific configuration; the
// defaults cover the standard throttling code plus the service codes the
// storage backend uses for rate limiting and for permanently failed
// requests.
func DefaultDecisionTable() map[int]Decision {
	return map[int]Decision{
		429: Throttle,
		509: Throttle,
		573: Throttle,
		501: Stop,
		579: Stop,
		599: Stop,
		608: Stop,
		612: Stop,
		614: Stop,
		616: Stop,
		618: Stop,
		630: Stop,
		631: Stop,
		632: Stop,
		640: Stop,
		701: Stop,
	}
}

// ClassifyOption configures an error-classifying retrier.
type ClassifyOption func(*classifyOptions)

type classifyOptions struct {
	table           map[int]Decision
	endpointRetries int
}

// WithDecisionTable overrides decisions for exact status codes. Entries
// are merged over the defaults; the ranges (4xx stop, 5xx try next
// endpoint) still apply to codes the table does not name.
func WithDecisionTable(table map[int]Decision) ClassifyOption {
	return func(opts *classifyOptions) {
		for code, decision := range table {
			opts.table[code] = decision
		}
	}
}

// WithEndpointRetries overrides how many repeats on one endpoint are
// allowed before the classifier forces TryNextEndpoint.
func WithEndpointRetries(retries int) ClassifyOption {
	return func(opts *classifyOptions) {
		opts.endpointRetries = retries
	}
}

// NewErrorClassifying returns a retrier that inspects what kind of failure
// occurred. Connection-level failures and transient server statuses are
// retried, favoring a sibling address or the next endpoint; client errors
// stop; throttling statuses yield Throttle. Failures that may have reached
// the server are only retried when the request is idempotent.
func NewErrorClassifying(opts ...ClassifyOption) RequestRetrier {
	o := classifyOptions{
		table:           DefaultDecisionTable(),
		endpointRetries: DefaultEndpointRetries,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &classifyingRetrier{table: o.table, endpointRetries: o.endpointRetries}
}

type classifyingRetrier struct {
	table           map[int]Decision
	endpointRetries int
}

func (r *classifyingRetrier) Decide(err error, state *State) Decision {
	decision := r.classify(err, state)
	// Cap repeats on one endpoint so a consistently bad host cannot eat
	// the whole attempt budget.
	if decision == RetrySameEndpoint || decision == Throttle {
		if state.AttemptsOnEndpoint > r.endpointRetries {
			return TryNextEndpoint
		}
	}
	return decision
}

func (r *classifyingRetrier) classify(err error, state *State) Decision {
	switch {
	case err == nil:
		return Stop
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// The caller gave up; retrying behind their back helps nobody.
		return Stop
	}

	var resolutionErr *resolver.Error
	if errors.As(err, &resolutionErr) {
		// The name did not resolve here; siblings come from the same
		// resolution, so only another endpoint can help.
		return TryNextEndpoint
	}

	var coder statusCoder
	if errors.As(err, &coder) {
		return r.classifyStatus(coder.HTTPStatusCode())
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return RetrySameEndpoint
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		// Could not even connect; a sibling address may be reachable.
		return TrySibling
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		// The request may have reached the server before the connection
		// died.
		return r.ifIdempotent(state, RetrySameEndpoint)
	}
	if _, ok := err.(net.Error); ok { //nolint:errorlint // direct check on the outermost error is intended
		return TrySibling
	}
	return r.ifIdempotent(state, RetrySameEndpoint)
}

func (r *classifyingRetrier) classifyStatus(status int) Decision {
	if decision, ok := r.table[status]; ok {
		return decision
	}
	switch {
	case status >= 500:
		return TryNextEndpoint
	default:
		// Client errors: the request itself is wrong, or unauthorized.
		return Stop
	}
}

func (r *classifyingRetrier) ifIdempotent(state *State, decision Decision) Decision {
	if state.Idempotent {
		return decision
	}
	return Stop
}

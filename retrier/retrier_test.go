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
	"testing"

	"github.com/bufbuild/httpdispatch/resolver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusError int

func (e statusError) Error() string       { return "status error" }
func (e statusError) HTTPStatusCode() int { return int(e) }

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestNever(t *testing.T) {
	t.Parallel()
	r := Never()
	assert.Equal(t, Stop, r.Decide(errors.New("boom"), &State{}))
}

func TestClassifyStatusCodes(t *testing.T) {
	t.Parallel()
	r := NewErrorClassifying()
	idempotent := &State{Attempts: 1, AttemptsOnEndpoint: 1, Idempotent: true}

	assert.Equal(t, Throttle, r.Decide(statusError(429), idempotent))
	assert.Equal(t, Throttle, r.Decide(statusError(509), idempotent))
	assert.Equal(t, Throttle, r.Decide(statusError(573), idempotent))
	assert.Equal(t, Stop, r.Decide(statusError(400), idempotent))
	assert.Equal(t, Stop, r.Decide(statusError(401), idempotent))
	assert.Equal(t, Stop, r.Decide(statusError(501), idempotent))
	assert.Equal(t, Stop, r.Decide(statusError(579), idempotent))
	assert.Equal(t, Stop, r.Decide(statusError(631), idempotent))
	assert.Equal(t, TryNextEndpoint, r.Decide(statusError(500), idempotent))
	assert.Equal(t, TryNextEndpoint, r.Decide(statusError(503), idempotent))
}

func TestClassifyNetworkErrors(t *testing.T) {
	t.Parallel()
	r := NewErrorClassifying()
	idempotent := &State{Attempts: 1, AttemptsOnEndpoint: 1, Idempotent: true}
	nonIdempotent := &State{Attempts: 1, AttemptsOnEndpoint: 1}

	dialErr := &net.OpError{Op: "dial", Err: errors.New("connection refused")}
	assert.Equal(t, TrySibling, r.Decide(dialErr, idempotent))
	assert.Equal(t, TrySibling, r.Decide(dialErr, nonIdempotent),
		"a dial failure never reached the server, so idempotency does not matter")

	assert.Equal(t, RetrySameEndpoint, r.Decide(timeoutError{}, idempotent))

	assert.Equal(t, RetrySameEndpoint, r.Decide(io.ErrUnexpectedEOF, idempotent))
	assert.Equal(t, Stop, r.Decide(io.ErrUnexpectedEOF, nonIdempotent),
		"the request may have reached the server")
}

func TestClassifyResolutionError(t *testing.T) {
	t.Parallel()
	r := NewErrorClassifying()
	err := &resolver.Error{Domain: "example.com", Err: resolver.ErrTimeout}
	assert.Equal(t, TryNextEndpoint, r.Decide(err, &State{Attempts: 1, AttemptsOnEndpoint: 1}))
}

func TestClassifyContextCancellation(t *testing.T) {
	t.Parallel()
	r := NewErrorClassifying()
	state := &State{Attempts: 1, AttemptsOnEndpoint: 1, Idempotent: true}
	assert.Equal(t, Stop, r.Decide(context.Canceled, state))
	assert.Equal(t, Stop, r.Decide(context.DeadlineExceeded, state))
}

func TestClassifyEndpointRetryCap(t *testing.T) {
	t.Parallel()
	r := NewErrorClassifying()
	state := &State{Attempts: 3, AttemptsOnEndpoint: 3, Idempotent: true}
	assert.Equal(t, TryNextEndpoint, r.Decide(timeoutError{}, state),
		"third attempt on one endpoint moves on")
	assert.Equal(t, TryNextEndpoint, r.Decide(statusError(429), state),
		"the cap applies to throttling as well")

	loose := NewErrorClassifying(WithEndpointRetries(5))
	assert.Equal(t, RetrySameEndpoint, loose.Decide(timeoutError{}, state))
}

func TestCustomDecisionTable(t *testing.T) {
	t.Parallel()
	r := NewErrorClassifying(WithDecisionTable(map[int]Decision{418: Throttle}))
	state := &State{Attempts: 1, AttemptsOnEndpoint: 1, Idempotent: true}
	assert.Equal(t, Throttle, r.Decide(statusError(418), state))
	// Entries merge over the defaults rather than replacing them.
	assert.Equal(t, Throttle, r.Decide(statusError(429), state))
}

func TestLimitedCapsAttempts(t *testing.T) {
	t.Parallel()
	r, err := NewLimited(NewErrorClassifying(), 3)
	require.NoError(t, err)

	under := &State{Attempts: 2, AttemptsOnEndpoint: 1, Idempotent: true}
	assert.Equal(t, RetrySameEndpoint, r.Decide(timeoutError{}, under))

	atCapMoreEndpoints := &State{Attempts: 3, AttemptsOnEndpoint: 1, EndpointsRemaining: 2, Idempotent: true}
	assert.Equal(t, TryNextEndpoint, r.Decide(timeoutError{}, atCapMoreEndpoints))

	atCapLastEndpoint := &State{Attempts: 3, AttemptsOnEndpoint: 1, Idempotent: true}
	assert.Equal(t, Stop, r.Decide(timeoutError{}, atCapLastEndpoint))

	_, err = NewLimited(NewErrorClassifying(), 0)
	assert.Error(t, err)
}

func TestDecisionString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "stop", Stop.String())
	assert.Equal(t, "throttle", Throttle.String())
	assert.False(t, Stop.Retryable())
	assert.True(t, TrySibling.Retryable())
}

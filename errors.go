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

package httpdispatch

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/bufbuild/httpdispatch/endpoints"
)

// ServerError is a response with a non-2xx status. The dispatcher builds
// one per failed attempt; the retry policy classifies it by status code.
type ServerError struct {
	// StatusCode is the HTTP status of the response.
	StatusCode int
	// Message is the status line the server returned.
	Message string
	// RequestID is the server's request identifier header, when present,
	// for correlating with server-side logs.
	RequestID string
	// RetryAfter is the server-suggested delay from the Retry-After
	// header, or zero when the server did not suggest one.
	RetryAfter time.Duration
}

func (e *ServerError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("httpdispatch: server returned %s (request id %s)", e.Message, e.RequestID)
	}
	return fmt.Sprintf("httpdispatch: server returned %s", e.Message)
}

// HTTPStatusCode returns the response status, letting retry policies
// classify the error without depending on this package.
func (e *ServerError) HTTPStatusCode() int {
	return e.StatusCode
}

// AttemptError records one failed attempt: where it was aimed and what
// went wrong. Addr is invalid when the failure happened before an address
// was chosen (for example, a resolution failure).
type AttemptError struct {
	Endpoint endpoints.Endpoint
	Addr     netip.Addr
	Err      error
}

func (e *AttemptError) Error() string {
	if e.Addr.IsValid() {
		return fmt.Sprintf("%s (%s): %v", e.Endpoint, e.Addr, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Endpoint, e.Err)
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}

// DispatchError is the single terminal error of a failed call. It names
// the services the endpoint set was obtained for and carries every
// attempt's error, so callers can tell whether the failure was DNS,
// connectivity, or server-side.
type DispatchError struct {
	// Services are the services the endpoint set was obtained for.
	Services []endpoints.Service
	// Attempts are the failed attempts, in order.
	Attempts []*AttemptError
}

func (e *DispatchError) Error() string {
	var sb strings.Builder
	sb.WriteString("httpdispatch: call failed")
	if len(e.Services) > 0 {
		names := make([]string, len(e.Services))
		for i, svc := range e.Services {
			names[i] = string(svc)
		}
		fmt.Fprintf(&sb, " for services [%s]", strings.Join(names, ", "))
	}
	if len(e.Attempts) > 0 {
		last := e.Attempts[len(e.Attempts)-1]
		fmt.Fprintf(&sb, " after %d attempt(s), last: %v", len(e.Attempts), last)
	}
	return sb.String()
}

// Unwrap exposes every attempt's error to errors.Is and errors.As.
func (e *DispatchError) Unwrap() []error {
	errs := make([]error, len(e.Attempts))
	for i, attempt := range e.Attempts {
		errs[i] = attempt
	}
	return errs
}

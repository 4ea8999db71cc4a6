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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strconv"
	"time"

	"github.com/bufbuild/httpdispatch/chooser"
	"github.com/bufbuild/httpdispatch/endpoints"
	"github.com/bufbuild/httpdispatch/retrier"
	"github.com/sirupsen/logrus"
)

// Idempotency declares whether a request may safely be repeated after a
// failure that could have reached the server.
type Idempotency int

const (
	// IdempotencyDefault derives idempotency from the method: everything
	// but POST is treated as idempotent.
	IdempotencyDefault Idempotency = iota
	// IdempotencyAlways marks the request as safe to repeat.
	IdempotencyAlways
	// IdempotencyNever marks the request as unsafe to repeat.
	IdempotencyNever
)

// Request describes one logical service call, independent of which
// concrete server ends up serving it.
type Request struct {
	// Services selects which endpoint sets can serve the call, most
	// preferred first.
	Services []endpoints.Service
	// Method is the HTTP method; GET if empty.
	Method string
	// Path is the URL path of the call.
	Path string
	// Query is the URL query, if any.
	Query url.Values
	// Header holds extra request headers.
	Header http.Header
	// Body is the request payload. It is kept as a byte slice so that
	// retried attempts can resend it.
	Body []byte
	// Idempotency controls retrying of failures that may have reached
	// the server.
	Idempotency Idempotency
}

func (r *Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return r.Method
}

func (r *Request) idempotent() bool {
	switch r.Idempotency {
	case IdempotencyAlways:
		return true
	case IdempotencyNever:
		return false
	default:
		return r.method() != http.MethodPost
	}
}

// Do dispatches the request: it obtains the endpoint set for the
// requested services, resolves and chooses addresses, and attempts the
// call until it succeeds, the retry policy stops it, or every endpoint is
// exhausted. Failures return a single *DispatchError carrying every
// attempt's classified error.
//
// Cancelling ctx stops the call, including any backoff wait, at the next
// network or wait boundary.
func (c *Client) Do(ctx context.Context, req *Request) (*http.Response, error) {
	set, err := c.endpoints.Endpoints(ctx, req.Services...)
	if err != nil {
		// No candidates to try: fatal.
		return nil, &DispatchError{
			Services: req.Services,
			Attempts: []*AttemptError{{Err: fmt.Errorf("obtaining endpoints: %w", err)}},
		}
	}
	eps := set.All()
	if len(eps) == 0 {
		return nil, &DispatchError{
			Services: req.Services,
			Attempts: []*AttemptError{{Err: errors.New("endpoint set is empty")}},
		}
	}

	state := &retrier.State{Idempotent: req.idempotent()}
	var attempts []*AttemptError
	fail := func() (*http.Response, error) {
		return nil, &DispatchError{Services: req.Services, Attempts: attempts}
	}

endpointsLoop:
	for i, ep := range eps {
		state.AttemptsOnEndpoint = 0
		state.EndpointsRemaining = len(eps) - i - 1
		domain := ""
		if ep.IsDomain() {
			domain = ep.Domain()
		}

		// Resolve the endpoint into candidate addresses.
		var addrs []netip.Addr
		for addrs == nil {
			if !ep.IsDomain() {
				addrs = []netip.Addr{ep.IP()}
				break
			}
			resolved, resolveErr := c.resolver.Resolve(ctx, domain)
			if resolveErr == nil {
				addrs = resolved
				break
			}
			state.Attempts++
			state.AttemptsOnEndpoint++
			state.SiblingsRemaining = 0
			attempts = append(attempts, &AttemptError{Endpoint: ep, Err: resolveErr})
			decision := c.retrier.Decide(resolveErr, state)
			c.logAttempt(ep, netip.Addr{}, resolveErr, decision, state)
			switch decision {
			case retrier.Stop:
				return fail()
			case retrier.TryNextEndpoint:
				continue endpointsLoop
			default:
				if waitErr := c.wait(ctx, c.backoff.Delay(state.AttemptsOnEndpoint-1)); waitErr != nil {
					attempts = append(attempts, &AttemptError{Endpoint: ep, Err: waitErr})
					return fail()
				}
			}
		}

		chosen := c.chooser.Choose(addrs, domain)
		if len(chosen) == 0 {
			attempts = append(attempts, &AttemptError{
				Endpoint: ep,
				Err:      fmt.Errorf("no usable addresses among %d resolved", len(addrs)),
			})
			continue
		}

		for sibling := 0; sibling < len(chosen); {
			addr := chosen[sibling]
			state.Attempts++
			state.AttemptsOnEndpoint++
			state.SiblingsRemaining = len(chosen) - sibling - 1

			resp, attemptErr := c.attempt(ctx, req, ep, addr, domain)
			c.chooser.Feedback(chooser.Feedback{
				Addrs:   []netip.Addr{addr},
				Domain:  domain,
				Success: attemptErr == nil,
			})
			if attemptErr == nil {
				return resp, nil
			}
			attempts = append(attempts, &AttemptError{Endpoint: ep, Addr: addr, Err: attemptErr})

			decision := c.retrier.Decide(attemptErr, state)
			c.logAttempt(ep, addr, attemptErr, decision, state)
			if decision == retrier.Stop {
				return fail()
			}
			delay := c.backoff.Delay(state.AttemptsOnEndpoint - 1)
			if decision == retrier.Throttle {
				if hint := retryAfterHint(attemptErr); hint > 0 {
					delay = hint
				}
			}
			if waitErr := c.wait(ctx, delay); waitErr != nil {
				attempts = append(attempts, &AttemptError{Endpoint: ep, Err: waitErr})
				return fail()
			}
			switch decision {
			case retrier.TryNextEndpoint:
				continue endpointsLoop
			case retrier.TrySibling, retrier.Throttle:
				sibling++
			case retrier.RetrySameEndpoint:
				// Same address again.
			}
		}
	}
	return fail()
}

// attempt performs one transport call against one address.
func (c *Client) attempt(
	ctx context.Context,
	req *Request,
	ep endpoints.Endpoint,
	addr netip.Addr,
	domain string,
) (*http.Response, error) {
	target := url.URL{
		Scheme: c.scheme,
		Host:   ep.String(),
		Path:   req.Path,
	}
	if !ep.IsDomain() {
		target.Host = addrHost(addr, ep.Port())
	}
	if len(req.Query) > 0 {
		target.RawQuery = req.Query.Encode()
	}
	if domain != "" {
		// Keep the logical host in the URL so TLS verification and the
		// Host header see the name, and dial the chosen address instead.
		ctx = withPinnedAddr(ctx, addr.String())
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method(), target.String(), bytes.NewReader(req.Body))
	if err != nil {
		return nil, err
	}
	for name, values := range req.Header {
		httpReq.Header[name] = values
	}
	if c.signer != nil {
		if err := c.signer.Sign(httpReq); err != nil {
			return nil, fmt.Errorf("signing request: %w", err)
		}
	}
	resp, err := c.transport.RoundTrip(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 == 2 {
		return resp, nil
	}
	serverErr := &ServerError{
		StatusCode: resp.StatusCode,
		Message:    resp.Status,
		RequestID:  resp.Header.Get("X-Request-Id"),
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), c.clock.Now()),
	}
	// Drain so the connection can be reused for the retry.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	_ = resp.Body.Close()
	return nil, serverErr
}

// wait sleeps for the given delay, or returns early with the context's
// error when the caller gives up.
func (c *Client) wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := c.clock.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.Chan():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) logAttempt(
	ep endpoints.Endpoint,
	addr netip.Addr,
	err error,
	decision retrier.Decision,
	state *retrier.State,
) {
	fields := logrus.Fields{
		"endpoint": ep.String(),
		"attempt":  state.Attempts,
		"decision": decision.String(),
	}
	if addr.IsValid() {
		fields["addr"] = addr.String()
	}
	c.log.WithFields(fields).WithError(err).Debug("httpdispatch: attempt failed")
}

func addrHost(addr netip.Addr, port uint16) string {
	if port != 0 {
		return net.JoinHostPort(addr.String(), strconv.Itoa(int(port)))
	}
	if addr.Is6() {
		return "[" + addr.String() + "]"
	}
	return addr.String()
}

func retryAfterHint(err error) time.Duration {
	var serverErr *ServerError
	if errors.As(err, &serverErr) {
		return serverErr.RetryAfter
	}
	return 0
}

// parseRetryAfter understands both forms of the Retry-After header: a
// delay in seconds, or an HTTP date.
func parseRetryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

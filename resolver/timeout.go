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

package resolver

import (
	"context"
	"net/netip"
	"time"

	"github.com/bufbuild/httpdispatch/internal"
)

// DefaultTimeout is the deadline used by NewTimeout when none is given.
const DefaultTimeout = 5 * time.Second

// NewTimeout wraps a resolver so that a resolution taking longer than
// timeout fails with an error wrapping ErrTimeout. The inner resolution
// is not cancelled, only abandoned: if it later succeeds its side effects
// (such as populating an inner cache) still happen.
func NewTimeout(inner Resolver, timeout time.Duration) Resolver {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &timeoutResolver{inner: inner, timeout: timeout, clock: internal.NewRealClock()}
}

type timeoutResolver struct {
	inner   Resolver
	timeout time.Duration
	clock   internal.Clock
}

type resolveResult struct {
	addrs []netip.Addr
	err   error
}

func (r *timeoutResolver) Resolve(ctx context.Context, domain string) ([]netip.Addr, error) {
	// Buffered so the inner goroutine can finish even when nobody is
	// listening anymore.
	resultCh := make(chan resolveResult, 1)
	innerCtx := context.WithoutCancel(ctx)
	go func() {
		addrs, err := r.inner.Resolve(innerCtx, domain)
		resultCh <- resolveResult{addrs: addrs, err: err}
	}()

	timer := r.clock.NewTimer(r.timeout)
	defer timer.Stop()
	select {
	case result := <-resultCh:
		return result.addrs, result.err
	case <-timer.Chan():
		return nil, &Error{Domain: domain, Err: ErrTimeout}
	case <-ctx.Done():
		return nil, &Error{Domain: domain, Err: ctx.Err()}
	}
}

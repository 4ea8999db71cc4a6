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
	"errors"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	addrs []netip.Addr
	err   error
	calls atomic.Int32
	block chan struct{}
}

func (r *fakeResolver) Resolve(ctx context.Context, _ string) ([]netip.Addr, error) {
	r.calls.Add(1)
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return r.addrs, r.err
}

func addrsOf(strs ...string) []netip.Addr {
	addrs := make([]netip.Addr, len(strs))
	for i, s := range strs {
		addrs[i] = netip.MustParseAddr(s)
	}
	return addrs
}

func TestChainedFirstSuccessWins(t *testing.T) {
	t.Parallel()
	failing := &fakeResolver{err: &Error{Domain: "example.com", Err: errors.New("no such host")}}
	working := &fakeResolver{addrs: addrsOf("10.0.0.1")}
	unreached := &fakeResolver{addrs: addrsOf("10.0.0.2")}

	addrs, err := NewChained(failing, working, unreached).Resolve(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, addrsOf("10.0.0.1"), addrs)
	assert.Equal(t, int32(1), failing.calls.Load())
	assert.Equal(t, int32(1), working.calls.Load())
	assert.Equal(t, int32(0), unreached.calls.Load())
}

func TestChainedAllFail(t *testing.T) {
	t.Parallel()
	first := &fakeResolver{err: errors.New("first down")}
	second := &fakeResolver{err: errors.New("second down")}

	_, err := NewChained(first, second).Resolve(context.Background(), "example.com")
	var resolutionErr *Error
	require.ErrorAs(t, err, &resolutionErr)
	assert.Equal(t, "example.com", resolutionErr.Domain)
	assert.ErrorContains(t, err, "first down")
	assert.ErrorContains(t, err, "second down")
}

func TestCachedSingleUpstreamCall(t *testing.T) {
	t.Parallel()
	inner := &fakeResolver{addrs: addrsOf("10.0.0.1", "10.0.0.2")}
	cached, err := NewCached(inner)
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, cached.Close())
	}()

	for i := 0; i < 5; i++ {
		addrs, err := cached.Resolve(context.Background(), "example.com")
		require.NoError(t, err)
		assert.Equal(t, addrsOf("10.0.0.1", "10.0.0.2"), addrs)
	}
	assert.Equal(t, int32(1), inner.calls.Load(), "repeat lookups are served from cache")
}

func TestCachedErrorsNotCached(t *testing.T) {
	t.Parallel()
	inner := &fakeResolver{err: errors.New("transient")}
	cached, err := NewCached(inner)
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, cached.Close())
	}()

	_, err = cached.Resolve(context.Background(), "example.com")
	require.Error(t, err)

	inner.err = nil
	inner.addrs = addrsOf("10.0.0.1")
	addrs, err := cached.Resolve(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, addrsOf("10.0.0.1"), addrs)
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestCachedInvalidate(t *testing.T) {
	t.Parallel()
	inner := &fakeResolver{addrs: addrsOf("10.0.0.1")}
	cached, err := NewCached(inner)
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, cached.Close())
	}()

	_, err = cached.Resolve(context.Background(), "example.com")
	require.NoError(t, err)
	cached.Invalidate("example.com")
	_, err = cached.Resolve(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestCachedChainedComposition(t *testing.T) {
	t.Parallel()
	failing := &fakeResolver{err: &Error{Domain: "example.com", Err: errors.New("no such host")}}
	working := &fakeResolver{addrs: addrsOf("10.0.0.1", "10.0.0.2")}
	cached, err := NewCached(NewChained(failing, working))
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, cached.Close())
	}()

	addrs, err := cached.Resolve(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, addrsOf("10.0.0.1", "10.0.0.2"), addrs)

	// The second lookup is a cache hit: the chain is not walked again.
	addrs, err = cached.Resolve(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, addrsOf("10.0.0.1", "10.0.0.2"), addrs)
	assert.Equal(t, int32(1), failing.calls.Load())
	assert.Equal(t, int32(1), working.calls.Load())
}

func TestShuffledPreservesMembers(t *testing.T) {
	t.Parallel()
	inner := &fakeResolver{addrs: addrsOf("10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4")}
	shuffled := NewShuffled(inner)

	addrs, err := shuffled.Resolve(context.Background(), "example.com")
	require.NoError(t, err)
	assert.ElementsMatch(t, inner.addrs, addrs)
	assert.Equal(t, addrsOf("10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4"), inner.addrs,
		"the inner resolver's slice keeps its canonical order")
}

func TestTimeoutPassthrough(t *testing.T) {
	t.Parallel()
	inner := &fakeResolver{addrs: addrsOf("10.0.0.1")}
	addrs, err := NewTimeout(inner, time.Minute).Resolve(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, addrsOf("10.0.0.1"), addrs)
}

func TestTimeoutExpires(t *testing.T) {
	t.Parallel()
	inner := &fakeResolver{block: make(chan struct{})}
	defer close(inner.block)

	_, err := NewTimeout(inner, 10*time.Millisecond).Resolve(context.Background(), "example.com")
	var resolutionErr *Error
	require.ErrorAs(t, err, &resolutionErr)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, "example.com", resolutionErr.Domain)
}

func TestTimeoutHonorsContext(t *testing.T) {
	t.Parallel()
	inner := &fakeResolver{block: make(chan struct{})}
	defer close(inner.block)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewTimeout(inner, time.Minute).Resolve(ctx, "example.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

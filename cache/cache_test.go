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

package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bufbuild/httpdispatch/internal/clocktest"
	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fetchConst(value string) FetchFunc[string] {
	return func(context.Context) (string, error) {
		return value, nil
	}
}

func TestNewValidatesTTL(t *testing.T) {
	t.Parallel()
	_, err := New[string](0)
	assert.Error(t, err)
	_, err = New[string](-time.Second)
	assert.Error(t, err)
}

func TestGetFetchesOnceThenCaches(t *testing.T) {
	t.Parallel()
	c, err := New[string](time.Minute)
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, c.Close())
	}()

	var calls atomic.Int32
	fetch := func(context.Context) (string, error) {
		calls.Add(1)
		return "value", nil
	}
	for i := 0; i < 3; i++ {
		got, err := c.Get(context.Background(), "key", fetch)
		require.NoError(t, err)
		assert.Equal(t, "value", got)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetExpiry(t *testing.T) {
	t.Parallel()
	c, err := New[string](time.Minute)
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, c.Close())
	}()
	clk := clocktest.NewFakeClock()
	c.clock = clk

	_, err = c.Get(context.Background(), "key", fetchConst("first"))
	require.NoError(t, err)

	clk.Advance(time.Minute + time.Second)
	got, err := c.Get(context.Background(), "key", fetchConst("second"))
	require.NoError(t, err)
	assert.Equal(t, "second", got, "an expired entry is a miss, never served stale")
}

func TestGetCoalescesConcurrentMisses(t *testing.T) {
	t.Parallel()
	c, err := New[string](time.Minute)
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, c.Close())
	}()

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "value", nil
	}

	const waiters = 8
	var wg sync.WaitGroup
	results := make([]string, waiters)
	for i := 0; i < waiters; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := c.Get(context.Background(), "key", fetch)
			assert.NoError(t, err)
			results[i] = got
		}()
	}
	// Give the goroutines a chance to pile onto the same key.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "concurrent misses share one fetch")
	for _, got := range results {
		assert.Equal(t, "value", got)
	}
}

func TestGetCancelledWaiterDoesNotAbortFetch(t *testing.T) {
	t.Parallel()
	c, err := New[string](time.Minute)
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, c.Close())
	}()

	release := make(chan struct{})
	fetchStarted := make(chan struct{})
	fetch := func(ctx context.Context) (string, error) {
		close(fetchStarted)
		select {
		case <-release:
			return "value", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-fetchStarted
		cancel()
	}()
	_, err = c.Get(ctx, "key", fetch)
	require.ErrorIs(t, err, context.Canceled)

	// The fetch keeps running detached and populates the cache.
	close(release)
	got, err := c.Get(context.Background(), "key", func(context.Context) (string, error) {
		return "", errors.New("should have been cached")
	})
	require.NoError(t, err)
	assert.Equal(t, "value", got)
}

func TestFetchErrorNotCached(t *testing.T) {
	t.Parallel()
	c, err := New[string](time.Minute)
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, c.Close())
	}()

	sentinel := errors.New("upstream down")
	_, err = c.Get(context.Background(), "key", func(context.Context) (string, error) {
		return "", sentinel
	})
	require.ErrorIs(t, err, sentinel)

	got, err := c.Get(context.Background(), "key", fetchConst("recovered"))
	require.NoError(t, err)
	assert.Equal(t, "recovered", got)
}

func TestDelete(t *testing.T) {
	t.Parallel()
	c, err := New[string](time.Minute)
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, c.Close())
	}()

	_, err = c.Get(context.Background(), "key", fetchConst("first"))
	require.NoError(t, err)
	c.Delete("key")
	got, err := c.Get(context.Background(), "key", fetchConst("second"))
	require.NoError(t, err)
	assert.Equal(t, "second", got)
}

func TestPersistenceRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "cache.json")

	first, err := New[string](time.Hour, WithPath(path))
	require.NoError(t, err)
	_, err = first.Get(context.Background(), "key", fetchConst("persisted"))
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := New[string](time.Hour, WithPath(path))
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, second.Close())
	}()
	got, err := second.Get(context.Background(), "key", func(context.Context) (string, error) {
		return "", errors.New("should come from disk")
	})
	require.NoError(t, err)
	assert.Equal(t, "persisted", got)
}

func TestPersistenceSkipsExpired(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "cache.json")

	first, err := New[string](time.Millisecond, WithPath(path))
	require.NoError(t, err)
	_, err = first.Get(context.Background(), "key", fetchConst("short-lived"))
	require.NoError(t, err)
	require.NoError(t, first.Close())

	time.Sleep(10 * time.Millisecond)
	second, err := New[string](time.Millisecond, WithPath(path))
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, second.Close())
	}()
	got, err := second.Get(context.Background(), "key", fetchConst("fresh"))
	require.NoError(t, err)
	assert.Equal(t, "fresh", got, "expired records on disk are not loaded")
}

func TestFlushCoversWritesDuringFlush(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "cache.json")

	c, err := New[string](time.Hour, WithPath(path))
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, c.Close())
	}()

	// Hold the file lock so the first flush stalls mid-write.
	blocker := flock.New(path + ".lock")
	require.NoError(t, blocker.Lock())

	_, err = c.Get(context.Background(), "a", fetchConst("alpha"))
	require.NoError(t, err)
	// Let the flusher take its snapshot and block on the lock before the
	// second entry lands.
	time.Sleep(100 * time.Millisecond)
	_, err = c.Get(context.Background(), "b", fetchConst("beta"))
	require.NoError(t, err)
	require.NoError(t, blocker.Unlock())

	assert.Eventually(t, func() bool {
		data, err := os.ReadFile(path)
		if err != nil {
			return false
		}
		content := string(data)
		return strings.Contains(content, `"a"`) && strings.Contains(content, `"b"`)
	}, 5*time.Second, 10*time.Millisecond,
		"an entry stored during a flush still reaches disk without another mutation or Close")
}

func TestPersistenceToleratesTruncatedTail(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "cache.json")

	first, err := New[string](time.Hour, WithPath(path))
	require.NoError(t, err)
	_, err = first.Get(context.Background(), "a", fetchConst("alpha"))
	require.NoError(t, err)
	require.NoError(t, first.Close())

	// Simulate a crash mid-write: a half-record at the end of the file.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString(`{"key":"b","value":`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	second, err := New[string](time.Hour, WithPath(path))
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, second.Close())
	}()
	got, err := second.Get(context.Background(), "a", func(context.Context) (string, error) {
		return "", errors.New("should come from disk")
	})
	require.NoError(t, err)
	assert.Equal(t, "alpha", got, "records before the corruption survive")
}

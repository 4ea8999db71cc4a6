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
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bufbuild/httpdispatch/internal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// FetchFunc computes the value for a key on a cache miss.
type FetchFunc[V any] func(ctx context.Context) (V, error)

// Cache is a TTL-keyed cache with an in-process concurrent tier and an
// optional on-disk tier. Expired entries are treated as misses and are
// never returned stale. Concurrent misses for the same key are coalesced:
// only one fetch runs upstream, and every waiter observes its outcome.
//
// Values must be JSON-serializable when the on-disk tier is enabled.
type Cache[V any] struct {
	ttl   time.Duration
	clock internal.Clock
	log   logrus.FieldLogger

	entries sync.Map // string -> *entry[V]
	group   singleflight.Group

	persist  *persistentFile[V]
	flushing atomic.Bool
	dirty    atomic.Bool
	closed   chan struct{}
}

type entry[V any] struct {
	value      V
	createdAt  time.Time
	ttl        time.Duration
	lastAccess atomic.Int64 // unix nanos, diagnostic only
}

func (e *entry[V]) expiresAt() time.Time {
	return e.createdAt.Add(e.ttl)
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	path string
	log  logrus.FieldLogger
}

// WithPath enables the on-disk tier, persisting entries to the given file.
// Multiple processes may share one file; access is arbitrated by advisory
// file locks. Persistence failures degrade the cache to in-memory-only
// operation and are logged, never surfaced to lookups.
func WithPath(path string) Option {
	return func(opts *options) {
		opts.path = path
	}
}

// WithLogger sets the logger used to report degraded persistence. If not
// set, the logrus standard logger is used.
func WithLogger(log logrus.FieldLogger) Option {
	return func(opts *options) {
		opts.log = log
	}
}

// New returns a cache whose entries live for the given TTL. The TTL must
// be positive: entries never outlive it, so an unbounded cache cannot be
// constructed by accident.
func New[V any](ttl time.Duration, opts ...Option) (*Cache[V], error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("cache: ttl must be positive, got %v", ttl)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logrus.StandardLogger()
	}
	c := &Cache[V]{
		ttl:    ttl,
		clock:  internal.NewRealClock(),
		log:    o.log,
		closed: make(chan struct{}),
	}
	if o.path != "" {
		c.persist = newPersistentFile[V](o.path, o.log)
		c.load()
	}
	return c, nil
}

// Get returns the cached value for key, fetching it with the given fetch
// function on a miss. An expired entry is a miss. If several goroutines
// miss on the same key concurrently, fetch runs once and all of them
// receive its result.
//
// Cancelling ctx stops waiting but does not abort an in-flight fetch that
// other goroutines may be waiting on; the fetch still completes and
// populates the cache for their benefit.
func (c *Cache[V]) Get(ctx context.Context, key string, fetch FetchFunc[V]) (V, error) {
	if value, ok := c.lookup(key); ok {
		return value, nil
	}
	// The fetch must outlive this caller for the sake of other waiters, so
	// it runs on a context detached from ctx's cancellation.
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		if value, ok := c.lookup(key); ok {
			return value, nil
		}
		value, err := fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		c.Set(key, value)
		return value, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			var zero V
			return zero, res.Err
		}
		return res.Val.(V), nil //nolint:forcetypeassert // only V is ever stored
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// Set stores value under key with the cache's TTL, replacing any previous
// entry. The on-disk tier, if any, is updated asynchronously.
func (c *Cache[V]) Set(key string, value V) {
	now := c.clock.Now()
	e := &entry[V]{value: value, createdAt: now, ttl: c.ttl}
	e.lastAccess.Store(now.UnixNano())
	c.entries.Store(key, e)
	c.flushLater()
}

// Delete removes the entry for key, if any.
func (c *Cache[V]) Delete(key string) {
	c.entries.Delete(key)
	c.flushLater()
}

// Close flushes the on-disk tier and releases it. The in-memory tier
// remains usable.
func (c *Cache[V]) Close() error {
	select {
	case <-c.closed:
		return nil
	default:
	}
	close(c.closed)
	if c.persist == nil {
		return nil
	}
	return c.persist.save(c.snapshot())
}

func (c *Cache[V]) lookup(key string) (V, bool) {
	var zero V
	value, ok := c.entries.Load(key)
	if !ok {
		return zero, false
	}
	e := value.(*entry[V]) //nolint:forcetypeassert // only entry values are stored
	now := c.clock.Now()
	if !now.Before(e.expiresAt()) {
		c.entries.Delete(key)
		return zero, false
	}
	e.lastAccess.Store(now.UnixNano())
	return e.value, true
}

func (c *Cache[V]) snapshot() []persistedEntry {
	var records []persistedEntry
	now := c.clock.Now()
	c.entries.Range(func(key, value any) bool {
		e := value.(*entry[V]) //nolint:forcetypeassert
		if !now.Before(e.expiresAt()) {
			return true
		}
		record, err := newPersistedEntry(key.(string), e.value, e.createdAt, e.ttl)
		if err != nil {
			c.log.WithField("key", key).WithError(err).Warn("cache: cannot serialize entry, skipping")
			return true
		}
		records = append(records, record)
		return true
	})
	return records
}

func (c *Cache[V]) load() {
	records, err := c.persist.loadAll()
	if err != nil {
		c.log.WithField("path", c.persist.path).WithError(err).
			Warn("cache: cannot load persisted entries, starting empty")
		return
	}
	now := c.clock.Now()
	for _, record := range records {
		if !now.Before(record.CreatedAt.Add(record.TTL)) {
			continue
		}
		var value V
		if err := record.decode(&value); err != nil {
			c.log.WithField("key", record.Key).WithError(err).
				Warn("cache: cannot decode persisted entry, skipping")
			continue
		}
		e := &entry[V]{value: value, createdAt: record.CreatedAt, ttl: record.TTL}
		e.lastAccess.Store(now.UnixNano())
		c.entries.Store(record.Key, e)
	}
}

// flushLater schedules a best-effort write of the on-disk tier. Callers
// never block on persistence; at most one flush is in flight at a time.
// A mutation that lands while a flush is running marks the cache dirty,
// and the flusher goes around again, so every mutation reaches disk
// without waiting for the next one or for Close.
func (c *Cache[V]) flushLater() {
	if c.persist == nil {
		return
	}
	select {
	case <-c.closed:
		return
	default:
	}
	c.dirty.Store(true)
	if !c.flushing.CompareAndSwap(false, true) {
		return
	}
	go func() {
		for {
			c.dirty.Store(false)
			if err := c.persist.save(c.snapshot()); err != nil {
				c.log.WithField("path", c.persist.path).WithError(err).
					Warn("cache: cannot persist entries, continuing in-memory only")
			}
			c.flushing.Store(false)
			if !c.dirty.Load() || !c.flushing.CompareAndSwap(false, true) {
				return
			}
		}
	}()
}

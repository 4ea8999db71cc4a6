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

	"github.com/bufbuild/httpdispatch/cache"
	"github.com/sirupsen/logrus"
)

// DefaultCacheTTL is how long resolved addresses stay cached when no TTL
// is configured.
const DefaultCacheTTL = 2 * time.Minute

// CachedOption configures a cached resolver.
type CachedOption func(*cachedOptions)

type cachedOptions struct {
	ttl  time.Duration
	path string
	log  logrus.FieldLogger
}

// WithCacheTTL overrides the cache TTL. The default is DefaultCacheTTL.
func WithCacheTTL(ttl time.Duration) CachedOption {
	return func(opts *cachedOptions) {
		opts.ttl = ttl
	}
}

// WithCachePath persists resolved addresses to the given file so a fresh
// process starts warm. Omitting it keeps the cache in-memory only.
func WithCachePath(path string) CachedOption {
	return func(opts *cachedOptions) {
		opts.path = path
	}
}

// WithLogger sets the logger for degraded cache persistence.
func WithLogger(log logrus.FieldLogger) CachedOption {
	return func(opts *cachedOptions) {
		opts.log = log
	}
}

// Cached wraps a resolver with a TTL cache keyed by domain. Concurrent
// lookups for the same domain while the cache is cold issue a single
// upstream resolution; every waiter observes its outcome. The cache
// stores the inner resolver's canonical address order.
type Cached struct {
	inner Resolver
	cache *cache.Cache[[]netip.Addr]
}

// NewCached returns a cache-backed view of the given resolver.
func NewCached(inner Resolver, opts ...CachedOption) (*Cached, error) {
	o := cachedOptions{ttl: DefaultCacheTTL}
	for _, opt := range opts {
		opt(&o)
	}
	var cacheOpts []cache.Option
	if o.path != "" {
		cacheOpts = append(cacheOpts, cache.WithPath(o.path))
	}
	if o.log != nil {
		cacheOpts = append(cacheOpts, cache.WithLogger(o.log))
	}
	addrCache, err := cache.New[[]netip.Addr](o.ttl, cacheOpts...)
	if err != nil {
		return nil, err
	}
	return &Cached{inner: inner, cache: addrCache}, nil
}

// Resolve implements Resolver.
func (r *Cached) Resolve(ctx context.Context, domain string) ([]netip.Addr, error) {
	return r.cache.Get(ctx, domain, func(ctx context.Context) ([]netip.Addr, error) {
		return r.inner.Resolve(ctx, domain)
	})
}

// Invalidate drops the cached addresses for a domain, forcing the next
// resolution to go upstream.
func (r *Cached) Invalidate(domain string) {
	r.cache.Delete(domain)
}

// Close flushes the on-disk cache tier, if any.
func (r *Cached) Close() error {
	return r.cache.Close()
}

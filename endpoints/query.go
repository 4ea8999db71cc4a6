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

package endpoints

import (
	"context"
	"fmt"
	"time"

	"github.com/bufbuild/httpdispatch/cache"
	"github.com/sirupsen/logrus"
)

// defaultQueryTTL is how long a queried region list or domain list stays
// cached. Region topology changes rarely, so this is deliberately long.
const defaultQueryTTL = 24 * time.Hour

// QueryRegionsFunc asks the management service which regions serve the
// given credential and bucket. It is typically an HTTP call through the
// surrounding client's transport.
type QueryRegionsFunc func(ctx context.Context, credentialID, bucket string) ([]Region, error)

// QueryDomainsFunc asks the management service for the custom domains
// bound to the given bucket.
type QueryDomainsFunc func(ctx context.Context, credentialID, bucket string) ([]string, error)

// QueryerOption configures a Queryer or a bucket-domains provider.
type QueryerOption func(*queryerOptions)

type queryerOptions struct {
	ttl  time.Duration
	path string
	log  logrus.FieldLogger
}

// WithQueryTTL overrides how long query results stay cached. The default
// is 24 hours.
func WithQueryTTL(ttl time.Duration) QueryerOption {
	return func(opts *queryerOptions) {
		opts.ttl = ttl
	}
}

// WithCachePath persists query results to the given file, so a fresh
// process can skip the initial query. Omitting it keeps the cache
// in-memory only.
func WithCachePath(path string) QueryerOption {
	return func(opts *queryerOptions) {
		opts.path = path
	}
}

// WithQueryLogger sets the logger for degraded cache persistence.
func WithQueryLogger(log logrus.FieldLogger) QueryerOption {
	return func(opts *queryerOptions) {
		opts.log = log
	}
}

func (o *queryerOptions) cacheOptions() []cache.Option {
	var opts []cache.Option
	if o.path != "" {
		opts = append(opts, cache.WithPath(o.path))
	}
	if o.log != nil {
		opts = append(opts, cache.WithLogger(o.log))
	}
	return opts
}

// Queryer resolves (credential, bucket) pairs to region lists through a
// management-service query, caching results per pair. One queryer can
// serve many buckets; providers returned by For share its cache.
type Queryer struct {
	query QueryRegionsFunc
	cache *cache.Cache[[]Region]
}

// NewQueryer returns a queryer backed by the given query function.
func NewQueryer(query QueryRegionsFunc, opts ...QueryerOption) (*Queryer, error) {
	if query == nil {
		return nil, fmt.Errorf("endpoints: query function must not be nil")
	}
	o := queryerOptions{ttl: defaultQueryTTL}
	for _, opt := range opts {
		opt(&o)
	}
	regionCache, err := cache.New[[]Region](o.ttl, o.cacheOptions()...)
	if err != nil {
		return nil, err
	}
	return &Queryer{query: query, cache: regionCache}, nil
}

// For returns a regions provider bound to the given credential and bucket.
func (q *Queryer) For(credentialID, bucket string) RegionsProvider {
	return &queriedRegions{queryer: q, credentialID: credentialID, bucket: bucket}
}

// Close flushes the on-disk cache tier, if any.
func (q *Queryer) Close() error {
	return q.cache.Close()
}

type queriedRegions struct {
	queryer      *Queryer
	credentialID string
	bucket       string
}

func (p *queriedRegions) Regions(ctx context.Context) ([]Region, error) {
	key := queryCacheKey(p.credentialID, p.bucket)
	return p.queryer.cache.Get(ctx, key, func(ctx context.Context) ([]Region, error) {
		return p.queryer.query(ctx, p.credentialID, p.bucket)
	})
}

// NewBucketDomainsProvider returns an endpoints provider that serves the
// custom domains bound to a bucket, with the same caching discipline as
// the region queryer. Every domain becomes a preferred endpoint, in the
// order the query returned them.
func NewBucketDomainsProvider(
	query QueryDomainsFunc,
	credentialID, bucket string,
	opts ...QueryerOption,
) (EndpointsProvider, error) {
	if query == nil {
		return nil, fmt.Errorf("endpoints: query function must not be nil")
	}
	o := queryerOptions{ttl: defaultQueryTTL}
	for _, opt := range opts {
		opt(&o)
	}
	domainCache, err := cache.New[[]string](o.ttl, o.cacheOptions()...)
	if err != nil {
		return nil, err
	}
	return &bucketDomains{
		query:        query,
		cache:        domainCache,
		credentialID: credentialID,
		bucket:       bucket,
	}, nil
}

type bucketDomains struct {
	query        QueryDomainsFunc
	cache        *cache.Cache[[]string]
	credentialID string
	bucket       string
}

func (p *bucketDomains) Endpoints(ctx context.Context, _ ...Service) (Set, error) {
	key := queryCacheKey(p.credentialID, p.bucket)
	domains, err := p.cache.Get(ctx, key, func(ctx context.Context) ([]string, error) {
		return p.query(ctx, p.credentialID, p.bucket)
	})
	if err != nil {
		return Set{}, fmt.Errorf("endpoints: querying bucket domains: %w", err)
	}
	eps := make([]Endpoint, len(domains))
	for i, domain := range domains {
		eps[i] = FromDomain(domain)
	}
	return SetOf(eps...), nil
}

func queryCacheKey(credentialID, bucket string) string {
	return credentialID + ":" + bucket
}

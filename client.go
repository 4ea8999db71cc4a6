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
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/bufbuild/httpdispatch/backoff"
	"github.com/bufbuild/httpdispatch/chooser"
	"github.com/bufbuild/httpdispatch/endpoints"
	"github.com/bufbuild/httpdispatch/internal"
	"github.com/bufbuild/httpdispatch/resolver"
	"github.com/bufbuild/httpdispatch/retrier"
	"github.com/sirupsen/logrus"
)

//nolint:gochecknoglobals
var defaultDialer = &net.Dialer{
	Timeout:   30 * time.Second,
	KeepAlive: 30 * time.Second,
}

// Signer supplies per-request authorization headers. The dispatcher calls
// it once per attempt, after the request is fully formed.
type Signer interface {
	Sign(req *http.Request) error
}

// SignerFunc adapts a function to the Signer interface.
type SignerFunc func(req *http.Request) error

// Sign implements Signer.
func (f SignerFunc) Sign(req *http.Request) error {
	return f(req)
}

// ClientOption is an option used to customize the behavior of a Client.
type ClientOption interface {
	apply(*clientOptions)
}

// WithEndpoints configures where calls are dispatched. Every client needs
// an endpoints provider; NewClient fails without one.
func WithEndpoints(provider endpoints.EndpointsProvider) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.endpoints = provider
	})
}

// WithResolver overrides the resolver used for domain endpoints. If no
// WithResolver option is provided, the client builds the default chain: a
// shuffled view of a cache-backed, timeout-guarded DNS resolver.
func WithResolver(res resolver.Resolver) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.resolver = res
	})
}

// WithChooser overrides the address chooser. The default composition is
// never-empty-handed over shuffled over a subnet blacklist.
func WithChooser(ch chooser.Chooser) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.chooser = ch
	})
}

// WithRetrier overrides the retry policy. The default is an attempt-capped
// error-classifying retrier.
func WithRetrier(r retrier.RequestRetrier) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.retrier = r
	})
}

// WithBackoff overrides the delay policy between attempts. The default is
// jittered, clamped exponential backoff.
func WithBackoff(b backoff.Backoff) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.backoff = b
	})
}

// WithTransport overrides the HTTP transport that actually carries
// requests. The default is an [http.Transport] with HTTP/2 enabled, the
// default dialer, and a 10-second TLS handshake timeout.
func WithTransport(transport http.RoundTripper) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.transport = transport
	})
}

// WithScheme sets the URL scheme used for dispatched requests, "http" or
// "https". The default is "https".
func WithScheme(scheme string) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.scheme = scheme
	})
}

// WithSigner configures the credential signer applied to every attempt.
// Without one, requests are sent unsigned.
func WithSigner(signer Signer) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.signer = signer
	})
}

// WithLogger sets the logger for attempt traces and degraded persistence.
// If not set, the logrus standard logger is used.
func WithLogger(log logrus.FieldLogger) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.log = log
	})
}

// WithCacheDirectory persists the default resolver's cache under the
// given directory, so a fresh process starts with warm lookups. It has no
// effect when WithResolver supplies a custom resolver. Absence of this
// option keeps all caches in-memory only.
func WithCacheDirectory(dir string) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.cacheDir = dir
	})
}

// WithDialer configures the default transport to use the given function
// to establish network connections. It has no effect when WithTransport
// supplies a custom transport.
func WithDialer(dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.dialFunc = dialFunc
	})
}

// WithTLSConfig adds custom TLS configuration to the default transport.
// It has no effect when WithTransport supplies a custom transport.
func WithTLSConfig(config *tls.Config) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.tlsClientConfig = config
	})
}

type clientOptionFunc func(*clientOptions)

func (f clientOptionFunc) apply(opts *clientOptions) {
	f(opts)
}

type clientOptions struct {
	endpoints       endpoints.EndpointsProvider
	resolver        resolver.Resolver
	chooser         chooser.Chooser
	retrier         retrier.RequestRetrier
	backoff         backoff.Backoff
	transport       http.RoundTripper
	scheme          string
	signer          Signer
	log             logrus.FieldLogger
	cacheDir        string
	dialFunc        func(ctx context.Context, network, addr string) (net.Conn, error)
	tlsClientConfig *tls.Config
}

// Client dispatches logical service calls: it resolves which endpoints
// can serve a call, picks a healthy address, sends the request, and
// recovers from transient failures, so that callers only ever see a
// response or one terminal error.
//
// A client is immutable after construction and safe for concurrent use.
type Client struct {
	endpoints endpoints.EndpointsProvider
	resolver  resolver.Resolver
	chooser   chooser.Chooser
	retrier   retrier.RequestRetrier
	backoff   backoff.Backoff
	transport http.RoundTripper
	scheme    string
	signer    Signer
	log       logrus.FieldLogger
	clock     internal.Clock

	// ownedResolver is the cache-backed resolver the client built itself,
	// closed along with the client. Nil when the caller supplied one.
	ownedResolver *resolver.Cached
}

// NewClient returns a client that dispatches calls to the endpoints of
// the given provider. Invalid option combinations are reported here, not
// at call time.
func NewClient(options ...ClientOption) (*Client, error) {
	var opts clientOptions
	for _, opt := range options {
		opt.apply(&opts)
	}
	if opts.endpoints == nil {
		return nil, errors.New("httpdispatch: an endpoints provider is required (use WithEndpoints)")
	}
	if opts.scheme == "" {
		opts.scheme = "https"
	}
	if opts.scheme != "http" && opts.scheme != "https" {
		return nil, errors.New("httpdispatch: scheme must be http or https")
	}
	if opts.log == nil {
		opts.log = logrus.StandardLogger()
	}

	client := &Client{
		endpoints: opts.endpoints,
		transport: opts.transport,
		scheme:    opts.scheme,
		signer:    opts.signer,
		log:       opts.log,
		clock:     internal.NewRealClock(),
	}
	if client.transport == nil {
		client.transport = newDefaultTransport(&opts)
	}

	var err error
	client.resolver = opts.resolver
	if client.resolver == nil {
		client.resolver, client.ownedResolver, err = newDefaultResolver(&opts)
		if err != nil {
			return nil, err
		}
	}
	client.chooser = opts.chooser
	if client.chooser == nil {
		client.chooser, err = newDefaultChooser(&opts)
		if err != nil {
			return nil, err
		}
	}
	client.retrier = opts.retrier
	if client.retrier == nil {
		client.retrier, err = retrier.NewLimited(retrier.NewErrorClassifying(), retrier.DefaultMaxAttempts)
		if err != nil {
			return nil, err
		}
	}
	client.backoff = opts.backoff
	if client.backoff == nil {
		client.backoff, err = newDefaultBackoff()
		if err != nil {
			return nil, err
		}
	}
	return client, nil
}

// Close releases resources the client owns: the default resolver's cache
// (flushing its on-disk tier) and the default transport's idle
// connections. Resolvers, choosers, and transports supplied by the caller
// are the caller's to close.
func (c *Client) Close() error {
	var err error
	if c.ownedResolver != nil {
		err = c.ownedResolver.Close()
	}
	if transport, ok := c.transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	return err
}

func newDefaultResolver(opts *clientOptions) (resolver.Resolver, *resolver.Cached, error) {
	base := resolver.NewTimeout(resolver.NewDNS(nil, "ip"), resolver.DefaultTimeout)
	cachedOpts := []resolver.CachedOption{resolver.WithLogger(opts.log)}
	if opts.cacheDir != "" {
		cachedOpts = append(cachedOpts, resolver.WithCachePath(filepath.Join(opts.cacheDir, "resolver.cache")))
	}
	cached, err := resolver.NewCached(base, cachedOpts...)
	if err != nil {
		return nil, nil, err
	}
	return resolver.NewShuffled(cached), cached, nil
}

func newDefaultChooser(opts *clientOptions) (chooser.Chooser, error) {
	subnet, err := chooser.NewSubnetBlacklist(chooser.WithLogger(opts.log))
	if err != nil {
		return nil, err
	}
	return chooser.NewNeverEmptyHanded(chooser.NewShuffled(subnet))
}

func newDefaultBackoff() (backoff.Backoff, error) {
	exponential, err := backoff.NewExponential(backoff.DefaultBase, 2)
	if err != nil {
		return nil, err
	}
	limited, err := backoff.NewLimited(exponential, backoff.DefaultBase, 30*time.Second)
	if err != nil {
		return nil, err
	}
	return backoff.NewRandomized(limited, backoff.DefaultMinFraction, backoff.DefaultMaxFraction)
}

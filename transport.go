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
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

type pinnedAddrKey struct{}

// withPinnedAddr marks the context so that the default transports dial the
// given IP address instead of resolving the request's host. The request URL
// keeps the logical host name, so TLS verification and the Host header are
// unaffected.
func withPinnedAddr(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, pinnedAddrKey{}, ip)
}

// pinningDialFunc redirects dials to the address pinned in the context, if
// any, keeping the port the transport asked for.
func pinningDialFunc(
	dial func(ctx context.Context, network, addr string) (net.Conn, error),
) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if ip, ok := ctx.Value(pinnedAddrKey{}).(string); ok {
			if _, port, err := net.SplitHostPort(addr); err == nil {
				addr = net.JoinHostPort(ip, port)
			}
		}
		return dial(ctx, network, addr)
	}
}

// newDefaultTransport builds the transport used when the caller does not
// supply one: a standard HTTP/1.1 + HTTP/2 transport with sane timeouts.
func newDefaultTransport(opts *clientOptions) *http.Transport {
	dialFunc := opts.dialFunc
	if dialFunc == nil {
		dialFunc = defaultDialer.DialContext
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           pinningDialFunc(dialFunc),
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		TLSClientConfig:       opts.tlsClientConfig,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// NewH2CTransport returns a transport that speaks HTTP/2 over clear text,
// for plaintext backends that support it. Pass it to WithTransport,
// together with WithScheme("http").
func NewH2CTransport() http.RoundTripper {
	return &http2.Transport{
		AllowHTTP: true,
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			return pinningDialFunc(defaultDialer.DialContext)(ctx, network, addr)
		},
	}
}

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
	"fmt"
	"net"
	"net/netip"
)

// Resolver resolves a domain name into the addresses that can serve it,
// most preferred first. Implementations must be safe for concurrent use.
type Resolver interface {
	Resolve(ctx context.Context, domain string) ([]netip.Addr, error)
}

// ErrTimeout is wrapped into the resolution error when a timeout decorator
// gives up waiting for the inner resolver.
var ErrTimeout = errors.New("resolution timed out")

// Error is a resolution failure for one domain. Retry policies recognize
// it to distinguish DNS trouble from connectivity or server trouble.
type Error struct {
	Domain string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("resolver: resolving %q: %v", e.Domain, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewDNS returns a resolver backed by the given net.Resolver. The network
// must be one of "ip", "ip4" or "ip6", restricting the address families
// resolved. A nil resolver uses net.DefaultResolver.
func NewDNS(resolver *net.Resolver, network string) Resolver {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &dnsResolver{resolver: resolver, network: network}
}

type dnsResolver struct {
	resolver *net.Resolver
	network  string
}

func (r *dnsResolver) Resolve(ctx context.Context, domain string) ([]netip.Addr, error) {
	addrs, err := r.resolver.LookupNetIP(ctx, r.network, domain)
	if err != nil {
		return nil, &Error{Domain: domain, Err: err}
	}
	result := make([]netip.Addr, len(addrs))
	for i, addr := range addrs {
		result[i] = addr.Unmap()
	}
	return result, nil
}

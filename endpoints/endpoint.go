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
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
)

// Endpoint is one network location for a service: either a domain name or
// an IP address, optionally with a port. It is an immutable value type.
// Endpoints compare equal exactly when their host and port contents are
// equal, so they can be used directly as map keys.
//
// The zero value is not a valid endpoint.
type Endpoint struct {
	domain string
	ip     netip.Addr
	port   uint16
}

// FromDomain returns an endpoint for the given domain name, with no
// explicit port.
func FromDomain(domain string) Endpoint {
	return Endpoint{domain: domain}
}

// FromIP returns an endpoint for the given IP address, with no explicit
// port.
func FromIP(ip netip.Addr) Endpoint {
	return Endpoint{ip: ip.Unmap()}
}

// Parse parses an endpoint from its string form: a bare domain name or IP
// address, or a "host:port" pair. IPv6 addresses with ports must use the
// usual bracketed form.
func Parse(s string) (Endpoint, error) {
	if s == "" {
		return Endpoint{}, fmt.Errorf("endpoints: empty endpoint")
	}
	if ip, err := netip.ParseAddr(s); err == nil {
		return FromIP(ip), nil
	}
	if host, portStr, err := net.SplitHostPort(s); err == nil {
		if host == "" {
			return Endpoint{}, fmt.Errorf("endpoints: missing host in %q", s)
		}
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return Endpoint{}, fmt.Errorf("endpoints: invalid port in %q: %w", s, err)
		}
		if ip, err := netip.ParseAddr(host); err == nil {
			return FromIP(ip).WithPort(uint16(port)), nil
		}
		return FromDomain(host).WithPort(uint16(port)), nil
	}
	if strings.Contains(s, ":") {
		// Not an IPv6 address and not host:port; no valid host contains
		// a colon.
		return Endpoint{}, fmt.Errorf("endpoints: invalid endpoint %q", s)
	}
	return FromDomain(s), nil
}

// WithPort returns a copy of the endpoint with the given explicit port.
func (e Endpoint) WithPort(port uint16) Endpoint {
	e.port = port
	return e
}

// IsValid reports whether the endpoint names a host at all.
func (e Endpoint) IsValid() bool {
	return e.domain != "" || e.ip.IsValid()
}

// IsDomain reports whether the endpoint is a domain name, as opposed to an
// IP address.
func (e Endpoint) IsDomain() bool {
	return e.domain != ""
}

// Domain returns the domain name, or the empty string for IP endpoints.
func (e Endpoint) Domain() string {
	return e.domain
}

// IP returns the IP address, or an invalid address for domain endpoints.
func (e Endpoint) IP() netip.Addr {
	return e.ip
}

// Port returns the explicit port, or zero if none was configured.
func (e Endpoint) Port() uint16 {
	return e.port
}

// Host returns the domain name or the textual IP address, without a port.
func (e Endpoint) Host() string {
	if e.domain != "" {
		return e.domain
	}
	return e.ip.String()
}

// HostPort returns the "host:port" form of the endpoint, substituting
// defaultPort when the endpoint has no explicit port.
func (e Endpoint) HostPort(defaultPort uint16) string {
	port := e.port
	if port == 0 {
		port = defaultPort
	}
	return net.JoinHostPort(e.Host(), strconv.Itoa(int(port)))
}

// String returns the textual form of the endpoint, which Parse accepts.
func (e Endpoint) String() string {
	if e.port == 0 {
		return e.Host()
	}
	return net.JoinHostPort(e.Host(), strconv.Itoa(int(e.port)))
}

// MarshalText implements [encoding.TextMarshaler] so that endpoints can be
// stored in the persisted cache tier.
func (e Endpoint) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (e *Endpoint) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

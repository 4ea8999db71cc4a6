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

package chooser

import (
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/bufbuild/httpdispatch/internal"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultCooldown is how long a failed address (or its subnet) stays
	// excluded from selection.
	DefaultCooldown = 30 * time.Second
	// DefaultShrinkInterval is how often expired blacklist entries are
	// swept out of the map.
	DefaultShrinkInterval = 2 * time.Minute
	// DefaultIPv4PrefixLen is the subnet size blacklisted per failed IPv4
	// address by the subnet chooser.
	DefaultIPv4PrefixLen = 24
	// DefaultIPv6PrefixLen is the subnet size blacklisted per failed IPv6
	// address by the subnet chooser.
	DefaultIPv6PrefixLen = 64
)

// BlacklistOption configures a blacklisting chooser.
type BlacklistOption func(*blacklistOptions)

type blacklistOptions struct {
	cooldown       time.Duration
	shrinkInterval time.Duration
	v4PrefixLen    int
	v6PrefixLen    int
	log            logrus.FieldLogger
}

// WithCooldown overrides how long failed addresses stay excluded.
func WithCooldown(cooldown time.Duration) BlacklistOption {
	return func(opts *blacklistOptions) {
		opts.cooldown = cooldown
	}
}

// WithShrinkInterval overrides how often expired entries are swept.
func WithShrinkInterval(interval time.Duration) BlacklistOption {
	return func(opts *blacklistOptions) {
		opts.shrinkInterval = interval
	}
}

// WithPrefixLengths overrides the IPv4 and IPv6 subnet sizes used by the
// subnet blacklist chooser.
func WithPrefixLengths(ipv4, ipv6 int) BlacklistOption {
	return func(opts *blacklistOptions) {
		opts.v4PrefixLen = ipv4
		opts.v6PrefixLen = ipv6
	}
}

// WithLogger sets the logger used for blacklist activity traces.
func WithLogger(log logrus.FieldLogger) BlacklistOption {
	return func(opts *blacklistOptions) {
		opts.log = log
	}
}

// NewIPBlacklist returns a chooser that excludes exact addresses reported
// as failed, for the configured cool-down. Successful feedback for an
// address lifts its exclusion immediately; otherwise exclusions lapse on
// their own once the cool-down passes.
func NewIPBlacklist(opts ...BlacklistOption) (Chooser, error) {
	o, err := applyBlacklistOptions(opts)
	if err != nil {
		return nil, err
	}
	return newBlacklistChooser(o, func(addr netip.Addr) netip.Prefix {
		return netip.PrefixFrom(addr, addr.BitLen())
	}), nil
}

// NewSubnetBlacklist returns a chooser like NewIPBlacklist, except that a
// failed address excludes its whole containing subnet: one bad address
// poisons siblings that likely share the same faulty network path.
func NewSubnetBlacklist(opts ...BlacklistOption) (Chooser, error) {
	o, err := applyBlacklistOptions(opts)
	if err != nil {
		return nil, err
	}
	return newBlacklistChooser(o, func(addr netip.Addr) netip.Prefix {
		bits := o.v4PrefixLen
		if addr.Is6() {
			bits = o.v6PrefixLen
		}
		prefix, err := addr.Prefix(bits)
		if err != nil {
			// Unreachable given construction-time validation.
			return netip.PrefixFrom(addr, addr.BitLen())
		}
		return prefix
	}), nil
}

func applyBlacklistOptions(opts []BlacklistOption) (*blacklistOptions, error) {
	o := &blacklistOptions{
		cooldown:       DefaultCooldown,
		shrinkInterval: DefaultShrinkInterval,
		v4PrefixLen:    DefaultIPv4PrefixLen,
		v6PrefixLen:    DefaultIPv6PrefixLen,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.cooldown <= 0 {
		return nil, fmt.Errorf("chooser: cooldown must be positive, got %v", o.cooldown)
	}
	if o.shrinkInterval <= 0 {
		return nil, fmt.Errorf("chooser: shrink interval must be positive, got %v", o.shrinkInterval)
	}
	if o.v4PrefixLen < 1 || o.v4PrefixLen > 32 {
		return nil, fmt.Errorf("chooser: IPv4 prefix length must be in [1,32], got %d", o.v4PrefixLen)
	}
	if o.v6PrefixLen < 1 || o.v6PrefixLen > 128 {
		return nil, fmt.Errorf("chooser: IPv6 prefix length must be in [1,128], got %d", o.v6PrefixLen)
	}
	if o.log == nil {
		o.log = logrus.StandardLogger()
	}
	return o, nil
}

// blacklistKey scopes an exclusion to the domain the address was resolved
// from, so a path that fails for one service host does not penalize the
// same address serving another.
type blacklistKey struct {
	domain string
	prefix netip.Prefix
}

type blacklistChooser struct {
	cooldown       time.Duration
	shrinkInterval time.Duration
	prefixFor      func(netip.Addr) netip.Prefix
	clock          internal.Clock
	log            logrus.FieldLogger

	entries sync.Map // blacklistKey -> time.Time (expiry)

	mu         sync.Mutex
	lastShrink time.Time
	shrinking  bool
}

func newBlacklistChooser(o *blacklistOptions, prefixFor func(netip.Addr) netip.Prefix) *blacklistChooser {
	clock := internal.NewRealClock()
	return &blacklistChooser{
		cooldown:       o.cooldown,
		shrinkInterval: o.shrinkInterval,
		prefixFor:      prefixFor,
		clock:          clock,
		log:            o.log,
		lastShrink:     clock.Now(),
	}
}

func (c *blacklistChooser) Choose(addrs []netip.Addr, domain string) []netip.Addr {
	now := c.clock.Now()
	chosen := make([]netip.Addr, 0, len(addrs))
	for _, addr := range addrs {
		key := blacklistKey{domain: domain, prefix: c.prefixFor(addr)}
		if expiry, ok := c.entries.Load(key); ok {
			if now.Before(expiry.(time.Time)) {
				continue
			}
			// Lapsed on its own, no cleanup was needed to re-admit it.
			c.entries.Delete(key)
		}
		chosen = append(chosen, addr)
	}
	c.maybeShrink(now)
	return chosen
}

func (c *blacklistChooser) Feedback(fb Feedback) {
	if fb.Success {
		for _, addr := range fb.Addrs {
			c.entries.Delete(blacklistKey{domain: fb.Domain, prefix: c.prefixFor(addr)})
		}
		return
	}
	expiry := c.clock.Now().Add(c.cooldown)
	for _, addr := range fb.Addrs {
		key := blacklistKey{domain: fb.Domain, prefix: c.prefixFor(addr)}
		c.entries.Store(key, expiry)
		c.log.WithFields(logrus.Fields{
			"prefix": key.prefix.String(),
			"domain": fb.Domain,
			"until":  expiry,
		}).Debug("chooser: blacklisted addresses after failure")
	}
}

// maybeShrink sweeps expired entries at most once per shrink interval, in
// the background, so the map does not grow without bound under churn.
func (c *blacklistChooser) maybeShrink(now time.Time) {
	c.mu.Lock()
	if c.shrinking || now.Sub(c.lastShrink) < c.shrinkInterval {
		c.mu.Unlock()
		return
	}
	c.shrinking = true
	c.lastShrink = now
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			c.shrinking = false
			c.mu.Unlock()
		}()
		c.entries.Range(func(key, expiry any) bool {
			if !now.Before(expiry.(time.Time)) {
				c.entries.Delete(key)
			}
			return true
		})
	}()
}

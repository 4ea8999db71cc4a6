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
	"slices"
)

// NewChained returns a resolver that tries each of the given resolvers in
// order and returns the first successful result. If every resolver fails,
// the returned error aggregates every inner failure.
func NewChained(resolvers ...Resolver) Resolver {
	return chainedResolver(slices.Clone(resolvers))
}

type chainedResolver []Resolver

func (r chainedResolver) Resolve(ctx context.Context, domain string) ([]netip.Addr, error) {
	errs := make([]error, 0, len(r))
	for _, inner := range r {
		addrs, err := inner.Resolve(ctx, domain)
		if err == nil {
			return addrs, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return nil, &Error{Domain: domain, Err: errors.New("no resolvers configured")}
	}
	return nil, &Error{Domain: domain, Err: errors.Join(errs...)}
}

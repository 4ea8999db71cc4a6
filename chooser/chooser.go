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
	"net/netip"
	"slices"
)

// Feedback reports the outcome of attempting the given addresses, so a
// chooser can adjust future selections. Domain is the name the addresses
// were resolved from, or empty when the caller reached them directly.
type Feedback struct {
	Addrs   []netip.Addr
	Domain  string
	Success bool
}

// Chooser filters and orders candidate addresses before each attempt, and
// learns from attempt outcomes. Choose returns a subset of the candidates;
// Feedback is best-effort and must never block the caller on persistence.
// Implementations must be safe for concurrent use.
type Chooser interface {
	Choose(addrs []netip.Addr, domain string) []netip.Addr
	Feedback(fb Feedback)
}

// Direct returns a chooser that selects every candidate unfiltered and
// ignores feedback.
func Direct() Chooser {
	return directChooser{}
}

type directChooser struct{}

func (directChooser) Choose(addrs []netip.Addr, _ string) []netip.Addr {
	return slices.Clone(addrs)
}

func (directChooser) Feedback(Feedback) {}

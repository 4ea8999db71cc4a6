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
	"encoding/json"
	"slices"
)

// Set holds the endpoints for one service: an ordered preferred list and
// an ordered alternative list. Preferred endpoints are tried exhaustively
// before any alternative endpoint is considered. Within each list, earlier
// entries are more preferred, though callers may permute a list they
// obtained from a set (the set itself is never mutated).
type Set struct {
	preferred   []Endpoint
	alternative []Endpoint
}

// NewSet returns a set with the given preferred and alternative endpoints.
// Both slices are copied.
func NewSet(preferred, alternative []Endpoint) Set {
	return Set{
		preferred:   slices.Clone(preferred),
		alternative: slices.Clone(alternative),
	}
}

// SetOf returns a set whose preferred list is the given endpoints, with no
// alternatives.
func SetOf(eps ...Endpoint) Set {
	return Set{preferred: slices.Clone(eps)}
}

// Preferred returns a copy of the preferred endpoint list.
func (s Set) Preferred() []Endpoint {
	return slices.Clone(s.preferred)
}

// Alternative returns a copy of the alternative endpoint list.
func (s Set) Alternative() []Endpoint {
	return slices.Clone(s.alternative)
}

// All returns every endpoint in try order: the preferred list followed by
// the alternative list.
func (s Set) All() []Endpoint {
	all := make([]Endpoint, 0, len(s.preferred)+len(s.alternative))
	all = append(all, s.preferred...)
	return append(all, s.alternative...)
}

// IsEmpty reports whether the set contains no endpoints.
func (s Set) IsEmpty() bool {
	return len(s.preferred) == 0 && len(s.alternative) == 0
}

// Len returns the total number of endpoints in the set.
func (s Set) Len() int {
	return len(s.preferred) + len(s.alternative)
}

// Merge concatenates sets, preserving the preferred/alternative split and
// the relative order of endpoints: a preferred endpoint in any input stays
// preferred in the output and is never reordered after an alternative one.
func Merge(sets ...Set) Set {
	var merged Set
	for _, s := range sets {
		merged.preferred = append(merged.preferred, s.preferred...)
		merged.alternative = append(merged.alternative, s.alternative...)
	}
	return merged
}

type setJSON struct {
	Preferred   []Endpoint `json:"preferred,omitempty"`
	Alternative []Endpoint `json:"alternative,omitempty"`
}

// MarshalJSON implements [json.Marshaler] for the persisted cache tier.
func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(setJSON{Preferred: s.preferred, Alternative: s.alternative})
}

// UnmarshalJSON implements [json.Unmarshaler].
func (s *Set) UnmarshalJSON(data []byte) error {
	var raw setJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.preferred = raw.Preferred
	s.alternative = raw.Alternative
	return nil
}

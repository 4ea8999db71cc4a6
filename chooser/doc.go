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

// Package chooser selects which resolved addresses to attempt, informed
// by the outcomes of earlier attempts. Blacklisting choosers exclude
// addresses (NewIPBlacklist) or whole subnets (NewSubnetBlacklist) for a
// cool-down after failures; NewShuffled spreads load; NewNeverEmptyHanded
// guarantees forward progress when everything is excluded. The usual
// composition is NeverEmptyHanded over Shuffled over SubnetBlacklist.
package chooser

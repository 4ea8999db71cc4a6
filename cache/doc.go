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

// Package cache provides the TTL cache substrate shared by the cached
// resolver and the region/endpoints providers: a concurrent in-memory
// tier with single-flight fetch coalescing, and an optional on-disk tier
// shared safely between processes via advisory file locking.
//
// Caches are explicitly constructed and owned by the component that uses
// them; there are no process-wide singletons. Multiple independently
// configured clients in one process therefore never share cache state
// unless they are handed the same cache.
package cache

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

// Package resolver turns domain names into server addresses. The base
// implementation delegates to net.Resolver; decorators add a resolution
// deadline (NewTimeout), ordered fallback across several resolvers
// (NewChained), random result ordering (NewShuffled), and a single-flight
// TTL cache (NewCached). Decorators implement the same Resolver interface
// as what they wrap, so a chain is assembled once at configuration time.
package resolver

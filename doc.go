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

// Package httpdispatch provides a resilient HTTP request dispatcher for
// services that expose multiple interchangeable endpoints, such as
// multi-region object storage. It layers name resolution, address
// selection, retry classification, and backoff on top of a standard
// net/http transport.
//
// A Client is configured with an endpoints.EndpointsProvider that maps the
// services a request names to an ordered endpoint set. Dispatching a
// Request walks that set: each endpoint is resolved to IP addresses, the
// addresses are filtered and ordered by a chooser.Chooser, and every
// failed attempt is classified by a retrier.RequestRetrier into a
// decision: retry the same address, move to a sibling address, move to
// the next endpoint, throttle, or stop. Between attempts the client
// waits according to a backoff.Backoff policy.
//
// The zero-configuration defaults give a production-shaped stack: a
// caching, shuffling DNS resolver with a bounded lookup timeout; a
// subnet-granular blacklist that sidelines addresses after failures and
// reinstates them on success or after a cooldown; an error-classifying
// retrier with a bounded attempt budget; and exponential backoff with
// randomized jitter. Every piece can be replaced through a ClientOption.
//
// All failures of a dispatch surface as a single *DispatchError that
// records every attempt, so callers handle one error type regardless of
// where in the stack the request died.
package httpdispatch

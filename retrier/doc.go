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

// Package retrier decides what to do about a failed attempt: give up,
// repeat against the same address, move to a sibling address or the next
// endpoint, or back off at the server's request. The error-classifying
// retrier distinguishes DNS, connection-level, and server-reported
// failures; NewLimited bounds the total attempt budget of a call. The
// usual composition is Limited over ErrorClassifying.
package retrier

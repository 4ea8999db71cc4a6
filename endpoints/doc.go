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

// Package endpoints models where a storage service can be reached: single
// network locations (Endpoint), ordered preferred/alternative lists of
// them (Set), and named per-service groupings (Region). It also provides
// the providers that turn a logical target into a concrete endpoint set,
// either from static configuration or by querying the management service
// with results cached per (credential, bucket) pair.
package endpoints

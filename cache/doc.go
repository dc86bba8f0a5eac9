// Copyright 2020-2025 Buf Technologies, Inc.
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

// Package cache remembers macro expansions across calls and across process
// restarts.
//
// Expansions are keyed by [Mix]: a hash of the definition body, the call
// body, and for env!, the environment. Since a key determines its
// expansion, entries never go stale and are never updated in place.
//
// Three stores are provided: [ShardStore], a directory of append-only
// binary files; [SQLiteStore]; and [MemoryStore].
package cache

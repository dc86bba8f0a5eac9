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

package incremental

// Query is a memoizable unit of work.
//
// Types which implement Query can be executed by an [Executor], which
// caches the result of a query under its key until the key is evicted.
type Query[T any] interface {
	// Returns a unique key for this query. Some conventional examples:
	//
	//	file:///absolute/path.rs
	//
	//	crate://project/crate
	//
	// The executor does not interpret these keys, and only uses them for
	// memoization.
	Key() string

	// Executes this query. This function will only be called if the result
	// of this query is not already in the [Executor]'s cache.
	//
	// A returned error is memoized like a value is, except for a
	// cancellation of the task's context, which is not.
	Execute(*Task) (T, error)
}

// Result is the result of executing a query on an [Executor], either via
// [Run] or [Resolve].
type Result[T any] struct {
	Value T
	// The error returned by the query, if any.
	Fatal error
}

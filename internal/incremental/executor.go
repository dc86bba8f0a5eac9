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

import (
	"context"
	"errors"
	"runtime"
	"slices"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Executor is a caching executor for incremental queries.
//
// The executor owns its own pool of execution slots, separate from anything
// else in the process: a query waiting on its dependencies gives its slot
// back, so a bounded pool never starves itself.
//
// See [New], [Run], and [Executor.Evict].
type Executor struct {
	dirty sync.RWMutex
	tasks sync.Map // [string, *task]

	sema *semaphore.Weighted
}

// ExecutorOption is an option for [New].
type ExecutorOption func(*Executor)

// WithParallelism sets the maximum number of queries that execute at once.
//
// Setting parallelism to zero or negative will default to GOMAXPROCS.
func WithParallelism(n int64) ExecutorOption {
	return func(e *Executor) {
		if n <= 0 {
			n = int64(runtime.GOMAXPROCS(0))
		}
		e.sema = semaphore.NewWeighted(n)
	}
}

// New constructs a new executor.
func New(opts ...ExecutorOption) *Executor {
	e := new(Executor)
	WithParallelism(0)(e)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Keys returns a snapshot of the keys of the queries that have completed
// and are memoized in an Executor.
//
// The returned slice is sorted.
func (e *Executor) Keys() (keys []string) {
	e.tasks.Range(func(key, t any) bool {
		r := t.(*task).current() //nolint:errcheck // All values in this map are tasks.
		if r != nil && closed(r.done) {
			keys = append(keys, key.(string)) //nolint:errcheck
		}
		return true
	})
	slices.Sort(keys)
	return keys
}

// Run executes a set of queries on this executor in parallel.
//
// This function only returns an error if ctx is cancelled during execution,
// in which case it returns the cause for cancellation, or if a query
// panicked, in which case it returns the [*PanicError] alongside the
// results.
//
// Errors returned by each query are contained within the returned results.
func Run[T any](ctx context.Context, e *Executor, queries ...Query[T]) ([]Result[T], error) {
	e.dirty.RLock()
	defer e.dirty.RUnlock()

	root := &Task{ctx: ctx, exec: e}
	results, err := Resolve(root, queries...)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		var panicked *PanicError
		if errors.As(r.Fatal, &panicked) {
			return results, panicked
		}
	}
	return results, nil
}

// Evict marks the queries with the given keys as stale, requiring those
// queries, and every query that depended on them, to be recomputed. Keys
// that are not cached are ignored.
//
// This function waits for calls to [Run] in progress to finish (note that
// calls to [Run] themselves can be run in parallel).
func (e *Executor) Evict(keys ...string) {
	e.dirty.Lock()
	defer e.dirty.Unlock()

	var queue []*task
	for _, key := range keys {
		if t, ok := e.tasks.LoadAndDelete(key); ok {
			queue = append(queue, t.(*task)) //nolint:errcheck
		}
	}

	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		next.mu.Lock()
		for down := range next.downstream {
			if e.tasks.CompareAndDelete(down.key, down) {
				queue = append(queue, down)
			}
		}
		next.mu.Unlock()
	}
}

// getTask returns (and creates if necessary) the task for the given key.
func (e *Executor) getTask(key string) *task {
	// Avoid allocating a new task object in the common case.
	if t, ok := e.tasks.Load(key); ok {
		return t.(*task) //nolint:errcheck
	}

	t, _ := e.tasks.LoadOrStore(key, &task{key: key})
	return t.(*task) //nolint:errcheck
}

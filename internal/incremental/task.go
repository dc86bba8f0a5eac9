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
	"fmt"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
)

// Task represents a query that is currently being executed.
//
// Values of type Task are passed to [Query]. The main use of a Task is to
// be passed to [Resolve] to resolve dependencies.
type Task struct {
	// Every query run on behalf of one call to [Run] shares that call's
	// context, so it is passed along with the task rather than by the query.
	ctx  context.Context //nolint:containedctx
	exec *Executor
	task *task

	// Keys of the queries that are waiting on this one, ending with this one.
	path []string
	// Whether this task holds a slot of the executor's semaphore.
	holding bool
}

// Context returns the context of the [Run] call this task is part of.
// Long-running queries should poll it.
func (t *Task) Context() context.Context {
	return t.ctx
}

// CycleError is returned as the result of a query that depends on itself.
type CycleError struct {
	Cycle []string
}

// Error implements [error].
func (e *CycleError) Error() string {
	return "cycle detected: " + strings.Join(e.Cycle, " -> ")
}

// PanicError is returned as the result of a query whose execution
// panicked.
type PanicError struct {
	Key   string
	Panic any
	Stack []byte
}

// Error implements [error].
func (e *PanicError) Error() string {
	return fmt.Sprintf("query %s panicked: %v", e.Key, e.Panic)
}

// Resolve executes a set of queries in parallel. Each query that is not
// memoized yet is run on its own goroutine.
//
// Returns an error only if the context of the [Run] call that spawned
// caller is cancelled; errors from the queries themselves are in the
// results.
func Resolve[T any](caller *Task, queries ...Query[T]) ([]Result[T], error) {
	results := make([]Result[T], len(queries))
	deps := make([]*task, len(queries))

	for i, q := range queries {
		key := q.Key()
		if slices.Contains(caller.path, key) {
			results[i].Fatal = &CycleError{Cycle: append(slices.Clone(caller.path), key)}
			continue
		}
		deps[i] = caller.exec.getTask(key)
		start(deps[i], caller, q)
	}

	// Give our slot back while we wait; the dependencies need it more.
	if caller.holding {
		caller.exec.sema.Release(1)
		caller.holding = false
		defer func() {
			if caller.exec.sema.Acquire(caller.ctx, 1) == nil {
				caller.holding = true
			}
		}()
	}

	for i, dep := range deps {
		if dep == nil {
			continue
		}
		r, err := await(dep, caller, queries[i])
		if err != nil {
			return nil, err
		}
		if v, ok := r.value.(T); ok {
			results[i].Value = v
		}
		results[i].Fatal = r.fatal
	}
	return results, nil
}

// task is book-keeping information for a memoized query in an Executor.
type task struct {
	key string

	mu sync.Mutex
	// If this task has not been started yet, this is nil. Otherwise, once it
	// is complete, result.done is closed.
	result *result
	// Tasks that depend on this one.
	downstream map[*task]struct{}
}

// result is the type-erased outcome of one execution of a query.
type result struct {
	done  chan struct{}
	value any
	fatal error
	// Whether execution stopped because the context was cancelled; such a
	// result is never memoized.
	cancelled bool
}

func (t *task) current() *result {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

// start records that caller depends on t, and begins executing t on a new
// goroutine if nobody has yet.
func start[T any](t *task, caller *Task, q Query[T]) *result {
	t.mu.Lock()
	if caller.task != nil {
		if t.downstream == nil {
			t.downstream = make(map[*task]struct{})
		}
		t.downstream[caller.task] = struct{}{}
	}
	r := t.result
	owner := r == nil
	if owner {
		r = &result{done: make(chan struct{})}
		t.result = r
	}
	t.mu.Unlock()

	if owner {
		go execute(t, r, caller, q)
	}
	return r
}

// await waits for t to complete. If the execution it waited on was
// cancelled while caller's own context is still live, the query is started
// again. Execution clears a cancelled result before completing, so the next
// iteration sees either nil or a newer attempt.
func await[T any](t *task, caller *Task, q Query[T]) (*result, error) {
	for {
		r := t.current()
		if r == nil {
			r = start(t, caller, q)
		}
		select {
		case <-r.done:
		case <-caller.ctx.Done():
			return nil, context.Cause(caller.ctx)
		}
		if !r.cancelled {
			return r, nil
		}
		if caller.ctx.Err() != nil {
			return nil, context.Cause(caller.ctx)
		}
	}
}

// execute runs q as the owner of t's result.
func execute[T any](t *task, r *result, caller *Task, q Query[T]) {
	callee := &Task{
		ctx:  caller.ctx,
		exec: caller.exec,
		task: t,
		path: append(slices.Clone(caller.path), t.key),
	}

	defer func() {
		if p := recover(); p != nil {
			r.fatal = &PanicError{Key: t.key, Panic: p, Stack: debug.Stack()}
		}
		if callee.holding {
			callee.exec.sema.Release(1)
		}
		if r.cancelled {
			// Forget this attempt so that the next caller starts over.
			t.mu.Lock()
			if t.result == r {
				t.result = nil
			}
			t.mu.Unlock()
		}
		close(r.done)
	}()

	if err := callee.exec.sema.Acquire(callee.ctx, 1); err != nil {
		r.fatal, r.cancelled = context.Cause(callee.ctx), true
		return
	}
	callee.holding = true

	r.value, r.fatal = q.Execute(callee)
	if r.fatal != nil && callee.ctx.Err() != nil &&
		(errors.Is(r.fatal, context.Canceled) || errors.Is(r.fatal, context.DeadlineExceeded) ||
			errors.Is(r.fatal, context.Cause(callee.ctx))) {
		r.cancelled = true
	}
}

// closed checks if ch is closed. This may return false negatives, in that it
// may return false for a channel which is closed immediately after this
// function returns.
func closed[T any](ch <-chan T) bool {
	select {
	case _, ok := <-ch:
		return !ok
	default:
		return false
	}
}

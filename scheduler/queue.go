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

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/bufbuild/macroexpand/workspace"
)

// ErrClosed is the outcome of tasks still queued when a [Queue] is closed.
var ErrClosed = errors.New("scheduler: queue closed")

// Queue runs the tasks of one project, one at a time, on a single worker
// goroutine.
//
// Submitting a task absorbs every queued task that it makes redundant: one
// of the same family whose scope it covers. If the running task is
// redundant in the same way, it is cancelled. Edits that arrive while a
// task runs are held back and applied before the next one starts.
type Queue struct {
	m      *Manager
	logger *zap.Logger

	ctx    context.Context //nolint:containedctx
	cancel context.CancelFunc

	mu      sync.Mutex
	pending []*item
	running *item
	changed []string
	ws      *workspace.Workspace
	closed  bool

	wake chan struct{}
	done chan struct{}
}

// item is a submitted task along with everyone waiting on it.
type item struct {
	task    Task
	ctx     context.Context //nolint:containedctx
	cancel  context.CancelFunc
	handles []*Handle
}

// Handle is a submitted task's outcome. A task that was absorbed or
// cancelled in favor of another has that task's outcome.
type Handle struct {
	done chan struct{}
	err  error
}

// Done returns a channel that is closed once the task's outcome is known.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the task's error, once [Handle.Done] is closed.
func (h *Handle) Err() error {
	return h.err
}

// Wait waits for the task to finish and returns its error.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// NewQueue starts a queue running tasks against m.
func NewQueue(m *Manager) *Queue {
	q := &Queue{
		m:      m,
		logger: m.logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	q.ctx, q.cancel = context.WithCancel(context.Background())
	go q.work()
	return q
}

// Submit queues a task.
func (q *Queue) Submit(task Task) *Handle {
	h := &Handle{done: make(chan struct{})}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		h.err = ErrClosed
		close(h.done)
		return h
	}

	next := &item{task: task, handles: []*Handle{h}}
	next.ctx, next.cancel = context.WithCancel(q.ctx)

	q.pending = slices.DeleteFunc(q.pending, func(old *item) bool {
		if !task.absorbs(old.task) {
			return false
		}
		q.logger.Debug("task absorbed", zap.Stringer("task", old.task), zap.Stringer("by", task))
		next.handles = append(next.handles, old.handles...)
		old.cancel()
		return true
	})
	if r := q.running; r != nil && task.absorbs(r.task) {
		q.logger.Debug("running task superseded", zap.Stringer("task", r.task), zap.Stringer("by", task))
		next.handles = append(next.handles, r.handles...)
		r.handles = nil
		r.cancel()
	}

	q.pending = append(q.pending, next)
	q.signal()
	return h
}

// Edited records edits to source files. They take effect before the next
// task starts, and a workspace-wide expansion is queued to pick them up.
func (q *Queue) Edited(paths ...string) *Handle {
	q.mu.Lock()
	q.changed = append(q.changed, paths...)
	q.mu.Unlock()
	return q.Submit(Task{Family: Expand, Scope: Workspace})
}

// SetWorkspace replaces the project's view of its source before the next
// task starts, and queues a full expansion to pick it up.
func (q *Queue) SetWorkspace(ws *workspace.Workspace) *Handle {
	q.mu.Lock()
	q.ws = ws
	q.mu.Unlock()
	return q.Submit(Task{Family: Expand, Scope: Full})
}

// Close cancels every task, waits for the worker to stop, and fails
// whatever was still queued with [ErrClosed].
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	pending := q.pending
	q.pending = nil
	q.mu.Unlock()

	q.cancel()
	q.signal()
	<-q.done

	for _, it := range pending {
		it.finish(ErrClosed)
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) work() {
	defer close(q.done)
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			<-q.wake
			continue
		}

		it := q.pending[0]
		q.pending = q.pending[1:]
		changed, ws := q.changed, q.ws
		q.changed, q.ws = nil, nil
		q.running = it
		q.mu.Unlock()

		if ws != nil {
			q.m.SetWorkspace(ws)
		}
		if len(changed) > 0 {
			q.m.MarkChanged(changed...)
		}
		err := q.run(it)

		q.mu.Lock()
		q.running = nil
		q.mu.Unlock()
		it.finish(err)
	}
}

// run runs one task. Failures, including panics and file system invariant
// violations, stop here: they are logged and reported to the task's
// handles, and the queue carries on.
func (q *Queue) run(it *item) (err error) {
	defer func() {
		if p := recover(); p != nil {
			q.logger.Error("task panicked",
				zap.Stringer("task", it.task),
				zap.Any("panic", p),
				zap.Stack("stack"),
			)
			err = fmt.Errorf("task %v panicked: %v", it.task, p)
		}
	}()

	switch it.task.Family {
	case Expand:
		var summary *Summary
		summary, err = q.m.Reconcile(it.ctx, it.task.Scope)
		if err == nil {
			for _, f := range summary.Failures {
				q.logger.Debug("macro call left unexpanded",
					zap.String("file", f.File),
					zap.String("macro", f.Call.Name),
					zap.Error(f.Err),
				)
			}
		}
	case Clear:
		err = q.m.Clear(it.ctx)
	default:
		err = fmt.Errorf("unknown task family %v", it.task.Family)
	}

	if err != nil && it.ctx.Err() == nil {
		q.logger.Error("task failed", zap.Stringer("task", it.task), zap.Error(err))
	}
	return err
}

// finish reports err to everyone waiting on it. it must no longer be
// reachable from the queue.
func (it *item) finish(err error) {
	it.cancel()
	for _, h := range it.handles {
		h.err = err
		close(h.done)
	}
	it.handles = nil
}

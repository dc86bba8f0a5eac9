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

package scheduler_test

import (
	"context"
	"io/fs"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/bufbuild/macroexpand/cache"
	"github.com/bufbuild/macroexpand/internal/incremental"
	"github.com/bufbuild/macroexpand/macro"
	"github.com/bufbuild/macroexpand/scheduler"
	"github.com/bufbuild/macroexpand/vfs"
	"github.com/bufbuild/macroexpand/workspace"
)

const coreLib = `macro_rules! square {
    ($x:expr) => { $x * $x };
}

fn f() {
    let a = square!(2);
    let b = square!(3);
    let c = square!(2);
    let d = square!();
    println!("{}", a);
}
`

const depLib = `macro_rules! id { ($t:tt) => { $t }; }
const X: u8 = id!(1);
`

func source() fstest.MapFS {
	return fstest.MapFS{
		"core/src/lib.rs":       {Data: []byte(coreLib)},
		"vendor/dep/src/lib.rs": {Data: []byte(depLib)},
	}
}

func newManager(t *testing.T, src fs.FS, opts ...scheduler.Option) (*scheduler.Manager, *vfs.FS) {
	t.Helper()
	tree := vfs.New("macros")
	c := cache.New(new(cache.MemoryStore), macro.NewExpander())
	m, err := scheduler.NewManager("p", tree, c, opts...)
	require.NoError(t, err)
	ws, err := workspace.Load(src, nil)
	require.NoError(t, err)
	m.SetWorkspace(ws)
	return m, tree
}

func TestReconcile(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	src := source()
	m, tree := newManager(t, src, scheduler.WithParallelism(2))

	summary, err := m.Reconcile(ctx, scheduler.Unprocessed)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Created)
	assert.Zero(t, summary.Deleted)
	assert.Equal(t, int64(1), m.ModificationCount())
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "square", summary.Failures[0].Call.Name)
	assert.Equal(t, "core/src/lib.rs", summary.Failures[0].File)
	var me *macro.MatchError
	assert.ErrorAs(t, summary.Failures[0].Err, &me)

	files, err := tree.Files("p")
	require.NoError(t, err)
	var texts []string
	for _, path := range files {
		assert.True(t, strings.HasPrefix(path, "/macros/p/core/") || strings.HasPrefix(path, "/macros/p/dep/"), path)
		assert.True(t, strings.HasSuffix(path, vfs.Ext), path)
		data, err := tree.ReadFile(path)
		require.NoError(t, err)
		texts = append(texts, string(data))

		// Content is produced for the first read only.
		_, err = tree.ReadFile(path)
		require.ErrorIs(t, err, vfs.ErrConsumed)
	}
	assert.ElementsMatch(t, []string{"2 * 2", "2 * 2", "3 * 3", "1"}, texts)

	// Nothing changed, so nothing happens, and the counter stays put.
	summary, err = m.Reconcile(ctx, scheduler.Full)
	require.NoError(t, err)
	assert.Zero(t, summary.Created)
	assert.Zero(t, summary.Deleted)
	assert.Equal(t, int64(1), m.ModificationCount())

	// An edit removes one call.
	src["core/src/lib.rs"] = &fstest.MapFile{Data: []byte(strings.Replace(coreLib, "let b = square!(3);", "", 1))}
	m.MarkChanged("core/src/lib.rs")
	summary, err = m.Reconcile(ctx, scheduler.Workspace)
	require.NoError(t, err)
	assert.Zero(t, summary.Created)
	assert.Equal(t, 1, summary.Deleted)
	assert.Equal(t, int64(2), m.ModificationCount())

	// A crate that goes away is only cleaned up by a full reconciliation.
	delete(src, "vendor/dep/src/lib.rs")
	ws, err := workspace.Load(src, nil)
	require.NoError(t, err)
	m.SetWorkspace(ws)
	summary, err = m.Reconcile(ctx, scheduler.Workspace)
	require.NoError(t, err)
	assert.Zero(t, summary.Deleted)
	summary, err = m.Reconcile(ctx, scheduler.Full)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Deleted)
	assert.Equal(t, int64(3), m.ModificationCount())

	require.NoError(t, m.Clear(ctx))
	assert.Equal(t, int64(4), m.ModificationCount())
	files, err = tree.Files("p")
	require.NoError(t, err)
	assert.Empty(t, files)

	// Clearing forgets what was processed.
	summary, err = m.Reconcile(ctx, scheduler.Unprocessed)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Created)
	assert.Equal(t, int64(5), m.ModificationCount())

	require.NoError(t, m.Close())
	assert.False(t, tree.IsOpen("p"))
}

func TestReconcileInclude(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	src := fstest.MapFS{
		"core/src/lib.rs":   {Data: []byte(`const S: &str = include!("data.txt");`)},
		"core/src/data.txt": {Data: []byte(`"hello"`)},
	}
	ws, err := workspace.Load(src, nil)
	require.NoError(t, err)
	tree := vfs.New("macros")
	c := cache.New(new(cache.MemoryStore), macro.NewExpander(macro.WithFileLoader(ws)))
	m, err := scheduler.NewManager("p", tree, c)
	require.NoError(t, err)
	m.SetWorkspace(ws)

	read := func() string {
		t.Helper()
		files, err := tree.Files("p")
		require.NoError(t, err)
		require.Len(t, files, 1)
		info, err := tree.Stat(files[0])
		require.NoError(t, err)
		data, err := tree.ReadFile(files[0])
		require.NoError(t, err)
		assert.Equal(t, info.Size, int64(len(data)))
		return string(data)
	}

	summary, err := m.Reconcile(ctx, scheduler.Workspace)
	require.NoError(t, err)
	require.Empty(t, summary.Failures)
	assert.Equal(t, 1, summary.Created)
	assert.Equal(t, `"hello"`, read())

	// Editing the included file replaces the expansion.
	src["core/src/data.txt"] = &fstest.MapFile{Data: []byte(`"goodbye"`)}
	m.MarkChanged("core/src/data.txt")
	summary, err = m.Reconcile(ctx, scheduler.Workspace)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Created)
	assert.Equal(t, 1, summary.Deleted)
	assert.Equal(t, `"goodbye"`, read())
}

func TestReconcileScopes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, tree := newManager(t, source())

	summary, err := m.Reconcile(ctx, scheduler.Workspace)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Created)

	summary, err = m.Reconcile(ctx, scheduler.Unprocessed)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Created)

	files, err := tree.Files("p")
	require.NoError(t, err)
	assert.Len(t, files, 4)
	assert.Equal(t, int64(2), m.ModificationCount())
}

func TestReconcileCancelled(t *testing.T) {
	t.Parallel()

	m, tree := newManager(t, source())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Reconcile(ctx, scheduler.Full)
	require.ErrorIs(t, err, context.Canceled)
	files, err := tree.Files("p")
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.Zero(t, m.ModificationCount())
}

func TestScope(t *testing.T) {
	t.Parallel()

	assert.True(t, scheduler.Full.Covers(scheduler.Workspace))
	assert.True(t, scheduler.Workspace.Covers(scheduler.Unprocessed))
	assert.True(t, scheduler.Workspace.Covers(scheduler.Workspace))
	assert.False(t, scheduler.Unprocessed.Covers(scheduler.Full))
	assert.Equal(t, "expand/full", scheduler.Task{Family: scheduler.Expand, Scope: scheduler.Full}.String())

	scope, err := scheduler.ParseScope("workspace")
	require.NoError(t, err)
	assert.Equal(t, scheduler.Workspace, scope)
	_, err = scheduler.ParseScope("everything")
	assert.Error(t, err)
}

// gatedFS blocks the first read of one source file until released.
type gatedFS struct {
	fs.FS
	path    string
	armed   atomic.Bool
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedFS) Open(name string) (fs.File, error) {
	if g.armed.Load() && name == g.path {
		g.once.Do(func() {
			close(g.entered)
			<-g.release
		})
	}
	return g.FS.Open(name)
}

func TestQueueAbsorbs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	src := &gatedFS{
		FS:      source(),
		path:    "core/src/lib.rs",
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	m, tree := newManager(t, src)
	q := scheduler.NewQueue(m)
	defer q.Close()

	src.armed.Store(true)
	a := q.Submit(scheduler.Task{Family: scheduler.Expand, Scope: scheduler.Unprocessed})
	<-src.entered

	b := q.Submit(scheduler.Task{Family: scheduler.Clear, Scope: scheduler.Full})
	c := q.Submit(scheduler.Task{Family: scheduler.Expand, Scope: scheduler.Workspace})
	d := q.Submit(scheduler.Task{Family: scheduler.Expand, Scope: scheduler.Full})
	close(src.release)

	for _, h := range []*scheduler.Handle{a, b, c, d} {
		require.NoError(t, h.Wait(ctx))
	}

	// Only the last expansion changed anything.
	assert.Equal(t, int64(1), m.ModificationCount())
	files, err := tree.Files("p")
	require.NoError(t, err)
	assert.Len(t, files, 4)
}

func TestQueueEdits(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	src := source()
	m, tree := newManager(t, src)
	q := scheduler.NewQueue(m)
	defer q.Close()

	require.NoError(t, q.Submit(scheduler.Task{Family: scheduler.Expand, Scope: scheduler.Full}).Wait(ctx))
	files, err := tree.Files("p")
	require.NoError(t, err)
	assert.Len(t, files, 4)

	src["core/src/lib.rs"] = &fstest.MapFile{Data: []byte("fn f() {}")}
	require.NoError(t, q.Edited("core/src/lib.rs").Wait(ctx))
	files, err = tree.Files("p")
	require.NoError(t, err)
	assert.Len(t, files, 1)
	assert.Equal(t, int64(2), m.ModificationCount())

	q.Close()
	assert.ErrorIs(t, q.Submit(scheduler.Task{Family: scheduler.Clear, Scope: scheduler.Full}).Err(), scheduler.ErrClosed)
}

func TestQueueContainsFailures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	core, logs := observer.New(zap.ErrorLevel)
	tree := vfs.New("macros")
	// No cache at all: expansion panics, and the queue must survive it.
	m, err := scheduler.NewManager("p", tree, nil, scheduler.WithLogger(zap.New(core)))
	require.NoError(t, err)
	ws, err := workspace.Load(source(), nil)
	require.NoError(t, err)
	m.SetWorkspace(ws)

	q := scheduler.NewQueue(m)
	defer q.Close()

	err = q.Submit(scheduler.Task{Family: scheduler.Expand, Scope: scheduler.Full}).Wait(ctx)
	var panicked *incremental.PanicError
	require.ErrorAs(t, err, &panicked)
	assert.GreaterOrEqual(t, logs.FilterMessage("task failed").Len(), 1)

	// The queue is still alive.
	require.NoError(t, q.Submit(scheduler.Task{Family: scheduler.Clear, Scope: scheduler.Full}).Wait(ctx))
	assert.Zero(t, m.ModificationCount())
}

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

package vfs_test

import (
	"errors"
	"io/fs"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bufbuild/macroexpand/macro"
	"github.com/bufbuild/macroexpand/vfs"
)

func fixedClock() func() time.Time {
	now := time.Unix(1700000000, 0)
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

func kindOf(t *testing.T, err error) vfs.ErrorKind {
	t.Helper()
	var verr *vfs.Error
	require.ErrorAs(t, err, &verr)
	return verr.Kind
}

func TestExpansionPath(t *testing.T) {
	t.Parallel()

	hash := macro.HashOf("x")
	hex := hash.String()
	path := vfs.ExpansionPath("macros", "p1", "core", hash, 3)
	assert.Equal(t, "/macros/p1/core/"+hex[:2]+"/"+hex[2:4]+"/"+hex+"_3.rs", path)
}

func TestCreateAndRead(t *testing.T) {
	t.Parallel()

	tree := vfs.New("macros", vfs.WithClock(fixedClock()))
	require.NoError(t, tree.OpenProject("p"))

	require.NoError(t, tree.Mkdir("/macros/p/a"))
	require.NoError(t, tree.CreateFile("/macros/p/a/x.rs", vfs.Bytes([]byte("fn x() {}")), false))

	info, err := tree.Stat("/macros/p/a/x.rs")
	require.NoError(t, err)
	assert.Equal(t, int64(9), info.Size)
	assert.False(t, info.IsDir)

	data, err := tree.ReadFile("/macros/p/a/x.rs")
	require.NoError(t, err)
	assert.Equal(t, "fn x() {}", string(data))

	// Content is handed out once.
	_, err = tree.ReadFile("/macros/p/a/x.rs")
	assert.ErrorIs(t, err, vfs.ErrConsumed)

	// Metadata stays.
	info, err = tree.Stat("/macros/p/a/x.rs")
	require.NoError(t, err)
	assert.Equal(t, int64(9), info.Size)

	// Lazy content is produced by the first read, and only then.
	calls := 0
	require.NoError(t, tree.CreateFile("/macros/p/a/y.rs", vfs.Lazy(2, func() ([]byte, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("not yet")
		}
		return []byte("{}"), nil
	}), false))
	info, err = tree.Stat("/macros/p/a/y.rs")
	require.NoError(t, err)
	assert.Equal(t, int64(2), info.Size)
	assert.Zero(t, calls)

	_, err = tree.ReadFile("/macros/p/a/y.rs")
	require.EqualError(t, err, "not yet")
	data, err = tree.ReadFile("/macros/p/a/y.rs")
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
	_, err = tree.ReadFile("/macros/p/a/y.rs")
	require.ErrorIs(t, err, vfs.ErrConsumed)
	assert.Equal(t, 2, calls)

	entries, err := tree.ReadDir("/macros/p/a")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "x.rs", entries[0].Name)
	assert.Equal(t, "y.rs", entries[1].Name)
}

func TestErrors(t *testing.T) {
	t.Parallel()

	tree := vfs.New("macros")
	require.NoError(t, tree.OpenProject("p"))
	require.NoError(t, tree.Mkdir("/macros/p/d"))
	require.NoError(t, tree.CreateFile("/macros/p/f", vfs.Bytes(nil), false))

	err := tree.CreateFile("/macros/p/missing/f", vfs.Bytes(nil), false)
	assert.Equal(t, vfs.NotFound, kindOf(t, err))
	assert.ErrorIs(t, err, fs.ErrNotExist)

	err = tree.CreateFile("/macros/p/f/g", vfs.Bytes(nil), false)
	assert.Equal(t, vfs.NotADirectory, kindOf(t, err))

	err = tree.CreateFile("/macros/p/f", vfs.Bytes(nil), false)
	assert.Equal(t, vfs.AlreadyExists, kindOf(t, err))
	assert.ErrorIs(t, err, fs.ErrExist)
	assert.NoError(t, tree.CreateFile("/macros/p/f", vfs.Bytes(nil), true))

	err = tree.CreateFile("/macros/p/d", vfs.Bytes(nil), true)
	assert.Equal(t, vfs.IsADirectory, kindOf(t, err))

	_, err = tree.ReadFile("/macros/p/d")
	assert.Equal(t, vfs.IsADirectory, kindOf(t, err))

	_, err = tree.ReadDir("/macros/p/f")
	assert.Equal(t, vfs.NotADirectory, kindOf(t, err))

	for _, path := range []string{"/other/p", "/macros/p/../q", "/macros/p//f", "macros/p"} {
		_, err = tree.Stat(path)
		assert.Equal(t, vfs.IllegalPath, kindOf(t, err), path)
		assert.ErrorIs(t, err, fs.ErrInvalid)
	}

	_, err = tree.Stat("/macros/nope")
	assert.Equal(t, vfs.NotFound, kindOf(t, err))

	assert.Equal(t, vfs.NotFound, kindOf(t, tree.Delete("/macros/p/nope")))
	assert.NoError(t, tree.Delete("/macros/p/d"))
}

func TestCloseProject(t *testing.T) {
	t.Parallel()

	tree := vfs.New("macros")
	require.NoError(t, tree.OpenProject("p"))
	require.NoError(t, tree.CreateFile("/macros/p/f", vfs.Bytes([]byte("x")), false))

	require.NoError(t, tree.CloseProject("p"))
	assert.False(t, tree.IsOpen("p"))

	// The project directory still answers, but its children are gone.
	info, err := tree.Stat("/macros/p")
	require.NoError(t, err)
	assert.True(t, info.IsDir)
	assert.True(t, info.Tombstone)
	_, err = tree.Stat("/macros/p/f")
	assert.Equal(t, vfs.NotFound, kindOf(t, err))
	entries, err := tree.ReadDir("/macros/p")
	require.NoError(t, err)
	assert.Empty(t, entries)

	err = tree.CreateFile("/macros/p/g", vfs.Bytes(nil), false)
	assert.Equal(t, vfs.NotFound, kindOf(t, err))
	err = tree.Apply(vfs.Batch{Project: "p", Create: []vfs.File{{Path: "/macros/p/g"}}})
	assert.Equal(t, vfs.NotFound, kindOf(t, err))

	require.NoError(t, tree.OpenProject("p"))
	assert.True(t, tree.IsOpen("p"))
	files, err := tree.Files("p")
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.Equal(t, []string{"p"}, tree.Projects())

	assert.Equal(t, vfs.NotFound, kindOf(t, tree.CloseProject("q")))
	assert.Equal(t, vfs.IllegalPath, kindOf(t, tree.OpenProject("a/b")))
}

func TestApply(t *testing.T) {
	t.Parallel()

	tree := vfs.New("macros")
	require.NoError(t, tree.OpenProject("p"))

	var mu sync.Mutex
	var batches [][]vfs.Event
	cancel := tree.Subscribe(func(events []vfs.Event) {
		mu.Lock()
		defer mu.Unlock()
		batches = append(batches, events)
	})
	defer cancel()

	a := vfs.ExpansionPath("macros", "p", "c", macro.HashOf("a"), 0)
	b := vfs.ExpansionPath("macros", "p", "c", macro.HashOf("b"), 0)
	require.NoError(t, tree.Apply(vfs.Batch{
		Project: "p",
		Create: []vfs.File{
			{Path: a, Content: vfs.Bytes([]byte("a"))},
			{Path: b, Content: vfs.Bytes([]byte("b"))},
		},
	}))

	files, err := tree.Files("p")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a, b}, files)

	// A bad batch changes nothing.
	err = tree.Apply(vfs.Batch{
		Project: "p",
		Delete:  []string{a},
		Create:  []vfs.File{{Path: b}},
	})
	assert.Equal(t, vfs.AlreadyExists, kindOf(t, err))
	err = tree.Apply(vfs.Batch{Project: "p", Delete: []string{a, a + "x"}})
	assert.Equal(t, vfs.NotFound, kindOf(t, err))
	err = tree.Apply(vfs.Batch{Project: "p", Create: []vfs.File{{Path: "/macros/q/x"}}})
	assert.Equal(t, vfs.IllegalPath, kindOf(t, err))
	files, err = tree.Files("p")
	require.NoError(t, err)
	assert.Len(t, files, 2)

	// Deleting the last file in a directory prunes it.
	require.NoError(t, tree.Apply(vfs.Batch{Project: "p", Delete: []string{a, b}}))
	entries, err := tree.ReadDir("/macros/p")
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Replacing a file in one batch is allowed.
	require.NoError(t, tree.Apply(vfs.Batch{Project: "p", Create: []vfs.File{{Path: a}}}))
	require.NoError(t, tree.Apply(vfs.Batch{
		Project: "p",
		Delete:  []string{a},
		Create:  []vfs.File{{Path: a, Content: vfs.Bytes([]byte("new"))}},
	}))
	data, err := tree.ReadFile(a)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, batches, 4)
	assert.Len(t, batches[0], 2)
	assert.Equal(t, []vfs.Event{{Op: vfs.Deleted, Path: a}, {Op: vfs.Deleted, Path: b}}, batches[1])
	assert.Equal(t, []vfs.Event{{Op: vfs.Deleted, Path: a}, {Op: vfs.Created, Path: a}}, batches[3])
}

func TestUnsubscribe(t *testing.T) {
	t.Parallel()

	tree := vfs.New("macros")
	require.NoError(t, tree.OpenProject("p"))
	calls := 0
	cancel := tree.Subscribe(func([]vfs.Event) { calls++ })
	require.NoError(t, tree.Mkdir("/macros/p/a"))
	cancel()
	require.NoError(t, tree.Mkdir("/macros/p/b"))
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, tree.Mkdir("/macros/p/b"), fs.ErrExist)
	assert.Equal(t, 1, calls)
}

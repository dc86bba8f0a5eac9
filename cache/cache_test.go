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

package cache_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/bufbuild/macroexpand/cache"
	"github.com/bufbuild/macroexpand/macro"
)

var (
	squares = macro.NewDefinition("squares", `($($x:expr),*) => { [$($x * $x),*] }`)
	call    = &macro.Call{Name: "squares", Body: "1, a + b, f(2)"}
)

func TestCachedExpandIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := macro.NewExpander()
	c := cache.New(new(cache.MemoryStore), e)

	direct, err := e.Expand(ctx, squares, call)
	require.NoError(t, err)
	first, err := c.CachedExpand(ctx, squares, call)
	require.NoError(t, err)
	second, err := c.CachedExpand(ctx, squares, call)
	require.NoError(t, err)

	assert.Empty(t, cmp.Diff(direct, first))
	assert.Empty(t, cmp.Diff(direct, second))
	assert.Equal(t, cache.Stats{Hits: 1, Misses: 1}, c.Stats())
}

func TestCachedExpandDefinitionChanged(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := new(cache.MemoryStore)
	c := cache.New(store, macro.NewExpander())
	call := &macro.Call{Name: "m", Body: "a+b"}
	before := macro.NewDefinition("m", `($a:expr) => { $a }`)
	after := macro.NewDefinition("m", `($a:expr) => { ($a) }`)

	old, err := c.CachedExpand(ctx, before, call)
	require.NoError(t, err)
	fresh, err := c.CachedExpand(ctx, after, call)
	require.NoError(t, err)

	assert.NotEqual(t, cache.Mix(before, call), cache.Mix(after, call))
	assert.NotEqual(t, old.Text, fresh.Text)
	assert.Equal(t, 2, store.Len())

	// The old entry survives, and is still what the old definition gets.
	again, err := c.CachedExpand(ctx, before, call)
	require.NoError(t, err)
	assert.Equal(t, old.Text, again.Text)
	assert.Equal(t, int64(1), c.Stats().Hits)
}

func TestCachedExpandInclude(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	var mu sync.Mutex
	files := map[string]string{
		"a/x.rs": "fn a() {}",
		"b/x.rs": "fn b() {}",
	}
	loader := macro.FileLoaderFunc(func(_ context.Context, from, path string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		text, ok := files[filepath.ToSlash(filepath.Join(filepath.Dir(from), path))]
		if !ok {
			return "", os.ErrNotExist
		}
		return text, nil
	})
	store := new(cache.MemoryStore)
	c := cache.New(store, macro.NewExpander(macro.WithFileLoader(loader)))
	include, ok := macro.Builtin("include")
	require.True(t, ok)

	expand := func(from string) string {
		t.Helper()
		exp, err := c.CachedExpand(ctx, include, &macro.Call{Name: "include", Body: `"x.rs"`, Path: from})
		require.NoError(t, err)
		return exp.Text
	}

	// Same call body, different including files.
	assert.Equal(t, "fn a() {}", expand("a/lib.rs"))
	assert.Equal(t, "fn b() {}", expand("b/lib.rs"))

	// The included file changes.
	mu.Lock()
	files["a/x.rs"] = "fn a2() {}"
	mu.Unlock()
	assert.Equal(t, "fn a2() {}", expand("a/lib.rs"))

	assert.Zero(t, store.Len())
}

func TestCachedExpandErrorsNotCached(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := new(cache.MemoryStore)
	c := cache.New(store, macro.NewExpander())
	def := macro.NewDefinition("m", `($i:ident) => { $i }`)

	_, err := c.CachedExpand(ctx, def, &macro.Call{Body: "1 + 2"})
	var me *macro.MatchError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, 0, store.Len())
	assert.False(t, c.Stats().Disabled)
}

type brokenStore struct {
	cache.MemoryStore
	mu   sync.Mutex
	gets int
}

var errBroken = errors.New("disk on fire")

func (s *brokenStore) Get(context.Context, macro.Hash) (*macro.Expansion, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	return nil, false, errBroken
}

func TestStoreFailureDisablesCache(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	core, logs := observer.New(zap.ErrorLevel)
	store := new(brokenStore)
	c := cache.New(store, macro.NewExpander(), cache.WithLogger(zap.New(core)))

	for range 3 {
		exp, err := c.CachedExpand(ctx, squares, call)
		require.NoError(t, err)
		assert.Equal(t, "[1 * 1,(a + b) * (a + b),(f(2)) * (f(2))]", exp.Text)
	}

	assert.True(t, c.Stats().Disabled)
	assert.Equal(t, 1, store.gets)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, errBroken.Error(), logs.All()[0].ContextMap()["error"])
}

func TestMixEnvironment(t *testing.T) {
	t.Parallel()

	env, _ := macro.Builtin("env")
	stringify, _ := macro.Builtin("stringify")
	a := &macro.Call{Body: `"X"`, Env: map[string]string{"X": "1"}}
	b := &macro.Call{Body: `"X"`, Env: map[string]string{"X": "2"}}

	assert.NotEqual(t, cache.Mix(env, a), cache.Mix(env, b))
	assert.Equal(t, cache.Mix(stringify, a), cache.Mix(stringify, b))
	assert.NotEqual(t, cache.Mix(env, a), cache.Mix(stringify, a))
}

func TestCachedExpandConcurrent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := cache.New(new(cache.MemoryStore), macro.NewExpander())

	var wg sync.WaitGroup
	results := make([]string, 16)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			exp, err := c.CachedExpand(ctx, squares, call)
			if assert.NoError(t, err) {
				results[i] = exp.Text
			}
		}()
	}
	wg.Wait()

	for _, text := range results {
		assert.Equal(t, results[0], text)
	}
	assert.Positive(t, c.Stats().Misses)
}

func TestShardStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	exp, err := macro.NewExpander().Expand(ctx, squares, call)
	require.NoError(t, err)
	key := cache.Mix(squares, call)

	store, err := cache.OpenShardStore(dir, 1)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, key, exp))
	require.NoError(t, store.Put(ctx, key, exp))
	require.NoError(t, store.Close())

	// Simulate a crash halfway through writing a record.
	path := filepath.Join(dir, "expansions-00.bin")
	intact, err := os.Stat(path)
	require.NoError(t, err)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	require.NoError(t, err)
	_, err = f.Write(append(bytes.Repeat([]byte{0xaa}, 16), 100, 1, 2, 3))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	store, err = cache.OpenShardStore(dir, 1)
	require.NoError(t, err)
	got, ok, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, cmp.Diff(exp, got))

	n, err := store.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, intact.Size(), after.Size())

	require.NoError(t, store.Reset(ctx))
	_, ok, err = store.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, store.Close())
}

func TestShardStoreVersionMismatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "expansions-00.bin")
	require.NoError(t, os.WriteFile(path, []byte("mxcache\x00\x63garbage"), 0o644))

	store, err := cache.OpenShardStore(dir, 1)
	require.NoError(t, err)
	defer store.Close()

	n, err := store.Len()
	require.NoError(t, err)
	assert.Zero(t, n)

	exp := &macro.Expansion{Text: "x"}
	key := macro.HashOf("k")
	require.NoError(t, store.Put(ctx, key, exp))
	got, ok, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "x", got.Text)
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := cache.OpenSQLiteStore(ctx, filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	defer store.Close()

	exp, err := macro.NewExpander().Expand(ctx, squares, call)
	require.NoError(t, err)
	key := cache.Mix(squares, call)

	_, ok, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Put(ctx, key, exp))
	require.NoError(t, store.Put(ctx, key, exp))
	got, ok, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, cmp.Diff(exp, got))

	require.NoError(t, store.Reset(ctx))
	_, ok, err = store.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

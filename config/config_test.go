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

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/bufbuild/macroexpand/cache"
)

func TestParse(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(`
cache:
  backend: sqlite
  dir: /tmp/mx
expansion:
  recursion_limit: 16
  expansion_limit: 1000
  parallelism: 2
workspace:
  include: ["src/**/*.rs"]
log:
  level: debug
`))
	require.NoError(t, err)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, BackendSQLite, cfg.Cache.Backend)
	assert.Equal(t, "/tmp/mx", cfg.Cache.Dir)
	assert.Equal(t, cache.DefaultShards, cfg.Cache.Shards)
	assert.Equal(t, 16, cfg.Expansion.RecursionLimit)
	assert.Equal(t, 1000, cfg.Expansion.ExpansionLimit)
	assert.Equal(t, 2, cfg.Expansion.Parallelism)
	assert.Equal(t, []string{"src/**/*.rs"}, cfg.Workspace.Include)
	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, level)

	cfg, err = Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	for _, text := range []string{
		"cache: {backend: redis}",
		"cache: {shards: 0}",
		"expansion: {recursion_limit: -1}",
		"expansion: {expansion_limit: 0}",
		"log: {level: loud}",
		"unknown: 1",
		"cache: [",
	} {
		_, err := Parse([]byte(text))
		assert.Error(t, err, text)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	env := map[string]string{EnvCache: "false", EnvCacheDir: "/elsewhere"}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, cfg.applyEnv(lookup))
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, "/elsewhere", cfg.Cache.Dir)

	env[EnvCache] = "maybe"
	assert.Error(t, Default().applyEnv(lookup))
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "macroexpand.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache: {backend: memory}\n"), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Cache.Backend)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestOpenStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := Default()
	cfg.Cache.Dir = t.TempDir()

	store, err := cfg.OpenStore(ctx)
	require.NoError(t, err)
	assert.IsType(t, (*cache.ShardStore)(nil), store)
	require.NoError(t, store.Close())

	cfg.Cache.Backend = BackendMemory
	store, err = cfg.OpenStore(ctx)
	require.NoError(t, err)
	assert.IsType(t, (*cache.MemoryStore)(nil), store)

	cfg.Cache.Enabled = false
	store, err = cfg.OpenStore(ctx)
	require.NoError(t, err)
	assert.Nil(t, store)
}

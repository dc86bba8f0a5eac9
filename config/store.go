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

	"github.com/bufbuild/macroexpand/cache"
)

// OpenStore opens the configured cache store. Returns nil, and no error, if
// caching is disabled.
func (c *Config) OpenStore(ctx context.Context) (cache.Store, error) {
	if !c.Cache.Enabled {
		return nil, nil //nolint:nilnil // A nil store is a disabled cache.
	}
	switch c.Cache.Backend {
	case BackendMemory:
		return new(cache.MemoryStore), nil
	case BackendSQLite:
		if err := os.MkdirAll(c.Cache.Dir, 0o755); err != nil {
			return nil, err
		}
		store, err := cache.OpenSQLiteStore(ctx, filepath.Join(c.Cache.Dir, "expansions.db"))
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		store, err := cache.OpenShardStore(c.Cache.Dir, c.Cache.Shards)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}

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

package cache

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/bufbuild/macroexpand/macro"
)

// Cache expands macro calls, remembering the results in a [Store].
//
// The store is an optimization only. If it ever fails, the failure is
// logged, the store is disabled for the rest of the session, and the cache
// carries on computing expansions without it.
type Cache struct {
	store    Store
	expander *macro.Expander
	logger   *zap.Logger

	group    singleflight.Group
	disabled atomic.Bool
	hits     atomic.Int64
	misses   atomic.Int64
}

// Option configures a [Cache].
type Option func(*Cache)

// WithLogger sets the logger storage failures are reported to.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New returns a cache backed by store, expanding through expander. A nil
// store produces a cache that is disabled from the start.
func New(store Store, expander *macro.Expander, opts ...Option) *Cache {
	c := &Cache{store: store, expander: expander, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	if store == nil {
		c.disabled.Store(true)
	}
	return c
}

// Stats is a snapshot of a cache's counters.
type Stats struct {
	Hits, Misses int64
	Disabled     bool
}

// Stats returns the cache's counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Disabled: c.disabled.Load(),
	}
}

// Expander returns the expander that computes expansions on a miss.
func (c *Cache) Expander() *macro.Expander {
	return c.expander
}

// CachedExpand expands call, consulting and updating the store.
//
// The only errors returned are those from expansion itself; storage
// failures never reach the caller. Macros that read other files, like
// include!, are always expanded afresh.
func (c *Cache) CachedExpand(ctx context.Context, def *macro.Definition, call *macro.Call) (*macro.Expansion, error) {
	if c.disabled.Load() || def.Kind.ReadsFiles() {
		return c.expander.Expand(ctx, def, call)
	}

	key := Mix(def, call)
	exp, ok, err := c.store.Get(ctx, key)
	switch {
	case err != nil && ctx.Err() != nil:
		return nil, ctx.Err()
	case err != nil:
		c.disable("get", err)
	case ok:
		c.hits.Add(1)
		return exp, nil
	}

	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		c.misses.Add(1)
		exp, err := c.expander.Expand(ctx, def, call)
		if err != nil {
			return nil, err
		}
		if !c.disabled.Load() {
			if err := c.store.Put(ctx, key, exp); err != nil && ctx.Err() == nil {
				c.disable("put", err)
			}
		}
		return exp, nil
	})
	if isCancellation(err) && ctx.Err() == nil {
		// Another caller's context was cancelled while we were waiting on
		// its result.
		return c.expander.Expand(ctx, def, call)
	}
	if err != nil {
		return nil, err
	}
	return v.(*macro.Expansion), nil //nolint:errcheck // Always an expansion.
}

// Invalidate drops every stored expansion.
func (c *Cache) Invalidate(ctx context.Context) {
	if c.disabled.Load() {
		return
	}
	if err := c.store.Reset(ctx); err != nil && ctx.Err() == nil {
		c.disable("reset", err)
	}
}

// Close closes the underlying store.
func (c *Cache) Close() error {
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}

func (c *Cache) disable(op string, err error) {
	if c.disabled.CompareAndSwap(false, true) {
		c.logger.Error("expansion cache failed; disabling it for this session",
			zap.String("op", op),
			zap.Error(err),
		)
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

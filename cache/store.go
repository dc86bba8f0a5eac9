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
	"sync"

	"github.com/bufbuild/macroexpand/macro"
)

// Store is a key-value map from mixed hashes to expansions.
//
// Entries are only ever added, never changed: a key determines its value.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get looks up an expansion. A missing entry is not an error.
	Get(ctx context.Context, key macro.Hash) (*macro.Expansion, bool, error)
	// Put records an expansion. Putting a key twice is allowed.
	Put(ctx context.Context, key macro.Hash, exp *macro.Expansion) error
	// Reset drops every entry.
	Reset(ctx context.Context) error
	Close() error
}

// MemoryStore is a [Store] that keeps everything in memory, for hosts that
// have no cache directory and for tests.
//
// A zero MemoryStore is ready to use.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[macro.Hash]*macro.Expansion
}

var _ Store = (*MemoryStore)(nil)

// Get implements [Store].
func (s *MemoryStore) Get(_ context.Context, key macro.Hash) (*macro.Expansion, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exp, ok := s.entries[key]
	return exp, ok, nil
}

// Put implements [Store].
func (s *MemoryStore) Put(_ context.Context, key macro.Hash, exp *macro.Expansion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries == nil {
		s.entries = make(map[macro.Hash]*macro.Expansion)
	}
	s.entries[key] = exp
	return nil
}

// Reset implements [Store].
func (s *MemoryStore) Reset(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.entries)
	return nil
}

// Close implements [Store].
func (s *MemoryStore) Close() error {
	return nil
}

// Len returns the number of entries in the store.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

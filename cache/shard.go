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
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/bufbuild/macroexpand/macro"
)

// DefaultShards is the number of shard files a [ShardStore] spreads its
// entries over, unless told otherwise.
const DefaultShards = 16

const shardMagic = "mxcache\x00"

// ShardStore is a [Store] persisted as a directory of append-only shard
// files.
//
// Each shard starts with a header holding [FormatVersion], followed by
// records of the form key, value length, value. A shard with a different
// version is discarded and started over. A record cut short by a crash is
// dropped along with everything after it.
type ShardStore struct {
	dir    string
	shards []*shard
}

var _ Store = (*ShardStore)(nil)

type shard struct {
	path string

	mu     sync.Mutex
	file   *os.File
	size   int64
	index  map[macro.Hash]span
	opened bool
	err    error // Sticky failure from opening the file.
}

// span is where a record's value lives in its shard file.
type span struct {
	offset int64
	len    int
}

// OpenShardStore opens the shard store in dir, creating dir if needed. Shard
// files are opened on first use.
func OpenShardStore(dir string, shards int) (*ShardStore, error) {
	if shards <= 0 {
		shards = DefaultShards
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: creating %s: %w", dir, err)
	}
	s := &ShardStore{dir: dir, shards: make([]*shard, shards)}
	for i := range s.shards {
		s.shards[i] = &shard{path: filepath.Join(dir, fmt.Sprintf("expansions-%02d.bin", i))}
	}
	return s, nil
}

// Dir returns the directory this store lives in.
func (s *ShardStore) Dir() string {
	return s.dir
}

func (s *ShardStore) shardFor(key macro.Hash) *shard {
	return s.shards[int(key[0])%len(s.shards)]
}

// Get implements [Store].
func (s *ShardStore) Get(ctx context.Context, key macro.Hash) (*macro.Expansion, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if err := sh.open(); err != nil {
		return nil, false, err
	}
	sp, ok := sh.index[key]
	if !ok {
		return nil, false, nil
	}
	buf := make([]byte, sp.len)
	if _, err := sh.file.ReadAt(buf, sp.offset); err != nil {
		return nil, false, fmt.Errorf("cache: reading %s: %w", sh.path, err)
	}
	exp, err := decodeExpansion(buf)
	if err != nil {
		return nil, false, fmt.Errorf("cache: reading %s: %w", sh.path, err)
	}
	return exp, true, nil
}

// Put implements [Store].
func (s *ShardStore) Put(ctx context.Context, key macro.Hash, exp *macro.Expansion) error {
	value, err := encodeExpansion(nil, exp)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if err := sh.open(); err != nil {
		return err
	}
	if _, ok := sh.index[key]; ok {
		return nil
	}

	record := make([]byte, 0, len(key)+protowire.SizeVarint(uint64(len(value)))+len(value))
	record = append(record, key[:]...)
	record = protowire.AppendVarint(record, uint64(len(value)))
	valueAt := sh.size + int64(len(record))
	record = append(record, value...)
	if _, err := sh.file.WriteAt(record, sh.size); err != nil {
		return fmt.Errorf("cache: writing %s: %w", sh.path, err)
	}
	sh.size += int64(len(record))
	sh.index[key] = span{offset: valueAt, len: len(value)}
	return nil
}

// Reset implements [Store].
func (s *ShardStore) Reset(ctx context.Context) error {
	for _, sh := range s.shards {
		if err := ctx.Err(); err != nil {
			return err
		}
		sh.mu.Lock()
		err := sh.open()
		if err == nil {
			err = sh.truncate()
		}
		sh.mu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// Close implements [Store].
func (s *ShardStore) Close() error {
	var errs []error
	for _, sh := range s.shards {
		sh.mu.Lock()
		if sh.file != nil {
			errs = append(errs, sh.file.Close())
			sh.file = nil
		}
		sh.opened = false
		sh.mu.Unlock()
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of entries in the store. Opens every shard.
func (s *ShardStore) Len() (int, error) {
	var n int
	for _, sh := range s.shards {
		sh.mu.Lock()
		err := sh.open()
		n += len(sh.index)
		sh.mu.Unlock()
		if err != nil {
			return 0, err
		}
	}
	return n, nil
}

// open loads the shard's index from disk, if that has not happened yet.
// Must be called with sh.mu held.
func (sh *shard) open() error {
	if sh.opened {
		return sh.err
	}
	sh.opened = true

	sh.file, sh.err = os.OpenFile(sh.path, os.O_RDWR|os.O_CREATE, 0o644)
	if sh.err != nil {
		sh.err = fmt.Errorf("cache: opening %s: %w", sh.path, sh.err)
		return sh.err
	}
	data, err := io.ReadAll(sh.file)
	if err != nil {
		sh.err = fmt.Errorf("cache: reading %s: %w", sh.path, err)
		return sh.err
	}

	sh.index = make(map[macro.Hash]span)
	header := shardHeader()
	if !bytes.HasPrefix(data, header) {
		// Either new, or written by another version.
		sh.err = sh.truncate()
		return sh.err
	}

	offset := len(header)
	for offset < len(data) {
		n, sp, key := parseRecord(data[offset:])
		if n < 0 {
			break
		}
		sp.offset += int64(offset)
		sh.index[key] = sp
		offset += n
	}
	sh.size = int64(offset)
	if offset < len(data) {
		// Torn tail from an interrupted write.
		if err := sh.file.Truncate(sh.size); err != nil {
			sh.err = fmt.Errorf("cache: truncating %s: %w", sh.path, err)
		}
	}
	return sh.err
}

// truncate empties the shard file, leaving only a header.
func (sh *shard) truncate() error {
	header := shardHeader()
	if err := sh.file.Truncate(0); err != nil {
		return fmt.Errorf("cache: truncating %s: %w", sh.path, err)
	}
	if _, err := sh.file.WriteAt(header, 0); err != nil {
		return fmt.Errorf("cache: writing %s: %w", sh.path, err)
	}
	sh.size = int64(len(header))
	clear(sh.index)
	return nil
}

func shardHeader() []byte {
	return protowire.AppendVarint([]byte(shardMagic), FormatVersion)
}

// parseRecord parses one record at the start of data. Returns n < 0 if
// data does not start with a complete record.
func parseRecord(data []byte) (n int, sp span, key macro.Hash) {
	if len(data) < len(key) {
		return -1, sp, key
	}
	copy(key[:], data)
	n = len(key)
	size, m := protowire.ConsumeVarint(data[n:])
	if m < 0 || size > uint64(len(data)-n-m) {
		return -1, sp, key
	}
	n += m
	sp = span{offset: int64(n), len: int(size)}
	return n + int(size), sp, key
}
